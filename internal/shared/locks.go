package shared

import "fmt"

// PaymentVerifyLockKey builds the redis key serialising gateway verification
// of one transaction reference across instances.
func PaymentVerifyLockKey(reference string) string {
	return fmt.Sprintf("payments:verify:%s", reference)
}
