package shared

import "errors"

var (
	// ErrValidation indicates malformed input rejected before any mutation.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a request that contradicts current state.
	ErrConflict = errors.New("conflict")
	// ErrUnauthorized indicates the acting user could not be resolved.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrPersistence indicates a storage constraint rejected the write.
	ErrPersistence = errors.New("persistence failure")
)

// UserSafeMessage returns the error text that may be shown to API clients.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrPersistence):
		return err.Error()
	default:
		return "internal error"
	}
}
