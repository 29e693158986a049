package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskExpireQR expires pending QR payments whose checkout window has passed.
	TaskExpireQR = "payments:expire_qr"
	// TaskDriftScan compares stored stock against the ledger and warehouse areas.
	TaskDriftScan = "inventory:drift_scan"
)

// SchedulePayload carries scheduling metadata shared by the periodic tasks.
type SchedulePayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewExpireQRTask constructs an Asynq task for QR payment expiry.
func NewExpireQRTask(at time.Time) (*asynq.Task, error) {
	return newScheduledTask(TaskExpireQR, at)
}

// NewDriftScanTask constructs an Asynq task for the stock drift scan.
func NewDriftScanTask(at time.Time) (*asynq.Task, error) {
	return newScheduledTask(TaskDriftScan, at)
}

func newScheduledTask(taskType string, at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(SchedulePayload{ScheduledFor: at.UTC()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

func decodeSchedule(t *asynq.Task) (SchedulePayload, error) {
	var payload SchedulePayload
	if len(t.Payload()) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return payload, err
	}
	return payload, nil
}
