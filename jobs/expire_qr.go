package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// StaleExpirer expires pending payments created before a cut-off.
type StaleExpirer interface {
	ExpireStale(ctx context.Context, now time.Time) (int, error)
}

// JobRecorder records job outcomes.
type JobRecorder interface {
	JobFinished(task string, err error)
}

// ExpireQRJob marks pending QR payments past their checkout window as expired
// and releases their hold on the order balance.
type ExpireQRJob struct {
	Payments StaleExpirer
	Logger   *slog.Logger
	Metrics  JobRecorder
	clock    func() time.Time
}

// NewExpireQRJob wires dependencies for the expiry handler.
func NewExpireQRJob(payments StaleExpirer, logger *slog.Logger, metrics JobRecorder) *ExpireQRJob {
	return &ExpireQRJob{
		Payments: payments,
		Logger:   logger,
		Metrics:  metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes TaskExpireQR tasks.
func (j *ExpireQRJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Payments == nil {
		return errors.New("expire qr: handler not configured")
	}
	if _, err := decodeSchedule(t); err != nil {
		return asynq.SkipRetry
	}
	defer func() {
		if j.Metrics != nil {
			j.Metrics.JobFinished(TaskExpireQR, err)
		}
	}()

	expired, err := j.Payments.ExpireStale(ctx, j.now())
	logger := j.logger().With(slog.String("job", TaskExpireQR))
	if err != nil {
		logger.Error("expire qr payments", slog.Int("expired", expired), slog.Any("error", err))
		return err
	}
	if expired > 0 {
		logger.Info("expired qr payments", slog.Int("expired", expired))
	}
	return nil
}

func (j *ExpireQRJob) now() time.Time {
	if j.clock == nil {
		return time.Now().UTC()
	}
	return j.clock()
}

func (j *ExpireQRJob) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}
