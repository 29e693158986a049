package shared

import (
	"context"
	"log/slog"
)

// AuditRecorder is implemented by AuditLogger and test doubles.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry) error
}

// RecordAudit writes the entry and only logs a failure; the primary operation has already committed.
func RecordAudit(ctx context.Context, rec AuditRecorder, logger *slog.Logger, entry AuditEntry) {
	if rec == nil {
		return
	}
	if err := rec.Record(ctx, entry); err != nil && logger != nil {
		logger.Warn("audit record failed",
			slog.String("action", entry.Action),
			slog.String("entity_type", entry.EntityType),
			slog.String("entity_id", entry.EntityID),
			slog.Any("error", err))
	}
}
