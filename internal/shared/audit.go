package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditSnapshot is the typed state of an entity captured before or after a change.
// Each entity kind provides its own implementation.
type AuditSnapshot interface {
	AuditKind() string
}

// AuditEntry represents a record stored in audit_logs.
type AuditEntry struct {
	Code        string
	Action      string
	EntityType  string
	EntityID    string
	Description string
	Before      AuditSnapshot
	After       AuditSnapshot
	Actor       Actor
	At          time.Time
}

type taggedSnapshot struct {
	Kind string        `json:"kind"`
	Data AuditSnapshot `json:"data"`
}

// EncodeSnapshot serialises a snapshot with its kind tag. Nil snapshots encode to nil.
func EncodeSnapshot(s AuditSnapshot) ([]byte, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(taggedSnapshot{Kind: s.AuditKind(), Data: s})
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the entry.
func (l *AuditLogger) Record(ctx context.Context, entry AuditEntry) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	if entry.Action == "" || entry.EntityType == "" || entry.EntityID == "" {
		return errors.New("audit log requires action/entity_type/entity_id")
	}
	before, err := EncodeSnapshot(entry.Before)
	if err != nil {
		return err
	}
	after, err := EncodeSnapshot(entry.After)
	if err != nil {
		return err
	}
	var at any
	if !entry.At.IsZero() {
		at = entry.At
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO audit_logs (code, action, entity_type, entity_id, description, old_value, new_value, actor_id, ip, user_agent, occurred_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,COALESCE($11, NOW()))`,
		entry.Code, entry.Action, entry.EntityType, entry.EntityID, entry.Description, before, after,
		entry.Actor.ID, entry.Actor.IP, entry.Actor.UserAgent, at)
	return err
}
