// Package auditinfra persists authn.AuditEvent rows to PostgreSQL, giving
// the middleware's audit trail durable storage alongside the logx-based
// LogAuditRecorder.
package auditinfra

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Abraxas-365/manifesto/pkg/authn"
	"github.com/Abraxas-365/manifesto/pkg/errx"
	"github.com/jmoiron/sqlx"
)

type PostgresAuditRecorder struct {
	db *sqlx.DB
}

func NewPostgresAuditRecorder(db *sqlx.DB) *PostgresAuditRecorder {
	return &PostgresAuditRecorder{db: db}
}

type auditEventPersistence struct {
	ClientID   string    `db:"client_id"`
	UserID     *string   `db:"user_id"`
	Action     string    `db:"action"`
	Resource   string    `db:"resource"`
	IP         string    `db:"ip"`
	UserAgent  string    `db:"user_agent"`
	Success    bool      `db:"success"`
	Metadata   []byte    `db:"metadata"`
	OccurredAt time.Time `db:"occurred_at"`
}

func (r *PostgresAuditRecorder) Record(ctx context.Context, event authn.AuditEvent) error {
	var userID *string
	if event.ActorUser != nil {
		s := event.ActorUser.String()
		userID = &s
	}
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return errx.Wrap(err, "failed to marshal audit event metadata", errx.TypeInternal)
	}

	query := `
		INSERT INTO audit_events (client_id, user_id, action, resource, ip, user_agent, success, metadata, occurred_at)
		VALUES (:client_id, :user_id, :action, :resource, :ip, :user_agent, :success, :metadata, :occurred_at)`
	p := auditEventPersistence{
		ClientID: event.Actor.String(), UserID: userID, Action: event.Action, Resource: event.Resource,
		IP: event.IP, UserAgent: event.UserAgent, Success: event.Success, Metadata: metadata,
		OccurredAt: event.OccurredAt,
	}
	if _, err := r.db.NamedExecContext(ctx, query, p); err != nil {
		return errx.Wrap(err, "failed to record audit event", errx.TypeInternal)
	}
	return nil
}
