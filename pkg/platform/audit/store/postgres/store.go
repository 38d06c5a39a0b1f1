package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	audit "kycgate/pkg/platform/audit"
)

// Schema creates the audit_events table. Safe to run repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id          UUID PRIMARY KEY,
	category    TEXT NOT NULL,
	action      TEXT NOT NULL,
	severity    TEXT NOT NULL,
	timestamp   TIMESTAMPTZ NOT NULL,
	tenant_id   TEXT NOT NULL DEFAULT '',
	stage       TEXT NOT NULL DEFAULT '',
	reason      TEXT NOT NULL DEFAULT '',
	request_id  TEXT NOT NULL DEFAULT '',
	client_ip   TEXT NOT NULL DEFAULT '',
	user_agent  TEXT NOT NULL DEFAULT '',
	attributes  JSONB NOT NULL DEFAULT '{}'::jsonb
);
CREATE INDEX IF NOT EXISTS audit_events_tenant_idx ON audit_events (tenant_id, timestamp);
`

// Store implements audit.Store on PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the audit table if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("create audit schema: %w", err)
	}
	return nil
}

// Append inserts an audit event. Duplicate IDs are ignored so redelivery is
// idempotent.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	eventID, err := uuid.Parse(event.ID)
	if err != nil {
		eventID = uuid.New()
	}
	attrs := event.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	attrBytes, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("marshal audit attributes: %w", err)
	}

	query := `
		INSERT INTO audit_events (
			id, category, action, severity, timestamp, tenant_id,
			stage, reason, request_id, client_ip, user_agent, attributes
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = s.db.ExecContext(ctx, query,
		eventID,
		string(event.Category),
		event.Action,
		string(event.Severity),
		event.Timestamp,
		event.TenantID,
		event.Stage,
		event.Reason,
		event.RequestID,
		event.ClientIP,
		event.UserAgent,
		attrBytes,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListByTenant returns events for tenantID, oldest first.
func (s *Store) ListByTenant(ctx context.Context, tenantID string) ([]audit.Event, error) {
	query := `
		SELECT id, category, action, severity, timestamp, tenant_id,
			   stage, reason, request_id, client_ip, user_agent, attributes
		FROM audit_events
		WHERE tenant_id = $1
		ORDER BY timestamp ASC
	`
	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			e         audit.Event
			id        uuid.UUID
			category  string
			severity  string
			attrBytes []byte
		)
		if err := rows.Scan(&id, &category, &e.Action, &severity, &e.Timestamp, &e.TenantID,
			&e.Stage, &e.Reason, &e.RequestID, &e.ClientIP, &e.UserAgent, &attrBytes); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.ID = id.String()
		e.Category = audit.EventCategory(category)
		e.Severity = audit.Severity(severity)
		if len(attrBytes) > 0 {
			if err := json.Unmarshal(attrBytes, &e.Attributes); err != nil {
				return nil, fmt.Errorf("decode audit attributes: %w", err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
