package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"kycgate/internal/verification/models"
)

// Schema creates the verification table. Safe to run repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS kyc_verifications (
	id              UUID PRIMARY KEY,
	tenant_id       TEXT NOT NULL,
	test_mode       BOOLEAN NOT NULL,
	token_type      TEXT NOT NULL DEFAULT '',
	scope           TEXT NOT NULL DEFAULT '',
	expires_in      BIGINT NOT NULL DEFAULT 0,
	transaction_id  TEXT NOT NULL DEFAULT '',
	profile_fields  TEXT[] NOT NULL DEFAULT '{}',
	profile         JSONB NOT NULL,
	request_id      TEXT NOT NULL DEFAULT '',
	verified_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS kyc_verifications_tenant_idx ON kyc_verifications (tenant_id, verified_at);
`

// PostgresStore persists verification records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the verification table if missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("create verification schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, record models.Record) error {
	id, err := uuid.Parse(record.ID)
	if err != nil {
		return fmt.Errorf("parse record id: %w", err)
	}
	profile, err := json.Marshal(record.Profile)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	fields := record.ProfileFields
	if fields == nil {
		fields = []string{}
	}

	query := `
		INSERT INTO kyc_verifications (
			id, tenant_id, test_mode, token_type, scope, expires_in,
			transaction_id, profile_fields, profile, request_id, verified_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			token_type = EXCLUDED.token_type,
			scope = EXCLUDED.scope,
			expires_in = EXCLUDED.expires_in,
			transaction_id = EXCLUDED.transaction_id,
			profile_fields = EXCLUDED.profile_fields,
			profile = EXCLUDED.profile,
			verified_at = EXCLUDED.verified_at
	`
	_, err = s.db.ExecContext(ctx, query,
		id,
		record.TenantID,
		record.TestMode,
		record.TokenType,
		record.Scope,
		record.ExpiresIn,
		record.TransactionID,
		pq.Array(fields),
		profile,
		record.RequestID,
		record.VerifiedAt,
	)
	if err != nil {
		return fmt.Errorf("insert verification: %w", err)
	}
	return nil
}

const selectColumns = `
	SELECT id, tenant_id, test_mode, token_type, scope, expires_in,
		   transaction_id, profile_fields, profile, request_id, verified_at
	FROM kyc_verifications
`

func (s *PostgresStore) ListByTenant(ctx context.Context, tenantID string) ([]models.Record, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` WHERE tenant_id = $1 ORDER BY verified_at ASC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("query verifications: %w", err)
	}
	defer rows.Close()

	var out []models.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate verifications: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*models.Record, error) {
	var (
		r       models.Record
		id      uuid.UUID
		profile []byte
	)
	if err := row.Scan(&id, &r.TenantID, &r.TestMode, &r.TokenType, &r.Scope, &r.ExpiresIn,
		&r.TransactionID, pq.Array(&r.ProfileFields), &profile, &r.RequestID, &r.VerifiedAt); err != nil {
		return nil, fmt.Errorf("scan verification: %w", err)
	}
	r.ID = id.String()
	if err := json.Unmarshal(profile, &r.Profile); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &r, nil
}
