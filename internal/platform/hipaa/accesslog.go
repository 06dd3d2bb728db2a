package hipaa

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ckdcare/ckd/internal/platform/db"
	"github.com/ckdcare/ckd/internal/platform/middleware"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// AccessLogger persists patient record access to the clinic's
// phi_access_log table. It implements middleware.AuditRecorder.
type AccessLogger struct {
	db      execer
	timeout time.Duration
}

func NewAccessLogger(pool *pgxpool.Pool, timeout time.Duration) *AccessLogger {
	return &AccessLogger{db: pool, timeout: timeout}
}

const insertAccess = `
	INSERT INTO %s (
		id, user_id, user_roles, patient_id, resource, action,
		ip_address, method, path, request_id, status_code, accessed_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`

func (a *AccessLogger) RecordAccess(entry middleware.AuditEntry) error {
	schema, err := db.SchemaName(entry.TenantID)
	if err != nil {
		return fmt.Errorf("phi access log: %w", err)
	}

	// Collection endpoints such as GET /patients carry no patient id.
	var patientID *uuid.UUID
	if id, err := uuid.Parse(entry.PatientID); err == nil {
		patientID = &id
	}
	roles := entry.UserRoles
	if roles == nil {
		roles = []string{}
	}
	at := entry.Timestamp
	if at.IsZero() {
		at = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	table := pgx.Identifier{schema, "phi_access_log"}.Sanitize()
	_, err = a.db.Exec(ctx, fmt.Sprintf(insertAccess, table),
		uuid.New(), entry.UserID, roles, patientID, entry.Resource, entry.Action,
		entry.IPAddress, entry.Method, entry.Path, entry.RequestID, entry.StatusCode, at,
	)
	if err != nil {
		return fmt.Errorf("phi access log: %w", err)
	}
	return nil
}
