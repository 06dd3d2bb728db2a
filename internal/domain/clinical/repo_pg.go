package clinical

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ckdcare/ckd/internal/platform/db"
)

func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

// -- Consultation Repository --

type consultationRepoPG struct {
	pool *pgxpool.Pool
}

func NewConsultationRepo(pool *pgxpool.Pool) ConsultationRepository {
	return &consultationRepoPG{pool: pool}
}

func (r *consultationRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const consultationCols = `id, seq, patient_id, consulted_at, creatinine, systolic, diastolic, weight, notes, created_at`

func (r *consultationRepoPG) Create(ctx context.Context, c *Consultation) error {
	c.ID = uuid.New()
	return db.RunInTx(ctx, r.pool, pgx.TxOptions{}, func(ctx context.Context) error {
		err := r.conn(ctx).QueryRow(ctx, `
			INSERT INTO consultation (id, patient_id, consulted_at, creatinine, systolic, diastolic, weight, notes)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING seq, created_at`,
			c.ID, c.PatientID, c.ConsultedAt, c.Creatinine, c.Systolic, c.Diastolic, c.Weight, c.Notes,
		).Scan(&c.Seq, &c.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert consultation: %w", err)
		}
		return nil
	})
}

func (r *consultationRepoPG) ListBefore(ctx context.Context, patientID uuid.UUID, current *Consultation, limit int) ([]*Consultation, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+consultationCols+` FROM consultation
		WHERE patient_id = $1 AND (consulted_at, seq) < ($2, $3)
		ORDER BY consulted_at DESC, seq DESC
		LIMIT $4`,
		patientID, current.ConsultedAt, current.Seq, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("list prior consultations: %w", err)
	}
	return collectConsultations(rows)
}

func (r *consultationRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Consultation, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM consultation WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count consultations: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+consultationCols+` FROM consultation
		WHERE patient_id = $1
		ORDER BY consulted_at DESC, seq DESC
		LIMIT $2 OFFSET $3`,
		patientID, limitArg(limit), offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list consultations: %w", err)
	}
	list, err := collectConsultations(rows)
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

func collectConsultations(rows pgx.Rows) ([]*Consultation, error) {
	defer rows.Close()
	var out []*Consultation
	for rows.Next() {
		var c Consultation
		if err := rows.Scan(&c.ID, &c.Seq, &c.PatientID, &c.ConsultedAt,
			&c.Creatinine, &c.Systolic, &c.Diastolic, &c.Weight, &c.Notes, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// -- Alert Repository --

type alertRepoPG struct {
	pool *pgxpool.Pool
}

func NewAlertRepo(pool *pgxpool.Pool) AlertRepository {
	return &alertRepoPG{pool: pool}
}

func (r *alertRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const alertCols = `id, seq, patient_id, consultation_id, kind, message, triggered_at, status`

func (r *alertRepoPG) Create(ctx context.Context, a *Alert) (*Alert, error) {
	stored, err := scanAlert(r.conn(ctx).QueryRow(ctx, `
		INSERT INTO alert (id, patient_id, consultation_id, kind, message, triggered_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT ON CONSTRAINT alert_consultation_kind_key DO NOTHING
		RETURNING `+alertCols,
		uuid.New(), a.PatientID, a.ConsultationID, a.Kind, a.Message, a.TriggeredAt, a.Status))
	if err == nil {
		return stored, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("insert alert: %w", err)
	}

	// Conflict: an earlier attempt already stored this alert.
	stored, err = scanAlert(r.conn(ctx).QueryRow(ctx,
		`SELECT `+alertCols+` FROM alert WHERE consultation_id = $1 AND kind = $2`,
		a.ConsultationID, a.Kind))
	if err != nil {
		return nil, fmt.Errorf("load existing alert: %w", err)
	}
	return stored, nil
}

func (r *alertRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, status AlertStatus, limit, offset int) ([]*Alert, int, error) {
	var statusArg any
	if status != "" {
		statusArg = string(status)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM alert WHERE patient_id = $1 AND ($2::text IS NULL OR status = $2::text)`,
		patientID, statusArg).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count alerts: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+alertCols+` FROM alert
		WHERE patient_id = $1 AND ($2::text IS NULL OR status = $2::text)
		ORDER BY triggered_at DESC, seq DESC
		LIMIT $3 OFFSET $4`,
		patientID, statusArg, limitArg(limit), offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var out []*Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

func scanAlert(row pgx.Row) (*Alert, error) {
	var a Alert
	if err := row.Scan(&a.ID, &a.Seq, &a.PatientID, &a.ConsultationID, &a.Kind, &a.Message, &a.TriggeredAt, &a.Status); err != nil {
		return nil, err
	}
	return &a, nil
}
