package clinical

import (
	"context"

	"github.com/google/uuid"
)

// A limit <= 0 on list methods means no limit.
type ConsultationRepository interface {
	// Create assigns ID, Seq and CreatedAt.
	Create(ctx context.Context, c *Consultation) error
	ListBefore(ctx context.Context, patientID uuid.UUID, current *Consultation, limit int) ([]*Consultation, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Consultation, int, error)
}

type AlertRepository interface {
	// Create is idempotent on (consultation_id, kind): a second insert returns
	// the row already stored.
	Create(ctx context.Context, a *Alert) (*Alert, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, status AlertStatus, limit, offset int) ([]*Alert, int, error)
}
