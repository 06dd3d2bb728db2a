package clinical

import (
	"context"

	"github.com/google/uuid"
)

// TrendProvider loads the consultations that precede current on the patient
// timeline, newest first. current itself is never included.
type TrendProvider interface {
	Load(ctx context.Context, patientID uuid.UUID, current *Consultation) ([]*Consultation, error)
}

// HistoryTrendProvider reads prior consultations from the store at read
// committed. Consultations committed concurrently may be missing.
type HistoryTrendProvider struct {
	repo  ConsultationRepository
	limit int
}

func NewHistoryTrendProvider(repo ConsultationRepository, limit int) *HistoryTrendProvider {
	if limit < 1 {
		limit = 1
	}
	return &HistoryTrendProvider{repo: repo, limit: limit}
}

func (p *HistoryTrendProvider) Load(ctx context.Context, patientID uuid.UUID, current *Consultation) ([]*Consultation, error) {
	return p.repo.ListBefore(ctx, patientID, current, p.limit)
}
