package clinical

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ckdcare/ckd/internal/domain/patient"
)

type PatientReader interface {
	Get(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}

// SnapshotRunner runs fn so that every read inside it sees one committed
// state. The Postgres wiring is db.RunInTx with db.ReadSnapshot.
type SnapshotRunner func(ctx context.Context, fn func(ctx context.Context) error) error

// RecordService serves committed patient history to readers and the report
// collaborator.
type RecordService struct {
	patients      PatientReader
	consultations ConsultationRepository
	alerts        AlertRepository
	snapshot      SnapshotRunner
	now           func() time.Time
}

func NewRecordService(patients PatientReader, consultations ConsultationRepository, alerts AlertRepository, snapshot SnapshotRunner) *RecordService {
	if snapshot == nil {
		snapshot = func(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }
	}
	return &RecordService{
		patients:      patients,
		consultations: consultations,
		alerts:        alerts,
		snapshot:      snapshot,
		now:           time.Now,
	}
}

// PatientRecord returns the patient with all consultations and alerts, newest
// first. Unknown patients yield patient.ErrNotFound.
func (s *RecordService) PatientRecord(ctx context.Context, id uuid.UUID) (*PatientRecord, error) {
	rec := &PatientRecord{}
	err := s.snapshot(ctx, func(ctx context.Context) error {
		p, err := s.patients.Get(ctx, id)
		if err != nil {
			return err
		}
		rec.Patient = p

		if rec.Consultations, _, err = s.consultations.ListByPatient(ctx, id, 0, 0); err != nil {
			return err
		}
		rec.Alerts, _, err = s.alerts.ListByPatient(ctx, id, "", 0, 0)
		return err
	})
	if err != nil {
		return nil, readError(err)
	}
	if rec.Consultations == nil {
		rec.Consultations = []*Consultation{}
	}
	if rec.Alerts == nil {
		rec.Alerts = []*Alert{}
	}
	return rec, nil
}

// Report is the payload handed to document generation.
type Report struct {
	GeneratedAt  time.Time `json:"generated_at"`
	ActiveAlerts int       `json:"active_alerts"`
	*PatientRecord
}

func (s *RecordService) Report(ctx context.Context, id uuid.UUID) (*Report, error) {
	rec, err := s.PatientRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	r := &Report{GeneratedAt: s.now().UTC(), PatientRecord: rec}
	for _, a := range rec.Alerts {
		if a.Status == StatusActive {
			r.ActiveAlerts++
		}
	}
	return r, nil
}

func (s *RecordService) Consultations(ctx context.Context, id uuid.UUID, limit, offset int) ([]*Consultation, int, error) {
	if err := s.requirePatient(ctx, id); err != nil {
		return nil, 0, err
	}
	list, total, err := s.consultations.ListByPatient(ctx, id, limit, offset)
	if err != nil {
		return nil, 0, readError(err)
	}
	return list, total, nil
}

func (s *RecordService) Alerts(ctx context.Context, id uuid.UUID, status AlertStatus, limit, offset int) ([]*Alert, int, error) {
	if err := s.requirePatient(ctx, id); err != nil {
		return nil, 0, err
	}
	list, total, err := s.alerts.ListByPatient(ctx, id, status, limit, offset)
	if err != nil {
		return nil, 0, readError(err)
	}
	return list, total, nil
}

func (s *RecordService) requirePatient(ctx context.Context, id uuid.UUID) error {
	ok, err := s.patients.Exists(ctx, id)
	if err != nil {
		return readError(err)
	}
	if !ok {
		return patient.ErrNotFound
	}
	return nil
}

func readError(err error) error {
	if errors.Is(err, patient.ErrNotFound) {
		return err
	}
	return &StoreError{Op: OpRecordRead, Err: err}
}
