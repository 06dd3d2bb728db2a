package clinical

import (
	"time"

	"github.com/google/uuid"

	"github.com/ckdcare/ckd/internal/domain/patient"
)

type AlertKind string

const (
	KindCreatinineHigh    AlertKind = "CreatinineHigh"
	KindBloodPressureHigh AlertKind = "BloodPressureHigh"
	KindRapidWeightLoss   AlertKind = "RapidWeightLoss"
)

type AlertStatus string

const (
	StatusActive   AlertStatus = "active"
	StatusResolved AlertStatus = "resolved"
)

func ParseAlertStatus(s string) (AlertStatus, bool) {
	switch AlertStatus(s) {
	case StatusActive, StatusResolved:
		return AlertStatus(s), true
	}
	return "", false
}

// Consultation is append-only. Seq is assigned by the store and breaks ties
// between consultations sharing a ConsultedAt.
type Consultation struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Seq         int64     `db:"seq" json:"seq"`
	PatientID   uuid.UUID `db:"patient_id" json:"patient_id"`
	ConsultedAt time.Time `db:"consulted_at" json:"consulted_at"`
	Creatinine  float64   `db:"creatinine" json:"creatinine"`
	Systolic    float64   `db:"systolic" json:"systolic"`
	Diastolic   float64   `db:"diastolic" json:"diastolic"`
	Weight      float64   `db:"weight" json:"weight"`
	Notes       *string   `db:"notes" json:"notes,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Before reports whether c sorts ahead of other on the patient timeline.
func (c *Consultation) Before(other *Consultation) bool {
	if !c.ConsultedAt.Equal(other.ConsultedAt) {
		return c.ConsultedAt.Before(other.ConsultedAt)
	}
	return c.Seq < other.Seq
}

type Alert struct {
	ID             uuid.UUID   `db:"id" json:"id"`
	Seq            int64       `db:"seq" json:"seq"`
	PatientID      uuid.UUID   `db:"patient_id" json:"patient_id"`
	ConsultationID uuid.UUID   `db:"consultation_id" json:"consultation_id"`
	Kind           AlertKind   `db:"kind" json:"kind"`
	Message        string      `db:"message" json:"message"`
	TriggeredAt    time.Time   `db:"triggered_at" json:"triggered_at"`
	Status         AlertStatus `db:"status" json:"status"`
}

// AlertDescriptor is what a rule produces before anything is stored.
type AlertDescriptor struct {
	Kind    AlertKind
	Message string
	Status  AlertStatus
}

func (d AlertDescriptor) Alert(c *Consultation, at time.Time) *Alert {
	return &Alert{
		PatientID:      c.PatientID,
		ConsultationID: c.ID,
		Kind:           d.Kind,
		Message:        d.Message,
		TriggeredAt:    at,
		Status:         d.Status,
	}
}

// PatientRecord is one committed snapshot of a patient's timeline, newest first.
type PatientRecord struct {
	Patient       *patient.Patient `json:"patient"`
	Consultations []*Consultation  `json:"consultations"`
	Alerts        []*Alert         `json:"alerts"`
}
