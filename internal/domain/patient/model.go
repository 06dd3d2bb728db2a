package patient

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("patient not found")
	ErrInvalid  = errors.New("invalid patient")
)

const birthDateLayout = "2006-01-02"

type Patient struct {
	ID             uuid.UUID `db:"id" json:"id"`
	FirstName      string    `db:"first_name" json:"first_name"`
	LastName       string    `db:"last_name" json:"last_name"`
	BirthDate      time.Time `db:"birth_date" json:"birth_date"`
	MedicalHistory *string   `db:"medical_history" json:"medical_history,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// RegisterInput is the registration payload. birth_date is a calendar date
// (YYYY-MM-DD); a full RFC3339 timestamp is accepted and truncated.
type RegisterInput struct {
	FirstName      string  `json:"first_name"`
	LastName       string  `json:"last_name"`
	BirthDate      string  `json:"birth_date"`
	MedicalHistory *string `json:"medical_history"`
}

func (in RegisterInput) Patient(now time.Time) (*Patient, error) {
	first := strings.TrimSpace(in.FirstName)
	last := strings.TrimSpace(in.LastName)
	if first == "" || last == "" {
		return nil, fmt.Errorf("%w: first_name and last_name are required", ErrInvalid)
	}
	if in.BirthDate == "" {
		return nil, fmt.Errorf("%w: birth_date is required", ErrInvalid)
	}
	born, err := parseBirthDate(in.BirthDate)
	if err != nil {
		return nil, fmt.Errorf("%w: birth_date must be YYYY-MM-DD", ErrInvalid)
	}
	if born.After(now) {
		return nil, fmt.Errorf("%w: birth_date is in the future", ErrInvalid)
	}
	return &Patient{
		FirstName:      first,
		LastName:       last,
		BirthDate:      born,
		MedicalHistory: in.MedicalHistory,
	}, nil
}

func parseBirthDate(s string) (time.Time, error) {
	if t, err := time.Parse(birthDateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
}
