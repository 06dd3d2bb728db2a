package clinical

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrValidation           = errors.New("validation failed")
	ErrStoreUnavailable     = errors.New("store unavailable")
	ErrMalformedMeasurement = errors.New("malformed measurement")
)

// ValidationError rejects input before anything is written.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
func (e *ValidationError) Unwrap() error        { return e.Err }

type StoreOp string

const (
	OpPatientRead       StoreOp = "patient-read"
	OpConsultationWrite StoreOp = "consultation-write"
	OpTrendRead         StoreOp = "trend-read"
	OpAlertWrite        StoreOp = "alert-write"
	OpRecordRead        StoreOp = "record-read"
)

type StoreError struct {
	Op  StoreOp
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store unavailable (%s): %v", e.Op, e.Err)
}

func (e *StoreError) Is(target error) bool { return target == ErrStoreUnavailable }
func (e *StoreError) Unwrap() error        { return e.Err }

type WarningCode string

const (
	WarnTrendUnavailable WarningCode = "trend_unavailable"
	WarnAlertWriteFailed WarningCode = "alert_write_failed"
	WarnEvaluationFailed WarningCode = "evaluation_failed"
	WarnCancelled        WarningCode = "cancelled"
)

// Warning is a non-fatal ingestion problem. It serializes as a plain string.
type Warning struct {
	Code     WarningCode
	RuleKind AlertKind
	Detail   string
}

func (w Warning) String() string {
	if w.RuleKind != "" {
		return fmt.Sprintf("%s (%s): %s", w.Code, w.RuleKind, w.Detail)
	}
	return fmt.Sprintf("%s: %s", w.Code, w.Detail)
}

func (w Warning) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.String())
}
