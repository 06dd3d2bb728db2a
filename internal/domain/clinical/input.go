package clinical

import (
	"bytes"
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Measurement holds a raw JSON value so that both 1.5 and "1.5" are accepted
// and a missing field can be told apart from zero.
type Measurement struct {
	raw json.RawMessage
}

func (m *Measurement) UnmarshalJSON(b []byte) error {
	m.raw = append(m.raw[:0], b...)
	return nil
}

// decimal is the only accepted number syntax; strconv alone would also take
// hex floats and underscore separators.
var decimal = regexp.MustCompile(`^[+-]?([0-9]+(\.[0-9]*)?|\.[0-9]+)([eE][+-]?[0-9]+)?$`)

// Number builds a Measurement from a float, for callers outside JSON.
func Number(v float64) *Measurement {
	return &Measurement{raw: json.RawMessage(strconv.FormatFloat(v, 'g', -1, 64))}
}

func (m *Measurement) present() bool {
	return m != nil && len(m.raw) > 0 && !bytes.Equal(m.raw, []byte("null"))
}

func (m *Measurement) float() (float64, bool) {
	text := string(m.raw)
	if strings.HasPrefix(text, `"`) {
		unquoted, err := strconv.Unquote(text)
		if err != nil {
			return 0, false
		}
		text = strings.TrimSpace(unquoted)
	}
	if !decimal.MatchString(text) {
		return 0, false
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// ConsultationInput is the inbound ingestion payload. consulted_at and
// timestamp are synonyms; consulted_at wins when both are set.
type ConsultationInput struct {
	Creatinine  *Measurement `json:"creatinine"`
	Systolic    *Measurement `json:"systolic"`
	Diastolic   *Measurement `json:"diastolic"`
	Weight      *Measurement `json:"weight"`
	Notes       *string      `json:"notes"`
	ConsultedAt string       `json:"consulted_at"`
	Timestamp   string       `json:"timestamp"`
}

// Validate turns the payload into an unsaved Consultation. A missing
// timestamp defaults to now.
func (in ConsultationInput) Validate(now time.Time) (*Consultation, error) {
	c := &Consultation{Notes: in.Notes}

	fields := []struct {
		name string
		m    *Measurement
		dst  *float64
	}{
		{"creatinine", in.Creatinine, &c.Creatinine},
		{"systolic", in.Systolic, &c.Systolic},
		{"diastolic", in.Diastolic, &c.Diastolic},
		{"weight", in.Weight, &c.Weight},
	}
	for _, f := range fields {
		if !f.m.present() {
			return nil, &ValidationError{Field: f.name, Reason: "is required"}
		}
		v, ok := f.m.float()
		if !ok {
			return nil, &ValidationError{Field: f.name, Reason: "must be a finite number", Err: ErrMalformedMeasurement}
		}
		*f.dst = v
	}

	ts := in.ConsultedAt
	if ts == "" {
		ts = in.Timestamp
	}
	if ts == "" {
		c.ConsultedAt = now.UTC()
		return c, nil
	}
	at, err := parseTimestamp(ts)
	if err != nil {
		return nil, &ValidationError{Field: "consulted_at", Reason: "must be an RFC3339 timestamp or YYYY-MM-DD date"}
	}
	c.ConsultedAt = at.UTC()
	return c, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
