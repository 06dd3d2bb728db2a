package clinical

import (
	"math"
)

// TrendContext is the history handed to the evaluator. Available is false when
// it could not be loaded, in which case trend rules are skipped, not run on an
// empty history.
type TrendContext struct {
	History   []*Consultation
	Available bool
}

type Evaluation struct {
	Alerts  []AlertDescriptor
	Skipped []AlertKind
}

// Evaluator applies a RuleSet to one consultation. It does no I/O.
type Evaluator struct {
	rules RuleSet
}

func NewEvaluator(rules RuleSet) *Evaluator {
	return &Evaluator{rules: rules}
}

func (e *Evaluator) Rules() RuleSet {
	return e.rules
}

func (e *Evaluator) Evaluate(c *Consultation, trend TrendContext) (Evaluation, error) {
	if err := checkFinite(c); err != nil {
		return Evaluation{}, err
	}

	var ev Evaluation
	for _, rule := range e.rules {
		var history []*Consultation
		if rule.NeedsTrend() {
			if !trend.Available {
				ev.Skipped = append(ev.Skipped, rule.Kind())
				continue
			}
			history = trend.History
		}
		if d, ok := rule.Evaluate(c, history); ok {
			ev.Alerts = append(ev.Alerts, d)
		}
	}
	return ev, nil
}

func checkFinite(c *Consultation) error {
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"creatinine", c.Creatinine},
		{"systolic", c.Systolic},
		{"diastolic", c.Diastolic},
		{"weight", c.Weight},
	} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return &ValidationError{Field: f.name, Reason: "must be a finite number", Err: ErrMalformedMeasurement}
		}
	}
	return nil
}
