package clinical

import (
	"fmt"
	"strconv"
)

// Thresholds are the alerting cut-offs. Comparisons against them are strict.
type Thresholds struct {
	CreatinineHighMgDL float64
	SystolicHighMmHg   float64
	DiastolicHighMmHg  float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{CreatinineHighMgDL: 1.2, SystolicHighMmHg: 140, DiastolicHighMmHg: 90}
}

// Rule is one independent alert predicate. trend holds prior consultations,
// newest first; it is nil for rules that do not need history.
type Rule interface {
	Kind() AlertKind
	NeedsTrend() bool
	Evaluate(c *Consultation, trend []*Consultation) (AlertDescriptor, bool)
}

// RuleSet is evaluated in declaration order.
type RuleSet []Rule

func NewRuleSet(t Thresholds) RuleSet {
	return RuleSet{
		creatinineHigh{limit: t.CreatinineHighMgDL},
		bloodPressureHigh{systolic: t.SystolicHighMmHg, diastolic: t.DiastolicHighMmHg},
		rapidWeightLoss{},
	}
}

func (rs RuleSet) NeedsTrend() bool {
	for _, r := range rs {
		if r.NeedsTrend() {
			return true
		}
	}
	return false
}

// num prints the stored value exactly, without trailing zeros.
func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

type creatinineHigh struct {
	limit float64
}

func (creatinineHigh) Kind() AlertKind  { return KindCreatinineHigh }
func (creatinineHigh) NeedsTrend() bool { return false }

func (r creatinineHigh) Evaluate(c *Consultation, _ []*Consultation) (AlertDescriptor, bool) {
	if !(c.Creatinine > r.limit) {
		return AlertDescriptor{}, false
	}
	return AlertDescriptor{
		Kind:    KindCreatinineHigh,
		Message: fmt.Sprintf("Creatinine %s mg/dL exceeds threshold of %s mg/dL", num(c.Creatinine), num(r.limit)),
		Status:  StatusActive,
	}, true
}

type bloodPressureHigh struct {
	systolic  float64
	diastolic float64
}

func (bloodPressureHigh) Kind() AlertKind  { return KindBloodPressureHigh }
func (bloodPressureHigh) NeedsTrend() bool { return false }

func (r bloodPressureHigh) Evaluate(c *Consultation, _ []*Consultation) (AlertDescriptor, bool) {
	if !(c.Systolic > r.systolic || c.Diastolic > r.diastolic) {
		return AlertDescriptor{}, false
	}
	return AlertDescriptor{
		Kind: KindBloodPressureHigh,
		Message: fmt.Sprintf("Blood pressure %s/%s mmHg exceeds threshold of %s/%s mmHg",
			num(c.Systolic), num(c.Diastolic), num(r.systolic), num(r.diastolic)),
		Status: StatusActive,
	}, true
}

// rapidWeightLoss compares weight against the preceding consultation.
// TODO: give it a drop fraction and time window once the nephrology team
// signs off on values; until then it never fires.
type rapidWeightLoss struct{}

func (rapidWeightLoss) Kind() AlertKind  { return KindRapidWeightLoss }
func (rapidWeightLoss) NeedsTrend() bool { return true }

func (rapidWeightLoss) Evaluate(*Consultation, []*Consultation) (AlertDescriptor, bool) {
	return AlertDescriptor{}, false
}
