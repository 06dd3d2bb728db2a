package clinical

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ckdcare/ckd/internal/domain/patient"
	"github.com/ckdcare/ckd/internal/platform/db"
	"github.com/ckdcare/ckd/internal/platform/notification"
)

// PatientLookup is the authoritative existence check for ingestion.
type PatientLookup interface {
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}

type AlertNotifier interface {
	Publish(ctx context.Context, ev notification.AlertEvent) error
}

// IngestObserver receives pipeline measurements. telemetry.Metrics implements it.
type IngestObserver interface {
	ConsultationIngested(d time.Duration)
	AlertTriggered(kind string)
	AlertWriteFailed(kind string)
	IngestWarning(code string)
	NotifyFailed()
}

type IngestConfig struct {
	// StoreTimeout bounds every individual store call.
	StoreTimeout       time.Duration
	AlertWriteAttempts int
	// AlertWriteBackoff grows linearly: attempt n waits n*backoff.
	AlertWriteBackoff time.Duration
}

type IngestionDeps struct {
	Patients      PatientLookup
	Consultations ConsultationRepository
	Alerts        AlertRepository
	Trend         TrendProvider
	Evaluator     *Evaluator
	Notifier      AlertNotifier
	Observer      IngestObserver
	Logger        zerolog.Logger
}

type AlertWriteResult struct {
	Kind     AlertKind
	Alert    *Alert
	Attempts int
	Err      error
}

// IngestResult. AlertsTriggered holds only alerts that were stored.
type IngestResult struct {
	Consultation    *Consultation      `json:"consultation"`
	AlertsTriggered []*Alert           `json:"alerts_triggered"`
	Warnings        []Warning          `json:"warnings"`
	AlertWrites     []AlertWriteResult `json:"-"`
}

type IngestionService struct {
	patients      PatientLookup
	consultations ConsultationRepository
	alerts        AlertRepository
	trend         TrendProvider
	evaluator     *Evaluator
	notifier      AlertNotifier
	observer      IngestObserver
	logger        zerolog.Logger
	cfg           IngestConfig
	now           func() time.Time
}

func NewIngestionService(deps IngestionDeps, cfg IngestConfig) *IngestionService {
	if cfg.AlertWriteAttempts < 1 {
		cfg.AlertWriteAttempts = 1
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	s := &IngestionService{
		patients:      deps.Patients,
		consultations: deps.Consultations,
		alerts:        deps.Alerts,
		trend:         deps.Trend,
		evaluator:     deps.Evaluator,
		notifier:      deps.Notifier,
		observer:      deps.Observer,
		logger:        deps.Logger,
		cfg:           cfg,
		now:           time.Now,
	}
	if s.notifier == nil {
		s.notifier = notification.NopPublisher{}
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	return s
}

// Ingest records a consultation and the alerts it triggers.
//
// Only a failure before or while writing the consultation returns an error.
// Once the consultation is stored, trend, alert and cancellation problems
// come back as warnings on a non-nil result.
func (s *IngestionService) Ingest(ctx context.Context, patientID uuid.UUID, in ConsultationInput) (*IngestResult, error) {
	start := s.now()

	c, err := in.Validate(start)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var exists bool
	err = s.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		exists, err = s.patients.Exists(ctx, patientID)
		return err
	})
	if err != nil {
		return nil, &StoreError{Op: OpPatientRead, Err: err}
	}
	if !exists {
		return nil, unknownPatient(patientID)
	}

	c.PatientID = patientID
	if err := s.withTimeout(ctx, func(ctx context.Context) error {
		return s.consultations.Create(ctx, c)
	}); err != nil {
		// The patient was removed between the check and the insert.
		if db.IsForeignKeyViolation(err) {
			return nil, unknownPatient(patientID)
		}
		return nil, &StoreError{Op: OpConsultationWrite, Err: err}
	}

	log := s.logger.With().
		Str("patient_id", patientID.String()).
		Str("consultation_id", c.ID.String()).
		Logger()

	res := &IngestResult{
		Consultation:    c,
		AlertsTriggered: []*Alert{},
		Warnings:        []Warning{},
	}
	defer func() {
		s.observer.ConsultationIngested(s.now().Sub(start))
		for _, w := range res.Warnings {
			s.observer.IngestWarning(string(w.Code))
		}
	}()

	if s.stopped(ctx, res, "trend lookup and alert evaluation") {
		return res, nil
	}

	trend := s.loadTrend(ctx, c, res, log)

	ev, err := s.evaluator.Evaluate(c, trend)
	if err != nil {
		log.Error().Err(err).Msg("evaluation rejected stored consultation")
		res.Warnings = append(res.Warnings, Warning{Code: WarnEvaluationFailed, Detail: err.Error()})
		return res, nil
	}

	for i, d := range ev.Alerts {
		if s.stopped(ctx, res, pendingWrites(ev.Alerts[i:])) {
			break
		}
		w := s.persistAlert(ctx, c, d, log)
		res.AlertWrites = append(res.AlertWrites, w)
		if w.Err != nil {
			s.observer.AlertWriteFailed(string(w.Kind))
			res.Warnings = append(res.Warnings, Warning{
				Code:     WarnAlertWriteFailed,
				RuleKind: w.Kind,
				Detail:   fmt.Sprintf("not recorded after %d attempt(s): %v", w.Attempts, w.Err),
			})
			continue
		}
		s.observer.AlertTriggered(string(w.Kind))
		res.AlertsTriggered = append(res.AlertsTriggered, w.Alert)
		s.notify(ctx, w.Alert, log)
	}

	return res, nil
}

// pendingWrites describes alert writes abandoned on cancellation, naming each
// rule kind.
func pendingWrites(ds []AlertDescriptor) string {
	kinds := make([]string, len(ds))
	for i, d := range ds {
		kinds[i] = string(d.Kind)
	}
	return fmt.Sprintf("%d alert write(s) (%s)", len(ds), strings.Join(kinds, ", "))
}

func unknownPatient(id uuid.UUID) *ValidationError {
	return &ValidationError{Field: "patient_id", Reason: fmt.Sprintf("patient %s does not exist", id), Err: patient.ErrNotFound}
}

func (s *IngestionService) withTimeout(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	return fn(ctx)
}

// stopped records a cancelled warning once the caller has gone away. The
// stored consultation is left in place.
func (s *IngestionService) stopped(ctx context.Context, res *IngestResult, skipped string) bool {
	if ctx.Err() == nil {
		return false
	}
	res.Warnings = append(res.Warnings, Warning{
		Code:   WarnCancelled,
		Detail: fmt.Sprintf("request cancelled after the consultation was recorded; skipped %s", skipped),
	})
	return true
}

func (s *IngestionService) loadTrend(ctx context.Context, c *Consultation, res *IngestResult, log zerolog.Logger) TrendContext {
	var history []*Consultation
	err := s.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		history, err = s.trend.Load(ctx, c.PatientID, c)
		return err
	})
	if err == nil {
		return TrendContext{History: history, Available: true}
	}

	storeErr := &StoreError{Op: OpTrendRead, Err: err}
	log.Warn().Err(storeErr).Msg("trend context unavailable, trend rules skipped")

	var kinds []string
	for _, r := range s.evaluator.Rules() {
		if r.NeedsTrend() {
			kinds = append(kinds, string(r.Kind()))
		}
	}
	detail := storeErr.Error()
	if len(kinds) > 0 {
		detail = fmt.Sprintf("skipped %s: %s", strings.Join(kinds, ", "), detail)
	}
	res.Warnings = append(res.Warnings, Warning{Code: WarnTrendUnavailable, Detail: detail})
	return TrendContext{}
}

func (s *IngestionService) persistAlert(ctx context.Context, c *Consultation, d AlertDescriptor, log zerolog.Logger) AlertWriteResult {
	result := AlertWriteResult{Kind: d.Kind}
	candidate := d.Alert(c, s.now().UTC())

	for attempt := 1; attempt <= s.cfg.AlertWriteAttempts; attempt++ {
		result.Attempts = attempt
		var stored *Alert
		err := s.withTimeout(ctx, func(ctx context.Context) error {
			var err error
			stored, err = s.alerts.Create(ctx, candidate)
			return err
		})
		if err == nil {
			result.Alert, result.Err = stored, nil
			return result
		}
		result.Err = &StoreError{Op: OpAlertWrite, Err: err}

		log.Warn().Err(err).
			Str("rule_kind", string(d.Kind)).
			Int("attempt", attempt).
			Int("max_attempts", s.cfg.AlertWriteAttempts).
			Msg("alert write failed")

		if attempt == s.cfg.AlertWriteAttempts || !sleepCtx(ctx, time.Duration(attempt)*s.cfg.AlertWriteBackoff) {
			break
		}
	}
	return result
}

// sleepCtx waits d or until ctx is done; it reports whether the full wait elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *IngestionService) notify(ctx context.Context, a *Alert, log zerolog.Logger) {
	ev := notification.AlertEvent{
		AlertID:        a.ID.String(),
		PatientID:      a.PatientID.String(),
		ConsultationID: a.ConsultationID.String(),
		TenantID:       db.TenantFromContext(ctx),
		Kind:           string(a.Kind),
		Message:        a.Message,
		TriggeredAt:    a.TriggeredAt,
	}
	err := s.withTimeout(ctx, func(ctx context.Context) error {
		return s.notifier.Publish(ctx, ev)
	})
	if err != nil {
		s.observer.NotifyFailed()
		log.Error().Err(err).Str("alert_id", ev.AlertID).Str("rule_kind", ev.Kind).Msg("alert event not published")
	}
}

type nopObserver struct{}

func (nopObserver) ConsultationIngested(time.Duration) {}
func (nopObserver) AlertTriggered(string)              {}
func (nopObserver) AlertWriteFailed(string)            {}
func (nopObserver) IngestWarning(string)               {}
func (nopObserver) NotifyFailed()                      {}
