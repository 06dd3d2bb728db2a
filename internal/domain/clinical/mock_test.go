package clinical

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ckdcare/ckd/internal/domain/patient"
	"github.com/ckdcare/ckd/internal/platform/notification"
)

var errStoreDown = errors.New("connection refused")

// memStore is an in-memory record store shared by the mock repositories.
type memStore struct {
	mu            sync.Mutex
	seq           int64
	patients      map[uuid.UUID]*patient.Patient
	consultations []*Consultation
	alerts        []*Alert

	existsErr       error
	consultationErr error
	trendErr        error
	// alertFailures[kind] is how many more Create calls for kind should fail.
	// A negative value fails forever.
	alertFailures map[AlertKind]int
	alertCalls    map[AlertKind]int
	// onConsultationCreated runs after a consultation is stored.
	onConsultationCreated func()
	// onAlertCreate runs at the start of every alert write.
	onAlertCreate func(kind AlertKind)
}

func newMemStore() *memStore {
	return &memStore{
		patients:      make(map[uuid.UUID]*patient.Patient),
		alertFailures: make(map[AlertKind]int),
		alertCalls:    make(map[AlertKind]int),
	}
}

func (m *memStore) addPatient() uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := &patient.Patient{ID: uuid.New(), FirstName: "Amina", LastName: "Diallo", BirthDate: time.Date(1961, 4, 12, 0, 0, 0, 0, time.UTC)}
	m.patients[p.ID] = p
	return p.ID
}

func (m *memStore) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.consultations), len(m.alerts)
}

// -- patients --

type mockPatients struct{ s *memStore }

func (r mockPatients) Get(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.existsErr != nil {
		return nil, r.s.existsErr
	}
	p, ok := r.s.patients[id]
	if !ok {
		return nil, patient.ErrNotFound
	}
	return p, nil
}

func (r mockPatients) Exists(_ context.Context, id uuid.UUID) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.existsErr != nil {
		return false, r.s.existsErr
	}
	_, ok := r.s.patients[id]
	return ok, nil
}

// -- consultations --

type mockConsultations struct{ s *memStore }

func (r mockConsultations) Create(ctx context.Context, c *Consultation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	if r.s.consultationErr != nil {
		r.s.mu.Unlock()
		return r.s.consultationErr
	}
	r.s.seq++
	c.ID = uuid.New()
	c.Seq = r.s.seq
	c.CreatedAt = time.Now()
	cp := *c
	r.s.consultations = append(r.s.consultations, &cp)
	hook := r.s.onConsultationCreated
	r.s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (r mockConsultations) sorted(patientID uuid.UUID) []*Consultation {
	var out []*Consultation
	for _, c := range r.s.consultations {
		if c.PatientID == patientID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[j].Before(out[i]) })
	return out
}

func page[T any](all []T, limit, offset int) []T {
	if offset >= len(all) {
		return nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all
}

func (r mockConsultations) ListBefore(ctx context.Context, patientID uuid.UUID, current *Consultation, limit int) ([]*Consultation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.trendErr != nil {
		return nil, r.s.trendErr
	}
	var prior []*Consultation
	for _, c := range r.sorted(patientID) {
		if c.Before(current) {
			prior = append(prior, c)
		}
	}
	return page(prior, limit, 0), nil
}

func (r mockConsultations) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Consultation, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	all := r.sorted(patientID)
	return page(all, limit, offset), len(all), nil
}

// -- alerts --

type mockAlerts struct{ s *memStore }

func (r mockAlerts) Create(ctx context.Context, a *Alert) (*Alert, error) {
	r.s.mu.Lock()
	hook := r.s.onAlertCreate
	r.s.mu.Unlock()
	if hook != nil {
		hook(a.Kind)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.alertCalls[a.Kind]++
	if n := r.s.alertFailures[a.Kind]; n != 0 {
		if n > 0 {
			r.s.alertFailures[a.Kind] = n - 1
		}
		return nil, errStoreDown
	}
	for _, existing := range r.s.alerts {
		if existing.ConsultationID == a.ConsultationID && existing.Kind == a.Kind {
			cp := *existing
			return &cp, nil
		}
	}
	r.s.seq++
	stored := *a
	stored.ID = uuid.New()
	stored.Seq = r.s.seq
	r.s.alerts = append(r.s.alerts, &stored)
	cp := stored
	return &cp, nil
}

func (r mockAlerts) ListByPatient(_ context.Context, patientID uuid.UUID, status AlertStatus, limit, offset int) ([]*Alert, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var all []*Alert
	for _, a := range r.s.alerts {
		if a.PatientID == patientID && (status == "" || a.Status == status) {
			cp := *a
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].TriggeredAt.Equal(all[j].TriggeredAt) {
			return all[i].TriggeredAt.After(all[j].TriggeredAt)
		}
		return all[i].Seq > all[j].Seq
	})
	return page(all, limit, offset), len(all), nil
}

// -- notifier / observer --

type recordingNotifier struct {
	mu     sync.Mutex
	events []notification.AlertEvent
	err    error
}

func (n *recordingNotifier) Publish(_ context.Context, ev notification.AlertEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.events = append(n.events, ev)
	return nil
}

type countingObserver struct {
	mu          sync.Mutex
	ingested    int
	triggered   map[string]int
	writeFailed map[string]int
	warnings    map[string]int
	notifyFail  int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{
		triggered:   make(map[string]int),
		writeFailed: make(map[string]int),
		warnings:    make(map[string]int),
	}
}

func (o *countingObserver) ConsultationIngested(time.Duration) {
	o.mu.Lock()
	o.ingested++
	o.mu.Unlock()
}

func (o *countingObserver) AlertTriggered(kind string) {
	o.mu.Lock()
	o.triggered[kind]++
	o.mu.Unlock()
}

func (o *countingObserver) AlertWriteFailed(kind string) {
	o.mu.Lock()
	o.writeFailed[kind]++
	o.mu.Unlock()
}

func (o *countingObserver) IngestWarning(code string) {
	o.mu.Lock()
	o.warnings[code]++
	o.mu.Unlock()
}

func (o *countingObserver) NotifyFailed() {
	o.mu.Lock()
	o.notifyFail++
	o.mu.Unlock()
}
