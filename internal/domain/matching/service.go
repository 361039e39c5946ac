package matching

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Recorder receives matching measurements.
type Recorder interface {
	ObserveMatch(role, status string, rank int)
	ObserveRun(elapsed time.Duration, booked, failed int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveMatch(string, string, int)    {}
func (nopRecorder) ObserveRun(time.Duration, int, int) {}

// Events published to the Notifier once a change has been persisted.
const (
	EventPatientRegistered = "patient.registered"
	EventBookingCreated    = "booking.created"
	EventScheduleCompleted = "schedule.completed"
)

// Notifier receives persisted changes. Publish must not block.
type Notifier interface {
	Publish(ctx context.Context, eventType, practiceID string, payload interface{})
}

type nopNotifier struct{}

func (nopNotifier) Publish(context.Context, string, string, interface{}) {}

type registration struct {
	PatientID string           `json:"patient_id"`
	Group     PrimaryCareGroup `json:"primary_care_group"`
}

// Service runs the engine against stored practices. Calls for the same
// practice are serialized; different practices proceed in parallel.
type Service struct {
	repo     PracticeRepository
	engine   *Engine
	recorder Recorder
	notifier Notifier
	logger   zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

type ServiceOption func(*Service)

func WithRecorder(r Recorder) ServiceOption {
	return func(s *Service) { s.recorder = r }
}

func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) { s.notifier = n }
}

func WithServiceLogger(l zerolog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

func NewService(repo PracticeRepository, engine *Engine, opts ...ServiceOption) *Service {
	s := &Service{
		repo:     repo,
		engine:   engine,
		recorder: nopRecorder{},
		notifier: nopNotifier{},
		logger:   zerolog.Nop(),
		locks:    make(map[string]*sync.Mutex),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Policy returns the engine's urgency and role tables.
func (s *Service) Policy() Policy { return s.engine.Policy() }

func (s *Service) lock(practiceID string) func() {
	s.mu.Lock()
	l, ok := s.locks[practiceID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[practiceID] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// ImportPractice creates or replaces a practice's caregivers and timetables.
func (s *Service) ImportPractice(ctx context.Context, p *Practice) error {
	if p == nil || p.ID == "" {
		return ErrMissingPracticeID
	}
	defer s.lock(p.ID)()
	if err := s.repo.Save(ctx, p); err != nil {
		return fmt.Errorf("save practice %s: %w", p.ID, err)
	}
	s.logger.Info().
		Str("practice_id", p.ID).
		Int("doctors", len(p.Caregivers(RoleDoctor))).
		Int("nurses", len(p.Caregivers(RoleNurse))).
		Msg("practice imported")
	return nil
}

// Snapshot returns the practice encoded as JSON.
func (s *Service) Snapshot(ctx context.Context, practiceID string) (json.RawMessage, error) {
	defer s.lock(practiceID)()
	p, err := s.repo.Get(ctx, practiceID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(p)
}

// Rank previews the caregiver order for p without booking anything.
func (s *Service) Rank(ctx context.Context, practiceID string, p *Patient, role Role) ([]RankedCaregiver, error) {
	defer s.lock(practiceID)()
	practice, err := s.repo.Get(ctx, practiceID)
	if err != nil {
		return nil, err
	}
	return s.engine.Rank(ctx, p, practice, role)
}

// Match books a single appointment and persists the result.
func (s *Service) Match(ctx context.Context, practiceID string, p *Patient, role Role, maxDays int) (*Booking, error) {
	defer s.lock(practiceID)()
	practice, err := s.repo.Get(ctx, practiceID)
	if err != nil {
		return nil, err
	}

	b, registered, err := s.engine.match(ctx, p, practice, role, maxDays)
	if registered || b != nil {
		c := changeFor(practice, p.ID, registered, b)
		if cerr := s.repo.Apply(ctx, c); cerr != nil {
			s.recorder.ObserveMatch(string(role), Reason(cerr), 0)
			return nil, &MatchError{PatientID: p.ID, Role: role, Err: cerr}
		}
		s.notify(ctx, c)
	}
	if err != nil {
		s.recorder.ObserveMatch(string(role), Reason(err), 0)
		return nil, err
	}
	s.recorder.ObserveMatch(string(role), Reason(nil), b.Rank)
	return b, nil
}

// Schedule runs a backlog against the practice, persisting each entry as it
// is processed.
func (s *Service) Schedule(ctx context.Context, practiceID string, reqs []Request) ([]Outcome, error) {
	defer s.lock(practiceID)()
	practice, err := s.repo.Get(ctx, practiceID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	commit := func(ctx context.Context, o Outcome) error {
		c := changeFor(practice, o.PatientID, o.Registered, o.Booking)
		if err := s.repo.Apply(ctx, c); err != nil {
			return err
		}
		s.notify(ctx, c)
		return nil
	}
	outcomes, err := s.engine.Run(ctx, practice, reqs, commit)
	if err != nil {
		return nil, err
	}

	for _, o := range outcomes {
		rank := 0
		if o.Booking != nil {
			rank = o.Booking.Rank
		}
		s.recorder.ObserveMatch(string(o.Role), Reason(o.Err), rank)
	}
	sum := Summarize(outcomes)
	s.recorder.ObserveRun(time.Since(start), sum.Booked, sum.Failed)
	s.notifier.Publish(ctx, EventScheduleCompleted, practiceID, sum)
	return outcomes, nil
}

func (s *Service) ListBookings(ctx context.Context, practiceID string, limit, offset int) ([]*Booking, int, error) {
	if _, err := s.repo.Get(ctx, practiceID); err != nil {
		return nil, 0, err
	}
	return s.repo.ListBookings(ctx, practiceID, limit, offset)
}

func (s *Service) notify(ctx context.Context, c Change) {
	if c.Binding != nil {
		s.notifier.Publish(ctx, EventPatientRegistered, c.PracticeID, registration{PatientID: c.PatientID, Group: *c.Binding})
	}
	if c.Booking != nil {
		s.notifier.Publish(ctx, EventBookingCreated, c.PracticeID, c.Booking)
	}
}

func changeFor(practice *Practice, patientID string, registered bool, b *Booking) Change {
	c := Change{PracticeID: practice.ID, PatientID: patientID, Booking: b}
	if registered {
		if g, ok := practice.Binding(patientID); ok {
			c.Binding = &g
		}
	}
	return c
}
