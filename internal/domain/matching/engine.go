package matching

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Engine assigns patients to caregiver timeslots. An Engine holds no practice
// state and may be shared; a Practice passed to it must have a single writer.
type Engine struct {
	ranker *Ranker
	policy Policy
	now    func() time.Time
	logger zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source used to compute deadlines.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithPolicy replaces the default urgency and role tables.
func WithPolicy(p Policy) Option {
	return func(e *Engine) { e.policy = p }
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an Engine. A nil scorer gives every caregiver the
// neutral affinity score.
func NewEngine(scorer AffinityScorer, opts ...Option) *Engine {
	e := &Engine{
		policy: DefaultPolicy(),
		now:    time.Now,
		logger: zerolog.Nop(),
	}
	for _, o := range opts {
		o(e)
	}
	e.ranker = NewRanker(scorer, e.logger)
	return e
}

// Policy returns the urgency and role tables in use.
func (e *Engine) Policy() Policy { return e.policy }

// Rank orders every caregiver of role in the practice for p without booking.
func (e *Engine) Rank(ctx context.Context, p *Patient, practice *Practice, role Role) ([]RankedCaregiver, error) {
	if p == nil {
		return nil, ErrMissingPatient
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	return e.ranker.Rank(ctx, p, practice.Caregivers(role)), nil
}

// Register binds p to a primary doctor and nurse of the practice. A patient
// already registered keeps the stored binding and nothing is re-ranked.
func (e *Engine) Register(ctx context.Context, p *Patient, practice *Practice) (PrimaryCareGroup, error) {
	if p == nil {
		return PrimaryCareGroup{}, ErrMissingPatient
	}
	if practice.IsRegistered(p.ID) {
		if g, ok := practice.Binding(p.ID); ok {
			p.PrimaryCareGroup = &g
			return g, nil
		}
	}

	doctors := practice.Caregivers(RoleDoctor)
	nurses := practice.Caregivers(RoleNurse)
	if len(doctors) == 0 {
		return PrimaryCareGroup{}, fmt.Errorf("%w: no %s in practice %s", ErrNoCaregiverAvailable, RoleDoctor, practice.ID)
	}
	if len(nurses) == 0 {
		return PrimaryCareGroup{}, fmt.Errorf("%w: no %s in practice %s", ErrNoCaregiverAvailable, RoleNurse, practice.ID)
	}

	g := PrimaryCareGroup{
		DoctorID: e.ranker.Rank(ctx, p, doctors)[0].ID,
		NurseID:  e.ranker.Rank(ctx, p, nurses)[0].ID,
	}
	practice.Bind(p.ID, g)
	p.PrimaryCareGroup = &g

	e.logger.Info().
		Str("practice_id", practice.ID).
		Str("patient_id", p.ID).
		Str("doctor_id", g.DoctorID).
		Str("nurse_id", g.NurseID).
		Msg("patient registered")
	return g, nil
}

// Match books a slot for p with a caregiver of role within maxDays. The
// bound caregiver is tried first, then the other caregivers of that role in
// ranked order. On failure no slot changes state.
func (e *Engine) Match(ctx context.Context, p *Patient, practice *Practice, role Role, maxDays int) (*Booking, error) {
	b, _, err := e.match(ctx, p, practice, role, maxDays)
	return b, err
}

// maxDeadlineDays caps max_days so the deadline stays a representable
// calendar date. Longer waits behave exactly like the cap.
const maxDeadlineDays = 1_000_000

// match also reports whether p was registered by this call.
func (e *Engine) match(ctx context.Context, p *Patient, practice *Practice, role Role, maxDays int) (*Booking, bool, error) {
	if p == nil {
		return nil, false, ErrMissingPatient
	}
	fail := func(err error) error {
		return &MatchError{PatientID: p.ID, Role: role, Err: err}
	}
	if maxDays <= 0 {
		return nil, false, fail(fmt.Errorf("%w: %d", ErrInvalidDeadline, maxDays))
	}
	if !role.Valid() {
		return nil, false, fail(fmt.Errorf("%w: %q", ErrUnknownRole, role))
	}

	now := e.now()
	deadline := now.AddDate(0, 0, min(maxDays, maxDeadlineDays))

	registered := false
	if !practice.IsRegistered(p.ID) {
		if _, err := e.Register(ctx, p, practice); err != nil {
			return nil, false, fail(err)
		}
		registered = true
	} else if g, ok := practice.Binding(p.ID); ok {
		p.PrimaryCareGroup = &g
	}

	var boundID string
	if p.PrimaryCareGroup != nil {
		boundID = p.PrimaryCareGroup.For(role)
	}

	log := e.logger.With().
		Str("practice_id", practice.ID).
		Str("patient_id", p.ID).
		Str("role", string(role)).
		Time("deadline", deadline).
		Logger()

	if bound, ok := practice.Caregiver(role, boundID); ok {
		if ref, ok := bound.AttemptMatch(deadline); ok {
			return newBooking(practice, p, bound, ref, 0, now), registered, nil
		}
		log.Debug().Str("caregiver_id", boundID).Msg("bound caregiver has no slot, cascading")
	} else if boundID != "" {
		log.Warn().Str("caregiver_id", boundID).Msg("bound caregiver not in practice, cascading")
	}

	var others []*Caregiver
	for _, c := range practice.Caregivers(role) {
		if c.ID != boundID {
			others = append(others, c)
		}
	}
	for i, rc := range e.ranker.Rank(ctx, p, others) {
		if ref, ok := rc.Caregiver.AttemptMatch(deadline); ok {
			log.Debug().Str("caregiver_id", rc.ID).Int("rank", i+1).Msg("booked with alternate caregiver")
			return newBooking(practice, p, rc.Caregiver, ref, i+1, now), registered, nil
		}
	}

	return nil, registered, fail(ErrNoSlotAvailable)
}

func newBooking(practice *Practice, p *Patient, c *Caregiver, ref SlotRef, rank int, now time.Time) *Booking {
	return &Booking{
		ID:          uuid.New(),
		PracticeID:  practice.ID,
		PatientID:   p.ID,
		CaregiverID: c.ID,
		Role:        c.Role,
		SlotID:      ref.Slot.ID,
		SlotIndex:   ref.Index,
		Time:        ref.Slot.Time,
		Rank:        rank,
		Cascaded:    rank > 0,
		CreatedAt:   now,
	}
}
