package matching

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Request is one pending entry of a scheduling backlog.
type Request struct {
	Patient     *Patient `json:"patient"`
	UrgencyCode int      `json:"urgency"`
	RoleCode    int      `json:"role"`
}

// Outcome is the result of scheduling one backlog entry.
type Outcome struct {
	// Index is the entry's position in the caller's input.
	Index      int
	PatientID  string
	Urgency    Urgency
	Role       Role
	Booking    *Booking
	Registered bool
	Err        error
}

func (o Outcome) Booked() bool { return o.Err == nil && o.Booking != nil }

func (o Outcome) MarshalJSON() ([]byte, error) {
	out := struct {
		Index      int      `json:"index"`
		PatientID  string   `json:"patient_id"`
		Urgency    Urgency  `json:"urgency"`
		Role       Role     `json:"role,omitempty"`
		Booking    *Booking `json:"booking,omitempty"`
		Registered bool     `json:"registered"`
		Status     string   `json:"status"`
		Error      string   `json:"error,omitempty"`
	}{
		Index:      o.Index,
		PatientID:  o.PatientID,
		Urgency:    o.Urgency,
		Role:       o.Role,
		Booking:    o.Booking,
		Registered: o.Registered,
		Status:     Reason(o.Err),
	}
	if o.Err != nil {
		out.Error = o.Err.Error()
	}
	return json.Marshal(out)
}

// Summary counts outcomes of a batch run.
type Summary struct {
	Total    int            `json:"total"`
	Booked   int            `json:"booked"`
	Failed   int            `json:"failed"`
	ByReason map[string]int `json:"by_reason"`
}

func Summarize(outcomes []Outcome) Summary {
	s := Summary{Total: len(outcomes), ByReason: make(map[string]int)}
	for _, o := range outcomes {
		if o.Booked() {
			s.Booked++
		} else {
			s.Failed++
		}
		s.ByReason[Reason(o.Err)]++
	}
	return s
}

// CommitFunc is called after each entry is processed, in processing order.
// A returned error is recorded on that entry's outcome; earlier entries are
// unaffected.
type CommitFunc func(ctx context.Context, o Outcome) error

// MatchAll schedules a backlog given as aligned slices. See Run.
func (e *Engine) MatchAll(ctx context.Context, practice *Practice, patients []*Patient, urgencyCodes, roleCodes []int) ([]Outcome, error) {
	if len(patients) != len(urgencyCodes) || len(patients) != len(roleCodes) {
		return nil, fmt.Errorf("%w: %d patients, %d urgency codes, %d role codes",
			ErrBatchLengthMismatch, len(patients), len(urgencyCodes), len(roleCodes))
	}
	reqs := make([]Request, len(patients))
	for i := range patients {
		reqs[i] = Request{Patient: patients[i], UrgencyCode: urgencyCodes[i], RoleCode: roleCodes[i]}
	}
	return e.Run(ctx, practice, reqs, nil)
}

type pending struct {
	index   int
	req     Request
	urgency Urgency
	role    Role
	err     error
}

// Run schedules reqs against practice one at a time, most urgent first.
// Entries with equal urgency keep their input order. A failure for one entry
// never stops the run or undoes earlier bookings. Outcomes are returned in
// processing order. Entries whose codes cannot be resolved are reported last.
func (e *Engine) Run(ctx context.Context, practice *Practice, reqs []Request, commit CommitFunc) ([]Outcome, error) {
	start := time.Now()

	queue := make([]pending, len(reqs))
	for i, r := range reqs {
		q := pending{index: i, req: r}
		u, err := e.policy.Urgency(r.UrgencyCode)
		if err != nil {
			q.err = err
		}
		role, rerr := e.policy.Role(r.RoleCode)
		if rerr != nil && q.err == nil {
			q.err = rerr
		}
		if r.Patient == nil && q.err == nil {
			q.err = ErrMissingPatient
		}
		q.urgency, q.role = u, role
		queue[i] = q
	}
	sort.SliceStable(queue, func(i, j int) bool {
		a, b := queue[i], queue[j]
		if (a.err == nil) != (b.err == nil) {
			return a.err == nil
		}
		return a.urgency.Level > b.urgency.Level
	})

	outcomes := make([]Outcome, 0, len(queue))
	for _, q := range queue {
		o := Outcome{Index: q.index, Urgency: q.urgency, Role: q.role}
		if q.req.Patient != nil {
			o.PatientID = q.req.Patient.ID
		}

		switch {
		case q.err != nil:
			o.Err = &MatchError{PatientID: o.PatientID, Role: q.role, Err: q.err}
		case ctx.Err() != nil:
			o.Err = &MatchError{PatientID: o.PatientID, Role: q.role, Err: ctx.Err()}
		default:
			o.Booking, o.Registered, o.Err = e.match(ctx, q.req.Patient, practice, q.role, q.urgency.MaxWaitDays)
		}

		if commit != nil && (o.Booking != nil || o.Registered) {
			if err := commit(ctx, o); err != nil {
				if o.Err == nil {
					o.Err = &MatchError{PatientID: o.PatientID, Role: q.role, Err: err}
				}
				o.Booking = nil
			}
		}
		if o.Err != nil {
			e.logger.Warn().Err(o.Err).
				Str("practice_id", practice.ID).
				Str("patient_id", o.PatientID).
				Int("urgency_level", o.Urgency.Level).
				Msg("patient not scheduled")
		}
		outcomes = append(outcomes, o)
	}

	s := Summarize(outcomes)
	e.logger.Info().
		Str("practice_id", practice.ID).
		Int("total", s.Total).
		Int("booked", s.Booked).
		Int("failed", s.Failed).
		Dur("elapsed", time.Since(start)).
		Msg("scheduling run complete")
	return outcomes, nil
}
