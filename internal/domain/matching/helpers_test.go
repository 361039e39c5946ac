package matching

import (
	"context"
	"sync"
	"time"
)

var testNow = time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

// at returns testNow shifted by a number of days.
func at(days float64) time.Time {
	return testNow.Add(time.Duration(days * float64(24*time.Hour)))
}

func openSlots(times ...time.Time) []Timeslot {
	slots := make([]Timeslot, len(times))
	for i, t := range times {
		slots[i] = Timeslot{Time: t, Free: true}
	}
	return slots
}

func newDoctor(id string, times ...time.Time) *Caregiver {
	c := NewCaregiver(id, RoleDoctor)
	c.Timetable = NewTimetable(openSlots(times...))
	return c
}

func newNurse(id string, times ...time.Time) *Caregiver {
	c := NewCaregiver(id, RoleNurse)
	c.Timetable = NewTimetable(openSlots(times...))
	return c
}

func newTestPractice(id string, caregivers ...*Caregiver) *Practice {
	p := NewPractice(id)
	for _, c := range caregivers {
		if err := p.AddCaregiver(c); err != nil {
			panic(err)
		}
	}
	return p
}

func newTestEngine(scorer AffinityScorer, opts ...Option) *Engine {
	return NewEngine(scorer, append([]Option{WithClock(fixedClock)}, opts...)...)
}

func freeCount(c *Caregiver) int {
	return c.Timetable.Len() - c.Timetable.Booked()
}

// stubScorer scores by caregiver specialty.
type stubScorer struct {
	mu       sync.Mutex
	bySpec   map[string]int
	err      error
	calls    int
	lastHist []string
}

func (s *stubScorer) Score(_ context.Context, _ string, history []string, specialty string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.lastHist = history
	if s.err != nil {
		return 0, s.err
	}
	if v, ok := s.bySpec[specialty]; ok {
		return v, nil
	}
	return NeutralAffinity, nil
}
