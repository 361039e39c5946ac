package matching

import "context"

// Change is what one allocation wrote to a practice: a new registration,
// a booking, or both.
type Change struct {
	PracticeID string
	PatientID  string
	Binding    *PrimaryCareGroup
	Booking    *Booking
}

type PracticeRepository interface {
	// Get loads a practice with its caregivers, timetables and registrations.
	Get(ctx context.Context, practiceID string) (*Practice, error)
	// Save creates or replaces a practice's caregivers and capacity.
	Save(ctx context.Context, p *Practice) error
	// Apply persists one Change atomically.
	Apply(ctx context.Context, c Change) error
	ListBookings(ctx context.Context, practiceID string, limit, offset int) ([]*Booking, int, error)
}
