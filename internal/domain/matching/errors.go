package matching

import (
	"errors"
	"fmt"
)

var (
	// ErrNoCaregiverAvailable means registration found no caregiver of a role.
	ErrNoCaregiverAvailable = errors.New("no caregiver available")
	// ErrNoSlotAvailable means neither the bound caregiver nor any alternate
	// had a free slot before the deadline.
	ErrNoSlotAvailable = errors.New("no slot available before deadline")
	// ErrInvalidDeadline is returned for a non-positive max wait.
	ErrInvalidDeadline = errors.New("max days to appointment must be positive")

	ErrUnknownUrgency      = errors.New("unknown urgency code")
	ErrUnknownRole         = errors.New("unknown caregiver role")
	ErrBatchLengthMismatch = errors.New("patients, urgency codes and role codes differ in length")
	ErrTimetableOrder      = errors.New("timeslot out of time order")
	ErrDuplicateCaregiver  = errors.New("duplicate caregiver id")
	ErrPracticeNotFound    = errors.New("practice not found")
	ErrSlotConflict        = errors.New("slot already booked by another writer")
	ErrMissingPatient      = errors.New("patient is required")
	ErrMissingPracticeID   = errors.New("practice id is required")
)

// MatchError is a failure to schedule one patient.
type MatchError struct {
	PatientID string
	Role      Role
	Err       error
}

func (e *MatchError) Error() string {
	return fmt.Sprintf("match patient %s (%s): %v", e.PatientID, e.Role, e.Err)
}

func (e *MatchError) Unwrap() error { return e.Err }

// Reason returns a short machine-readable failure code for err.
func Reason(err error) string {
	switch {
	case err == nil:
		return "booked"
	case errors.Is(err, ErrNoSlotAvailable):
		return "no_slot"
	case errors.Is(err, ErrNoCaregiverAvailable):
		return "no_caregiver"
	case errors.Is(err, ErrInvalidDeadline):
		return "invalid_deadline"
	case errors.Is(err, ErrUnknownUrgency):
		return "unknown_urgency"
	case errors.Is(err, ErrUnknownRole):
		return "unknown_role"
	case errors.Is(err, ErrSlotConflict):
		return "slot_conflict"
	case errors.Is(err, ErrMissingPatient):
		return "missing_patient"
	default:
		return "error"
	}
}
