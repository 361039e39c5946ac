package matching

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Timetable is the slot arena owned by one caregiver. Slots are kept in
// non-decreasing time order and are addressed by index; a booked slot is
// never freed again.
type Timetable struct {
	slots []Timeslot
	// every slot before firstFree is booked
	firstFree int
}

// NewTimetable copies slots into a new timetable, sorting them by time.
// Slots with equal times keep their relative order. Slots without an id are
// given one.
func NewTimetable(slots []Timeslot) *Timetable {
	t := &Timetable{slots: make([]Timeslot, len(slots))}
	copy(t.slots, slots)
	for i := range t.slots {
		if t.slots[i].ID == uuid.Nil {
			t.slots[i].ID = uuid.New()
		}
	}
	sort.SliceStable(t.slots, func(i, j int) bool {
		return t.slots[i].Time.Before(t.slots[j].Time)
	})
	t.advance()
	return t
}

// Append adds a slot at the end of the timetable. The slot must not be
// earlier than the current last slot.
func (t *Timetable) Append(s Timeslot) error {
	if n := len(t.slots); n > 0 && s.Time.Before(t.slots[n-1].Time) {
		return fmt.Errorf("%w: %s is before %s", ErrTimetableOrder,
			s.Time.Format(time.RFC3339), t.slots[n-1].Time.Format(time.RFC3339))
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	t.slots = append(t.slots, s)
	t.advance()
	return nil
}

// AttemptMatch scans the slots at or before deadline in time order and books
// the first free one. The scan stops at the first slot past the deadline.
func (t *Timetable) AttemptMatch(deadline time.Time) (SlotRef, bool) {
	for i := t.firstFree; i < len(t.slots); i++ {
		s := &t.slots[i]
		if s.Time.After(deadline) {
			return SlotRef{}, false
		}
		if !s.Free {
			continue
		}
		s.Free = false
		t.advance()
		return SlotRef{Index: i, Slot: *s}, true
	}
	return SlotRef{}, false
}

// book marks the slot at index i booked when it still holds slot id and is
// free. Repositories use it to persist an allocation made on a copy.
func (t *Timetable) book(i int, id uuid.UUID) bool {
	if i < 0 || i >= len(t.slots) || t.slots[i].ID != id || !t.slots[i].Free {
		return false
	}
	t.slots[i].Free = false
	t.advance()
	return true
}

func (t *Timetable) clone() *Timetable {
	return &Timetable{slots: append([]Timeslot(nil), t.slots...), firstFree: t.firstFree}
}

func (t *Timetable) advance() {
	for t.firstFree < len(t.slots) && !t.slots[t.firstFree].Free {
		t.firstFree++
	}
}

func (t *Timetable) Len() int { return len(t.slots) }

// Slot returns a copy of the slot at index i.
func (t *Timetable) Slot(i int) Timeslot { return t.slots[i] }

// Slots returns a copy of all slots in time order.
func (t *Timetable) Slots() []Timeslot {
	out := make([]Timeslot, len(t.slots))
	copy(out, t.slots)
	return out
}

// Booked counts slots that are no longer free.
func (t *Timetable) Booked() int {
	n := 0
	for _, s := range t.slots {
		if !s.Free {
			n++
		}
	}
	return n
}

func (t *Timetable) MarshalJSON() ([]byte, error) {
	if t == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(t.slots)
}

func (t *Timetable) UnmarshalJSON(data []byte) error {
	var slots []Timeslot
	if err := json.Unmarshal(data, &slots); err != nil {
		return err
	}
	*t = *NewTimetable(slots)
	return nil
}
