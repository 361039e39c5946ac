package matching

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestNewTimetable_SortsStable(t *testing.T) {
	a := Timeslot{ID: uuid.New(), Time: at(2), Free: true}
	b := Timeslot{ID: uuid.New(), Time: at(1), Free: true}
	c := Timeslot{ID: uuid.New(), Time: at(2), Free: true}
	tt := NewTimetable([]Timeslot{a, b, c})

	want := []uuid.UUID{b.ID, a.ID, c.ID}
	for i, id := range want {
		if tt.Slot(i).ID != id {
			t.Errorf("slot %d: expected %s, got %s", i, id, tt.Slot(i).ID)
		}
	}
}

func TestNewTimetable_AssignsIDs(t *testing.T) {
	tt := NewTimetable(openSlots(at(1), at(2)))
	if tt.Slot(0).ID == uuid.Nil || tt.Slot(1).ID == uuid.Nil || tt.Slot(0).ID == tt.Slot(1).ID {
		t.Errorf("expected distinct ids, got %s and %s", tt.Slot(0).ID, tt.Slot(1).ID)
	}
}

func TestAttemptMatch_BooksEarliestFree(t *testing.T) {
	slots := openSlots(at(1), at(2), at(3))
	slots[0].Free = false
	tt := NewTimetable(slots)

	ref, ok := tt.AttemptMatch(at(5))
	if !ok {
		t.Fatal("expected a slot")
	}
	if ref.Index != 1 || !ref.Slot.Time.Equal(at(2)) {
		t.Errorf("expected slot 1 at +2d, got %d at %s", ref.Index, ref.Slot.Time)
	}
	if tt.Slot(1).Free {
		t.Error("booked slot is still free")
	}
	if ref.Slot.Free {
		t.Error("returned slot should be reported booked")
	}
}

func TestAttemptMatch_RespectsDeadline(t *testing.T) {
	tt := NewTimetable(openSlots(at(3), at(4)))
	if _, ok := tt.AttemptMatch(at(2)); ok {
		t.Fatal("booked a slot past the deadline")
	}
	if tt.Booked() != 0 {
		t.Errorf("expected no booked slots, got %d", tt.Booked())
	}

	// a slot exactly on the deadline qualifies
	ref, ok := tt.AttemptMatch(at(3))
	if !ok || !ref.Slot.Time.Equal(at(3)) {
		t.Errorf("expected the +3d slot, got %v %v", ref, ok)
	}
}

func TestAttemptMatch_StopsAtDeadline(t *testing.T) {
	slots := openSlots(at(1), at(2), at(10))
	slots[0].Free = false
	slots[1].Free = false
	tt := NewTimetable(slots)

	if _, ok := tt.AttemptMatch(at(5)); ok {
		t.Fatal("expected no slot within deadline")
	}
	if !tt.Slot(2).Free {
		t.Error("slot past the deadline was consumed")
	}
}

func TestAttemptMatch_NoDoubleBooking(t *testing.T) {
	tt := NewTimetable(openSlots(at(1), at(1), at(2), at(3), at(4)))
	seen := make(map[uuid.UUID]bool)
	for i := 0; i < 5; i++ {
		ref, ok := tt.AttemptMatch(at(30))
		if !ok {
			t.Fatalf("allocation %d failed", i)
		}
		if seen[ref.Slot.ID] {
			t.Fatalf("slot %s booked twice", ref.Slot.ID)
		}
		seen[ref.Slot.ID] = true
		if tt.Booked() != i+1 {
			t.Errorf("after %d allocations expected %d booked, got %d", i+1, i+1, tt.Booked())
		}
	}
	if _, ok := tt.AttemptMatch(at(30)); ok {
		t.Error("allocated from an exhausted timetable")
	}
}

func TestTimetable_Append(t *testing.T) {
	tt := NewTimetable(openSlots(at(1)))
	if err := tt.Append(Timeslot{Time: at(2), Free: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tt.Append(Timeslot{Time: at(2), Free: true}); err != nil {
		t.Fatalf("equal times should be accepted: %v", err)
	}
	err := tt.Append(Timeslot{Time: at(1), Free: true})
	if !errors.Is(err, ErrTimetableOrder) {
		t.Fatalf("expected ErrTimetableOrder, got %v", err)
	}
	if tt.Len() != 3 {
		t.Errorf("expected 3 slots, got %d", tt.Len())
	}
}

func TestTimetable_AppendAfterExhaustion(t *testing.T) {
	tt := NewTimetable(openSlots(at(1)))
	tt.AttemptMatch(at(5))
	if _, ok := tt.AttemptMatch(at(5)); ok {
		t.Fatal("expected no free slot")
	}
	tt.Append(Timeslot{Time: at(2), Free: true})
	if ref, ok := tt.AttemptMatch(at(5)); !ok || ref.Index != 1 {
		t.Errorf("expected appended slot to be booked, got %v %v", ref, ok)
	}
}
