package matching

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestMemoryRepo_GetMissing(t *testing.T) {
	_, err := NewMemoryRepo().Get(context.Background(), "nope")
	if !errors.Is(err, ErrPracticeNotFound) {
		t.Fatalf("expected ErrPracticeNotFound, got %v", err)
	}
}

func TestMemoryRepo_SaveKeepsRegistrations(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()

	first := newTestPractice("P1", newDoctor("D1"), newNurse("N1"))
	first.Bind("A", PrimaryCareGroup{DoctorID: "D1", NurseID: "N1"})
	repo.Save(ctx, first)

	replacement := newTestPractice("P1", newDoctor("D1", at(1)), newNurse("N1"))
	if err := repo.Save(ctx, replacement); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := repo.Get(ctx, "P1")
	if g, ok := got.Binding("A"); !ok || g.DoctorID != "D1" {
		t.Errorf("registration lost on save: %+v", g)
	}
	d1, _ := got.Caregiver(RoleDoctor, "D1")
	if d1.Timetable.Len() != 1 || !d1.Patients.Has("A") {
		t.Errorf("expected new timetable and restored patient list, got %+v", d1)
	}
}

func TestMemoryRepo_Apply(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	repo.Save(ctx, newTestPractice("P1", newDoctor("D1", at(1)), newNurse("N1")))

	slot := uuid.New()
	change := Change{
		PracticeID: "P1",
		PatientID:  "A",
		Binding:    &PrimaryCareGroup{DoctorID: "D1", NurseID: "N1"},
		Booking:    &Booking{ID: uuid.New(), PracticeID: "P1", PatientID: "A", SlotID: slot, Time: at(1)},
	}
	if err := repo.Apply(ctx, change); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p, _ := repo.Get(ctx, "P1")
	if !p.IsRegistered("A") {
		t.Error("binding not applied")
	}

	change.PatientID = "B"
	change.Binding = nil
	if err := repo.Apply(ctx, change); !errors.Is(err, ErrSlotConflict) {
		t.Errorf("expected ErrSlotConflict, got %v", err)
	}
	if err := repo.Apply(ctx, Change{PracticeID: "P9"}); !errors.Is(err, ErrPracticeNotFound) {
		t.Errorf("expected ErrPracticeNotFound, got %v", err)
	}
}

func TestMemoryRepo_GetReturnsCopy(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	repo.Save(ctx, newTestPractice("P1", newDoctor("D1", at(1)), newNurse("N1")))

	p, _ := repo.Get(ctx, "P1")
	d1, _ := p.Caregiver(RoleDoctor, "D1")
	if _, ok := d1.AttemptMatch(at(2)); !ok {
		t.Fatal("expected a free slot")
	}
	p.Bind("A", PrimaryCareGroup{DoctorID: "D1", NurseID: "N1"})

	again, _ := repo.Get(ctx, "P1")
	d1, _ = again.Caregiver(RoleDoctor, "D1")
	if d1.Timetable.Booked() != 0 || again.IsRegistered("A") || d1.Patients.Has("A") {
		t.Error("changes to a fetched practice reached the repository")
	}
}

func TestMemoryRepo_ApplyBooksStoredSlot(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	repo.Save(ctx, newTestPractice("P1", newDoctor("D1", at(1), at(2)), newNurse("N1")))

	p, _ := repo.Get(ctx, "P1")
	d1, _ := p.Caregiver(RoleDoctor, "D1")
	slots := d1.Timetable.Slots()
	booking := &Booking{ID: uuid.New(), PracticeID: "P1", PatientID: "A", CaregiverID: "D1", Role: RoleDoctor, SlotID: slots[1].ID, SlotIndex: 1, Time: at(2)}
	if err := repo.Apply(ctx, Change{PracticeID: "P1", PatientID: "A", Booking: booking}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored, _ := repo.Get(ctx, "P1")
	d1, _ = stored.Caregiver(RoleDoctor, "D1")
	if got := d1.Timetable.Slots(); !got[0].Free || got[1].Free {
		t.Errorf("expected only slot 1 booked, got %+v", got)
	}

	stale := *booking
	stale.ID = uuid.New()
	stale.SlotID = uuid.New()
	err := repo.Apply(ctx, Change{
		PracticeID: "P1",
		PatientID:  "B",
		Binding:    &PrimaryCareGroup{DoctorID: "D1", NurseID: "N1"},
		Booking:    &stale,
	})
	if !errors.Is(err, ErrSlotConflict) {
		t.Fatalf("expected ErrSlotConflict for a mismatched slot, got %v", err)
	}
	if stored, _ = repo.Get(ctx, "P1"); stored.IsRegistered("B") {
		t.Error("binding applied despite rejected booking")
	}
}

func TestMemoryRepo_ListBookings(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	repo.Save(ctx, newTestPractice("P1", newDoctor("D1"), newNurse("N1")))
	for _, d := range []float64{3, 1, 2} {
		repo.Apply(ctx, Change{PracticeID: "P1", Booking: &Booking{SlotID: uuid.New(), Time: at(d)}})
	}

	page, total, err := repo.ListBookings(ctx, "P1", 2, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 3 || len(page) != 2 || !page[0].Time.Equal(at(1)) || !page[1].Time.Equal(at(2)) {
		t.Errorf("unexpected first page: total %d %+v", total, page)
	}
	page, _, _ = repo.ListBookings(ctx, "P1", 2, 2)
	if len(page) != 1 || !page[0].Time.Equal(at(3)) {
		t.Errorf("unexpected second page: %+v", page)
	}
	page, _, _ = repo.ListBookings(ctx, "P1", 2, 10)
	if len(page) != 0 {
		t.Errorf("expected empty page past the end, got %d", len(page))
	}
}
