package matching

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestPractice_AddCaregiver(t *testing.T) {
	p := NewPractice("P1")
	if err := p.AddCaregiver(NewCaregiver("D1", RoleDoctor)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.AddCaregiver(NewCaregiver("D1", RoleDoctor)); !errors.Is(err, ErrDuplicateCaregiver) {
		t.Errorf("expected ErrDuplicateCaregiver, got %v", err)
	}
	// ids are scoped per role
	if err := p.AddCaregiver(NewCaregiver("D1", RoleNurse)); err != nil {
		t.Errorf("nurse with a doctor's id should be accepted: %v", err)
	}
	if err := p.AddCaregiver(NewCaregiver("X", Role("porter"))); !errors.Is(err, ErrUnknownRole) {
		t.Errorf("expected ErrUnknownRole, got %v", err)
	}
	if _, ok := p.Caregiver(RoleDoctor, "D1"); !ok {
		t.Error("expected D1 to be found")
	}
}

func TestPractice_CaregiversReturnsCopy(t *testing.T) {
	p := newTestPractice("P1", newDoctor("D1"), newDoctor("D2"))
	list := p.Caregivers(RoleDoctor)
	list[0] = nil
	if p.Caregivers(RoleDoctor)[0] == nil {
		t.Error("caller mutated the roster")
	}
}

func TestPractice_JSON(t *testing.T) {
	body := `{
		"id": "P1",
		"doctors": [
			{"id": "D1", "specialty": "cardiology", "family_ids": ["F1"],
			 "timetable": [
				{"time": "2025-03-05T09:00:00Z", "free": true},
				{"time": "2025-03-04T09:00:00Z", "free": false}
			 ],
			 "completed_appointments": [{"patient_id": "A"}]}
		],
		"nurses": [{"id": "N1", "contact_mode": "virtual"}],
		"bindings": {"A": {"doctor_id": "D1", "nurse_id": "N1"}}
	}`

	var p Practice
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d1, ok := p.Caregiver(RoleDoctor, "D1")
	if !ok || d1.Role != RoleDoctor {
		t.Fatalf("expected doctor D1, got %+v", d1)
	}
	if d1.Timetable.Len() != 2 || d1.Timetable.Slot(0).Free {
		t.Errorf("timetable should be sorted with the booked slot first: %+v", d1.Timetable.Slots())
	}
	if !d1.Families.Has("F1") || !d1.Patients.Has("A") {
		t.Errorf("sets not restored: families %v patients %v", d1.Families, d1.Patients)
	}
	n1, _ := p.Caregiver(RoleNurse, "N1")
	if n1 == nil || n1.Timetable == nil || n1.ContactMode != ContactVirtual {
		t.Fatalf("nurse not normalized: %+v", n1)
	}
	if g, ok := p.Binding("A"); !ok || g.NurseID != "N1" {
		t.Errorf("binding not restored: %+v", g)
	}

	data, err := json.Marshal(&p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var again Practice
	if err := json.Unmarshal(data, &again); err != nil {
		t.Fatalf("re-decode: %v", err)
	}
	d1again, _ := again.Caregiver(RoleDoctor, "D1")
	if d1again.Timetable.Slot(1).ID != d1.Timetable.Slot(1).ID {
		t.Error("slot ids should survive encoding")
	}
}

func TestPractice_JSONDuplicateCaregiver(t *testing.T) {
	body := `{"id":"P1","doctors":[{"id":"D1"},{"id":"D1"}],"nurses":[]}`
	var p Practice
	if err := json.Unmarshal([]byte(body), &p); !errors.Is(err, ErrDuplicateCaregiver) {
		t.Fatalf("expected ErrDuplicateCaregiver, got %v", err)
	}
}
