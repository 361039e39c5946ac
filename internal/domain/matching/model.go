package matching

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Role is the kind of professional an appointment requires.
type Role string

const (
	RoleDoctor Role = "doctor"
	RoleNurse  Role = "nurse"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleDoctor || r == RoleNurse
}

// ContactMode is how a caregiver sees patients, or how a patient prefers to be seen.
type ContactMode string

const (
	ContactEither     ContactMode = "either"
	ContactFaceToFace ContactMode = "face-to-face"
	ContactVirtual    ContactMode = "virtual"
)

// Open reports whether the mode expresses no preference.
func (m ContactMode) Open() bool {
	return m == "" || m == ContactEither
}

// IDSet is a set of identifiers. It marshals as a sorted JSON array.
type IDSet map[string]struct{}

// NewIDSet builds a set from ids.
func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

func (s IDSet) Add(id string) {
	s[id] = struct{}{}
}

// Sorted returns the members in ascending order.
func (s IDSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s IDSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

func (s *IDSet) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = NewIDSet(ids...)
	return nil
}

// Timeslot is one bookable unit of a caregiver's calendar.
type Timeslot struct {
	ID   uuid.UUID `json:"id"`
	Time time.Time `json:"time"`
	Free bool      `json:"free"`
}

// CompletedAppointment is a past appointment used for continuity scoring.
type CompletedAppointment struct {
	PatientID string `json:"patient_id"`
}

// Caregiver is a doctor or nurse scheduling unit.
type Caregiver struct {
	ID                    string                 `json:"id"`
	Role                  Role                   `json:"role"`
	ContactMode           ContactMode            `json:"contact_mode,omitempty"`
	Specialty             string                 `json:"specialty,omitempty"`
	Timetable             *Timetable             `json:"timetable"`
	Patients              IDSet                  `json:"patient_ids"`
	Families              IDSet                  `json:"family_ids"`
	CompletedAppointments []CompletedAppointment `json:"completed_appointments"`
}

// NewCaregiver returns a caregiver with an empty timetable and empty sets.
func NewCaregiver(id string, role Role) *Caregiver {
	return &Caregiver{
		ID:        id,
		Role:      role,
		Timetable: NewTimetable(nil),
		Patients:  NewIDSet(),
		Families:  NewIDSet(),
	}
}

// AttemptMatch books the earliest free slot at or before deadline.
func (c *Caregiver) AttemptMatch(deadline time.Time) (SlotRef, bool) {
	return c.Timetable.AttemptMatch(deadline)
}

func (c *Caregiver) clone() *Caregiver {
	cp := *c
	cp.Timetable = c.Timetable.clone()
	cp.Patients = NewIDSet(c.Patients.Sorted()...)
	cp.Families = NewIDSet(c.Families.Sorted()...)
	cp.CompletedAppointments = append([]CompletedAppointment(nil), c.CompletedAppointments...)
	return &cp
}

// normalize fills nil collections left by JSON decoding.
func (c *Caregiver) normalize() {
	if c.Timetable == nil {
		c.Timetable = NewTimetable(nil)
	}
	if c.Patients == nil {
		c.Patients = NewIDSet()
	}
	if c.Families == nil {
		c.Families = NewIDSet()
	}
}

// PrimaryCareGroup is the doctor and nurse a patient is registered to.
type PrimaryCareGroup struct {
	DoctorID string `json:"doctor_id"`
	NurseID  string `json:"nurse_id"`
}

// For returns the bound caregiver id for role.
func (g PrimaryCareGroup) For(role Role) string {
	if role == RoleNurse {
		return g.NurseID
	}
	return g.DoctorID
}

// Comorbidities are the four tracked long-term conditions.
type Comorbidities struct {
	Cardiovascular  bool `json:"cardiovascular_disease"`
	Digestive       bool `json:"digestive_disease"`
	Musculoskeletal bool `json:"musculoskeletal_disease"`
	Respiratory     bool `json:"respiratory_disease"`
}

// Names lists the conditions that are present.
func (c Comorbidities) Names() []string {
	var out []string
	if c.Cardiovascular {
		out = append(out, "cardiovascular_disease")
	}
	if c.Digestive {
		out = append(out, "digestive_disease")
	}
	if c.Musculoskeletal {
		out = append(out, "musculoskeletal_disease")
	}
	if c.Respiratory {
		out = append(out, "respiratory_disease")
	}
	return out
}

// Patient is a person awaiting care. Patients are supplied by the caller per run.
type Patient struct {
	ID                string            `json:"id"`
	FamilyID          string            `json:"family_id"`
	ContactPreference ContactMode       `json:"contact_preference,omitempty"`
	PrimaryCareGroup  *PrimaryCareGroup `json:"primary_care_group,omitempty"`
	DateOfBirth       time.Time         `json:"date_of_birth"`
	Issue             string            `json:"issue,omitempty"`
	Sex               string            `json:"sex,omitempty"`
	CancerPathway     bool              `json:"cancer_pathway"`
	Comorbidities     Comorbidities     `json:"comorbidities"`
	History           []string          `json:"history,omitempty"`
}

// HistoryLines is the patient's free-text history followed by present comorbidities.
func (p *Patient) HistoryLines() []string {
	lines := make([]string, 0, len(p.History)+4)
	lines = append(lines, p.History...)
	return append(lines, p.Comorbidities.Names()...)
}

// SlotRef identifies a slot inside one caregiver's timetable.
type SlotRef struct {
	Index int
	Slot  Timeslot
}

// Booking is the result of a successful allocation.
type Booking struct {
	ID          uuid.UUID `json:"id"`
	PracticeID  string    `json:"practice_id"`
	PatientID   string    `json:"patient_id"`
	CaregiverID string    `json:"caregiver_id"`
	Role        Role      `json:"role"`
	SlotID      uuid.UUID `json:"slot_id"`
	SlotIndex   int       `json:"-"`
	Time        time.Time `json:"time"`
	// Rank is 0 when the bound caregiver was used, otherwise the 1-based
	// position of the alternate in the cascade.
	Rank      int       `json:"rank"`
	Cascaded  bool      `json:"cascaded"`
	CreatedAt time.Time `json:"created_at"`
}
