package matching

import (
	"encoding/json"
	"fmt"
)

// roster keeps the caregivers of one role in insertion order so that ranking
// ties are broken the same way on every run.
type roster struct {
	order []*Caregiver
	byID  map[string]*Caregiver
}

func newRoster() roster {
	return roster{byID: make(map[string]*Caregiver)}
}

func (r *roster) add(c *Caregiver) error {
	if _, ok := r.byID[c.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateCaregiver, c.ID)
	}
	r.order = append(r.order, c)
	r.byID[c.ID] = c
	return nil
}

// Practice is the registry of caregivers and registered patients for one
// GP practice. It owns the patient to primary care group bindings.
type Practice struct {
	ID       string
	doctors  roster
	nurses   roster
	patients IDSet
	bindings map[string]PrimaryCareGroup
}

func NewPractice(id string) *Practice {
	return &Practice{
		ID:       id,
		doctors:  newRoster(),
		nurses:   newRoster(),
		patients: NewIDSet(),
		bindings: make(map[string]PrimaryCareGroup),
	}
}

// AddCaregiver adds c to the roster for c.Role.
func (p *Practice) AddCaregiver(c *Caregiver) error {
	c.normalize()
	switch c.Role {
	case RoleDoctor:
		return p.doctors.add(c)
	case RoleNurse:
		return p.nurses.add(c)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownRole, c.Role)
	}
}

func (p *Practice) roster(role Role) *roster {
	if role == RoleNurse {
		return &p.nurses
	}
	return &p.doctors
}

// Caregiver looks up a caregiver of role by id.
func (p *Practice) Caregiver(role Role, id string) (*Caregiver, bool) {
	c, ok := p.roster(role).byID[id]
	return c, ok
}

// Caregivers returns the caregivers of role in insertion order.
func (p *Practice) Caregivers(role Role) []*Caregiver {
	r := p.roster(role)
	out := make([]*Caregiver, len(r.order))
	copy(out, r.order)
	return out
}

// IsRegistered reports whether patientID is a member of this practice.
func (p *Practice) IsRegistered(patientID string) bool {
	return p.patients.Has(patientID)
}

// Binding returns the stored primary care group for patientID.
func (p *Practice) Binding(patientID string) (PrimaryCareGroup, bool) {
	g, ok := p.bindings[patientID]
	return g, ok
}

// Bind records a registration loaded from storage. It does not rank.
func (p *Practice) Bind(patientID string, g PrimaryCareGroup) {
	p.patients.Add(patientID)
	p.bindings[patientID] = g
	if d, ok := p.doctors.byID[g.DoctorID]; ok {
		d.Patients.Add(patientID)
	}
	if n, ok := p.nurses.byID[g.NurseID]; ok {
		n.Patients.Add(patientID)
	}
}

// clone returns a deep copy of p. Bookings and registrations made on the
// copy do not reach p.
func (p *Practice) clone() *Practice {
	cp := NewPractice(p.ID)
	for _, c := range p.doctors.order {
		cp.doctors.add(c.clone())
	}
	for _, c := range p.nurses.order {
		cp.nurses.add(c.clone())
	}
	for id := range p.patients {
		cp.patients.Add(id)
	}
	for id, g := range p.bindings {
		cp.bindings[id] = g
	}
	return cp
}

// PatientIDs returns registered patient ids in ascending order.
func (p *Practice) PatientIDs() []string {
	return p.patients.Sorted()
}

type practiceJSON struct {
	ID       string                      `json:"id"`
	Doctors  []*Caregiver                `json:"doctors"`
	Nurses   []*Caregiver                `json:"nurses"`
	Patients IDSet                       `json:"patient_ids"`
	Bindings map[string]PrimaryCareGroup `json:"bindings"`
}

func (p *Practice) MarshalJSON() ([]byte, error) {
	return json.Marshal(practiceJSON{
		ID:       p.ID,
		Doctors:  p.doctors.order,
		Nurses:   p.nurses.order,
		Patients: p.patients,
		Bindings: p.bindings,
	})
}

func (p *Practice) UnmarshalJSON(data []byte) error {
	var raw practiceJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	np := NewPractice(raw.ID)
	for _, d := range raw.Doctors {
		d.Role = RoleDoctor
		if err := np.AddCaregiver(d); err != nil {
			return err
		}
	}
	for _, n := range raw.Nurses {
		n.Role = RoleNurse
		if err := np.AddCaregiver(n); err != nil {
			return err
		}
	}
	for id := range raw.Patients {
		np.patients.Add(id)
	}
	for id, g := range raw.Bindings {
		np.Bind(id, g)
	}
	*p = *np
	return nil
}
