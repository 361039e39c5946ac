package matching

import (
	"fmt"
	"sort"
)

// Urgency is reference data describing how soon a patient must be seen.
// Higher levels are more urgent.
type Urgency struct {
	Name        string `json:"name"`
	MaxWaitDays int    `json:"max_wait_days"`
	Level       int    `json:"level"`
}

var (
	Routine   = Urgency{Name: "routine", MaxWaitDays: 30, Level: 0}
	Urgent2WW = Urgency{Name: "urgent-2ww", MaxWaitDays: 14, Level: 1}
	Urgent    = Urgency{Name: "urgent", MaxWaitDays: 2, Level: 2}
)

// Policy maps the integer codes supplied by the advisory service to
// urgencies and roles. A Policy is immutable once built.
type Policy struct {
	urgencies map[int]Urgency
	roles     map[int]Role
}

// DefaultPolicy is the canonical three-level table with 0=doctor, 1=nurse.
func DefaultPolicy() Policy {
	p, _ := NewPolicy(
		map[int]Urgency{0: Routine, 1: Urgent2WW, 2: Urgent},
		map[int]Role{0: RoleDoctor, 1: RoleNurse},
	)
	return p
}

// NewPolicy validates and copies the given tables.
func NewPolicy(urgencies map[int]Urgency, roles map[int]Role) (Policy, error) {
	if len(urgencies) == 0 {
		return Policy{}, fmt.Errorf("policy needs at least one urgency")
	}
	if len(roles) == 0 {
		return Policy{}, fmt.Errorf("policy needs at least one role")
	}
	p := Policy{
		urgencies: make(map[int]Urgency, len(urgencies)),
		roles:     make(map[int]Role, len(roles)),
	}
	for code, u := range urgencies {
		if u.MaxWaitDays <= 0 {
			return Policy{}, fmt.Errorf("urgency %d (%s): %w", code, u.Name, ErrInvalidDeadline)
		}
		p.urgencies[code] = u
	}
	for code, r := range roles {
		if !r.Valid() {
			return Policy{}, fmt.Errorf("role code %d: %w: %q", code, ErrUnknownRole, r)
		}
		p.roles[code] = r
	}
	return p, nil
}

// Urgency resolves an urgency code.
func (p Policy) Urgency(code int) (Urgency, error) {
	u, ok := p.urgencies[code]
	if !ok {
		return Urgency{}, fmt.Errorf("%w: %d", ErrUnknownUrgency, code)
	}
	return u, nil
}

// Role resolves a role code.
func (p Policy) Role(code int) (Role, error) {
	r, ok := p.roles[code]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnknownRole, code)
	}
	return r, nil
}

// UrgencyCodes lists the known urgency codes in ascending order.
func (p Policy) UrgencyCodes() []int {
	codes := make([]int, 0, len(p.urgencies))
	for c := range p.urgencies {
		codes = append(codes, c)
	}
	sort.Ints(codes)
	return codes
}
