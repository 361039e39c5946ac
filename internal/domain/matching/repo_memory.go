package matching

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// memoryRepo keeps practices in process. Get hands out a copy, so only a
// successful Apply changes the stored practice.
type memoryRepo struct {
	mu        sync.RWMutex
	practices map[string]*Practice
	bookings  map[string][]*Booking
}

// NewMemoryRepo returns a PracticeRepository that lives in memory.
func NewMemoryRepo() PracticeRepository {
	return &memoryRepo{
		practices: make(map[string]*Practice),
		bookings:  make(map[string][]*Booking),
	}
}

func (r *memoryRepo) Get(_ context.Context, practiceID string) (*Practice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.practices[practiceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPracticeNotFound, practiceID)
	}
	return p.clone(), nil
}

func (r *memoryRepo) Save(_ context.Context, p *Practice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.practices[p.ID]; ok {
		for id, g := range old.bindings {
			if !p.IsRegistered(id) {
				p.Bind(id, g)
			}
		}
	}
	r.practices[p.ID] = p
	return nil
}

func (r *memoryRepo) Apply(_ context.Context, c Change) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.practices[c.PracticeID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPracticeNotFound, c.PracticeID)
	}
	var cg *Caregiver
	if b := c.Booking; b != nil {
		for _, prev := range r.bookings[c.PracticeID] {
			if prev.SlotID == b.SlotID {
				return fmt.Errorf("%w: %s", ErrSlotConflict, b.SlotID)
			}
		}
		if found, ok := p.Caregiver(b.Role, b.CaregiverID); ok {
			if s := found.Timetable.Slots(); b.SlotIndex >= len(s) || s[b.SlotIndex].ID != b.SlotID || !s[b.SlotIndex].Free {
				return fmt.Errorf("%w: %s", ErrSlotConflict, b.SlotID)
			}
			cg = found
		}
	}

	if c.Binding != nil {
		if _, bound := p.Binding(c.PatientID); !bound {
			p.Bind(c.PatientID, *c.Binding)
		}
	}
	if b := c.Booking; b != nil {
		if cg != nil {
			cg.Timetable.book(b.SlotIndex, b.SlotID)
		}
		r.bookings[c.PracticeID] = append(r.bookings[c.PracticeID], b)
	}
	return nil
}

func (r *memoryRepo) ListBookings(_ context.Context, practiceID string, limit, offset int) ([]*Booking, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]*Booking, len(r.bookings[practiceID]))
	copy(all, r.bookings[practiceID])
	sort.SliceStable(all, func(i, j int) bool { return all[i].Time.Before(all[j].Time) })

	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return all[offset:end], total, nil
}
