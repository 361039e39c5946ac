// Package webhook delivers signed booking events to subscriber endpoints,
// such as a practice's patient messaging system.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrEndpointNotFound = errors.New("webhook endpoint not found")

const (
	StatusActive = "active"
	StatusPaused = "paused"
)

// Endpoint is a registered delivery destination. An empty PracticeID
// subscribes to events from every practice.
type Endpoint struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	Secret     string    `json:"secret,omitempty"`
	Events     []string  `json:"events"`
	PracticeID string    `json:"practice_id,omitempty"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// Event is the body POSTed to endpoints.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	PracticeID string          `json:"practice_id"`
	Payload    json.RawMessage `json:"payload"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Delivery records the final result of sending one event to one endpoint.
type Delivery struct {
	ID         string        `json:"id"`
	EndpointID string        `json:"endpoint_id"`
	EventID    string        `json:"event_id"`
	EventType  string        `json:"event_type"`
	StatusCode int           `json:"status_code"`
	Attempts   int           `json:"attempts"`
	Status     string        `json:"status"` // "success" or "failed"
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Store persists endpoints and their delivery log.
type Store interface {
	CreateEndpoint(ctx context.Context, ep *Endpoint) error
	GetEndpoint(ctx context.Context, id string) (*Endpoint, error)
	// ListEndpoints filters by practice; an empty practiceID lists all.
	ListEndpoints(ctx context.Context, practiceID string, limit, offset int) ([]*Endpoint, int, error)
	UpdateEndpoint(ctx context.Context, ep *Endpoint) error
	DeleteEndpoint(ctx context.Context, id string) error
	RecordDelivery(ctx context.Context, d *Delivery) error
	ListDeliveries(ctx context.Context, endpointID string, limit, offset int) ([]*Delivery, int, error)
}

// MemoryStore keeps endpoints in registration order and the most recent
// deliveries per endpoint.
type MemoryStore struct {
	mu            sync.RWMutex
	endpoints     map[string]*Endpoint
	order         []string
	deliveries    map[string][]*Delivery
	maxDeliveries int
}

// NewMemoryStore keeps at most maxDeliveries log entries per endpoint.
func NewMemoryStore(maxDeliveries int) *MemoryStore {
	if maxDeliveries <= 0 {
		maxDeliveries = 100
	}
	return &MemoryStore{
		endpoints:     make(map[string]*Endpoint),
		deliveries:    make(map[string][]*Delivery),
		maxDeliveries: maxDeliveries,
	}
}

func (s *MemoryStore) CreateEndpoint(_ context.Context, ep *Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.endpoints[ep.ID]; ok {
		return fmt.Errorf("endpoint %s already exists", ep.ID)
	}
	cp := *ep
	s.endpoints[ep.ID] = &cp
	s.order = append(s.order, ep.ID)
	return nil
}

func (s *MemoryStore) GetEndpoint(_ context.Context, id string) (*Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ep, ok := s.endpoints[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEndpointNotFound, id)
	}
	cp := *ep
	return &cp, nil
}

func (s *MemoryStore) ListEndpoints(_ context.Context, practiceID string, limit, offset int) ([]*Endpoint, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var filtered []*Endpoint
	for _, id := range s.order {
		ep := s.endpoints[id]
		if practiceID == "" || ep.PracticeID == practiceID {
			cp := *ep
			filtered = append(filtered, &cp)
		}
	}
	return page(filtered, limit, offset), len(filtered), nil
}

func (s *MemoryStore) UpdateEndpoint(_ context.Context, ep *Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.endpoints[ep.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrEndpointNotFound, ep.ID)
	}
	cp := *ep
	s.endpoints[ep.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteEndpoint(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.endpoints[id]; !ok {
		return fmt.Errorf("%w: %s", ErrEndpointNotFound, id)
	}
	delete(s.endpoints, id)
	delete(s.deliveries, id)
	for i, eid := range s.order {
		if eid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) RecordDelivery(_ context.Context, d *Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := append(s.deliveries[d.EndpointID], d)
	if len(log) > s.maxDeliveries {
		log = log[len(log)-s.maxDeliveries:]
	}
	s.deliveries[d.EndpointID] = log
	return nil
}

// ListDeliveries returns the newest deliveries first.
func (s *MemoryStore) ListDeliveries(_ context.Context, endpointID string, limit, offset int) ([]*Delivery, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.deliveries[endpointID]
	newest := make([]*Delivery, len(log))
	for i, d := range log {
		newest[len(log)-1-i] = d
	}
	return page(newest, limit, offset), len(newest), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if limit <= 0 || end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
