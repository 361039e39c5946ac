package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrInvalidURL = errors.New("invalid webhook url")

// EventTest is sent by TestEndpoint regardless of the endpoint's
// subscriptions.
const EventTest = "webhook.test"

// SignPayload returns the hex HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature produced by SignPayload. A "sha256="
// prefix, as sent in the X-Webhook-Signature header, is accepted.
func VerifySignature(payload []byte, secret, signature string) bool {
	signature = strings.TrimPrefix(signature, "sha256=")
	return hmac.Equal([]byte(SignPayload(payload, secret)), []byte(signature))
}

type Option func(*Manager)

func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.httpClient = c }
}

// WithMaxRetries sets how many times a failed delivery is retried.
func WithMaxRetries(n int) Option {
	return func(m *Manager) { m.maxRetries = n }
}

// WithRetryDelay sets the base delay; the n-th retry waits n times as long.
func WithRetryDelay(d time.Duration) Option {
	return func(m *Manager) { m.retryDelay = d }
}

func WithQueueSize(n int) Option {
	return func(m *Manager) { m.queueSize = n }
}

func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithObserver is called once per finished delivery and once per event
// dropped because the queue was full.
func WithObserver(fn func(eventType, status string)) Option {
	return func(m *Manager) { m.observe = fn }
}

// Manager fans events out to subscribed endpoints. Publish only enqueues;
// Run performs the deliveries.
type Manager struct {
	store      Store
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
	queueSize  int
	queue      chan Event
	logger     zerolog.Logger
	observe    func(eventType, status string)
}

func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:      store,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		maxRetries: 3,
		retryDelay: time.Second,
		queueSize:  1000,
		logger:     zerolog.Nop(),
		observe:    func(string, string) {},
	}
	for _, o := range opts {
		o(m)
	}
	if m.queueSize <= 0 {
		m.queueSize = 1
	}
	m.queue = make(chan Event, m.queueSize)
	return m
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func validateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidURL)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if s := strings.ToLower(u.Scheme); s != "http" && s != "https" {
		return fmt.Errorf("%w: scheme must be http or https, got %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return nil
}

// RegisterEndpoint stores a new active endpoint. An empty secret is replaced
// by a random one; an empty event list subscribes to everything.
func (m *Manager) RegisterEndpoint(ctx context.Context, rawURL, secret, practiceID string, events []string) (*Endpoint, error) {
	if err := validateURL(rawURL); err != nil {
		return nil, err
	}
	if secret == "" {
		s, err := generateSecret()
		if err != nil {
			return nil, fmt.Errorf("generate secret: %w", err)
		}
		secret = s
	}
	if len(events) == 0 {
		events = []string{"*"}
	}
	ep := &Endpoint{
		ID:         uuid.New().String(),
		URL:        rawURL,
		Secret:     secret,
		Events:     events,
		PracticeID: practiceID,
		Status:     StatusActive,
		CreatedAt:  time.Now().UTC(),
	}
	if err := m.store.CreateEndpoint(ctx, ep); err != nil {
		return nil, err
	}
	m.logger.Info().Str("endpoint_id", ep.ID).Str("practice_id", practiceID).Strs("events", events).Msg("webhook endpoint registered")
	return ep, nil
}

func (m *Manager) SetStatus(ctx context.Context, id, status string) (*Endpoint, error) {
	if status != StatusActive && status != StatusPaused {
		return nil, fmt.Errorf("unknown endpoint status %q", status)
	}
	ep, err := m.store.GetEndpoint(ctx, id)
	if err != nil {
		return nil, err
	}
	ep.Status = status
	if err := m.store.UpdateEndpoint(ctx, ep); err != nil {
		return nil, err
	}
	return ep, nil
}

func (m *Manager) Endpoint(ctx context.Context, id string) (*Endpoint, error) {
	return m.store.GetEndpoint(ctx, id)
}

func (m *Manager) Endpoints(ctx context.Context, practiceID string, limit, offset int) ([]*Endpoint, int, error) {
	return m.store.ListEndpoints(ctx, practiceID, limit, offset)
}

func (m *Manager) DeleteEndpoint(ctx context.Context, id string) error {
	return m.store.DeleteEndpoint(ctx, id)
}

func (m *Manager) Deliveries(ctx context.Context, endpointID string, limit, offset int) ([]*Delivery, int, error) {
	if _, err := m.store.GetEndpoint(ctx, endpointID); err != nil {
		return nil, 0, err
	}
	return m.store.ListDeliveries(ctx, endpointID, limit, offset)
}

// eventMatches accepts an exact name, "*", or a "prefix.*" pattern.
func eventMatches(pattern, eventType string) bool {
	switch {
	case pattern == "*" || pattern == eventType:
		return true
	case strings.HasSuffix(pattern, ".*"):
		return strings.HasPrefix(eventType, pattern[:len(pattern)-1])
	}
	return false
}

func (ep *Endpoint) subscribed(ev Event) bool {
	if ep.Status != StatusActive {
		return false
	}
	if ep.PracticeID != "" && ep.PracticeID != ev.PracticeID {
		return false
	}
	for _, pat := range ep.Events {
		if eventMatches(pat, ev.Type) {
			return true
		}
	}
	return false
}

func (m *Manager) subscribers(ctx context.Context, ev Event) ([]*Endpoint, error) {
	all, _, err := m.store.ListEndpoints(ctx, "", 0, 0)
	if err != nil {
		return nil, err
	}
	var out []*Endpoint
	for _, ep := range all {
		if ep.subscribed(ev) {
			out = append(out, ep)
		}
	}
	return out, nil
}

// Publish queues an event for delivery. It never blocks: events with no
// subscriber are skipped and a full queue drops the event.
func (m *Manager) Publish(ctx context.Context, eventType, practiceID string, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		m.logger.Error().Err(err).Str("event", eventType).Msg("webhook payload not encodable")
		return
	}
	ev := Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		PracticeID: practiceID,
		Payload:    body,
		Timestamp:  time.Now().UTC(),
	}
	subs, err := m.subscribers(ctx, ev)
	if err != nil {
		m.logger.Error().Err(err).Str("event", eventType).Msg("list webhook endpoints")
		return
	}
	if len(subs) == 0 {
		return
	}
	select {
	case m.queue <- ev:
	default:
		m.logger.Warn().Str("event", eventType).Str("practice_id", practiceID).Msg("webhook queue full, event dropped")
		m.observe(eventType, "dropped")
	}
}

// Run delivers queued events until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.queue:
			m.Deliver(ctx, ev)
		}
	}
}

// Deliver sends ev to every subscribed endpoint, one after another.
func (m *Manager) Deliver(ctx context.Context, ev Event) []*Delivery {
	subs, err := m.subscribers(ctx, ev)
	if err != nil {
		m.logger.Error().Err(err).Str("event", ev.Type).Msg("list webhook endpoints")
		return nil
	}
	out := make([]*Delivery, 0, len(subs))
	for _, ep := range subs {
		out = append(out, m.deliverTo(ctx, ep, ev))
	}
	return out
}

// TestEndpoint sends a webhook.test event to the endpoint, ignoring its
// status and subscriptions.
func (m *Manager) TestEndpoint(ctx context.Context, id string) (*Delivery, error) {
	ep, err := m.store.GetEndpoint(ctx, id)
	if err != nil {
		return nil, err
	}
	ev := Event{
		ID:         uuid.New().String(),
		Type:       EventTest,
		PracticeID: ep.PracticeID,
		Payload:    json.RawMessage(`{}`),
		Timestamp:  time.Now().UTC(),
	}
	return m.deliverTo(ctx, ep, ev), nil
}

func (m *Manager) deliverTo(ctx context.Context, ep *Endpoint, ev Event) *Delivery {
	d := &Delivery{
		ID:         uuid.New().String(),
		EndpointID: ep.ID,
		EventID:    ev.ID,
		EventType:  ev.Type,
		Status:     "failed",
		CreatedAt:  time.Now().UTC(),
	}
	body, err := json.Marshal(ev)
	if err != nil {
		d.Error = err.Error()
		m.finish(ctx, d)
		return d
	}

	start := time.Now()
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				d.Error = ctx.Err().Error()
				d.Duration = time.Since(start)
				m.finish(ctx, d)
				return d
			case <-time.After(m.retryDelay * time.Duration(attempt)):
			}
		}
		d.Attempts = attempt + 1
		code, retry, err := m.send(ctx, ep, body)
		d.StatusCode = code
		if err == nil {
			d.Status = "success"
			d.Error = ""
			break
		}
		d.Error = err.Error()
		if !retry {
			break
		}
	}
	d.Duration = time.Since(start)
	m.finish(ctx, d)
	return d
}

// send reports whether a failed attempt is worth retrying: transport
// errors, 5xx and 429 are.
func (m *Manager) send(ctx context.Context, ep *Endpoint, body []byte) (int, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return 0, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", "sha256="+SignPayload(body, ep.Secret))
	req.Header.Set("X-Webhook-ID", ep.ID)
	req.Header.Set("X-Webhook-Timestamp", time.Now().UTC().Format(time.RFC3339))

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return 0, ctx.Err() == nil, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.StatusCode, false, nil
	}
	retry := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
	return resp.StatusCode, retry, fmt.Errorf("non-2xx response: %d", resp.StatusCode)
}

func (m *Manager) finish(ctx context.Context, d *Delivery) {
	if err := m.store.RecordDelivery(context.WithoutCancel(ctx), d); err != nil {
		m.logger.Error().Err(err).Str("endpoint_id", d.EndpointID).Msg("record webhook delivery")
	}
	m.observe(d.EventType, d.Status)

	ev := m.logger.Debug()
	if d.Status != "success" {
		ev = m.logger.Warn()
	}
	ev.Str("endpoint_id", d.EndpointID).
		Str("event", d.EventType).
		Int("status_code", d.StatusCode).
		Int("attempts", d.Attempts).
		Str("error", d.Error).
		Msg("webhook delivery finished")
}
