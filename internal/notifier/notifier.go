// Package notifier delivers best-effort audit notifications for API key
// creation. Delivery is fire-and-forget: the caller never waits on it
// and never observes a failure.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/keywarden/keywarden/internal/observability"
)

// Event is the audit payload emitted on first-time key creation.
type Event struct {
	// ID is a unique identifier for the event.
	ID string `json:"id"`

	// Timestamp is when the key was created.
	Timestamp time.Time `json:"timestamp"`

	// Key is the newly issued API key.
	Key string `json:"key"`

	// AppName, Website, and Email are the submitted identity fields.
	AppName string `json:"appName"`
	Website string `json:"website"`
	Email   string `json:"email"`

	// Tier is the access-level classifier of the new key.
	Tier int `json:"tier"`
}

// Notifier emits key-creation events.
type Notifier interface {
	// KeyCreated emits an event for a newly created key. It returns
	// immediately; delivery happens in the background and failures
	// are swallowed.
	KeyCreated(event Event)
}

// WebhookNotifier posts events as JSON to a configured endpoint.
//
// A circuit breaker guards the endpoint so that a dead receiver stops
// consuming goroutines and connection slots instead of timing out on
// every creation.
type WebhookNotifier struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  observability.Logger
}

// WebhookOption is a functional option for the webhook notifier.
type WebhookOption func(*WebhookNotifier)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) WebhookOption {
	return func(n *WebhookNotifier) {
		n.logger = logger
	}
}

// WithHTTPClient sets the HTTP client used for delivery.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(n *WebhookNotifier) {
		n.client = client
	}
}

// NewWebhookNotifier creates a webhook notifier for the given endpoint.
func NewWebhookNotifier(url string, timeout time.Duration, opts ...WebhookOption) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	n := &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(n)
	}

	n.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "audit-webhook",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			n.logger.Info("audit webhook breaker state change",
				observability.String("name", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()))
		},
	})

	return n
}

// KeyCreated emits an event for a newly created key.
func (n *WebhookNotifier) KeyCreated(event Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	go func() {
		_, err := n.breaker.Execute(func() (interface{}, error) {
			return nil, n.deliver(event)
		})
		if err != nil {
			// Best effort only. Low severity on purpose: a broken
			// audit endpoint must not pollute error-level logs.
			n.logger.Debug("audit notification dropped",
				observability.String("key", event.Key),
				observability.Error(err))
		}
	}()
}

// deliver posts a single event to the endpoint.
func (n *WebhookNotifier) deliver(event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(
		context.Background(), http.MethodPost, n.url, bytes.NewReader(body),
	)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver event: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// NopNotifier discards all events.
type NopNotifier struct{}

// KeyCreated implements Notifier.
func (NopNotifier) KeyCreated(Event) {}

// Ensure implementations satisfy Notifier.
var (
	_ Notifier = (*WebhookNotifier)(nil)
	_ Notifier = NopNotifier{}
)
