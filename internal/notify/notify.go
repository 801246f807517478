// Package notify delivers alert notifications. Sinks implement one
// transport each; the Router maps channel names to sinks.
package notify

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"db-resilience/internal/logging"
)

// Metadata is the structured context attached to every notification
type Metadata struct {
	AlertID         string    `json:"alert_id"`
	AlertType       string    `json:"alert_type"`
	Severity        string    `json:"severity"`
	Subject         string    `json:"subject"`
	EscalationLevel int       `json:"escalation_level"`
	CreatedAt       time.Time `json:"created_at"`
}

// Notification is one message to one recipient on one channel. An empty
// Recipient means the sink's configured default.
type Notification struct {
	Channel   string   `json:"channel"`
	Recipient string   `json:"recipient,omitempty"`
	Subject   string   `json:"subject"`
	Body      string   `json:"body"`
	Metadata  Metadata `json:"metadata"`
}

// DeliveryResult reports what a sink did with a notification
type DeliveryResult struct {
	Channel     string    `json:"channel"`
	Recipient   string    `json:"recipient,omitempty"`
	Delivered   bool      `json:"delivered"`
	MessageID   string    `json:"message_id,omitempty"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// Sink delivers notifications over one transport. Retries, if any, are the
// sink's concern.
type Sink interface {
	Send(ctx context.Context, n Notification) (DeliveryResult, error)
	Type() string
}

// Router dispatches notifications to the sink registered for their channel
type Router struct {
	mu     sync.RWMutex
	sinks  map[string]Sink
	logger *logging.Logger
}

// NewRouter creates an empty router
func NewRouter(logger *logging.Logger) *Router {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Router{sinks: make(map[string]Sink), logger: logger}
}

// Register binds a channel name to a sink, replacing any previous binding
func (r *Router) Register(channel string, sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks[channel] = sink
}

// Channels lists the registered channel names in sorted order
func (r *Router) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.sinks))
	for name := range r.sinks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Send delivers through the sink bound to n.Channel
func (r *Router) Send(ctx context.Context, n Notification) (DeliveryResult, error) {
	r.mu.RLock()
	sink, ok := r.sinks[n.Channel]
	r.mu.RUnlock()

	if !ok {
		return DeliveryResult{Channel: n.Channel, Recipient: n.Recipient}, fmt.Errorf("no sink registered for channel %q", n.Channel)
	}

	result, err := sink.Send(ctx, n)
	if err != nil {
		return result, fmt.Errorf("%s: %w", sink.Type(), err)
	}

	r.logger.WithFields(map[string]interface{}{
		"channel":  n.Channel,
		"alert_id": n.Metadata.AlertID,
	}).Debug("Notification delivered")
	return result, nil
}

// Type identifies the router itself as a sink
func (r *Router) Type() string {
	return "router"
}

// HealthCheck fails when no channel is registered
func (r *Router) HealthCheck(ctx context.Context) error {
	if len(r.Channels()) == 0 {
		return fmt.Errorf("no notification channels configured")
	}
	return nil
}

// severityStyle returns the card color and Slack emoji for a severity
func severityStyle(severity string) (color, emoji string) {
	switch severity {
	case "critical":
		return "#ff0000", ":rotating_light:"
	case "high":
		return "#ff6600", ":warning:"
	case "medium":
		return "#ff9900", ":large_orange_diamond:"
	default:
		return "#36a64f", ":information_source:"
	}
}
