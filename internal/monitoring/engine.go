package monitoring

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "db-resilience/internal/errors"
	"db-resilience/internal/logging"
	"db-resilience/internal/metrics"
	"db-resilience/internal/notify"
)

// Config tunes the alert engine
type Config struct {
	SuppressionWindow time.Duration    `yaml:"suppression_window" mapstructure:"suppression_window"`
	JanitorInterval   time.Duration    `yaml:"janitor_interval" mapstructure:"janitor_interval"`
	NotifyTimeout     time.Duration    `yaml:"notify_timeout" mapstructure:"notify_timeout"`
	DefaultChannels   []string         `yaml:"default_channels" mapstructure:"default_channels"`
	Escalation        EscalationPolicy `yaml:"escalation" mapstructure:"escalation"`
	Rules             RuleConfig       `yaml:"rules" mapstructure:"rules"`
}

// DefaultConfig returns a one hour suppression window and the standard rules
func DefaultConfig() Config {
	return Config{
		SuppressionWindow: time.Hour,
		JanitorInterval:   5 * time.Minute,
		NotifyTimeout:     30 * time.Second,
		Rules:             DefaultRuleConfig(),
	}
}

// Validate checks windows, the escalation policy and rule thresholds
func (c Config) Validate() error {
	if c.SuppressionWindow <= 0 {
		return fmt.Errorf("suppression window must be positive")
	}
	if c.NotifyTimeout <= 0 {
		return fmt.Errorf("notify timeout must be positive")
	}
	if err := c.Escalation.Validate(); err != nil {
		return err
	}
	return c.Rules.Validate()
}

type dispatchTarget struct {
	channel   string
	recipient string
	level     int
}

// Engine evaluates events, raises alerts and drives their lifecycle
type Engine struct {
	store   AlertStore
	sink    notify.Sink
	rules   []Rule
	config  Config
	logger  *logging.Logger
	metrics *metrics.Recorder
	now     func() time.Time

	suppression *suppressionCache
	locks       *keyedLock

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
	wg     sync.WaitGroup
}

// NewEngine validates the configuration and starts the suppression janitor.
// sink and history may be nil.
func NewEngine(store AlertStore, sink notify.Sink, history History, config Config, logger *logging.Logger, recorder *metrics.Recorder) (*Engine, error) {
	if store == nil {
		return nil, apperrors.NewConfigError("alert store is required", nil)
	}
	if err := config.Validate(); err != nil {
		return nil, apperrors.NewConfigError("invalid alert configuration", err)
	}
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}

	e := &Engine{
		store:   store,
		sink:    sink,
		rules:   DefaultRules(config.Rules, history),
		config:  config,
		logger:  logger,
		metrics: recorder,
		now:     time.Now,
		locks:   newKeyedLock(),
		timers:  make(map[string]*time.Timer),
	}
	e.suppression = newSuppressionCache(config.SuppressionWindow, func() time.Time { return e.now() })
	e.suppression.startJanitor(config.JanitorInterval)

	return e, nil
}

// AddRule appends a rule to the evaluation set
func (e *Engine) AddRule(rule Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, rule)
}

// Rules returns the current rule set
func (e *Engine) Rules() []Rule {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Rule(nil), e.rules...)
}

// Warm re-seeds suppression from unresolved alerts still inside the window,
// so a restart does not re-raise them
func (e *Engine) Warm(ctx context.Context) error {
	for _, status := range []AlertStatus{AlertStatusActive, AlertStatusAcknowledged} {
		alerts, err := e.store.ListAlerts(ctx, AlertFilter{Status: status})
		if err != nil {
			return fmt.Errorf("failed to load %s alerts: %w", status, err)
		}
		for _, a := range alerts {
			if e.now().Sub(a.CreatedAt) < e.config.SuppressionWindow {
				e.suppression.set(a.SuppressionKey(), a.ID, a.CreatedAt)
			}
		}
	}
	return nil
}

// Publish evaluates the event and logs rule errors
func (e *Engine) Publish(ctx context.Context, event Event) {
	if _, err := e.Evaluate(ctx, event); err != nil {
		e.logger.WithFields(map[string]interface{}{
			"event": string(event.Kind()),
			"error": err.Error(),
		}).Warn("Alert rule evaluation failed")
	}
}

// Evaluate runs every rule matching the event kind and returns the alerts
// that were created. Suppressed occurrences are not returned.
func (e *Engine) Evaluate(ctx context.Context, event Event) ([]*Alert, error) {
	var created []*Alert
	var errs []error

	for _, rule := range e.Rules() {
		if rule.Kind != event.Kind() {
			continue
		}
		req, err := rule.Evaluate(ctx, event)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %s: %w", rule.Name, err))
			continue
		}
		if req == nil {
			continue
		}
		alert, ok, err := e.CreateAlert(ctx, *req)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %s: %w", rule.Name, err))
			continue
		}
		if ok {
			created = append(created, alert)
		}
	}

	return created, errors.Join(errs...)
}

// CreateAlert raises an alert unless an unresolved alert with the same type
// and subject was created within the suppression window. The boolean is
// false when the request was suppressed.
func (e *Engine) CreateAlert(ctx context.Context, req AlertRequest) (*Alert, bool, error) {
	if req.Type == "" {
		return nil, false, apperrors.NewValidationError("alert type is required", nil)
	}
	if req.Severity.Rank() == 0 {
		return nil, false, apperrors.NewValidationError(fmt.Sprintf("invalid alert severity %q", req.Severity), nil)
	}

	key := suppressionKey(req.Type, req.Subject)
	unlock := e.locks.lock(key)
	defer unlock()

	if holder, ok := e.suppression.get(key); ok {
		e.metrics.ObserveAlertSuppressed(string(req.Type))
		e.logger.WithFields(map[string]interface{}{
			"alert_type": string(req.Type),
			"subject":    req.Subject,
			"holder":     holder,
		}).Debug("Alert suppressed")
		return nil, false, nil
	}

	now := e.now()
	alert := &Alert{
		ID:        uuid.New().String(),
		Type:      req.Type,
		Severity:  req.Severity,
		Status:    AlertStatusActive,
		Subject:   req.Subject,
		Title:     req.Title,
		Message:   req.Message,
		CreatedAt: now,
	}
	if len(e.config.Escalation.Levels) > 0 {
		alert.EscalationLevel = 1
	}

	stored, err := e.store.CreateAlert(ctx, alert)
	if err != nil {
		return nil, false, apperrors.WrapError(err, "failed to persist alert")
	}
	e.suppression.set(key, stored.ID, now)

	e.metrics.ObserveAlertCreated(string(stored.Type), string(stored.Severity))
	e.logger.LogAlert(stored.ID, string(stored.Type), string(stored.Severity), "created")

	for _, target := range e.initialTargets(stored, req.Channels) {
		e.dispatch(*stored, target)
	}
	e.scheduleEscalation(stored.ID, key, 2)

	return stored, true, nil
}

// Acknowledge moves an active alert to acknowledged and stops escalation
func (e *Engine) Acknowledge(ctx context.Context, id, by string) (*Alert, error) {
	return e.transition(ctx, id, func(a *Alert, now time.Time) error {
		if a.Status != AlertStatusActive {
			return apperrors.NewConflictError(fmt.Sprintf("alert %s is %s and cannot be acknowledged", a.ID, a.Status))
		}
		a.Status = AlertStatusAcknowledged
		a.AcknowledgedAt = &now
		a.AcknowledgedBy = by
		return nil
	})
}

// Resolve closes any unresolved alert and releases its suppression key
func (e *Engine) Resolve(ctx context.Context, id, by string) (*Alert, error) {
	alert, err := e.transition(ctx, id, func(a *Alert, now time.Time) error {
		if a.Status == AlertStatusResolved {
			return apperrors.NewConflictError(fmt.Sprintf("alert %s is already resolved", a.ID))
		}
		a.Status = AlertStatusResolved
		a.ResolvedAt = &now
		a.ResolvedBy = by
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.suppression.release(alert.SuppressionKey(), alert.ID)
	return alert, nil
}

func (e *Engine) transition(ctx context.Context, id string, apply func(a *Alert, now time.Time) error) (*Alert, error) {
	current, err := e.store.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}

	unlock := e.locks.lock(current.SuppressionKey())
	defer unlock()

	// reload under the key lock so concurrent transitions observe each other
	alert, err := e.store.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := apply(alert, e.now()); err != nil {
		return nil, err
	}
	if err := e.store.UpdateAlert(ctx, alert); err != nil {
		return nil, apperrors.WrapError(err, "failed to update alert")
	}

	e.stopEscalation(alert.ID)
	e.metrics.ObserveAlertTransition(string(alert.Status))
	e.logger.LogAlert(alert.ID, string(alert.Type), string(alert.Severity), string(alert.Status))
	return alert, nil
}

// GetAlert returns one alert
func (e *Engine) GetAlert(ctx context.Context, id string) (*Alert, error) {
	return e.store.GetAlert(ctx, id)
}

// ListAlerts returns stored alerts matching the filter
func (e *Engine) ListAlerts(ctx context.Context, filter AlertFilter) ([]*Alert, error) {
	return e.store.ListAlerts(ctx, filter)
}

// ActiveCount is the number of suppression keys currently held
func (e *Engine) ActiveCount() int {
	return e.suppression.len()
}

// Close stops escalation timers and the janitor, then waits for in-flight
// notifications
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	timers := e.timers
	e.timers = make(map[string]*time.Timer)
	e.mu.Unlock()

	for _, t := range timers {
		if t.Stop() {
			e.wg.Done()
		}
	}
	e.wg.Wait()
	e.suppression.close()
}

// initialTargets is level 1 of the escalation policy, plus bypass levels for
// critical alerts. Without a policy the default channels are used. Extra
// channels requested by the alert are added unless already targeted.
func (e *Engine) initialTargets(alert *Alert, extra []string) []dispatchTarget {
	var targets []dispatchTarget
	policy := e.config.Escalation
	if len(policy.Levels) == 0 {
		for _, ch := range e.config.DefaultChannels {
			targets = append(targets, dispatchTarget{channel: ch})
		}
	} else {
		targets = levelTargets(policy.Levels[0])
		if alert.Severity == SeverityCritical {
			for _, level := range policy.Levels[1:] {
				if level.AllowBypass {
					targets = append(targets, levelTargets(level)...)
				}
			}
		}
	}

	seen := make(map[string]bool, len(targets))
	for _, t := range targets {
		seen[t.channel] = true
	}
	for _, ch := range extra {
		if ch == "" || seen[ch] {
			continue
		}
		seen[ch] = true
		targets = append(targets, dispatchTarget{channel: ch, level: alert.EscalationLevel})
	}
	return targets
}

func levelTargets(level EscalationLevel) []dispatchTarget {
	var targets []dispatchTarget
	for _, ch := range level.Channels {
		if len(level.Contacts) == 0 {
			targets = append(targets, dispatchTarget{channel: ch, level: level.Level})
			continue
		}
		for _, contact := range level.Contacts {
			targets = append(targets, dispatchTarget{channel: ch, recipient: contact, level: level.Level})
		}
	}
	return targets
}

// dispatch sends one notification on its own goroutine. Failures are logged
// and counted, never returned.
func (e *Engine) dispatch(alert Alert, target dispatchTarget) {
	if e.sink == nil {
		return
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.logger.WithFields(map[string]interface{}{
			"alert_id": alert.ID,
			"channel":  target.channel,
		}).Debug("Engine closed, notification dropped")
		return
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), e.config.NotifyTimeout)
		defer cancel()

		n := buildNotification(alert, target)
		_, err := e.sink.Send(ctx, n)
		e.metrics.ObserveNotification(target.channel, err == nil)
		if err != nil {
			dispatchErr := apperrors.NewRecoverableError(apperrors.ErrorTypeDispatch, "notification delivery failed", err).
				WithContext("alert_id", alert.ID).
				WithContext("channel", target.channel)
			e.logger.WithFields(map[string]interface{}{
				"alert_id":  alert.ID,
				"channel":   target.channel,
				"recipient": target.recipient,
				"error":     dispatchErr.Error(),
			}).Warn("Notification dispatch failed")
			return
		}

		e.recordDelivery(ctx, alert.ID, alert.SuppressionKey())
	}()
}

func (e *Engine) recordDelivery(ctx context.Context, alertID, key string) {
	unlock := e.locks.lock(key)
	defer unlock()

	alert, err := e.store.GetAlert(ctx, alertID)
	if err != nil {
		e.logger.WithField("alert_id", alertID).Warnf("Failed to load alert after delivery: %v", err)
		return
	}
	alert.NotificationCount++
	if err := e.store.UpdateAlert(ctx, alert); err != nil {
		e.logger.WithField("alert_id", alertID).Warnf("Failed to record delivery: %v", err)
	}
}

func buildNotification(alert Alert, target dispatchTarget) notify.Notification {
	return notify.Notification{
		Channel:   target.channel,
		Recipient: target.recipient,
		Subject:   fmt.Sprintf("[%s] %s", strings.ToUpper(string(alert.Severity)), alert.Title),
		Body:      alert.Message,
		Metadata: notify.Metadata{
			AlertID:         alert.ID,
			AlertType:       string(alert.Type),
			Severity:        string(alert.Severity),
			Subject:         alert.Subject,
			EscalationLevel: target.level,
			CreatedAt:       alert.CreatedAt,
		},
	}
}

// scheduleEscalation arms a timer that notifies level n if the alert is
// still active when the level's delay elapses
func (e *Engine) scheduleEscalation(alertID, key string, n int) {
	policy := e.config.Escalation
	if !policy.AutoEscalate || n > policy.maxLevel() {
		return
	}
	level, ok := policy.level(n)
	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	e.wg.Add(1)
	e.timers[alertID] = time.AfterFunc(level.Delay(), func() {
		defer e.wg.Done()
		e.escalate(alertID, key, level)
	})
}

func (e *Engine) escalate(alertID, key string, level EscalationLevel) {
	e.mu.Lock()
	delete(e.timers, alertID)
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), e.config.NotifyTimeout)
	defer cancel()

	unlock := e.locks.lock(key)
	alert, err := e.store.GetAlert(ctx, alertID)
	if err != nil || alert.Status != AlertStatusActive {
		unlock()
		return
	}
	alert.EscalationLevel = level.Level
	if err := e.store.UpdateAlert(ctx, alert); err != nil {
		unlock()
		e.logger.WithField("alert_id", alertID).Warnf("Failed to escalate alert: %v", err)
		return
	}
	snapshot := *alert
	unlock()

	e.logger.LogAlert(alertID, string(snapshot.Type), string(snapshot.Severity), fmt.Sprintf("escalated to level %d", level.Level))
	for _, target := range levelTargets(level) {
		e.dispatch(snapshot, target)
	}
	e.scheduleEscalation(alertID, key, level.Level+1)
}

func (e *Engine) stopEscalation(alertID string) {
	e.mu.Lock()
	t, ok := e.timers[alertID]
	delete(e.timers, alertID)
	e.mu.Unlock()

	if ok && t.Stop() {
		e.wg.Done()
	}
}
