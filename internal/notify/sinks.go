package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EmailConfig configures SMTP delivery
type EmailConfig struct {
	SMTPHost string   `yaml:"smtp_host" mapstructure:"smtp_host"`
	SMTPPort int      `yaml:"smtp_port" mapstructure:"smtp_port"`
	Username string   `yaml:"username" mapstructure:"username"`
	Password string   `yaml:"password" mapstructure:"password"`
	From     string   `yaml:"from" mapstructure:"from"`
	To       []string `yaml:"to" mapstructure:"to"`
}

// WebhookConfig configures a generic JSON webhook
type WebhookConfig struct {
	URL     string            `yaml:"url" mapstructure:"url"`
	Method  string            `yaml:"method" mapstructure:"method"`
	Headers map[string]string `yaml:"headers" mapstructure:"headers"`
}

// SlackConfig configures a Slack incoming webhook
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
	Channel    string `yaml:"channel" mapstructure:"channel"`
	Username   string `yaml:"username" mapstructure:"username"`
}

// TeamsConfig configures a Microsoft Teams incoming webhook
type TeamsConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// FileConfig configures an append-only notification log
type FileConfig struct {
	Path   string `yaml:"path" mapstructure:"path"`
	Format string `yaml:"format" mapstructure:"format"` // json, text
}

// sendMailFunc matches smtp.SendMail
type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailSink sends notifications over SMTP
type EmailSink struct {
	config   EmailConfig
	sendMail sendMailFunc
}

// NewEmailSink creates an SMTP sink
func NewEmailSink(config EmailConfig) *EmailSink {
	return &EmailSink{config: config, sendMail: smtp.SendMail}
}

func (e *EmailSink) Type() string { return "email" }

func (e *EmailSink) Send(ctx context.Context, n Notification) (DeliveryResult, error) {
	recipients := e.config.To
	if n.Recipient != "" {
		recipients = []string{n.Recipient}
	}
	result := DeliveryResult{Channel: n.Channel, Recipient: strings.Join(recipients, ",")}

	if e.config.SMTPHost == "" || len(recipients) == 0 {
		return result, fmt.Errorf("email configuration incomplete")
	}

	body := fmt.Sprintf("%s\r\n\r\nAlert ID: %s\r\nType: %s\r\nSeverity: %s\r\nSubject: %s\r\nTime: %s\r\n",
		n.Body, n.Metadata.AlertID, n.Metadata.AlertType, n.Metadata.Severity,
		n.Metadata.Subject, n.Metadata.CreatedAt.Format(time.RFC3339))
	message := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		e.config.From, strings.Join(recipients, ","), n.Subject, body)

	var auth smtp.Auth
	if e.config.Username != "" {
		auth = smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.SMTPHost)
	}
	addr := fmt.Sprintf("%s:%d", e.config.SMTPHost, e.config.SMTPPort)

	if err := e.sendMail(addr, auth, e.config.From, recipients, []byte(message)); err != nil {
		return result, fmt.Errorf("failed to send email: %w", err)
	}

	result.Delivered = true
	result.DeliveredAt = time.Now()
	return result, nil
}

// httpSink posts JSON payloads; webhook, Slack and Teams share it
type httpSink struct {
	kind    string
	url     string
	method  string
	headers map[string]string
	client  *http.Client
	payload func(n Notification) interface{}
}

func (h *httpSink) Type() string { return h.kind }

func (h *httpSink) Send(ctx context.Context, n Notification) (DeliveryResult, error) {
	result := DeliveryResult{Channel: n.Channel, Recipient: n.Recipient}
	if h.url == "" {
		return result, fmt.Errorf("%s URL not configured", h.kind)
	}

	body, err := json.Marshal(h.payload(n))
	if err != nil {
		return result, fmt.Errorf("failed to marshal %s payload: %w", h.kind, err)
	}

	req, err := http.NewRequestWithContext(ctx, h.method, h.url, bytes.NewReader(body))
	if err != nil {
		return result, fmt.Errorf("failed to create %s request: %w", h.kind, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range h.headers {
		req.Header.Set(key, value)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return result, fmt.Errorf("failed to send %s notification: %w", h.kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return result, fmt.Errorf("%s returned error status: %d", h.kind, resp.StatusCode)
	}

	result.Delivered = true
	result.DeliveredAt = time.Now()
	result.MessageID = resp.Header.Get("X-Request-Id")
	return result, nil
}

// NewWebhookSink posts the notification as JSON
func NewWebhookSink(config WebhookConfig, client *http.Client) Sink {
	method := config.Method
	if method == "" {
		method = http.MethodPost
	}
	return &httpSink{
		kind:    "webhook",
		url:     config.URL,
		method:  method,
		headers: config.Headers,
		client:  defaultClient(client),
		payload: func(n Notification) interface{} { return n },
	}
}

// NewSlackSink posts a Slack attachment message
func NewSlackSink(config SlackConfig, client *http.Client) Sink {
	return &httpSink{
		kind:   "slack",
		url:    config.WebhookURL,
		method: http.MethodPost,
		client: defaultClient(client),
		payload: func(n Notification) interface{} {
			color, emoji := severityStyle(n.Metadata.Severity)
			payload := map[string]interface{}{
				"text": fmt.Sprintf("%s %s", emoji, n.Subject),
				"attachments": []map[string]interface{}{
					{
						"color":     color,
						"title":     n.Subject,
						"text":      n.Body,
						"timestamp": n.Metadata.CreatedAt.Unix(),
						"fields": []map[string]interface{}{
							{"title": "Alert ID", "value": n.Metadata.AlertID, "short": true},
							{"title": "Type", "value": n.Metadata.AlertType, "short": true},
							{"title": "Severity", "value": n.Metadata.Severity, "short": true},
						},
					},
				},
			}
			if config.Channel != "" {
				payload["channel"] = config.Channel
			}
			if n.Recipient != "" {
				payload["channel"] = n.Recipient
			}
			if config.Username != "" {
				payload["username"] = config.Username
			}
			return payload
		},
	}
}

// NewTeamsSink posts a MessageCard
func NewTeamsSink(config TeamsConfig, client *http.Client) Sink {
	return &httpSink{
		kind:   "teams",
		url:    config.WebhookURL,
		method: http.MethodPost,
		client: defaultClient(client),
		payload: func(n Notification) interface{} {
			color, _ := severityStyle(n.Metadata.Severity)
			return map[string]interface{}{
				"@type":      "MessageCard",
				"@context":   "http://schema.org/extensions",
				"summary":    n.Subject,
				"themeColor": strings.TrimPrefix(color, "#"),
				"sections": []map[string]interface{}{
					{
						"activityTitle":    n.Subject,
						"activitySubtitle": fmt.Sprintf("Alert ID: %s", n.Metadata.AlertID),
						"text":             n.Body,
						"facts": []map[string]interface{}{
							{"name": "Type", "value": n.Metadata.AlertType},
							{"name": "Severity", "value": n.Metadata.Severity},
							{"name": "Time", "value": n.Metadata.CreatedAt.Format(time.RFC3339)},
						},
					},
				},
			}
		},
	}
}

// FileSink appends notifications to a local file
type FileSink struct {
	mu     sync.Mutex
	config FileConfig
}

// NewFileSink creates a file sink
func NewFileSink(config FileConfig) *FileSink {
	return &FileSink{config: config}
}

func (f *FileSink) Type() string { return "file" }

func (f *FileSink) Send(ctx context.Context, n Notification) (DeliveryResult, error) {
	result := DeliveryResult{Channel: n.Channel, Recipient: f.config.Path}
	if f.config.Path == "" {
		return result, fmt.Errorf("file path not configured")
	}

	var content string
	switch f.config.Format {
	case "json":
		data, err := json.Marshal(n)
		if err != nil {
			return result, fmt.Errorf("failed to marshal notification to JSON: %w", err)
		}
		content = string(data) + "\n"
	default:
		content = fmt.Sprintf("[%s] %s - %s: %s\n",
			n.Metadata.CreatedAt.Format(time.RFC3339),
			n.Metadata.Severity,
			n.Metadata.AlertType,
			n.Subject)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.OpenFile(f.config.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return result, fmt.Errorf("failed to open notification file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(content); err != nil {
		return result, fmt.Errorf("failed to write notification to file: %w", err)
	}

	result.Delivered = true
	result.DeliveredAt = time.Now()
	result.MessageID = uuid.New().String()
	return result, nil
}

func defaultClient(client *http.Client) *http.Client {
	if client != nil {
		return client
	}
	return &http.Client{Timeout: 30 * time.Second}
}
