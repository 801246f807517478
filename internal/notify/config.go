package notify

import (
	"net/http"
	"time"

	"db-resilience/internal/logging"
)

// Config enables notification channels. A nil section disables its channel.
type Config struct {
	Timeout time.Duration  `yaml:"timeout" mapstructure:"timeout"`
	Email   *EmailConfig   `yaml:"email,omitempty" mapstructure:"email"`
	Webhook *WebhookConfig `yaml:"webhook,omitempty" mapstructure:"webhook"`
	Slack   *SlackConfig   `yaml:"slack,omitempty" mapstructure:"slack"`
	Teams   *TeamsConfig   `yaml:"teams,omitempty" mapstructure:"teams"`
	File    *FileConfig    `yaml:"file,omitempty" mapstructure:"file"`
}

// NewRouterFromConfig registers a sink under its type name for every
// configured channel
func NewRouterFromConfig(cfg Config, logger *logging.Logger) *Router {
	router := NewRouter(logger)

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	client := &http.Client{Timeout: timeout}

	if cfg.Email != nil {
		router.Register("email", NewEmailSink(*cfg.Email))
	}
	if cfg.Webhook != nil {
		router.Register("webhook", NewWebhookSink(*cfg.Webhook, client))
	}
	if cfg.Slack != nil {
		router.Register("slack", NewSlackSink(*cfg.Slack, client))
	}
	if cfg.Teams != nil {
		router.Register("teams", NewTeamsSink(*cfg.Teams, client))
	}
	if cfg.File != nil {
		router.Register("file", NewFileSink(*cfg.File))
	}

	return router
}
