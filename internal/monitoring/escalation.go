package monitoring

import (
	"fmt"
	"time"
)

// EscalationLevel is one tier of an escalation policy
type EscalationLevel struct {
	Level        int      `yaml:"level" mapstructure:"level" json:"level"`
	Contacts     []string `yaml:"contacts" mapstructure:"contacts" json:"contacts,omitempty"`
	Channels     []string `yaml:"channels" mapstructure:"channels" json:"channels"`
	DelayMinutes int      `yaml:"delay_minutes" mapstructure:"delay_minutes" json:"delay_minutes"`
	AllowBypass  bool     `yaml:"allow_bypass" mapstructure:"allow_bypass" json:"allow_bypass"`
}

// Delay is the time an alert must stay unacknowledged before this level is
// notified
func (l EscalationLevel) Delay() time.Duration {
	return time.Duration(l.DelayMinutes) * time.Minute
}

// EscalationPolicy is an ordered list of levels. Level 1 is notified when
// the alert is created.
type EscalationPolicy struct {
	Levels       []EscalationLevel `yaml:"levels" mapstructure:"levels" json:"levels"`
	AutoEscalate bool              `yaml:"auto_escalate" mapstructure:"auto_escalate" json:"auto_escalate"`
	MaxLevel     int               `yaml:"max_level" mapstructure:"max_level" json:"max_level"`
}

// Validate requires levels numbered 1..n in order, each with at least one
// channel and a non-negative delay
func (p EscalationPolicy) Validate() error {
	for i, level := range p.Levels {
		if level.Level != i+1 {
			return fmt.Errorf("escalation level %d: levels must increase strictly from 1 (got %d at position %d)", i+1, level.Level, i+1)
		}
		if len(level.Channels) == 0 {
			return fmt.Errorf("escalation level %d: at least one channel is required", level.Level)
		}
		if level.DelayMinutes < 0 {
			return fmt.Errorf("escalation level %d: delay must not be negative", level.Level)
		}
	}
	if p.MaxLevel < 0 || p.MaxLevel > len(p.Levels) {
		return fmt.Errorf("escalation max level %d is outside 0..%d", p.MaxLevel, len(p.Levels))
	}
	return nil
}

// maxLevel is the highest level auto-escalation may reach
func (p EscalationPolicy) maxLevel() int {
	if p.MaxLevel > 0 {
		return p.MaxLevel
	}
	return len(p.Levels)
}

// level returns the level record for n, counting from 1
func (p EscalationPolicy) level(n int) (EscalationLevel, bool) {
	if n < 1 || n > len(p.Levels) {
		return EscalationLevel{}, false
	}
	return p.Levels[n-1], true
}
