// Package notify pushes operator alerts about registry events to chat platforms.
package notify

import (
	"context"
	"time"
)

// Notifier delivers alerts to one chat platform.
type Notifier interface {
	Platform() string
	Connect(ctx context.Context) error
	Notify(ctx context.Context, alert *Alert) error
	Close() error
}

// Severity orders alerts by how urgently an operator should look.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "info"
	}
}

// Alert is a platform-neutral operator notification.
type Alert struct {
	Kind     string    `json:"kind"`
	Title    string    `json:"title"`
	Content  string    `json:"content"`
	Severity Severity  `json:"severity"`
	Skill    string    `json:"skill,omitempty"`
	Auditor  string    `json:"auditor,omitempty"`
	At       time.Time `json:"at"`
}

// AdapterStatus reports a notifier's connection health.
type AdapterStatus struct {
	Platform    string    `json:"platform"`
	Connected   bool      `json:"connected"`
	ConnectedAt time.Time `json:"connected_at,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}
