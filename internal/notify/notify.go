// Package notify publishes lifecycle events to NATS so downstream
// consumers can follow migrations, deletions and quota breaches.
package notify

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gftdcojp/tickstore/pkg/natsutil"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Event types. Each dot-separated part becomes one subject token.
const (
	EventCatalogRebuilt  = "catalog.rebuilt"
	EventCatalogVerified = "catalog.verified"
	EventLifecycleAction = "lifecycle.action"
	EventQuotaViolation  = "quota.violation"
)

// Event is one published notification.
type Event struct {
	Type    string         `json:"type"`
	Time    time.Time      `json:"time"`
	Path    string         `json:"path,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Publisher delivers events. Publication is best effort: callers log
// failures and carry on.
type Publisher interface {
	Publish(ev Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(Event) error { return nil }

// NATSPublisher publishes events as JSON on <prefix>.<type>.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	logger *zap.Logger
}

func NewNATSPublisher(nc *nats.Conn, prefix string, logger *zap.Logger) *NATSPublisher {
	return &NATSPublisher{nc: nc, prefix: prefix, logger: logger}
}

func (p *NATSPublisher) Publish(ev Event) error {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", ev.Type, err)
	}
	subject := natsutil.Subject(p.prefix, strings.Split(ev.Type, ".")...)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	p.logger.Debug("event published", zap.String("subject", subject), zap.String("path", ev.Path))
	return nil
}

// Ping reports whether the underlying connection is usable.
func (p *NATSPublisher) Ping() error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats connection status %s", p.nc.Status())
	}
	return nil
}
