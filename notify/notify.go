/*
Package notify delivers lending notifications to external workflows.

PURPOSE:
  The supervisor raises REPAYMENT_DUE, REPAYMENT_OVERDUE, DELINQUENT and
  LOANS_PAID_OFF notifications after the triggering event commits. This
  package provides the lending.NotificationSink implementations:

    KafkaSink:  one JSON message per notification, keyed by account id
    MemorySink: keeps everything it receives (tests, local runs)
    LogSink:    writes each notification as a structured log line
    Fanout:     publishes to several sinks, reporting every failure

SEE ALSO:
  - lending/notification.go: Notification types and fields
  - cmd/server/main.go: sink selection from configuration
*/
package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/warp/credit-engine/lending"
)

// =============================================================================
// MEMORY SINK
// =============================================================================

type MemorySink struct {
	mu    sync.Mutex
	items []lending.Notification
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (m *MemorySink) Publish(_ context.Context, notifications ...lending.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, notifications...)
	return nil
}

// All returns a copy of everything published so far.
func (m *MemorySink) All() []lending.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]lending.Notification(nil), m.items...)
}

// OfType filters the published notifications by type.
func (m *MemorySink) OfType(kind lending.NotificationType) []lending.Notification {
	var out []lending.Notification
	for _, n := range m.All() {
		if n.Type == kind {
			out = append(out, n)
		}
	}
	return out
}

func (m *MemorySink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = nil
}

// =============================================================================
// LOG SINK
// =============================================================================

type LogSink struct {
	Log logrus.FieldLogger
}

func (s LogSink) Publish(_ context.Context, notifications ...lending.Notification) error {
	for _, n := range notifications {
		fields := logrus.Fields{
			"notification_id": n.ID,
			"type":            n.Type,
			"account_id":      n.AccountID,
			"occurred_at":     n.OccurredAt,
		}
		for k, v := range n.Fields {
			fields[k] = v
		}
		s.Log.WithFields(fields).Info("notification")
	}
	return nil
}

// =============================================================================
// FANOUT
// =============================================================================

type Fanout []lending.NotificationSink

// Publish delivers to every sink even when an earlier one fails.
func (f Fanout) Publish(ctx context.Context, notifications ...lending.Notification) error {
	var errs []error
	for _, sink := range f {
		if err := sink.Publish(ctx, notifications...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
