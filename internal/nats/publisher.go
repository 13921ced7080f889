package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/sentilytics/sentilytics/internal/metrics"
)

// Publisher publishes ledger events to JetStream.
type Publisher struct {
	js jetstream.JetStream
}

func NewPublisher(js jetstream.JetStream) *Publisher {
	return &Publisher{js: js}
}

// PublishAuditEvent publishes event on the audit subject. Events tied to a
// resource carry a message id, so the stream drops a retried duplicate
// inside its dedupe window.
func (p *Publisher) PublishAuditEvent(ctx context.Context, event AuditEvent) error {
	var opts []jetstream.PublishOpt
	if id := event.MsgID(); id != "" {
		opts = append(opts, jetstream.WithMsgID(id))
	}
	return p.publish(ctx, SubjectAuditEvent, event, opts...)
}

func (p *Publisher) publish(ctx context.Context, subject string, data any, opts ...jetstream.PublishOpt) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling event for %s: %w", subject, err)
	}
	if _, err := p.js.Publish(ctx, subject, payload, opts...); err != nil {
		metrics.EventsPublishedTotal.WithLabelValues(subject, "error").Inc()
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	metrics.EventsPublishedTotal.WithLabelValues(subject, "ok").Inc()
	return nil
}
