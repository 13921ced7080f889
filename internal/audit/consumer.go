package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	inats "github.com/sentilytics/sentilytics/internal/nats"
)

const (
	consumerName = "audit-persister"
	maxDeliver   = 10
	retryDelay   = 5 * time.Second
)

// Inserter persists audit entries. *Repository satisfies it.
type Inserter interface {
	Insert(ctx context.Context, log *AuditLog) error
}

// Consumer listens on the audit event NATS subject and persists entries to the database.
type Consumer struct {
	repo        Inserter
	consumerMgr *inats.ConsumerManager
}

// NewConsumer creates a new audit event Consumer.
func NewConsumer(repo Inserter, consumerMgr *inats.ConsumerManager) *Consumer {
	return &Consumer{
		repo:        repo,
		consumerMgr: consumerMgr,
	}
}

// Start begins the consume loop. Blocks until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	consumer, err := c.consumerMgr.EnsureConsumer(ctx, inats.ConsumerSpec{
		Stream:     inats.StreamEvents,
		Name:       consumerName,
		Subject:    inats.SubjectAuditEvent,
		MaxDeliver: maxDeliver,
		AckWait:    30 * time.Second,
	})
	if err != nil {
		return err
	}

	slog.Info("audit consumer started", "consumer", consumerName)

	for {
		msgs, err := consumer.Fetch(10, jetstream.FetchMaxWait(inats.FetchTimeout))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Debug("audit consumer: fetching events", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			c.handleEvent(ctx, msg)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *Consumer) handleEvent(ctx context.Context, msg jetstream.Msg) {
	log, err := decodeEvent(msg.Data())
	if err != nil {
		slog.Error("audit consumer: unmarshaling event", "error", err)
		// Redelivery cannot fix a malformed payload.
		_ = msg.Term()
		return
	}

	if err := c.repo.Insert(ctx, log); err != nil {
		slog.Error("audit consumer: persisting audit log", "error", err, "event_type", log.EventType)
		_ = msg.NakWithDelay(retryDelay)
		return
	}

	_ = msg.Ack()

	slog.Debug("audit consumer: persisted event",
		"event_type", log.EventType,
		"owner", log.OwnerUserID,
		"resource_id", log.ResourceID,
	)
}

// decodeEvent converts a published AuditEvent into a row. The id is derived
// from the payload so a redelivered message maps to the same row.
func decodeEvent(data []byte) (*AuditLog, error) {
	var event inats.AuditEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}

	log := &AuditLog{
		ID:           uuid.NewSHA1(uuid.NameSpaceOID, data),
		OwnerUserID:  event.OwnerUserID,
		EventType:    event.EventType,
		Severity:     event.Severity,
		ResourceType: event.ResourceType,
		ResourceID:   event.ResourceID,
		CreatedAt:    event.Timestamp,
	}

	if len(event.Details) > 0 {
		if details, err := json.Marshal(event.Details); err == nil {
			log.Details = details
		}
	}

	return log, nil
}
