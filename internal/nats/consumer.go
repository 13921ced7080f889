package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// ConsumerSpec describes a durable pull consumer.
type ConsumerSpec struct {
	Stream  string
	Name    string
	Subject string

	// MaxDeliver caps redeliveries of a message that keeps failing. Zero
	// means unlimited.
	MaxDeliver int
	AckWait    time.Duration
}

// ConsumerManager creates durable consumers on the events stream.
type ConsumerManager struct {
	js jetstream.JetStream
}

func NewConsumerManager(js jetstream.JetStream) *ConsumerManager {
	return &ConsumerManager{js: js}
}

// EnsureConsumer creates or updates the durable consumer described by spec.
func (cm *ConsumerManager) EnsureConsumer(ctx context.Context, spec ConsumerSpec) (jetstream.Consumer, error) {
	cfg := jetstream.ConsumerConfig{
		Durable:       spec.Name,
		FilterSubject: spec.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		MaxDeliver:    spec.MaxDeliver,
		AckWait:       spec.AckWait,
	}
	if cfg.MaxDeliver == 0 {
		cfg.MaxDeliver = -1
	}

	consumer, err := cm.js.CreateOrUpdateConsumer(ctx, spec.Stream, cfg)
	if err != nil {
		return nil, fmt.Errorf("ensuring consumer %s on %s: %w", spec.Name, spec.Stream, err)
	}
	return consumer, nil
}
