package nats

import (
	"time"
)

// FetchTimeout is the default timeout for batch fetching messages from consumers.
const FetchTimeout = 2 * time.Second

// Stream names.
const (
	StreamEvents = "SENTILYTICS_EVENTS"
)

// Subject constants.
const (
	SubjectEventsPrefix = "sentilytics.events"
	SubjectAuditEvent   = "sentilytics.events.audit"
)

// Severity levels carried by AuditEvent.
const (
	SeverityInfo     = "info"
	SeverityWarn     = "warn"
	SeverityCritical = "critical"
)

// AuditEvent is published for every ledger movement and persisted by the
// audit consumer.
type AuditEvent struct {
	OwnerUserID  string         `json:"owner_user_id"`
	EventType    string         `json:"event_type"` // e.g. "credits_deducted", "refund_failed"
	Severity     string         `json:"severity"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	Details      map[string]any `json:"details,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// MsgID identifies the event for JetStream deduplication. Empty when the
// event is not tied to a resource.
func (e AuditEvent) MsgID() string {
	if e.ResourceID == "" {
		return ""
	}
	return e.EventType + ":" + e.ResourceID
}
