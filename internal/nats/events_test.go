package nats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuditEvent_MsgID(t *testing.T) {
	assert.Equal(t, "credits_refunded:op-1", AuditEvent{EventType: "credits_refunded", ResourceID: "op-1"}.MsgID())
	assert.Empty(t, AuditEvent{EventType: "credits_refunded"}.MsgID())

	deducted := AuditEvent{EventType: "credits_deducted", ResourceID: "op-1"}.MsgID()
	refunded := AuditEvent{EventType: "credits_refunded", ResourceID: "op-1"}.MsgID()
	assert.NotEqual(t, deducted, refunded, "one operation yields distinct events")
}
