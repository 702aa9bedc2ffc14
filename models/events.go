package models

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventType_CommitmentCreated      EventType = "commitment_created"
	EventType_PaymentClaimed         EventType = "payment_claimed"
	EventType_CommitmentStateChanged EventType = "commitment_state_changed"
	EventType_CommitmentTerminated   EventType = "commitment_terminated"
	EventType_EmergencyPaused        EventType = "emergency_paused"
	EventType_EmergencyUnpaused      EventType = "emergency_unpaused"
	EventType_CapabilityGranted      EventType = "capability_granted"
	EventType_CapabilityRevoked      EventType = "capability_revoked"
)

// AuditEvent is emitted once per successful mutating operation. Seq is assigned by the repository when the event is
// stored and is strictly increasing.
type AuditEvent struct {
	Seq          uint64    `json:"seq"`
	Id           uuid.UUID `json:"eid"`
	Type         EventType `json:"typ"`
	Timestamp    time.Time `json:"ts"`
	CommitmentId *uint64   `json:"cid,omitempty"`
	Actor        Identity  `json:"act,omitempty"`
	// CommitmentCreated
	Payer           Identity      `json:"pay,omitempty"`
	Recipient       Identity      `json:"rcp,omitempty"`
	ValueSource     string        `json:"src,omitempty"`
	AmountPerPeriod uint64        `json:"app,omitempty"`
	Period          time.Duration `json:"per,omitempty"`
	// PaymentClaimed
	Amount uint64 `json:"amt,omitempty"`
	// CommitmentStateChanged
	NewState *CommitmentState `json:"st,omitempty"`
	// CapabilityGranted, CapabilityRevoked
	Subject    Identity   `json:"sub,omitempty"`
	Capability Capability `json:"cap,omitempty"`
}

func NewAuditEvent(eventType EventType, actor Identity, ts time.Time) *AuditEvent {
	return &AuditEvent{
		Id:        uuid.New(),
		Type:      eventType,
		Timestamp: ts,
		Actor:     actor,
	}
}

func (e *AuditEvent) ForCommitment(id uint64) *AuditEvent {
	e.CommitmentId = &id
	return e
}
