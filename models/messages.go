package models

import "github.com/google/uuid"

// ClaimRequestMessage asks the claim service to pull accrued payment on behalf of Recipient.
type ClaimRequestMessage struct {
	Id           uuid.UUID `json:"rid" validate:"required"`
	CommitmentId *uint64   `json:"cid" validate:"required"`
	Recipient    Identity  `json:"rcp" validate:"required"`
}

// EventBatch is the archived form of the events published in one relay iteration.
type EventBatch struct {
	FirstSeq uint64        `json:"first"`
	LastSeq  uint64        `json:"last"`
	Events   []*AuditEvent `json:"events"`
}
