package models

import "time"

// Identity is an opaque party identifier. The empty string is the null identity.
type Identity string

const NullIdentity Identity = ""

func (i Identity) IsNull() bool {
	return len(i) == 0
}

type CommitmentState uint8

const (
	CommitmentState_Active CommitmentState = iota
	CommitmentState_Paused
	CommitmentState_Terminated
)

func (s CommitmentState) String() string {
	switch s {
	case CommitmentState_Active:
		return "active"
	case CommitmentState_Paused:
		return "paused"
	case CommitmentState_Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Commitment is a recurring payment obligation from Payer to Recipient. Records are never deleted, only transitioned.
// Once State is Terminated no field changes again.
type Commitment struct {
	Id              uint64          `json:"id"`
	Payer           Identity        `json:"payer"`
	Recipient       Identity        `json:"recipient"`
	ValueSource     string          `json:"source"`
	AmountPerPeriod uint64          `json:"amount"`
	Period          time.Duration   `json:"period"`
	StartTime       time.Time       `json:"start"`
	EndTime         time.Time       `json:"end"`
	LastClaimed     time.Time       `json:"lastClaimed"`
	GracePeriod     time.Duration   `json:"grace"`
	State           CommitmentState `json:"state"`
}

func (c *Commitment) Terminated() bool {
	return c.State == CommitmentState_Terminated
}

func (c *Commitment) Active() bool {
	return c.State == CommitmentState_Active
}

// CreateParams are the caller-supplied arguments of a new commitment. The payer is always the caller.
type CreateParams struct {
	Recipient       Identity      `validate:"required"`
	ValueSource     string        `validate:"required"`
	AmountPerPeriod uint64        `validate:"gt=0"`
	Period          time.Duration `validate:"gt=0"`
	Duration        time.Duration `validate:"gte=0"`
	GracePeriod     time.Duration `validate:"gte=0"`
}

type Capability string

const (
	Capability_Administrator Capability = "administrator"
	Capability_Arbiter       Capability = "arbiter"
)
