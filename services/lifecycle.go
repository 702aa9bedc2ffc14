package services

import (
	"github.com/lopezpalacios/recurring-commitment/models"
)

type Transition uint8

const (
	Transition_Pause Transition = iota
	Transition_Resume
	Transition_Terminate
)

func (t Transition) String() string {
	switch t {
	case Transition_Pause:
		return "pause"
	case Transition_Resume:
		return "resume"
	case Transition_Terminate:
		return "terminate"
	default:
		return "unknown"
	}
}

// Lifecycle decides whether a caller may move a commitment into a new state.
//
//	Active     -> Paused      arbiter
//	Paused     -> Active      arbiter
//	Active     -> Terminated  payer or recipient
//	Paused     -> Terminated  payer or recipient
//	Terminated -> (none)
type Lifecycle struct {
	guard *AccessControlGuard
}

func NewLifecycle(guard *AccessControlGuard) *Lifecycle {
	return &Lifecycle{guard}
}

// Next returns the state the commitment moves to, or the reason the transition is illegal. It never modifies the
// commitment.
func (l *Lifecycle) Next(caller models.Identity, c *models.Commitment, transition Transition) (models.CommitmentState, error) {
	switch transition {
	case Transition_Pause, Transition_Resume:
		if !l.guard.HasCapability(caller, models.Capability_Arbiter) {
			return 0, models.NewError(models.ErrorCode_Unauthorized, "%s is not an arbiter", caller)
		}
		if c == nil {
			return 0, models.ErrCommitmentNotFound
		}
	case Transition_Terminate:
		if c == nil {
			return 0, models.ErrCommitmentNotFound
		}
		if !l.guard.IsPayer(caller, c) && !l.guard.IsRecipient(caller, c) {
			return 0, models.NewError(models.ErrorCode_Unauthorized, "%s is neither payer nor recipient of commitment %d", caller, c.Id)
		}
	default:
		return 0, models.NewError(models.ErrorCode_InvalidParameters, "unknown transition %d", transition)
	}
	if c.Terminated() {
		return 0, models.NewError(models.ErrorCode_CommitmentTerminated, "commitment %d is terminated", c.Id)
	}
	switch transition {
	case Transition_Pause:
		return models.CommitmentState_Paused, nil
	case Transition_Resume:
		return models.CommitmentState_Active, nil
	default:
		return models.CommitmentState_Terminated, nil
	}
}

// CanClaim reports whether caller may claim against the commitment while the gate is in the given position.
func (l *Lifecycle) CanClaim(caller models.Identity, c *models.Commitment, gate *EmergencyGate) error {
	if c == nil {
		return models.ErrCommitmentNotFound
	}
	if !l.guard.IsRecipient(caller, c) {
		return models.NewError(models.ErrorCode_Unauthorized, "%s is not the recipient of commitment %d", caller, c.Id)
	}
	if c.Terminated() {
		return models.NewError(models.ErrorCode_CommitmentTerminated, "commitment %d is terminated", c.Id)
	}
	if !c.Active() {
		return models.NewError(models.ErrorCode_CommitmentTerminated, "commitment %d is %s", c.Id, c.State)
	}
	if !gate.IsOpen() {
		return models.NewError(models.ErrorCode_GloballyPaused, "claims are suspended")
	}
	return nil
}
