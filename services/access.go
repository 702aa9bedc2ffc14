package services

import (
	"sync"

	"github.com/lopezpalacios/recurring-commitment/models"
)

// AccessControlGuard holds the global capability sets. Per-record roles (payer, recipient) are plain field
// comparisons and are never stored here.
type AccessControlGuard struct {
	mu      sync.RWMutex
	members map[models.Capability]map[models.Identity]struct{}
}

// NewAccessControlGuard grants the deployer both the administrator and arbiter capabilities. This is the only grant
// that does not require an administrator caller.
func NewAccessControlGuard(deployer models.Identity) *AccessControlGuard {
	g := &AccessControlGuard{
		members: map[models.Capability]map[models.Identity]struct{}{
			models.Capability_Administrator: {},
			models.Capability_Arbiter:       {},
		},
	}
	if !deployer.IsNull() {
		g.members[models.Capability_Administrator][deployer] = struct{}{}
		g.members[models.Capability_Arbiter][deployer] = struct{}{}
	}
	return g
}

func (g *AccessControlGuard) HasCapability(identity models.Identity, capability models.Capability) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	_, found := g.members[capability][identity]
	return found
}

func (g *AccessControlGuard) IsPayer(identity models.Identity, commitment *models.Commitment) bool {
	return commitment != nil && !identity.IsNull() && commitment.Payer == identity
}

func (g *AccessControlGuard) IsRecipient(identity models.Identity, commitment *models.Commitment) bool {
	return commitment != nil && !identity.IsNull() && commitment.Recipient == identity
}

// Grant adds subject to the capability set. Returns whether membership changed.
func (g *AccessControlGuard) Grant(caller, subject models.Identity, capability models.Capability) (bool, error) {
	return g.update(caller, subject, capability, true)
}

// Revoke removes subject from the capability set. Returns whether membership changed.
func (g *AccessControlGuard) Revoke(caller, subject models.Identity, capability models.Capability) (bool, error) {
	return g.update(caller, subject, capability, false)
}

func (g *AccessControlGuard) update(caller, subject models.Identity, capability models.Capability, grant bool) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, isAdmin := g.members[models.Capability_Administrator][caller]; !isAdmin {
		return false, models.NewError(models.ErrorCode_Unauthorized, "%s is not an administrator", caller)
	}
	set, found := g.members[capability]
	if !found {
		return false, models.NewError(models.ErrorCode_InvalidParameters, "unknown capability %q", capability)
	}
	if subject.IsNull() {
		return false, models.NewError(models.ErrorCode_InvalidParameters, "null identity cannot hold %s", capability)
	}
	_, member := set[subject]
	if grant {
		set[subject] = struct{}{}
		return !member, nil
	}
	delete(set, subject)
	return member, nil
}

// set changes membership without an authorization check. Only used to undo a change that could not be recorded.
func (g *AccessControlGuard) set(subject models.Identity, capability models.Capability, member bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if set, found := g.members[capability]; found {
		if member {
			set[subject] = struct{}{}
		} else {
			delete(set, subject)
		}
	}
}
