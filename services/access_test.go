package services

import (
	"errors"
	"testing"

	"github.com/lopezpalacios/recurring-commitment/models"
)

func TestAccessControlGuard(t *testing.T) {
	guard := NewAccessControlGuard(testDeployer)
	Assert(t, true, guard.HasCapability(testDeployer, models.Capability_Administrator), "deployer should be administrator")
	Assert(t, true, guard.HasCapability(testDeployer, models.Capability_Arbiter), "deployer should be arbiter")
	Assert(t, false, guard.HasCapability(testStranger, models.Capability_Arbiter), "stranger should not be arbiter")

	if _, err := guard.Grant(testStranger, testStranger, models.Capability_Arbiter); !errors.Is(err, models.ErrUnauthorized) {
		t.Errorf("non-administrator grant should be unauthorized, got %v", err)
	}
	if changed, err := guard.Grant(testDeployer, testStranger, models.Capability_Arbiter); err != nil || !changed {
		t.Errorf("grant should have changed membership: changed=%t, err=%v", changed, err)
	}
	if changed, err := guard.Grant(testDeployer, testStranger, models.Capability_Arbiter); err != nil || changed {
		t.Errorf("repeated grant should not change membership: changed=%t, err=%v", changed, err)
	}
	Assert(t, true, guard.HasCapability(testStranger, models.Capability_Arbiter), "stranger should be arbiter")
	Assert(t, false, guard.HasCapability(testStranger, models.Capability_Administrator), "arbiter should not imply administrator")

	if _, err := guard.Grant(testDeployer, models.NullIdentity, models.Capability_Arbiter); !errors.Is(err, models.ErrInvalidParameters) {
		t.Errorf("granting to the null identity should be invalid, got %v", err)
	}
	if _, err := guard.Grant(testDeployer, testStranger, models.Capability("owner")); !errors.Is(err, models.ErrInvalidParameters) {
		t.Errorf("unknown capability should be invalid, got %v", err)
	}
	if changed, err := guard.Revoke(testDeployer, testStranger, models.Capability_Arbiter); err != nil || !changed {
		t.Errorf("revoke should have changed membership: changed=%t, err=%v", changed, err)
	}
	Assert(t, false, guard.HasCapability(testStranger, models.Capability_Arbiter), "revoked arbiter")

	commitment := newCommitment(1, 1, 1)
	Assert(t, true, guard.IsPayer(testPayer, commitment), "payer check")
	Assert(t, false, guard.IsPayer(testRecipient, commitment), "recipient is not payer")
	Assert(t, true, guard.IsRecipient(testRecipient, commitment), "recipient check")
	Assert(t, false, guard.IsRecipient(testRecipient, nil), "missing commitment has no recipient")
}

func TestEmergencyGate(t *testing.T) {
	gate := new(EmergencyGate)
	Assert(t, true, gate.IsOpen(), "gate starts open")
	Assert(t, true, gate.Close(), "first close changes the gate")
	Assert(t, false, gate.Close(), "second close is a no-op")
	Assert(t, false, gate.IsOpen(), "gate closed")
	Assert(t, true, gate.Open(), "open changes the gate")
	Assert(t, true, gate.IsOpen(), "gate open again")
}
