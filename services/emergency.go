package services

import "sync/atomic"

// EmergencyGate suppresses claims globally while closed. It does not authorize anything itself, the ledger checks
// the administrator capability before toggling it.
type EmergencyGate struct {
	closed atomic.Bool
}

func (e *EmergencyGate) Close() bool {
	return e.closed.CompareAndSwap(false, true)
}

func (e *EmergencyGate) Open() bool {
	return e.closed.CompareAndSwap(true, false)
}

func (e *EmergencyGate) IsOpen() bool {
	return !e.closed.Load()
}
