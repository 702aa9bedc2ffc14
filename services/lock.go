package services

import (
	"github.com/lopezpalacios/recurring-commitment/models"
)

// executionLock is the ledger's guard flag. Acquiring it never waits: while one mutating operation runs, every other
// one fails at once with models.ErrReentrantCall, whether it comes from a collaborator calling back in or from another
// goroutine. Callers outside the ledger decide whether to try again.
type executionLock struct {
	sem chan struct{}
}

func newExecutionLock() *executionLock {
	return &executionLock{make(chan struct{}, 1)}
}

// acquire returns the release function, which callers must defer.
func (l *executionLock) acquire() (func(), error) {
	select {
	case l.sem <- struct{}{}:
	default:
		return nil, models.ErrReentrantCall
	}
	released := false
	return func() {
		if !released {
			released = true
			<-l.sem
		}
	}, nil
}
