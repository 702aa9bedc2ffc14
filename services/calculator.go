package services

import (
	"time"

	"github.com/lopezpalacios/recurring-commitment/models"
)

// ClaimableAmount returns how much of the commitment has accrued and not yet been paid out at now. The result is
// always a whole multiple of AmountPerPeriod and never covers time past EndTime.
func ClaimableAmount(c *models.Commitment, now time.Time) uint64 {
	if c == nil || !c.Active() {
		return 0
	}
	if !now.After(c.LastClaimed) || now.Before(c.StartTime) {
		return 0
	}
	periods := uint64(now.Sub(c.LastClaimed) / c.Period)
	if periods == 0 {
		return 0
	}
	capTime := now
	if c.EndTime.Before(capTime) {
		capTime = c.EndTime
	}
	maxPeriodsFromStart := wholePeriods(capTime.Sub(c.StartTime), c.Period)
	claimedPeriods := wholePeriods(c.LastClaimed.Sub(c.StartTime), c.Period)
	if maxPeriodsFromStart <= claimedPeriods {
		return 0
	}
	if maxClaimable := maxPeriodsFromStart - claimedPeriods; periods > maxClaimable {
		periods = maxClaimable
	}
	return periods * c.AmountPerPeriod
}

func wholePeriods(elapsed, period time.Duration) uint64 {
	if elapsed <= 0 {
		return 0
	}
	return uint64(elapsed / period)
}
