package domain

import "time"

// RefillDateLayout is the calendar-date format used for daily quota
// rollover tracking.
const RefillDateLayout = "2006-01-02"

// RefillState is the durable admission-control state for the recommended
// pool. There is exactly one RefillState per pool, mutated only by the
// refill policy and persisted after every successful refill.
type RefillState struct {
	LastRefillAt     time.Time `json:"last_refill_at"`
	DailyRefillCount int       `json:"daily_refill_count"`
	CurrentDate      string    `json:"current_date"`
}

// RolledOver reports whether the calendar date has changed since the state
// was last written.
func (s *RefillState) RolledOver(now time.Time) bool {
	return s.CurrentDate != now.Format(RefillDateLayout)
}
