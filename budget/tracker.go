// ABOUTME: This file implements the daily token/cost budget tracker for external calls
// ABOUTME: Gates semantic scoring spend and feeds system metrics into the context snapshot
package budget

import (
	"log/slog"
	"sync"
	"time"
)

const dateLayout = "2006-01-02"

// Usage is a point-in-time view of today's consumption.
type Usage struct {
	Date       string  `json:"date"`
	TokensUsed int64   `json:"tokens_used"`
	CostUSD    float64 `json:"cost_usd"`
}

// Tracker accumulates token and cost usage for the current calendar day.
// Counters reset exactly once per date transition. The tracker is an
// in-process view; the durable record lives in the usage log.
type Tracker struct {
	mu          sync.Mutex
	date        string
	tokensUsed  int64
	costUSD     float64
	tokenBudget int64
	logger      *slog.Logger
}

// NewTracker creates a tracker with the given daily token budget.
func NewTracker(tokenBudget int64, logger *slog.Logger) *Tracker {
	return &Tracker{
		tokenBudget: tokenBudget,
		logger:      logger,
	}
}

// Seed initializes today's counters from the durable usage log, typically
// at startup so a restart does not forget spend already committed.
func (t *Tracker) Seed(date string, tokens int64, costUSD float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.date = date
	t.tokensUsed = tokens
	t.costUSD = costUSD
}

// Record adds one call's usage to today's counters.
func (t *Tracker) Record(now time.Time, tokens int64, costUSD float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverLocked(now)
	t.tokensUsed += tokens
	t.costUSD += costUSD
}

// Snapshot returns today's usage, applying date rollover first.
func (t *Tracker) Snapshot(now time.Time) Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverLocked(now)
	return Usage{Date: t.date, TokensUsed: t.tokensUsed, CostUSD: t.costUSD}
}

// TokenBudget returns the configured daily token budget.
func (t *Tracker) TokenBudget() int64 {
	return t.tokenBudget
}

// CostExceeds reports whether today's cost has reached the given ceiling.
// A non-positive ceiling never gates.
func (t *Tracker) CostExceeds(now time.Time, ceilingUSD float64) bool {
	if ceilingUSD <= 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverLocked(now)
	return t.costUSD >= ceilingUSD
}

// TokensExhausted reports whether today's token spend has reached the
// configured daily budget. A zero budget never gates.
func (t *Tracker) TokensExhausted(now time.Time) bool {
	if t.tokenBudget <= 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverLocked(now)
	return t.tokensUsed >= t.tokenBudget
}

func (t *Tracker) rolloverLocked(now time.Time) {
	today := now.Format(dateLayout)
	if t.date == today {
		return
	}
	if t.date != "" {
		t.logger.Info("budget counters rolled over",
			"previous_date", t.date,
			"tokens_used", t.tokensUsed,
			"cost_usd", t.costUSD)
	}
	t.date = today
	t.tokensUsed = 0
	t.costUSD = 0
}
