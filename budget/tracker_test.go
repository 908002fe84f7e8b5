package budget

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testLogger() *slog.Logger {
	return slog.Default()
}

func TestTracker_RecordAndSnapshot(t *testing.T) {
	tracker := NewTracker(1000, testLogger())
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	tracker.Record(now, 200, 0.01)
	tracker.Record(now, 300, 0.02)

	usage := tracker.Snapshot(now)
	assert.Equal(t, "2025-06-01", usage.Date)
	assert.Equal(t, int64(500), usage.TokensUsed)
	assert.InDelta(t, 0.03, usage.CostUSD, 1e-9)
}

func TestTracker_DateRolloverResetsCounters(t *testing.T) {
	tracker := NewTracker(1000, testLogger())
	day1 := time.Date(2025, 6, 1, 23, 0, 0, 0, time.UTC)
	day2 := time.Date(2025, 6, 2, 0, 30, 0, 0, time.UTC)

	tracker.Record(day1, 900, 0.40)
	assert.True(t, tracker.TokensExhausted(day1) == false)

	usage := tracker.Snapshot(day2)
	assert.Equal(t, "2025-06-02", usage.Date)
	assert.Equal(t, int64(0), usage.TokensUsed)
	assert.Equal(t, 0.0, usage.CostUSD)
}

func TestTracker_Seed(t *testing.T) {
	tracker := NewTracker(1000, testLogger())
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	tracker.Seed("2025-06-01", 400, 0.10)
	usage := tracker.Snapshot(now)

	assert.Equal(t, int64(400), usage.TokensUsed)
	assert.InDelta(t, 0.10, usage.CostUSD, 1e-9)
}

func TestTracker_CostExceeds(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	tests := map[string]struct {
		recorded float64
		ceiling  float64
		expected bool
	}{
		"below ceiling":        {recorded: 0.30, ceiling: 0.50, expected: false},
		"at ceiling":           {recorded: 0.50, ceiling: 0.50, expected: true},
		"above ceiling":        {recorded: 0.60, ceiling: 0.50, expected: true},
		"zero ceiling no gate": {recorded: 99.0, ceiling: 0, expected: false},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			tracker := NewTracker(0, testLogger())
			tracker.Record(now, 100, tt.recorded)
			assert.Equal(t, tt.expected, tracker.CostExceeds(now, tt.ceiling))
		})
	}
}

func TestTracker_TokensExhausted(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	tracker := NewTracker(500, testLogger())
	assert.False(t, tracker.TokensExhausted(now))

	tracker.Record(now, 500, 0)
	assert.True(t, tracker.TokensExhausted(now))

	// Budget of zero never gates.
	unlimited := NewTracker(0, testLogger())
	unlimited.Record(now, 1_000_000, 0)
	assert.False(t, unlimited.TokensExhausted(now))
}
