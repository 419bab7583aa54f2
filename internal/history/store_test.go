package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydrotrust/hydro-verifier/internal/models"
)

func entry(i int) *models.HistoryEntry {
	return &models.HistoryEntry{
		Timestamp:    time.Date(2026, 5, 1, 0, i, 0, 0, time.UTC),
		Decision:     models.DecisionApproved,
		GeneratedKWh: float64(i),
	}
}

func TestSnapshotOfUnknownDeviceIsEmpty(t *testing.T) {
	s := NewMemoryStore(0)
	h, err := s.Snapshot(context.Background(), "nope")
	require.NoError(t, err)
	assert.Equal(t, "nope", h.DeviceID)
	assert.Empty(t, h.Entries)
	assert.Zero(t, h.Counters.TotalReadings)
}

func TestRingKeepsNewestEntries(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(3)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Update(ctx, "d", models.HistoryUpdate{Entry: entry(i), Decision: models.DecisionApproved}))
	}

	h, err := s.Snapshot(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 3, 4}, h.RecentGeneration(0))
	assert.Equal(t, int64(5), h.Counters.TotalReadings)
}

func TestCounterOnlyUpdates(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(10)
	require.NoError(t, s.Update(ctx, "d", models.HistoryUpdate{Entry: entry(1), Decision: models.DecisionFlagged, Anomaly: true}))
	require.NoError(t, s.Update(ctx, "d", models.HistoryUpdate{Decision: models.DecisionRejected}))

	h, _ := s.Snapshot(ctx, "d")
	assert.Len(t, h.Entries, 1)
	assert.Equal(t, models.DeviceCounters{TotalReadings: 2, FlaggedReadings: 1, RejectedReadings: 1, AnomalyCount: 1}, h.Counters)
	assert.ElementsMatch(t, []string{"d"}, s.Devices())
}

func TestSnapshotIsACopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(10)
	require.NoError(t, s.Update(ctx, "d", models.HistoryUpdate{Entry: entry(1), Decision: models.DecisionApproved}))

	h, _ := s.Snapshot(ctx, "d")
	h.Entries[0].GeneratedKWh = 999

	again, _ := s.Snapshot(ctx, "d")
	assert.Equal(t, 1.0, again.Entries[0].GeneratedKWh)
}
