package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pubengine/internal/types"
)

func testEdition() *types.Edition {
	return &types.Edition{
		ID:        7,
		SiteID:    301,
		Name:      "Nightly Full Publish",
		Behavior:  "publish",
		Generator: "sitefolder",
	}
}

func TestStatus_UnknownJobIsInactive(t *testing.T) {
	tracker := NewStatusTracker(time.Hour)

	st := tracker.Status(424242)
	assert.Equal(t, types.JobStateInactive, st.State)
	assert.Equal(t, "INACTIVE", st.StateName)
	assert.Equal(t, types.JobID(424242), st.JobID)
}

func TestStatus_ReturnsCopyWithEditionInfo(t *testing.T) {
	tracker := NewStatusTracker(time.Hour)
	tracker.Register(1, testEdition())
	tracker.MarkRunning(1)
	tracker.SetQueued(1, 4)
	tracker.IncrAssembled(1)
	tracker.IncrDelivered(1)

	st := tracker.Status(1)
	assert.Equal(t, types.JobStateRunning, st.State)
	assert.Equal(t, "Nightly Full Publish", st.EditionName)
	assert.Equal(t, "publish", st.EditionBehavior)
	assert.Equal(t, int64(4), st.Queued)
	assert.Equal(t, int64(1), st.Assembled)
	assert.Equal(t, int64(1), st.Delivered)

	// Mutating the returned snapshot must not affect the tracked record.
	st.Assembled = 99
	assert.Equal(t, int64(1), tracker.Status(1).Assembled)
}

func TestPercent_DerivationAndCap(t *testing.T) {
	tracker := NewStatusTracker(time.Hour)
	tracker.Register(1, testEdition())
	tracker.MarkRunning(1)
	tracker.SetQueued(1, 2) // four work units

	assert.Equal(t, 0, tracker.Status(1).Percent)

	tracker.IncrAssembled(1)
	tracker.IncrDelivered(1)
	assert.Equal(t, 50, tracker.Status(1).Percent)

	tracker.IncrAssembled(1)
	tracker.IncrDelivered(1)
	assert.Equal(t, 100, tracker.Status(1).Percent)

	// Terminal jobs always report 100, even with zero work.
	tracker.Register(2, testEdition())
	tracker.Finish(2, types.JobStateCompleted)
	assert.Equal(t, 100, tracker.Status(2).Percent)
}

func TestCountersFrozenAfterTerminalState(t *testing.T) {
	tracker := NewStatusTracker(time.Hour)
	tracker.Register(1, testEdition())
	tracker.MarkRunning(1)
	tracker.IncrDelivered(1)
	tracker.Finish(1, types.JobStateCancelled)

	tracker.IncrDelivered(1)
	tracker.IncrFailed(1)

	st := tracker.Status(1)
	assert.Equal(t, int64(1), st.Delivered)
	assert.Equal(t, int64(0), st.Failed)
	assert.Equal(t, types.JobStateCancelled, st.State)
}

func TestFinish_IdempotentKeepsFirstTerminalState(t *testing.T) {
	tracker := NewStatusTracker(time.Hour)
	tracker.Register(1, testEdition())
	tracker.Finish(1, types.JobStateCompleted)
	tracker.Finish(1, types.JobStateFailed)

	assert.Equal(t, types.JobStateCompleted, tracker.Status(1).State)
}

func TestActive_OnlyQueuedAndRunning(t *testing.T) {
	tracker := NewStatusTracker(time.Hour)
	tracker.Register(1, testEdition())
	tracker.Register(2, testEdition())
	tracker.MarkRunning(2)
	tracker.Register(3, testEdition())
	tracker.Finish(3, types.JobStateCompleted)

	active := tracker.Active()
	require.Len(t, active, 2)
	assert.Equal(t, types.JobID(1), active[0].JobID)
	assert.Equal(t, types.JobID(2), active[1].JobID)
}

func TestSweepExpired_EvictsOldTerminalRecords(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	tracker := NewStatusTracker(time.Hour, WithTrackerClock(func() time.Time { return clock() }))

	tracker.Register(1, testEdition())
	tracker.Finish(1, types.JobStateCompleted)
	tracker.Register(2, testEdition())
	tracker.MarkRunning(2)

	// Within retention: nothing evicted.
	assert.Equal(t, 0, tracker.SweepExpired())

	now = now.Add(2 * time.Hour)
	assert.Equal(t, 1, tracker.SweepExpired())

	// The evicted job now reads as INACTIVE; the running one survives.
	assert.Equal(t, types.JobStateInactive, tracker.Status(1).State)
	assert.Equal(t, types.JobStateRunning, tracker.Status(2).State)
}

func TestByEdition_PrefersActiveJob(t *testing.T) {
	tracker := NewStatusTracker(time.Hour)
	tracker.Register(1, testEdition())
	tracker.Finish(1, types.JobStateCompleted)
	tracker.Register(2, testEdition())
	tracker.MarkRunning(2)

	st, ok := tracker.ByEdition(7)
	require.True(t, ok)
	assert.Equal(t, types.JobID(2), st.JobID)

	_, ok = tracker.ByEdition(999)
	assert.False(t, ok)
}
