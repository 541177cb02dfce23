// Package jobs implements the publish job orchestration core: the scheduler
// that owns the run-to-completion lifecycle of publish jobs (one active job
// per edition, demand work registration, cooperative cancellation) and the
// status tracker that serves point-in-time progress snapshots to pollers.
package jobs

import (
	"sort"
	"sync"
	"time"

	"pubengine/internal/types"
)

// jobRecord is the live, mutable status record of one job. Each record is
// guarded by its own mutex so pollers of one job never contend with the
// worker of another.
type jobRecord struct {
	mu sync.Mutex

	job             types.Job
	editionName     string
	editionBehavior string

	// totalUnits is the estimated total work units for percent derivation:
	// two units per content item (assembly and delivery).
	totalUnits int64
}

// StatusTracker maintains the per-job status records and serves immutable
// snapshots. Terminal records are retained for a bounded window, then
// evicted; queries for unknown or evicted ids yield a synthetic INACTIVE
// status, never an error.
type StatusTracker struct {
	mu   sync.RWMutex
	jobs map[types.JobID]*jobRecord

	retention time.Duration
	clock     func() time.Time
}

// TrackerOption configures a StatusTracker.
type TrackerOption func(*StatusTracker)

// WithTrackerClock overrides the time source, for deterministic tests.
func WithTrackerClock(clock func() time.Time) TrackerOption {
	return func(t *StatusTracker) {
		t.clock = clock
	}
}

// NewStatusTracker creates a tracker that keeps terminal job records
// queryable for the given retention window.
func NewStatusTracker(retention time.Duration, opts ...TrackerOption) *StatusTracker {
	t := &StatusTracker{
		jobs:      make(map[types.JobID]*jobRecord),
		retention: retention,
		clock:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Register creates the status record for a newly allocated job in QUEUED
// state. Registration also sweeps expired terminal records opportunistically.
func (t *StatusTracker) Register(id types.JobID, edition *types.Edition) {
	rec := &jobRecord{
		job: types.Job{
			ID:        id,
			EditionID: edition.ID,
			State:     types.JobStateQueued,
			StartTime: t.clock(),
		},
		editionName:     edition.Name,
		editionBehavior: edition.Behavior,
	}

	t.mu.Lock()
	t.jobs[id] = rec
	t.mu.Unlock()

	t.SweepExpired()
}

// get returns the record for the id, or nil.
func (t *StatusTracker) get(id types.JobID) *jobRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.jobs[id]
}

// MarkRunning transitions the job from QUEUED to RUNNING.
func (t *StatusTracker) MarkRunning(id types.JobID) {
	rec := t.get(id)
	if rec == nil {
		return
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.job.State == types.JobStateQueued {
		rec.job.State = types.JobStateRunning
	}
}

// SetQueued records the size of the job's content list. The queued counter
// is set once and the total work estimate is derived from it (two units per
// item: assembly and delivery).
func (t *StatusTracker) SetQueued(id types.JobID, items int64) {
	rec := t.get(id)
	if rec == nil {
		return
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if items > rec.job.Counts.Queued {
		rec.job.Counts.Queued = items
		rec.totalUnits = items * 2
	}
}

// incr applies a counter mutation while the job is running. Counters are
// monotonic: terminal records are immutable.
func (t *StatusTracker) incr(id types.JobID, apply func(*types.JobCounts)) {
	rec := t.get(id)
	if rec == nil {
		return
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.job.State.Terminal() {
		return
	}
	apply(&rec.job.Counts)
}

// IncrAssembled increments the assembled counter.
func (t *StatusTracker) IncrAssembled(id types.JobID) {
	t.incr(id, func(c *types.JobCounts) { c.Assembled++ })
}

// IncrPrepared increments the prepared counter.
func (t *StatusTracker) IncrPrepared(id types.JobID) {
	t.incr(id, func(c *types.JobCounts) { c.Prepared++ })
}

// IncrDelivered increments the delivered counter.
func (t *StatusTracker) IncrDelivered(id types.JobID) {
	t.incr(id, func(c *types.JobCounts) { c.Delivered++ })
}

// IncrFailed increments the failed counter.
func (t *StatusTracker) IncrFailed(id types.JobID) {
	t.incr(id, func(c *types.JobCounts) { c.Failed++ })
}

// Finish moves the job to a terminal state and freezes its record. Finishing
// an already-terminal job is a no-op. Returns the final counts.
func (t *StatusTracker) Finish(id types.JobID, state types.JobState) types.JobCounts {
	rec := t.get(id)
	if rec == nil {
		return types.JobCounts{}
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if !rec.job.State.Terminal() {
		rec.job.State = state
		end := t.clock()
		rec.job.EndTime = &end
	}
	return rec.job.Counts
}

// Status returns an immutable snapshot of the job's status. Unknown or
// evicted ids yield a synthetic INACTIVE status rather than an error.
func (t *StatusTracker) Status(id types.JobID) types.JobStatus {
	rec := t.get(id)
	if rec == nil {
		return types.JobStatus{
			JobID:     id,
			State:     types.JobStateInactive,
			StateName: string(types.JobStateInactive),
		}
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return t.snapshotLocked(rec)
}

// snapshotLocked builds a JobStatus from a record whose mutex is held.
func (t *StatusTracker) snapshotLocked(rec *jobRecord) types.JobStatus {
	job := rec.job

	elapsedEnd := t.clock()
	if job.EndTime != nil {
		elapsedEnd = *job.EndTime
	}

	return types.JobStatus{
		JobID:           job.ID,
		EditionID:       job.EditionID,
		EditionName:     rec.editionName,
		EditionBehavior: rec.editionBehavior,
		State:           job.State,
		StateName:       string(job.State),
		Percent:         percent(job, rec.totalUnits),
		Queued:          job.Counts.Queued,
		Assembled:       job.Counts.Assembled,
		Failed:          job.Counts.Failed,
		Prepared:        job.Counts.Prepared,
		Delivered:       job.Counts.Delivered,
		StartTime:       job.StartTime,
		ElapsedMS:       elapsedEnd.Sub(job.StartTime).Milliseconds(),
		EndTime:         job.EndTime,
	}
}

// percent derives the completion percentage: completed work units over the
// estimated total, capped at 100. Terminal jobs always report 100.
func percent(job types.Job, totalUnits int64) int {
	if job.State.Terminal() {
		return 100
	}
	if totalUnits <= 0 {
		return 0
	}
	done := job.Counts.Assembled + job.Counts.Failed + job.Counts.Delivered
	p := int(done * 100 / totalUnits)
	if p > 100 {
		p = 100
	}
	return p
}

// Active returns snapshots of every job in QUEUED or RUNNING state, ordered
// by job id.
func (t *StatusTracker) Active() []types.JobStatus {
	t.mu.RLock()
	recs := make([]*jobRecord, 0, len(t.jobs))
	for _, rec := range t.jobs {
		recs = append(recs, rec)
	}
	t.mu.RUnlock()

	var out []types.JobStatus
	for _, rec := range recs {
		rec.mu.Lock()
		if rec.job.State.Active() {
			out = append(out, t.snapshotLocked(rec))
		}
		rec.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })
	return out
}

// ByEdition returns the snapshot of the most recent tracked job for the
// edition, preferring an active one.
func (t *StatusTracker) ByEdition(edition types.EditionID) (types.JobStatus, bool) {
	t.mu.RLock()
	recs := make([]*jobRecord, 0, len(t.jobs))
	for _, rec := range t.jobs {
		recs = append(recs, rec)
	}
	t.mu.RUnlock()

	var best types.JobStatus
	found := false
	for _, rec := range recs {
		rec.mu.Lock()
		if rec.job.EditionID == edition {
			st := t.snapshotLocked(rec)
			if !found || st.State.Active() || (!best.State.Active() && st.JobID > best.JobID) {
				best = st
				found = true
			}
		}
		rec.mu.Unlock()
	}
	return best, found
}

// SweepExpired evicts terminal records whose retention window has elapsed.
// Returns the number of records removed.
func (t *StatusTracker) SweepExpired() int {
	cutoff := t.clock().Add(-t.retention)

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for id, rec := range t.jobs {
		rec.mu.Lock()
		expired := rec.job.State.Terminal() && rec.job.EndTime != nil && rec.job.EndTime.Before(cutoff)
		rec.mu.Unlock()
		if expired {
			delete(t.jobs, id)
			removed++
		}
	}
	return removed
}
