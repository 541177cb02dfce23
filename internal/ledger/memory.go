// Package ledger provides the in-memory implementation of the deduplicating,
// site-scoped pending-change ledger.
//
// Entries for one target live behind that target's own mutex, so propagation
// inserting into target A never contends with a job clearing target B.
package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"pubengine/internal/types"
)

// key uniquely identifies a record within one target.
type key struct {
	content types.ContentID
	change  types.ChangeType
}

// targetLedger holds the records of one publish target.
type targetLedger struct {
	mu      sync.Mutex
	records map[key]types.PendingChangeRecord
}

// MemoryLedger is the in-memory types.Ledger. The zero value is not usable;
// use NewMemoryLedger.
type MemoryLedger struct {
	mu      sync.RWMutex
	targets map[types.TargetID]*targetLedger
	clock   func() time.Time
}

var _ types.Ledger = (*MemoryLedger)(nil)

// MemoryLedgerOption configures a MemoryLedger.
type MemoryLedgerOption func(*MemoryLedger)

// WithClock overrides the time source, for deterministic tests.
func WithClock(clock func() time.Time) MemoryLedgerOption {
	return func(l *MemoryLedger) {
		l.clock = clock
	}
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger(opts ...MemoryLedgerOption) *MemoryLedger {
	l := &MemoryLedger{
		targets: make(map[types.TargetID]*targetLedger),
		clock:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// forTarget returns the per-target ledger, creating it on first use.
func (l *MemoryLedger) forTarget(target types.TargetID) *targetLedger {
	l.mu.RLock()
	tl, ok := l.targets[target]
	l.mu.RUnlock()
	if ok {
		return tl
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if tl, ok = l.targets[target]; ok {
		return tl
	}
	tl = &targetLedger{records: make(map[key]types.PendingChangeRecord)}
	l.targets[target] = tl
	return tl
}

// RecordChange performs an idempotent insert. Re-inserting an existing
// (target, content, change type) tuple is a no-op and returns false.
func (l *MemoryLedger) RecordChange(_ context.Context, target types.TargetID, content types.ContentID, change types.ChangeType) (bool, error) {
	tl := l.forTarget(target)
	tl.mu.Lock()
	defer tl.mu.Unlock()

	k := key{content: content, change: change}
	if _, exists := tl.records[k]; exists {
		return false, nil
	}
	tl.records[k] = types.PendingChangeRecord{
		TargetID:   target,
		ContentID:  content,
		ChangeType: change,
		InsertedAt: l.clock(),
	}
	return true, nil
}

// ChangedContent returns the distinct content ids recorded for the target and
// change type, in ascending order.
func (l *MemoryLedger) ChangedContent(_ context.Context, target types.TargetID, change types.ChangeType) ([]types.ContentID, error) {
	tl := l.forTarget(target)
	tl.mu.Lock()
	defer tl.mu.Unlock()

	out := make([]types.ContentID, 0, len(tl.records))
	for k := range tl.records {
		if k.change == change {
			out = append(out, k.content)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Snapshot returns copies of the full records for the target and change
// type, ordered by content id.
func (l *MemoryLedger) Snapshot(_ context.Context, target types.TargetID, change types.ChangeType) ([]types.PendingChangeRecord, error) {
	tl := l.forTarget(target)
	tl.mu.Lock()
	defer tl.mu.Unlock()

	out := make([]types.PendingChangeRecord, 0, len(tl.records))
	for k, rec := range tl.records {
		if k.change == change {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContentID < out[j].ContentID })
	return out, nil
}

// ClearRecorded removes exactly the given records. Records inserted after the
// caller's snapshot was taken are left pending for the next run.
func (l *MemoryLedger) ClearRecorded(_ context.Context, target types.TargetID, records []types.PendingChangeRecord) error {
	tl := l.forTarget(target)
	tl.mu.Lock()
	defer tl.mu.Unlock()

	for _, rec := range records {
		delete(tl.records, key{content: rec.ContentID, change: rec.ChangeType})
	}
	return nil
}

// ClearTarget removes every record for the target.
func (l *MemoryLedger) ClearTarget(_ context.Context, target types.TargetID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.targets, target)
	return nil
}
