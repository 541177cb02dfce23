package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"pubengine/internal/types"
)

// EventPublisher receives job lifecycle events for downstream consumers
// (delivery workers, audit). Implementations should be fast; publish errors
// are logged and never affect the job outcome.
type EventPublisher interface {
	PublishJobEvent(ctx context.Context, ev types.JobEvent) error
}

// MetricRecorder receives job outcome telemetry.
type MetricRecorder interface {
	RecordJobOutcome(ctx context.Context, state types.JobState, counts types.JobCounts)
}

// DemandAuditor durably records accepted demand publish requests. Audit
// failures are logged and never reject the request.
type DemandAuditor interface {
	RecordDemandRequest(ctx context.Context, work types.DemandWorkItem) error
}

// jobHandle carries the cancellation flag shared between the scheduler and
// one worker goroutine. The worker observes the flag at item-processing
// granularity.
type jobHandle struct {
	id        types.JobID
	editionID types.EditionID
	cancelled atomic.Bool
}

// demandEntry is one registered ad-hoc publish request. Until the entry is
// picked up by a worker its requestID is the only externally visible handle.
type demandEntry struct {
	requestID string
	edition   *types.Edition
	items     []types.DemandItem
	generator string

	jobID    types.JobID
	assigned bool
}

// Scheduler owns the run-to-completion lifecycle of publish jobs: job id
// allocation, the one-active-job-per-edition invariant, dispatch onto worker
// goroutines, demand work registration, and cooperative cancellation.
type Scheduler struct {
	tracker    *StatusTracker
	ledger     types.Ledger
	editions   types.EditionResolver
	publisher  types.ItemPublisher
	events     EventPublisher
	metrics    MetricRecorder
	audit      DemandAuditor
	changeType types.ChangeType
	logger     *slog.Logger

	nextJobID atomic.Int64
	wg        sync.WaitGroup

	mu              sync.Mutex
	activeByEdition map[types.EditionID]types.JobID
	handles         map[types.JobID]*jobHandle
	pendingDemand   map[types.EditionID][]*demandEntry
	demandByRequest map[string]*demandEntry
}

// SchedulerConfig holds the dependencies for creating a Scheduler.
type SchedulerConfig struct {
	Tracker   *StatusTracker
	Ledger    types.Ledger
	Editions  types.EditionResolver
	Publisher types.ItemPublisher
	// Events, Metrics and Audit are optional.
	Events  EventPublisher
	Metrics MetricRecorder
	Audit   DemandAuditor
	// ChangeType selects which ledger records edition runs drain.
	// Defaults to ChangePendingLive.
	ChangeType types.ChangeType
	Logger     *slog.Logger
}

// NewScheduler creates a Scheduler with the given configuration.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	changeType := cfg.ChangeType
	if changeType == "" {
		changeType = types.ChangePendingLive
	}
	return &Scheduler{
		tracker:         cfg.Tracker,
		ledger:          cfg.Ledger,
		editions:        cfg.Editions,
		publisher:       cfg.Publisher,
		events:          cfg.Events,
		metrics:         cfg.Metrics,
		audit:           cfg.Audit,
		changeType:      changeType,
		logger:          logger,
		activeByEdition: make(map[types.EditionID]types.JobID),
		handles:         make(map[types.JobID]*jobHandle),
		pendingDemand:   make(map[types.EditionID][]*demandEntry),
		demandByRequest: make(map[string]*demandEntry),
	}
}

// StartJob starts a publish run for the edition. It fails with
// scheduling_edition_busy when a job for the edition is already queued or
// running: at most one active job per edition is a hard invariant.
func (s *Scheduler) StartJob(ctx context.Context, editionID types.EditionID) (types.JobID, error) {
	edition, err := s.editions.Edition(ctx, editionID)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeUpstreamContent,
			fmt.Sprintf("loading edition %d", editionID), err)
	}
	if edition == nil {
		return 0, types.NewAppError(types.ErrCodeNotFoundEdition,
			fmt.Sprintf("edition %d does not exist", editionID), nil)
	}

	s.mu.Lock()
	if running, busy := s.activeByEdition[editionID]; busy {
		s.mu.Unlock()
		return 0, types.NewAppErrorWithDetails(types.ErrCodeSchedulingEditionBusy,
			fmt.Sprintf("edition %d already has an active job", editionID), nil,
			map[string]any{"job_id": running})
	}
	handle := s.allocateLocked(editionID)
	s.mu.Unlock()

	s.tracker.Register(handle.id, edition)
	s.dispatch(handle, edition, nil)

	s.logger.InfoContext(ctx, "publish job started",
		"job_id", int64(handle.id),
		"edition_id", int64(editionID),
		"edition_name", edition.Name,
	)
	return handle.id, nil
}

// QueueDemandWork registers an ad-hoc publish request. When the request
// names no edition, a candidate is resolved by site and generator hint; no
// match is a scheduling_no_edition rejection. The returned request id is the
// caller's handle until the work is picked up and associated with a job id.
func (s *Scheduler) QueueDemandWork(ctx context.Context, req types.DemandRequest) (string, error) {
	if len(req.Items) == 0 {
		return "", types.NewAppError(types.ErrCodeValidationEmptyBatch,
			"demand publish request has no items", nil)
	}

	edition, err := s.resolveDemandEdition(ctx, req)
	if err != nil {
		return "", err
	}

	entry := &demandEntry{
		requestID: uuid.NewString(),
		edition:   edition,
		items:     req.Items,
		generator: req.Generator,
	}
	s.auditDemand(ctx, entry)

	s.mu.Lock()
	s.demandByRequest[entry.requestID] = entry
	if _, busy := s.activeByEdition[edition.ID]; busy {
		// A job is running for this edition; the entry waits its turn and
		// is picked up when the active job reaches a terminal state.
		s.pendingDemand[edition.ID] = append(s.pendingDemand[edition.ID], entry)
		s.mu.Unlock()
		s.logger.InfoContext(ctx, "demand work queued behind active job",
			"request_id", entry.requestID,
			"edition_id", int64(edition.ID),
			"items", len(entry.items),
		)
		return entry.requestID, nil
	}
	handle := s.allocateLocked(edition.ID)
	entry.jobID = handle.id
	entry.assigned = true
	s.mu.Unlock()

	s.tracker.Register(handle.id, edition)
	s.dispatch(handle, edition, entry)

	s.logger.InfoContext(ctx, "demand publish job started",
		"request_id", entry.requestID,
		"job_id", int64(handle.id),
		"edition_id", int64(edition.ID),
		"items", len(entry.items),
	)
	return entry.requestID, nil
}

// auditDemand writes the accepted request to the audit trail, if configured.
func (s *Scheduler) auditDemand(ctx context.Context, entry *demandEntry) {
	if s.audit == nil {
		return
	}
	err := s.audit.RecordDemandRequest(ctx, types.DemandWorkItem{
		RequestID: entry.requestID,
		EditionID: entry.edition.ID,
		Items:     entry.items,
		Generator: entry.generator,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "demand request audit write failed",
			"request_id", entry.requestID,
			"error", err,
		)
	}
}

// resolveDemandEdition picks the edition a demand request runs under.
func (s *Scheduler) resolveDemandEdition(ctx context.Context, req types.DemandRequest) (*types.Edition, error) {
	if req.EditionID != 0 {
		edition, err := s.editions.Edition(ctx, req.EditionID)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeUpstreamContent,
				fmt.Sprintf("loading edition %d", req.EditionID), err)
		}
		if edition == nil {
			return nil, types.NewAppError(types.ErrCodeSchedulingNoEdition,
				fmt.Sprintf("edition %d does not exist", req.EditionID), nil)
		}
		return edition, nil
	}

	edition, err := s.editions.FindEdition(ctx, req.SiteID, req.Generator)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamContent,
			fmt.Sprintf("resolving edition for site %d", req.SiteID), err)
	}
	if edition == nil {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeSchedulingNoEdition,
			"no edition matches the site and generator", nil,
			map[string]any{"site_id": req.SiteID, "generator": req.Generator})
	}
	return edition, nil
}

// DemandRequestJob returns the job id a demand request has been associated
// with. The second return is false while the request is still waiting.
func (s *Scheduler) DemandRequestJob(requestID string) (types.JobID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.demandByRequest[requestID]
	if !ok || !entry.assigned {
		return 0, false
	}
	return entry.jobID, true
}

// CancelJob requests cooperative cancellation of a job. The worker observes
// the flag between items and transitions to CANCELLED without losing
// already-recorded counts. Cancelling an unknown or already-terminal job is
// a no-op.
func (s *Scheduler) CancelJob(jobID types.JobID) {
	s.mu.Lock()
	handle, ok := s.handles[jobID]
	s.mu.Unlock()
	if !ok {
		return
	}
	handle.cancelled.Store(true)
	s.logger.Info("job cancellation requested", "job_id", int64(jobID))
}

// ActiveJobIDs returns the ids of every queued or running job, ascending.
func (s *Scheduler) ActiveJobIDs() []types.JobID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.JobID, 0, len(s.activeByEdition))
	for _, id := range s.activeByEdition {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Status returns the status snapshot for a job id.
func (s *Scheduler) Status(jobID types.JobID) types.JobStatus {
	return s.tracker.Status(jobID)
}

// ActiveStatuses returns snapshots of every active job.
func (s *Scheduler) ActiveStatuses() []types.JobStatus {
	return s.tracker.Active()
}

// StatusByEdition returns the status of the edition's most recent tracked
// job.
func (s *Scheduler) StatusByEdition(edition types.EditionID) (types.JobStatus, bool) {
	return s.tracker.ByEdition(edition)
}

// Shutdown cancels every active job and waits for the workers to drain, or
// for the context to expire.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, handle := range s.handles {
		handle.cancelled.Store(true)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for publish workers: %w", ctx.Err())
	}
}

// allocateLocked allocates a job id and registers its handle. Caller holds
// s.mu.
func (s *Scheduler) allocateLocked(editionID types.EditionID) *jobHandle {
	handle := &jobHandle{
		id:        types.JobID(s.nextJobID.Add(1)),
		editionID: editionID,
	}
	s.activeByEdition[editionID] = handle.id
	s.handles[handle.id] = handle
	return handle
}

// dispatch hands the job to a worker goroutine.
func (s *Scheduler) dispatch(handle *jobHandle, edition *types.Edition, demand *demandEntry) {
	s.wg.Add(1)
	go s.runJob(handle, edition, demand)
}

// release removes the finished job from the active set and starts the next
// pending demand entry for the edition, if any.
func (s *Scheduler) release(handle *jobHandle, edition *types.Edition) {
	s.mu.Lock()
	if s.activeByEdition[handle.editionID] == handle.id {
		delete(s.activeByEdition, handle.editionID)
	}
	delete(s.handles, handle.id)

	var next *demandEntry
	if pending := s.pendingDemand[handle.editionID]; len(pending) > 0 {
		next = pending[0]
		rest := pending[1:]
		if len(rest) == 0 {
			delete(s.pendingDemand, handle.editionID)
		} else {
			s.pendingDemand[handle.editionID] = rest
		}
	}

	var nextHandle *jobHandle
	if next != nil {
		nextHandle = s.allocateLocked(handle.editionID)
		next.jobID = nextHandle.id
		next.assigned = true
	}
	s.mu.Unlock()

	if next != nil {
		s.tracker.Register(nextHandle.id, next.edition)
		s.dispatch(nextHandle, next.edition, next)
		s.logger.Info("pending demand work picked up",
			"request_id", next.requestID,
			"job_id", int64(nextHandle.id),
			"edition_id", int64(handle.editionID),
		)
	}
}
