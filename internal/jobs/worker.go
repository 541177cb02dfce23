package jobs

import (
	"context"

	"pubengine/internal/types"
)

// runJob is the worker body for one publish run. It resolves the content
// list (a ledger snapshot for edition runs, the request items for demand
// runs), processes each item through assembly and delivery, and drives the
// job to its terminal state.
//
// The cancellation flag is checked between work units; cancellation never
// rolls back delivery already performed. Per-item failures are recorded in
// the failed counter and the run continues: the terminal state is FAILED
// only when the content list itself could not be resolved.
func (s *Scheduler) runJob(handle *jobHandle, edition *types.Edition, demand *demandEntry) {
	defer s.wg.Done()

	ctx := context.Background()
	logger := s.logger.With(
		"job_id", int64(handle.id),
		"edition_id", int64(edition.ID),
	)

	s.tracker.MarkRunning(handle.id)

	var (
		contentList []types.ContentID
		snapshot    []types.PendingChangeRecord
	)
	if demand != nil {
		contentList = dedupDemandItems(demand.items)
	} else {
		var err error
		snapshot, err = s.ledger.Snapshot(ctx, edition.SiteID, s.changeType)
		if err != nil {
			logger.ErrorContext(ctx, "resolving content list failed",
				"site_id", int64(edition.SiteID),
				"error", err,
			)
			s.complete(ctx, handle, edition, types.JobStateFailed)
			return
		}
		contentList = make([]types.ContentID, 0, len(snapshot))
		for _, rec := range snapshot {
			contentList = append(contentList, rec.ContentID)
		}
	}

	s.tracker.SetQueued(handle.id, int64(len(contentList)))

	state := types.JobStateCompleted
	delivered := make(map[types.ContentID]struct{}, len(contentList))

	for _, item := range contentList {
		if handle.cancelled.Load() {
			state = types.JobStateCancelled
			break
		}

		if err := s.publisher.Assemble(ctx, edition.ID, item); err != nil {
			logger.WarnContext(ctx, "item assembly failed",
				"content_id", int64(item),
				"error", err,
			)
			s.tracker.IncrFailed(handle.id)
			continue
		}
		s.tracker.IncrAssembled(handle.id)
		s.tracker.IncrPrepared(handle.id)

		if handle.cancelled.Load() {
			state = types.JobStateCancelled
			break
		}

		if err := s.publisher.Deliver(ctx, edition.ID, item); err != nil {
			logger.WarnContext(ctx, "item delivery failed",
				"content_id", int64(item),
				"error", err,
			)
			s.tracker.IncrFailed(handle.id)
			continue
		}
		s.tracker.IncrDelivered(handle.id)
		delivered[item] = struct{}{}
	}

	// Ledger records are cleared only on confirmed successful delivery, and
	// only the ones from this job's snapshot: changes recorded mid-run stay
	// pending for the next run.
	if state == types.JobStateCompleted && len(snapshot) > 0 {
		cleared := make([]types.PendingChangeRecord, 0, len(delivered))
		for _, rec := range snapshot {
			if _, ok := delivered[rec.ContentID]; ok {
				cleared = append(cleared, rec)
			}
		}
		if len(cleared) > 0 {
			if err := s.ledger.ClearRecorded(ctx, edition.SiteID, cleared); err != nil {
				logger.ErrorContext(ctx, "clearing delivered ledger records failed",
					"site_id", int64(edition.SiteID),
					"records", len(cleared),
					"error", err,
				)
			}
		}
	}

	s.complete(ctx, handle, edition, state)
}

// complete finishes the job, emits the lifecycle event and metrics, and
// releases the edition slot.
func (s *Scheduler) complete(ctx context.Context, handle *jobHandle, edition *types.Edition, state types.JobState) {
	counts := s.tracker.Finish(handle.id, state)

	s.logger.InfoContext(ctx, "publish job finished",
		"job_id", int64(handle.id),
		"edition_id", int64(edition.ID),
		"state", string(state),
		"assembled", counts.Assembled,
		"delivered", counts.Delivered,
		"failed", counts.Failed,
	)

	if s.events != nil {
		ev := types.JobEvent{
			JobID:     handle.id,
			EditionID: edition.ID,
			State:     state,
			Counts:    counts,
			Timestamp: s.tracker.clock(),
		}
		if err := s.events.PublishJobEvent(ctx, ev); err != nil {
			s.logger.ErrorContext(ctx, "publishing job event failed",
				"job_id", int64(handle.id),
				"error", err,
			)
		}
	}

	if s.metrics != nil {
		s.metrics.RecordJobOutcome(ctx, state, counts)
	}

	s.release(handle, edition)
}

// dedupDemandItems extracts the distinct content ids of a demand request,
// preserving request order.
func dedupDemandItems(items []types.DemandItem) []types.ContentID {
	seen := make(map[types.ContentID]struct{}, len(items))
	out := make([]types.ContentID, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it.ContentID]; ok {
			continue
		}
		seen[it.ContentID] = struct{}{}
		out = append(out, it.ContentID)
	}
	return out
}
