package touch

import (
	"context"
	"log/slog"
	"sort"

	"pubengine/internal/types"
)

// MetricRecorder receives the fan-out size of each propagation for
// observability. Implementations must not block.
type MetricRecorder interface {
	RecordPropagation(ctx context.Context, fanout int)
}

// Engine consumes change events and applies the configured touch rules:
// it computes the transitive dirty set and applies the touch (item re-stamp
// plus ledger insertion) to each member.
//
// Propagation is best effort relative to the operation that caused the
// change: a collaborator lookup failure abandons that branch with a log
// entry and never surfaces to the caller.
type Engine struct {
	cfg     *Configuration
	folders types.FolderService
	rels    types.RelationshipService
	items   types.ItemStore
	ledger  types.Ledger

	changeType types.ChangeType
	metrics    MetricRecorder
	logger     *slog.Logger
}

// EngineConfig holds the dependencies for creating an Engine.
type EngineConfig struct {
	Configuration *Configuration
	Folders       types.FolderService
	Relationships types.RelationshipService
	Items         types.ItemStore
	Ledger        types.Ledger
	// ChangeType classifies the ledger records the engine inserts.
	// Defaults to ChangePendingLive.
	ChangeType types.ChangeType
	Metrics    MetricRecorder
	Logger     *slog.Logger
}

// NewEngine creates an Engine with the given configuration.
func NewEngine(cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	changeType := cfg.ChangeType
	if changeType == "" {
		changeType = types.ChangePendingLive
	}
	return &Engine{
		cfg:        cfg.Configuration,
		folders:    cfg.Folders,
		rels:       cfg.Relationships,
		items:      cfg.Items,
		ledger:     cfg.Ledger,
		changeType: changeType,
		metrics:    cfg.Metrics,
		logger:     logger,
	}
}

// Result reports what a propagation did, for telemetry.
type Result struct {
	// Touched is the deduplicated dirty set, in ascending id order.
	Touched []types.ContentID
	// Recorded is the number of new ledger records created.
	Recorded int
}

// Propagate handles one change event end to end: level-based folder
// propagation, active-assembly parent expansion, descendant-navigation
// expansion, dedup, and application of the touch. The dirty set is fully
// computed and ledger-recorded before Propagate returns.
//
// An event whose item maps to no configured source type is a no-op, not an
// error. Propagate never returns an error: failures degrade to "no
// propagation for the failed branch" and are logged.
func (e *Engine) Propagate(ctx context.Context, ev types.ChangeEvent) Result {
	if !e.cfg.Enabled() {
		return Result{}
	}

	dirty := make(map[types.ContentID]struct{})

	if ev.FolderRelationship && ev.Relationship != nil {
		e.propagateLevels(ctx, ev, dirty)
	}

	if e.cfg.TouchDescendantNav() {
		e.propagateDescendantNav(ctx, ev, dirty)
	}

	if len(dirty) == 0 {
		return Result{}
	}

	touched := make([]types.ContentID, 0, len(dirty))
	for id := range dirty {
		touched = append(touched, id)
	}
	sort.Slice(touched, func(i, j int) bool { return touched[i] < touched[j] })

	recorded := e.apply(ctx, touched)

	if e.metrics != nil {
		e.metrics.RecordPropagation(ctx, len(touched))
	}
	e.logger.InfoContext(ctx, "change propagated",
		"item_id", int64(ev.ItemID),
		"item_type_id", int64(ev.ItemTypeID),
		"touched", len(touched),
		"recorded", recorded,
	)

	return Result{Touched: touched, Recorded: recorded}
}

// propagateLevels walks every folder path of the dependent item upward one
// folder at a time and collects the items whose type matches the configured
// targets for each level. When a rule matches exactly on (level, targets)
// and asks for it, the direct active-assembly parents of the matched items
// are collected as well; AA expansion does not recurse.
func (e *Engine) propagateLevels(ctx context.Context, ev types.ChangeEvent, dirty map[types.ContentID]struct{}) {
	levelTargets := e.cfg.LevelTargets(ev.ItemTypeID)
	if len(levelTargets) == 0 {
		return
	}

	bound := e.cfg.MaxLevel(ev.ItemTypeID)
	if minLevel, ok := e.cfg.MinimumLevel(); ok && minLevel > bound {
		bound = minLevel
	}

	paths, err := e.folders.FolderPaths(ctx, ev.Relationship.DependentID)
	if err != nil {
		e.logger.WarnContext(ctx, "folder path lookup failed, abandoning level propagation",
			"item_id", int64(ev.Relationship.DependentID),
			"error", err,
		)
		return
	}

	for _, path := range paths {
		for level := 0; level <= bound && level < len(path); level++ {
			targets := levelTargets[level]
			if len(targets) == 0 {
				continue
			}

			matched, err := e.folders.ItemsOfTypes(ctx, path[level], targets)
			if err != nil {
				e.logger.WarnContext(ctx, "folder item lookup failed, skipping level",
					"folder_id", int64(path[level]),
					"level", level,
					"error", err,
				)
				continue
			}
			for _, id := range matched {
				dirty[id] = struct{}{}
			}

			if e.cfg.ShouldTouchAAParents(ev.ItemTypeID, level, targets) {
				e.collectAAParents(ctx, matched, dirty)
			}
		}
	}
}

// collectAAParents adds the direct active-assembly owners of each matched
// item to the dirty set.
func (e *Engine) collectAAParents(ctx context.Context, matched []types.ContentID, dirty map[types.ContentID]struct{}) {
	for _, id := range matched {
		parents, err := e.rels.ActiveAssemblyParents(ctx, id)
		if err != nil {
			e.logger.WarnContext(ctx, "active-assembly parent lookup failed, skipping item",
				"item_id", int64(id),
				"error", err,
			)
			continue
		}
		for _, p := range parents {
			dirty[p] = struct{}{}
		}
	}
}

// propagateDescendantNav adds all descendant navigation nodes of a changed
// navigation node (or, when the landing-page policy is on, their associated
// landing pages) to the dirty set, independent of the level rules.
func (e *Engine) propagateDescendantNav(ctx context.Context, ev types.ChangeEvent, dirty map[types.ContentID]struct{}) {
	isNav, err := e.rels.IsNavigationNode(ctx, ev.ItemID)
	if err != nil {
		e.logger.WarnContext(ctx, "navigation node check failed, skipping descendant propagation",
			"item_id", int64(ev.ItemID),
			"error", err,
		)
		return
	}
	if !isNav {
		return
	}

	var descendants []types.ContentID
	if e.cfg.TouchLandingPages() {
		descendants, err = e.rels.DescendantLandingPages(ctx, ev.ItemID)
	} else {
		descendants, err = e.rels.DescendantNavigationNodes(ctx, ev.ItemID)
	}
	if err != nil {
		e.logger.WarnContext(ctx, "descendant navigation lookup failed, skipping descendant propagation",
			"item_id", int64(ev.ItemID),
			"landing_pages", e.cfg.TouchLandingPages(),
			"error", err,
		)
		return
	}

	for _, id := range descendants {
		dirty[id] = struct{}{}
	}
}

// apply touches every item in the dirty set and records a pending change for
// each publish target the item belongs to. Returns the number of new ledger
// records created.
func (e *Engine) apply(ctx context.Context, touched []types.ContentID) int {
	if _, err := e.items.TouchItems(ctx, touched); err != nil {
		// The ledger records below are still worth attempting: a failed
		// re-stamp only loses the last-modified bump, not the pending entry.
		e.logger.ErrorContext(ctx, "touching items failed",
			"count", len(touched),
			"error", err,
		)
	}

	recorded := 0
	for _, id := range touched {
		targets, err := e.items.TargetsForItem(ctx, id)
		if err != nil {
			e.logger.WarnContext(ctx, "target lookup failed, item not recorded in ledger",
				"item_id", int64(id),
				"error", err,
			)
			continue
		}
		for _, target := range targets {
			created, err := e.ledger.RecordChange(ctx, target, id, e.changeType)
			if err != nil {
				e.logger.ErrorContext(ctx, "recording pending change failed",
					"item_id", int64(id),
					"target_id", int64(target),
					"error", err,
				)
				continue
			}
			if created {
				recorded++
			}
		}
	}
	return recorded
}
