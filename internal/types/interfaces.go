package types

import "context"

// FolderPath is the chain of folders containing an item, ordered from the
// item's own folder upward: index 0 is the item's folder (level 0), index 1
// its parent (level 1), and so on to the site root. An item filed in more
// than one folder has one FolderPath per filing.
type FolderPath []FolderID

// FolderService exposes the folder-tree queries the propagation engine needs.
// Backed by the external folder object store; all methods may block on I/O.
type FolderService interface {
	// FolderPaths returns every folder path containing the item. An item not
	// filed anywhere yields an empty slice, not an error.
	FolderPaths(ctx context.Context, item ContentID) ([]FolderPath, error)
	// ItemsOfTypes returns the ids of items directly in the folder whose
	// content type is one of typeIDs.
	ItemsOfTypes(ctx context.Context, folder FolderID, typeIDs []TypeID) ([]ContentID, error)
}

// RelationshipService exposes the relationship queries the propagation
// engine needs from the external relationship store.
type RelationshipService interface {
	// ActiveAssemblyParents returns the owners of active-assembly
	// relationships that embed the given item. One hop only.
	ActiveAssemblyParents(ctx context.Context, item ContentID) ([]ContentID, error)
	// IsNavigationNode reports whether the item is a navigation node (navon
	// or navtree).
	IsNavigationNode(ctx context.Context, item ContentID) (bool, error)
	// DescendantNavigationNodes returns every navigation node below the
	// given node in the navigation tree.
	DescendantNavigationNodes(ctx context.Context, item ContentID) ([]ContentID, error)
	// DescendantLandingPages returns the landing pages associated with the
	// descendant navigation nodes of the given node.
	DescendantLandingPages(ctx context.Context, item ContentID) ([]ContentID, error)
}

// ItemStore exposes the content-item mutations and target lookups the engine
// needs from the external item persistence/versioning store.
type ItemStore interface {
	// TouchItems re-stamps the last-modified date of the given items so
	// downstream publishing treats them as dirty. Returns the number of
	// items actually touched.
	TouchItems(ctx context.Context, items []ContentID) (int, error)
	// TargetsForItem returns the sites/publish targets the item belongs to.
	// An item outside any publish target yields an empty slice.
	TargetsForItem(ctx context.Context, item ContentID) ([]TargetID, error)
}

// TypeResolver resolves content type names from the declarative rule file to
// numeric type ids.
type TypeResolver interface {
	// ResolveType returns the numeric id for a content type name. Unknown or
	// retired names return an error; rule loading drops those sources.
	ResolveType(ctx context.Context, name string) (TypeID, error)
}

// EditionResolver loads edition definitions from the external edition store.
type EditionResolver interface {
	// Edition returns the edition with the given id, or nil when no such
	// edition exists.
	Edition(ctx context.Context, id EditionID) (*Edition, error)
	// FindEdition returns the first edition on the site whose content lists
	// use the named generator, or nil when none matches.
	FindEdition(ctx context.Context, site TargetID, generator string) (*Edition, error)
}

// ItemPublisher performs the per-item assembly and delivery work of a publish
// run. Both collaborators are external; partial failures are recorded in the
// job's failed counter and never abort the run.
type ItemPublisher interface {
	Assemble(ctx context.Context, edition EditionID, item ContentID) error
	Deliver(ctx context.Context, edition EditionID, item ContentID) error
}

// Ledger is the deduplicating, site-scoped ledger of pending publish changes.
// Implementations must guarantee at most one record per
// (target, content, change type) and must serialize RecordChange and
// ClearRecorded for the same target.
type Ledger interface {
	// RecordChange performs an idempotent insert. The returned bool reports
	// whether a new record was created; it exists for telemetry only and is
	// never required for correctness by callers.
	RecordChange(ctx context.Context, target TargetID, content ContentID, change ChangeType) (bool, error)
	// ChangedContent returns the distinct content ids recorded for the
	// target and change type. The result reflects every insert that
	// completed before the call.
	ChangedContent(ctx context.Context, target TargetID, change ChangeType) ([]ContentID, error)
	// Snapshot returns the full records for the target and change type, for
	// use as a job's content-list snapshot.
	Snapshot(ctx context.Context, target TargetID, change ChangeType) ([]PendingChangeRecord, error)
	// ClearRecorded removes exactly the given records. Changes recorded
	// after the snapshot was taken survive and stay pending.
	ClearRecorded(ctx context.Context, target TargetID, records []PendingChangeRecord) error
	// ClearTarget removes every record for the target. Used on target
	// deletion.
	ClearTarget(ctx context.Context, target TargetID) error
}
