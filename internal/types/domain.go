package types

import "time"

// Relationship describes the relationship edge carried by a change event.
type Relationship struct {
	OwnerID     ContentID `json:"owner_id"`
	DependentID ContentID `json:"dependent_id"`
	Kind        string    `json:"kind"`
}

// ChangeEvent is a single content change notification produced by external
// collaborators (workflow transitions, folder moves, relationship edits).
// It is the sole input to the touch propagation engine.
type ChangeEvent struct {
	ItemID     ContentID     `json:"item_id"`
	ItemTypeID TypeID        `json:"item_type_id"`
	// Relationship is set when the event was caused by a relationship
	// mutation; nil for plain item edits.
	Relationship *Relationship `json:"relationship,omitempty"`
	// FolderRelationship is true when the mutated relationship is a folder
	// containment edge, which is what drives level-based propagation.
	FolderRelationship bool `json:"folder_relationship"`
}

// PendingChangeRecord is one deduplicated "needs re-publish" entry in the
// change ledger. At most one record exists per (target, content, change type).
type PendingChangeRecord struct {
	TargetID   TargetID   `json:"target_id"`
	ContentID  ContentID  `json:"content_id"`
	ChangeType ChangeType `json:"change_type"`
	InsertedAt time.Time  `json:"inserted_at"`
}

// JobCounts holds the per-job progress counters. Counters only ever increase
// while the job is running.
type JobCounts struct {
	Queued    int64 `json:"queued"`
	Assembled int64 `json:"assembled"`
	Failed    int64 `json:"failed"`
	Prepared  int64 `json:"prepared"`
	Delivered int64 `json:"delivered"`
}

// Job is the scheduler-owned record of one publish run.
type Job struct {
	ID        JobID
	EditionID EditionID
	State     JobState
	StartTime time.Time
	EndTime   *time.Time
	Counts    JobCounts
}

// Edition is a named publish configuration bound to a site. The edition store
// itself is an external collaborator; this is the projection the engine needs.
type Edition struct {
	ID       EditionID `json:"id"`
	SiteID   TargetID  `json:"site_id"`
	Name     string    `json:"name"`
	Behavior string    `json:"behavior"`
	// Generator names the content-list generator the edition's lists use,
	// matched against the generator hint of demand publish requests.
	Generator string `json:"generator"`
}

// DemandItem is one (folder, item) pair of an ad-hoc publish request.
type DemandItem struct {
	FolderID  FolderID  `json:"folder_id"`
	ContentID ContentID `json:"content_id"`
}

// DemandWorkItem is an ad-hoc publish request registered against an edition.
// RequestID is the only externally visible handle until the work is picked up
// and associated with a JobID.
type DemandWorkItem struct {
	RequestID string       `json:"request_id"`
	EditionID EditionID    `json:"edition_id"`
	Items     []DemandItem `json:"items"`
	Generator string       `json:"generator"`
}

// DemandRequest is the resolved input to Scheduler.QueueDemandWork. Exactly
// one of EditionID/SiteID must identify a usable edition.
type DemandRequest struct {
	EditionID EditionID
	SiteID    TargetID
	Generator string
	Items     []DemandItem
}

// JobStatus is the immutable point-in-time snapshot served to pollers.
// A copy is returned on every query; callers never observe in-progress
// mutation of a live record.
type JobStatus struct {
	JobID           JobID      `json:"job_id"`
	EditionID       EditionID  `json:"edition_id"`
	EditionName     string     `json:"edition_name"`
	EditionBehavior string     `json:"edition_behavior"`
	State           JobState   `json:"state"`
	StateName       string     `json:"state_name"`
	Percent         int        `json:"percent"`
	Queued          int64      `json:"queued"`
	Assembled       int64      `json:"assembled"`
	Failed          int64      `json:"failed"`
	Prepared        int64      `json:"prepared"`
	Delivered       int64      `json:"delivered"`
	StartTime       time.Time  `json:"start_time"`
	ElapsedMS       int64      `json:"elapsed_ms"`
	EndTime         *time.Time `json:"end_time,omitempty"`
}

// JobEvent is the lifecycle message published to the job events queue when a
// job reaches a terminal state (and when it starts). Downstream delivery
// workers and audit consumers subscribe to these.
type JobEvent struct {
	JobID     JobID      `json:"job_id"`
	EditionID EditionID  `json:"edition_id"`
	State     JobState   `json:"state"`
	Counts    JobCounts  `json:"counts"`
	Timestamp time.Time  `json:"timestamp"`
}
