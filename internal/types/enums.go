package types

// TypeID is the numeric identifier of a content type.
type TypeID int64

// ContentID is the numeric identifier of a content item.
type ContentID int64

// FolderID is the numeric identifier of a folder.
type FolderID int64

// TargetID identifies a site or publish target.
type TargetID int64

// EditionID identifies a named, schedulable publish configuration.
type EditionID int64

// JobID identifies a single publish run.
type JobID int64

// ChangeType classifies a pending change in the ledger.
type ChangeType string

const (
	// ChangePendingLive means the change affects the live/published version
	// of the site.
	ChangePendingLive ChangeType = "pending_live"
	// ChangePendingStaging means the change affects the staging version only.
	ChangePendingStaging ChangeType = "pending_staging"
)

// JobState is the lifecycle state of a publish job.
//
// Real transitions are QUEUED -> RUNNING -> {COMPLETED | FAILED | CANCELLED}.
// INACTIVE is synthetic: it is returned for job ids that are unknown or have
// been evicted from the tracker, and is never a transition target.
type JobState string

const (
	JobStateQueued    JobState = "QUEUED"
	JobStateRunning   JobState = "RUNNING"
	JobStateCompleted JobState = "COMPLETED"
	JobStateFailed    JobState = "FAILED"
	JobStateCancelled JobState = "CANCELLED"
	JobStateInactive  JobState = "INACTIVE"
)

// Active reports whether the state counts against the one-active-job-per-edition
// invariant.
func (s JobState) Active() bool {
	return s == JobStateQueued || s == JobStateRunning
}

// Terminal reports whether the job has finished and its record is immutable.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateCompleted, JobStateFailed, JobStateCancelled:
		return true
	}
	return false
}
