// Package status defines the duplicate-group state machine and the job and
// session status enums.
//
// Group lifecycle:
//
//	pending → auto_selected → validated → cleaning → cleaned
//	             ↕ (re-run)       ↓           ↓
//	           pending          pending   cleaning_failed → validated (retry)
//
// proposed sits between pending/auto_selected and validated: the review
// session parks a human suggestion there before it is confirmed.
//
// Only pending and auto_selected groups are visible to the selection
// algorithm. Every other state carries a human decision (or an in-flight
// cleanup) and must never be rewritten by an algorithm run.
package status

import "fmt"

// GroupStatus is the lifecycle state of a duplicate group.
type GroupStatus string

const (
	GroupPending        GroupStatus = "pending"
	GroupAutoSelected   GroupStatus = "auto_selected"
	GroupProposed       GroupStatus = "proposed"
	GroupValidated      GroupStatus = "validated"
	GroupCleaning       GroupStatus = "cleaning"
	GroupCleaned        GroupStatus = "cleaned"
	GroupCleaningFailed GroupStatus = "cleaning_failed"
)

// groupTransitions is the matrix of legal group transitions.
// Key is the current status, value the set of legal targets.
var groupTransitions = map[GroupStatus]map[GroupStatus]bool{
	GroupPending: {
		GroupAutoSelected: true, // algorithm run
		GroupProposed:     true, // review-session suggestion
		GroupValidated:    true, // manual selection / pattern apply
	},
	GroupAutoSelected: {
		GroupAutoSelected: true, // algorithm re-run overwrites its own suggestion
		GroupProposed:     true,
		GroupValidated:    true, // human confirms the suggestion
		GroupPending:      true, // undo
	},
	GroupProposed: {
		GroupProposed:  true, // re-propose a different file
		GroupValidated: true,
		GroupPending:   true, // undo
	},
	GroupValidated: {
		GroupCleaning: true, // cleanup job created
		GroupPending:  true, // undo
	},
	GroupCleaning: {
		GroupCleaned:        true, // all member files processed, none failed
		GroupCleaningFailed: true, // at least one member file failed
	},
	GroupCleaningFailed: {
		GroupValidated: true, // retry
		GroupPending:   true, // reset
	},
	GroupCleaned: {
		GroupPending: true, // administrative reset only
	},
}

// TransitionError reports an attempted move outside the legal state graph.
type TransitionError struct {
	From GroupStatus
	To   GroupStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal group status transition %s → %s", e.From, e.To)
}

// Validate returns nil when from → to is a legal transition, or a
// *TransitionError naming both states otherwise.
func Validate(from, to GroupStatus) error {
	if !IsValidGroupStatus(from) || !IsValidGroupStatus(to) {
		return &TransitionError{From: from, To: to}
	}
	if !groupTransitions[from][to] {
		return &TransitionError{From: from, To: to}
	}
	return nil
}

// CanTransition reports whether from → to is legal.
func CanTransition(from, to GroupStatus) bool {
	return Validate(from, to) == nil
}

// IsEligibleForAlgorithm reports whether the selection algorithm may rewrite
// a group in this state. True only for pending and auto_selected; this is the
// guard that protects human decisions from being silently overwritten.
func IsEligibleForAlgorithm(s GroupStatus) bool {
	return s == GroupPending || s == GroupAutoSelected
}

// IsValidGroupStatus reports whether s is one of the closed enum values.
func IsValidGroupStatus(s GroupStatus) bool {
	switch s {
	case GroupPending, GroupAutoSelected, GroupProposed, GroupValidated,
		GroupCleaning, GroupCleaned, GroupCleaningFailed:
		return true
	default:
		return false
	}
}

// ParseGroupStatus converts a string to a GroupStatus. Free-text spellings
// from the legacy schema ("auto-selected", "AutoSelected", …) are accepted
// so API callers and imported rows keep working.
func ParseGroupStatus(s string) (GroupStatus, error) {
	switch s {
	case "auto-selected", "AutoSelected", "autoselected":
		return GroupAutoSelected, nil
	case "CleaningFailed", "cleaning-failed":
		return GroupCleaningFailed, nil
	case "Pending":
		return GroupPending, nil
	case "Proposed":
		return GroupProposed, nil
	case "Validated":
		return GroupValidated, nil
	case "Cleaning":
		return GroupCleaning, nil
	case "Cleaned":
		return GroupCleaned, nil
	}
	g := GroupStatus(s)
	if !IsValidGroupStatus(g) {
		return "", fmt.Errorf("unknown group status %q", s)
	}
	return g, nil
}

// JobStatus is the lifecycle state of a cleaner job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// IsTerminalJob reports whether a job can no longer change state.
func IsTerminalJob(s JobStatus) bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// JobFileStatus is the per-file state inside a cleaner job.
type JobFileStatus string

const (
	JobFilePending  JobFileStatus = "pending"
	JobFileUploaded JobFileStatus = "uploaded" // archived, not deleted (dry run)
	JobFileDeleted  JobFileStatus = "deleted"
	JobFileFailed   JobFileStatus = "failed"
	JobFileSkipped  JobFileStatus = "skipped"
)

// IsTerminalJobFile reports whether a job file reached a final outcome.
func IsTerminalJobFile(s JobFileStatus) bool {
	return s != JobFilePending
}

// SessionStatus is the lifecycle state of a review session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed"
)
