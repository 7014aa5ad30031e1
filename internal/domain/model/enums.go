package model

// PRState represents the lifecycle state of a mirrored pull request.
// "merged" is derived locally: the remote API reports merged PRs as "closed"
// with a non-empty merge timestamp.
type PRState string

const (
	PRStateOpen   PRState = "open"
	PRStateClosed PRState = "closed"
	PRStateMerged PRState = "merged"
)

// Severity classifies a local review annotation.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// IsValid reports whether s is one of the known severities.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError:
		return true
	}
	return false
}

// ReviewStatus is the free-form workflow label attached to a pull request.
// A pull request with no stored status reports StatusPending.
type ReviewStatus string

const (
	StatusPending    ReviewStatus = "pending"
	StatusInProgress ReviewStatus = "in-progress"
	StatusDone       ReviewStatus = "done"
)

// IsValid reports whether s is one of the known review statuses.
func (s ReviewStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusDone:
		return true
	}
	return false
}
