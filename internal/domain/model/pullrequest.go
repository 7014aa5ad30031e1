package model

import "time"

// PullRequest is the locally cached mirror of a remote pull request.
// (RepoID, Number) is the natural key; ID is a surrogate used for foreign-key
// references from annotations and review status.
type PullRequest struct {
	ID           int64
	RepoID       int64
	RepoFullName string // Joined from the owning repository on reads.
	Number       int
	Title        string
	Body         *string
	Author       string
	State        PRState
	HeadBranch   string
	BaseBranch   string
	ChangedFiles int
	Reviewers    []string // Sorted, deduplicated; team entries carry a "team:" prefix.
	CreatedAt    time.Time
	UpdatedAt    time.Time
	SyncedAt     time.Time // The sync-pass start time; identical for all rows written in one pass.

	// ReviewStatus is joined from the workflow table on reads and defaults
	// to StatusPending when no row exists. It is never written by sync.
	ReviewStatus ReviewStatus
}
