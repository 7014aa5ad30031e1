package model

import "time"

// RemotePullRequest is a raw pull-request record as returned by the remote
// API, before normalization. State is the remote's own value and may be
// anything; zero timestamps mean the field was absent from the payload.
type RemotePullRequest struct {
	Number             int
	Title              string
	Body               *string
	AuthorLogin        string
	State              string
	MergedAt           *time.Time
	HeadBranch         string
	BaseBranch         string
	ChangedFiles       int
	RequestedReviewers []string
	RequestedTeamSlugs []string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ChangedFile describes one file touched by a pull request.
type ChangedFile struct {
	Filename  string
	Status    string
	Additions int
	Deletions int
	Changes   int
	Patch     string // Unified diff hunk for this file; empty for binary files.
}

// RemoteComment is an issue-level comment fetched from the remote API.
type RemoteComment struct {
	ID        int64
	Author    string
	Body      string
	URL       string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RemoteReview is a pull-request review event fetched from the remote API.
type RemoteReview struct {
	ID          int64
	Author      string
	State       string
	Body        string
	CommitID    string
	SubmittedAt time.Time
}

// CommentRef identifies a comment created on the remote system.
type CommentRef struct {
	ID  int64
	URL string
}
