package model

import "time"

// Annotation is a locally authored review comment attached to a pull request.
// Annotations are append-only: there is no update or delete operation.
// LineNumber without FilePath is meaningless but deliberately not rejected;
// the remote publishing format renders it as "-" in that case.
type Annotation struct {
	ID            int64
	PullRequestID int64
	FilePath      *string
	LineNumber    *int
	Severity      Severity
	Body          string
	Agent         string // Identifier of the authoring agent, e.g. "codex".
	CreatedAt     time.Time
}
