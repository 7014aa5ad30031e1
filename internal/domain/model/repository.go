package model

import "time"

// Repository represents a remote repository mirrored by Squire.
// LastSyncedAt is the incremental-sync watermark: everything remotely updated
// at or after this instant must be re-checked. It is nil until the first
// successful sync pass and is advanced only at the end of a successful pass.
type Repository struct {
	ID           int64
	FullName     string // "owner/name", unique and immutable once created.
	IsActive     bool
	BaseURL      string // Optional per-repository API base URL override; empty means use the process default.
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastSyncedAt *time.Time
}
