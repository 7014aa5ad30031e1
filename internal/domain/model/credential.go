package model

import "time"

// Credential is a per-repository access token stored in the secret store.
// Value is plaintext at the domain boundary; the adapter layer encrypts it
// at rest.
type Credential struct {
	ID           int64
	RepoFullName string
	Value        string
	UpdatedAt    time.Time
}
