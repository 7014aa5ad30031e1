// Package driven declares the driven ports (outbound interfaces) of the
// application core, along with their sentinel errors.
package driven

import (
	"context"
	"errors"
	"time"

	"github.com/squirehq/squire/internal/domain/model"
)

// ErrRepoNotFound indicates the referenced repository was never registered.
var ErrRepoNotFound = errors.New("repository not found")

// RepoStore defines the driven port for repository persistence.
// Upsert is idempotent: it creates the row if absent and re-activates it if
// present, returning the stored repository and whether a new row was created.
// Remove returns ErrRepoNotFound if the repository does not exist; removal
// cascades to pull requests, annotations, and review status.
type RepoStore interface {
	Upsert(ctx context.Context, fullName string) (*model.Repository, bool, error)
	GetByFullName(ctx context.Context, fullName string) (*model.Repository, error)
	ListAll(ctx context.Context) ([]model.Repository, error)
	ListActive(ctx context.Context) ([]model.Repository, error)
	Remove(ctx context.Context, fullName string) error
	Deactivate(ctx context.Context, fullName string) error

	// SetLastSyncedAt advances the watermark and updated_at together.
	// Called only by the sync orchestrator after a fully successful pass.
	SetLastSyncedAt(ctx context.Context, id int64, syncedAt time.Time) error

	// SetBaseURL stores or clears the per-repository API base URL override.
	SetBaseURL(ctx context.Context, fullName string, baseURL *string) error

	// LegacyToken returns the deprecated in-row token for the repository,
	// or "" if none is stored. Kept for databases written before the
	// encrypted secret store existed.
	LegacyToken(ctx context.Context, fullName string) (string, error)
	ClearLegacyToken(ctx context.Context, fullName string) error
}
