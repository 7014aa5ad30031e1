package driven

import (
	"context"
	"errors"

	"github.com/squirehq/squire/internal/domain/model"
)

// ErrPRNotFound indicates the referenced pull request is not in the local cache.
var ErrPRNotFound = errors.New("pull request not found")

// PRStore defines the driven port for pull-request persistence.
// Upsert is keyed on (repo, number): insert if absent, else overwrite every
// mutable field unconditionally. It returns the surrogate row ID.
// UpsertAll writes a batch of upserts in a single transaction: either every
// record lands or none does, so a failed sync pass leaves no partial writes.
// GetByNumber returns nil, nil when no row exists. List filters by repository
// full name ("" matches all active repositories) and state ("" matches all
// states); results are ordered by remote updated_at descending.
type PRStore interface {
	Upsert(ctx context.Context, pr model.PullRequest) (int64, error)
	UpsertAll(ctx context.Context, prs []model.PullRequest) error
	GetByNumber(ctx context.Context, repoFullName string, number int) (*model.PullRequest, error)
	List(ctx context.Context, repoFullName string, state model.PRState) ([]model.PullRequest, error)
}
