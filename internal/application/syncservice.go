// Package application contains use-case orchestration services.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/squirehq/squire/internal/domain/model"
	"github.com/squirehq/squire/internal/domain/port/driven"
)

// listPageSize is the page size used for incremental pagination. The remote
// API caps per_page at 100; a page shorter than this is the final page.
const listPageSize = 100

// ErrInvalidRepoName is returned when a repository identifier is not in
// "owner/name" form.
var ErrInvalidRepoName = errors.New("repository must be in owner/name format")

// SyncService is the sync orchestrator. For one target repository it
// resolves the watermark, picks the fetch strategy, drives pagination
// against the gateway, normalizes each record, and upserts it into the
// local store, finally advancing the watermark.
type SyncService struct {
	repoStore driven.RepoStore
	prStore   driven.PRStore
	secrets   driven.SecretStore
	resolver  *CredentialResolver
	gateways  GatewayFactory
}

// NewSyncService creates a SyncService with all required dependencies.
func NewSyncService(
	repoStore driven.RepoStore,
	prStore driven.PRStore,
	secrets driven.SecretStore,
	resolver *CredentialResolver,
	gateways GatewayFactory,
) *SyncService {
	return &SyncService{
		repoStore: repoStore,
		prStore:   prStore,
		secrets:   secrets,
		resolver:  resolver,
		gateways:  gateways,
	}
}

// Sync mirrors one repository's pull requests into the local store and
// returns the number processed in this pass. When full is true, or the
// repository has never been synced, every pull request is re-fetched;
// otherwise only those remotely updated since the watermark.
//
// Gateway errors abort the remaining steps and propagate to the caller.
// All of a pass's records are written in one store transaction after the
// fetch phase completes, so a failed pass writes nothing; the watermark only
// advances after a fully successful pass, and the next run re-covers
// everything the failed pass attempted.
func (s *SyncService) Sync(ctx context.Context, repoFullName string, full bool) (int, error) {
	gw, err := s.openGateway(ctx, repoFullName)
	if err != nil {
		return 0, err
	}

	existing, err := s.repoStore.GetByFullName(ctx, repoFullName)
	if err != nil {
		return 0, err
	}

	var watermark *time.Time
	if existing != nil {
		watermark = existing.LastSyncedAt
	}

	repo, _, err := s.repoStore.Upsert(ctx, repoFullName)
	if err != nil {
		return 0, err
	}

	// One timestamp for the whole pass. Items updated remotely while the
	// pass runs fall at or after this instant, so the next incremental run
	// re-checks them instead of skipping them.
	syncStartedAt := time.Now().UTC().Truncate(time.Second)

	var pulls []model.RemotePullRequest
	if full || watermark == nil {
		pulls, err = gw.ListPullRequests(ctx, repoFullName, "all")
		if err != nil {
			return 0, err
		}
	} else {
		pulls, err = s.fetchSince(ctx, gw, repoFullName, *watermark)
		if err != nil {
			return 0, err
		}
	}

	records := make([]model.PullRequest, 0, len(pulls))
	for _, pull := range pulls {
		// The list payload is not trusted for body, author, branches, or
		// changed-file count; always re-fetch the detail record.
		detail, err := gw.GetPullRequest(ctx, repoFullName, pull.Number)
		if err != nil {
			return 0, err
		}

		records = append(records, NormalizePullRequest(*detail, repo.ID, syncStartedAt))
	}

	if err := s.prStore.UpsertAll(ctx, records); err != nil {
		return 0, err
	}

	if err := s.repoStore.SetLastSyncedAt(ctx, repo.ID, syncStartedAt); err != nil {
		return 0, err
	}

	slog.Info("repository synced",
		"repo", repoFullName,
		"full", full || watermark == nil,
		"processed", len(pulls),
	)

	return len(pulls), nil
}

// fetchSince pages through pull requests sorted by last-updated descending
// and collects every item updated at or after the watermark. The first item
// strictly older than the watermark proves all subsequent items are stale
// too, so pagination stops there; a page shorter than listPageSize is the
// final page regardless.
func (s *SyncService) fetchSince(ctx context.Context, gw driven.Gateway, repoFullName string, watermark time.Time) ([]model.RemotePullRequest, error) {
	var pulls []model.RemotePullRequest

	for page := 1; ; page++ {
		items, err := gw.ListPullRequestsPage(ctx, repoFullName, page, listPageSize)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			break
		}

		stopped := false
		for _, item := range items {
			if !item.UpdatedAt.IsZero() && item.UpdatedAt.Before(watermark) {
				stopped = true
				break
			}
			pulls = append(pulls, item)
		}

		if stopped || len(items) < listPageSize {
			break
		}
	}

	return pulls, nil
}

// SyncResult is the outcome of syncing one repository.
type SyncResult struct {
	RepoFullName string
	Processed    int
	Err          error
}

// SyncAll syncs every active repository in sequence. A failure on one
// repository does not abort the rest; each result carries its own error.
func (s *SyncService) SyncAll(ctx context.Context, full bool) ([]SyncResult, error) {
	repos, err := s.repoStore.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]SyncResult, 0, len(repos))
	for _, repo := range repos {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}

		processed, err := s.Sync(ctx, repo.FullName, full)
		if err != nil {
			slog.Error("repository sync failed", "repo", repo.FullName, "error", err)
		}
		results = append(results, SyncResult{RepoFullName: repo.FullName, Processed: processed, Err: err})
	}

	return results, nil
}

// RegisterOptions carries the optional per-repository overrides supplied at
// registration. Nil pointer fields mean "leave unchanged"; a pointer to an
// empty string clears the override.
type RegisterOptions struct {
	Token   *string
	BaseURL *string
	Full    bool
}

// RegisterResult is the outcome of RegisterAndSync.
type RegisterResult struct {
	Repo      *model.Repository
	Created   bool
	Processed int
}

// RegisterAndSync registers the repository (idempotently), applies any
// credential overrides, and runs a first sync. If the repository was newly
// created and that first sync fails, the registration is rolled back
// entirely: the row is removed (cascading) and any token stored during this
// call is deleted, so the system never holds a registered-but-never-synced
// repository.
func (s *SyncService) RegisterAndSync(ctx context.Context, repoFullName string, opts RegisterOptions) (*RegisterResult, error) {
	repoFullName = strings.TrimSpace(repoFullName)
	if !ValidRepoFullName(repoFullName) {
		return nil, fmt.Errorf("register %q: %w", repoFullName, ErrInvalidRepoName)
	}

	repo, created, err := s.repoStore.Upsert(ctx, repoFullName)
	if err != nil {
		return nil, err
	}

	tokenStored, err := s.applyOverrides(ctx, repoFullName, opts)
	if err != nil {
		if created {
			s.rollbackRegistration(ctx, repoFullName, tokenStored)
		}
		return nil, err
	}

	processed, err := s.Sync(ctx, repoFullName, opts.Full)
	if err != nil {
		if created {
			s.rollbackRegistration(ctx, repoFullName, tokenStored)
		}
		return nil, err
	}

	repo, err = s.repoStore.GetByFullName(ctx, repoFullName)
	if err != nil {
		return nil, err
	}

	return &RegisterResult{Repo: repo, Created: created, Processed: processed}, nil
}

// applyOverrides stores or clears the per-repository token and base URL.
// A non-empty token is validated against the remote API before it is kept.
// Reports whether a token was written to the secret store.
func (s *SyncService) applyOverrides(ctx context.Context, repoFullName string, opts RegisterOptions) (bool, error) {
	if opts.BaseURL != nil {
		baseURL := strings.TrimRight(strings.TrimSpace(*opts.BaseURL), "/")
		if err := s.repoStore.SetBaseURL(ctx, repoFullName, &baseURL); err != nil {
			return false, err
		}
	}

	if opts.Token == nil {
		return false, nil
	}

	token := strings.TrimSpace(*opts.Token)
	if token == "" {
		if err := s.secrets.Delete(ctx, repoFullName); err != nil && !errors.Is(err, driven.ErrSecretStoreUnavailable) {
			return false, err
		}
		return false, s.repoStore.ClearLegacyToken(ctx, repoFullName)
	}

	if err := s.validateToken(ctx, repoFullName, token); err != nil {
		return false, err
	}

	if err := s.secrets.Set(ctx, repoFullName, token); err != nil {
		return false, err
	}
	if err := s.repoStore.ClearLegacyToken(ctx, repoFullName); err != nil {
		return true, err
	}

	return true, nil
}

// validateToken checks the token actually authenticates against the
// repository's API endpoint before it is stored.
func (s *SyncService) validateToken(ctx context.Context, repoFullName, token string) error {
	repo, err := s.repoStore.GetByFullName(ctx, repoFullName)
	if err != nil {
		return err
	}

	baseURL := ""
	if repo != nil {
		baseURL = repo.BaseURL
	}

	gw, err := s.gateways.New(token, baseURL)
	if err != nil {
		return err
	}

	login, err := gw.AuthenticatedUser(ctx)
	if err != nil {
		return fmt.Errorf("token validation for %s: %w", repoFullName, err)
	}

	slog.Info("token override validated", "repo", repoFullName, "login", login)
	return nil
}

// rollbackRegistration undoes a failed first registration. Errors here are
// logged, not returned; the original failure is what the caller needs.
func (s *SyncService) rollbackRegistration(ctx context.Context, repoFullName string, tokenStored bool) {
	if err := s.repoStore.Remove(ctx, repoFullName); err != nil {
		slog.Error("registration rollback failed", "repo", repoFullName, "error", err)
	}
	if tokenStored {
		if err := s.secrets.Delete(ctx, repoFullName); err != nil {
			slog.Error("registration token cleanup failed", "repo", repoFullName, "error", err)
		}
	}
	slog.Info("registration rolled back after failed first sync", "repo", repoFullName)
}

// Unregister removes a repository and its stored secret. The cascade takes
// mirrored pull requests, annotations, and review status with it.
func (s *SyncService) Unregister(ctx context.Context, repoFullName string) error {
	if err := s.repoStore.Remove(ctx, repoFullName); err != nil {
		return err
	}

	if err := s.secrets.Delete(ctx, repoFullName); err != nil && !errors.Is(err, driven.ErrSecretStoreUnavailable) {
		return fmt.Errorf("repository removed but token cleanup failed: %w", err)
	}

	return nil
}

// openGateway resolves credentials for the repository and builds a gateway
// bound to them.
func (s *SyncService) openGateway(ctx context.Context, repoFullName string) (driven.Gateway, error) {
	token, baseURL, err := s.resolver.Resolve(ctx, repoFullName)
	if err != nil {
		return nil, err
	}
	return s.gateways.New(token, baseURL)
}

// OpenGateway exposes per-repository gateway construction to driving
// adapters that need pass-through reads (files, diff, comments, reviews)
// and comment publishing.
func (s *SyncService) OpenGateway(ctx context.Context, repoFullName string) (driven.Gateway, error) {
	return s.openGateway(ctx, repoFullName)
}
