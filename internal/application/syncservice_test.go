package application_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/squirehq/squire/internal/application"
	"github.com/squirehq/squire/internal/domain/model"
	"github.com/squirehq/squire/internal/domain/port/driven"
)

// newSyncService wires a SyncService around the given mocks with a
// process-wide default token, so credential resolution always succeeds.
func newSyncService(repoStore *mockRepoStore, prStore *mockPRStore, secrets *mockSecretStore, gw *mockGateway) *application.SyncService {
	resolver := application.NewCredentialResolver(secrets, repoStore, "default-token", "", builtinURL)
	factory := application.GatewayFactoryFunc(func(_, _ string) (driven.Gateway, error) {
		return gw, nil
	})
	return application.NewSyncService(repoStore, prStore, secrets, resolver, factory)
}

// remotePR builds a minimal raw record with the given number and update time.
func remotePR(number int, updatedAt time.Time) model.RemotePullRequest {
	return model.RemotePullRequest{
		Number:    number,
		Title:     fmt.Sprintf("PR %d", number),
		State:     "open",
		CreatedAt: updatedAt.Add(-24 * time.Hour),
		UpdatedAt: updatedAt,
	}
}

// detailFrom serves GetPullRequest lookups out of a fixed set of records.
func detailFrom(records []model.RemotePullRequest) func(context.Context, string, int) (*model.RemotePullRequest, error) {
	byNumber := make(map[int]model.RemotePullRequest, len(records))
	for _, r := range records {
		byNumber[r.Number] = r
	}
	return func(_ context.Context, _ string, number int) (*model.RemotePullRequest, error) {
		r, ok := byNumber[number]
		if !ok {
			return nil, fmt.Errorf("no detail record for #%d", number)
		}
		return &r, nil
	}
}

func TestSync_FirstPassIsFull(t *testing.T) {
	repoStore := newMockRepoStore()
	repoStore.seed("octocat/hello-world", nil)
	prStore := newMockPRStore()

	records := []model.RemotePullRequest{
		remotePR(1, time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)),
		remotePR(2, time.Date(2026, 1, 6, 0, 0, 0, 0, time.UTC)),
	}
	gw := &mockGateway{
		listAll: func(_ context.Context, _, state string) ([]model.RemotePullRequest, error) {
			assert.Equal(t, "all", state)
			return records, nil
		},
		getPR: detailFrom(records),
	}

	svc := newSyncService(repoStore, prStore, newMockSecretStore(), gw)

	before := time.Now().UTC().Truncate(time.Second)
	processed, err := svc.Sync(context.Background(), "octocat/hello-world", false)
	after := time.Now().UTC()
	require.NoError(t, err)

	assert.Equal(t, 2, processed)
	assert.Equal(t, 1, gw.listAllCalls, "no watermark forces the full path")
	assert.Empty(t, gw.pageCalls)
	assert.Equal(t, []int{1, 2}, gw.detailFetches)

	repo, err := repoStore.GetByFullName(context.Background(), "octocat/hello-world")
	require.NoError(t, err)
	require.NotNil(t, repo.LastSyncedAt)
	assert.False(t, repo.LastSyncedAt.Before(before))
	assert.False(t, repo.LastSyncedAt.After(after))

	// Every row written in the pass carries the watermark as SyncedAt.
	require.Len(t, prStore.upserts, 2)
	for _, pr := range prStore.upserts {
		assert.True(t, pr.SyncedAt.Equal(*repo.LastSyncedAt))
	}
}

func TestSync_FullFlagOverridesWatermark(t *testing.T) {
	watermark := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	repoStore := newMockRepoStore()
	repoStore.seed("octocat/hello-world", &watermark)
	prStore := newMockPRStore()

	gw := &mockGateway{}
	svc := newSyncService(repoStore, prStore, newMockSecretStore(), gw)

	_, err := svc.Sync(context.Background(), "octocat/hello-world", true)
	require.NoError(t, err)

	assert.Equal(t, 1, gw.listAllCalls)
	assert.Empty(t, gw.pageCalls)
}

func TestSync_IncrementalStopsAtWatermark(t *testing.T) {
	watermark := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	repoStore := newMockRepoStore()
	repoStore.seed("octocat/hello-world", &watermark)
	prStore := newMockPRStore()

	// Page 1 is a full page of fresh items, newest first. Page 2 opens with
	// one fresh item, then a stale one, which ends pagination mid-page.
	var page1 []model.RemotePullRequest
	for i := 0; i < 100; i++ {
		page1 = append(page1, remotePR(200-i, watermark.Add(time.Duration(100-i)*time.Hour)))
	}
	page2 := []model.RemotePullRequest{
		remotePR(100, watermark.Add(time.Minute)),
		remotePR(99, watermark.Add(-time.Minute)),
		remotePR(98, watermark.Add(-2*time.Hour)),
	}

	all := append(append([]model.RemotePullRequest{}, page1...), page2...)
	gw := &mockGateway{
		listPage: func(_ context.Context, _ string, page, _ int) ([]model.RemotePullRequest, error) {
			switch page {
			case 1:
				return page1, nil
			case 2:
				return page2, nil
			default:
				return nil, fmt.Errorf("unexpected page %d", page)
			}
		},
		getPR: detailFrom(all),
	}

	svc := newSyncService(repoStore, prStore, newMockSecretStore(), gw)

	processed, err := svc.Sync(context.Background(), "octocat/hello-world", false)
	require.NoError(t, err)

	assert.Equal(t, 101, processed, "100 from page 1 plus the single fresh item on page 2")
	assert.Equal(t, []pageCall{{1, 100}, {2, 100}}, gw.pageCalls)
	assert.Zero(t, gw.listAllCalls)
	assert.NotContains(t, gw.detailFetches, 99, "items older than the watermark are never fetched")
	assert.NotContains(t, gw.detailFetches, 98)
}

func TestSync_IncrementalIncludesItemEqualToWatermark(t *testing.T) {
	watermark := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	repoStore := newMockRepoStore()
	repoStore.seed("octocat/hello-world", &watermark)
	prStore := newMockPRStore()

	records := []model.RemotePullRequest{remotePR(5, watermark)}
	gw := &mockGateway{
		listPage: func(_ context.Context, _ string, page, _ int) ([]model.RemotePullRequest, error) {
			if page == 1 {
				return records, nil
			}
			return nil, nil
		},
		getPR: detailFrom(records),
	}

	svc := newSyncService(repoStore, prStore, newMockSecretStore(), gw)

	processed, err := svc.Sync(context.Background(), "octocat/hello-world", false)
	require.NoError(t, err)

	assert.Equal(t, 1, processed, "updated_at equal to the watermark is not stale")
}

func TestSync_IncrementalShortPageIsTerminal(t *testing.T) {
	watermark := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	repoStore := newMockRepoStore()
	repoStore.seed("octocat/hello-world", &watermark)
	prStore := newMockPRStore()

	records := []model.RemotePullRequest{
		remotePR(3, watermark.Add(3*time.Hour)),
		remotePR(2, watermark.Add(2*time.Hour)),
		remotePR(1, watermark.Add(time.Hour)),
	}
	gw := &mockGateway{
		listPage: func(_ context.Context, _ string, page, _ int) ([]model.RemotePullRequest, error) {
			require.Equal(t, 1, page, "a short page must end pagination")
			return records, nil
		},
		getPR: detailFrom(records),
	}

	svc := newSyncService(repoStore, prStore, newMockSecretStore(), gw)

	processed, err := svc.Sync(context.Background(), "octocat/hello-world", false)
	require.NoError(t, err)

	assert.Equal(t, 3, processed)
	assert.Len(t, gw.pageCalls, 1)
}

func TestSync_EmptyPageYieldsZero(t *testing.T) {
	watermark := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	repoStore := newMockRepoStore()
	repoStore.seed("octocat/hello-world", &watermark)
	prStore := newMockPRStore()

	gw := &mockGateway{}
	svc := newSyncService(repoStore, prStore, newMockSecretStore(), gw)

	processed, err := svc.Sync(context.Background(), "octocat/hello-world", false)
	require.NoError(t, err)

	assert.Zero(t, processed)
	assert.Empty(t, prStore.upserts)

	// The watermark still advances: an empty pass is a successful pass.
	repo, err := repoStore.GetByFullName(context.Background(), "octocat/hello-world")
	require.NoError(t, err)
	require.NotNil(t, repo.LastSyncedAt)
	assert.True(t, repo.LastSyncedAt.After(watermark))
}

func TestSync_Idempotent(t *testing.T) {
	repoStore := newMockRepoStore()
	repoStore.seed("octocat/hello-world", nil)
	prStore := newMockPRStore()

	records := []model.RemotePullRequest{
		remotePR(1, time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)),
		remotePR(2, time.Date(2026, 1, 6, 0, 0, 0, 0, time.UTC)),
	}
	gw := &mockGateway{
		listAll: func(context.Context, string, string) ([]model.RemotePullRequest, error) {
			return records, nil
		},
		getPR: detailFrom(records),
	}

	svc := newSyncService(repoStore, prStore, newMockSecretStore(), gw)

	_, err := svc.Sync(context.Background(), "octocat/hello-world", true)
	require.NoError(t, err)
	_, err = svc.Sync(context.Background(), "octocat/hello-world", true)
	require.NoError(t, err)

	assert.Len(t, prStore.stored(), 2, "re-syncing identical data must not duplicate rows")
	assert.Len(t, prStore.upserts, 4)
}

func TestSync_DetailFailureLeavesStoreUntouched(t *testing.T) {
	watermark := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	repoStore := newMockRepoStore()
	repoStore.seed("octocat/hello-world", &watermark)
	prStore := newMockPRStore()

	records := []model.RemotePullRequest{
		remotePR(2, watermark.Add(2*time.Hour)),
		remotePR(1, watermark.Add(time.Hour)),
	}
	gw := &mockGateway{
		listPage: func(_ context.Context, _ string, page, _ int) ([]model.RemotePullRequest, error) {
			if page == 1 {
				return records, nil
			}
			return nil, nil
		},
		getPR: func(_ context.Context, _ string, number int) (*model.RemotePullRequest, error) {
			if number == 1 {
				return nil, &driven.RemoteError{StatusCode: 500, Msg: "boom"}
			}
			r := records[0]
			return &r, nil
		},
	}

	svc := newSyncService(repoStore, prStore, newMockSecretStore(), gw)

	_, err := svc.Sync(context.Background(), "octocat/hello-world", false)
	require.Error(t, err)

	var remoteErr *driven.RemoteError
	assert.ErrorAs(t, err, &remoteErr)

	// The pass writes nothing on failure and the watermark does not move.
	assert.Empty(t, prStore.upserts)
	repo, getErr := repoStore.GetByFullName(context.Background(), "octocat/hello-world")
	require.NoError(t, getErr)
	require.NotNil(t, repo.LastSyncedAt)
	assert.True(t, repo.LastSyncedAt.Equal(watermark), "watermark only advances on full success")
}

func TestSyncAll_ContinuesPastFailures(t *testing.T) {
	repoStore := newMockRepoStore()
	repoStore.seed("alice/alpha", nil)
	repoStore.seed("bob/beta", nil)
	prStore := newMockPRStore()

	records := []model.RemotePullRequest{remotePR(1, time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC))}
	gw := &mockGateway{
		listAll: func(_ context.Context, repoFullName, _ string) ([]model.RemotePullRequest, error) {
			if repoFullName == "alice/alpha" {
				return nil, &driven.RemoteError{StatusCode: 403, Msg: "forbidden"}
			}
			return records, nil
		},
		getPR: detailFrom(records),
	}

	svc := newSyncService(repoStore, prStore, newMockSecretStore(), gw)

	results, err := svc.SyncAll(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, results, 2)

	byRepo := make(map[string]application.SyncResult, len(results))
	for _, res := range results {
		byRepo[res.RepoFullName] = res
	}

	assert.Error(t, byRepo["alice/alpha"].Err)
	assert.NoError(t, byRepo["bob/beta"].Err)
	assert.Equal(t, 1, byRepo["bob/beta"].Processed)
}

func TestRegisterAndSync_InvalidName(t *testing.T) {
	svc := newSyncService(newMockRepoStore(), newMockPRStore(), newMockSecretStore(), &mockGateway{})

	_, err := svc.RegisterAndSync(context.Background(), "not-a-repo", application.RegisterOptions{})
	assert.ErrorIs(t, err, application.ErrInvalidRepoName)
}

func TestRegisterAndSync_NewRepo(t *testing.T) {
	repoStore := newMockRepoStore()
	prStore := newMockPRStore()

	records := []model.RemotePullRequest{remotePR(1, time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC))}
	gw := &mockGateway{
		listAll: func(context.Context, string, string) ([]model.RemotePullRequest, error) {
			return records, nil
		},
		getPR: detailFrom(records),
	}

	svc := newSyncService(repoStore, prStore, newMockSecretStore(), gw)

	result, err := svc.RegisterAndSync(context.Background(), "octocat/hello-world", application.RegisterOptions{})
	require.NoError(t, err)

	assert.True(t, result.Created)
	assert.Equal(t, 1, result.Processed)
	require.NotNil(t, result.Repo.LastSyncedAt)
}

func TestRegisterAndSync_RollsBackNewRepoOnSyncFailure(t *testing.T) {
	repoStore := newMockRepoStore()
	secrets := newMockSecretStore()

	gw := &mockGateway{
		listAll: func(context.Context, string, string) ([]model.RemotePullRequest, error) {
			return nil, &driven.RemoteError{StatusCode: 404, Msg: "not found"}
		},
	}

	svc := newSyncService(repoStore, newMockPRStore(), secrets, gw)

	token := "ghp_new"
	_, err := svc.RegisterAndSync(context.Background(), "octocat/nope", application.RegisterOptions{Token: &token})
	require.Error(t, err)

	// The registration and the just-stored token are both gone.
	assert.Contains(t, repoStore.removed, "octocat/nope")
	got, getErr := repoStore.GetByFullName(context.Background(), "octocat/nope")
	require.NoError(t, getErr)
	assert.Nil(t, got)
	assert.Contains(t, secrets.deletes, "octocat/nope")
}

func TestRegisterAndSync_ExistingRepoSurvivesSyncFailure(t *testing.T) {
	repoStore := newMockRepoStore()
	repoStore.seed("octocat/hello-world", nil)

	gw := &mockGateway{
		listAll: func(context.Context, string, string) ([]model.RemotePullRequest, error) {
			return nil, &driven.RemoteError{StatusCode: 500, Msg: "boom"}
		},
	}

	svc := newSyncService(repoStore, newMockPRStore(), newMockSecretStore(), gw)

	_, err := svc.RegisterAndSync(context.Background(), "octocat/hello-world", application.RegisterOptions{})
	require.Error(t, err)

	assert.Empty(t, repoStore.removed, "re-registering must never delete an existing repository")
	got, getErr := repoStore.GetByFullName(context.Background(), "octocat/hello-world")
	require.NoError(t, getErr)
	assert.NotNil(t, got)
}

func TestRegisterAndSync_StoresValidatedToken(t *testing.T) {
	repoStore := newMockRepoStore()
	repoStore.legacyTokens["octocat/hello-world"] = "legacy"
	secrets := newMockSecretStore()

	gw := &mockGateway{}
	svc := newSyncService(repoStore, newMockPRStore(), secrets, gw)

	token := "ghp_override"
	_, err := svc.RegisterAndSync(context.Background(), "octocat/hello-world", application.RegisterOptions{Token: &token})
	require.NoError(t, err)

	assert.Equal(t, "ghp_override", secrets.tokens["octocat/hello-world"])
	assert.Contains(t, repoStore.clearedLegacy, "octocat/hello-world")
}

func TestRegisterAndSync_RejectsInvalidToken(t *testing.T) {
	repoStore := newMockRepoStore()
	secrets := newMockSecretStore()

	gw := &mockGateway{
		authUser: func(context.Context) (string, error) {
			return "", &driven.RemoteError{StatusCode: 401, Msg: "bad credentials"}
		},
	}

	svc := newSyncService(repoStore, newMockPRStore(), secrets, gw)

	token := "ghp_bogus"
	_, err := svc.RegisterAndSync(context.Background(), "octocat/hello-world", application.RegisterOptions{Token: &token})
	require.Error(t, err)

	assert.Empty(t, secrets.tokens, "an invalid token must never be stored")
	got, getErr := repoStore.GetByFullName(context.Background(), "octocat/hello-world")
	require.NoError(t, getErr)
	assert.Nil(t, got, "failed registration of a new repository rolls back")
}

func TestRegisterAndSync_EmptyTokenClearsOverride(t *testing.T) {
	repoStore := newMockRepoStore()
	repoStore.seed("octocat/hello-world", nil)
	secrets := newMockSecretStore()
	secrets.tokens["octocat/hello-world"] = "old-token"

	svc := newSyncService(repoStore, newMockPRStore(), secrets, &mockGateway{})

	empty := ""
	_, err := svc.RegisterAndSync(context.Background(), "octocat/hello-world", application.RegisterOptions{Token: &empty})
	require.NoError(t, err)

	assert.Empty(t, secrets.tokens)
	assert.Contains(t, secrets.deletes, "octocat/hello-world")
}

func TestRegisterAndSync_SetsBaseURL(t *testing.T) {
	repoStore := newMockRepoStore()
	svc := newSyncService(repoStore, newMockPRStore(), newMockSecretStore(), &mockGateway{})

	baseURL := "https://ghe.example.com/api/v3/"
	_, err := svc.RegisterAndSync(context.Background(), "octocat/hello-world", application.RegisterOptions{BaseURL: &baseURL})
	require.NoError(t, err)

	repo, getErr := repoStore.GetByFullName(context.Background(), "octocat/hello-world")
	require.NoError(t, getErr)
	assert.Equal(t, "https://ghe.example.com/api/v3", repo.BaseURL)
}

func TestUnregister(t *testing.T) {
	repoStore := newMockRepoStore()
	repoStore.seed("octocat/hello-world", nil)
	secrets := newMockSecretStore()
	secrets.tokens["octocat/hello-world"] = "token"

	svc := newSyncService(repoStore, newMockPRStore(), secrets, &mockGateway{})

	require.NoError(t, svc.Unregister(context.Background(), "octocat/hello-world"))
	assert.Empty(t, secrets.tokens)

	err := svc.Unregister(context.Background(), "octocat/hello-world")
	assert.ErrorIs(t, err, driven.ErrRepoNotFound)
}

func TestSync_UpsertFailurePropagates(t *testing.T) {
	repoStore := newMockRepoStore()
	repoStore.seed("octocat/hello-world", nil)
	prStore := newMockPRStore()
	prStore.upsertErr = errors.New("disk full")

	records := []model.RemotePullRequest{remotePR(1, time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC))}
	gw := &mockGateway{
		listAll: func(context.Context, string, string) ([]model.RemotePullRequest, error) {
			return records, nil
		},
		getPR: detailFrom(records),
	}

	svc := newSyncService(repoStore, prStore, newMockSecretStore(), gw)

	_, err := svc.Sync(context.Background(), "octocat/hello-world", false)
	require.Error(t, err)

	repo, getErr := repoStore.GetByFullName(context.Background(), "octocat/hello-world")
	require.NoError(t, getErr)
	assert.Nil(t, repo.LastSyncedAt)
}
