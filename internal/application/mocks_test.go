package application_test

import (
	"context"
	"fmt"
	"time"

	"github.com/squirehq/squire/internal/domain/model"
	"github.com/squirehq/squire/internal/domain/port/driven"
)

// --- Mock implementations shared by the service tests ---

type mockRepoStore struct {
	repos  map[string]*model.Repository
	nextID int64

	removed       []string
	clearedLegacy []string
	legacyTokens  map[string]string
}

func newMockRepoStore() *mockRepoStore {
	return &mockRepoStore{
		repos:        make(map[string]*model.Repository),
		legacyTokens: make(map[string]string),
	}
}

// seed registers a repository directly, bypassing Upsert bookkeeping.
func (m *mockRepoStore) seed(fullName string, lastSyncedAt *time.Time) *model.Repository {
	m.nextID++
	repo := &model.Repository{
		ID:           m.nextID,
		FullName:     fullName,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
		LastSyncedAt: lastSyncedAt,
	}
	m.repos[fullName] = repo
	return repo
}

func (m *mockRepoStore) Upsert(_ context.Context, fullName string) (*model.Repository, bool, error) {
	if repo, ok := m.repos[fullName]; ok {
		repo.IsActive = true
		copied := *repo
		return &copied, false, nil
	}
	repo := m.seed(fullName, nil)
	copied := *repo
	return &copied, true, nil
}

func (m *mockRepoStore) GetByFullName(_ context.Context, fullName string) (*model.Repository, error) {
	repo, ok := m.repos[fullName]
	if !ok {
		return nil, nil
	}
	copied := *repo
	return &copied, nil
}

func (m *mockRepoStore) ListAll(_ context.Context) ([]model.Repository, error) {
	var repos []model.Repository
	for _, repo := range m.repos {
		repos = append(repos, *repo)
	}
	return repos, nil
}

func (m *mockRepoStore) ListActive(_ context.Context) ([]model.Repository, error) {
	var repos []model.Repository
	for _, repo := range m.repos {
		if repo.IsActive {
			repos = append(repos, *repo)
		}
	}
	return repos, nil
}

func (m *mockRepoStore) Remove(_ context.Context, fullName string) error {
	if _, ok := m.repos[fullName]; !ok {
		return driven.ErrRepoNotFound
	}
	delete(m.repos, fullName)
	m.removed = append(m.removed, fullName)
	return nil
}

func (m *mockRepoStore) Deactivate(_ context.Context, fullName string) error {
	repo, ok := m.repos[fullName]
	if !ok {
		return driven.ErrRepoNotFound
	}
	repo.IsActive = false
	return nil
}

func (m *mockRepoStore) SetLastSyncedAt(_ context.Context, id int64, syncedAt time.Time) error {
	for _, repo := range m.repos {
		if repo.ID == id {
			t := syncedAt
			repo.LastSyncedAt = &t
			return nil
		}
	}
	return fmt.Errorf("repository %d: %w", id, driven.ErrRepoNotFound)
}

func (m *mockRepoStore) SetBaseURL(_ context.Context, fullName string, baseURL *string) error {
	repo, ok := m.repos[fullName]
	if !ok {
		return driven.ErrRepoNotFound
	}
	if baseURL == nil {
		repo.BaseURL = ""
	} else {
		repo.BaseURL = *baseURL
	}
	return nil
}

func (m *mockRepoStore) LegacyToken(_ context.Context, fullName string) (string, error) {
	return m.legacyTokens[fullName], nil
}

func (m *mockRepoStore) ClearLegacyToken(_ context.Context, fullName string) error {
	delete(m.legacyTokens, fullName)
	m.clearedLegacy = append(m.clearedLegacy, fullName)
	return nil
}

type prKey struct {
	repoID int64
	number int
}

type mockPRStore struct {
	nextID    int64
	rows      map[prKey]*model.PullRequest
	upserts   []model.PullRequest
	upsertErr error

	// byName resolves GetByNumber lookups; populated by the test.
	byName map[string]map[int]*model.PullRequest
}

func newMockPRStore() *mockPRStore {
	return &mockPRStore{
		rows:   make(map[prKey]*model.PullRequest),
		byName: make(map[string]map[int]*model.PullRequest),
	}
}

// put registers a pull request for GetByNumber lookups.
func (m *mockPRStore) put(repoFullName string, pr model.PullRequest) *model.PullRequest {
	m.nextID++
	pr.ID = m.nextID
	pr.RepoFullName = repoFullName
	if m.byName[repoFullName] == nil {
		m.byName[repoFullName] = make(map[int]*model.PullRequest)
	}
	m.byName[repoFullName][pr.Number] = &pr
	return &pr
}

func (m *mockPRStore) Upsert(_ context.Context, pr model.PullRequest) (int64, error) {
	if m.upsertErr != nil {
		return 0, m.upsertErr
	}

	key := prKey{repoID: pr.RepoID, number: pr.Number}
	if existing, ok := m.rows[key]; ok {
		pr.ID = existing.ID
	} else {
		m.nextID++
		pr.ID = m.nextID
	}
	m.rows[key] = &pr
	m.upserts = append(m.upserts, pr)
	return pr.ID, nil
}

// UpsertAll mirrors the store's all-or-nothing batch: on an injected error
// no row from the batch is recorded.
func (m *mockPRStore) UpsertAll(ctx context.Context, prs []model.PullRequest) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	for _, pr := range prs {
		if _, err := m.Upsert(ctx, pr); err != nil {
			return err
		}
	}
	return nil
}

func (m *mockPRStore) GetByNumber(_ context.Context, repoFullName string, number int) (*model.PullRequest, error) {
	pr, ok := m.byName[repoFullName][number]
	if !ok {
		return nil, nil
	}
	copied := *pr
	return &copied, nil
}

func (m *mockPRStore) List(_ context.Context, _ string, _ model.PRState) ([]model.PullRequest, error) {
	return nil, nil
}

// stored returns the distinct rows currently held, for idempotence checks.
func (m *mockPRStore) stored() []model.PullRequest {
	var prs []model.PullRequest
	for _, pr := range m.rows {
		prs = append(prs, *pr)
	}
	return prs
}

type mockSecretStore struct {
	tokens      map[string]string
	unavailable bool

	sets    []string
	deletes []string
}

func newMockSecretStore() *mockSecretStore {
	return &mockSecretStore{tokens: make(map[string]string)}
}

func (m *mockSecretStore) Set(_ context.Context, repoFullName, token string) error {
	if m.unavailable {
		return driven.ErrSecretStoreUnavailable
	}
	m.tokens[repoFullName] = token
	m.sets = append(m.sets, repoFullName)
	return nil
}

func (m *mockSecretStore) Get(_ context.Context, repoFullName string) (string, error) {
	if m.unavailable {
		return "", driven.ErrSecretStoreUnavailable
	}
	return m.tokens[repoFullName], nil
}

func (m *mockSecretStore) List(_ context.Context) ([]model.Credential, error) {
	if m.unavailable {
		return nil, driven.ErrSecretStoreUnavailable
	}
	return nil, nil
}

func (m *mockSecretStore) Delete(_ context.Context, repoFullName string) error {
	delete(m.tokens, repoFullName)
	m.deletes = append(m.deletes, repoFullName)
	return nil
}

type pageCall struct {
	page    int
	perPage int
}

type mockGateway struct {
	listAll   func(ctx context.Context, repoFullName, state string) ([]model.RemotePullRequest, error)
	listPage  func(ctx context.Context, repoFullName string, page, perPage int) ([]model.RemotePullRequest, error)
	getPR     func(ctx context.Context, repoFullName string, number int) (*model.RemotePullRequest, error)
	createCmt func(ctx context.Context, repoFullName string, number int, body string) (*model.CommentRef, error)
	authUser  func(ctx context.Context) (string, error)

	listAllCalls  int
	pageCalls     []pageCall
	detailFetches []int
	comments      []string
}

func (m *mockGateway) ListPullRequests(ctx context.Context, repoFullName, state string) ([]model.RemotePullRequest, error) {
	m.listAllCalls++
	if m.listAll == nil {
		return []model.RemotePullRequest{}, nil
	}
	return m.listAll(ctx, repoFullName, state)
}

func (m *mockGateway) ListPullRequestsPage(ctx context.Context, repoFullName string, page, perPage int) ([]model.RemotePullRequest, error) {
	m.pageCalls = append(m.pageCalls, pageCall{page: page, perPage: perPage})
	if m.listPage == nil {
		return nil, nil
	}
	return m.listPage(ctx, repoFullName, page, perPage)
}

func (m *mockGateway) GetPullRequest(ctx context.Context, repoFullName string, number int) (*model.RemotePullRequest, error) {
	m.detailFetches = append(m.detailFetches, number)
	if m.getPR == nil {
		return &model.RemotePullRequest{Number: number, State: "open"}, nil
	}
	return m.getPR(ctx, repoFullName, number)
}

func (m *mockGateway) ListChangedFiles(context.Context, string, int) ([]model.ChangedFile, error) {
	return nil, nil
}

func (m *mockGateway) GetDiff(context.Context, string, int) (string, error) {
	return "", nil
}

func (m *mockGateway) ListIssueComments(context.Context, string, int) ([]model.RemoteComment, error) {
	return nil, nil
}

func (m *mockGateway) ListReviews(context.Context, string, int) ([]model.RemoteReview, error) {
	return nil, nil
}

func (m *mockGateway) CreateIssueComment(ctx context.Context, repoFullName string, number int, body string) (*model.CommentRef, error) {
	m.comments = append(m.comments, body)
	if m.createCmt == nil {
		return &model.CommentRef{ID: int64(1000 + len(m.comments)), URL: "https://example.com/c"}, nil
	}
	return m.createCmt(ctx, repoFullName, number, body)
}

func (m *mockGateway) AuthenticatedUser(ctx context.Context) (string, error) {
	if m.authUser == nil {
		return "token-owner", nil
	}
	return m.authUser(ctx)
}

type statusEntry struct {
	status    model.ReviewStatus
	updatedAt time.Time
}

type mockReviewStore struct {
	nextID      int64
	annotations map[int64]*model.Annotation
	statuses    map[int64]statusEntry
}

func newMockReviewStore() *mockReviewStore {
	return &mockReviewStore{
		annotations: make(map[int64]*model.Annotation),
		statuses:    make(map[int64]statusEntry),
	}
}

func (m *mockReviewStore) AddAnnotation(_ context.Context, a model.Annotation) (*model.Annotation, error) {
	m.nextID++
	a.ID = m.nextID
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	m.annotations[a.ID] = &a
	copied := a
	return &copied, nil
}

func (m *mockReviewStore) GetAnnotation(_ context.Context, id int64) (*model.Annotation, error) {
	a, ok := m.annotations[id]
	if !ok {
		return nil, nil
	}
	copied := *a
	return &copied, nil
}

func (m *mockReviewStore) ListAnnotations(_ context.Context, pullRequestID int64) ([]model.Annotation, error) {
	var anns []model.Annotation
	// Insertion IDs are monotonic, so ID order matches oldest-first.
	for id := int64(1); id <= m.nextID; id++ {
		if a, ok := m.annotations[id]; ok && a.PullRequestID == pullRequestID {
			anns = append(anns, *a)
		}
	}
	return anns, nil
}

func (m *mockReviewStore) SetStatus(_ context.Context, pullRequestID int64, status model.ReviewStatus) error {
	m.statuses[pullRequestID] = statusEntry{status: status, updatedAt: time.Now().UTC()}
	return nil
}

func (m *mockReviewStore) GetStatus(_ context.Context, pullRequestID int64) (model.ReviewStatus, time.Time, error) {
	entry, ok := m.statuses[pullRequestID]
	if !ok {
		return model.StatusPending, time.Time{}, nil
	}
	return entry.status, entry.updatedAt, nil
}
