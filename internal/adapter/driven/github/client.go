// Package github implements the Gateway port using the go-github library.
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"

	"github.com/squirehq/squire/internal/domain/model"
	"github.com/squirehq/squire/internal/domain/port/driven"
)

// DefaultBaseURL is the public GitHub REST API endpoint, used when neither a
// process-wide nor a per-repository base URL is configured.
const DefaultBaseURL = "https://api.github.com"

// Compile-time interface satisfaction check.
var _ driven.Gateway = (*Client)(nil)

// Client implements the driven.Gateway port using the go-github library.
type Client struct {
	gh *gh.Client
}

// NewClient creates a gateway client with the following transport stack:
//  1. httpcache (ETag-based conditional request caching)
//  2. go-github-ratelimit (secondary rate limit middleware, sleeps on 429)
//  3. go-github (GitHub REST API client with PAT auth)
//
// baseURL selects the API endpoint; pass DefaultBaseURL for github.com or an
// enterprise URL for self-hosted instances. Trailing slashes are normalized.
func NewClient(token, baseURL string) (*Client, error) {
	cacheTransport := httpcache.NewMemoryCacheTransport()
	rateLimitClient := github_ratelimit.NewClient(cacheTransport)
	rateLimitClient.Timeout = 30 * time.Second
	client := gh.NewClient(rateLimitClient).WithAuthToken(token)

	if err := setBaseURL(client, baseURL); err != nil {
		return nil, err
	}

	return &Client{gh: client}, nil
}

// NewClientWithHTTPClient creates a Client with a custom http.Client and base URL.
// This constructor is intended for testing, allowing injection of an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL string) (*Client, error) {
	client := gh.NewClient(httpClient)
	if err := setBaseURL(client, baseURL); err != nil {
		return nil, err
	}
	return &Client{gh: client}, nil
}

// setBaseURL points the go-github client at the given endpoint. go-github
// requires the base URL to end in a slash.
func setBaseURL(client *gh.Client, baseURL string) error {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
	if err != nil {
		return fmt.Errorf("parsing base URL %q: %w", baseURL, err)
	}
	client.BaseURL = u
	return nil
}

// ListPullRequests retrieves every pull request in the given remote state
// ("open", "closed", or "all"), paging until exhaustion.
func (c *Client) ListPullRequests(ctx context.Context, repoFullName, state string) ([]model.RemotePullRequest, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	opts := &gh.PullRequestListOptions{
		State:       state,
		ListOptions: gh.ListOptions{PerPage: 100},
	}

	var all []model.RemotePullRequest

	for {
		prs, resp, err := c.gh.PullRequests.List(ctx, owner, repo, opts)
		if err != nil {
			return nil, remoteErr(err, fmt.Sprintf("listing pull requests for %s (page %d)", repoFullName, opts.Page))
		}

		logRateLimit(resp, repoFullName, opts.Page, len(prs))

		for _, pr := range prs {
			all = append(all, mapRemotePullRequest(pr))
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	if all == nil {
		all = []model.RemotePullRequest{}
	}

	return all, nil
}

// ListPullRequestsPage retrieves a single page of pull requests across all
// states, sorted by last-updated descending. An empty or short page signals
// the end of data; the caller owns the pagination loop so it can apply the
// incremental-sync cutoff mid-page.
func (c *Client) ListPullRequestsPage(ctx context.Context, repoFullName string, page, perPage int) ([]model.RemotePullRequest, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	opts := &gh.PullRequestListOptions{
		State:     "all",
		Sort:      "updated",
		Direction: "desc",
		ListOptions: gh.ListOptions{
			Page:    page,
			PerPage: perPage,
		},
	}

	prs, resp, err := c.gh.PullRequests.List(ctx, owner, repo, opts)
	if err != nil {
		return nil, remoteErr(err, fmt.Sprintf("listing pull requests for %s (page %d)", repoFullName, page))
	}

	logRateLimit(resp, repoFullName, page, len(prs))

	items := make([]model.RemotePullRequest, 0, len(prs))
	for _, pr := range prs {
		items = append(items, mapRemotePullRequest(pr))
	}

	return items, nil
}

// GetPullRequest retrieves the full detail record for one pull request. The
// detail payload is the only one trusted for body, author, branches, and
// changed-file count.
func (c *Client) GetPullRequest(ctx context.Context, repoFullName string, number int) (*model.RemotePullRequest, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	pr, resp, err := c.gh.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, remoteErr(err, fmt.Sprintf("getting pull request %s#%d", repoFullName, number))
	}

	logRateLimit(resp, repoFullName, 0, 1)

	mapped := mapRemotePullRequest(pr)
	return &mapped, nil
}

// ListChangedFiles retrieves all files touched by a pull request.
// It handles pagination automatically.
func (c *Client) ListChangedFiles(ctx context.Context, repoFullName string, number int) ([]model.ChangedFile, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	opts := &gh.ListOptions{PerPage: 100}
	var all []model.ChangedFile

	for {
		files, resp, err := c.gh.PullRequests.ListFiles(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, remoteErr(err, fmt.Sprintf("listing files for %s#%d (page %d)", repoFullName, number, opts.Page))
		}

		for _, f := range files {
			all = append(all, model.ChangedFile{
				Filename:  f.GetFilename(),
				Status:    f.GetStatus(),
				Additions: f.GetAdditions(),
				Deletions: f.GetDeletions(),
				Changes:   f.GetChanges(),
				Patch:     f.GetPatch(),
			})
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return all, nil
}

// GetDiff retrieves the unified diff text for a pull request.
func (c *Client) GetDiff(ctx context.Context, repoFullName string, number int) (string, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return "", err
	}

	diff, _, err := c.gh.PullRequests.GetRaw(ctx, owner, repo, number, gh.RawOptions{Type: gh.Diff})
	if err != nil {
		return "", remoteErr(err, fmt.Sprintf("getting diff for %s#%d", repoFullName, number))
	}

	return diff, nil
}

// ListIssueComments retrieves all PR-level comments (from the Issues API).
// It handles pagination automatically.
func (c *Client) ListIssueComments(ctx context.Context, repoFullName string, number int) ([]model.RemoteComment, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	opts := &gh.IssueListCommentsOptions{
		ListOptions: gh.ListOptions{PerPage: 100},
	}
	var all []model.RemoteComment

	for {
		comments, resp, err := c.gh.Issues.ListComments(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, remoteErr(err, fmt.Sprintf("listing comments for %s#%d (page %d)", repoFullName, number, opts.Page))
		}

		for _, comment := range comments {
			all = append(all, model.RemoteComment{
				ID:        comment.GetID(),
				Author:    comment.GetUser().GetLogin(),
				Body:      comment.GetBody(),
				URL:       comment.GetHTMLURL(),
				CreatedAt: comment.GetCreatedAt().Time,
				UpdatedAt: comment.GetUpdatedAt().Time,
			})
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return all, nil
}

// ListReviews retrieves all review events for a pull request.
// It handles pagination automatically.
func (c *Client) ListReviews(ctx context.Context, repoFullName string, number int) ([]model.RemoteReview, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	opts := &gh.ListOptions{PerPage: 100}
	var all []model.RemoteReview

	for {
		reviews, resp, err := c.gh.PullRequests.ListReviews(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, remoteErr(err, fmt.Sprintf("listing reviews for %s#%d (page %d)", repoFullName, number, opts.Page))
		}

		for _, r := range reviews {
			all = append(all, model.RemoteReview{
				ID:          r.GetID(),
				Author:      r.GetUser().GetLogin(),
				State:       strings.ToLower(r.GetState()),
				Body:        r.GetBody(),
				CommitID:    r.GetCommitID(),
				SubmittedAt: r.GetSubmittedAt().Time,
			})
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return all, nil
}

// CreateIssueComment posts a plain comment on a pull request (via the Issues
// API) and returns the created comment's identity.
func (c *Client) CreateIssueComment(ctx context.Context, repoFullName string, number int, body string) (*model.CommentRef, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	comment, _, err := c.gh.Issues.CreateComment(ctx, owner, repo, number, &gh.IssueComment{
		Body: gh.Ptr(body),
	})
	if err != nil {
		return nil, remoteErr(err, fmt.Sprintf("creating comment on %s#%d", repoFullName, number))
	}

	return &model.CommentRef{
		ID:  comment.GetID(),
		URL: comment.GetHTMLURL(),
	}, nil
}

// AuthenticatedUser returns the login of the token's user.
func (c *Client) AuthenticatedUser(ctx context.Context) (string, error) {
	user, _, err := c.gh.Users.Get(ctx, "")
	if err != nil {
		return "", remoteErr(err, "getting authenticated user")
	}
	return user.GetLogin(), nil
}

// mapRemotePullRequest converts a go-github PullRequest to the raw domain
// record. It uses GetXxx() helper methods exclusively to avoid nil pointer
// panics; state normalization happens in the application layer, not here.
func mapRemotePullRequest(pr *gh.PullRequest) model.RemotePullRequest {
	var body *string
	if pr.Body != nil {
		b := pr.GetBody()
		body = &b
	}

	var mergedAt *time.Time
	if pr.MergedAt != nil {
		t := pr.GetMergedAt().Time
		mergedAt = &t
	}

	reviewers := make([]string, 0, len(pr.RequestedReviewers))
	for _, r := range pr.RequestedReviewers {
		reviewers = append(reviewers, r.GetLogin())
	}

	teamSlugs := make([]string, 0, len(pr.RequestedTeams))
	for _, t := range pr.RequestedTeams {
		teamSlugs = append(teamSlugs, t.GetSlug())
	}

	return model.RemotePullRequest{
		Number:             pr.GetNumber(),
		Title:              pr.GetTitle(),
		Body:               body,
		AuthorLogin:        pr.GetUser().GetLogin(),
		State:              pr.GetState(),
		MergedAt:           mergedAt,
		HeadBranch:         pr.GetHead().GetRef(),
		BaseBranch:         pr.GetBase().GetRef(),
		ChangedFiles:       pr.GetChangedFiles(),
		RequestedReviewers: reviewers,
		RequestedTeamSlugs: teamSlugs,
		CreatedAt:          pr.GetCreatedAt().Time,
		UpdatedAt:          pr.GetUpdatedAt().Time,
	}
}

// remoteErr converts a go-github error into a wrapped *driven.RemoteError,
// preserving the HTTP status when a response was received.
func remoteErr(err error, context string) error {
	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) {
		status := 0
		if ghErr.Response != nil {
			status = ghErr.Response.StatusCode
		}
		return fmt.Errorf("%s: %w", context, &driven.RemoteError{StatusCode: status, Msg: ghErr.Message})
	}

	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) {
		return fmt.Errorf("%s: %w", context, &driven.RemoteError{StatusCode: http.StatusForbidden, Msg: rateErr.Message})
	}

	return fmt.Errorf("%s: %w", context, &driven.RemoteError{Msg: err.Error()})
}

// splitRepo splits "owner/name" into its components.
func splitRepo(repoFullName string) (owner, repo string, err error) {
	parts := strings.SplitN(repoFullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository full name %q (expected owner/name)", repoFullName)
	}
	return parts[0], parts[1], nil
}

// logRateLimit logs the GitHub API rate limit status after each call.
func logRateLimit(resp *gh.Response, endpoint string, page, count int) {
	if resp == nil {
		return
	}

	slog.Debug("github api call",
		"endpoint", endpoint,
		"page", page,
		"count", count,
		"rate_remaining", resp.Rate.Remaining,
		"rate_limit", resp.Rate.Limit,
	)

	if resp.Rate.Remaining < 100 {
		slog.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset_in", time.Until(resp.Rate.Reset.Time).Round(time.Second),
		)
	}
}
