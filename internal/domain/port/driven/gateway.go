package driven

import (
	"context"
	"fmt"

	"github.com/squirehq/squire/internal/domain/model"
)

// RemoteError describes a failed remote API call. StatusCode is zero for
// transport-level failures that never produced a response.
type RemoteError struct {
	StatusCode int
	Msg        string
}

func (e *RemoteError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("remote api: %s", e.Msg)
	}
	return fmt.Sprintf("remote api (%d): %s", e.StatusCode, e.Msg)
}

// Gateway defines the driven port for the remote source-control API.
// All operations are synchronous request/response; failures surface as
// *RemoteError (wrapped). Implementations bound each call with a
// transport-level timeout; there is no mid-pagination cancellation beyond ctx.
type Gateway interface {
	// ListPullRequests fetches every pull request in the given remote state
	// ("open", "closed", or "all"), paging until exhaustion.
	ListPullRequests(ctx context.Context, repoFullName, state string) ([]model.RemotePullRequest, error)

	// ListPullRequestsPage fetches a single page of pull requests across all
	// states, sorted by last-updated descending. An empty or short page
	// signals the end of data.
	ListPullRequestsPage(ctx context.Context, repoFullName string, page, perPage int) ([]model.RemotePullRequest, error)

	// GetPullRequest fetches the full detail record for one pull request.
	// The list payloads are not trusted for body, author, branches, or
	// changed-file count; sync always re-fetches through here.
	GetPullRequest(ctx context.Context, repoFullName string, number int) (*model.RemotePullRequest, error)

	ListChangedFiles(ctx context.Context, repoFullName string, number int) ([]model.ChangedFile, error)
	GetDiff(ctx context.Context, repoFullName string, number int) (string, error)
	ListIssueComments(ctx context.Context, repoFullName string, number int) ([]model.RemoteComment, error)
	ListReviews(ctx context.Context, repoFullName string, number int) ([]model.RemoteReview, error)

	// CreateIssueComment posts a plain comment and returns its remote
	// identity. This is the only remote-side mutation Squire performs.
	CreateIssueComment(ctx context.Context, repoFullName string, number int, body string) (*model.CommentRef, error)

	// AuthenticatedUser returns the login of the token's user. Used to
	// validate per-repository token overrides before storing them.
	AuthenticatedUser(ctx context.Context) (string, error)
}
