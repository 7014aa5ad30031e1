package application

import (
	"regexp"
	"sort"
	"time"

	"github.com/squirehq/squire/internal/domain/model"
)

var repoFullNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)

// ValidRepoFullName reports whether fullName looks like "owner/name".
func ValidRepoFullName(fullName string) bool {
	return repoFullNamePattern.MatchString(fullName)
}

// NormalizeState maps a raw remote state to the local lifecycle state.
// The remote API never reports "merged" directly: a merged PR arrives as
// "closed" with a merge timestamp. Unrecognized values normalize to open
// rather than erroring, since the remote system is not under our control.
func NormalizeState(rawState string, mergedAt *time.Time) model.PRState {
	if rawState == "closed" {
		if mergedAt != nil && !mergedAt.IsZero() {
			return model.PRStateMerged
		}
		return model.PRStateClosed
	}
	return model.PRStateOpen
}

// ExtractReviewers unions requested-reviewer logins with requested-team slugs
// (prefixed "team:" to disambiguate), sorted and deduplicated so stored
// values compare deterministically.
func ExtractReviewers(logins, teamSlugs []string) []string {
	seen := make(map[string]struct{}, len(logins)+len(teamSlugs))
	for _, login := range logins {
		if login != "" {
			seen[login] = struct{}{}
		}
	}
	for _, slug := range teamSlugs {
		if slug != "" {
			seen["team:"+slug] = struct{}{}
		}
	}

	reviewers := make([]string, 0, len(seen))
	for reviewer := range seen {
		reviewers = append(reviewers, reviewer)
	}
	sort.Strings(reviewers)
	return reviewers
}

// NormalizePullRequest converts a raw detail record into the stored form.
// Defensive defaults: missing title becomes "", missing author becomes
// "unknown", and missing remote timestamps fall back to the pass start time.
// SyncedAt is always syncStartedAt so every row written in one pass carries
// the same value.
func NormalizePullRequest(raw model.RemotePullRequest, repoID int64, syncStartedAt time.Time) model.PullRequest {
	author := raw.AuthorLogin
	if author == "" {
		author = "unknown"
	}

	createdAt := raw.CreatedAt
	if createdAt.IsZero() {
		createdAt = syncStartedAt
	}

	updatedAt := raw.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = syncStartedAt
	}

	return model.PullRequest{
		RepoID:       repoID,
		Number:       raw.Number,
		Title:        raw.Title,
		Body:         raw.Body,
		Author:       author,
		State:        NormalizeState(raw.State, raw.MergedAt),
		HeadBranch:   raw.HeadBranch,
		BaseBranch:   raw.BaseBranch,
		ChangedFiles: raw.ChangedFiles,
		Reviewers:    ExtractReviewers(raw.RequestedReviewers, raw.RequestedTeamSlugs),
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
		SyncedAt:     syncStartedAt,
	}
}
