package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/squirehq/squire/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// RepoResponse is the JSON representation of a registered repository.
type RepoResponse struct {
	FullName     string  `json:"full_name"`
	IsActive     bool    `json:"is_active"`
	BaseURL      string  `json:"base_url,omitempty"`
	CreatedAt    string  `json:"created_at"`
	LastSyncedAt *string `json:"last_synced_at"`
}

// PRResponse is the JSON representation of a mirrored pull request.
type PRResponse struct {
	Number       int      `json:"number"`
	Repository   string   `json:"repository"`
	Title        string   `json:"title"`
	Body         *string  `json:"body"`
	Author       string   `json:"author"`
	State        string   `json:"state"`
	HeadBranch   string   `json:"head_branch"`
	BaseBranch   string   `json:"base_branch"`
	ChangedFiles int      `json:"changed_files"`
	Reviewers    []string `json:"reviewers"`
	ReviewStatus string   `json:"review_status"`
	CreatedAt    string   `json:"created_at"`
	UpdatedAt    string   `json:"updated_at"`
	SyncedAt     string   `json:"synced_at"`
}

// AnnotationResponse is the JSON representation of a review annotation.
// BodyHTML carries the markdown body rendered to sanitized HTML.
type AnnotationResponse struct {
	ID         int64   `json:"id"`
	FilePath   *string `json:"file_path"`
	LineNumber *int    `json:"line_number"`
	Severity   string  `json:"severity"`
	Body       string  `json:"body"`
	BodyHTML   string  `json:"body_html"`
	Agent      string  `json:"agent"`
	CreatedAt  string  `json:"created_at"`
}

// AnnotationListResponse bundles a pull request's annotations with its
// review status.
type AnnotationListResponse struct {
	ReviewStatus string               `json:"review_status"`
	Annotations  []AnnotationResponse `json:"annotations"`
}

// AddAnnotationRequest is the JSON body for the create annotation endpoint.
type AddAnnotationRequest struct {
	FilePath   *string `json:"file_path"`
	LineNumber *int    `json:"line_number"`
	Severity   string  `json:"severity"`
	Body       string  `json:"body"`
	Agent      string  `json:"agent"`
}

// ReviewStatusResponse is the JSON representation of a review status.
type ReviewStatusResponse struct {
	Status    string `json:"status"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// SetReviewStatusRequest is the JSON body for the set status endpoint.
type SetReviewStatusRequest struct {
	Status string `json:"status"`
}

// ChangedFileResponse is the JSON representation of one file in a PR diff.
type ChangedFileResponse struct {
	Filename  string `json:"filename"`
	Status    string `json:"status"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Changes   int    `json:"changes"`
	Patch     string `json:"patch,omitempty"`
}

// CommentResponse is the JSON representation of a remote issue comment.
type CommentResponse struct {
	ID        int64  `json:"id"`
	Author    string `json:"author"`
	Body      string `json:"body"`
	URL       string `json:"url"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// ReviewResponse is the JSON representation of a remote review.
type ReviewResponse struct {
	ID          int64  `json:"id"`
	Author      string `json:"author"`
	State       string `json:"state"`
	Body        string `json:"body"`
	CommitID    string `json:"commit_id"`
	SubmittedAt string `json:"submitted_at"`
}

// RegisterRepoRequest is the JSON body for the register repository endpoint.
type RegisterRepoRequest struct {
	FullName string  `json:"full_name"`
	Token    *string `json:"token"`
	BaseURL  *string `json:"base_url"`
	Full     bool    `json:"full_sync"`
}

// RegisterRepoResponse is the result of registering a repository.
type RegisterRepoResponse struct {
	Repo      RepoResponse `json:"repo"`
	Created   bool         `json:"created"`
	Processed int          `json:"processed"`
}

// SyncResponse is the result of syncing one repository.
type SyncResponse struct {
	Repository string `json:"repository"`
	Processed  int    `json:"processed"`
	Error      string `json:"error,omitempty"`
}

// PublishRequest is the JSON body for the publish endpoint.
type PublishRequest struct {
	Message       string  `json:"message"`
	AnnotationIDs []int64 `json:"annotation_ids"`
	All           bool    `json:"all"`
	Prefix        *string `json:"prefix"`
}

// PublishResponse lists the remote comments created by a publish request.
type PublishResponse struct {
	Comments []CommentRefResponse `json:"comments"`
}

// CommentRefResponse points at one created remote comment.
type CommentRefResponse struct {
	ID  int64  `json:"id"`
	URL string `json:"url"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// toRepoResponse converts a domain Repository to its JSON response representation.
func toRepoResponse(repo model.Repository) RepoResponse {
	var lastSynced *string
	if repo.LastSyncedAt != nil {
		s := repo.LastSyncedAt.UTC().Format(time.RFC3339)
		lastSynced = &s
	}

	return RepoResponse{
		FullName:     repo.FullName,
		IsActive:     repo.IsActive,
		BaseURL:      repo.BaseURL,
		CreatedAt:    repo.CreatedAt.UTC().Format(time.RFC3339),
		LastSyncedAt: lastSynced,
	}
}

// toPRResponse converts a domain PullRequest to its JSON response representation.
func toPRResponse(pr model.PullRequest) PRResponse {
	reviewers := pr.Reviewers
	if reviewers == nil {
		reviewers = []string{}
	}

	return PRResponse{
		Number:       pr.Number,
		Repository:   pr.RepoFullName,
		Title:        pr.Title,
		Body:         pr.Body,
		Author:       pr.Author,
		State:        string(pr.State),
		HeadBranch:   pr.HeadBranch,
		BaseBranch:   pr.BaseBranch,
		ChangedFiles: pr.ChangedFiles,
		Reviewers:    reviewers,
		ReviewStatus: string(pr.ReviewStatus),
		CreatedAt:    pr.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    pr.UpdatedAt.UTC().Format(time.RFC3339),
		SyncedAt:     pr.SyncedAt.UTC().Format(time.RFC3339),
	}
}

// toAnnotationResponse converts a domain Annotation to its JSON representation.
func toAnnotationResponse(ann model.Annotation) AnnotationResponse {
	return AnnotationResponse{
		ID:         ann.ID,
		FilePath:   ann.FilePath,
		LineNumber: ann.LineNumber,
		Severity:   string(ann.Severity),
		Body:       ann.Body,
		BodyHTML:   RenderMarkdown(ann.Body),
		Agent:      ann.Agent,
		CreatedAt:  ann.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// toChangedFileResponse converts a domain ChangedFile to its JSON representation.
func toChangedFileResponse(f model.ChangedFile) ChangedFileResponse {
	return ChangedFileResponse{
		Filename:  f.Filename,
		Status:    f.Status,
		Additions: f.Additions,
		Deletions: f.Deletions,
		Changes:   f.Changes,
		Patch:     f.Patch,
	}
}

// toCommentResponse converts a domain RemoteComment to its JSON representation.
func toCommentResponse(c model.RemoteComment) CommentResponse {
	return CommentResponse{
		ID:        c.ID,
		Author:    c.Author,
		Body:      c.Body,
		URL:       c.URL,
		CreatedAt: c.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: c.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// toReviewResponse converts a domain RemoteReview to its JSON representation.
func toReviewResponse(r model.RemoteReview) ReviewResponse {
	submitted := ""
	if !r.SubmittedAt.IsZero() {
		submitted = r.SubmittedAt.UTC().Format(time.RFC3339)
	}

	return ReviewResponse{
		ID:          r.ID,
		Author:      r.Author,
		State:       r.State,
		Body:        r.Body,
		CommitID:    r.CommitID,
		SubmittedAt: submitted,
	}
}
