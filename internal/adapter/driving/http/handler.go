// Package httphandler is the HTTP driving adapter that serves the REST API.
package httphandler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/squirehq/squire/internal/application"
	"github.com/squirehq/squire/internal/domain/model"
	"github.com/squirehq/squire/internal/domain/port/driven"
)

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	repoStore  driven.RepoStore
	prStore    driven.PRStore
	syncSvc    *application.SyncService
	reviewSvc  *application.ReviewService
	publishSvc *application.PublishService
	logger     *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(
	repoStore driven.RepoStore,
	prStore driven.PRStore,
	syncSvc *application.SyncService,
	reviewSvc *application.ReviewService,
	publishSvc *application.PublishService,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		repoStore:  repoStore,
		prStore:    prStore,
		syncSvc:    syncSvc,
		reviewSvc:  reviewSvc,
		publishSvc: publishSvc,
		logger:     logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging, recovery, and CORS middleware.
func NewServeMux(h *Handler, logger *slog.Logger, allowedOrigins []string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/repos", h.ListRepos)
	mux.HandleFunc("POST /api/v1/repos", h.RegisterRepo)
	mux.HandleFunc("DELETE /api/v1/repos/{owner}/{repo}", h.RemoveRepo)
	mux.HandleFunc("POST /api/v1/sync", h.Sync)
	mux.HandleFunc("GET /api/v1/prs", h.ListPRs)
	mux.HandleFunc("GET /api/v1/repos/{owner}/{repo}/prs/{number}", h.GetPR)
	mux.HandleFunc("GET /api/v1/repos/{owner}/{repo}/prs/{number}/files", h.ListFiles)
	mux.HandleFunc("GET /api/v1/repos/{owner}/{repo}/prs/{number}/diff", h.GetDiff)
	mux.HandleFunc("GET /api/v1/repos/{owner}/{repo}/prs/{number}/comments", h.ListComments)
	mux.HandleFunc("GET /api/v1/repos/{owner}/{repo}/prs/{number}/reviews", h.ListReviews)
	mux.HandleFunc("GET /api/v1/repos/{owner}/{repo}/prs/{number}/annotations", h.ListAnnotations)
	mux.HandleFunc("POST /api/v1/repos/{owner}/{repo}/prs/{number}/annotations", h.AddAnnotation)
	mux.HandleFunc("GET /api/v1/repos/{owner}/{repo}/prs/{number}/review-status", h.GetReviewStatus)
	mux.HandleFunc("PUT /api/v1/repos/{owner}/{repo}/prs/{number}/review-status", h.SetReviewStatus)
	mux.HandleFunc("POST /api/v1/repos/{owner}/{repo}/prs/{number}/publish", h.Publish)
	mux.HandleFunc("GET /api/v1/health", h.Health)

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)
	wrapped = corsMiddleware(allowedOrigins, wrapped)

	return wrapped
}

// ListRepos returns all registered repositories.
func (h *Handler) ListRepos(w http.ResponseWriter, r *http.Request) {
	repos, err := h.repoStore.ListAll(r.Context())
	if err != nil {
		h.logger.Error("failed to list repos", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]RepoResponse, 0, len(repos))
	for _, repo := range repos {
		resp = append(resp, toRepoResponse(repo))
	}

	writeJSON(w, http.StatusOK, resp)
}

// RegisterRepo registers a repository and runs a first sync. A failed
// first sync on a new repository rolls the registration back.
func (h *Handler) RegisterRepo(w http.ResponseWriter, r *http.Request) {
	var req RegisterRepoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.syncSvc.RegisterAndSync(r.Context(), req.FullName, application.RegisterOptions{
		Token:   req.Token,
		BaseURL: req.BaseURL,
		Full:    req.Full,
	})
	if err != nil {
		h.writeServiceError(w, err, "register", req.FullName)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}

	writeJSON(w, status, RegisterRepoResponse{
		Repo:      toRepoResponse(*result.Repo),
		Created:   result.Created,
		Processed: result.Processed,
	})
}

// RemoveRepo unregisters a repository. Mirrored pull requests, annotations,
// and stored credentials go with it.
func (h *Handler) RemoveRepo(w http.ResponseWriter, r *http.Request) {
	fullName := r.PathValue("owner") + "/" + r.PathValue("repo")

	if err := h.syncSvc.Unregister(r.Context(), fullName); err != nil {
		if errors.Is(err, driven.ErrRepoNotFound) {
			writeError(w, http.StatusNotFound, "repository not found")
			return
		}
		h.logger.Error("failed to remove repo", "repo", fullName, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Sync triggers a sync pass. With ?repo= it syncs that repository and
// returns its result; without, it syncs every active repository and
// returns one result per repository. ?full=true forces a full re-fetch.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	full := r.URL.Query().Get("full") == "true"

	if repo := r.URL.Query().Get("repo"); repo != "" {
		processed, err := h.syncSvc.Sync(r.Context(), repo, full)
		if err != nil {
			h.writeServiceError(w, err, "sync", repo)
			return
		}
		writeJSON(w, http.StatusOK, SyncResponse{Repository: repo, Processed: processed})
		return
	}

	results, err := h.syncSvc.SyncAll(r.Context(), full)
	if err != nil {
		h.logger.Error("failed to sync repositories", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]SyncResponse, 0, len(results))
	for _, res := range results {
		sr := SyncResponse{Repository: res.RepoFullName, Processed: res.Processed}
		if res.Err != nil {
			sr.Error = res.Err.Error()
		}
		resp = append(resp, sr)
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListPRs returns mirrored pull requests from the local store, optionally
// filtered by ?repo= and ?state=.
func (h *Handler) ListPRs(w http.ResponseWriter, r *http.Request) {
	repo := r.URL.Query().Get("repo")
	state := model.PRState(r.URL.Query().Get("state"))
	if state == "all" {
		state = ""
	}
	if state != "" && state != model.PRStateOpen && state != model.PRStateClosed && state != model.PRStateMerged {
		writeError(w, http.StatusBadRequest, "invalid state: expected open, closed, merged, or all")
		return
	}

	prs, err := h.prStore.List(r.Context(), repo, state)
	if err != nil {
		h.logger.Error("failed to list PRs", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]PRResponse, 0, len(prs))
	for _, pr := range prs {
		resp = append(resp, toPRResponse(pr))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetPR returns a single mirrored pull request by repository and number.
func (h *Handler) GetPR(w http.ResponseWriter, r *http.Request) {
	fullName, number, ok := h.prPath(w, r)
	if !ok {
		return
	}

	pr, err := h.prStore.GetByNumber(r.Context(), fullName, number)
	if err != nil {
		h.logger.Error("failed to get PR", "repo", fullName, "number", number, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if pr == nil {
		writeError(w, http.StatusNotFound, "pull request not found")
		return
	}

	writeJSON(w, http.StatusOK, toPRResponse(*pr))
}

// ListFiles returns the pull request's changed files, read live from the
// remote API.
func (h *Handler) ListFiles(w http.ResponseWriter, r *http.Request) {
	fullName, number, ok := h.prPath(w, r)
	if !ok {
		return
	}

	gw, err := h.syncSvc.OpenGateway(r.Context(), fullName)
	if err != nil {
		h.writeServiceError(w, err, "list files", fullName)
		return
	}

	files, err := gw.ListChangedFiles(r.Context(), fullName, number)
	if err != nil {
		h.writeServiceError(w, err, "list files", fullName)
		return
	}

	resp := make([]ChangedFileResponse, 0, len(files))
	for _, f := range files {
		resp = append(resp, toChangedFileResponse(f))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetDiff returns the pull request's unified diff as text/plain, read live
// from the remote API. With ?file= only that file's section is returned.
func (h *Handler) GetDiff(w http.ResponseWriter, r *http.Request) {
	fullName, number, ok := h.prPath(w, r)
	if !ok {
		return
	}

	gw, err := h.syncSvc.OpenGateway(r.Context(), fullName)
	if err != nil {
		h.writeServiceError(w, err, "get diff", fullName)
		return
	}

	diff, err := gw.GetDiff(r.Context(), fullName, number)
	if err != nil {
		h.writeServiceError(w, err, "get diff", fullName)
		return
	}

	if file := r.URL.Query().Get("file"); file != "" {
		section := extractFileDiff(diff, file)
		if section == "" {
			writeError(w, http.StatusNotFound, "file not present in diff")
			return
		}
		diff = section
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(diff))
}

// ListComments returns the pull request's issue comments, read live from
// the remote API.
func (h *Handler) ListComments(w http.ResponseWriter, r *http.Request) {
	fullName, number, ok := h.prPath(w, r)
	if !ok {
		return
	}

	gw, err := h.syncSvc.OpenGateway(r.Context(), fullName)
	if err != nil {
		h.writeServiceError(w, err, "list comments", fullName)
		return
	}

	comments, err := gw.ListIssueComments(r.Context(), fullName, number)
	if err != nil {
		h.writeServiceError(w, err, "list comments", fullName)
		return
	}

	resp := make([]CommentResponse, 0, len(comments))
	for _, c := range comments {
		resp = append(resp, toCommentResponse(c))
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListReviews returns the pull request's remote reviews, read live from the
// remote API.
func (h *Handler) ListReviews(w http.ResponseWriter, r *http.Request) {
	fullName, number, ok := h.prPath(w, r)
	if !ok {
		return
	}

	gw, err := h.syncSvc.OpenGateway(r.Context(), fullName)
	if err != nil {
		h.writeServiceError(w, err, "list reviews", fullName)
		return
	}

	reviews, err := gw.ListReviews(r.Context(), fullName, number)
	if err != nil {
		h.writeServiceError(w, err, "list reviews", fullName)
		return
	}

	resp := make([]ReviewResponse, 0, len(reviews))
	for _, rev := range reviews {
		resp = append(resp, toReviewResponse(rev))
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListAnnotations returns the pull request's local annotations and review status.
func (h *Handler) ListAnnotations(w http.ResponseWriter, r *http.Request) {
	fullName, number, ok := h.prPath(w, r)
	if !ok {
		return
	}

	anns, status, err := h.reviewSvc.ListAnnotations(r.Context(), fullName, number)
	if err != nil {
		h.writeServiceError(w, err, "list annotations", fullName)
		return
	}

	resp := AnnotationListResponse{
		ReviewStatus: string(status),
		Annotations:  make([]AnnotationResponse, 0, len(anns)),
	}
	for _, ann := range anns {
		resp.Annotations = append(resp.Annotations, toAnnotationResponse(ann))
	}

	writeJSON(w, http.StatusOK, resp)
}

// AddAnnotation attaches an annotation to a mirrored pull request.
func (h *Handler) AddAnnotation(w http.ResponseWriter, r *http.Request) {
	fullName, number, ok := h.prPath(w, r)
	if !ok {
		return
	}

	var req AddAnnotationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ann, err := h.reviewSvc.AddAnnotation(r.Context(), fullName, number, application.AnnotationInput{
		FilePath:   req.FilePath,
		LineNumber: req.LineNumber,
		Severity:   model.Severity(req.Severity),
		Body:       req.Body,
		Agent:      req.Agent,
	})
	if err != nil {
		h.writeServiceError(w, err, "add annotation", fullName)
		return
	}

	writeJSON(w, http.StatusCreated, toAnnotationResponse(*ann))
}

// GetReviewStatus returns the pull request's review status.
func (h *Handler) GetReviewStatus(w http.ResponseWriter, r *http.Request) {
	fullName, number, ok := h.prPath(w, r)
	if !ok {
		return
	}

	status, updatedAt, err := h.reviewSvc.GetStatus(r.Context(), fullName, number)
	if err != nil {
		h.writeServiceError(w, err, "get review status", fullName)
		return
	}

	resp := ReviewStatusResponse{Status: string(status)}
	if !updatedAt.IsZero() {
		resp.UpdatedAt = updatedAt.UTC().Format(time.RFC3339)
	}

	writeJSON(w, http.StatusOK, resp)
}

// SetReviewStatus moves the pull request to a new review status.
func (h *Handler) SetReviewStatus(w http.ResponseWriter, r *http.Request) {
	fullName, number, ok := h.prPath(w, r)
	if !ok {
		return
	}

	var req SetReviewStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.reviewSvc.SetStatus(r.Context(), fullName, number, model.ReviewStatus(req.Status)); err != nil {
		h.writeServiceError(w, err, "set review status", fullName)
		return
	}

	status, updatedAt, err := h.reviewSvc.GetStatus(r.Context(), fullName, number)
	if err != nil {
		h.writeServiceError(w, err, "get review status", fullName)
		return
	}

	writeJSON(w, http.StatusOK, ReviewStatusResponse{
		Status:    string(status),
		UpdatedAt: updatedAt.UTC().Format(time.RFC3339),
	})
}

// Publish posts selected annotations, or an ad-hoc message, as remote
// comments on the pull request.
func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	fullName, number, ok := h.prPath(w, r)
	if !ok {
		return
	}

	var req PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	refs, err := h.publishSvc.Publish(r.Context(), fullName, number, application.PublishInput{
		Message:       req.Message,
		AnnotationIDs: req.AnnotationIDs,
		All:           req.All,
		Prefix:        req.Prefix,
	})
	if err != nil {
		h.writeServiceError(w, err, "publish", fullName)
		return
	}

	resp := PublishResponse{Comments: make([]CommentRefResponse, 0, len(refs))}
	for _, ref := range refs {
		resp.Comments = append(resp.Comments, CommentRefResponse{ID: ref.ID, URL: ref.URL})
	}

	writeJSON(w, http.StatusCreated, resp)
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// prPath extracts the repository full name and PR number from the request
// path, writing a 400 response on a malformed number.
func (h *Handler) prPath(w http.ResponseWriter, r *http.Request) (string, int, bool) {
	fullName := r.PathValue("owner") + "/" + r.PathValue("repo")

	number, err := strconv.Atoi(r.PathValue("number"))
	if err != nil || number <= 0 {
		writeError(w, http.StatusBadRequest, "invalid PR number")
		return "", 0, false
	}

	return fullName, number, true
}

// writeServiceError maps application and port errors to HTTP responses.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error, op, repo string) {
	var remoteErr *driven.RemoteError

	switch {
	case errors.Is(err, driven.ErrRepoNotFound):
		writeError(w, http.StatusNotFound, "repository not found")
	case errors.Is(err, driven.ErrPRNotFound):
		writeError(w, http.StatusNotFound, "pull request not found")
	case errors.Is(err, driven.ErrAnnotationNotFound):
		writeError(w, http.StatusNotFound, "annotation not found")
	case errors.Is(err, application.ErrInvalidRepoName),
		errors.Is(err, application.ErrInvalidSeverity),
		errors.Is(err, application.ErrInvalidStatus),
		errors.Is(err, application.ErrNothingToPublish):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, application.ErrNoToken):
		writeError(w, http.StatusUnauthorized, "no token configured for repository")
	case errors.Is(err, driven.ErrSecretStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &remoteErr):
		h.logger.Error("remote API error", "op", op, "repo", repo, "error", err)
		writeError(w, http.StatusBadGateway, "remote API error: "+remoteErr.Error())
	default:
		h.logger.Error("request failed", "op", op, "repo", repo, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// extractFileDiff pulls a single file's section out of a unified diff.
// Returns "" when the file does not appear.
func extractFileDiff(diff, file string) string {
	const marker = "diff --git "

	var section strings.Builder
	inSection := false

	for _, line := range strings.SplitAfter(diff, "\n") {
		trimmed := strings.TrimSuffix(line, "\n")
		if strings.HasPrefix(trimmed, marker) {
			if inSection {
				break
			}
			header := strings.TrimPrefix(trimmed, marker)
			if header == "a/"+file+" b/"+file {
				inSection = true
			}
		}
		if inSection {
			section.WriteString(line)
		}
	}

	return section.String()
}
