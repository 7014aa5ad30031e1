package application

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/squirehq/squire/internal/domain/model"
	"github.com/squirehq/squire/internal/domain/port/driven"
)

// ErrInvalidSeverity and ErrInvalidStatus reject writes carrying values
// outside the closed enums.
var (
	ErrInvalidSeverity = fmt.Errorf("severity must be one of info, warning, error")
	ErrInvalidStatus   = fmt.Errorf("status must be one of pending, in-progress, done")
)

// defaultAgent labels annotations whose author did not identify itself.
const defaultAgent = "unknown"

// ReviewService manages the local review layer: annotations attached to
// mirrored pull requests and the per-PR review status. Nothing here talks
// to the remote API; publication is PublishService's job.
type ReviewService struct {
	prStore     driven.PRStore
	reviewStore driven.ReviewStore
}

// NewReviewService creates a ReviewService.
func NewReviewService(prStore driven.PRStore, reviewStore driven.ReviewStore) *ReviewService {
	return &ReviewService{prStore: prStore, reviewStore: reviewStore}
}

// AnnotationInput is a request to attach one annotation.
type AnnotationInput struct {
	FilePath   *string
	LineNumber *int
	Severity   model.Severity
	Body       string
	Agent      string
}

// AddAnnotation attaches an annotation to the mirrored pull request
// identified by repository and number. The pull request must already be
// mirrored locally; annotations never trigger a sync.
//
// FilePath and LineNumber are free-form positioning hints. They are stored
// as given and not checked against the current diff, since the diff may
// have moved on since the reviewing agent read it.
func (r *ReviewService) AddAnnotation(ctx context.Context, repoFullName string, number int, in AnnotationInput) (*model.Annotation, error) {
	pr, err := r.resolvePR(ctx, repoFullName, number)
	if err != nil {
		return nil, err
	}

	if !in.Severity.IsValid() {
		return nil, fmt.Errorf("annotation for %s#%d: %w", repoFullName, number, ErrInvalidSeverity)
	}
	if strings.TrimSpace(in.Body) == "" {
		return nil, fmt.Errorf("annotation for %s#%d: body must not be empty", repoFullName, number)
	}

	agent := strings.TrimSpace(in.Agent)
	if agent == "" {
		agent = defaultAgent
	}

	ann := model.Annotation{
		PullRequestID: pr.ID,
		FilePath:      in.FilePath,
		LineNumber:    in.LineNumber,
		Severity:      in.Severity,
		Body:          in.Body,
		Agent:         agent,
		CreatedAt:     time.Now().UTC(),
	}

	return r.reviewStore.AddAnnotation(ctx, ann)
}

// ListAnnotations returns the pull request's annotations oldest first,
// together with its current review status.
func (r *ReviewService) ListAnnotations(ctx context.Context, repoFullName string, number int) ([]model.Annotation, model.ReviewStatus, error) {
	pr, err := r.resolvePR(ctx, repoFullName, number)
	if err != nil {
		return nil, "", err
	}

	anns, err := r.reviewStore.ListAnnotations(ctx, pr.ID)
	if err != nil {
		return nil, "", err
	}

	status, _, err := r.reviewStore.GetStatus(ctx, pr.ID)
	if err != nil {
		return nil, "", err
	}

	return anns, status, nil
}

// SetStatus moves the pull request to the given review status. Any
// transition between valid states is allowed, including re-opening a done
// review.
func (r *ReviewService) SetStatus(ctx context.Context, repoFullName string, number int, status model.ReviewStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("review status for %s#%d: %w", repoFullName, number, ErrInvalidStatus)
	}

	pr, err := r.resolvePR(ctx, repoFullName, number)
	if err != nil {
		return err
	}

	return r.reviewStore.SetStatus(ctx, pr.ID, status)
}

// GetStatus reports the pull request's review status. A pull request that
// never had a status set reports pending with a zero timestamp.
func (r *ReviewService) GetStatus(ctx context.Context, repoFullName string, number int) (model.ReviewStatus, time.Time, error) {
	pr, err := r.resolvePR(ctx, repoFullName, number)
	if err != nil {
		return "", time.Time{}, err
	}

	return r.reviewStore.GetStatus(ctx, pr.ID)
}

// resolvePR maps a repository name and number to the locally mirrored pull
// request row.
func (r *ReviewService) resolvePR(ctx context.Context, repoFullName string, number int) (*model.PullRequest, error) {
	pr, err := r.prStore.GetByNumber(ctx, repoFullName, number)
	if err != nil {
		return nil, err
	}
	if pr == nil {
		return nil, fmt.Errorf("%s#%d: %w", repoFullName, number, driven.ErrPRNotFound)
	}
	return pr, nil
}
