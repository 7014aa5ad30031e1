package driven

import (
	"context"
	"errors"
	"time"

	"github.com/squirehq/squire/internal/domain/model"
)

// ErrAnnotationNotFound indicates the referenced annotation does not exist.
var ErrAnnotationNotFound = errors.New("annotation not found")

// ReviewStore defines the driven port for the local review workflow:
// append-only annotations plus a single mutable status row per pull request.
type ReviewStore interface {
	// AddAnnotation appends an annotation and returns the stored row,
	// including its assigned ID and creation timestamp.
	AddAnnotation(ctx context.Context, a model.Annotation) (*model.Annotation, error)

	// GetAnnotation returns nil, nil when the annotation does not exist.
	GetAnnotation(ctx context.Context, id int64) (*model.Annotation, error)

	// ListAnnotations returns all annotations for the pull request,
	// oldest first, ties broken by insertion ID.
	ListAnnotations(ctx context.Context, pullRequestID int64) ([]model.Annotation, error)

	// SetStatus upserts the single workflow status row for the pull request.
	// Any status may replace any other; transitions are not restricted.
	SetStatus(ctx context.Context, pullRequestID int64, status model.ReviewStatus) error

	// GetStatus returns the stored status, or StatusPending with a zero
	// timestamp when no row exists.
	GetStatus(ctx context.Context, pullRequestID int64) (model.ReviewStatus, time.Time, error)
}
