package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/squirehq/squire/internal/domain/model"
	"github.com/squirehq/squire/internal/domain/port/driven"
)

// defaultPublishPrefix marks published comments as machine-authored so
// human reviewers can tell them apart at a glance.
const defaultPublishPrefix = "[AI Review]"

// ErrNothingToPublish is returned when a publish request selects no
// annotations and carries no ad-hoc message.
var ErrNothingToPublish = errors.New("nothing to publish: no annotations selected and no message given")

// GatewayOpener builds a gateway bound to the credentials resolved for one
// repository. SyncService implements it.
type GatewayOpener interface {
	OpenGateway(ctx context.Context, repoFullName string) (driven.Gateway, error)
}

// PublishService pushes selected local review output back to the remote
// repository as plain issue comments. It is the only path by which local
// review data leaves the process.
type PublishService struct {
	prStore     driven.PRStore
	reviewStore driven.ReviewStore
	gateways    GatewayOpener
}

// NewPublishService creates a PublishService. The gateway opener is the
// SyncService, which owns credential resolution.
func NewPublishService(prStore driven.PRStore, reviewStore driven.ReviewStore, gateways GatewayOpener) *PublishService {
	return &PublishService{prStore: prStore, reviewStore: reviewStore, gateways: gateways}
}

// PublishInput selects what to publish. Exactly one selection mode applies:
// a non-empty Message publishes a single ad-hoc comment; otherwise All or
// AnnotationIDs selects stored annotations, one comment each.
type PublishInput struct {
	Message       string
	AnnotationIDs []int64
	All           bool
	Prefix        *string
}

// Publish posts the selected content as remote comments and returns a
// reference per posted comment, in posting order. Selected annotation IDs
// that do not exist, or that belong to a different pull request, fail the
// whole request before anything is posted.
func (p *PublishService) Publish(ctx context.Context, repoFullName string, number int, in PublishInput) ([]model.CommentRef, error) {
	pr, err := p.prStore.GetByNumber(ctx, repoFullName, number)
	if err != nil {
		return nil, err
	}
	if pr == nil {
		return nil, fmt.Errorf("%s#%d: %w", repoFullName, number, driven.ErrPRNotFound)
	}

	prefix := defaultPublishPrefix
	if in.Prefix != nil {
		prefix = strings.TrimSpace(*in.Prefix)
	}

	bodies, err := p.buildBodies(ctx, pr, in, prefix)
	if err != nil {
		return nil, err
	}

	gw, err := p.gateways.OpenGateway(ctx, repoFullName)
	if err != nil {
		return nil, err
	}

	refs := make([]model.CommentRef, 0, len(bodies))
	for _, body := range bodies {
		ref, err := gw.CreateIssueComment(ctx, repoFullName, number, body)
		if err != nil {
			// Comments already posted stay posted; report how far we got.
			return refs, fmt.Errorf("publishing to %s#%d after %d comments: %w", repoFullName, number, len(refs), err)
		}
		refs = append(refs, *ref)
	}

	return refs, nil
}

// buildBodies resolves the selection into final comment bodies.
func (p *PublishService) buildBodies(ctx context.Context, pr *model.PullRequest, in PublishInput, prefix string) ([]string, error) {
	if msg := strings.TrimSpace(in.Message); msg != "" {
		return []string{withPrefix(prefix, msg)}, nil
	}

	anns, err := p.selectAnnotations(ctx, pr, in)
	if err != nil {
		return nil, err
	}
	if len(anns) == 0 {
		return nil, fmt.Errorf("%s#%d: %w", pr.RepoFullName, pr.Number, ErrNothingToPublish)
	}

	bodies := make([]string, 0, len(anns))
	for _, ann := range anns {
		bodies = append(bodies, withPrefix(prefix, FormatAnnotationComment(ann)))
	}
	return bodies, nil
}

// selectAnnotations loads the annotations named by the input, preserving
// stored (oldest-first) order for All and request order for explicit IDs.
func (p *PublishService) selectAnnotations(ctx context.Context, pr *model.PullRequest, in PublishInput) ([]model.Annotation, error) {
	if in.All {
		return p.reviewStore.ListAnnotations(ctx, pr.ID)
	}

	anns := make([]model.Annotation, 0, len(in.AnnotationIDs))
	for _, id := range in.AnnotationIDs {
		ann, err := p.reviewStore.GetAnnotation(ctx, id)
		if err != nil {
			return nil, err
		}
		if ann == nil || ann.PullRequestID != pr.ID {
			return nil, fmt.Errorf("annotation %d on %s#%d: %w", id, pr.RepoFullName, pr.Number, driven.ErrAnnotationNotFound)
		}
		anns = append(anns, *ann)
	}
	return anns, nil
}

// FormatAnnotationComment renders one annotation as a remote comment body.
// The trailer names the producing agent and the local annotation ID so a
// published comment can be traced back to its source record.
func FormatAnnotationComment(ann model.Annotation) string {
	return fmt.Sprintf("[%s] %s\n\n%s\n\n(agent=%s, local_review_id=%d)",
		ann.Severity, annotationTarget(ann), ann.Body, ann.Agent, ann.ID)
}

// annotationTarget describes where the annotation points: "file:line" when
// both are set, the bare file when only the path is, and "PR" for
// pull-request-level notes.
func annotationTarget(ann model.Annotation) string {
	switch {
	case ann.FilePath != nil && ann.LineNumber != nil:
		return fmt.Sprintf("%s:%d", *ann.FilePath, *ann.LineNumber)
	case ann.FilePath != nil:
		return *ann.FilePath
	default:
		return "PR"
	}
}

// withPrefix joins the configured prefix onto a body. An empty prefix
// leaves the body untouched.
func withPrefix(prefix, body string) string {
	if prefix == "" {
		return body
	}
	return prefix + "\n\n" + body
}
