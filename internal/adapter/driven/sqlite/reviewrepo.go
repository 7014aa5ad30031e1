package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/squirehq/squire/internal/domain/model"
	"github.com/squirehq/squire/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ReviewStore = (*ReviewRepo)(nil)

// ReviewRepo is the SQLite implementation of the ReviewStore port interface:
// append-only annotations plus a single-row-per-PR workflow status.
type ReviewRepo struct {
	db *DB
}

// NewReviewRepo creates a new ReviewRepo backed by the given DB.
func NewReviewRepo(db *DB) *ReviewRepo {
	return &ReviewRepo{db: db}
}

// AddAnnotation appends an annotation row and returns the stored record.
func (r *ReviewRepo) AddAnnotation(ctx context.Context, a model.Annotation) (*model.Annotation, error) {
	const query = `
		INSERT INTO annotations (pull_request_id, file_path, line_number, severity, body, agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var filePath, lineNumber any
	if a.FilePath != nil {
		filePath = *a.FilePath
	}
	if a.LineNumber != nil {
		lineNumber = *a.LineNumber
	}

	result, err := r.db.Writer.ExecContext(ctx, query,
		a.PullRequestID, filePath, lineNumber, string(a.Severity), a.Body, a.Agent, formatTime(createdAt),
	)
	if err != nil {
		return nil, fmt.Errorf("add annotation for PR %d: %w", a.PullRequestID, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id for annotation: %w", err)
	}

	stored := a
	stored.ID = id
	stored.CreatedAt = createdAt.UTC()
	return &stored, nil
}

const annotationColumns = `id, pull_request_id, file_path, line_number, severity, body, agent, created_at`

// GetAnnotation retrieves an annotation by ID. Returns nil, nil if it does not exist.
func (r *ReviewRepo) GetAnnotation(ctx context.Context, id int64) (*model.Annotation, error) {
	query := `SELECT ` + annotationColumns + ` FROM annotations WHERE id = ?`

	a, err := scanAnnotation(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get annotation %d: %w", id, err)
	}

	return a, nil
}

// ListAnnotations returns all annotations for the pull request, oldest first.
// Ties on created_at (second granularity) are broken by insertion ID so the
// ordering is deterministic.
func (r *ReviewRepo) ListAnnotations(ctx context.Context, pullRequestID int64) ([]model.Annotation, error) {
	query := `SELECT ` + annotationColumns + ` FROM annotations WHERE pull_request_id = ? ORDER BY created_at ASC, id ASC`

	rows, err := r.db.Reader.QueryContext(ctx, query, pullRequestID)
	if err != nil {
		return nil, fmt.Errorf("query annotations: %w", err)
	}
	defer rows.Close()

	var annotations []model.Annotation
	for rows.Next() {
		a, err := scanAnnotation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan annotation: %w", err)
		}
		annotations = append(annotations, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate annotations: %w", err)
	}

	return annotations, nil
}

// SetStatus upserts the workflow status row for the pull request.
func (r *ReviewRepo) SetStatus(ctx context.Context, pullRequestID int64, status model.ReviewStatus) error {
	const query = `
		INSERT INTO review_status (pull_request_id, status, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(pull_request_id) DO UPDATE SET
			status = excluded.status,
			updated_at = excluded.updated_at
	`

	_, err := r.db.Writer.ExecContext(ctx, query, pullRequestID, string(status), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("set review status for PR %d: %w", pullRequestID, err)
	}

	return nil
}

// GetStatus returns the stored workflow status, or StatusPending with a zero
// timestamp when no row exists. Absence of a row is semantically "pending".
func (r *ReviewRepo) GetStatus(ctx context.Context, pullRequestID int64) (model.ReviewStatus, time.Time, error) {
	const query = `SELECT status, updated_at FROM review_status WHERE pull_request_id = ?`

	var status, updatedAt string
	err := r.db.Reader.QueryRowContext(ctx, query, pullRequestID).Scan(&status, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.StatusPending, time.Time{}, nil
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("get review status for PR %d: %w", pullRequestID, err)
	}

	t, err := parseTime(updatedAt)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("parse updated_at: %w", err)
	}

	return model.ReviewStatus(status), t, nil
}

func scanAnnotation(s scanner) (*model.Annotation, error) {
	var a model.Annotation
	var filePath sql.NullString
	var lineNumber sql.NullInt64
	var severity string
	var createdAt string

	err := s.Scan(&a.ID, &a.PullRequestID, &filePath, &lineNumber, &severity, &a.Body, &a.Agent, &createdAt)
	if err != nil {
		return nil, err
	}

	if filePath.Valid {
		p := filePath.String
		a.FilePath = &p
	}
	if lineNumber.Valid {
		n := int(lineNumber.Int64)
		a.LineNumber = &n
	}

	a.Severity = model.Severity(severity)

	a.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	return &a, nil
}
