package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/squirehq/squire/internal/domain/model"
	"github.com/squirehq/squire/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.PRStore = (*PRRepo)(nil)

// PRRepo is the SQLite implementation of the PRStore port interface.
type PRRepo struct {
	db *DB
}

// NewPRRepo creates a new PRRepo backed by the given DB.
func NewPRRepo(db *DB) *PRRepo {
	return &PRRepo{db: db}
}

const prUpsertQuery = `
	INSERT INTO pull_requests (
		repo_id, number, title, body, author, state, head_branch,
		base_branch, changed_files, reviewers, created_at, updated_at, synced_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(repo_id, number) DO UPDATE SET
		title = excluded.title,
		body = excluded.body,
		author = excluded.author,
		state = excluded.state,
		head_branch = excluded.head_branch,
		base_branch = excluded.base_branch,
		changed_files = excluded.changed_files,
		reviewers = excluded.reviewers,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at,
		synced_at = excluded.synced_at
`

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func execUpsertPR(ctx context.Context, ex execer, pr model.PullRequest) error {
	reviewers := pr.Reviewers
	if reviewers == nil {
		reviewers = []string{}
	}
	reviewersJSON, err := json.Marshal(reviewers)
	if err != nil {
		return fmt.Errorf("marshal reviewers: %w", err)
	}

	var body any
	if pr.Body != nil {
		body = *pr.Body
	}

	_, err = ex.ExecContext(ctx, prUpsertQuery,
		pr.RepoID, pr.Number, pr.Title, body, pr.Author, string(pr.State),
		pr.HeadBranch, pr.BaseBranch, pr.ChangedFiles, string(reviewersJSON),
		formatTime(pr.CreatedAt), formatTime(pr.UpdatedAt), formatTime(pr.SyncedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert pull request #%d: %w", pr.Number, err)
	}

	return nil
}

// Upsert inserts or overwrites a pull request keyed on (repo_id, number).
// Every mutable field is replaced unconditionally: the remote record is the
// source of truth for a given fetch, which makes re-running sync with
// identical data a no-op in effect. Reviewers are serialized as a JSON array
// in the TEXT column. Returns the surrogate row ID.
func (r *PRRepo) Upsert(ctx context.Context, pr model.PullRequest) (int64, error) {
	if err := execUpsertPR(ctx, r.db.Writer, pr); err != nil {
		return 0, err
	}

	// LastInsertId is unreliable for ON CONFLICT updates; re-read the key.
	const idQuery = `SELECT id FROM pull_requests WHERE repo_id = ? AND number = ?`
	var id int64
	if err := r.db.Writer.QueryRowContext(ctx, idQuery, pr.RepoID, pr.Number).Scan(&id); err != nil {
		return 0, fmt.Errorf("read back pull request #%d: %w", pr.Number, err)
	}

	return id, nil
}

// UpsertAll writes the batch in a single transaction. Any failure rolls the
// whole batch back, so a sync pass never leaves partial writes behind.
func (r *PRRepo) UpsertAll(ctx context.Context, prs []model.PullRequest) error {
	if len(prs) == 0 {
		return nil
	}

	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	for _, pr := range prs {
		if err := execUpsertPR(ctx, tx, pr); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit pull request batch: %w", err)
	}

	return nil
}

const prSelect = `
	SELECT
		p.id, p.repo_id, r.full_name, p.number, p.title, p.body, p.author,
		p.state, p.head_branch, p.base_branch, p.changed_files, p.reviewers,
		p.created_at, p.updated_at, p.synced_at,
		COALESCE(s.status, 'pending')
	FROM pull_requests p
	JOIN repositories r ON r.id = p.repo_id
	LEFT JOIN review_status s ON s.pull_request_id = p.id
`

// GetByNumber retrieves a single pull request by repository full name and
// number. Returns nil, nil if no row exists.
func (r *PRRepo) GetByNumber(ctx context.Context, repoFullName string, number int) (*model.PullRequest, error) {
	query := prSelect + ` WHERE r.full_name = ? AND p.number = ?`

	pr, err := scanPR(r.db.Reader.QueryRowContext(ctx, query, repoFullName, number))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get PR %s#%d: %w", repoFullName, number, err)
	}

	return pr, nil
}

// List returns cached pull requests for active repositories ordered by remote
// updated_at descending. repoFullName narrows to one repository when
// non-empty; state narrows to one lifecycle state when non-empty.
func (r *PRRepo) List(ctx context.Context, repoFullName string, state model.PRState) ([]model.PullRequest, error) {
	query := prSelect + ` WHERE r.is_active = 1`
	var args []any

	if repoFullName != "" {
		query += ` AND r.full_name = ?`
		args = append(args, repoFullName)
	}
	if state != "" {
		query += ` AND p.state = ?`
		args = append(args, string(state))
	}

	query += ` ORDER BY p.updated_at DESC`

	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pull requests: %w", err)
	}
	defer rows.Close()

	var prs []model.PullRequest
	for rows.Next() {
		pr, err := scanPR(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pull request: %w", err)
		}
		prs = append(prs, *pr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pull requests: %w", err)
	}

	return prs, nil
}

func scanPR(s scanner) (*model.PullRequest, error) {
	var pr model.PullRequest
	var body sql.NullString
	var state, reviewStatus string
	var reviewersJSON string
	var createdAt, updatedAt, syncedAt string

	err := s.Scan(
		&pr.ID, &pr.RepoID, &pr.RepoFullName, &pr.Number, &pr.Title, &body,
		&pr.Author, &state, &pr.HeadBranch, &pr.BaseBranch, &pr.ChangedFiles,
		&reviewersJSON, &createdAt, &updatedAt, &syncedAt, &reviewStatus,
	)
	if err != nil {
		return nil, err
	}

	if body.Valid {
		b := body.String
		pr.Body = &b
	}

	pr.State = model.PRState(state)
	pr.ReviewStatus = model.ReviewStatus(reviewStatus)

	if err := json.Unmarshal([]byte(reviewersJSON), &pr.Reviewers); err != nil {
		return nil, fmt.Errorf("unmarshal reviewers: %w", err)
	}

	pr.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	pr.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	pr.SyncedAt, err = parseTime(syncedAt)
	if err != nil {
		return nil, fmt.Errorf("parse synced_at: %w", err)
	}

	return &pr, nil
}
