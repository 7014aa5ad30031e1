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
var _ driven.RepoStore = (*RepoRepo)(nil)

// RepoRepo is the SQLite implementation of the RepoStore port interface.
type RepoRepo struct {
	db *DB
}

// NewRepoRepo creates a new RepoRepo backed by the given DB.
func NewRepoRepo(db *DB) *RepoRepo {
	return &RepoRepo{db: db}
}

const repoColumns = `id, full_name, is_active, base_url, created_at, updated_at, last_synced_at`

// Upsert creates the repository row if absent and marks it active if present.
// It returns the stored repository and whether a new row was created.
func (r *RepoRepo) Upsert(ctx context.Context, fullName string) (*model.Repository, bool, error) {
	existing, err := r.GetByFullName(ctx, fullName)
	if err != nil {
		return nil, false, err
	}

	now := time.Now().UTC()

	if existing != nil {
		const query = `UPDATE repositories SET is_active = 1, updated_at = ? WHERE id = ?`
		if _, err := r.db.Writer.ExecContext(ctx, query, formatTime(now), existing.ID); err != nil {
			return nil, false, fmt.Errorf("reactivate repository %s: %w", fullName, err)
		}
		existing.IsActive = true
		existing.UpdatedAt = now
		return existing, false, nil
	}

	const query = `INSERT INTO repositories (full_name, is_active, created_at, updated_at) VALUES (?, 1, ?, ?)`
	result, err := r.db.Writer.ExecContext(ctx, query, fullName, formatTime(now), formatTime(now))
	if err != nil {
		return nil, false, fmt.Errorf("add repository %s: %w", fullName, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, false, fmt.Errorf("last insert id for repository %s: %w", fullName, err)
	}

	return &model.Repository{
		ID:        id,
		FullName:  fullName,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}, true, nil
}

// GetByFullName retrieves a repository by its full name. Returns nil, nil if
// the repository does not exist.
func (r *RepoRepo) GetByFullName(ctx context.Context, fullName string) (*model.Repository, error) {
	query := `SELECT ` + repoColumns + ` FROM repositories WHERE full_name = ?`

	repo, err := scanRepository(r.db.Reader.QueryRowContext(ctx, query, fullName))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get repository %s: %w", fullName, err)
	}

	return repo, nil
}

// ListAll returns all repositories ordered by full name.
func (r *RepoRepo) ListAll(ctx context.Context) ([]model.Repository, error) {
	query := `SELECT ` + repoColumns + ` FROM repositories ORDER BY full_name`
	return r.queryRepos(ctx, query)
}

// ListActive returns active repositories ordered by full name.
func (r *RepoRepo) ListActive(ctx context.Context) ([]model.Repository, error) {
	query := `SELECT ` + repoColumns + ` FROM repositories WHERE is_active = 1 ORDER BY full_name`
	return r.queryRepos(ctx, query)
}

// Remove deletes a repository by full name. Due to foreign key cascade, all
// mirrored pull requests, annotations, and status rows go with it.
func (r *RepoRepo) Remove(ctx context.Context, fullName string) error {
	const query = `DELETE FROM repositories WHERE full_name = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, fullName)
	if err != nil {
		return fmt.Errorf("remove repository %s: %w", fullName, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("remove repository %s: %w", fullName, driven.ErrRepoNotFound)
	}

	return nil
}

// Deactivate clears the active flag without deleting the row or its children.
func (r *RepoRepo) Deactivate(ctx context.Context, fullName string) error {
	const query = `UPDATE repositories SET is_active = 0, updated_at = ? WHERE full_name = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, formatTime(time.Now()), fullName)
	if err != nil {
		return fmt.Errorf("deactivate repository %s: %w", fullName, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("deactivate repository %s: %w", fullName, driven.ErrRepoNotFound)
	}

	return nil
}

// SetLastSyncedAt advances the watermark and updated_at to the given instant.
func (r *RepoRepo) SetLastSyncedAt(ctx context.Context, id int64, syncedAt time.Time) error {
	const query = `UPDATE repositories SET last_synced_at = ?, updated_at = ? WHERE id = ?`

	if _, err := r.db.Writer.ExecContext(ctx, query, formatTime(syncedAt), formatTime(syncedAt), id); err != nil {
		return fmt.Errorf("set last_synced_at for repository %d: %w", id, err)
	}

	return nil
}

// SetBaseURL stores or clears the per-repository base URL override.
func (r *RepoRepo) SetBaseURL(ctx context.Context, fullName string, baseURL *string) error {
	const query = `UPDATE repositories SET base_url = ?, updated_at = ? WHERE full_name = ?`

	var value any
	if baseURL != nil && *baseURL != "" {
		value = *baseURL
	}

	result, err := r.db.Writer.ExecContext(ctx, query, value, formatTime(time.Now()), fullName)
	if err != nil {
		return fmt.Errorf("set base_url for repository %s: %w", fullName, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("set base_url for repository %s: %w", fullName, driven.ErrRepoNotFound)
	}

	return nil
}

// LegacyToken returns the deprecated in-row token, or "" when none is stored.
func (r *RepoRepo) LegacyToken(ctx context.Context, fullName string) (string, error) {
	const query = `SELECT github_token FROM repositories WHERE full_name = ?`

	var token sql.NullString
	err := r.db.Reader.QueryRowContext(ctx, query, fullName).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get legacy token for repository %s: %w", fullName, err)
	}

	return token.String, nil
}

// ClearLegacyToken removes the deprecated in-row token once the encrypted
// secret store holds the value.
func (r *RepoRepo) ClearLegacyToken(ctx context.Context, fullName string) error {
	const query = `UPDATE repositories SET github_token = NULL WHERE full_name = ?`

	if _, err := r.db.Writer.ExecContext(ctx, query, fullName); err != nil {
		return fmt.Errorf("clear legacy token for repository %s: %w", fullName, err)
	}

	return nil
}

func (r *RepoRepo) queryRepos(ctx context.Context, query string, args ...any) ([]model.Repository, error) {
	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	defer rows.Close()

	var repos []model.Repository
	for rows.Next() {
		repo, err := scanRepository(rows)
		if err != nil {
			return nil, fmt.Errorf("scan repository: %w", err)
		}
		repos = append(repos, *repo)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate repositories: %w", err)
	}

	return repos, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRepository(s scanner) (*model.Repository, error) {
	var repo model.Repository
	var isActive int
	var baseURL sql.NullString
	var createdAt, updatedAt string
	var lastSyncedAt sql.NullString

	err := s.Scan(&repo.ID, &repo.FullName, &isActive, &baseURL, &createdAt, &updatedAt, &lastSyncedAt)
	if err != nil {
		return nil, err
	}

	repo.IsActive = isActive != 0
	repo.BaseURL = baseURL.String

	repo.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	repo.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	if lastSyncedAt.Valid {
		t, err := parseTime(lastSyncedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse last_synced_at: %w", err)
		}
		repo.LastSyncedAt = &t
	}

	return &repo, nil
}

// parseTime tries multiple SQLite datetime formats.
func parseTime(s string) (time.Time, error) {
	formats := []string{
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05.000",
		time.RFC3339,
		time.RFC3339Nano,
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized time format: %s", s)
}

// formatTime renders a timestamp in a layout parseTime reads back. Timestamps
// are always bound as text; the driver's own time.Time encoding is not one of
// the accepted layouts.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
