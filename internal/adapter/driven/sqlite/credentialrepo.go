package sqlite

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/squirehq/squire/internal/domain/model"
	"github.com/squirehq/squire/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.SecretStore = (*CredentialRepo)(nil)

// CredentialRepo is the SQLite implementation of the SecretStore port.
// Per-repository tokens are encrypted with AES-256-GCM before write and
// decrypted after read. It replaces the platform keychain the original
// deployment used, so the same database works on any OS.
type CredentialRepo struct {
	db  *DB
	key []byte // 32-byte AES-256 key; nil disables the store.
}

// NewCredentialRepo creates a new CredentialRepo. key must be 32 bytes for
// AES-256-GCM, or nil to disable the store (operations then return
// driven.ErrSecretStoreUnavailable).
func NewCredentialRepo(db *DB, key []byte) *CredentialRepo {
	return &CredentialRepo{db: db, key: key}
}

// Set stores or replaces the token for the repository.
func (r *CredentialRepo) Set(ctx context.Context, repoFullName, token string) error {
	encrypted, err := r.encrypt(token)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO credentials (repo_full_name, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(repo_full_name) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`
	_, err = r.db.Writer.ExecContext(ctx, query, repoFullName, encrypted)
	if err != nil {
		return fmt.Errorf("set credential for %q: %w", repoFullName, err)
	}
	return nil
}

// Get retrieves the token for the repository.
// Returns ("", nil) if no entry exists.
func (r *CredentialRepo) Get(ctx context.Context, repoFullName string) (string, error) {
	if r.key == nil {
		return "", driven.ErrSecretStoreUnavailable
	}

	const query = `SELECT value FROM credentials WHERE repo_full_name = ?`
	var encrypted string
	err := r.db.Reader.QueryRowContext(ctx, query, repoFullName).Scan(&encrypted)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get credential for %q: %w", repoFullName, err)
	}

	token, err := r.decrypt(encrypted)
	if err != nil {
		return "", fmt.Errorf("decrypt credential for %q: %w", repoFullName, err)
	}
	return token, nil
}

// List returns all stored credentials with decrypted values.
func (r *CredentialRepo) List(ctx context.Context) ([]model.Credential, error) {
	if r.key == nil {
		return nil, driven.ErrSecretStoreUnavailable
	}

	const query = `SELECT id, repo_full_name, value, updated_at FROM credentials ORDER BY repo_full_name`
	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var creds []model.Credential
	for rows.Next() {
		var cred model.Credential
		var encrypted string
		var updatedAt string
		if err := rows.Scan(&cred.ID, &cred.RepoFullName, &encrypted, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}

		token, err := r.decrypt(encrypted)
		if err != nil {
			return nil, fmt.Errorf("decrypt credential for %q: %w", cred.RepoFullName, err)
		}
		cred.Value = token

		cred.UpdatedAt, err = parseTime(updatedAt)
		if err != nil {
			return nil, fmt.Errorf("parse updated_at for credential %q: %w", cred.RepoFullName, err)
		}

		creds = append(creds, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}

	return creds, nil
}

// Delete removes the entry for the repository. Missing entries are not an error.
func (r *CredentialRepo) Delete(ctx context.Context, repoFullName string) error {
	const query = `DELETE FROM credentials WHERE repo_full_name = ?`
	_, err := r.db.Writer.ExecContext(ctx, query, repoFullName)
	if err != nil {
		return fmt.Errorf("delete credential for %q: %w", repoFullName, err)
	}
	return nil
}

// encrypt encrypts plaintext using AES-256-GCM and returns a base64-encoded string
// containing the nonce (12 bytes) prepended to the ciphertext.
func (r *CredentialRepo) encrypt(plaintext string) (string, error) {
	if r.key == nil {
		return "", driven.ErrSecretStoreUnavailable
	}

	block, err := aes.NewCipher(r.key)
	if err != nil {
		return "", fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cipher.NewGCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("rand nonce: %w", err)
	}

	// Seal appends the ciphertext to nonce, producing: nonce || ciphertext || tag.
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decrypt decrypts a base64-encoded AES-256-GCM ciphertext.
func (r *CredentialRepo) decrypt(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}

	block, err := aes.NewCipher(r.key)
	if err != nil {
		return "", fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cipher.NewGCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("gcm.Open: %w", err)
	}

	return string(plaintext), nil
}
