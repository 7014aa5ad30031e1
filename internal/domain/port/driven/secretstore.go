package driven

import (
	"context"
	"errors"

	"github.com/squirehq/squire/internal/domain/model"
)

// ErrSecretStoreUnavailable is returned by SecretStore operations when no
// secret backend is configured (no encryption key). Callers that only fall
// back to the process-wide default token treat it as "no entry"; callers
// setting a per-repository override surface it.
var ErrSecretStoreUnavailable = errors.New("secret store unavailable: set SQUIRE_SECRET_KEY")

// SecretStore defines the driven port for per-repository token storage.
// Values are plaintext at this boundary; adapters own encryption at rest.
type SecretStore interface {
	// Set stores or replaces the token for the repository.
	Set(ctx context.Context, repoFullName, token string) error

	// Get retrieves the token for the repository. Returns ("", nil) when no
	// entry exists, ErrSecretStoreUnavailable when no backend is configured.
	Get(ctx context.Context, repoFullName string) (string, error)

	// List returns all stored credentials with decrypted values.
	List(ctx context.Context) ([]model.Credential, error)

	// Delete removes the entry for the repository. Deleting a missing entry
	// is not an error.
	Delete(ctx context.Context, repoFullName string) error
}
