package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/squirehq/squire/internal/domain/port/driven"
)

// ErrNoToken is returned when credential resolution finds no token at any
// precedence level for a repository.
var ErrNoToken = errors.New("no access token configured")

// GatewayFactory builds a Gateway bound to one (token, baseURL) pair.
// Implemented by the github adapter; mocked in tests.
type GatewayFactory interface {
	New(token, baseURL string) (driven.Gateway, error)
}

// GatewayFactoryFunc adapts a function to the GatewayFactory interface.
type GatewayFactoryFunc func(token, baseURL string) (driven.Gateway, error)

// New calls f.
func (f GatewayFactoryFunc) New(token, baseURL string) (driven.Gateway, error) {
	return f(token, baseURL)
}

// CredentialResolver resolves the access token and API base URL for a
// repository. Token precedence: encrypted secret-store entry, then the legacy
// in-row token, then the process-wide default. Base URL precedence:
// per-repository override, then process default, then the built-in default.
type CredentialResolver struct {
	secrets        driven.SecretStore
	repoStore      driven.RepoStore
	defaultToken   string
	defaultBaseURL string
	builtinBaseURL string
}

// NewCredentialResolver creates a resolver. defaultToken and defaultBaseURL
// come from process configuration and may be empty; builtinBaseURL is the
// final fallback and must be non-empty.
func NewCredentialResolver(
	secrets driven.SecretStore,
	repoStore driven.RepoStore,
	defaultToken, defaultBaseURL, builtinBaseURL string,
) *CredentialResolver {
	return &CredentialResolver{
		secrets:        secrets,
		repoStore:      repoStore,
		defaultToken:   defaultToken,
		defaultBaseURL: defaultBaseURL,
		builtinBaseURL: builtinBaseURL,
	}
}

// Resolve returns the (token, baseURL) pair for the repository. The
// repository must be registered. An unavailable secret store is treated as
// "no per-repository entry" here; only override writes surface it. The
// returned base URL never has a trailing slash and is never empty.
func (r *CredentialResolver) Resolve(ctx context.Context, repoFullName string) (token, baseURL string, err error) {
	repo, err := r.repoStore.GetByFullName(ctx, repoFullName)
	if err != nil {
		return "", "", err
	}
	if repo == nil {
		return "", "", fmt.Errorf("resolve credentials for %s: %w", repoFullName, driven.ErrRepoNotFound)
	}

	token, err = r.secrets.Get(ctx, repoFullName)
	if err != nil && !errors.Is(err, driven.ErrSecretStoreUnavailable) {
		return "", "", err
	}

	if token == "" {
		token, err = r.repoStore.LegacyToken(ctx, repoFullName)
		if err != nil {
			return "", "", err
		}
	}

	if token == "" {
		token = r.defaultToken
	}

	if token == "" {
		return "", "", fmt.Errorf("resolve credentials for %s: %w", repoFullName, ErrNoToken)
	}

	baseURL = repo.BaseURL
	if baseURL == "" {
		baseURL = r.defaultBaseURL
	}
	if baseURL == "" {
		baseURL = r.builtinBaseURL
	}

	return token, strings.TrimRight(baseURL, "/"), nil
}

// HasOverride reports whether the repository has its own stored token, in
// either the secret store or the legacy column. Used for API responses; an
// unavailable secret store counts as no override.
func (r *CredentialResolver) HasOverride(ctx context.Context, repoFullName string) (bool, error) {
	token, err := r.secrets.Get(ctx, repoFullName)
	if err != nil && !errors.Is(err, driven.ErrSecretStoreUnavailable) {
		return false, err
	}
	if token != "" {
		return true, nil
	}

	legacy, err := r.repoStore.LegacyToken(ctx, repoFullName)
	if err != nil {
		return false, err
	}
	return legacy != "", nil
}
