package identity

import (
	"context"

	"github.com/google/uuid"
)

// clientStore is the slice of the persistence layer the registry needs.
type clientStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Client, error)
}

// ClientRegistry resolves OAuth clients. A small compiled-in table of
// internal clients takes precedence over persisted rows with the same id:
// internal clients must always resolve even if storage is unavailable or the
// row was deleted. The built-in table is never mutable at runtime.
type ClientRegistry struct {
	builtin map[uuid.UUID]*Client
	store   clientStore
	hasher  Hasher
}

// NewClientRegistry builds a registry over the persisted client store. The
// builtin clients are copied at construction; later mutation of the passed
// slice has no effect.
func NewClientRegistry(store clientStore, hasher Hasher, builtin ...*Client) *ClientRegistry {
	table := make(map[uuid.UUID]*Client, len(builtin))
	for _, c := range builtin {
		if c == nil || c.ID == uuid.Nil {
			continue
		}
		clone := *c
		clone.IsInternal = true
		table[c.ID] = &clone
	}
	return &ClientRegistry{builtin: table, store: store, hasher: hasher}
}

// FindClient resolves a client id, built-in table first.
func (r *ClientRegistry) FindClient(ctx context.Context, id uuid.UUID) (*Client, error) {
	if c, ok := r.builtin[id]; ok {
		return c, nil
	}
	if r.store == nil {
		return nil, ErrClientNotFound
	}
	client, err := r.store.GetByID(ctx, id)
	if err != nil {
		return nil, ErrClientNotFound
	}
	return client, nil
}

// ValidateScopeRequest fails with ErrScopeNotAllowed if any requested scope
// is outside the client's allow-list and the client is not internal.
func (r *ClientRegistry) ValidateScopeRequest(client *Client, requestedScopes []string) error {
	if client == nil {
		return ErrClientNotFound
	}
	if client.IsInternal {
		return nil
	}
	for _, scope := range requestedScopes {
		if !client.HasScope(scope) {
			return ErrScopeNotAllowed
		}
	}
	return nil
}

// VerifySecret authenticates the client with a presented secret. Clients
// with RequiresSecret must present one; clients without stored hashes and
// without the requirement pass with an empty secret.
func (r *ClientRegistry) VerifySecret(client *Client, secret string) error {
	if client == nil {
		return ErrClientNotFound
	}

	if secret == "" {
		if client.RequiresSecret {
			return ErrInvalidClientSecret
		}
		return nil
	}

	if len(client.SecretHashes) == 0 {
		return ErrInvalidClientSecret
	}

	if err := r.hasher.CompareAny(secret, client.SecretHashes); err != nil {
		return ErrInvalidClientSecret
	}
	return nil
}

// ValidateRedirect checks the URI against the client's allow-list. Internal
// clients may omit redirect URIs entirely.
func (r *ClientRegistry) ValidateRedirect(client *Client, uri string) error {
	if client == nil {
		return ErrClientNotFound
	}
	if client.IsInternal && len(client.RedirectURLs) == 0 {
		return nil
	}
	if !client.AllowsRedirect(uri) {
		return ErrRedirectNotAllowed
	}
	return nil
}
