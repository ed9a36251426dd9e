package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/xenking/pharmacy-api/internal/domain/auth"
)

var _ auth.Repository = (*APIKeyRepository)(nil)

// APIKeyRepository stores API keys by hash.
type APIKeyRepository struct {
	mu     sync.RWMutex
	byHash map[string]auth.APIKeyInfo
}

// NewAPIKeyRepository returns an APIKeyRepository holding keys.
func NewAPIKeyRepository(keys ...auth.APIKeyInfo) *APIKeyRepository {
	r := &APIKeyRepository{byHash: make(map[string]auth.APIKeyInfo, len(keys))}
	for _, k := range keys {
		r.byHash[k.KeyHash] = k
	}
	return r
}

// Put stores k, replacing any key with the same hash.
func (r *APIKeyRepository) Put(k auth.APIKeyInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byHash[k.KeyHash] = k
}

// FindByHash implements auth.Repository.
func (r *APIKeyRepository) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.byHash[hash]
	if !ok {
		return nil, auth.ErrKeyNotFound
	}
	k.Scopes = slices.Clone(k.Scopes)
	return &k, nil
}
