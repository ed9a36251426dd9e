package auth

import (
	"context"
	"slices"

	"github.com/go-faster/errors"
)

var (
	// ErrUnauthorized is returned for missing, unknown or revoked keys.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrKeyNotFound is returned by repositories for unknown hashes.
	ErrKeyNotFound = errors.New("api key not found")
)

// ScopeAdmin grants privileged order operations.
const ScopeAdmin = "admin"

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID         string
	KeyHash    string
	Name       string
	CustomerID string
	Scopes     []string
}

// Principal returns the request identity carried by the key.
func (k *APIKeyInfo) Principal() Principal {
	return Principal{
		CustomerID: k.CustomerID,
		IsAdmin:    slices.Contains(k.Scopes, ScopeAdmin),
	}
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	// FindByHash returns ErrKeyNotFound when no active key matches.
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}
