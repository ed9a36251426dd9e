package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/pharmacy-api/internal/domain/auth"
)

// APIKeyHeader carries the raw API key.
const APIKeyHeader = "X-API-Key"

// Authenticator resolves raw API keys.
type Authenticator interface {
	Authenticate(ctx context.Context, key string) (auth.Principal, error)
}

// Security authenticates every request by its API key and stores the
// resulting principal in the request context.
func Security(authn Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := authn.Authenticate(r.Context(), r.Header.Get(APIKeyHeader))
			if err != nil {
				writeError(w, r, err)
				return
			}
			ctx := auth.WithPrincipal(r.Context(), p)
			ctx = zctx.With(ctx,
				zap.String("customer_id", p.CustomerID),
				zap.Bool("admin", p.IsAdmin),
			)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func principal(r *http.Request) auth.Principal {
	p, _ := auth.FromContext(r.Context())
	return p
}

func customerID(r *http.Request) (string, error) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		return "", auth.ErrUnauthorized
	}
	if p.CustomerID == "" {
		return "", errNoCustomer
	}
	return p.CustomerID, nil
}
