package handler

import (
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain"
	"github.com/xenking/storefront/internal/domain/auth"
)

// APIKeyHeader carries the admin API key.
const APIKeyHeader = "api_key"

var errUnauthorized = domain.NewError(domain.KindUnauthorized, "unauthorized")

// Security authenticates admin requests via HMAC-SHA256 hashed API keys.
type Security struct {
	apikeys auth.Repository
	pepper  []byte
	scope   string
}

// NewSecurity creates a Security that requires keys carrying scope.
func NewSecurity(apikeys auth.Repository, pepper []byte, scope string) *Security {
	return &Security{
		apikeys: apikeys,
		pepper:  pepper,
		scope:   scope,
	}
}

// Middleware rejects requests without a valid key for the configured scope.
func (s *Security) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(APIKeyHeader)
		if key == "" {
			writeError(w, r, errUnauthorized)
			return
		}

		hexHash := auth.HashKey(s.pepper, key)
		info, err := s.apikeys.FindByHash(r.Context(), hexHash)
		if err != nil {
			zctx.From(r.Context()).Debug("API key lookup failed", zap.Error(err))
			writeError(w, r, errUnauthorized)
			return
		}

		// The repository may return a stale row; compare in constant time.
		stored, err := hex.DecodeString(info.KeyHash)
		computed, _ := hex.DecodeString(hexHash)
		if err != nil || subtle.ConstantTimeCompare(computed, stored) != 1 {
			writeError(w, r, errUnauthorized)
			return
		}
		if !info.HasScope(s.scope) {
			writeError(w, r, errUnauthorized)
			return
		}

		ctx := zctx.With(r.Context(), zap.String("api_key_id", info.ID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
