package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/InnokentiyKim/Retail/internal/domain/auth"
)

// APIKeyHeader carries the caller's API key.
const APIKeyHeader = "api_key"

// SecurityHandler authenticates API requests via HMAC-SHA256 hashed API
// keys and stores the resulting principal in the request context.
type SecurityHandler struct {
	apikeys auth.Repository
	pepper  []byte
}

// NewSecurityHandler creates a SecurityHandler with the given API key
// repository and HMAC pepper.
func NewSecurityHandler(apikeys auth.Repository, pepper []byte) *SecurityHandler {
	return &SecurityHandler{
		apikeys: apikeys,
		pepper:  pepper,
	}
}

// HashKey returns the hex HMAC-SHA256 of key under pepper, the form keys are
// stored in.
func HashKey(key string, pepper []byte) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// Authenticate rejects requests without a valid API key with 401.
func (s *SecurityHandler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := s.principal(r)
		if !ok {
			writeStatus(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}

func (s *SecurityHandler) principal(r *http.Request) (auth.Principal, bool) {
	key := r.Header.Get(APIKeyHeader)
	if key == "" {
		return auth.Principal{}, false
	}

	mac := hmac.New(sha256.New, s.pepper)
	mac.Write([]byte(key))
	hash := mac.Sum(nil)

	info, err := s.apikeys.FindByHash(r.Context(), hex.EncodeToString(hash))
	if err != nil {
		zctx.From(r.Context()).Debug("API key rejected", zap.Error(err))
		return auth.Principal{}, false
	}

	// The stored hash could differ from the computed one if the repository
	// returns a stale row.
	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil || subtle.ConstantTimeCompare(hash, stored) != 1 {
		return auth.Principal{}, false
	}
	if !info.Role.Valid() {
		return auth.Principal{}, false
	}

	return auth.Principal{
		UserID: info.UserID,
		Role:   info.Role,
		KeyID:  info.ID,
		Scopes: info.Scopes,
	}, true
}

// Require rejects principals outside roles with 403.
func Require(roles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := auth.PrincipalFrom(r.Context())
			if !ok {
				writeStatus(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if !p.Is(roles...) {
				writeStatus(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
