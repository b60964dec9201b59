package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

type callerKey struct{}

// AccountHeader names the caller in development mode, when no API keys are
// configured.
const AccountHeader = "X-Pool-Account"

// Authenticate resolves the caller's account from a Bearer token or the
// X-API-Key header and stores it in the request context.
func (s *Server) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var caller common.Address
		if len(s.keys) == 0 {
			h := r.Header.Get(AccountHeader)
			if !common.IsHexAddress(h) {
				writeError(w, "missing "+AccountHeader+" header", http.StatusUnauthorized)
				return
			}
			caller = common.HexToAddress(h)
		} else {
			token := extractToken(r)
			if token == "" {
				writeError(w, "missing authentication token", http.StatusUnauthorized)
				return
			}
			account, ok := s.lookup(token)
			if !ok {
				writeError(w, "invalid authentication token", http.StatusUnauthorized)
				return
			}
			caller = account
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, caller)))
	})
}

// lookup compares token against every key in constant time.
func (s *Server) lookup(token string) (common.Address, bool) {
	var (
		found   common.Address
		matched int
	)
	for key, account := range s.keys {
		if subtle.ConstantTimeCompare([]byte(token), []byte(key)) == 1 {
			found = account
			matched = 1
		}
	}
	return found, matched == 1
}

// Caller returns the authenticated account of the request.
func Caller(ctx context.Context) common.Address {
	a, _ := ctx.Value(callerKey{}).(common.Address)
	return a
}

func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}
