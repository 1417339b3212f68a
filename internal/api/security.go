package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/tenantly/coupon-engine/internal/domain/auth"
)

// apiKeyHeader carries the admin API key.
const apiKeyHeader = "X-API-Key"

// APIKeyAuth returns a middleware authenticating requests via HMAC-SHA256
// hashed API keys: the incoming key is hashed with the pepper, looked up,
// and compared in constant time.
func APIKeyAuth(apikeys auth.Repository, pepper []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(apiKeyHeader)
			if key == "" {
				writeError(w, r, http.StatusUnauthorized, "missing api key")
				return
			}

			hash := auth.HashKey(pepper, key)

			info, err := apikeys.FindByHash(r.Context(), hash)
			if err != nil {
				writeError(w, r, http.StatusUnauthorized, "unauthorized")
				return
			}
			if subtle.ConstantTimeCompare([]byte(hash), []byte(info.KeyHash)) != 1 {
				writeError(w, r, http.StatusUnauthorized, "unauthorized")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
