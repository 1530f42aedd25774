package auth

import (
	"crypto/hmac"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
)

// APIKeyConfig configures key validation.
type APIKeyConfig struct {
	SecretKey string
	Enabled   bool
}

func writeError(w http.ResponseWriter, status int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
	}
	if details != nil {
		for k, v := range details {
			body["error"].(map[string]interface{})[k] = v
		}
	}
	_ = json.NewEncoder(w).Encode(body)
}

// extractAPIKey pulls the key from header, bearer token, or query string.
// The query form is accepted but logged, keys in URLs end up in access logs.
func extractAPIKey(r *http.Request) (key string, viaQuery bool) {
	if k := r.Header.Get("X-API-Key"); k != "" {
		return k, false
	}
	if bearer := r.Header.Get("Authorization"); strings.HasPrefix(bearer, "Bearer ") {
		return strings.TrimPrefix(bearer, "Bearer "), false
	}
	if k := r.URL.Query().Get("api_key"); k != "" {
		return k, true
	}
	return "", false
}

// APIKey returns middleware that validates the API key in constant time.
func APIKey(config APIKeyConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !config.Enabled {
				next.ServeHTTP(w, r)
				return
			}
			key, viaQuery := extractAPIKey(r)
			if key == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "API key required", nil)
				return
			}
			if !hmac.Equal([]byte(key), []byte(config.SecretKey)) {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid API key", nil)
				return
			}
			if viaQuery {
				slog.Warn("API key supplied via query parameter", "path", r.URL.Path, "remote", ClientIP(r))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP resolves the caller's address, honouring proxy headers.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimit returns middleware enforcing the limiter per client IP.
// Blocked requests get 429 immediately, no queueing.
func RateLimit(limiter *Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, retryAfter := limiter.Allow(ClientIP(r))
			if !ok {
				seconds := int(retryAfter.Seconds())
				if seconds < 1 {
					seconds = 1
				}
				w.Header().Set("Retry-After", fmt.Sprintf("%d", seconds))
				writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded",
					map[string]interface{}{"retry_after_seconds": seconds})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// BasicAuth returns middleware for the admin endpoints. It compares both
// fields in constant time.
func BasicAuth(username, password string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			userOK := hmac.Equal([]byte(user), []byte(username))
			passOK := hmac.Equal([]byte(pass), []byte(password))
			if !ok || !userOK || !passOK {
				w.Header().Set("WWW-Authenticate", `Basic realm="admin"`)
				writeError(w, http.StatusUnauthorized, "unauthorized", "admin credentials required", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
