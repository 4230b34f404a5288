// Package authmw provides HTTP middleware for bearer token authentication.
package authmw

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// BearerKeys returns middleware that validates the Authorization header
// contains a Bearer token matching one of the configured keys.
// Comparison uses constant-time equality to prevent timing
// side-channel attacks, and every key is compared on every request so
// the timing does not reveal which key matched.
func BearerKeys(keys []string) func(http.Handler) http.Handler {
	expected := make([][]byte, len(keys))
	for i, k := range keys {
		expected[i] = []byte(k)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")

			if !strings.HasPrefix(auth, "Bearer ") {
				http.Error(w, `{"error":"missing or malformed authorization header"}`, http.StatusUnauthorized)
				return
			}

			got := []byte(auth[len("Bearer "):])

			matched := 0
			for _, key := range expected {
				matched |= subtle.ConstantTimeCompare(got, key)
			}
			if matched != 1 {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ParseKeys splits a comma-separated key list, dropping empty entries.
func ParseKeys(s string) []string {
	var keys []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
