package httpapi

import (
	"net/http"
	"strings"
)

// BearerAuth 静态 API key 鉴权。验证失败在任何副作用之前拒绝。
func BearerAuth(apiKey string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			writeJSON(w, http.StatusUnauthorized, Fail("Unauthorized. Missing Authorization header."))
			return
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == "" || token != apiKey {
			writeJSON(w, http.StatusUnauthorized, Fail("Unauthorized. Invalid token."))
			return
		}
		next(w, r)
	}
}
