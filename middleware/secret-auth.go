package middleware

import (
	"net/http"

	"github.com/sweater-ventures/optimist/app"
)

const SecretHeader = "X-Optimist-Secret"

// RequireSecret rejects requests whose X-Optimist-Secret does not match
// the configured bcrypt hash. With no hash configured every request passes.
func RequireSecret(optimist *app.Application, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hash := optimist.Config.APISecretHash
		if hash == "" {
			next.ServeHTTP(w, r)
			return
		}
		if !app.ValidateSecret(hash, r.Header.Get(SecretHeader)) {
			log(r.Context()).Warn("Rejected write with missing or invalid secret", "path", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":"invalid or missing ` + SecretHeader + ` header","kind":"authorization"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
