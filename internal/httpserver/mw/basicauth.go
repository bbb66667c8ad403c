package mw

import (
	"crypto/subtle"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/mcp-guardian/guardian/internal/logger"
)

const adminUsername = "admin"

// BasicAuth guards the admin surface with HTTP Basic credentials. The
// password is compared against a bcrypt hash computed once at startup, so
// the middleware never holds the plaintext.
func BasicAuth(passwordHash []byte, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok {
				unauthorized(w)
				return
			}

			userOK := subtle.ConstantTimeCompare([]byte(user), []byte(adminUsername)) == 1
			passOK := bcrypt.CompareHashAndPassword(passwordHash, []byte(pass)) == nil
			if !userOK || !passOK {
				log.Warn("admin authentication failed",
					logger.String("remote_ip", r.RemoteAddr))
				unauthorized(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="mcp-guardian"`)
	http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
}
