package server

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/ruteri/esim-operator-registry/api"
)

const defaultRealm = "esim-registry"

type basicAuth struct {
	user         []byte
	password     []byte
	passwordHash []byte
	challenge    string
}

func newBasicAuth(cfg api.BasicAuthConfig) (*basicAuth, error) {
	if cfg.User == "" {
		return nil, errors.New("server: basic auth user is required")
	}
	if cfg.Password == "" && cfg.PasswordHash == "" {
		return nil, errors.New("server: basic auth password or password hash is required")
	}

	realm := cfg.Realm
	if realm == "" {
		realm = defaultRealm
	}

	a := &basicAuth{
		user:      []byte(cfg.User),
		challenge: fmt.Sprintf("Basic realm=%q", realm),
	}
	if cfg.PasswordHash != "" {
		if _, err := bcrypt.Cost([]byte(cfg.PasswordHash)); err != nil {
			return nil, fmt.Errorf("server: invalid bcrypt password hash: %w", err)
		}
		a.passwordHash = []byte(cfg.PasswordHash)
	} else {
		a.password = []byte(cfg.Password)
	}
	return a, nil
}

func (a *basicAuth) check(user, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(user), a.user) == 1
	var passOK bool
	if a.passwordHash != nil {
		passOK = bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)) == nil
	} else {
		passOK = subtle.ConstantTimeCompare([]byte(password), a.password) == 1
	}
	return userOK && passOK
}

// Middleware rejects requests without valid credentials with 401 and a
// Basic challenge.
func (a *basicAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, password, ok := r.BasicAuth()
		if !ok || !a.check(user, password) {
			w.Header().Set("WWW-Authenticate", a.challenge)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"status":"error","message":"authentication required"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
