// Package auth guards the admin endpoints with HTTP basic auth. Passwords
// are stored as bcrypt hashes; roles gate writes from reads.
package auth

import (
	"errors"
	"net/http"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

type Role string

const (
	// RoleAdmin may mutate state: reset breakers, change strategies.
	RoleAdmin Role = "admin"
	// RoleViewer may only read stats and history.
	RoleViewer Role = "viewer"
)

// Allows reports whether a user's role satisfies the required one. Admins
// satisfy every requirement.
func (r Role) Allows(required Role) bool {
	if r == RoleAdmin {
		return true
	}
	return r == required
}

type User struct {
	Username     string
	PasswordHash string
	Role         Role
}

// Guard holds the operator user set.
type Guard struct {
	mu    sync.RWMutex
	users map[string]User
}

func NewGuard(users []User) *Guard {
	byName := make(map[string]User, len(users))
	for _, u := range users {
		byName[u.Username] = u
	}
	return &Guard{users: byName}
}

// Authenticate checks basic-auth credentials against the user set.
func (g *Guard) Authenticate(username, password string) (User, error) {
	g.mu.RLock()
	user, ok := g.users[username]
	g.mu.RUnlock()
	if !ok {
		return User{}, ErrUnauthorized
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return User{}, ErrUnauthorized
	}
	return user, nil
}

// Middleware enforces basic auth and the required role on a handler. With no
// users configured the guard is disabled, for local development.
func (g *Guard) Middleware(required Role, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.mu.RLock()
		open := len(g.users) == 0
		g.mu.RUnlock()
		if open {
			next.ServeHTTP(w, r)
			return
		}

		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="answergate admin"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		user, err := g.Authenticate(username, password)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="answergate admin"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if !user.Role.Allows(required) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// HashPassword produces a bcrypt hash for configuration.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
