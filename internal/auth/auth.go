// Package auth guards the mutating routes with HTTP basic auth against
// bcrypt hashes from the config.
package auth

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"datalogger/internal/config"
	"datalogger/internal/logging"
)

type ctxKey string

const userKey ctxKey = "datalogger.user"

const realm = "datalogger"

func UserFromContext(ctx context.Context) string {
	v, _ := ctx.Value(userKey).(string)
	return v
}

func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userKey, user)
}

type Guard struct {
	users map[string]config.User
	log   logging.Logger
}

// NewGuard returns a guard over users. With no users every request passes.
func NewGuard(users map[string]config.User, log logging.Logger) *Guard {
	return &Guard{users: users, log: log}
}

func (g *Guard) Enabled() bool { return len(g.users) > 0 }

// Check validates the request's basic auth credentials.
func (g *Guard) Check(r *http.Request) (string, bool) {
	u, p, ok := parseBasicAuth(r.Header.Get("Authorization"))
	if !ok {
		return "", false
	}
	user, ok := g.users[u]
	if !ok {
		// same work as a real comparison
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(p))
		return "", false
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Bcrypt), []byte(p)); err != nil {
		return "", false
	}
	return u, true
}

// Middleware requires valid credentials when the guard is enabled.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	if !g.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := g.Check(r)
		if !ok {
			g.log.Warn(r.Context(), "unauthorized", "method", r.Method, "path", r.URL.Path)
			deny(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
	})
}

// HashPassword returns the bcrypt hash stored in config users.
func HashPassword(password string, cost int) (string, error) {
	if password == "" {
		return "", fmt.Errorf("empty password")
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return "", fmt.Errorf("invalid cost %d (min=%d max=%d)", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt: %w", err)
	}
	return string(h), nil
}

var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("datalogger"), bcrypt.MinCost)

func deny(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="`+realm+`"`)
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func parseBasicAuth(v string) (user, pass string, ok bool) {
	const prefix = "Basic "
	if !strings.HasPrefix(v, prefix) {
		return "", "", false
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(strings.TrimPrefix(v, prefix)))
	if err != nil {
		return "", "", false
	}
	u, p, found := strings.Cut(string(raw), ":")
	if !found || u == "" {
		return "", "", false
	}
	if strings.Contains(u, "\x00") || strings.Contains(p, "\x00") {
		return "", "", false
	}
	return u, p, true
}
