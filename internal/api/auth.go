package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/AaronLay10/SentientLock/internal/config"
)

// Role represents an authorization role on the operator API. It is
// unrelated to the player roles of the lock gate.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
)

// credential is one basic-auth account.
type credential struct {
	user string
	pass string
	role Role
}

// authConfig holds the accounts loaded by InitAuth, admin first.
type authConfig struct {
	accounts []credential
	enabled  bool
}

var auth *authConfig

// InitAuth loads credentials from SENTIENTLOCK_{ADMIN,OPERATOR}_{USER,PASS},
// each of which may instead name a file through the _FILE suffix. Auth is
// enabled only when the admin account is complete.
func InitAuth() error {
	cfg := &authConfig{}
	for _, role := range []Role{RoleAdmin, RoleOperator} {
		prefix := "SENTIENTLOCK_" + strings.ToUpper(string(role))
		user, err := config.ResolveSecret(prefix + "_USER")
		if err != nil {
			return fmt.Errorf("resolve %s user: %w", role, err)
		}
		pass, err := config.ResolveSecret(prefix + "_PASS")
		if err != nil {
			return fmt.Errorf("resolve %s password: %w", role, err)
		}
		if user == "" || pass == "" {
			continue
		}
		cfg.accounts = append(cfg.accounts, credential{user: user, pass: pass, role: role})
		if role == RoleAdmin {
			cfg.enabled = true
		}
	}
	auth = cfg
	return nil
}

// IsAuthEnabled returns true if authentication is configured.
func IsAuthEnabled() bool {
	return auth != nil && auth.enabled
}

// authenticate returns the role and user name for the request's basic auth
// credentials, or an empty role if they match no account. Without auth
// every request is an anonymous admin.
func authenticate(r *http.Request) (Role, string) {
	if !IsAuthEnabled() {
		return RoleAdmin, "anonymous"
	}

	user, pass, ok := r.BasicAuth()
	if !ok {
		return "", ""
	}
	for _, c := range auth.accounts {
		if secureCompare(user, c.user) && secureCompare(pass, c.pass) {
			return c.role, user
		}
	}
	return "", ""
}

// secureCompare performs constant-time string comparison.
func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// requireAuth returns 401 Unauthorized with WWW-Authenticate header.
func requireAuth(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="SentientLock"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}

type userKey struct{}

// operatorName returns the authenticated user stored by RequireRole.
func operatorName(r *http.Request) string {
	if name, ok := r.Context().Value(userKey{}).(string); ok {
		return name
	}
	return "anonymous"
}

// RequireRole wraps a handler and requires one of the specified roles.
func RequireRole(handler http.HandlerFunc, allowedRoles ...Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role, user := authenticate(r)
		if role == "" {
			requireAuth(w)
			return
		}

		for _, allowed := range allowedRoles {
			if role == allowed {
				handler(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
				return
			}
		}

		http.Error(w, "Forbidden", http.StatusForbidden)
	}
}

// RequireAnyRole wraps a handler requiring admin OR operator role.
func RequireAnyRole(handler http.HandlerFunc) http.HandlerFunc {
	return RequireRole(handler, RoleAdmin, RoleOperator)
}

// RequireAdmin wraps a handler requiring admin role only.
func RequireAdmin(handler http.HandlerFunc) http.HandlerFunc {
	return RequireRole(handler, RoleAdmin)
}
