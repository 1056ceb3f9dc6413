package rbac

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/fairway-pms/fairway/internal/platform/httpx"
	"github.com/fairway-pms/fairway/internal/shared"
)

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Permissions PermissionSource
	Logger      *slog.Logger
}

// RequireAny ensures the current operator has at least one of the required permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	return m.require(normalizePermissions(perms), hasAnyPermission)
}

// RequireAll ensures the current operator has all required permissions.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	return m.require(normalizePermissions(perms), hasAllPermissions)
}

func (m Middleware) require(required []string, allowed func(granted, required []string) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(required) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			op, ok := shared.OperatorFromContext(r.Context())
			if !ok || op.ID <= 0 {
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "operator identity required")
				return
			}
			granted, err := m.Permissions.EffectivePermissions(r.Context(), op.ID)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("rbac load permissions", slog.Int64("operator_id", op.ID), slog.Any("error", err))
				}
				httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "permissions unavailable")
				return
			}
			if !allowed(granted, required) {
				httpx.Problem(w, http.StatusForbidden, "Forbidden", shared.ErrForbidden.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func normalizePermissions(perms []string) []string {
	unique := make(map[string]struct{}, len(perms))
	normalized := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		if _, dup := unique[p]; dup {
			continue
		}
		unique[p] = struct{}{}
		normalized = append(normalized, p)
	}
	return normalized
}

func permissionSet(granted []string) map[string]struct{} {
	set := make(map[string]struct{}, len(granted))
	for _, p := range granted {
		set[strings.ToLower(p)] = struct{}{}
	}
	return set
}

func hasAnyPermission(granted []string, required []string) bool {
	set := permissionSet(granted)
	for _, r := range required {
		if _, ok := set[r]; ok {
			return true
		}
	}
	return false
}

func hasAllPermissions(granted []string, required []string) bool {
	set := permissionSet(granted)
	for _, r := range required {
		if _, ok := set[r]; !ok {
			return false
		}
	}
	return true
}
