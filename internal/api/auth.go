// Package api implements HTTP handlers and helpers for the HOS log service.
package api

import (
	"net/http"
	"strings"

	"hoslog/internal/auth"
)

// getPrincipal extracts tenant and role from a bearer token or headers.
// - If Authorization: Bearer is present and verifies, its claims win.
// - Else falls back to X-Tenant-Id / X-Role / X-Driver-Id for dev.
func (s *Server) getPrincipal(r *http.Request) auth.Principal {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") && s.Auth != nil {
		tok := strings.TrimSpace(authz[len("Bearer "):])
		if p, err := s.Auth.Verify(tok); err == nil {
			return p
		}
	}
	tenant := r.Header.Get("X-Tenant-Id")
	role := strings.ToLower(r.Header.Get("X-Role"))
	if tenant == "" {
		tenant = "t_demo"
	}
	if role == "" {
		role = auth.RoleAdmin
	}
	return auth.Principal{Tenant: tenant, Role: role, DriverID: r.Header.Get("X-Driver-Id")}
}

func (s *Server) tenantOf(r *http.Request) string { return s.getPrincipal(r).Tenant }

// requireAdmin writes a 403 and returns false for non-admin callers.
func requireAdmin(w http.ResponseWriter, r *http.Request, p auth.Principal) bool {
	if !p.IsAdmin() {
		writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path)
		return false
	}
	return true
}

// canSeeTrip: admins and dispatchers see every trip of the tenant, drivers
// only their own.
func canSeeTrip(p auth.Principal, driverID string) bool {
	if p.IsAdmin() || p.Role == auth.RoleDispatcher {
		return true
	}
	return p.Role == auth.RoleDriver && p.DriverID != "" && p.DriverID == driverID
}
