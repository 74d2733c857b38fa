// Package api implements HTTP handlers and helpers for the poshub webhook service.
package api

import (
	"net/http"
	"strings"
)

type Principal struct {
	Tenant string
	Role   string // owner, manager, cashier
	Branch string
}

// getPrincipal extracts tenant, role and branch from JWT or headers.
// - If Authorization: Bearer is present, uses configured verifier (dev/hmac/jwks).
// - Else falls back to headers for dev.
func (s *Server) getPrincipal(r *http.Request) Principal {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") && s.Auth != nil {
		tok := strings.TrimSpace(authz[len("Bearer "):])
		if pr, err := s.Auth.Verify(tok); err == nil {
			return Principal{Tenant: pr.Tenant, Role: pr.Role, Branch: pr.Branch}
		}
	}
	tenant := r.Header.Get("X-Tenant-Id")
	role := r.Header.Get("X-Role")
	branch := r.Header.Get("X-Branch-Id")
	if tenant == "" {
		tenant = "t_demo"
	}
	if role == "" {
		role = "owner"
	}
	return Principal{Tenant: tenant, Role: role, Branch: branch}
}

// CanManage reports whether the principal may mutate control-plane state.
func (p Principal) CanManage() bool { return p.Role == "owner" || p.Role == "manager" }
