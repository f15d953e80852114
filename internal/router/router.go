// Package router decides which view a session may see.
package router

import (
	"github.com/felixgeelhaar/bodega/internal/session"
	"github.com/felixgeelhaar/bodega/internal/token"
)

// View is a top-level screen
type View int

const (
	// ViewLoading is shown while the session is initializing
	ViewLoading View = iota
	// ViewLanding is the public view with login and registration
	ViewLanding
	// ViewMain is the inventory view for users and admins
	ViewMain
	// ViewAdminDashboard is the metrics dashboard for super admins
	ViewAdminDashboard
)

func (v View) String() string {
	switch v {
	case ViewLoading:
		return "loading"
	case ViewLanding:
		return "landing"
	case ViewMain:
		return "main"
	case ViewAdminDashboard:
		return "admin"
	default:
		return "unknown"
	}
}

// RequiresCredential reports whether the view issues authorized requests
func (v View) RequiresCredential() bool {
	return v == ViewMain || v == ViewAdminDashboard
}

// Route maps a session to a view. First match wins; roles compare exactly.
func Route(s session.Session) View {
	switch {
	case s.Initializing:
		return ViewLoading
	case !s.Authenticated():
		return ViewLanding
	case s.Role == token.RoleSuperAdmin:
		return ViewAdminDashboard
	case s.Role == token.RoleUser, s.Role == token.RoleAdmin:
		return ViewMain
	default:
		// an authenticated Guest cannot come out of the decoder
		return ViewLanding
	}
}
