package session

import (
	"github.com/felixgeelhaar/bodega/internal/api"
	"github.com/felixgeelhaar/bodega/internal/credential"
	"github.com/felixgeelhaar/bodega/internal/token"
)

// State is the lifecycle position of a session
type State int

const (
	// StateUninitialized is the state before Mount
	StateUninitialized State = iota
	// StateValidating is the single initial pass over the stored credential
	StateValidating
	// StateAnonymous means no usable credential
	StateAnonymous
	// StateAuthenticated means a stored credential decoded to a role
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateValidating:
		return "validating"
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// transitions is the complete table of legal state changes.
// Authenticated → Authenticated is a credential replacement (new login or
// an external change picked up by Resync).
var transitions = map[State][]State{
	StateUninitialized: {StateValidating, StateAuthenticated, StateAnonymous},
	StateValidating:    {StateAuthenticated, StateAnonymous},
	StateAnonymous:     {StateAuthenticated},
	StateAuthenticated: {StateAuthenticated, StateAnonymous},
}

// CanTransitionTo reports whether the table allows s → next
func (s State) CanTransitionTo(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// EndReason says why an authenticated session ended
type EndReason int

const (
	// EndLogout is a user-requested logout
	EndLogout EndReason = iota
	// EndExpired means the backend answered 401
	EndExpired
	// EndInvalidCredential means a credential that appeared in the store
	// could not be decoded
	EndInvalidCredential
	// EndExternal means another process cleared the store
	EndExternal
)

func (r EndReason) String() string {
	switch r {
	case EndLogout:
		return "logout"
	case EndExpired:
		return "expired"
	case EndInvalidCredential:
		return "invalid_credential"
	case EndExternal:
		return "external"
	default:
		return "unknown"
	}
}

// Session is a point-in-time copy of the session. Role and Credential always
// come from the same transition.
type Session struct {
	State        State
	Role         token.Role
	Credential   credential.Credential
	Initializing bool
	Profile      *api.UserProfile
}

// Authenticated reports whether the session holds a decoded credential
func (s Session) Authenticated() bool {
	return s.State == StateAuthenticated
}

// HasCredential reports whether a credential is present
func (s Session) HasCredential() bool {
	return !s.Credential.IsZero()
}
