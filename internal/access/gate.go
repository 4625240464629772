// Package access decides which views the current identity may enter.
package access

import (
	"sync"

	"bulletin/internal/models"
)

// State of the onboarding state machine.
type State int

const (
	Unauthenticated State = iota
	ProfilePending
	Ready
)

func (s State) String() string {
	switch s {
	case ProfilePending:
		return "profile_pending"
	case Ready:
		return "ready"
	default:
		return "unauthenticated"
	}
}

// View classifies what a screen requires.
type View int

const (
	// PublicView needs nothing.
	PublicView View = iota
	// RegistrationView needs an identity without a profile.
	RegistrationView
	// MemberView needs a registered identity.
	MemberView
	// AdminView needs a registered administrator.
	AdminView
)

// Decision is the outcome of Resolve.
type Decision int

const (
	Allow Decision = iota
	ShowLoading
	RequireLogin
	RequireRegistration
	// Deny covers administrators-only views, failed profile checks and
	// registration by an identity that already has a profile.
	Deny
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case ShowLoading:
		return "loading"
	case RequireLogin:
		return "login"
	case RequireRegistration:
		return "register"
	default:
		return "deny"
	}
}

// Status is the observable gate state.
type Status struct {
	State    State
	Identity models.Identity
	// Loading is set while the profile-existence check is outstanding.
	Loading bool
	// CheckErr is the failure of the last profile-existence check.
	CheckErr error
}

// Gate is driven by two signals: identity presence and profile existence.
type Gate struct {
	mu     sync.Mutex
	epoch  uint64
	status Status
}

// NewGate returns a gate in Unauthenticated.
func NewGate() *Gate {
	return &Gate{}
}

func (g *Gate) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

// IdentityChanged moves to Unauthenticated for the anonymous caller and to a
// loading ProfilePending otherwise. Signals from an epoch older than the last
// one seen are ignored.
func (g *Gate) IdentityChanged(epoch uint64, id models.Identity) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if epoch < g.epoch {
		return
	}
	g.epoch = epoch
	if id.IsAnonymous() {
		g.status = Status{State: Unauthenticated}
		return
	}
	if id == g.status.Identity && g.status.State != Unauthenticated {
		return
	}
	g.status = Status{State: ProfilePending, Identity: id, Loading: true}
}

// ProfileCheckStarted marks a new existence check for id as outstanding.
func (g *Gate) ProfileCheckStarted(id models.Identity) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if id != g.status.Identity || g.status.State != ProfilePending {
		return
	}
	g.status.Loading = true
	g.status.CheckErr = nil
}

// ProfileChecked records the existence check result for id. Results for an
// identity that is no longer current are ignored.
func (g *Gate) ProfileChecked(id models.Identity, exists bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if id.IsAnonymous() || id != g.status.Identity {
		return
	}
	g.status.Loading = false
	g.status.CheckErr = nil
	if exists {
		g.status.State = Ready
	} else {
		g.status.State = ProfilePending
	}
}

// ProfileCheckFailed records a failed existence check. The gate stays in
// ProfilePending without falling back to either terminal state.
func (g *Gate) ProfileCheckFailed(id models.Identity, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if id != g.status.Identity || g.status.State != ProfilePending {
		return
	}
	g.status.Loading = false
	g.status.CheckErr = err
}

// Registered records a successful registration of id.
func (g *Gate) Registered(id models.Identity) {
	g.ProfileChecked(id, true)
}

// Resolve decides whether view may be entered. isAdmin only matters for AdminView.
func (g *Gate) Resolve(view View, isAdmin bool) Decision {
	s := g.Status()
	if view == PublicView {
		return Allow
	}

	switch s.State {
	case Unauthenticated:
		return RequireLogin
	case ProfilePending:
		if s.Loading {
			return ShowLoading
		}
		if s.CheckErr != nil {
			return Deny
		}
		if view == RegistrationView {
			return Allow
		}
		return RequireRegistration
	}

	// Ready
	switch view {
	case RegistrationView:
		return Deny
	case AdminView:
		if !isAdmin {
			return Deny
		}
		return Allow
	default:
		return Allow
	}
}
