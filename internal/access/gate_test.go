package access

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGate_Transitions(t *testing.T) {
	g := NewGate()
	assert.Equal(t, Unauthenticated, g.Status().State)

	g.IdentityChanged(1, "alice")
	s := g.Status()
	assert.Equal(t, ProfilePending, s.State)
	assert.True(t, s.Loading)

	g.ProfileChecked("alice", false)
	s = g.Status()
	assert.Equal(t, ProfilePending, s.State)
	assert.False(t, s.Loading)

	g.Registered("alice")
	assert.Equal(t, Ready, g.Status().State)

	g.IdentityChanged(2, "")
	assert.Equal(t, Status{State: Unauthenticated}, g.Status())
}

func TestGate_IgnoresResultForPreviousIdentity(t *testing.T) {
	g := NewGate()
	g.IdentityChanged(1, "alice")
	g.IdentityChanged(2, "bob")

	g.ProfileChecked("alice", true)
	s := g.Status()
	assert.Equal(t, ProfilePending, s.State)
	assert.Equal(t, "bob", string(s.Identity))
	assert.True(t, s.Loading)
}

func TestGate_IgnoresOlderEpoch(t *testing.T) {
	g := NewGate()
	g.IdentityChanged(2, "bob")
	g.IdentityChanged(1, "alice")

	s := g.Status()
	assert.Equal(t, "bob", string(s.Identity))
	assert.Equal(t, ProfilePending, s.State)

	g.IdentityChanged(2, "bob")
	g.ProfileChecked("bob", true)
	g.IdentityChanged(2, "bob")
	assert.Equal(t, Ready, g.Status().State, "repeating the current epoch keeps the result")

	g.IdentityChanged(3, "")
	g.IdentityChanged(2, "bob")
	assert.Equal(t, Unauthenticated, g.Status().State)
}

func TestGate_FailedCheckDoesNotPickATerminalState(t *testing.T) {
	g := NewGate()
	g.IdentityChanged(1, "alice")
	g.ProfileCheckFailed("alice", errors.New("timeout"))

	assert.Equal(t, ProfilePending, g.Status().State)
	assert.Equal(t, Deny, g.Resolve(MemberView, false))
	assert.Equal(t, Deny, g.Resolve(RegistrationView, false))

	g.ProfileCheckStarted("alice")
	assert.Equal(t, ShowLoading, g.Resolve(MemberView, false))
}

func TestGate_Resolve(t *testing.T) {
	type setup func(g *Gate)
	unauthenticated := func(g *Gate) {}
	checking := func(g *Gate) { g.IdentityChanged(1, "alice") }
	unregistered := func(g *Gate) { g.IdentityChanged(1, "alice"); g.ProfileChecked("alice", false) }
	ready := func(g *Gate) { g.IdentityChanged(1, "alice"); g.ProfileChecked("alice", true) }

	tests := []struct {
		name    string
		setup   setup
		view    View
		isAdmin bool
		want    Decision
	}{
		{"public while unauthenticated", unauthenticated, PublicView, false, Allow},
		{"member while unauthenticated", unauthenticated, MemberView, false, RequireLogin},
		{"registration while unauthenticated", unauthenticated, RegistrationView, false, RequireLogin},
		{"member while checking", checking, MemberView, false, ShowLoading},
		{"registration while checking", checking, RegistrationView, false, ShowLoading},
		{"member while unregistered", unregistered, MemberView, false, RequireRegistration},
		{"admin while unregistered", unregistered, AdminView, true, RequireRegistration},
		{"registration while unregistered", unregistered, RegistrationView, false, Allow},
		{"member while ready", ready, MemberView, false, Allow},
		{"registration while ready", ready, RegistrationView, true, Deny},
		{"admin while ready without role", ready, AdminView, false, Deny},
		{"admin while ready with role", ready, AdminView, true, Allow},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := NewGate()
			tt.setup(g)
			assert.Equal(t, tt.want, g.Resolve(tt.view, tt.isAdmin))
		})
	}
}

func TestGate_NeverExposesMemberViewsBeforeReady(t *testing.T) {
	signals := []func(g *Gate){
		func(g *Gate) { g.IdentityChanged(1, "alice") },
		func(g *Gate) { g.ProfileChecked("alice", false) },
		func(g *Gate) { g.ProfileCheckFailed("alice", errors.New("x")) },
		func(g *Gate) { g.ProfileCheckStarted("alice") },
		func(g *Gate) { g.IdentityChanged(2, "bob") },
		func(g *Gate) { g.ProfileChecked("alice", true) },
		func(g *Gate) { g.IdentityChanged(3, "") },
	}

	// Every ordering of up to three signals.
	for _, a := range signals {
		for _, b := range signals {
			for _, c := range signals {
				g := NewGate()
				for _, apply := range []func(*Gate){a, b, c} {
					apply(g)
					if g.Status().State != Ready {
						assert.NotEqual(t, Allow, g.Resolve(MemberView, true))
						assert.NotEqual(t, Allow, g.Resolve(AdminView, true))
					}
				}
			}
		}
	}
}
