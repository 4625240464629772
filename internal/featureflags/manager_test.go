package featureflags

import (
	"testing"

	"bulletin/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestEnabled_BooleanValues(t *testing.T) {
	m := NewManager("a=on,b=off,c=true,d=false,e=1,f=0")

	for _, name := range []string{"a", "c", "e"} {
		assert.True(t, m.Enabled(name, "alice"), name)
	}
	for _, name := range []string{"b", "d", "f", "missing"} {
		assert.False(t, m.Enabled(name, "alice"), name)
	}
}

func TestEnabled_PercentageValues(t *testing.T) {
	m := NewManager("always=100%,never=0%,canary=25%,broken=x%")

	assert.True(t, m.Enabled("always", "alice"))
	assert.True(t, m.Enabled("always", models.Anonymous))
	assert.False(t, m.Enabled("never", "alice"))
	assert.False(t, m.Enabled("broken", "alice"))

	first := m.Enabled("canary", "bob")
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, m.Enabled("canary", "bob"), "rollout must be deterministic per identity")
	}
	assert.False(t, m.Enabled("canary", models.Anonymous), "percentage rollout requires an identity")
}

func TestEnabled_RolloutSplitsIdentities(t *testing.T) {
	m := NewManager("half=50%")
	on := 0
	for _, id := range []models.Identity{"a1", "b2", "c3", "d4", "e5", "f6", "g7", "h8", "i9", "j10", "k11", "l12", "m13", "n14", "o15", "p16", "q17", "r18", "s19", "t20"} {
		if m.Enabled("half", id) {
			on++
		}
	}
	assert.Greater(t, on, 0)
	assert.Less(t, on, 20)
}

func TestParseAndSnapshot(t *testing.T) {
	m := NewManager(" bad ,X=on, y = 20% ,z=off ")

	assert.Equal(t, map[string]string{"x": "on", "y": "20%", "z": "off"}, m.Raw())

	snap := m.Snapshot("alice")
	assert.True(t, snap["x"])
	assert.False(t, snap["z"])
	assert.Len(t, snap, 3)
}

func TestDefinedAndFallback(t *testing.T) {
	m := NewManager("read_retry=off")

	assert.True(t, m.Defined(ReadRetry))
	assert.False(t, m.Defined(BroadcastInvalidations))
	assert.False(t, m.EnabledOr(ReadRetry, "alice", true))
	assert.True(t, m.EnabledOr(BroadcastInvalidations, "alice", true))

	var none *Manager
	assert.False(t, none.Enabled(ReadRetry, "alice"))
	assert.True(t, none.EnabledOr(ReadRetry, "alice", true))
	assert.Empty(t, none.Raw())
}

func TestEnabled_ClampsAndIgnoresCase(t *testing.T) {
	m := NewManager("Wide=150%,neg=-5%,plain=50")

	assert.True(t, m.Enabled("WIDE", models.Anonymous))
	assert.False(t, m.Enabled("neg", "alice"))
	assert.False(t, m.Enabled("plain", "alice"), "a bare number is not a rollout")
	assert.Equal(t, "150%", m.Raw()["wide"])
}
