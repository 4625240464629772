// Package featureflags evaluates identity-keyed flags.
package featureflags

import (
	"hash/fnv"
	"strconv"
	"strings"

	"bulletin/internal/models"
)

// Flags read by the client core.
const (
	BroadcastInvalidations = "broadcast_invalidations"
	ReadRetry              = "read_retry"
)

// rule is a parsed flag value: fully on, fully off, or on for a share of
// identities. Unparseable values evaluate as off.
type rule struct {
	raw     string
	percent int
}

func parseRule(value string) rule {
	r := rule{raw: value}
	switch value {
	case "on", "true", "1":
		r.percent = 100
	case "off", "false", "0":
	default:
		if n, err := strconv.Atoi(strings.TrimSuffix(value, "%")); err == nil && strings.HasSuffix(value, "%") {
			r.percent = min(max(n, 0), 100)
		}
	}
	return r
}

func (r rule) enabled(name string, id models.Identity) bool {
	switch {
	case r.percent >= 100:
		return true
	case r.percent <= 0 || id.IsAnonymous():
		return false
	}
	return rolloutBucket(name, id) < r.percent
}

// Manager holds flags parsed from a list such as
// "broadcast_invalidations=on,read_retry=25%". A nil Manager has no flags.
type Manager struct {
	rules map[string]rule
}

// NewManager parses raw. Entries without a name or value are skipped; names
// and values are case-insensitive.
func NewManager(raw string) *Manager {
	m := &Manager{rules: make(map[string]rule)}
	for _, entry := range strings.Split(raw, ",") {
		name, value, ok := strings.Cut(entry, "=")
		name, value = normalize(name), normalize(value)
		if !ok || name == "" || value == "" {
			continue
		}
		m.rules[name] = parseRule(value)
	}
	return m
}

func (m *Manager) lookup(name string) (rule, bool) {
	if m == nil {
		return rule{}, false
	}
	r, ok := m.rules[normalize(name)]
	return r, ok
}

// Defined reports whether name was configured at all.
func (m *Manager) Defined(name string) bool {
	_, ok := m.lookup(name)
	return ok
}

// Enabled evaluates name for id. Values are on/true/1, off/false/0, or N%
// for a rollout that is stable per identity and never includes the anonymous
// caller below 100%. Undefined flags are off.
func (m *Manager) Enabled(name string, id models.Identity) bool {
	r, ok := m.lookup(name)
	return ok && r.enabled(normalize(name), id)
}

// EnabledOr is Enabled for configured flags and fallback otherwise.
func (m *Manager) EnabledOr(name string, id models.Identity, fallback bool) bool {
	r, ok := m.lookup(name)
	if !ok {
		return fallback
	}
	return r.enabled(normalize(name), id)
}

// Raw returns the configured values by flag name.
func (m *Manager) Raw() map[string]string {
	out := map[string]string{}
	if m == nil {
		return out
	}
	for name, r := range m.rules {
		out[name] = r.raw
	}
	return out
}

// Snapshot evaluates every configured flag for id.
func (m *Manager) Snapshot(id models.Identity) map[string]bool {
	out := map[string]bool{}
	if m == nil {
		return out
	}
	for name, r := range m.rules {
		out[name] = r.enabled(name, id)
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func rolloutBucket(name string, id models.Identity) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name + ":" + string(id)))
	return int(h.Sum32() % 100)
}
