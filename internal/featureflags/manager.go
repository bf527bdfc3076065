// Package featureflags parses flag lists such as "like=fail,comment=50%".
// The mock API uses them to inject failures on selected routes.
package featureflags

import (
	"hash/fnv"
	"maps"
	"strconv"
	"strings"
)

// Manager evaluates flags defined in a comma-separated key=value list.
type Manager struct {
	flags map[string]string
}

// NewManager creates a manager from a comma-separated config string.
// Malformed pairs are skipped.
func NewManager(raw string) *Manager {
	out := make(map[string]string)

	for pair := range strings.SplitSeq(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		key, value = normalize(key), normalize(value)
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}

	return &Manager{flags: out}
}

// Enabled reports whether a flag fires for the given subject.
// Supported values:
// - on/true/1/fail
// - off/false/0
// - N% (deterministic bucket per subject, e.g. 25%)
//
// Percentage flags never fire for an empty subject.
func (m *Manager) Enabled(name, subject string) bool {
	if m == nil {
		return false
	}

	value, ok := m.flags[normalize(name)]
	if !ok {
		return false
	}

	switch value {
	case "on", "true", "1", "fail":
		return true
	case "off", "false", "0":
		return false
	}

	pctRaw, ok := strings.CutSuffix(value, "%")
	if !ok {
		return false
	}
	pct, err := strconv.Atoi(pctRaw)
	if err != nil || pct <= 0 {
		return false
	}
	if pct >= 100 {
		return true
	}
	if subject == "" {
		return false
	}
	return bucket(name, subject) < pct
}

// Empty reports whether no flags are configured.
func (m *Manager) Empty() bool {
	return m == nil || len(m.flags) == 0
}

// Raw returns a copy of the configured flags.
func (m *Manager) Raw() map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return maps.Clone(m.flags)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func bucket(name, subject string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(normalize(name) + ":" + subject))
	return int(h.Sum32() % 100)
}
