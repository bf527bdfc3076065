// Package session persists the durable part of an authenticated session.
// Only the allow-listed Snapshot fields ever reach a backend.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"areahood/internal/models"
)

// ErrCorrupt is returned when a persisted snapshot cannot be decoded.
var ErrCorrupt = errors.New("session: corrupt snapshot")

// Snapshot is what survives a restart: token, authentication flag and role.
type Snapshot struct {
	Token         string      `json:"token"`
	Authenticated bool        `json:"authenticated"`
	Role          models.Role `json:"role"`
}

// Empty reports whether the snapshot carries no session.
func (s Snapshot) Empty() bool {
	return s.Token == "" && !s.Authenticated
}

// Encode serializes the snapshot.
func (s Snapshot) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// Decode parses a persisted snapshot. Fields outside the allow-list are
// dropped and an unknown role is re-derived.
func Decode(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if !s.Role.Valid() {
		s.Role = models.DeriveRole(string(s.Role))
	}
	if s.Token == "" {
		s.Authenticated = false
	}
	return s, nil
}

// Store is a durable session backend.
type Store interface {
	// Load returns the persisted snapshot; ok is false when nothing is stored.
	Load(ctx context.Context) (snap Snapshot, ok bool, err error)
	Save(ctx context.Context, snap Snapshot) error
	Clear(ctx context.Context) error
	Close() error
}
