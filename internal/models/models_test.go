package models

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeriveRole(t *testing.T) {
	tests := []struct {
		raw  string
		want Role
	}{
		{"", RoleGuest},
		{"  ", RoleGuest},
		{"admin", RoleAdmin},
		{"SuperAdmin", RoleAdmin},
		{"mod", RoleModerator},
		{"merchant", RoleBusiness},
		{"business", RoleBusiness},
		{"resident", RoleResident},
		{"something-new", RoleResident},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got := DeriveRole(tt.raw)
			assert.Equal(t, tt.want, got)
			assert.True(t, got.Valid())
		})
	}
}

func TestAppError_WrapsCause(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("create post: %w", NewInternalError(cause))

	assert.ErrorIs(t, err, cause)
	assert.True(t, HasCode(err, CodeInternal))
	assert.False(t, IsValidation(err))
	assert.True(t, IsValidation(NewValidationError("Content is required")))
}

func TestPostClone_DoesNotShareState(t *testing.T) {
	updated := time.Now()
	p := Post{ID: "1", Media: []Media{{URL: "a"}}, UpdatedAt: &updated}

	c := p.Clone()
	c.Media[0].URL = "b"
	*c.UpdatedAt = updated.Add(time.Hour)

	assert.Equal(t, "a", p.Media[0].URL)
	assert.True(t, p.UpdatedAt.Equal(updated))
}
