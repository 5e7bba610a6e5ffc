package collaboration

import (
	"context"
	"testing"

	"docsync/internal/models"

	"github.com/go-playground/assert/v2"
)

func TestGateCheck(t *testing.T) {
	perms := newFakePermissions()
	perms.grant(1, 10, models.PermissionOwner)
	perms.grant(1, 11, models.PermissionEditor)
	perms.grant(1, 12, models.PermissionViewer)
	perms.grant(1, 13, models.PermissionLevel("commenter"))
	gate := NewGate(perms, discardLogger())

	tests := []struct {
		name    string
		userID  int64
		allowed models.PermissionSet
		want    bool
	}{
		{"owner reads", 10, models.ReadAccess, true},
		{"owner writes", 10, models.WriteAccess, true},
		{"editor writes", 11, models.WriteAccess, true},
		{"viewer reads", 12, models.ReadAccess, true},
		{"viewer cannot write", 12, models.WriteAccess, false},
		{"unknown level denied", 13, models.ReadAccess, false},
		{"no row denied", 99, models.ReadAccess, false},
		{"owner outside custom set", 10, models.NewPermissionSet(models.PermissionViewer), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, gate.Check(context.Background(), tt.userID, 1, tt.allowed), tt.want)
		})
	}
}

func TestGateDeniesOnStoreError(t *testing.T) {
	perms := newFakePermissions()
	perms.grant(1, 10, models.PermissionOwner)
	perms.err = errStoreDown

	gate := NewGate(perms, discardLogger())
	assert.Equal(t, gate.Check(context.Background(), 10, 1, models.ReadAccess), false)
}

func TestGateIsPerDocument(t *testing.T) {
	perms := newFakePermissions()
	perms.grant(1, 10, models.PermissionOwner)
	gate := NewGate(perms, discardLogger())

	assert.Equal(t, gate.Check(context.Background(), 10, 2, models.ReadAccess), false)
}
