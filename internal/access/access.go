// Package access answers whether a user may enter a room and with which role.
package access

import (
	"context"
	"errors"
)

var ErrDenied = errors.New("access denied")

type Role string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleOwner  Role = "owner"
)

// Normalize maps unknown roles to viewer.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleEditor, RoleOwner:
		return Role(role)
	default:
		return RoleViewer
	}
}

// CanEdit reports whether the role may take edit permission and write files.
func (r Role) CanEdit() bool {
	return r == RoleEditor || r == RoleOwner
}

type Decision struct {
	HasAccess bool
	Role      Role
}

// Checker is the identity/access collaborator.
type Checker interface {
	HasAccess(ctx context.Context, roomID, userID string) (Decision, error)
}

// AllowAll admits everyone as an editor.
type AllowAll struct{}

func (AllowAll) HasAccess(context.Context, string, string) (Decision, error) {
	return Decision{HasAccess: true, Role: RoleEditor}, nil
}
