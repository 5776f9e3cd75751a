// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package compositor

type RoleKind int

const (
	RoleNone = RoleKind(iota)
	RoleCursor
	RoleSubsurface
	RoleShellToplevel
	RoleShellPopup
	RoleInputMethod
	RoleDragIcon
	// Desktop and Lock can only be held by one surface at a time.
	RoleDesktop
	RoleLock
)

func (k RoleKind) String() string {
	switch k {
	case RoleNone:
		return "none"
	case RoleCursor:
		return "cursor"
	case RoleSubsurface:
		return "subsurface"
	case RoleShellToplevel:
		return "shell-toplevel"
	case RoleShellPopup:
		return "shell-popup"
	case RoleInputMethod:
		return "input-method"
	case RoleDragIcon:
		return "drag-icon"
	case RoleDesktop:
		return "desktop"
	case RoleLock:
		return "lock"
	default:
		return "unknown"
	}
}

// Exclusive reports whether only one surface in the compositor may hold the
// role.
func (k RoleKind) Exclusive() bool {
	return k == RoleDesktop || k == RoleLock
}

// RoleHandler is the per role logic a commit calls into.
type RoleHandler interface {
	Role() RoleKind
	// Configure runs on every applied commit with the attach offset and
	// whether the surface now has content.
	Configure(dx, dy int32, hasBuffer bool)
}

// reassignable is implemented by handlers that may be set again on a surface
// already carrying them, like the cursor.
type reassignable interface {
	Reassignable() bool
}

// SetRole assigns kind to the surface. The first role sticks for the
// lifetime of the surface. Assigning the same non exclusive role again only
// succeeds when no role object currently owns the surface, or when the
// current handler allows it.
func (s *Surface) SetRole(kind RoleKind, handler RoleHandler) error {
	if s.destroyed {
		return ErrDestroyed
	}
	if kind == RoleNone {
		return nil
	}
	if s.role != RoleNone && s.role != kind {
		return ErrAlreadyHasRole
	}
	if kind.Exclusive() {
		if holder := s.comp.exclusive[kind]; holder != nil {
			if holder == s {
				return ErrAlreadyHasRole
			}
			return ErrRoleTaken
		}
		s.comp.exclusive[kind] = s
	} else if s.role == kind && s.roleHandler != nil && s.roleHandler != handler {
		r, ok := s.roleHandler.(reassignable)
		if !ok || !r.Reassignable() {
			return ErrAlreadyHasRole
		}
	}
	s.role = kind
	s.roleHandler = handler
	return nil
}

// Role returns the role kind. It never changes back to RoleNone.
func (s *Surface) Role() RoleKind {
	return s.role
}

func (s *Surface) RoleHandler() RoleHandler {
	return s.roleHandler
}

// ClearRoleHandler detaches handler when its role object is destroyed. The
// role kind itself is kept.
func (s *Surface) ClearRoleHandler(handler RoleHandler) {
	if s.roleHandler == handler {
		s.roleHandler = nil
	}
}
