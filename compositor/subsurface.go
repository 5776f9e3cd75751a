// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package compositor

import (
	"github.com/mstarongithub/wlcore/wire"
)

const (
	subcompositorRequestDestroy       = 0
	subcompositorRequestGetSubsurface = 1

	subsurfaceRequestDestroy     = 0
	subsurfaceRequestSetPosition = 1
	subsurfaceRequestPlaceAbove  = 2
	subsurfaceRequestPlaceBelow  = 3
	subsurfaceRequestSetSync     = 4
	subsurfaceRequestSetDesync   = 5
)

// wl_subcompositor and wl_subsurface error codes.
const (
	SubcompositorErrorBadSurface = 0
	SubcompositorErrorBadParent  = 1

	SubsurfaceErrorBadSurface = 0
)

type subcompositor struct {
	Resource
}

func (sc *subcompositor) Interface() string {
	return "wl_subcompositor"
}

func (sc *subcompositor) Teardown() {}

func (sc *subcompositor) Dispatch(msg *wire.Message) error {
	switch msg.Opcode {
	case subcompositorRequestDestroy:
		sc.client.Remove(sc)
		return nil
	case subcompositorRequestGetSubsurface:
		dec := msg.Decoder()
		id := dec.NewID()
		surfaceID, parentID := dec.Object(), dec.Object()
		if err := dec.Err(); err != nil {
			return Malformed(sc.Interface(), msg.Opcode, err)
		}
		surface, err := lookup[*Surface](sc.client, surfaceID, "wl_surface")
		if err != nil {
			return err
		}
		parent, err := lookup[*Surface](sc.client, parentID, "wl_surface")
		if err != nil {
			return err
		}
		if surface == nil || parent == nil {
			return Malformed(sc.Interface(), msg.Opcode, wire.ErrNullNotAllowed)
		}
		sub, err := NewSubSurface(sc.client, id, surface, parent)
		switch {
		case err == errBadParent:
			return NewProtocolError(sc.id, SubcompositorErrorBadParent, "wl_surface@%d cannot be a parent of wl_surface@%d", parentID, surfaceID)
		case err != nil:
			return NewProtocolError(sc.id, SubcompositorErrorBadSurface, "wl_surface@%d: %v", surfaceID, err)
		}
		if err := sc.client.Add(sub); err != nil {
			sub.detach()
			return err
		}
		return nil
	}
	return InvalidMethod(sc.Interface(), sc.id, msg.Opcode)
}

// SubSurface is wl_subsurface, the edge between a child surface and its
// parent. New sub-surfaces are synchronized.
type SubSurface struct {
	Resource
	surface *Surface
	parent  *Surface
	sync    bool

	x, y       int32
	pendingX   int32
	pendingY   int32
	posPending bool
}

// NewSubSurface links surface below parent. The caller adds the returned
// object to the client and detaches it again if that fails.
func NewSubSurface(client *Client, id uint32, surface, parent *Surface) (*SubSurface, error) {
	for p := parent; p != nil; p = p.parentSurface() {
		if p == surface {
			return nil, errBadParent
		}
	}
	sub := &SubSurface{
		Resource: NewResource(client, id, 1),
		surface:  surface,
		parent:   parent,
		sync:     true,
	}
	if err := surface.SetRole(RoleSubsurface, sub); err != nil {
		return nil, err
	}
	surface.sub = sub
	// A new child goes on top of its siblings, effective on the parent's
	// next commit.
	parent.pendingOrder = append(parent.stagedOrder(), surface)
	return sub, nil
}

func (s *Surface) parentSurface() *Surface {
	if s.sub == nil {
		return nil
	}
	return s.sub.parent
}

// stagedOrder returns a copy of the order the next commit will apply.
func (s *Surface) stagedOrder() []*Surface {
	src := s.order
	if s.pendingOrder != nil {
		src = s.pendingOrder
	}
	out := make([]*Surface, len(src))
	copy(out, src)
	return out
}

func (sub *SubSurface) Interface() string {
	return "wl_subsurface"
}

func (sub *SubSurface) Role() RoleKind {
	return RoleSubsurface
}

// Configure is a no-op: a sub-surface is placed by its parent.
func (sub *SubSurface) Configure(int32, int32, bool) {}

func (sub *SubSurface) Surface() *Surface {
	return sub.surface
}

func (sub *SubSurface) Parent() *Surface {
	return sub.parent
}

// Position returns the applied offset relative to the parent.
func (sub *SubSurface) Position() (int32, int32) {
	return sub.x, sub.y
}

func (sub *SubSurface) Synchronized() bool {
	return sub.sync
}

// SetPosition stages a new offset, applied on the parent's commit.
func (sub *SubSurface) SetPosition(x, y int32) {
	sub.pendingX, sub.pendingY, sub.posPending = x, y, true
}

func (sub *SubSurface) applyPosition() {
	if sub.posPending {
		sub.x, sub.y, sub.posPending = sub.pendingX, sub.pendingY, false
	}
}

// Place moves the surface directly above or below sibling, which may also
// be the parent. Only the stacking changes, on the parent's commit.
func (sub *SubSurface) Place(sibling *Surface, above bool) error {
	if sub.parent == nil {
		return ErrDestroyed
	}
	if sibling == sub.surface || (sibling != sub.parent && sibling.parentSurface() != sub.parent) {
		return errNotSibling
	}
	order := sub.parent.stagedOrder()
	order = removeSurface(order, sub.surface)
	idx := indexSurface(order, sibling)
	if idx < 0 {
		return errNotSibling
	}
	if above {
		idx++
	}
	order = append(order[:idx], append([]*Surface{sub.surface}, order[idx:]...)...)
	sub.parent.pendingOrder = order
	return nil
}

func (sub *SubSurface) SetSync() {
	sub.sync = true
}

// SetDesync switches to immediate commits. A cached state is applied right
// away unless an ancestor still synchronizes the surface.
func (sub *SubSurface) SetDesync() {
	sub.sync = false
	if sub.surface.hasCache && !sub.surface.synchronized() {
		sub.surface.applyCached()
	}
}

// detach unlinks the surface from its parent. The role stays.
func (sub *SubSurface) detach() {
	if sub.parent != nil {
		sub.parent.order = removeSurface(sub.parent.order, sub.surface)
		if sub.parent.pendingOrder != nil {
			sub.parent.pendingOrder = removeSurface(sub.parent.pendingOrder, sub.surface)
		}
		sub.parent.comp.Repaint()
	}
	sub.parent = nil
	if sub.surface.sub == sub {
		sub.surface.sub = nil
	}
	sub.surface.ClearRoleHandler(sub)
}

func (sub *SubSurface) Teardown() {
	sub.detach()
}

func (sub *SubSurface) Dispatch(msg *wire.Message) error {
	dec := msg.Decoder()
	switch msg.Opcode {
	case subsurfaceRequestDestroy:
		sub.client.Remove(sub)
		return nil
	case subsurfaceRequestSetPosition:
		x, y := dec.Int(), dec.Int()
		if err := dec.Err(); err != nil {
			return Malformed(sub.Interface(), msg.Opcode, err)
		}
		sub.SetPosition(x, y)
		return nil
	case subsurfaceRequestPlaceAbove, subsurfaceRequestPlaceBelow:
		siblingID := dec.Object()
		if err := dec.Err(); err != nil {
			return Malformed(sub.Interface(), msg.Opcode, err)
		}
		sibling, err := lookup[*Surface](sub.client, siblingID, "wl_surface")
		if err != nil {
			return err
		}
		if sibling == nil {
			return Malformed(sub.Interface(), msg.Opcode, wire.ErrNullNotAllowed)
		}
		if err := sub.Place(sibling, msg.Opcode == subsurfaceRequestPlaceAbove); err != nil {
			return NewProtocolError(sub.id, SubsurfaceErrorBadSurface, "wl_surface@%d is not a parent or sibling", siblingID)
		}
		return nil
	case subsurfaceRequestSetSync:
		sub.SetSync()
		return nil
	case subsurfaceRequestSetDesync:
		sub.SetDesync()
		return nil
	}
	return InvalidMethod(sub.Interface(), sub.id, msg.Opcode)
}

func indexSurface(list []*Surface, s *Surface) int {
	for i, have := range list {
		if have == s {
			return i
		}
	}
	return -1
}

func removeSurface(list []*Surface, s *Surface) []*Surface {
	if i := indexSurface(list, s); i >= 0 {
		return append(list[:i], list[i+1:]...)
	}
	return list
}
