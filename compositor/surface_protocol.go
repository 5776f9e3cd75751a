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
	compositorRequestCreateSurface = 0
	compositorRequestCreateRegion  = 1

	surfaceRequestDestroy            = 0
	surfaceRequestAttach             = 1
	surfaceRequestDamage             = 2
	surfaceRequestFrame              = 3
	surfaceRequestSetOpaqueRegion    = 4
	surfaceRequestSetInputRegion     = 5
	surfaceRequestCommit             = 6
	surfaceRequestSetBufferTransform = 7
	surfaceRequestSetBufferScale     = 8
	surfaceRequestDamageBuffer       = 9
	surfaceRequestOffset             = 10

	surfaceEventEnter = 0
	surfaceEventLeave = 1
)

// wl_surface error codes.
const (
	SurfaceErrorInvalidScale     = 0
	SurfaceErrorInvalidTransform = 1
	SurfaceErrorInvalidSize      = 2
	SurfaceErrorInvalidOffset    = 3
)

type compositorResource struct {
	Resource
	comp *Compositor
}

func (c *compositorResource) Interface() string {
	return "wl_compositor"
}

func (c *compositorResource) Teardown() {}

func (c *compositorResource) Dispatch(msg *wire.Message) error {
	dec := msg.Decoder()
	id := dec.NewID()
	if err := dec.Err(); err != nil {
		return Malformed(c.Interface(), msg.Opcode, err)
	}
	switch msg.Opcode {
	case compositorRequestCreateSurface:
		s := newSurface(c.comp, c.client, id, c.version)
		if err := c.client.Add(s); err != nil {
			return err
		}
		c.comp.surfaces = append(c.comp.surfaces, s)
		return nil
	case compositorRequestCreateRegion:
		return c.client.Add(&RegionObject{Resource: NewResource(c.client, id, 1)})
	}
	return InvalidMethod(c.Interface(), c.id, msg.Opcode)
}

func (s *Surface) Interface() string {
	return "wl_surface"
}

func (s *Surface) Dispatch(msg *wire.Message) error {
	dec := msg.Decoder()
	switch msg.Opcode {
	case surfaceRequestDestroy:
		s.client.Remove(s)
		return nil

	case surfaceRequestAttach:
		bufID := dec.Object()
		dx, dy := dec.Int(), dec.Int()
		if err := dec.Err(); err != nil {
			return Malformed(s.Interface(), msg.Opcode, err)
		}
		if s.version >= 5 && (dx != 0 || dy != 0) {
			return NewProtocolError(s.id, SurfaceErrorInvalidOffset, "attach offset must be zero, use offset")
		}
		buf, err := lookup[*Buffer](s.client, bufID, "wl_buffer")
		if err != nil {
			return err
		}
		s.Attach(buf, dx, dy)
		return nil

	case surfaceRequestDamage, surfaceRequestDamageBuffer:
		r := Rect{X: dec.Int(), Y: dec.Int(), Width: dec.Int(), Height: dec.Int()}
		if err := dec.Err(); err != nil {
			return Malformed(s.Interface(), msg.Opcode, err)
		}
		if msg.Opcode == surfaceRequestDamage {
			s.Damage(r)
		} else {
			s.DamageBuffer(r)
		}
		return nil

	case surfaceRequestFrame:
		id := dec.NewID()
		if err := dec.Err(); err != nil {
			return Malformed(s.Interface(), msg.Opcode, err)
		}
		cb := &Callback{Resource: NewResource(s.client, id, 1)}
		if err := s.client.Add(cb); err != nil {
			return err
		}
		s.Frame(cb)
		return nil

	case surfaceRequestSetOpaqueRegion, surfaceRequestSetInputRegion:
		regionID := dec.Object()
		if err := dec.Err(); err != nil {
			return Malformed(s.Interface(), msg.Opcode, err)
		}
		obj, err := lookup[*RegionObject](s.client, regionID, "wl_region")
		if err != nil {
			return err
		}
		var r *Region
		if obj != nil {
			region := obj.Region()
			r = &region
		}
		if msg.Opcode == surfaceRequestSetOpaqueRegion {
			s.SetOpaqueRegion(r)
		} else {
			s.SetInputRegion(r)
		}
		return nil

	case surfaceRequestCommit:
		s.Commit()
		return nil

	case surfaceRequestSetBufferTransform:
		t := dec.Int()
		if err := dec.Err(); err != nil {
			return Malformed(s.Interface(), msg.Opcode, err)
		}
		if t < 0 || t > 7 {
			return NewProtocolError(s.id, SurfaceErrorInvalidTransform, "buffer transform value %d is invalid", t)
		}
		s.SetBufferTransform(t)
		return nil

	case surfaceRequestSetBufferScale:
		scale := dec.Int()
		if err := dec.Err(); err != nil {
			return Malformed(s.Interface(), msg.Opcode, err)
		}
		if scale < 1 {
			return NewProtocolError(s.id, SurfaceErrorInvalidScale, "buffer scale value %d is not positive", scale)
		}
		s.SetBufferScale(scale)
		return nil

	case surfaceRequestOffset:
		dx, dy := dec.Int(), dec.Int()
		if err := dec.Err(); err != nil {
			return Malformed(s.Interface(), msg.Opcode, err)
		}
		s.Offset(dx, dy)
		return nil
	}
	return InvalidMethod(s.Interface(), s.id, msg.Opcode)
}
