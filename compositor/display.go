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
	displayRequestSync        = 0
	displayRequestGetRegistry = 1

	displayEventError    = 0
	displayEventDeleteID = 1

	registryRequestBind = 0

	registryEventGlobal       = 0
	registryEventGlobalRemove = 1

	callbackEventDone = 0
)

// BindFunc creates the per-client resource for a global.
type BindFunc func(client *Client, id, version uint32) error

// Global is an interface advertised through wl_registry.
type Global struct {
	Name      uint32
	Interface string
	Version   uint32

	bind    BindFunc
	removed bool
}

// display is wl_display, object 1 of every client.
type display struct {
	Resource
}

func (d *display) Interface() string {
	return "wl_display"
}

func (d *display) Teardown() {}

func (d *display) Dispatch(msg *wire.Message) error {
	dec := msg.Decoder()
	switch msg.Opcode {
	case displayRequestSync:
		id := dec.NewID()
		if err := dec.Err(); err != nil {
			return Malformed(d.Interface(), msg.Opcode, err)
		}
		// The callback is never stored: it fires right away.
		d.client.Send(wire.NewEvent(id, callbackEventDone).Uint(d.client.comp.NextSerial()))
		d.client.Send(wire.NewEvent(displayObjectID, displayEventDeleteID).Uint(id))
		return nil
	case displayRequestGetRegistry:
		id := dec.NewID()
		if err := dec.Err(); err != nil {
			return Malformed(d.Interface(), msg.Opcode, err)
		}
		reg := &registry{Resource: NewResource(d.client, id, 1)}
		if err := d.client.Add(reg); err != nil {
			return err
		}
		d.client.registries = append(d.client.registries, reg)
		for _, g := range d.client.comp.globals {
			reg.announce(g)
		}
		return nil
	}
	return InvalidMethod(d.Interface(), d.id, msg.Opcode)
}

type registry struct {
	Resource
}

func (r *registry) Interface() string {
	return "wl_registry"
}

func (r *registry) announce(g *Global) {
	r.Send(r.Event(registryEventGlobal).Uint(g.Name).String(g.Interface).Uint(g.Version))
}

func (r *registry) Teardown() {
	regs := r.client.registries
	for i, reg := range regs {
		if reg == r {
			r.client.registries = append(regs[:i], regs[i+1:]...)
			break
		}
	}
}

func (r *registry) Dispatch(msg *wire.Message) error {
	if msg.Opcode != registryRequestBind {
		return InvalidMethod(r.Interface(), r.id, msg.Opcode)
	}
	dec := msg.Decoder()
	name := dec.Uint()
	iface := dec.String()
	version := dec.Uint()
	id := dec.NewID()
	if err := dec.Err(); err != nil {
		return Malformed(r.Interface(), msg.Opcode, err)
	}

	g := r.client.comp.globalByName(name)
	if g == nil {
		return NewProtocolError(r.id, DisplayErrorInvalidObject, "invalid global %s (%d)", iface, name)
	}
	if g.Interface != iface {
		return NewProtocolError(r.id, DisplayErrorInvalidObject, "invalid interface for global %d: have %s, wanted %s", name, iface, g.Interface)
	}
	if version == 0 || version > g.Version {
		return NewProtocolError(r.id, DisplayErrorInvalidObject, "invalid version for global %s (%d): have %d, wanted %d", iface, name, g.Version, version)
	}
	return g.bind(r.client, id, version)
}
