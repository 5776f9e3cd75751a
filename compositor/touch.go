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
	touchRequestRelease = 0

	touchEventDown   = 0
	touchEventUp     = 1
	touchEventMotion = 2
	touchEventFrame  = 3
	touchEventCancel = 4
)

type touchPoint struct {
	surface *Surface
	// origin is the surface position at touch down.
	ox, oy float64
}

type touchState struct {
	points map[int32]*touchPoint
	// framed are the clients that got events since the last frame.
	framed []*Client
}

func (ts *touchState) touched(c *Client) {
	for _, have := range ts.framed {
		if have == c {
			return
		}
	}
	ts.framed = append(ts.framed, c)
}

// Touch is wl_touch.
type Touch struct {
	Resource
	seat *Seat
}

func (t *Touch) Interface() string {
	return "wl_touch"
}

func (t *Touch) Teardown() {
	seat := t.seat
	for i, have := range seat.touches {
		if have == t {
			seat.touches = append(seat.touches[:i], seat.touches[i+1:]...)
			return
		}
	}
}

func (t *Touch) Dispatch(msg *wire.Message) error {
	if msg.Opcode != touchRequestRelease {
		return InvalidMethod(t.Interface(), t.id, msg.Opcode)
	}
	t.client.Remove(t)
	return nil
}

func (seat *Seat) touchesOf(c *Client) []*Touch {
	var out []*Touch
	for _, t := range seat.touches {
		if t.client == c {
			out = append(out, t)
		}
	}
	return out
}

// TouchDown starts a contact. The contact goes to the surface with pointer
// focus, or to the surface under the point when nothing has focus.
func (seat *Seat) TouchDown(time uint32, id int32, x, y float64) {
	target := seat.pointer.focus
	var ox, oy float64
	if target != nil {
		var ok bool
		if ox, oy, ok = seat.comp.surfaceOrigin(target); !ok {
			target = nil
		}
	}
	if target == nil {
		var sx, sy float64
		target, sx, sy = seat.comp.surfaceAt(x, y)
		ox, oy = x-sx, y-sy
	}
	if target == nil {
		return
	}
	seat.touch.points[id] = &touchPoint{surface: target, ox: ox, oy: oy}
	seat.touch.touched(target.client)
	serial := seat.comp.NextSerial()
	for _, t := range seat.touchesOf(target.client) {
		t.Send(t.Event(touchEventDown).
			Uint(serial).
			Uint(time).
			Object(target.id).
			Int(id).
			Fixed(wire.FixedFromFloat(x - ox)).
			Fixed(wire.FixedFromFloat(y - oy)))
	}
}

// TouchMotion moves a contact. Coordinates stay relative to where the
// surface was at touch down.
func (seat *Seat) TouchMotion(time uint32, id int32, x, y float64) {
	p := seat.touch.points[id]
	if p == nil {
		return
	}
	seat.touch.touched(p.surface.client)
	for _, t := range seat.touchesOf(p.surface.client) {
		t.Send(t.Event(touchEventMotion).
			Uint(time).
			Int(id).
			Fixed(wire.FixedFromFloat(x - p.ox)).
			Fixed(wire.FixedFromFloat(y - p.oy)))
	}
}

func (seat *Seat) TouchUp(time uint32, id int32) {
	p := seat.touch.points[id]
	if p == nil {
		return
	}
	delete(seat.touch.points, id)
	seat.touch.touched(p.surface.client)
	serial := seat.comp.NextSerial()
	for _, t := range seat.touchesOf(p.surface.client) {
		t.Send(t.Event(touchEventUp).Uint(serial).Uint(time).Int(id))
	}
}

// TouchFrame ends a group of touch events for every client that got some.
func (seat *Seat) TouchFrame() {
	framed := seat.touch.framed
	seat.touch.framed = nil
	for _, c := range framed {
		if c.destroyed {
			continue
		}
		for _, t := range seat.touchesOf(c) {
			t.Send(t.Event(touchEventFrame))
		}
	}
}

// TouchCancel drops every contact.
func (seat *Seat) TouchCancel() {
	clients := seat.touchClients()
	seat.touch.points = make(map[int32]*touchPoint)
	for _, c := range clients {
		for _, t := range seat.touchesOf(c) {
			t.Send(t.Event(touchEventCancel))
		}
	}
}

// TouchPoints returns the number of active contacts.
func (seat *Seat) TouchPoints() int {
	return len(seat.touch.points)
}

func (seat *Seat) touchClients() []*Client {
	var out []*Client
	for _, p := range seat.touch.points {
		seen := false
		for _, c := range out {
			seen = seen || c == p.surface.client
		}
		if !seen {
			out = append(out, p.surface.client)
		}
	}
	return out
}
