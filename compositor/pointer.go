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
	pointerRequestSetCursor = 0
	pointerRequestRelease   = 1

	pointerEventEnter  = 0
	pointerEventLeave  = 1
	pointerEventMotion = 2
	pointerEventButton = 3
	pointerEventAxis   = 4
	pointerEventFrame  = 5

	// PointerErrorRole is wl_pointer.error.role.
	PointerErrorRole = 0

	// Evdev button codes.
	BtnLeft   = 0x110
	BtnRight  = 0x111
	BtnMiddle = 0x112
)

// Axis orientations.
const (
	AxisVertical   = 0
	AxisHorizontal = 1
)

type pointerState struct {
	focus           *Surface
	x, y            float64
	sx, sy          float64
	pressed         []uint32
	lastPressSerial uint32
	enterSerial     uint32

	cursorSurface *Surface
}

// Pointer is wl_pointer.
type Pointer struct {
	Resource
	seat *Seat
}

func (p *Pointer) Interface() string {
	return "wl_pointer"
}

func (p *Pointer) Teardown() {
	seat := p.seat
	for i, have := range seat.pointers {
		if have == p {
			seat.pointers = append(seat.pointers[:i], seat.pointers[i+1:]...)
			return
		}
	}
}

func (p *Pointer) frame() {
	if p.version >= 5 {
		p.Send(p.Event(pointerEventFrame))
	}
}

func (p *Pointer) Dispatch(msg *wire.Message) error {
	switch msg.Opcode {
	case pointerRequestSetCursor:
		dec := msg.Decoder()
		serial := dec.Uint()
		surfaceID := dec.Object()
		hx, hy := dec.Int(), dec.Int()
		if err := dec.Err(); err != nil {
			return Malformed(p.Interface(), msg.Opcode, err)
		}
		s, err := lookup[*Surface](p.client, surfaceID, "wl_surface")
		if err != nil {
			return err
		}
		return p.setCursor(serial, s, hx, hy)
	case pointerRequestRelease:
		p.client.Remove(p)
		return nil
	}
	return InvalidMethod(p.Interface(), p.id, msg.Opcode)
}

// setCursor is only honored for the client with pointer focus and the
// serial of its latest enter.
func (p *Pointer) setCursor(serial uint32, s *Surface, hx, hy int32) error {
	seat := p.seat
	focus := seat.pointer.focus
	if focus == nil || focus.client != p.client || serial != seat.pointer.enterSerial {
		seat.log().WithField("serial", serial).Debugln("Ignoring set_cursor from unfocused client")
		return nil
	}
	if s == nil {
		seat.pointer.cursorSurface = nil
		seat.cursorName = ""
		if seat.cursor != nil {
			seat.cursor.SetSurface(nil, 0, 0)
		}
		return nil
	}
	role := &cursorRole{seat: seat, surface: s, hx: hx, hy: hy}
	if cur, ok := s.roleHandler.(*cursorRole); ok {
		role = cur
		role.hx, role.hy = hx, hy
	}
	if err := s.SetRole(RoleCursor, role); err != nil {
		return NewProtocolError(p.id, PointerErrorRole, "wl_surface@%d already has another role", s.id)
	}
	seat.pointer.cursorSurface = s
	seat.cursorName = ""
	if seat.cursor != nil {
		seat.cursor.SetSurface(s, hx, hy)
	}
	return nil
}

type cursorRole struct {
	seat    *Seat
	surface *Surface
	hx, hy  int32
}

func (c *cursorRole) Role() RoleKind {
	return RoleCursor
}

func (c *cursorRole) Reassignable() bool {
	return true
}

// Configure moves the hotspot against the attach offset.
func (c *cursorRole) Configure(dx, dy int32, _ bool) {
	if dx == 0 && dy == 0 {
		return
	}
	c.hx -= dx
	c.hy -= dy
	if c.seat.pointer.cursorSurface == c.surface && c.seat.cursor != nil {
		c.seat.cursor.SetSurface(c.surface, c.hx, c.hy)
	}
}

func (seat *Seat) pointersOf(c *Client) []*Pointer {
	var out []*Pointer
	for _, p := range seat.pointers {
		if p.client == c {
			out = append(out, p)
		}
	}
	return out
}

// PointerFocus returns the focused surface or nil.
func (seat *Seat) PointerFocus() *Surface {
	return seat.pointer.focus
}

// PointerPosition returns the global pointer position.
func (seat *Seat) PointerPosition() (float64, float64) {
	return seat.pointer.x, seat.pointer.y
}

// ButtonPressed reports whether any pointer button is held.
func (seat *Seat) ButtonPressed() bool {
	return len(seat.pointer.pressed) > 0
}

// ValidateButtonSerial reports whether serial is the serial of the most
// recent button press.
func (seat *Seat) ValidateButtonSerial(serial uint32) bool {
	return serial != 0 && serial == seat.pointer.lastPressSerial
}

// SetPointerFocus moves pointer focus, sending leave to the old surface and
// enter at the local position to the new one.
func (seat *Seat) SetPointerFocus(s *Surface, sx, sy float64) {
	if s != nil && s.destroyed {
		s = nil
	}
	old := seat.pointer.focus
	if old == s {
		seat.pointer.sx, seat.pointer.sy = sx, sy
		return
	}
	if old != nil {
		serial := seat.comp.NextSerial()
		for _, p := range seat.pointersOf(old.client) {
			p.Send(p.Event(pointerEventLeave).Uint(serial).Object(old.id))
			p.frame()
		}
	}
	seat.pointer.focus = s
	seat.pointer.sx, seat.pointer.sy = sx, sy
	if s == nil {
		seat.SetCursorImage("default")
		return
	}
	serial := seat.comp.NextSerial()
	seat.pointer.enterSerial = serial
	for _, p := range seat.pointersOf(s.client) {
		p.Send(p.Event(pointerEventEnter).
			Uint(serial).
			Object(s.id).
			Fixed(wire.FixedFromFloat(sx)).
			Fixed(wire.FixedFromFloat(sy)))
		p.frame()
	}
}

// PointerMotion moves the pointer to a global position. While a grab is
// active it gets the motion; while a button is held the focused surface
// keeps focus; otherwise the hit tester decides.
func (seat *Seat) PointerMotion(time uint32, x, y float64) {
	seat.pointer.x, seat.pointer.y = x, y
	if seat.grab != nil {
		seat.grab.Motion(time, x, y)
		return
	}
	if focus := seat.pointer.focus; focus != nil && len(seat.pointer.pressed) > 0 {
		if ox, oy, ok := seat.comp.surfaceOrigin(focus); ok {
			seat.sendMotion(time, x-ox, y-oy)
			return
		}
	}
	s, sx, sy := seat.comp.surfaceAt(x, y)
	if s != seat.pointer.focus {
		seat.SetPointerFocus(s, sx, sy)
		return
	}
	seat.sendMotion(time, sx, sy)
}

func (seat *Seat) sendMotion(time uint32, sx, sy float64) {
	focus := seat.pointer.focus
	if focus == nil {
		return
	}
	seat.pointer.sx, seat.pointer.sy = sx, sy
	for _, p := range seat.pointersOf(focus.client) {
		p.Send(p.Event(pointerEventMotion).
			Uint(time).
			Fixed(wire.FixedFromFloat(sx)).
			Fixed(wire.FixedFromFloat(sy)))
	}
}

// refocusPointer hit tests at the current position without sending motion.
func (seat *Seat) refocusPointer() {
	s, sx, sy := seat.comp.surfaceAt(seat.pointer.x, seat.pointer.y)
	seat.SetPointerFocus(s, sx, sy)
}

// PointerButton delivers a button press or release and returns its serial.
func (seat *Seat) PointerButton(time, button uint32, pressed bool) uint32 {
	serial := seat.comp.NextSerial()
	if pressed {
		seat.pointer.pressed = append(seat.pointer.pressed, button)
		seat.pointer.lastPressSerial = serial
	} else {
		for i, b := range seat.pointer.pressed {
			if b == button {
				seat.pointer.pressed = append(seat.pointer.pressed[:i], seat.pointer.pressed[i+1:]...)
				break
			}
		}
	}
	if seat.grab != nil {
		seat.grab.Button(time, button, pressed)
		return serial
	}

	focus := seat.pointer.focus
	if focus != nil {
		state := uint32(0)
		if pressed {
			state = 1
		}
		for _, p := range seat.pointersOf(focus.client) {
			p.Send(p.Event(pointerEventButton).Uint(serial).Uint(time).Uint(button).Uint(state))
		}
	}
	for _, fn := range seat.buttonObservers {
		fn(focus, button, pressed)
	}
	if !pressed && len(seat.pointer.pressed) == 0 && seat.grab == nil {
		seat.refocusPointer()
	}
	return serial
}

// PointerAxis delivers scrolling.
func (seat *Seat) PointerAxis(time, axis uint32, value float64) {
	focus := seat.pointer.focus
	if focus == nil || seat.grab != nil {
		return
	}
	for _, p := range seat.pointersOf(focus.client) {
		p.Send(p.Event(pointerEventAxis).Uint(time).Uint(axis).Fixed(wire.FixedFromFloat(value)))
	}
}

// PointerFrame ends a group of pointer events from one hardware event.
func (seat *Seat) PointerFrame() {
	focus := seat.pointer.focus
	if focus == nil {
		return
	}
	for _, p := range seat.pointersOf(focus.client) {
		p.frame()
	}
}
