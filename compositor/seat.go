// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package compositor

import (
	"github.com/mstarongithub/wlcore/wire"
	"github.com/sirupsen/logrus"
)

const (
	seatRequestGetPointer  = 0
	seatRequestGetKeyboard = 1
	seatRequestGetTouch    = 2
	seatRequestRelease     = 3

	seatEventCapabilities = 0
	seatEventName         = 1

	seatVersion = 5
)

// Seat capabilities.
const (
	CapabilityPointer  = 1
	CapabilityKeyboard = 2
	CapabilityTouch    = 4
)

// wl_seat error codes.
const (
	SeatErrorMissingCapability = 0
)

// HitTester is the window management policy deciding which surface is
// under a global position.
type HitTester interface {
	// SurfaceAt returns the topmost surface accepting input at x, y and the
	// position relative to it, or nil.
	SurfaceAt(x, y float64) (s *Surface, sx, sy float64)
	// SurfaceOrigin returns the global position of a shown surface.
	SurfaceOrigin(s *Surface) (x, y float64, ok bool)
}

// CursorController shows the pointer image on the host.
type CursorController interface {
	// SetCursor shows a named image from the cursor theme.
	SetCursor(name string)
	// SetSurface shows a client surface, or hides the cursor when s is nil.
	SetSurface(s *Surface, hotspotX, hotspotY int32)
}

// Seat is one group of input devices. Focus is tracked per capability and
// events go to every matching resource of the focused surface's client.
type Seat struct {
	comp   *Compositor
	name   string
	caps   uint32
	global *Global

	resources []*seatResource
	pointers  []*Pointer
	keyboards []*Keyboard
	touches   []*Touch

	pointer  pointerState
	keyboard keyboardState
	touch    touchState

	grab       Grab
	cursor     CursorController
	cursorName string

	selection   *DataSource
	dataDevices []*DataDevice

	buttonObservers []func(s *Surface, button uint32, pressed bool)
}

func newSeat(comp *Compositor, name string) *Seat {
	seat := &Seat{
		comp: comp,
		name: name,
		keyboard: keyboardState{
			repeatRate:  comp.opts.RepeatRate,
			repeatDelay: comp.opts.RepeatDelay,
			keymap:      comp.opts.Keymap,
		},
		touch: touchState{points: make(map[int32]*touchPoint)},
	}
	seat.global = comp.RegisterGlobal("wl_seat", seatVersion, seat.bind)
	return seat
}

func (seat *Seat) Name() string {
	return seat.name
}

func (seat *Seat) log() *logrus.Entry {
	return logrus.WithField("seat", seat.name)
}

func (seat *Seat) Capabilities() uint32 {
	return seat.caps
}

// SetCapabilities announces a new capability set to every bound client.
func (seat *Seat) SetCapabilities(caps uint32) {
	if caps == seat.caps {
		return
	}
	seat.caps = caps
	if caps&CapabilityPointer == 0 {
		seat.SetPointerFocus(nil, 0, 0)
	}
	if caps&CapabilityKeyboard == 0 {
		seat.SetKeyboardFocus(nil)
	}
	for _, r := range seat.resources {
		r.Send(r.Event(seatEventCapabilities).Uint(caps))
	}
}

// SetCursorController installs the host cursor.
func (seat *Seat) SetCursorController(c CursorController) {
	seat.cursor = c
}

// SetCursorImage shows a named theme cursor.
func (seat *Seat) SetCursorImage(name string) {
	seat.cursorName = name
	if seat.cursor != nil {
		seat.cursor.SetCursor(name)
	}
}

// CursorImage returns the last named cursor shown, "" while a client
// surface is the cursor.
func (seat *Seat) CursorImage() string {
	return seat.cursorName
}

// OnButton registers fn for every pointer button outside of grabs. The
// shell uses it for click to focus.
func (seat *Seat) OnButton(fn func(s *Surface, button uint32, pressed bool)) {
	seat.buttonObservers = append(seat.buttonObservers, fn)
}

// Grab returns the active grab or nil.
func (seat *Seat) Grab() Grab {
	return seat.grab
}

// StartGrab routes pointer input exclusively to g until EndGrab.
func (seat *Seat) StartGrab(g Grab) error {
	if seat.grab != nil {
		return ErrGrabActive
	}
	seat.grab = g
	return nil
}

// EndGrab ends g if it is the active grab. Focus is recomputed at the
// current pointer position.
func (seat *Seat) EndGrab(g Grab) {
	if seat.grab != g || g == nil {
		return
	}
	seat.grab = nil
	seat.refocusPointer()
}

// surfaceDestroyed clears every reference the seat holds to s.
func (seat *Seat) surfaceDestroyed(s *Surface) {
	if seat.grab != nil {
		if gs, ok := seat.grab.(interface{ surfaceGone(*Surface) }); ok {
			gs.surfaceGone(s)
		}
		if seat.grab != nil && seat.grab.Surface() == s {
			g := seat.grab
			seat.grab = nil
			g.Cancel()
		}
	}
	if seat.pointer.focus == s {
		seat.pointer.focus = nil
	}
	if seat.keyboard.focus == s {
		seat.keyboard.focus = nil
	}
	for id, p := range seat.touch.points {
		if p.surface == s {
			delete(seat.touch.points, id)
		}
	}
	if seat.pointer.cursorSurface == s {
		seat.pointer.cursorSurface = nil
	}
}

func (seat *Seat) clientDestroyed(c *Client) {
	if seat.selection != nil && seat.selection.client == c {
		seat.SetSelection(nil)
	}
}

func (seat *Seat) bind(client *Client, id, version uint32) error {
	r := &seatResource{Resource: NewResource(client, id, version), seat: seat}
	if err := client.Add(r); err != nil {
		return err
	}
	seat.resources = append(seat.resources, r)
	r.Send(r.Event(seatEventCapabilities).Uint(seat.caps))
	if version >= 2 {
		r.Send(r.Event(seatEventName).String(seat.name))
	}
	return nil
}

type seatResource struct {
	Resource
	seat *Seat
}

func (r *seatResource) Interface() string {
	return "wl_seat"
}

func (r *seatResource) Teardown() {
	for i, have := range r.seat.resources {
		if have == r {
			r.seat.resources = append(r.seat.resources[:i], r.seat.resources[i+1:]...)
			return
		}
	}
}

func (r *seatResource) Dispatch(msg *wire.Message) error {
	seat := r.seat
	if msg.Opcode == seatRequestRelease {
		r.client.Remove(r)
		return nil
	}
	dec := msg.Decoder()
	id := dec.NewID()
	if err := dec.Err(); err != nil {
		return Malformed(r.Interface(), msg.Opcode, err)
	}
	// Objects created without the capability are inert, as the seat may
	// have lost it just before the request arrived.
	switch msg.Opcode {
	case seatRequestGetPointer:
		p := &Pointer{Resource: NewResource(r.client, id, r.version), seat: seat}
		if err := r.client.Add(p); err != nil {
			return err
		}
		seat.pointers = append(seat.pointers, p)
		return nil
	case seatRequestGetKeyboard:
		k := &Keyboard{Resource: NewResource(r.client, id, r.version), seat: seat}
		if err := r.client.Add(k); err != nil {
			return err
		}
		seat.keyboards = append(seat.keyboards, k)
		k.sendKeymap()
		if k.version >= 4 {
			k.Send(k.Event(keyboardEventRepeatInfo).Int(seat.keyboard.repeatRate).Int(seat.keyboard.repeatDelay))
		}
		if f := seat.keyboard.focus; f != nil && f.client == r.client {
			k.sendEnter(seat.comp.NextSerial(), f)
		}
		return nil
	case seatRequestGetTouch:
		t := &Touch{Resource: NewResource(r.client, id, r.version), seat: seat}
		if err := r.client.Add(t); err != nil {
			return err
		}
		seat.touches = append(seat.touches, t)
		return nil
	}
	return InvalidMethod(r.Interface(), r.id, msg.Opcode)
}
