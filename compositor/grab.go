// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package compositor

import (
	"math"
)

// Grab takes over pointer input while it is active on a seat.
type Grab interface {
	Motion(time uint32, x, y float64)
	Button(time, button uint32, pressed bool)
	// Cancel ends the grab without a button release, for example because
	// its surface went away. The seat has already dropped the grab.
	Cancel()
	// Surface is the surface the grab operates on.
	Surface() *Surface
}

// Window is what interactive move and resize operate on. Shells implement
// it for their toplevels.
type Window interface {
	Surface() *Surface
	Position() (x, y float64)
	SetPosition(x, y float64)
	Size() (w, h int32)
	Maximized() bool
	// Restore leaves the maximized state and returns the size the window
	// had before.
	Restore() (w, h int32)
	// RequestSize asks the client for a new size during an interactive
	// resize from the given edges.
	RequestSize(edges uint32, w, h int32)
}

// Resize edges, as used by wl_shell_surface.resize.
const (
	EdgeNone   = 0
	EdgeTop    = 1
	EdgeBottom = 2
	EdgeLeft   = 4
	EdgeRight  = 8
)

// rootSurface walks up sub-surface parents.
func rootSurface(s *Surface) *Surface {
	for s != nil && s.parentSurface() != nil {
		s = s.parentSurface()
	}
	return s
}

// checkGrabStart validates a move or resize request for win.
func (seat *Seat) checkGrabStart(win Window, serial uint32) error {
	if !seat.ValidateButtonSerial(serial) || !seat.ButtonPressed() {
		return ErrStaleSerial
	}
	if rootSurface(seat.pointer.focus) != win.Surface() {
		return ErrNotFocused
	}
	if seat.grab != nil {
		return ErrGrabActive
	}
	return nil
}

// endsGrab reports whether a button event finishes an interactive grab:
// the left button went up, or the last held button did.
func (seat *Seat) endsGrab(button uint32, pressed bool) bool {
	return !pressed && (button == BtnLeft || len(seat.pointer.pressed) == 0)
}

func distance(x0, y0, x1, y1 float64) float64 {
	return math.Hypot(x1-x0, y1-y0)
}
