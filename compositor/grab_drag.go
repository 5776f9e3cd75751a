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

// DragGrab is a drag and drop operation started from a button press.
type DragGrab struct {
	seat   *Seat
	source *DataSource
	origin *Surface
	icon   *Surface

	focus *Surface
	offer *DataOffer
	done  bool
}

type dragIconRole struct{}

func (dragIconRole) Role() RoleKind {
	return RoleDragIcon
}

func (dragIconRole) Configure(int32, int32, bool) {}

func (dragIconRole) Reassignable() bool {
	return true
}

// StartDrag starts dragging src from origin. A nil source limits the drag
// to the origin's client. serial must belong to the held button press on
// origin.
func (seat *Seat) StartDrag(src *DataSource, origin, icon *Surface, serial uint32) (*DragGrab, error) {
	if !seat.ValidateButtonSerial(serial) || !seat.ButtonPressed() {
		return nil, ErrStaleSerial
	}
	if rootSurface(seat.pointer.focus) != rootSurface(origin) {
		return nil, ErrNotFocused
	}
	if seat.grab != nil {
		return nil, ErrGrabActive
	}
	if icon != nil {
		if err := icon.SetRole(RoleDragIcon, dragIconRole{}); err != nil {
			return nil, err
		}
	}
	g := &DragGrab{seat: seat, source: src, origin: origin, icon: icon}
	if err := seat.StartGrab(g); err != nil {
		return nil, err
	}
	if src != nil {
		src.drag = g
	}
	// The drag takes over pointer focus from the origin.
	seat.SetPointerFocus(nil, 0, 0)
	seat.comp.drag = g
	g.Motion(0, seat.pointer.x, seat.pointer.y)
	logrus.WithField("surface", origin.id).Debugln("Drag started")
	return g, nil
}

func (g *DragGrab) Surface() *Surface {
	return g.origin
}

// Icon returns the drag icon surface, or nil.
func (g *DragGrab) Icon() *Surface {
	return g.icon
}

// Focus returns the surface the drag is over, or nil.
func (g *DragGrab) Focus() *Surface {
	return g.focus
}

func (g *DragGrab) accepts(s *Surface) bool {
	return s != nil && (g.source != nil || s.client == g.origin.client)
}

func (g *DragGrab) setFocus(s *Surface, sx, sy float64) {
	if g.focus == s {
		return
	}
	if g.focus != nil {
		for _, dev := range g.seat.dataDevicesOf(g.focus.client) {
			dev.Send(dev.Event(dataDeviceEventLeave))
		}
		g.offer = nil
	}
	g.focus = nil
	if !g.accepts(s) {
		return
	}
	devices := g.seat.dataDevicesOf(s.client)
	if len(devices) == 0 {
		return
	}
	g.focus = s
	serial := g.seat.comp.NextSerial()
	for _, dev := range devices {
		var offerID uint32
		if g.source != nil {
			if offer := dev.newOffer(g.source, true); offer != nil {
				g.offer = offer
				offerID = offer.id
			}
		}
		dev.Send(dev.Event(dataDeviceEventEnter).
			Uint(serial).
			Object(s.id).
			Fixed(wire.FixedFromFloat(sx)).
			Fixed(wire.FixedFromFloat(sy)).
			Object(offerID))
	}
}

func (g *DragGrab) Motion(time uint32, x, y float64) {
	if g.done {
		return
	}
	s, sx, sy := g.seat.comp.surfaceAt(x, y)
	if s != g.focus {
		g.setFocus(s, sx, sy)
		return
	}
	if g.focus == nil {
		return
	}
	for _, dev := range g.seat.dataDevicesOf(g.focus.client) {
		dev.Send(dev.Event(dataDeviceEventMotion).
			Uint(time).
			Fixed(wire.FixedFromFloat(sx)).
			Fixed(wire.FixedFromFloat(sy)))
	}
	g.seat.comp.Repaint()
}

// Button drops on release of the last button.
func (g *DragGrab) Button(_, _ uint32, pressed bool) {
	if g.done || pressed || g.seat.ButtonPressed() {
		return
	}
	dropped := false
	if g.focus != nil {
		for _, dev := range g.seat.dataDevicesOf(g.focus.client) {
			dev.Send(dev.Event(dataDeviceEventDrop))
		}
		dropped = true
	}
	if g.source != nil && !g.source.destroyed {
		if dropped && g.source.version >= 3 {
			g.source.Send(g.source.Event(dataSourceEventDndDropPerformed))
		} else if !dropped {
			g.source.cancel()
		}
	}
	g.setFocus(nil, 0, 0)
	g.finish()
	g.seat.EndGrab(g)
}

func (g *DragGrab) Cancel() {
	if g.done {
		return
	}
	if g.focus != nil && !g.focus.destroyed {
		g.setFocus(nil, 0, 0)
	}
	if g.source != nil {
		g.source.cancel()
	}
	g.finish()
}

func (g *DragGrab) finish() {
	g.done = true
	if g.source != nil {
		g.source.drag = nil
	}
	if g.seat.comp.drag == g {
		g.seat.comp.drag = nil
	}
	g.seat.SetCursorImage("default")
	g.seat.comp.Repaint()
	logrus.Debugln("Drag ended")
}

func (g *DragGrab) surfaceGone(s *Surface) {
	if g.focus == s {
		g.focus = nil
		g.offer = nil
	}
	if g.icon == s {
		g.icon = nil
	}
}

func (g *DragGrab) sourceGone() {
	g.source = nil
	if g.focus != nil && g.focus.client != g.origin.client {
		g.setFocus(nil, 0, 0)
	}
}
