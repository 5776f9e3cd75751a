// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package shell

import (
	"github.com/mstarongithub/wlcore/compositor"
	"github.com/mstarongithub/wlcore/wire"
	"github.com/sirupsen/logrus"
)

const (
	shellSurfaceRequestPong          = 0
	shellSurfaceRequestMove          = 1
	shellSurfaceRequestResize        = 2
	shellSurfaceRequestSetToplevel   = 3
	shellSurfaceRequestSetTransient  = 4
	shellSurfaceRequestSetFullscreen = 5
	shellSurfaceRequestSetPopup      = 6
	shellSurfaceRequestSetMaximized  = 7
	shellSurfaceRequestSetTitle      = 8
	shellSurfaceRequestSetClass      = 9

	shellSurfaceEventPing      = 0
	shellSurfaceEventConfigure = 1
	shellSurfaceEventPopupDone = 2

	transientInactive = 0x1
)

type windowKind int

const (
	kindNone = windowKind(iota)
	kindToplevel
	kindTransient
	kindPopup
	kindMaximized
	kindFullscreen
)

func (k windowKind) String() string {
	switch k {
	case kindToplevel:
		return "toplevel"
	case kindTransient:
		return "transient"
	case kindPopup:
		return "popup"
	case kindMaximized:
		return "maximized"
	case kindFullscreen:
		return "fullscreen"
	default:
		return "none"
	}
}

// Window is a wl_shell_surface: the role object of a shell surface and
// its place in the window stack.
type Window struct {
	compositor.Resource
	shell   *Shell
	surface *compositor.Surface

	kind   windowKind
	x, y   float64
	placed bool
	// saved is the geometry before the window was maximized or made
	// fullscreen.
	saved compositor.Rect

	title string
	class string

	pingSerial uint32
	gone       bool
}

func newWindow(sh *Shell, c *compositor.Client, id uint32, s *compositor.Surface) *Window {
	w := &Window{
		Resource: compositor.NewResource(c, id, shellVersion),
		shell:    sh,
		surface:  s,
	}
	s.Observe(func(_ *compositor.Surface, ev compositor.SurfaceEvent) {
		if ev == compositor.SurfaceDestroyed {
			w.unplace()
			w.gone = true
		}
	})
	return w
}

func (w *Window) Interface() string {
	return "wl_shell_surface"
}

func (w *Window) Role() compositor.RoleKind {
	return compositor.RoleShellToplevel
}

// Configure places the window when it first gets content and follows the
// attach offset afterwards.
func (w *Window) Configure(dx, dy int32, hasBuffer bool) {
	if !hasBuffer {
		w.unplace()
		return
	}
	if !w.placed {
		w.place()
	} else if dx != 0 || dy != 0 {
		w.SetPosition(w.x+float64(dx), w.y+float64(dy))
		return
	}
	w.updateOutputs()
}

func (w *Window) place() {
	w.placed = true
	switch w.kind {
	case kindTransient, kindPopup:
		w.x, w.y = w.transientOrigin()
	case kindMaximized, kindFullscreen:
	default:
		w.x, w.y = w.shell.nextOrigin()
	}
	w.shell.add(w)
	w.updateOutputs()
	logrus.WithFields(logrus.Fields{
		"surface": w.surface.ID(),
		"kind":    w.kind,
		"x":       w.x,
		"y":       w.y,
	}).Debugln("Window mapped")
	if w.kind == kindPopup || w.surface.TransientInactive() {
		w.shell.Raise(w)
		return
	}
	w.shell.Focus(w)
}

func (w *Window) unplace() {
	if !w.placed {
		return
	}
	w.placed = false
	w.shell.remove(w)
	seat := w.shell.comp.Seat()
	if seat.KeyboardFocus() == w.surface {
		w.shell.Focus(w.shell.Top())
	}
}

func (w *Window) transientOrigin() (float64, float64) {
	parent := w.surface.TransientParent()
	tx, ty := w.surface.TransientOffset()
	if x, y, ok := w.shell.SurfaceOrigin(parent); ok {
		return x + float64(tx), y + float64(ty)
	}
	return w.shell.nextOrigin()
}

func (w *Window) updateOutputs() {
	width, height := w.surface.Size()
	r := compositor.Rect{X: int32(w.x), Y: int32(w.y), Width: width, Height: height}
	outs := w.shell.outputsFor(r)
	w.surface.SetOutputs(outs)
	for _, child := range w.surface.Children() {
		if child != w.surface {
			child.SetOutputs(outs)
		}
	}
}

func (w *Window) Surface() *compositor.Surface {
	return w.surface
}

func (w *Window) Position() (float64, float64) {
	return w.x, w.y
}

// SetPosition moves w. Its transients keep their offset to it.
func (w *Window) SetPosition(x, y float64) {
	w.moveTo(x, y, make(map[*Window]bool))
}

func (w *Window) moveTo(x, y float64, moved map[*Window]bool) {
	moved[w] = true
	w.x, w.y = x, y
	w.updateOutputs()
	for _, t := range w.shell.Stack() {
		if !moved[t] && t.surface.TransientParent() == w.surface {
			tx, ty := t.transientOrigin()
			t.moveTo(tx, ty, moved)
		}
	}
	w.shell.comp.Repaint()
}

func (w *Window) Size() (int32, int32) {
	return w.surface.Size()
}

func (w *Window) Maximized() bool {
	return w.kind == kindMaximized || w.kind == kindFullscreen
}

// Restore leaves the maximized or fullscreen state and asks the client for
// its old size.
func (w *Window) Restore() (int32, int32) {
	if !w.Maximized() {
		return w.Size()
	}
	w.kind = kindToplevel
	w.configure(compositor.EdgeNone, w.saved.Width, w.saved.Height)
	return w.saved.Width, w.saved.Height
}

func (w *Window) RequestSize(edges uint32, width, height int32) {
	w.configure(edges, width, height)
}

func (w *Window) Title() string {
	return w.title
}

func (w *Window) Class() string {
	return w.class
}

// Kind names the window state, like "toplevel" or "popup".
func (w *Window) Kind() string {
	return w.kind.String()
}

// Ping checks whether the client is responsive. A later Pong clears the
// outstanding serial.
func (w *Window) Ping() uint32 {
	w.pingSerial = w.shell.comp.NextSerial()
	w.Send(w.Event(shellSurfaceEventPing).Uint(w.pingSerial))
	return w.pingSerial
}

// Responsive reports whether the last ping was answered.
func (w *Window) Responsive() bool {
	return w.pingSerial == 0
}

func (w *Window) configure(edges uint32, width, height int32) {
	if w.gone {
		return
	}
	w.Send(w.Event(shellSurfaceEventConfigure).Uint(edges).Int(width).Int(height))
}

func (w *Window) popupDone() {
	if w.kind != kindPopup {
		return
	}
	w.kind = kindTransient
	if !w.gone {
		w.Send(w.Event(shellSurfaceEventPopupDone))
	}
}

// fill maximizes or fullscreens the window on o, or on the output it is
// mostly shown on when o is nil.
func (w *Window) fill(kind windowKind, o *compositor.Output) {
	if o == nil {
		o = w.surface.PrimaryOutput()
	}
	if o == nil {
		if outs := w.shell.comp.Outputs(); len(outs) > 0 {
			o = outs[0]
		}
	}
	if !w.Maximized() {
		width, height := w.Size()
		w.saved = compositor.Rect{X: int32(w.x), Y: int32(w.y), Width: width, Height: height}
	}
	w.kind = kind
	if o == nil {
		return
	}
	area := o.Geometry()
	if kind == kindMaximized {
		area = o.AvailableGeometry()
	}
	w.x, w.y = float64(area.X), float64(area.Y)
	w.configure(compositor.EdgeNone, area.Width, area.Height)
	if w.placed {
		w.updateOutputs()
		w.shell.comp.Repaint()
	}
}

func (w *Window) unfill() {
	if !w.Maximized() {
		return
	}
	w.x, w.y = float64(w.saved.X), float64(w.saved.Y)
	w.Restore()
}

func (w *Window) Teardown() {
	w.unplace()
	w.gone = true
	w.surface.ClearRoleHandler(w)
}

func (w *Window) Dispatch(msg *wire.Message) error {
	dec := msg.Decoder()
	c := w.Client()
	switch msg.Opcode {
	case shellSurfaceRequestPong:
		serial := dec.Uint()
		if err := dec.Err(); err != nil {
			return compositor.Malformed(w.Interface(), msg.Opcode, err)
		}
		if serial == w.pingSerial {
			w.pingSerial = 0
		}
		return nil
	case shellSurfaceRequestMove:
		seatID, serial := dec.Object(), dec.Uint()
		if err := dec.Err(); err != nil {
			return compositor.Malformed(w.Interface(), msg.Opcode, err)
		}
		seat, err := compositor.LookupSeat(c, seatID)
		if err != nil {
			return err
		}
		if seat == nil {
			return compositor.Malformed(w.Interface(), msg.Opcode, wire.ErrNullNotAllowed)
		}
		if _, err := seat.StartMove(w, serial); err != nil {
			logrus.WithError(err).WithField("surface", w.surface.ID()).Debugln("Move refused")
		}
		return nil
	case shellSurfaceRequestResize:
		seatID, serial, edges := dec.Object(), dec.Uint(), dec.Uint()
		if err := dec.Err(); err != nil {
			return compositor.Malformed(w.Interface(), msg.Opcode, err)
		}
		seat, err := compositor.LookupSeat(c, seatID)
		if err != nil {
			return err
		}
		if seat == nil {
			return compositor.Malformed(w.Interface(), msg.Opcode, wire.ErrNullNotAllowed)
		}
		if _, err := seat.StartResize(w, serial, edges); err != nil {
			logrus.WithError(err).WithField("surface", w.surface.ID()).Debugln("Resize refused")
		}
		return nil
	case shellSurfaceRequestSetToplevel:
		w.unfill()
		w.kind = kindToplevel
		w.surface.SetTransient(nil, 0, 0, false)
		return nil
	case shellSurfaceRequestSetTransient:
		parentID := dec.Object()
		x, y := dec.Int(), dec.Int()
		flags := dec.Uint()
		if err := dec.Err(); err != nil {
			return compositor.Malformed(w.Interface(), msg.Opcode, err)
		}
		parent, err := compositor.LookupSurface(c, parentID)
		if err != nil {
			return err
		}
		w.unfill()
		w.kind = kindTransient
		w.surface.SetTransient(parent, x, y, flags&transientInactive != 0)
		if w.placed {
			w.SetPosition(w.transientOrigin())
		}
		return nil
	case shellSurfaceRequestSetFullscreen:
		dec.Uint() // method
		dec.Uint() // framerate
		outputID := dec.Object()
		if err := dec.Err(); err != nil {
			return compositor.Malformed(w.Interface(), msg.Opcode, err)
		}
		out, err := compositor.LookupOutput(c, outputID)
		if err != nil {
			return err
		}
		w.fill(kindFullscreen, out)
		return nil
	case shellSurfaceRequestSetPopup:
		seatID, serial, parentID := dec.Object(), dec.Uint(), dec.Object()
		x, y := dec.Int(), dec.Int()
		dec.Uint() // flags
		if err := dec.Err(); err != nil {
			return compositor.Malformed(w.Interface(), msg.Opcode, err)
		}
		seat, err := compositor.LookupSeat(c, seatID)
		if err != nil {
			return err
		}
		parent, err := compositor.LookupSurface(c, parentID)
		if err != nil {
			return err
		}
		w.unfill()
		w.kind = kindPopup
		w.surface.SetTransient(parent, x, y, true)
		if seat == nil || !seat.ValidateButtonSerial(serial) {
			w.popupDone()
		}
		return nil
	case shellSurfaceRequestSetMaximized:
		outputID := dec.Object()
		if err := dec.Err(); err != nil {
			return compositor.Malformed(w.Interface(), msg.Opcode, err)
		}
		out, err := compositor.LookupOutput(c, outputID)
		if err != nil {
			return err
		}
		w.fill(kindMaximized, out)
		return nil
	case shellSurfaceRequestSetTitle:
		title := dec.String()
		if err := dec.Err(); err != nil {
			return compositor.Malformed(w.Interface(), msg.Opcode, err)
		}
		w.title = title
		return nil
	case shellSurfaceRequestSetClass:
		class := dec.String()
		if err := dec.Err(); err != nil {
			return compositor.Malformed(w.Interface(), msg.Opcode, err)
		}
		w.class = class
		return nil
	}
	return compositor.InvalidMethod(w.Interface(), w.ID(), msg.Opcode)
}
