// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package shell implements wl_shell and the window stack deciding where
// windows are shown and which of them gets input.
package shell

import (
	"sort"

	"github.com/mstarongithub/wlcore/compositor"
	"github.com/mstarongithub/wlcore/wire"
	"github.com/sirupsen/logrus"
)

const (
	shellVersion = 1

	shellRequestGetShellSurface = 0
)

// wl_shell error codes.
const (
	ShellErrorRole = 0
)

// Offset between the origins of consecutively opened windows.
const cascadeStep = 32

// Shell is the wl_shell global and the stack of its windows.
type Shell struct {
	comp   *compositor.Compositor
	global *compositor.Global

	// windows is ordered bottom to top.
	windows []*Window
	cascade int
}

// New registers wl_shell and installs the shell as the compositor's scene.
func New(comp *compositor.Compositor) *Shell {
	sh := &Shell{comp: comp}
	sh.global = comp.RegisterGlobal("wl_shell", shellVersion, sh.bind)
	comp.SetScene(sh, sh)
	comp.Seat().OnButton(sh.handleButton)
	return sh
}

func (sh *Shell) bind(c *compositor.Client, id, version uint32) error {
	return c.Add(&shellResource{Resource: compositor.NewResource(c, id, version), shell: sh})
}

type shellResource struct {
	compositor.Resource
	shell *Shell
}

func (r *shellResource) Interface() string {
	return "wl_shell"
}

func (r *shellResource) Teardown() {}

func (r *shellResource) Dispatch(msg *wire.Message) error {
	if msg.Opcode != shellRequestGetShellSurface {
		return compositor.InvalidMethod(r.Interface(), r.ID(), msg.Opcode)
	}
	dec := msg.Decoder()
	id := dec.NewID()
	surfaceID := dec.Object()
	if err := dec.Err(); err != nil {
		return compositor.Malformed(r.Interface(), msg.Opcode, err)
	}
	s, err := compositor.LookupSurface(r.Client(), surfaceID)
	if err != nil {
		return err
	}
	if s == nil {
		return compositor.Malformed(r.Interface(), msg.Opcode, wire.ErrNullNotAllowed)
	}
	win := newWindow(r.shell, r.Client(), id, s)
	if err := s.SetRole(compositor.RoleShellToplevel, win); err != nil {
		return compositor.NewProtocolError(r.ID(), ShellErrorRole, "wl_surface@%d already has role %s", surfaceID, s.Role())
	}
	return r.Client().Add(win)
}

// Windows returns the shown windows bottom to top.
func (sh *Shell) Windows() []compositor.Placement {
	out := make([]compositor.Placement, 0, len(sh.windows))
	for _, w := range sh.windows {
		if !w.surface.Mapped() {
			continue
		}
		out = append(out, compositor.Placement{Surface: w.surface, X: w.x, Y: w.y})
	}
	return out
}

// Stack returns every window known to the shell, bottom to top.
func (sh *Shell) Stack() []*Window {
	return append([]*Window(nil), sh.windows...)
}

// Top returns the topmost mapped window, or nil.
func (sh *Shell) Top() *Window {
	for i := len(sh.windows) - 1; i >= 0; i-- {
		if sh.windows[i].surface.Mapped() {
			return sh.windows[i]
		}
	}
	return nil
}

// SurfaceAt finds the topmost surface accepting input at a global position.
// Sub-surfaces are tested above their parents in their stacking order.
func (sh *Shell) SurfaceAt(x, y float64) (*compositor.Surface, float64, float64) {
	for i := len(sh.windows) - 1; i >= 0; i-- {
		w := sh.windows[i]
		if !w.surface.Mapped() {
			continue
		}
		if s, sx, sy := surfaceInTree(w.surface, x-w.x, y-w.y); s != nil {
			return s, sx, sy
		}
	}
	return nil, 0, 0
}

func surfaceInTree(s *compositor.Surface, x, y float64) (*compositor.Surface, float64, float64) {
	children := s.Children()
	for i := len(children) - 1; i >= 0; i-- {
		child := children[i]
		if child == s {
			if s.AcceptsInput(x, y) {
				return s, x, y
			}
			continue
		}
		sub := child.SubSurface()
		if sub == nil || !child.Mapped() {
			continue
		}
		cx, cy := sub.Position()
		if hit, sx, sy := surfaceInTree(child, x-float64(cx), y-float64(cy)); hit != nil {
			return hit, sx, sy
		}
	}
	return nil, 0, 0
}

// SurfaceOrigin returns the global position of a window surface or one of
// its sub-surfaces.
func (sh *Shell) SurfaceOrigin(s *compositor.Surface) (float64, float64, bool) {
	var x, y float64
	for s != nil {
		if w := sh.windowOf(s); w != nil {
			return x + w.x, y + w.y, true
		}
		sub := s.SubSurface()
		if sub == nil {
			return 0, 0, false
		}
		cx, cy := sub.Position()
		x += float64(cx)
		y += float64(cy)
		s = sub.Parent()
	}
	return 0, 0, false
}

func (sh *Shell) windowOf(s *compositor.Surface) *Window {
	for _, w := range sh.windows {
		if w.surface == s {
			return w
		}
	}
	return nil
}

// WindowOf returns the window whose tree contains s, or nil.
func (sh *Shell) WindowOf(s *compositor.Surface) *Window {
	for s != nil {
		if w := sh.windowOf(s); w != nil {
			return w
		}
		sub := s.SubSurface()
		if sub == nil {
			return nil
		}
		s = sub.Parent()
	}
	return nil
}

func (sh *Shell) add(w *Window) {
	sh.windows = append(sh.windows, w)
}

func (sh *Shell) remove(w *Window) {
	for i, have := range sh.windows {
		if have == w {
			sh.windows = append(sh.windows[:i], sh.windows[i+1:]...)
			break
		}
	}
	logrus.WithField("windows", len(sh.windows)).Debugln("Window removed")
	sh.comp.Repaint()
}

// Raise moves w to the top of the stack, together with its transients.
func (sh *Shell) Raise(w *Window) {
	idx := -1
	for i, have := range sh.windows {
		if have == w {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	sh.windows = append(sh.windows[:idx], sh.windows[idx+1:]...)
	sh.windows = append(sh.windows, w)
	for _, t := range sh.Stack() {
		if t != w && t.surface.TransientParent() == w.surface {
			sh.Raise(t)
		}
	}
	sh.comp.Repaint()
}

// Focus raises w and gives it keyboard focus.
func (sh *Shell) Focus(w *Window) {
	if w == nil {
		sh.comp.Seat().SetKeyboardFocus(nil)
		return
	}
	sh.Raise(w)
	sh.comp.Seat().SetKeyboardFocus(w.surface)
}

// FocusNext raises the window directly below the top one.
func (sh *Shell) FocusNext() {
	var mapped []*Window
	for _, w := range sh.windows {
		if w.surface.Mapped() {
			mapped = append(mapped, w)
		}
	}
	if len(mapped) < 2 {
		return
	}
	sh.Focus(mapped[len(mapped)-2])
}

// handleButton implements click to focus and dismisses popups of other
// clients.
func (sh *Shell) handleButton(s *compositor.Surface, _ uint32, pressed bool) {
	if !pressed {
		return
	}
	for _, w := range sh.Stack() {
		if w.kind == kindPopup && (s == nil || s.Client() != w.Client()) {
			w.popupDone()
		}
	}
	w := sh.WindowOf(s)
	if w == nil || w.kind == kindPopup {
		return
	}
	sh.Focus(w)
}

// nextOrigin returns where a new window without a parent is placed.
func (sh *Shell) nextOrigin() (float64, float64) {
	area := sh.workArea()
	x := float64(area.X) + float64(cascadeStep*(sh.cascade+1))
	y := float64(area.Y) + float64(cascadeStep*(sh.cascade+1))
	sh.cascade = (sh.cascade + 1) % 8
	return x, y
}

// workArea is the available area of the first output.
func (sh *Shell) workArea() compositor.Rect {
	outs := sh.comp.Outputs()
	if len(outs) == 0 {
		return compositor.Rect{}
	}
	return outs[0].AvailableGeometry()
}

// outputsFor returns the outputs intersecting r, the one with the largest
// overlap first.
func (sh *Shell) outputsFor(r compositor.Rect) []*compositor.Output {
	type overlap struct {
		out  *compositor.Output
		area int64
	}
	var found []overlap
	for _, o := range sh.comp.Outputs() {
		in := o.Geometry().Intersect(r)
		if in.Empty() {
			continue
		}
		found = append(found, overlap{o, int64(in.Width) * int64(in.Height)})
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].area > found[j].area })
	out := make([]*compositor.Output, len(found))
	for i, f := range found {
		out[i] = f.out
	}
	return out
}
