// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package shell

import (
	"testing"

	"github.com/mstarongithub/wlcore/compositor"
	"github.com/mstarongithub/wlcore/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapPlacesAndFocuses(t *testing.T) {
	comp, sh := newTestShell()
	tc := newTestClient(t, comp)
	aID, _, a := tc.window()
	tc.show(aID, 100, 100)

	win := sh.WindowOf(a)
	require.NotNil(t, win)
	x, y := win.Position()
	assert.Equal(t, 32.0, x)
	assert.Equal(t, 32.0, y)
	assert.Equal(t, a, comp.Seat().KeyboardFocus())
	assert.Equal(t, comp.Outputs(), a.Outputs())
	assert.Equal(t, "none", win.Kind())

	bID, _, b := tc.window()
	tc.show(bID, 100, 100)
	x, _ = sh.WindowOf(b).Position()
	assert.Equal(t, 64.0, x, "windows cascade")
	assert.Equal(t, b, comp.Seat().KeyboardFocus())
	require.Len(t, sh.Windows(), 2)
	assert.Equal(t, b, sh.Windows()[1].Surface)
}

func TestUnmapRefocusesTop(t *testing.T) {
	comp, sh := newTestShell()
	tc := newTestClient(t, comp)
	aID, _, a := tc.window()
	tc.show(aID, 100, 100)
	bID, _, _ := tc.window()
	tc.show(bID, 100, 100)

	tc.hide(bID)
	assert.Len(t, sh.Windows(), 1)
	assert.Equal(t, a, comp.Seat().KeyboardFocus())

	tc.send(aID, surfaceDestroy, nil)
	assert.Empty(t, sh.Windows())
	assert.Nil(t, comp.Seat().KeyboardFocus())
}

func TestWindowWithoutContentIsNotShown(t *testing.T) {
	comp, sh := newTestShell()
	tc := newTestClient(t, comp)
	sid, _, s := tc.window()
	tc.send(sid, surfaceCommit, nil)

	assert.Empty(t, sh.Windows())
	assert.Nil(t, sh.WindowOf(s))
	assert.Nil(t, sh.Top())
}

func TestShellSurfaceNeedsFreshSurface(t *testing.T) {
	comp, _ := newTestShell()
	tc := newTestClient(t, comp)
	sid, s := tc.surface()
	require.NoError(t, s.SetRole(compositor.RoleCursor, nil))

	shell := tc.global("wl_shell", shellVersion)
	tc.send(shell, shellRequestGetShellSurface, func(b *wire.Builder) { b.NewID(tc.newID()).Object(sid) })
	assert.Equal(t, ShellErrorRole, tc.protocolError())
}

func TestHitTestingIncludesSubsurfaces(t *testing.T) {
	comp, sh := newTestShell()
	tc := newTestClient(t, comp)
	pid, _, parent := tc.window()
	tc.show(pid, 100, 100)

	cid, child := tc.surface()
	sc := tc.global("wl_subcompositor", 1)
	subID := tc.newID()
	tc.send(sc, subcompositorGetSub, func(b *wire.Builder) { b.NewID(subID).Object(cid).Object(pid) })
	tc.send(subID, subsurfaceSetPosition, func(b *wire.Builder) { b.Int(90).Int(90) })
	tc.show(cid, 20, 20)
	tc.send(pid, surfaceCommit, nil)
	require.True(t, child.Mapped())

	// Window origin is 32,32.
	s, sx, sy := sh.SurfaceAt(32+100, 32+100)
	assert.Equal(t, child, s)
	assert.Equal(t, 10.0, sx)
	assert.Equal(t, 10.0, sy)

	s, sx, _ = sh.SurfaceAt(32+50, 32+50)
	assert.Equal(t, parent, s)
	assert.Equal(t, 50.0, sx)

	s, _, _ = sh.SurfaceAt(32+200, 32+200)
	assert.Nil(t, s)

	x, y, ok := sh.SurfaceOrigin(child)
	require.True(t, ok)
	assert.Equal(t, 122.0, x)
	assert.Equal(t, 122.0, y)
	assert.Equal(t, sh.WindowOf(parent), sh.WindowOf(child))
	assert.Equal(t, comp.Outputs(), child.Outputs())
}

func TestClickRaisesAndFocuses(t *testing.T) {
	comp, sh := newTestShell()
	tc := newTestClient(t, comp)
	aID, _, a := tc.window()
	tc.show(aID, 100, 100)
	bID, _, b := tc.window()
	tc.show(bID, 100, 100)
	seat := comp.Seat()

	// a spans 32..132, b spans 64..164. 40,40 is only covered by a.
	seat.PointerMotion(1, 40, 40)
	assert.Equal(t, a, seat.PointerFocus())
	seat.PointerButton(2, compositor.BtnLeft, true)
	seat.PointerButton(3, compositor.BtnLeft, false)

	assert.Equal(t, a, seat.KeyboardFocus())
	assert.Equal(t, sh.WindowOf(a), sh.Top())
	s, _, _ := sh.SurfaceAt(100, 100)
	assert.Equal(t, a, s)

	sh.FocusNext()
	assert.Equal(t, b, seat.KeyboardFocus())
}

func TestTransientsRaiseWithParent(t *testing.T) {
	comp, sh := newTestShell()
	tc := newTestClient(t, comp)
	pid, _, parent := tc.window()
	tc.show(pid, 100, 100)
	tid, tw, transient := tc.window()
	tc.send(tw, shellSurfaceRequestSetTransient, func(b *wire.Builder) {
		b.Object(pid).Int(10).Int(20).Uint(transientInactive)
	})
	tc.show(tid, 50, 50)
	oid, _, _ := tc.window()
	tc.show(oid, 100, 100)

	win := sh.WindowOf(transient)
	x, y := win.Position()
	assert.Equal(t, 42.0, x)
	assert.Equal(t, 52.0, y)
	assert.Equal(t, "transient", win.Kind())

	sh.Focus(sh.WindowOf(parent))
	stack := sh.Stack()
	require.Len(t, stack, 3)
	assert.Equal(t, parent, stack[1].Surface())
	assert.Equal(t, transient, stack[2].Surface())
}

func TestMaximizeAndRestore(t *testing.T) {
	comp, sh := newTestShell()
	tc := newTestClient(t, comp)
	sid, wid, s := tc.window()
	tc.show(sid, 300, 200)
	win := sh.WindowOf(s)

	tc.send(wid, shellSurfaceRequestSetMaximized, func(b *wire.Builder) { b.Object(0) })
	assert.True(t, win.Maximized())
	x, y := win.Position()
	assert.Equal(t, 0.0, x)
	assert.Equal(t, 0.0, y)
	cfg := tc.events(wid, shellSurfaceEventConfigure)
	require.Len(t, cfg, 1)
	dec := cfg[0].Decoder()
	dec.Uint()
	assert.Equal(t, int32(1920), dec.Int())
	assert.Equal(t, int32(1080), dec.Int())

	tc.send(wid, shellSurfaceRequestSetToplevel, nil)
	assert.False(t, win.Maximized())
	x, y = win.Position()
	assert.Equal(t, 32.0, x)
	assert.Equal(t, 32.0, y)
	cfg = tc.events(wid, shellSurfaceEventConfigure)
	require.Len(t, cfg, 2)
	dec = cfg[1].Decoder()
	dec.Uint()
	assert.Equal(t, int32(300), dec.Int())
	assert.Equal(t, int32(200), dec.Int())
}

func TestMaximizeUsesAvailableArea(t *testing.T) {
	comp, sh := newTestShell()
	comp.Outputs()[0].SetAvailableGeometry(compositor.Rect{Y: 30, Width: 1920, Height: 1050})
	tc := newTestClient(t, comp)
	sid, wid, s := tc.window()
	tc.show(sid, 300, 200)

	tc.send(wid, shellSurfaceRequestSetMaximized, func(b *wire.Builder) { b.Object(0) })
	_, y := sh.WindowOf(s).Position()
	assert.Equal(t, 30.0, y)

	tc.send(wid, shellSurfaceRequestSetFullscreen, func(b *wire.Builder) { b.Uint(0).Uint(0).Object(0) })
	_, y = sh.WindowOf(s).Position()
	assert.Equal(t, 0.0, y)
	assert.Equal(t, "fullscreen", sh.WindowOf(s).Kind())
}

func TestPopupWithStaleSerialIsDismissed(t *testing.T) {
	comp, _ := newTestShell()
	tc := newTestClient(t, comp)
	pid, _, _ := tc.window()
	tc.show(pid, 100, 100)
	_, popup, _ := tc.window()
	seat := tc.global("wl_seat", 5)

	tc.send(popup, shellSurfaceRequestSetPopup, func(b *wire.Builder) {
		b.Object(seat).Uint(12345).Object(pid).Int(5).Int(5).Uint(0)
	})
	assert.Len(t, tc.events(popup, shellSurfaceEventPopupDone), 1)
}

func TestPopupDismissedByOtherClientClick(t *testing.T) {
	comp, sh := newTestShell()
	a := newTestClient(t, comp)
	b := newTestClient(t, comp)
	seat := comp.Seat()

	pid, _, parent := a.window()
	a.show(pid, 100, 100)
	bID, _, _ := b.window()
	b.show(bID, 300, 300)
	sh.Focus(sh.WindowOf(parent))

	seat.PointerMotion(1, 40, 40)
	serial := seat.PointerButton(2, compositor.BtnRight, true)
	popID, popup, popSurface := a.window()
	seatID := a.global("wl_seat", 5)
	a.send(popup, shellSurfaceRequestSetPopup, func(msg *wire.Builder) {
		msg.Object(seatID).Uint(serial).Object(pid).Int(10).Int(10).Uint(0)
	})
	a.show(popID, 50, 50)
	seat.PointerButton(3, compositor.BtnRight, false)
	require.Empty(t, a.events(popup, shellSurfaceEventPopupDone))
	assert.Equal(t, "popup", sh.WindowOf(popSurface).Kind())
	assert.Equal(t, parent, seat.KeyboardFocus(), "popup took keyboard focus")

	seat.PointerMotion(4, 300, 300)
	seat.PointerButton(5, compositor.BtnLeft, true)
	assert.Len(t, a.events(popup, shellSurfaceEventPopupDone), 1)
}

func TestMoveRequest(t *testing.T) {
	comp, sh := newTestShell()
	tc := newTestClient(t, comp)
	sid, wid, s := tc.window()
	tc.show(sid, 100, 100)
	seat := comp.Seat()
	seatID := tc.global("wl_seat", 5)

	seat.PointerMotion(1, 50, 50)
	serial := seat.PointerButton(2, compositor.BtnLeft, true)
	tc.send(wid, shellSurfaceRequestMove, func(b *wire.Builder) { b.Object(seatID).Uint(serial) })
	require.NotNil(t, seat.Grab())

	seat.PointerMotion(3, 150, 250)
	x, y := sh.WindowOf(s).Position()
	assert.Equal(t, 132.0, x)
	assert.Equal(t, 232.0, y)

	seat.PointerButton(4, compositor.BtnLeft, false)
	assert.Nil(t, seat.Grab())
}

func TestTransientsFollowMovedParent(t *testing.T) {
	comp, sh := newTestShell()
	tc := newTestClient(t, comp)
	pid, wid, parent := tc.window()
	tc.show(pid, 100, 100)
	tid, tw, transient := tc.window()
	tc.send(tw, shellSurfaceRequestSetTransient, func(b *wire.Builder) {
		b.Object(pid).Int(10).Int(20).Uint(transientInactive)
	})
	tc.show(tid, 50, 50)
	nid, nw, nested := tc.window()
	tc.send(nw, shellSurfaceRequestSetTransient, func(b *wire.Builder) {
		b.Object(tid).Int(5).Int(5).Uint(transientInactive)
	})
	tc.show(nid, 20, 20)
	seat := comp.Seat()
	seatID := tc.global("wl_seat", 5)

	seat.PointerMotion(1, 120, 120)
	serial := seat.PointerButton(2, compositor.BtnLeft, true)
	tc.send(wid, shellSurfaceRequestMove, func(b *wire.Builder) { b.Object(seatID).Uint(serial) })
	require.NotNil(t, seat.Grab())
	seat.PointerMotion(3, 220, 320)
	seat.PointerButton(4, compositor.BtnLeft, false)

	px, py := sh.WindowOf(parent).Position()
	assert.Equal(t, 132.0, px)
	assert.Equal(t, 232.0, py)
	tx, ty := sh.WindowOf(transient).Position()
	assert.Equal(t, px+10, tx)
	assert.Equal(t, py+20, ty)
	nx, ny := sh.WindowOf(nested).Position()
	assert.Equal(t, tx+5, nx)
	assert.Equal(t, ty+5, ny)
}

func TestMoveWithStaleSerialIsIgnored(t *testing.T) {
	comp, _ := newTestShell()
	tc := newTestClient(t, comp)
	sid, wid, _ := tc.window()
	tc.show(sid, 100, 100)
	seat := comp.Seat()
	seatID := tc.global("wl_seat", 5)
	seat.PointerMotion(1, 50, 50)
	serial := seat.PointerButton(2, compositor.BtnLeft, true)

	tc.send(wid, shellSurfaceRequestMove, func(b *wire.Builder) { b.Object(seatID).Uint(serial + 1) })
	assert.Nil(t, seat.Grab())
	assert.Equal(t, -1, tc.protocolError())
}

func TestResizeRequestConfigures(t *testing.T) {
	comp, _ := newTestShell()
	tc := newTestClient(t, comp)
	sid, wid, _ := tc.window()
	tc.show(sid, 100, 100)
	seat := comp.Seat()
	seatID := tc.global("wl_seat", 5)
	seat.PointerMotion(1, 100, 100)
	serial := seat.PointerButton(2, compositor.BtnLeft, true)

	tc.send(wid, shellSurfaceRequestResize, func(b *wire.Builder) {
		b.Object(seatID).Uint(serial).Uint(compositor.EdgeRight | compositor.EdgeBottom)
	})
	seat.PointerMotion(3, 130, 110)
	cfg := tc.events(wid, shellSurfaceEventConfigure)
	require.Len(t, cfg, 1)
	dec := cfg[0].Decoder()
	assert.Equal(t, uint32(compositor.EdgeRight|compositor.EdgeBottom), dec.Uint())
	assert.Equal(t, int32(130), dec.Int())
	assert.Equal(t, int32(110), dec.Int())
}

func TestPingPong(t *testing.T) {
	comp, sh := newTestShell()
	tc := newTestClient(t, comp)
	sid, wid, s := tc.window()
	tc.show(sid, 10, 10)
	win := sh.WindowOf(s)

	serial := win.Ping()
	assert.False(t, win.Responsive())
	require.Len(t, tc.events(wid, shellSurfaceEventPing), 1)

	tc.send(wid, shellSurfaceRequestPong, func(b *wire.Builder) { b.Uint(serial) })
	assert.True(t, win.Responsive())
}

func TestTitleAndClass(t *testing.T) {
	comp, sh := newTestShell()
	tc := newTestClient(t, comp)
	sid, wid, s := tc.window()
	tc.send(wid, shellSurfaceRequestSetTitle, func(b *wire.Builder) { b.String("terminal") })
	tc.send(wid, shellSurfaceRequestSetClass, func(b *wire.Builder) { b.String("foot") })
	tc.show(sid, 10, 10)

	win := sh.WindowOf(s)
	assert.Equal(t, "terminal", win.Title())
	assert.Equal(t, "foot", win.Class())
}
