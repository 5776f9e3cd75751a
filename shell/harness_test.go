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
	"github.com/stretchr/testify/require"
)

// Core protocol opcodes used by the tests.
const (
	displayID             = 1
	displayGetRegistry    = 1
	displayEventError     = 0
	registryBind          = 0
	compositorCreateSurf  = 0
	surfaceDestroy        = 0
	surfaceAttach         = 1
	surfaceCommit         = 6
	subcompositorGetSub   = 1
	subsurfaceSetPosition = 1
	seatGetPointer        = 0
)

type recorder struct {
	msgs []*wire.Message
}

func (r *recorder) WriteMessage(m *wire.Message) error {
	r.msgs = append(r.msgs, m)
	return nil
}

func (r *recorder) Close() error {
	return nil
}

type testClient struct {
	t        *testing.T
	comp     *compositor.Compositor
	c        *compositor.Client
	rec      *recorder
	nextID   uint32
	registry uint32
	bound    map[string]uint32
}

func newTestClient(t *testing.T, comp *compositor.Compositor) *testClient {
	rec := &recorder{}
	return &testClient{
		t:      t,
		comp:   comp,
		c:      comp.NewClient(rec, rec, wire.Credentials{PID: 7}),
		rec:    rec,
		nextID: 2,
		bound:  make(map[string]uint32),
	}
}

func (tc *testClient) newID() uint32 {
	id := tc.nextID
	tc.nextID++
	return id
}

func (tc *testClient) send(obj uint32, opcode uint16, args func(b *wire.Builder)) {
	b := wire.NewMessage(obj, opcode)
	if args != nil {
		args(b)
	}
	tc.c.Dispatch(b.Message())
}

// global binds iface once and returns the object id.
func (tc *testClient) global(iface string, version uint32) uint32 {
	if id, ok := tc.bound[iface]; ok {
		return id
	}
	if tc.registry == 0 {
		tc.registry = tc.newID()
		tc.send(displayID, displayGetRegistry, func(b *wire.Builder) { b.NewID(tc.registry) })
	}
	for _, g := range tc.comp.Globals() {
		if g.Interface != iface {
			continue
		}
		id := tc.newID()
		tc.send(tc.registry, registryBind, func(b *wire.Builder) {
			b.Uint(g.Name).String(iface).Uint(version).NewID(id)
		})
		tc.bound[iface] = id
		return id
	}
	tc.t.Fatalf("no global %s", iface)
	return 0
}

func (tc *testClient) surface() (uint32, *compositor.Surface) {
	comp := tc.global("wl_compositor", 5)
	id := tc.newID()
	tc.send(comp, compositorCreateSurf, func(b *wire.Builder) { b.NewID(id) })
	s, ok := tc.c.Get(id).(*compositor.Surface)
	require.True(tc.t, ok)
	return id, s
}

// window creates a surface with a wl_shell_surface. It is not mapped yet.
func (tc *testClient) window() (uint32, uint32, *compositor.Surface) {
	sid, s := tc.surface()
	shell := tc.global("wl_shell", shellVersion)
	wid := tc.newID()
	tc.send(shell, shellRequestGetShellSurface, func(b *wire.Builder) { b.NewID(wid).Object(sid) })
	return sid, wid, s
}

// show attaches a fresh w x h buffer and commits.
func (tc *testClient) show(sid uint32, w, h int32) {
	bid := tc.newID()
	_, err := compositor.NewBuffer(tc.c, bid, &compositor.HardwareBacking{Width: w, Height: h})
	require.NoError(tc.t, err)
	tc.send(sid, surfaceAttach, func(b *wire.Builder) { b.Object(bid).Int(0).Int(0) })
	tc.send(sid, surfaceCommit, nil)
}

func (tc *testClient) hide(sid uint32) {
	tc.send(sid, surfaceAttach, func(b *wire.Builder) { b.Object(0).Int(0).Int(0) })
	tc.send(sid, surfaceCommit, nil)
}

func (tc *testClient) events(obj uint32, opcode uint16) []*wire.Message {
	var out []*wire.Message
	for _, m := range tc.rec.msgs {
		if m.Sender == obj && m.Opcode == opcode {
			out = append(out, m)
		}
	}
	return out
}

func (tc *testClient) protocolError() int {
	errs := tc.events(displayID, displayEventError)
	if len(errs) == 0 {
		return -1
	}
	dec := errs[0].Decoder()
	dec.Object()
	return int(dec.Uint())
}

func newTestShell() (*compositor.Compositor, *Shell) {
	comp := compositor.New(compositor.Options{})
	comp.AddOutput(compositor.OutputInfo{
		Name:  "HEADLESS-1",
		Modes: []compositor.Mode{{Width: 1920, Height: 1080, Refresh: 60000}},
	})
	return comp, New(comp)
}
