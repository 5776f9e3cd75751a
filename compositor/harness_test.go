// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package compositor

import (
	"context"
	"testing"
	"time"

	"github.com/mstarongithub/wlcore/wire"
	"github.com/stretchr/testify/require"
)

// recorder collects every event sent to a client.
type recorder struct {
	msgs   []*wire.Message
	closed bool
}

func (r *recorder) WriteMessage(m *wire.Message) error {
	r.msgs = append(r.msgs, m)
	return nil
}

func (r *recorder) Close() error {
	r.closed = true
	return nil
}

// fdList feeds fd arguments to a decoded request.
type fdList []int

func (l *fdList) NextFD() (int, bool) {
	if len(*l) == 0 {
		return -1, false
	}
	fd := (*l)[0]
	*l = (*l)[1:]
	return fd, true
}

type testClient struct {
	t      *testing.T
	comp   *Compositor
	c      *Client
	rec    *recorder
	nextID uint32

	registry uint32
}

func newTestClient(t *testing.T, comp *Compositor) *testClient {
	rec := &recorder{}
	tc := &testClient{t: t, comp: comp, rec: rec, nextID: 2}
	tc.c = comp.NewClient(rec, rec, wire.Credentials{PID: 42, UID: 1000, GID: 1000})
	return tc
}

func newTestCompositor() *Compositor {
	return New(Options{})
}

func (tc *testClient) newID() uint32 {
	id := tc.nextID
	tc.nextID++
	return id
}

func (tc *testClient) request(obj uint32, opcode uint16) *wire.Builder {
	return wire.NewMessage(obj, opcode)
}

func (tc *testClient) send(b *wire.Builder) {
	msg := b.Message()
	fds := fdList(msg.FDs)
	msg.WithFDs(&fds)
	tc.c.Dispatch(msg)
}

// bind binds the first global with the given interface at version.
func (tc *testClient) bind(iface string, version uint32) uint32 {
	for _, g := range tc.comp.Globals() {
		if g.Interface == iface {
			return tc.bindGlobal(g, version)
		}
	}
	tc.t.Fatalf("no global %s", iface)
	return 0
}

func (tc *testClient) bindGlobal(g *Global, version uint32) uint32 {
	if tc.registry == 0 {
		tc.registry = tc.newID()
		tc.send(tc.request(displayObjectID, displayRequestGetRegistry).NewID(tc.registry))
	}
	id := tc.newID()
	tc.send(tc.request(tc.registry, registryRequestBind).
		Uint(g.Name).String(g.Interface).Uint(version).NewID(id))
	return id
}

func (tc *testClient) surface() (uint32, *Surface) {
	comp := tc.bind("wl_compositor", compositorVersion)
	id := tc.newID()
	tc.send(tc.request(comp, compositorRequestCreateSurface).NewID(id))
	s, ok := tc.c.Get(id).(*Surface)
	require.True(tc.t, ok, "surface %d not created", id)
	return id, s
}

// buffer registers a hardware backed wl_buffer. released counts backing
// releases.
func (tc *testClient) buffer(w, h int32, released *int) (uint32, *Buffer) {
	id := tc.newID()
	hw := &HardwareBacking{Width: w, Height: h}
	if released != nil {
		hw.Release = func() { *released++ }
	}
	b, err := NewBuffer(tc.c, id, hw)
	require.NoError(tc.t, err)
	return id, b
}

func (tc *testClient) attach(surface, buffer uint32) {
	tc.send(tc.request(surface, surfaceRequestAttach).Object(buffer).Int(0).Int(0))
}

func (tc *testClient) commit(surface uint32) {
	tc.send(tc.request(surface, surfaceRequestCommit))
}

func (tc *testClient) frame(surface uint32) uint32 {
	id := tc.newID()
	tc.send(tc.request(surface, surfaceRequestFrame).NewID(id))
	return id
}

// events returns the events sent from obj with the given opcode.
func (tc *testClient) events(obj uint32, opcode uint16) []*wire.Message {
	var out []*wire.Message
	for _, m := range tc.rec.msgs {
		if m.Sender == obj && m.Opcode == opcode {
			out = append(out, m)
		}
	}
	return out
}

// protocolError returns the code of the wl_display.error the client got,
// or -1.
func (tc *testClient) protocolError() int {
	errs := tc.events(displayObjectID, displayEventError)
	if len(errs) == 0 {
		return -1
	}
	dec := errs[0].Decoder()
	dec.Object()
	return int(dec.Uint())
}

func (tc *testClient) reset() {
	tc.rec.msgs = nil
}

// stackScene shows a fixed list of root surfaces at fixed positions and
// hit tests them top down.
type stackScene struct {
	windows []Placement
}

func (sc *stackScene) Windows() []Placement {
	return sc.windows
}

func (sc *stackScene) SurfaceAt(x, y float64) (*Surface, float64, float64) {
	for i := len(sc.windows) - 1; i >= 0; i-- {
		w := sc.windows[i]
		if w.Surface.destroyed || !w.Surface.mapped {
			continue
		}
		sx, sy := x-w.X, y-w.Y
		if w.Surface.AcceptsInput(sx, sy) {
			return w.Surface, sx, sy
		}
	}
	return nil, 0, 0
}

func (sc *stackScene) SurfaceOrigin(s *Surface) (float64, float64, bool) {
	for _, w := range sc.windows {
		if w.Surface == s {
			return w.X, w.Y, true
		}
	}
	return 0, 0, false
}

// recordingRenderer presents synchronously and remembers the surfaces of
// the last frame.
type recordingRenderer struct {
	frames   [][]Placement
	imports  int
	released int
	fail     error
}

func (r *recordingRenderer) ImportBuffer(BufferHandle) (Texture, error) {
	r.imports++
	return r.imports, nil
}

func (r *recordingRenderer) ReleaseTexture(Texture) {
	r.released++
}

func (r *recordingRenderer) Present(_ context.Context, frame []Placement) (PresentationCompletion, error) {
	if r.fail != nil {
		return PresentationCompletion{}, r.fail
	}
	for _, p := range frame {
		if p.State.Buffer.Valid() {
			_, _ = p.State.Buffer.Buffer().Texture(r)
		}
	}
	r.frames = append(r.frames, frame)
	return PresentationCompletion{Time: time.Now()}, nil
}
