// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package compositor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommitIsAtomic(t *testing.T) {
	comp := newTestCompositor()
	tc := newTestClient(t, comp)
	sid, s := tc.surface()
	bid, _ := tc.buffer(64, 32, nil)

	tc.attach(sid, bid)
	tc.send(tc.request(sid, surfaceRequestSetBufferScale).Int(2))
	tc.send(tc.request(sid, surfaceRequestDamage).Int(0).Int(0).Int(100).Int(100))

	st := s.Snapshot()
	assert.Nil(t, st.Buffer, "pending buffer visible before commit")
	assert.Equal(t, int32(1), st.Scale)
	assert.False(t, s.Mapped())

	tc.commit(sid)
	st = s.Snapshot()
	defer st.Buffer.Release()
	require.True(t, st.Buffer.Valid())
	assert.Equal(t, int32(2), st.Scale)
	assert.Equal(t, int32(32), st.Width)
	assert.Equal(t, int32(16), st.Height)
	// Damage is clipped to the new size.
	assert.Equal(t, Rect{Width: 32, Height: 16}, st.Damage.Extents())
	assert.True(t, s.Mapped())
}

func TestBufferReleasedWhenReplaced(t *testing.T) {
	comp := newTestCompositor()
	tc := newTestClient(t, comp)
	sid, _ := tc.surface()
	released := 0
	b1, _ := tc.buffer(10, 10, &released)
	b2, _ := tc.buffer(10, 10, nil)

	tc.attach(sid, b1)
	tc.commit(sid)
	assert.Empty(t, tc.events(b1, bufferEventRelease))

	tc.attach(sid, b2)
	assert.Empty(t, tc.events(b1, bufferEventRelease), "release before the replacing commit")
	tc.commit(sid)
	assert.Len(t, tc.events(b1, bufferEventRelease), 1)
	assert.Equal(t, 1, released)
	assert.Empty(t, tc.events(b2, bufferEventRelease))
}

func TestBufferHeldBySnapshot(t *testing.T) {
	comp := newTestCompositor()
	tc := newTestClient(t, comp)
	sid, s := tc.surface()
	b1, _ := tc.buffer(10, 10, nil)
	b2, _ := tc.buffer(10, 10, nil)

	tc.attach(sid, b1)
	tc.commit(sid)
	snap := s.Snapshot()
	assert.Equal(t, int32(2), snap.Buffer.Buffer().Refs())

	tc.attach(sid, b2)
	tc.commit(sid)
	assert.Empty(t, tc.events(b1, bufferEventRelease), "released while a frame still uses it")

	snap.Buffer.Release()
	snap.Buffer.Release()
	assert.Len(t, tc.events(b1, bufferEventRelease), 1)
}

func TestPendingBufferReplacedBeforeCommit(t *testing.T) {
	comp := newTestCompositor()
	tc := newTestClient(t, comp)
	sid, s := tc.surface()
	b1, _ := tc.buffer(10, 10, nil)
	b2, _ := tc.buffer(20, 20, nil)

	tc.attach(sid, b1)
	tc.attach(sid, b2)
	// Never shown, so the compositor is done with it right away.
	assert.Len(t, tc.events(b1, bufferEventRelease), 1)
	tc.commit(sid)
	w, h := s.Size()
	assert.Equal(t, int32(20), w)
	assert.Equal(t, int32(20), h)
}

func TestDetachUnmaps(t *testing.T) {
	comp := newTestCompositor()
	tc := newTestClient(t, comp)
	sid, s := tc.surface()
	bid, _ := tc.buffer(10, 10, nil)

	var events []SurfaceEvent
	s.Observe(func(_ *Surface, ev SurfaceEvent) {
		if ev != SurfaceCommitted {
			events = append(events, ev)
		}
	})

	tc.attach(sid, bid)
	tc.commit(sid)
	tc.attach(sid, 0)
	tc.commit(sid)
	assert.False(t, s.Mapped())
	assert.Equal(t, []SurfaceEvent{SurfaceMapped, SurfaceUnmapped}, events)
	assert.Len(t, tc.events(bid, bufferEventRelease), 1)
}

func TestUnmapLockKeepsSurfaceMapped(t *testing.T) {
	comp := newTestCompositor()
	tc := newTestClient(t, comp)
	sid, s := tc.surface()
	bid, _ := tc.buffer(10, 10, nil)
	tc.attach(sid, bid)
	tc.commit(sid)

	lock := s.LockUnmap()
	tc.attach(sid, 0)
	tc.commit(sid)
	assert.True(t, s.Mapped(), "lock held")

	lock.Release()
	lock.Release()
	assert.False(t, s.Mapped())
	assert.Equal(t, 0, s.unmapLocks)
}

func TestDestroyWaitsForUnmapLock(t *testing.T) {
	comp := newTestCompositor()
	tc := newTestClient(t, comp)
	sid, s := tc.surface()
	bid, _ := tc.buffer(10, 10, nil)
	tc.attach(sid, bid)
	tc.commit(sid)

	lock := s.LockUnmap()
	tc.send(tc.request(sid, surfaceRequestDestroy))
	assert.True(t, s.Destroyed())
	assert.False(t, s.finalized)
	assert.Contains(t, comp.Surfaces(), s)

	lock.Release()
	assert.True(t, s.finalized)
	assert.NotContains(t, comp.Surfaces(), s)
	assert.Len(t, tc.events(bid, bufferEventRelease), 1)
}

func TestFrameCallbacksFireOnce(t *testing.T) {
	comp := newTestCompositor()
	r := &recordingRenderer{}
	comp.SetRenderer(r)
	tc := newTestClient(t, comp)
	sid, s := tc.surface()
	comp.SetScene(&stackScene{windows: []Placement{{Surface: s}}}, nil)
	bid, _ := tc.buffer(10, 10, nil)

	cb := tc.frame(sid)
	tc.attach(sid, bid)
	// Not committed yet: nothing armed.
	require.NoError(t, comp.PresentFrame(context.Background()))
	assert.Empty(t, tc.events(cb, callbackEventDone))

	tc.commit(sid)
	require.NoError(t, comp.PresentFrame(context.Background()))
	require.NoError(t, comp.PresentFrame(context.Background()))
	assert.Len(t, tc.events(cb, callbackEventDone), 1)
	assert.Len(t, tc.events(displayObjectID, displayEventDeleteID), 1)
	assert.Nil(t, tc.c.Get(cb))
}

func TestFrameCallbacksWaitForContent(t *testing.T) {
	comp := newTestCompositor()
	tc := newTestClient(t, comp)
	sid, s := tc.surface()

	cb := tc.frame(sid)
	tc.commit(sid)
	comp.SendFrameCallbacks([]*Surface{s}, 16)
	assert.Empty(t, tc.events(cb, callbackEventDone))

	bid, _ := tc.buffer(10, 10, nil)
	tc.attach(sid, bid)
	tc.commit(sid)
	comp.SendFrameCallbacks([]*Surface{s}, 32)
	require.Len(t, tc.events(cb, callbackEventDone), 1)
	assert.Equal(t, uint32(32), tc.events(cb, callbackEventDone)[0].Decoder().Uint())
}

func TestFailedFrameKeepsCallbacksArmed(t *testing.T) {
	comp := newTestCompositor()
	r := &recordingRenderer{fail: errors.New("output gone")}
	comp.SetRenderer(r)
	tc := newTestClient(t, comp)
	sid, s := tc.surface()
	comp.SetScene(&stackScene{windows: []Placement{{Surface: s}}}, nil)
	bid, _ := tc.buffer(10, 10, nil)
	cb := tc.frame(sid)
	tc.attach(sid, bid)
	tc.send(tc.request(sid, surfaceRequestDamage).Int(0).Int(0).Int(10).Int(10))
	tc.commit(sid)

	assert.Error(t, comp.PresentFrame(context.Background()))
	assert.Empty(t, tc.events(cb, callbackEventDone))
	assert.Equal(t, int32(1), s.current.Buffer.Buffer().Refs(), "frame reference leaked")

	r.fail = nil
	require.NoError(t, comp.PresentFrame(context.Background()))
	assert.Len(t, tc.events(cb, callbackEventDone), 1)
	require.Len(t, r.frames, 1)
	require.Len(t, r.frames[0], 1)
	assert.Equal(t, Rect{Width: 10, Height: 10}, r.frames[0][0].State.Damage.Extents(), "damage lost with the failed frame")
}

func TestCallbackWaitsForFrameWithItsCommit(t *testing.T) {
	comp := newTestCompositor()
	comp.SetRenderer(&recordingRenderer{})
	tc := newTestClient(t, comp)
	sid, s := tc.surface()
	comp.SetScene(&stackScene{windows: []Placement{{Surface: s}}}, nil)
	b1, _ := tc.buffer(10, 10, nil)
	b2, _ := tc.buffer(10, 10, nil)

	first := tc.frame(sid)
	tc.attach(sid, b1)
	tc.commit(sid)

	comp.rendering = true
	frame := comp.snapshotFrame()
	second := tc.frame(sid)
	tc.attach(sid, b2)
	tc.commit(sid)
	comp.frameDone(frame, PresentationCompletion{}, nil)

	assert.Len(t, tc.events(first, callbackEventDone), 1)
	assert.Empty(t, tc.events(second, callbackEventDone), "fired before its content was shown")

	require.NoError(t, comp.PresentFrame(context.Background()))
	assert.Len(t, tc.events(second, callbackEventDone), 1)
}

func TestFailedFrameRearmsInOrder(t *testing.T) {
	comp := newTestCompositor()
	tc := newTestClient(t, comp)
	sid, s := tc.surface()
	comp.SetScene(&stackScene{windows: []Placement{{Surface: s}}}, nil)
	bid, _ := tc.buffer(10, 10, nil)
	first := tc.frame(sid)
	tc.attach(sid, bid)
	tc.commit(sid)

	comp.rendering = true
	frame := comp.snapshotFrame()
	second := tc.frame(sid)
	tc.commit(sid)
	comp.frameDone(frame, PresentationCompletion{}, errors.New("lost"))

	require.Len(t, s.armed, 2)
	assert.Equal(t, first, s.armed[0].ID())
	assert.Equal(t, second, s.armed[1].ID())
}

func TestTextureImportedOnceAndReleased(t *testing.T) {
	comp := newTestCompositor()
	r := &recordingRenderer{}
	comp.SetRenderer(r)
	tc := newTestClient(t, comp)
	sid, s := tc.surface()
	comp.SetScene(&stackScene{windows: []Placement{{Surface: s}}}, nil)
	b1, _ := tc.buffer(10, 10, nil)
	b2, _ := tc.buffer(10, 10, nil)

	tc.attach(sid, b1)
	tc.commit(sid)
	require.NoError(t, comp.PresentFrame(context.Background()))
	require.NoError(t, comp.PresentFrame(context.Background()))
	assert.Equal(t, 1, r.imports)

	tc.attach(sid, b2)
	tc.commit(sid)
	assert.Equal(t, 1, r.released)
	require.NoError(t, comp.PresentFrame(context.Background()))
	assert.Equal(t, 2, r.imports)
}

func TestInvalidScaleIsProtocolError(t *testing.T) {
	comp := newTestCompositor()
	tc := newTestClient(t, comp)
	sid, _ := tc.surface()

	tc.send(tc.request(sid, surfaceRequestSetBufferScale).Int(0))
	assert.Equal(t, SurfaceErrorInvalidScale, tc.protocolError())
	assert.True(t, tc.c.Destroyed())
	assert.True(t, tc.rec.closed)
}

func TestInvalidTransformIsProtocolError(t *testing.T) {
	comp := newTestCompositor()
	tc := newTestClient(t, comp)
	sid, _ := tc.surface()

	tc.send(tc.request(sid, surfaceRequestSetBufferTransform).Int(8))
	assert.Equal(t, SurfaceErrorInvalidTransform, tc.protocolError())
}

func TestProtocolErrorOnlyAffectsOffender(t *testing.T) {
	comp := newTestCompositor()
	bad := newTestClient(t, comp)
	good := newTestClient(t, comp)
	sid, s := good.surface()
	bid, _ := good.buffer(10, 10, nil)
	good.attach(sid, bid)
	good.commit(sid)

	bad.send(bad.request(77, 0))
	assert.Equal(t, DisplayErrorInvalidObject, bad.protocolError())
	assert.True(t, bad.c.Destroyed())
	assert.False(t, good.c.Destroyed())
	assert.True(t, s.Mapped())
	assert.Len(t, comp.Clients(), 1)
}

func TestClientDestroyTearsDownEverything(t *testing.T) {
	comp := newTestCompositor()
	tc := newTestClient(t, comp)
	_, s := tc.surface()
	sid2, s2 := tc.surface()
	released := 0
	bid, _ := tc.buffer(10, 10, &released)
	tc.attach(sid2, bid)
	tc.commit(sid2)

	tc.c.Destroy()
	assert.True(t, s.Destroyed())
	assert.True(t, s2.Destroyed())
	assert.Equal(t, 1, released)
	assert.Empty(t, comp.Surfaces())
	assert.Empty(t, comp.Clients())
}

func TestRoleIsWriteOnce(t *testing.T) {
	comp := newTestCompositor()
	tc := newTestClient(t, comp)
	_, s := tc.surface()

	require.NoError(t, s.SetRole(RoleShellToplevel, nil))
	assert.ErrorIs(t, s.SetRole(RoleSubsurface, nil), ErrAlreadyHasRole)
	assert.Equal(t, RoleShellToplevel, s.Role())
}

func TestExclusiveRoles(t *testing.T) {
	comp := newTestCompositor()
	tc := newTestClient(t, comp)
	sid, a := tc.surface()
	_, b := tc.surface()

	require.NoError(t, a.SetRole(RoleLock, nil))
	assert.ErrorIs(t, b.SetRole(RoleLock, nil), ErrRoleTaken)
	assert.ErrorIs(t, a.SetRole(RoleLock, nil), ErrAlreadyHasRole)
	assert.Equal(t, a, comp.ExclusiveRoleHolder(RoleLock))

	require.NoError(t, b.SetRole(RoleDesktop, nil))

	tc.send(tc.request(sid, surfaceRequestDestroy))
	assert.Nil(t, comp.ExclusiveRoleHolder(RoleLock))
	_, c := tc.surface()
	assert.NoError(t, c.SetRole(RoleLock, nil))
}

func TestRegionOperations(t *testing.T) {
	r := RegionFromRect(Rect{Width: 10, Height: 10}).
		Subtract(Rect{X: 2, Y: 2, Width: 4, Height: 4})
	assert.Equal(t, int64(84), r.Area())
	assert.True(t, r.Contains(1, 1))
	assert.False(t, r.Contains(3, 3))
	assert.Equal(t, Rect{Width: 10, Height: 10}, r.Extents())

	r = r.Add(Rect{X: 2, Y: 2, Width: 4, Height: 4})
	assert.Equal(t, int64(100), r.Area())
	assert.True(t, Region{}.Empty())
}

func TestInputRegionLimitsHitTesting(t *testing.T) {
	comp := newTestCompositor()
	tc := newTestClient(t, comp)
	sid, s := tc.surface()
	bid, _ := tc.buffer(100, 100, nil)

	compID := tc.bind("wl_compositor", compositorVersion)
	rid := tc.newID()
	tc.send(tc.request(compID, compositorRequestCreateRegion).NewID(rid))
	tc.send(tc.request(rid, regionRequestAdd).Int(0).Int(0).Int(50).Int(50))
	tc.send(tc.request(sid, surfaceRequestSetInputRegion).Object(rid))
	tc.attach(sid, bid)
	tc.commit(sid)

	assert.True(t, s.AcceptsInput(10, 10))
	assert.False(t, s.AcceptsInput(75, 75))
	assert.False(t, s.AcceptsInput(150, 10))

	tc.send(tc.request(sid, surfaceRequestSetInputRegion).Object(0))
	tc.commit(sid)
	assert.True(t, s.AcceptsInput(75, 75))
}

func TestDamageBufferScales(t *testing.T) {
	comp := newTestCompositor()
	tc := newTestClient(t, comp)
	sid, s := tc.surface()
	bid, _ := tc.buffer(100, 100, nil)
	tc.attach(sid, bid)
	tc.send(tc.request(sid, surfaceRequestSetBufferScale).Int(2))
	tc.send(tc.request(sid, surfaceRequestDamageBuffer).Int(1).Int(1).Int(3).Int(3))
	tc.commit(sid)

	assert.Equal(t, Rect{X: 0, Y: 0, Width: 2, Height: 2}, s.takeDamage().Extents())
	assert.True(t, s.takeDamage().Empty())
}
