// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package compositor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOutputInfo() OutputInfo {
	return OutputInfo{
		Name:        "HEADLESS-1",
		Description: "virtual head",
		Make:        "wlcore",
		Model:       "headless",
		Modes: []Mode{
			{Width: 1024, Height: 768, Refresh: 60000},
			{Width: 1920, Height: 1080, Refresh: 60000, Preferred: true},
			{Width: 0, Height: 0},
		},
	}
}

func TestAddOutputPicksPreferredMode(t *testing.T) {
	comp := newTestCompositor()
	o := comp.AddOutput(testOutputInfo())

	assert.Equal(t, int32(1920), o.Mode().Width)
	assert.Equal(t, Rect{Width: 1920, Height: 1080}, o.Geometry())
	assert.Equal(t, o.Geometry(), o.AvailableGeometry())
	assert.Equal(t, []*Output{o}, comp.Outputs())
}

func TestOutputBindSendsStateForVersion(t *testing.T) {
	comp := newTestCompositor()
	comp.AddOutput(testOutputInfo())
	tc := newTestClient(t, comp)

	v1 := tc.bind("wl_output", 1)
	assert.Len(t, tc.events(v1, outputEventGeometry), 1)
	mode := tc.events(v1, outputEventMode)
	require.Len(t, mode, 1)
	dec := mode[0].Decoder()
	assert.Equal(t, uint32(outputModeCurrent|outputModePreferred), dec.Uint())
	assert.Equal(t, int32(1920), dec.Int())
	assert.Empty(t, tc.events(v1, outputEventScale))
	assert.Empty(t, tc.events(v1, outputEventDone))

	v4 := tc.bind("wl_output", 4)
	assert.Len(t, tc.events(v4, outputEventScale), 1)
	name := tc.events(v4, outputEventName)
	require.Len(t, name, 1)
	assert.Equal(t, "HEADLESS-1", name[0].Decoder().String())
	assert.Len(t, tc.events(v4, outputEventDescription), 1)
	assert.Len(t, tc.events(v4, outputEventDone), 1)
}

func TestOutputApply(t *testing.T) {
	comp := newTestCompositor()
	o := comp.AddOutput(testOutputInfo())
	tc := newTestClient(t, comp)
	id := tc.bind("wl_output", 4)
	tc.reset()

	err := o.Apply(OutputConfig{X: 100, Mode: Mode{Width: 1280, Height: 720, Refresh: 60000}, Scale: 2})
	require.NoError(t, err)
	assert.Equal(t, Rect{X: 100, Width: 640, Height: 360}, o.Geometry())
	assert.Equal(t, o.Geometry(), o.AvailableGeometry())
	assert.Len(t, tc.events(id, outputEventDone), 1)

	tc.reset()
	err = o.Apply(OutputConfig{Mode: Mode{Width: -5, Height: 720}})
	assert.ErrorIs(t, err, ErrInvalidMode)
	assert.Equal(t, int32(1280), o.Mode().Width)
	assert.Equal(t, int32(2), o.Config().Scale)
	assert.Empty(t, tc.rec.msgs)
}

func TestOutputTransformSwapsSize(t *testing.T) {
	comp := newTestCompositor()
	o := comp.AddOutput(testOutputInfo())
	require.NoError(t, o.Apply(OutputConfig{Mode: o.Mode(), Transform: 1}))
	assert.Equal(t, Rect{Width: 1080, Height: 1920}, o.Geometry())
}

func TestSurfaceOutputMembership(t *testing.T) {
	comp := newTestCompositor()
	a := comp.AddOutput(testOutputInfo())
	info := testOutputInfo()
	info.Name = "HEADLESS-2"
	b := comp.AddOutput(info)
	tc := newTestClient(t, comp)
	aID := tc.bind("wl_output", 4)
	sid, s := tc.mappedSurface(10, 10)

	s.SetOutputs([]*Output{a})
	enter := tc.events(sid, surfaceEventEnter)
	require.Len(t, enter, 1)
	assert.Equal(t, aID, enter[0].Decoder().Object())
	assert.Equal(t, a, s.PrimaryOutput())

	// b was never bound by the client, only the leave for a is sent.
	s.SetOutputs([]*Output{b})
	assert.Len(t, tc.events(sid, surfaceEventLeave), 1)
	assert.Len(t, tc.events(sid, surfaceEventEnter), 1)
	assert.Equal(t, b, s.PrimaryOutput())

	// Binding later sends enter for outputs the surface is already on.
	bID := tc.bindGlobal(b.global, 4)
	enter = tc.events(sid, surfaceEventEnter)
	require.Len(t, enter, 2)
	assert.Equal(t, bID, enter[1].Decoder().Object())
}

func TestRemoveOutput(t *testing.T) {
	comp := newTestCompositor()
	o := comp.AddOutput(testOutputInfo())
	tc := newTestClient(t, comp)
	oID := tc.bind("wl_output", 4)
	sid, s := tc.mappedSurface(10, 10)
	s.SetOutputs([]*Output{o})

	comp.RemoveOutput(o)
	assert.Empty(t, comp.Outputs())
	assert.Empty(t, s.Outputs())
	leave := tc.events(sid, surfaceEventLeave)
	require.Len(t, leave, 1)
	assert.Equal(t, oID, leave[0].Decoder().Object())
	assert.Len(t, tc.events(tc.registry, registryEventGlobalRemove), 1)
}
