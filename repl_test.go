// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mstarongithub/wlcore/compositor"
	"github.com/mstarongithub/wlcore/config"
	"github.com/mstarongithub/wlcore/shell"
	"github.com/mstarongithub/wlcore/util/multiplexer"
	"github.com/mstarongithub/wlcore/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sink struct{}

func (sink) WriteMessage(*wire.Message) error { return nil }
func (sink) Close() error { return nil }

func newTestSession(t *testing.T) (*session, context.Context) {
	t.Helper()
	conf := config.Default()
	comp := compositor.New(compositorOptions(conf))
	sh := shell.New(comp)
	comp.AddOutput(headlessOutput(conf))

	events := multiplexer.NewOneToMany[compositor.Event]()
	go events.StartPlexer()
	t.Cleanup(events.CloseSender)
	comp.SetEvents(events)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = comp.Run(ctx) }()
	return &session{comp: comp, shell: sh, events: events, display: "wayland-test", stop: cancel}, ctx
}

func TestInspectOutputs(t *testing.T) {
	sess, _ := newTestSession(t)
	out, err := sess.handle("inspect outputs HEADLESS-1", nil)
	require.NoError(t, err)
	assert.Contains(t, out, "- HEADLESS-1")
	assert.Contains(t, out, "width: 1280")
	assert.Contains(t, out, "refresh_rate: 62500")

	out, err = sess.handle("inspect outputs", nil)
	require.NoError(t, err)
	assert.Contains(t, out, "outputs_found: 1")
	assert.NotContains(t, out, "output_modes")
}

func TestInspectSeatAndClients(t *testing.T) {
	sess, _ := newTestSession(t)
	out, err := sess.handle("inspect seat", nil)
	require.NoError(t, err)
	assert.Contains(t, out, "name: seat0")
	assert.Contains(t, out, "pointer_focus: null")

	_, err = onLoop(sess.comp, func() *compositor.Client {
		return sess.comp.NewClient(sink{}, sink{}, wire.Credentials{PID: 42})
	})
	require.NoError(t, err)
	out, err = sess.handle("inspect clients", nil)
	require.NoError(t, err)
	assert.Contains(t, out, "pid: 42")

	out, err = sess.handle("inspect display", nil)
	require.NoError(t, err)
	assert.Equal(t, "WAYLAND_DISPLAY=wayland-test", out)
}

func TestUnknownCommands(t *testing.T) {
	sess, _ := newTestSession(t)
	out, err := sess.handle("dance", nil)
	require.NoError(t, err)
	assert.Equal(t, "Unknown command", out)

	out, err = sess.handle("inspect nothing", nil)
	require.NoError(t, err)
	assert.Contains(t, out, "Unknown inspect target")

	out, err = sess.handle("watch -1", nil)
	require.NoError(t, err)
	assert.Contains(t, out, "positive")
}

func TestWatchPrintsEvents(t *testing.T) {
	sess, _ := newTestSession(t)
	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = sess.comp.Post(func() { sess.comp.NewClient(sink{}, sink{}, wire.Credentials{PID: 7}) })
	}()
	out, err := sess.handle("watch 0.5", nil)
	require.NoError(t, err)
	assert.Contains(t, out, "client-connected client=1")
	assert.Empty(t, sess.events.Receivers(), "watch receiver left behind")
}

func TestQuitStopsCompositor(t *testing.T) {
	sess, ctx := newTestSession(t)
	out, err := sess.handle("quit", nil)
	assert.True(t, errors.Is(err, errNormalStop))
	assert.Equal(t, "Quitting", out)
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("compositor context not cancelled")
	}
}
