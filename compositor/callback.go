// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package compositor

import (
	"github.com/mstarongithub/wlcore/wire"
)

// Callback is wl_callback as created by wl_surface.frame.
type Callback struct {
	Resource
	done bool
}

func (c *Callback) Interface() string {
	return "wl_callback"
}

func (c *Callback) Dispatch(msg *wire.Message) error {
	return InvalidMethod(c.Interface(), c.id, msg.Opcode)
}

func (c *Callback) Teardown() {
	c.done = true
}

// Done fires the callback and destroys it. Later calls do nothing.
func (c *Callback) Done(data uint32) {
	if c.done {
		return
	}
	c.Send(c.Event(callbackEventDone).Uint(data))
	c.client.Remove(c)
}

// SendFrameCallbacks fires the armed frame callbacks of every shown surface
// that has content. Surfaces without a buffer keep theirs armed.
func (comp *Compositor) SendFrameCallbacks(shown []*Surface, ms uint32) {
	for _, s := range shown {
		if s.destroyed || !s.hasContent() {
			continue
		}
		armed := s.armed
		s.armed = nil
		for _, cb := range armed {
			cb.Done(ms)
		}
	}
}

// rearm puts callbacks of a frame that was not shown back in front of the
// ones armed since.
func (s *Surface) rearm(callbacks []*Callback) {
	if len(callbacks) == 0 {
		return
	}
	if s.destroyed {
		dropCallbacks(callbacks)
		return
	}
	s.armed = append(callbacks, s.armed...)
}

func dropCallbacks(callbacks []*Callback) {
	for _, cb := range callbacks {
		if !cb.done {
			cb.client.Remove(cb)
		}
	}
}
