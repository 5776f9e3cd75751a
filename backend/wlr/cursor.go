// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package wlr

import (
	"sync"

	"github.com/mstarongithub/wlcore/compositor"
)

const defaultCursor = "default"

// cursorImage carries cursor requests from the dispatch loop to the
// wlroots goroutine, which owns the wlr_cursor.
type cursorImage struct {
	mu      sync.Mutex
	name    string
	visible bool
	changed bool
}

func (c *cursorImage) SetCursor(name string) {
	if name == "" {
		name = defaultCursor
	}
	c.set(name, true)
}

// SetSurface is called for client cursor surfaces. Client pixels only reach
// the compositor's renderer, so the host keeps the theme arrow for them and
// hides the cursor when the client asks for no image at all.
func (c *cursorImage) SetSurface(s *compositor.Surface, _, _ int32) {
	if s == nil {
		c.set("", false)
		return
	}
	c.set(defaultCursor, true)
}

func (c *cursorImage) set(name string, visible bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.name == name && c.visible == visible {
		return
	}
	c.name, c.visible, c.changed = name, visible, true
}

// take returns the latest request and whether it differs from what was
// taken before.
func (c *cursorImage) take() (name string, visible, changed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	changed = c.changed
	c.changed = false
	return c.name, c.visible, changed
}
