// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package wlr

import (
	"testing"

	"github.com/mstarongithub/wlcore/compositor"
	"github.com/stretchr/testify/assert"
)

func TestCursorImageCoalesces(t *testing.T) {
	c := &cursorImage{}
	_, _, changed := c.take()
	assert.False(t, changed)

	c.SetCursor("grabbing")
	c.SetCursor("")
	name, visible, changed := c.take()
	assert.True(t, changed)
	assert.True(t, visible)
	assert.Equal(t, defaultCursor, name)

	c.SetCursor(defaultCursor)
	_, _, changed = c.take()
	assert.False(t, changed, "same image reported twice")
}

func TestCursorImageHidesWithoutSurface(t *testing.T) {
	c := &cursorImage{}
	c.SetSurface(nil, 0, 0)
	_, visible, changed := c.take()
	assert.True(t, changed)
	assert.False(t, visible)

	c.SetSurface(&compositor.Surface{}, 3, 3)
	name, visible, _ := c.take()
	assert.True(t, visible)
	assert.Equal(t, defaultCursor, name)
}
