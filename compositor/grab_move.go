// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package compositor

import (
	"github.com/sirupsen/logrus"
)

// MoveGrab drags a window with the pointer.
type MoveGrab struct {
	seat *Seat
	win  Window

	// offX, offY is the pointer position inside the window.
	offX, offY     float64
	pressX, pressY float64
	threshold      float64
	restored       bool
	done           bool
}

// StartMove begins an interactive move of win. serial must be the one of
// the button press that is still held.
func (seat *Seat) StartMove(win Window, serial uint32) (*MoveGrab, error) {
	if err := seat.checkGrabStart(win, serial); err != nil {
		return nil, err
	}
	wx, wy := win.Position()
	px, py := seat.pointer.x, seat.pointer.y
	g := &MoveGrab{
		seat:      seat,
		win:       win,
		offX:      px - wx,
		offY:      py - wy,
		pressX:    px,
		pressY:    py,
		threshold: seat.comp.opts.MoveThreshold,
	}
	if err := seat.StartGrab(g); err != nil {
		return nil, err
	}
	seat.SetCursorImage("grabbing")
	logrus.WithFields(logrus.Fields{
		"surface": win.Surface().id,
		"x":       wx,
		"y":       wy,
	}).Debugln("Move grab started")
	return g, nil
}

func (g *MoveGrab) Surface() *Surface {
	return g.win.Surface()
}

// Active reports whether the grab still runs.
func (g *MoveGrab) Active() bool {
	return !g.done
}

func (g *MoveGrab) Motion(_ uint32, x, y float64) {
	if g.done {
		return
	}
	if g.win.Maximized() && !g.restored {
		if distance(g.pressX, g.pressY, x, y) < g.threshold {
			return
		}
		oldW, _ := g.win.Size()
		w, _ := g.win.Restore()
		// Keep the pointer at the same relative spot of the titlebar.
		if oldW > 0 {
			g.offX = g.offX * float64(w) / float64(oldW)
		}
		g.restored = true
	}
	g.win.SetPosition(x-g.offX, y-g.offY)
}

func (g *MoveGrab) Button(_, button uint32, pressed bool) {
	if g.done || !g.seat.endsGrab(button, pressed) {
		return
	}
	g.finish()
	g.seat.EndGrab(g)
}

func (g *MoveGrab) Cancel() {
	g.finish()
}

func (g *MoveGrab) finish() {
	if g.done {
		return
	}
	g.done = true
	g.seat.SetCursorImage("default")
	logrus.Debugln("Move grab ended")
}
