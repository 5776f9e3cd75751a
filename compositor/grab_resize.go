// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package compositor

import (
	"math"

	"github.com/sirupsen/logrus"
)

// ResizeGrab resizes a window from one or two edges.
type ResizeGrab struct {
	seat  *Seat
	win   Window
	edges uint32

	pressX, pressY float64
	startX, startY float64
	startW, startH int32

	w, h int32
	done bool
}

// StartResize begins an interactive resize of win.
func (seat *Seat) StartResize(win Window, serial, edges uint32) (*ResizeGrab, error) {
	if err := seat.checkGrabStart(win, serial); err != nil {
		return nil, err
	}
	wx, wy := win.Position()
	w, h := win.Size()
	g := &ResizeGrab{
		seat:   seat,
		win:    win,
		edges:  edges,
		pressX: seat.pointer.x,
		pressY: seat.pointer.y,
		startX: wx,
		startY: wy,
		startW: w,
		startH: h,
		w:      w,
		h:      h,
	}
	if err := seat.StartGrab(g); err != nil {
		return nil, err
	}
	seat.SetCursorImage(resizeCursor(edges))
	logrus.WithFields(logrus.Fields{
		"surface": win.Surface().id,
		"edges":   edges,
	}).Debugln("Resize grab started")
	return g, nil
}

func resizeCursor(edges uint32) string {
	switch edges {
	case EdgeTop:
		return "top_side"
	case EdgeBottom:
		return "bottom_side"
	case EdgeLeft:
		return "left_side"
	case EdgeRight:
		return "right_side"
	case EdgeTop | EdgeLeft:
		return "top_left_corner"
	case EdgeTop | EdgeRight:
		return "top_right_corner"
	case EdgeBottom | EdgeLeft:
		return "bottom_left_corner"
	case EdgeBottom | EdgeRight:
		return "bottom_right_corner"
	}
	return "default"
}

func (g *ResizeGrab) Surface() *Surface {
	return g.win.Surface()
}

// Size returns the last size requested from the client.
func (g *ResizeGrab) Size() (int32, int32) {
	return g.w, g.h
}

func (g *ResizeGrab) Active() bool {
	return !g.done
}

// Motion computes the new size from the pointer delta. Sizes never go below
// 1 and top or left resizes keep the opposite corner in place.
func (g *ResizeGrab) Motion(_ uint32, x, y float64) {
	if g.done {
		return
	}
	dx := int32(math.Round(x - g.pressX))
	dy := int32(math.Round(y - g.pressY))
	w, h := g.startW, g.startH
	switch {
	case g.edges&EdgeRight != 0:
		w += dx
	case g.edges&EdgeLeft != 0:
		w -= dx
	}
	switch {
	case g.edges&EdgeBottom != 0:
		h += dy
	case g.edges&EdgeTop != 0:
		h -= dy
	}
	w, h = max(w, 1), max(h, 1)

	if g.edges&(EdgeLeft|EdgeTop) != 0 {
		nx, ny := g.startX, g.startY
		if g.edges&EdgeLeft != 0 {
			nx = g.startX + float64(g.startW-w)
		}
		if g.edges&EdgeTop != 0 {
			ny = g.startY + float64(g.startH-h)
		}
		g.win.SetPosition(nx, ny)
	}
	if w != g.w || h != g.h {
		g.w, g.h = w, h
		g.win.RequestSize(g.edges, w, h)
	}
}

func (g *ResizeGrab) Button(_, button uint32, pressed bool) {
	if g.done || !g.seat.endsGrab(button, pressed) {
		return
	}
	g.finish()
	g.seat.EndGrab(g)
}

func (g *ResizeGrab) Cancel() {
	g.finish()
}

func (g *ResizeGrab) finish() {
	if g.done {
		return
	}
	g.done = true
	g.seat.SetCursorImage("default")
	logrus.WithFields(logrus.Fields{
		"width":  g.w,
		"height": g.h,
	}).Debugln("Resize grab ended")
}
