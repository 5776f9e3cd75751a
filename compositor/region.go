// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package compositor

import (
	"github.com/mstarongithub/wlcore/wire"
)

const (
	regionRequestDestroy  = 0
	regionRequestAdd      = 1
	regionRequestSubtract = 2
)

type Rect struct {
	X, Y, Width, Height int32
}

func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

func (r Rect) Right() int32 {
	return r.X + r.Width
}

func (r Rect) Bottom() int32 {
	return r.Y + r.Height
}

func (r Rect) Contains(x, y float64) bool {
	return !r.Empty() &&
		x >= float64(r.X) && x < float64(r.Right()) &&
		y >= float64(r.Y) && y < float64(r.Bottom())
}

func (r Rect) Intersect(o Rect) Rect {
	x0, y0 := max(r.X, o.X), max(r.Y, o.Y)
	x1, y1 := min(r.Right(), o.Right()), min(r.Bottom(), o.Bottom())
	if x1 <= x0 || y1 <= y0 {
		return Rect{}
	}
	return Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// subtract returns the parts of r not covered by o.
func (r Rect) subtract(o Rect) []Rect {
	in := r.Intersect(o)
	if in.Empty() {
		return []Rect{r}
	}
	var out []Rect
	if in.Y > r.Y {
		out = append(out, Rect{X: r.X, Y: r.Y, Width: r.Width, Height: in.Y - r.Y})
	}
	if in.Bottom() < r.Bottom() {
		out = append(out, Rect{X: r.X, Y: in.Bottom(), Width: r.Width, Height: r.Bottom() - in.Bottom()})
	}
	if in.X > r.X {
		out = append(out, Rect{X: r.X, Y: in.Y, Width: in.X - r.X, Height: in.Height})
	}
	if in.Right() < r.Right() {
		out = append(out, Rect{X: in.Right(), Y: in.Y, Width: r.Right() - in.Right(), Height: in.Height})
	}
	return out
}

// Region is a set of pixels stored as non overlapping rectangles. Every
// operation returns a new Region, so a Region handed out in a snapshot never
// changes underneath its reader.
type Region struct {
	rects []Rect
}

func RegionFromRect(r Rect) Region {
	if r.Empty() {
		return Region{}
	}
	return Region{rects: []Rect{r}}
}

func (g Region) Empty() bool {
	return len(g.rects) == 0
}

// Rects returns a copy of the rectangles.
func (g Region) Rects() []Rect {
	out := make([]Rect, len(g.rects))
	copy(out, g.rects)
	return out
}

func (g Region) Add(r Rect) Region {
	if r.Empty() {
		return g
	}
	out := g.Subtract(r)
	out.rects = append(out.rects, r)
	return out
}

func (g Region) Subtract(r Rect) Region {
	if r.Empty() || g.Empty() {
		return g
	}
	out := Region{rects: make([]Rect, 0, len(g.rects))}
	for _, have := range g.rects {
		out.rects = append(out.rects, have.subtract(r)...)
	}
	return out
}

func (g Region) Union(o Region) Region {
	out := g
	for _, r := range o.rects {
		out = out.Add(r)
	}
	return out
}

func (g Region) IntersectRect(r Rect) Region {
	out := Region{}
	for _, have := range g.rects {
		if in := have.Intersect(r); !in.Empty() {
			out.rects = append(out.rects, in)
		}
	}
	return out
}

func (g Region) Contains(x, y float64) bool {
	for _, r := range g.rects {
		if r.Contains(x, y) {
			return true
		}
	}
	return false
}

// Area is the number of covered pixels.
func (g Region) Area() int64 {
	var a int64
	for _, r := range g.rects {
		a += int64(r.Width) * int64(r.Height)
	}
	return a
}

func (g Region) Extents() Rect {
	if g.Empty() {
		return Rect{}
	}
	x0, y0 := g.rects[0].X, g.rects[0].Y
	x1, y1 := g.rects[0].Right(), g.rects[0].Bottom()
	for _, r := range g.rects[1:] {
		x0, y0 = min(x0, r.X), min(y0, r.Y)
		x1, y1 = max(x1, r.Right()), max(y1, r.Bottom())
	}
	return Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// RegionObject is wl_region.
type RegionObject struct {
	Resource
	region Region
}

func (r *RegionObject) Interface() string {
	return "wl_region"
}

func (r *RegionObject) Region() Region {
	return r.region
}

func (r *RegionObject) Teardown() {}

func (r *RegionObject) Dispatch(msg *wire.Message) error {
	dec := msg.Decoder()
	switch msg.Opcode {
	case regionRequestDestroy:
		r.client.Remove(r)
		return nil
	case regionRequestAdd, regionRequestSubtract:
		rect := Rect{X: dec.Int(), Y: dec.Int(), Width: dec.Int(), Height: dec.Int()}
		if err := dec.Err(); err != nil {
			return Malformed(r.Interface(), msg.Opcode, err)
		}
		if msg.Opcode == regionRequestAdd {
			r.region = r.region.Add(rect)
		} else {
			r.region = r.region.Subtract(rect)
		}
		return nil
	}
	return InvalidMethod(r.Interface(), r.id, msg.Opcode)
}
