// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package headless is a CPU renderer compositing shm buffers into an
// in-memory image. It backs the compositor when no GPU or display is
// around and in tests.
package headless

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"sync"
	"time"

	"github.com/mstarongithub/wlcore/compositor"
	"github.com/sirupsen/logrus"
)

// texture is an imported shm buffer.
type texture struct {
	img *image.RGBA
	src *compositor.ShmBacking
}

// Frame is what a presented frame contained.
type Frame struct {
	Seq      uint64
	Surfaces []uint32
	Time     time.Time
}

// Renderer composites onto a fixed size canvas.
type Renderer struct {
	mu     sync.Mutex
	canvas *image.RGBA
	// Delay is added to every Present, emulating a display refresh.
	Delay time.Duration

	seq      uint64
	last     Frame
	imported int
	released int
}

func New(width, height int) *Renderer {
	return &Renderer{canvas: image.NewRGBA(image.Rect(0, 0, width, height))}
}

// ImportBuffer copies shm content into a texture. Hardware buffers are
// not supported.
func (r *Renderer) ImportBuffer(h compositor.BufferHandle) (compositor.Texture, error) {
	shm, ok := h.(*compositor.ShmBacking)
	if !ok {
		return nil, fmt.Errorf("headless renderer cannot import %T", h)
	}
	tex := &texture{
		img: image.NewRGBA(image.Rect(0, 0, int(shm.Width), int(shm.Height))),
		src: shm,
	}
	if err := tex.upload(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.imported++
	r.mu.Unlock()
	return tex, nil
}

// upload converts the little endian ARGB rows of the pool to RGBA.
func (t *texture) upload() error {
	shm := t.src
	opaque := shm.Format == compositor.ShmFormatXRGB8888
	return shm.Access(func(pixels []byte) {
		for y := 0; y < int(shm.Height); y++ {
			row := pixels[y*int(shm.Stride):]
			dst := t.img.Pix[y*t.img.Stride:]
			for x := 0; x < int(shm.Width); x++ {
				b, g, r, a := row[x*4], row[x*4+1], row[x*4+2], row[x*4+3]
				if opaque {
					a = 0xff
				}
				dst[x*4], dst[x*4+1], dst[x*4+2], dst[x*4+3] = r, g, b, a
			}
		}
	})
}

func (r *Renderer) ReleaseTexture(compositor.Texture) {
	r.mu.Lock()
	r.released++
	r.mu.Unlock()
}

// Present draws the frame bottom to top. Content that cannot be imported
// is skipped, the rest of the frame still shows.
func (r *Renderer) Present(ctx context.Context, frame []compositor.Placement) (compositor.PresentationCompletion, error) {
	if err := ctx.Err(); err != nil {
		return compositor.PresentationCompletion{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	draw.Draw(r.canvas, r.canvas.Bounds(), image.Transparent, image.Point{}, draw.Src)
	shown := Frame{Seq: r.seq + 1}
	for _, p := range frame {
		if !p.State.Buffer.Valid() {
			continue
		}
		r.mu.Unlock()
		raw, err := p.State.Buffer.Buffer().Texture(r)
		r.mu.Lock()
		if err != nil {
			logrus.WithError(err).WithField("surface", p.Surface.ID()).Debugln("Skipping surface")
			continue
		}
		tex := raw.(*texture)
		if !p.State.Damage.Empty() {
			if err := tex.upload(); err != nil {
				continue
			}
		}
		at := image.Pt(int(p.X), int(p.Y))
		dst := image.Rectangle{Min: at, Max: at.Add(image.Pt(int(p.State.Width), int(p.State.Height)))}
		draw.Draw(r.canvas, dst, tex.img, image.Point{}, draw.Over)
		shown.Surfaces = append(shown.Surfaces, p.Surface.ID())
	}
	if r.Delay > 0 {
		r.mu.Unlock()
		select {
		case <-time.After(r.Delay):
		case <-ctx.Done():
		}
		r.mu.Lock()
	}
	r.seq++
	shown.Time = time.Now()
	r.last = shown
	return compositor.PresentationCompletion{Time: shown.Time}, nil
}

// Last returns the most recently presented frame.
func (r *Renderer) Last() Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Snapshot returns a copy of the canvas.
func (r *Renderer) Snapshot() *image.RGBA {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := image.NewRGBA(r.canvas.Bounds())
	copy(out.Pix, r.canvas.Pix)
	return out
}

// Stats returns how many textures were imported and released.
func (r *Renderer) Stats() (imported, released int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.imported, r.released
}
