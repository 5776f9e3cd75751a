// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package compositor

import (
	"sync"
	"sync/atomic"

	"github.com/mstarongithub/wlcore/wire"
	"github.com/sirupsen/logrus"
)

const (
	bufferRequestDestroy = 0
	bufferEventRelease   = 0
)

// BufferHandle is what the renderer gets to import. It is either a
// *ShmBacking or a *HardwareBacking.
type BufferHandle interface {
	Size() (width, height int32)
	YInverted() bool
}

// HardwareBacking is an opaque buffer owned by an external importer.
// Release is called once each time the last reference to the buffer goes
// away.
type HardwareBacking struct {
	Handle        any
	Width, Height int32
	Inverted      bool
	Release       func()
}

func (h *HardwareBacking) Size() (int32, int32) {
	return h.Width, h.Height
}

func (h *HardwareBacking) YInverted() bool {
	return h.Inverted
}

// Buffer is wl_buffer. The backing outlives the protocol object as long as
// a surface still references it.
type Buffer struct {
	Resource
	backing BufferHandle
	// wrapper is the SurfaceBuffer currently wrapping this buffer, if any.
	wrapper *SurfaceBuffer
	// acquire pins the backing memory for a wrapper and returns the unpin.
	acquire   func() func()
	onDestroy func()
	destroyed bool
}

// NewBuffer registers a wl_buffer with the given backing. Importers of
// buffer types other than shm use this to hand buffers to the core.
func NewBuffer(client *Client, id uint32, backing BufferHandle) (*Buffer, error) {
	b := &Buffer{Resource: NewResource(client, id, 1), backing: backing}
	if hw, ok := backing.(*HardwareBacking); ok && hw.Release != nil {
		b.acquire = func() func() { return hw.Release }
	}
	if err := client.Add(b); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Buffer) Interface() string {
	return "wl_buffer"
}

func (b *Buffer) Backing() BufferHandle {
	return b.backing
}

func (b *Buffer) Dispatch(msg *wire.Message) error {
	if msg.Opcode != bufferRequestDestroy {
		return InvalidMethod(b.Interface(), b.id, msg.Opcode)
	}
	b.client.Remove(b)
	return nil
}

func (b *Buffer) Teardown() {
	b.destroyed = true
	if b.wrapper != nil && b.wrapper.resource == b {
		b.wrapper.resource = nil
	}
	b.wrapper = nil
	if b.onDestroy != nil {
		b.onDestroy()
	}
}

// SurfaceBuffer wraps one client buffer while a surface uses it. Wrappers
// are pooled per surface and reused for later attaches.
type SurfaceBuffer struct {
	pool     *bufferPool
	resource *Buffer
	backing  BufferHandle
	refs     atomic.Int32
	// hold releases whatever keeps the backing memory alive.
	hold func()

	texMu        sync.Mutex
	texture      Texture
	renderer     Renderer
	importFailed bool
}

func (b *SurfaceBuffer) Handle() BufferHandle {
	return b.backing
}

func (b *SurfaceBuffer) Size() (int32, int32) {
	if b.backing == nil {
		return 0, 0
	}
	return b.backing.Size()
}

func (b *SurfaceBuffer) YInverted() bool {
	return b.backing != nil && b.backing.YInverted()
}

// Refs returns the current reference count.
func (b *SurfaceBuffer) Refs() int32 {
	return b.refs.Load()
}

// Texture imports the buffer on first use. A failed import is remembered
// until the next commit resets it, so a broken buffer is not retried every
// frame.
func (b *SurfaceBuffer) Texture(r Renderer) (Texture, error) {
	b.texMu.Lock()
	defer b.texMu.Unlock()
	if b.texture != nil && b.renderer == r {
		return b.texture, nil
	}
	if b.importFailed {
		return nil, ErrImportFailed
	}
	tex, err := r.ImportBuffer(b.backing)
	if err != nil {
		b.importFailed = true
		return nil, err
	}
	b.texture, b.renderer = tex, r
	return tex, nil
}

func (b *SurfaceBuffer) retryImport() {
	b.texMu.Lock()
	b.importFailed = false
	b.texMu.Unlock()
}

func (b *SurfaceBuffer) unref() {
	n := b.refs.Add(-1)
	switch {
	case n > 0:
		return
	case n < 0:
		logrus.WithField("refs", n).Errorln("Buffer reference count went negative")
		b.refs.Store(0)
		return
	}

	b.texMu.Lock()
	tex, r := b.texture, b.renderer
	b.texture, b.renderer, b.importFailed = nil, nil, false
	b.texMu.Unlock()
	if tex != nil {
		r.ReleaseTexture(tex)
	}
	if b.resource != nil {
		if !b.resource.destroyed {
			b.resource.Send(b.resource.Event(bufferEventRelease))
		}
		if b.resource.wrapper == b {
			b.resource.wrapper = nil
		}
	}
	if b.hold != nil {
		b.hold()
	}
	b.resource, b.backing, b.hold = nil, nil, nil
	if b.pool != nil {
		b.pool.put(b)
	}
}

// BufferRef is a counted handle to a SurfaceBuffer. Clone takes another
// reference, Release drops this one. Releasing twice is harmless.
// References are taken and dropped on the dispatch loop only.
type BufferRef struct {
	buf      *SurfaceBuffer
	released atomic.Bool
}

func newBufferRef(buf *SurfaceBuffer) *BufferRef {
	buf.refs.Add(1)
	return &BufferRef{buf: buf}
}

// Clone returns a new reference to the same buffer, or nil if r is nil or
// already released.
func (r *BufferRef) Clone() *BufferRef {
	if r == nil || r.released.Load() {
		return nil
	}
	return newBufferRef(r.buf)
}

func (r *BufferRef) Release() {
	if r == nil || !r.released.CompareAndSwap(false, true) {
		return
	}
	r.buf.unref()
}

// Buffer returns the wrapped buffer. It must not be used after Release.
func (r *BufferRef) Buffer() *SurfaceBuffer {
	if r == nil {
		return nil
	}
	return r.buf
}

func (r *BufferRef) Valid() bool {
	return r != nil && !r.released.Load() && r.buf.backing != nil
}

// bufferPool keeps released wrappers for reuse by one surface.
type bufferPool struct {
	free  []*SurfaceBuffer
	total int
	warn  int
}

func newBufferPool(warn int) *bufferPool {
	return &bufferPool{warn: warn}
}

// wrap returns a reference for an attached wl_buffer, reusing the live
// wrapper when the buffer is already in use.
func (p *bufferPool) wrap(b *Buffer) *BufferRef {
	if w := b.wrapper; w != nil && w.refs.Load() > 0 {
		return newBufferRef(w)
	}
	var w *SurfaceBuffer
	if n := len(p.free); n > 0 {
		w = p.free[n-1]
		p.free = p.free[:n-1]
	} else {
		w = &SurfaceBuffer{pool: p}
		p.total++
		if p.warn > 0 && p.total > p.warn {
			logrus.WithFields(logrus.Fields{
				"pool_size": p.total,
				"client":    b.client.id,
			}).Warnln("Surface buffer pool grew, client is attaching buffers faster than they are released")
		}
	}
	w.resource = b
	w.backing = b.backing
	if b.acquire != nil {
		w.hold = b.acquire()
	}
	b.wrapper = w
	return newBufferRef(w)
}

func (p *bufferPool) put(w *SurfaceBuffer) {
	p.free = append(p.free, w)
}

// Size reports how many wrappers the pool has allocated.
func (p *bufferPool) Size() int {
	return p.total
}
