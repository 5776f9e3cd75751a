// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package compositor

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// SurfaceEvent is delivered to surface observers, in commit order.
type SurfaceEvent int

const (
	SurfaceMapped = SurfaceEvent(iota)
	SurfaceUnmapped
	SurfaceCommitted
	SurfaceDestroyed
)

func (e SurfaceEvent) String() string {
	switch e {
	case SurfaceMapped:
		return "mapped"
	case SurfaceUnmapped:
		return "unmapped"
	case SurfaceCommitted:
		return "committed"
	case SurfaceDestroyed:
		return "destroyed"
	}
	return "unknown"
}

// SurfaceState is the committed, externally visible state of a surface.
type SurfaceState struct {
	Buffer *BufferRef
	// Width and Height are in surface coordinates.
	Width, Height int32
	Scale         int32
	Transform     int32
	Opaque        Region
	// Input is nil when the whole surface accepts input.
	Input     *Region
	YInverted bool
	// Damage accumulated since the renderer last took it.
	Damage Region
}

// AcceptsInput reports whether the surface local point lies inside the
// surface and its input region.
func (st *SurfaceState) AcceptsInput(x, y float64) bool {
	if !(Rect{Width: st.Width, Height: st.Height}).Contains(x, y) {
		return false
	}
	return st.Input == nil || st.Input.Contains(x, y)
}

// surfaceState is what requests accumulate between commits, and what a
// synchronized sub-surface caches until its parent commits.
type surfaceState struct {
	attached bool
	buffer   *BufferRef
	dx, dy   int32

	damage       Region
	bufferDamage Region

	opaqueSet bool
	opaque    Region
	inputSet  bool
	input     *Region

	transformSet bool
	transform    int32
	scaleSet     bool
	scale        int32

	callbacks []*Callback
}

// mergeInto moves s on top of dst and leaves s empty.
func (s *surfaceState) mergeInto(dst *surfaceState) {
	if s.attached {
		if dst.buffer != s.buffer {
			dst.buffer.Release()
		}
		dst.attached = true
		dst.buffer = s.buffer
	}
	dst.dx += s.dx
	dst.dy += s.dy
	dst.damage = dst.damage.Union(s.damage)
	dst.bufferDamage = dst.bufferDamage.Union(s.bufferDamage)
	if s.opaqueSet {
		dst.opaqueSet, dst.opaque = true, s.opaque
	}
	if s.inputSet {
		dst.inputSet, dst.input = true, s.input
	}
	if s.transformSet {
		dst.transformSet, dst.transform = true, s.transform
	}
	if s.scaleSet {
		dst.scaleSet, dst.scale = true, s.scale
	}
	dst.callbacks = append(dst.callbacks, s.callbacks...)
	*s = surfaceState{}
}

// release drops everything the state holds. Used when the surface dies
// before the state was ever applied.
func (s *surfaceState) release() {
	if s.attached {
		s.buffer.Release()
	}
	for _, cb := range s.callbacks {
		cb.client.Remove(cb)
	}
	*s = surfaceState{}
}

// Surface is wl_surface.
type Surface struct {
	Resource
	comp *Compositor

	pending  surfaceState
	cached   surfaceState
	hasCache bool

	// mu guards current against the render goroutine. Only the dispatch
	// loop writes it.
	mu      sync.RWMutex
	current SurfaceState

	pool *bufferPool

	role        RoleKind
	roleHandler RoleHandler

	mapped     bool
	unmapLocks int
	destroyed  bool
	finalized  bool

	armed []*Callback

	outputs []*Output

	transientParent   *Surface
	transientX        int32
	transientY        int32
	transientInactive bool

	sub          *SubSurface
	order        []*Surface
	pendingOrder []*Surface

	observers []func(*Surface, SurfaceEvent)
}

func newSurface(comp *Compositor, client *Client, id, version uint32) *Surface {
	s := &Surface{
		Resource: NewResource(client, id, version),
		comp:     comp,
		pool:     newBufferPool(comp.opts.BufferPoolWarn),
		current:  SurfaceState{Scale: 1},
	}
	s.order = []*Surface{s}
	return s
}

func (s *Surface) log() *logrus.Entry {
	return s.client.log().WithField("surface", s.id)
}

// Observe registers fn for every later surface event.
func (s *Surface) Observe(fn func(*Surface, SurfaceEvent)) {
	s.observers = append(s.observers, fn)
}

func (s *Surface) emit(ev SurfaceEvent) {
	for _, fn := range s.observers {
		fn(s, ev)
	}
}

// Snapshot returns a consistent copy of the current state. The buffer in
// the copy is a new reference the caller must release. Safe to call from
// any goroutine.
func (s *Surface) Snapshot() SurfaceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.current
	st.Buffer = s.current.Buffer.Clone()
	return st
}

// takeDamage returns and clears the accumulated damage.
func (s *Surface) takeDamage() Region {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.current.Damage
	s.current.Damage = Region{}
	return d
}

// restoreDamage puts back damage a failed frame took.
func (s *Surface) restoreDamage(d Region) {
	if d.Empty() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	bounds := Rect{Width: s.current.Width, Height: s.current.Height}
	s.current.Damage = d.IntersectRect(bounds).Union(s.current.Damage)
}

// Size returns the current size in surface coordinates.
func (s *Surface) Size() (int32, int32) {
	return s.current.Width, s.current.Height
}

// AcceptsInput reports whether the committed input region covers the
// surface local point.
func (s *Surface) AcceptsInput(sx, sy float64) bool {
	return s.current.AcceptsInput(sx, sy)
}

func (s *Surface) Mapped() bool {
	return s.mapped
}

func (s *Surface) Destroyed() bool {
	return s.destroyed
}

func (s *Surface) hasContent() bool {
	return s.current.Buffer.Valid()
}

// Attach replaces the pending buffer. A nil buffer detaches on commit.
func (s *Surface) Attach(buf *Buffer, dx, dy int32) {
	if s.pending.attached {
		s.pending.buffer.Release()
	}
	s.pending.attached = true
	s.pending.buffer = nil
	if buf != nil {
		s.pending.buffer = s.pool.wrap(buf)
	}
	s.pending.dx, s.pending.dy = dx, dy
}

// Damage adds a rectangle in surface coordinates to the pending damage.
func (s *Surface) Damage(r Rect) {
	s.pending.damage = s.pending.damage.Add(r)
}

// DamageBuffer adds a rectangle in buffer coordinates to the pending damage.
func (s *Surface) DamageBuffer(r Rect) {
	s.pending.bufferDamage = s.pending.bufferDamage.Add(r)
}

// SetOpaqueRegion sets the pending opaque region. nil means empty.
func (s *Surface) SetOpaqueRegion(r *Region) {
	s.pending.opaqueSet = true
	s.pending.opaque = Region{}
	if r != nil {
		s.pending.opaque = *r
	}
}

// SetInputRegion sets the pending input region. nil means infinite.
func (s *Surface) SetInputRegion(r *Region) {
	s.pending.inputSet = true
	s.pending.input = nil
	if r != nil {
		in := *r
		s.pending.input = &in
	}
}

func (s *Surface) SetBufferTransform(t int32) {
	s.pending.transformSet, s.pending.transform = true, t
}

func (s *Surface) SetBufferScale(scale int32) {
	s.pending.scaleSet, s.pending.scale = true, scale
}

// Offset sets the pending attach offset without attaching.
func (s *Surface) Offset(dx, dy int32) {
	s.pending.dx, s.pending.dy = dx, dy
}

// Frame queues a frame callback on the pending state.
func (s *Surface) Frame(cb *Callback) {
	s.pending.callbacks = append(s.pending.callbacks, cb)
}

// synchronized reports whether commits of this surface wait for a parent.
// A sub-surface is synchronized when it or any sub-surface ancestor is.
func (s *Surface) synchronized() bool {
	for sub := s.sub; sub != nil && sub.parent != nil; sub = sub.parent.sub {
		if sub.sync {
			return true
		}
	}
	return false
}

// Commit publishes the pending state, or caches it while the surface is a
// synchronized sub-surface.
func (s *Surface) Commit() {
	if s.destroyed {
		return
	}
	if s.synchronized() {
		s.pending.mergeInto(&s.cached)
		s.hasCache = true
		return
	}
	if s.hasCache {
		s.pending.mergeInto(&s.cached)
		s.applyCached()
		return
	}
	s.apply(&s.pending)
}

func (s *Surface) applyCached() {
	s.hasCache = false
	s.apply(&s.cached)
}

func (s *Surface) apply(st *surfaceState) {
	var old *BufferRef

	s.mu.Lock()
	if st.attached {
		old = s.current.Buffer
		s.current.Buffer = st.buffer
	}
	if st.scaleSet {
		s.current.Scale = st.scale
	}
	if st.transformSet {
		s.current.Transform = st.transform
	}
	s.current.Width, s.current.Height = surfaceSize(s.current.Buffer, s.current.Scale, s.current.Transform)
	s.current.YInverted = s.current.Buffer.Valid() && s.current.Buffer.Buffer().YInverted()
	if st.opaqueSet {
		s.current.Opaque = st.opaque
	}
	if st.inputSet {
		s.current.Input = st.input
	}
	bounds := Rect{Width: s.current.Width, Height: s.current.Height}
	damage := st.damage.Union(bufferToSurfaceDamage(st.bufferDamage, s.current.Scale, s.current.Transform, bounds))
	s.current.Damage = s.current.Damage.Union(damage.IntersectRect(bounds))
	s.mu.Unlock()

	if st.attached && old != st.buffer {
		old.Release()
	}
	if s.current.Buffer.Valid() {
		s.current.Buffer.Buffer().retryImport()
	}
	dx, dy := st.dx, st.dy
	callbacks := st.callbacks
	*st = surfaceState{}

	s.updateMapped()
	s.armed = append(s.armed, callbacks...)

	if s.pendingOrder != nil {
		s.order, s.pendingOrder = s.pendingOrder, nil
	}
	for _, child := range s.order {
		if child != s && child.sub != nil {
			child.sub.applyPosition()
		}
	}

	s.emit(SurfaceCommitted)

	for _, child := range s.order {
		if child != s && child.hasCache && child.synchronized() {
			child.applyCached()
		}
	}
	// The role sees the tree as committed, children included.
	if s.roleHandler != nil {
		s.roleHandler.Configure(dx, dy, s.hasContent())
	}
	s.comp.Repaint()
}

func surfaceSize(buf *BufferRef, scale, transform int32) (int32, int32) {
	if !buf.Valid() {
		return 0, 0
	}
	w, h := buf.Buffer().Size()
	if transform%2 == 1 {
		w, h = h, w
	}
	if scale < 1 {
		scale = 1
	}
	return w / scale, h / scale
}

// bufferToSurfaceDamage converts buffer space damage. Rotated buffers damage
// the whole surface.
func bufferToSurfaceDamage(d Region, scale, transform int32, bounds Rect) Region {
	if d.Empty() {
		return d
	}
	if transform != 0 {
		return RegionFromRect(bounds)
	}
	if scale <= 1 {
		return d
	}
	out := Region{}
	for _, r := range d.rects {
		x0, y0 := r.X/scale, r.Y/scale
		x1, y1 := (r.Right()+scale-1)/scale, (r.Bottom()+scale-1)/scale
		out = out.Add(Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0})
	}
	return out
}

// updateMapped keeps mapped equal to "an unmap lock is held or there is a
// buffer" and tells observers about changes.
func (s *Surface) updateMapped() {
	mapped := s.unmapLocks > 0 || s.hasContent()
	if mapped == s.mapped {
		return
	}
	s.mapped = mapped
	if mapped {
		s.emit(SurfaceMapped)
	} else {
		s.emit(SurfaceUnmapped)
	}
	s.comp.Repaint()
}

// dropContent releases the current buffer and unmaps unless locked.
func (s *Surface) dropContent() {
	s.mu.Lock()
	old := s.current.Buffer
	s.current.Buffer = nil
	s.current.Width, s.current.Height = 0, 0
	s.current.Damage = Region{}
	s.mu.Unlock()
	old.Release()
	s.updateMapped()
}

// UnmapLock keeps a surface mapped without a buffer, for example while a
// close animation still shows its last frame.
type UnmapLock struct {
	s    *Surface
	once sync.Once
}

func (s *Surface) LockUnmap() *UnmapLock {
	s.unmapLocks++
	s.updateMapped()
	return &UnmapLock{s: s}
}

// Release drops the lock. The last release of a destroyed surface finishes
// its destruction.
func (l *UnmapLock) Release() {
	l.once.Do(func() {
		s := l.s
		s.unmapLocks--
		if s.unmapLocks > 0 {
			return
		}
		if s.destroyed {
			s.finalize()
			return
		}
		s.updateMapped()
	})
}

// SetTransient makes s a transient of parent at the given offset. Inactive
// transients never get keyboard focus.
func (s *Surface) SetTransient(parent *Surface, x, y int32, inactive bool) {
	s.transientParent = parent
	s.transientX, s.transientY = x, y
	s.transientInactive = inactive
}

func (s *Surface) TransientParent() *Surface {
	return s.transientParent
}

func (s *Surface) TransientOffset() (int32, int32) {
	return s.transientX, s.transientY
}

func (s *Surface) TransientInactive() bool {
	return s.transientInactive
}

// SubSurface returns the sub-surface role object, or nil.
func (s *Surface) SubSurface() *SubSurface {
	return s.sub
}

// Children returns the surface and its sub-surfaces in stacking order,
// bottom first.
func (s *Surface) Children() []*Surface {
	out := make([]*Surface, len(s.order))
	copy(out, s.order)
	return out
}

func (s *Surface) Teardown() {
	s.destroy()
}

func (s *Surface) destroy() {
	if s.destroyed {
		return
	}
	s.destroyed = true
	s.emit(SurfaceDestroyed)
	s.comp.surfaceDestroyed(s)

	s.pending.release()
	s.cached.release()
	s.hasCache = false
	dropCallbacks(s.armed)
	s.armed = nil

	if s.sub != nil {
		s.sub.detach()
	}
	children := s.order
	for _, child := range s.pendingOrder {
		if indexSurface(children, child) < 0 {
			children = append(children, child)
		}
	}
	for _, child := range children {
		if child == s || child.sub == nil || child.sub.parent != s {
			continue
		}
		wasSync := child.synchronized()
		child.sub.parent = nil
		if wasSync {
			child.dropContent()
		}
	}
	s.order = []*Surface{s}
	s.pendingOrder = nil

	if s.unmapLocks == 0 {
		s.finalize()
	}
}

// finalize frees what destroy had to keep for unmap lock holders.
func (s *Surface) finalize() {
	if s.finalized {
		return
	}
	s.finalized = true
	s.dropContent()
	s.comp.forgetSurface(s)
	s.observers = nil
}
