// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package compositor is the protocol core of the compositor: clients and
// their objects, surfaces and their double buffered state, buffers, outputs,
// the seat with its grabs, and the loop that ties them together.
//
// All state belongs to a single dispatch loop. Other goroutines hand work
// to it with Post. The only state read elsewhere is a surface's committed
// state, through Snapshot, by the render goroutine.
package compositor

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/mstarongithub/wlcore/util/multiplexer"
	"github.com/mstarongithub/wlcore/wire"
	"github.com/sirupsen/logrus"
	"gitlab.com/mstarongitlab/goutils/sliceutils"
)

const (
	compositorVersion    = 5
	subcompositorVersion = 1
	shmVersion           = 1
)

// Options tune the core. Zero values are replaced by the defaults.
type Options struct {
	SeatName string
	// BufferPoolWarn is the per surface wrapper pool size above which a
	// diagnostic is logged.
	BufferPoolWarn int
	// MoveThreshold is how far a maximized window must be dragged before it
	// is restored.
	MoveThreshold float64
	RepeatRate    int32
	RepeatDelay   int32
	// Keymap is an xkb keymap in text form shared with clients.
	Keymap string
}

func DefaultOptions() Options {
	return Options{
		SeatName:       "seat0",
		BufferPoolWarn: 3,
		MoveThreshold:  20,
		RepeatRate:     25,
		RepeatDelay:    600,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.SeatName == "" {
		o.SeatName = def.SeatName
	}
	if o.BufferPoolWarn == 0 {
		o.BufferPoolWarn = def.BufferPoolWarn
	}
	if o.MoveThreshold == 0 {
		o.MoveThreshold = def.MoveThreshold
	}
	if o.RepeatRate == 0 {
		o.RepeatRate = def.RepeatRate
	}
	if o.RepeatDelay == 0 {
		o.RepeatDelay = def.RepeatDelay
	}
	return o
}

// Texture is a renderer specific handle to imported buffer content.
type Texture any

// PresentationCompletion tells when a frame reached the screen.
type PresentationCompletion struct {
	Time time.Time
}

// Renderer turns committed surface state into pixels. Present runs on the
// render goroutine; ImportBuffer is called from Present through
// SurfaceBuffer.Texture; ReleaseTexture runs on the dispatch loop once the
// buffer is no longer used.
type Renderer interface {
	ImportBuffer(BufferHandle) (Texture, error)
	ReleaseTexture(Texture)
	Present(ctx context.Context, frame []Placement) (PresentationCompletion, error)
}

// Placement is one surface in a frame, bottom to top, at a global position.
type Placement struct {
	Surface *Surface
	X, Y    float64
	State   SurfaceState

	// Frame callbacks armed before the snapshot. They fire once this
	// frame is presented.
	callbacks []*Callback
}

// Scene lists the root surfaces to show, bottom first. Only Surface, X and
// Y are used; sub-surfaces are added by the compositor.
type Scene interface {
	Windows() []Placement
}

// Event is a notable state change, published for observers like the REPL.
type Event struct {
	Kind    string
	Client  uint64
	Surface uint32
	Detail  string
}

// Compositor owns every client, surface, output and the seat.
type Compositor struct {
	opts  Options
	start time.Time

	serial       uint32
	clients      map[uint64]*Client
	nextClientID uint64

	globals       []*Global
	globalsByName map[uint32]*Global
	nextGlobal    uint32

	surfaces  []*Surface
	outputs   []*Output
	seat      *Seat
	exclusive map[RoleKind]*Surface
	drag      *DragGrab

	renderer  Renderer
	scene     Scene
	hitTester HitTester

	tasks chan func()
	queue *multiplexer.ManyToOne[func()]

	rendering      bool
	repaintPending bool
	afterFrame     []func()
	lastFrameMs    uint32
	frames         uint64

	events *multiplexer.OneToMany[Event]
}

// New creates a compositor and advertises the core globals.
func New(opts Options) *Compositor {
	tasks := make(chan func())
	comp := &Compositor{
		opts:          opts.withDefaults(),
		start:         time.Now(),
		clients:       make(map[uint64]*Client),
		globalsByName: make(map[uint32]*Global),
		exclusive:     make(map[RoleKind]*Surface),
		tasks:         tasks,
		queue:         multiplexer.NewManyToOne(tasks),
	}
	comp.RegisterGlobal("wl_compositor", compositorVersion, func(c *Client, id, version uint32) error {
		return c.Add(&compositorResource{Resource: NewResource(c, id, version), comp: comp})
	})
	comp.RegisterGlobal("wl_subcompositor", subcompositorVersion, func(c *Client, id, version uint32) error {
		return c.Add(&subcompositor{Resource: NewResource(c, id, version)})
	})
	comp.RegisterGlobal("wl_shm", shmVersion, bindShm)
	comp.seat = newSeat(comp, comp.opts.SeatName)
	comp.RegisterGlobal("wl_data_device_manager", dataDeviceManagerVersion, func(c *Client, id, version uint32) error {
		return c.Add(&dataDeviceManager{Resource: NewResource(c, id, version), comp: comp})
	})
	return comp
}

func (comp *Compositor) Options() Options {
	return comp.opts
}

func (comp *Compositor) Seat() *Seat {
	return comp.seat
}

// SetRenderer installs the renderer. Without one frames are never drawn
// and frame callbacks only fire through PresentFrame.
func (comp *Compositor) SetRenderer(r Renderer) {
	comp.renderer = r
}

// SetScene installs the window management policy: the scene lists what is
// shown, the hit tester decides where input goes.
func (comp *Compositor) SetScene(scene Scene, hit HitTester) {
	comp.scene = scene
	comp.hitTester = hit
}

// SetEvents installs a feed for state change events.
func (comp *Compositor) SetEvents(events *multiplexer.OneToMany[Event]) {
	comp.events = events
}

func (comp *Compositor) publish(ev Event) {
	if comp.events == nil {
		return
	}
	select {
	case comp.events.GetSender() <- ev:
	default:
	}
}

// NextSerial returns a fresh event serial. Zero is never used.
func (comp *Compositor) NextSerial() uint32 {
	comp.serial++
	if comp.serial == 0 {
		comp.serial++
	}
	return comp.serial
}

// Now returns the millisecond timestamp used for input and frame events.
func (comp *Compositor) Now() uint32 {
	return uint32(time.Since(comp.start).Milliseconds())
}

// RegisterGlobal advertises a new global to every client.
func (comp *Compositor) RegisterGlobal(iface string, version uint32, bind BindFunc) *Global {
	comp.nextGlobal++
	g := &Global{Name: comp.nextGlobal, Interface: iface, Version: version, bind: bind}
	comp.globals = append(comp.globals, g)
	comp.globalsByName[g.Name] = g
	for _, c := range comp.clients {
		for _, r := range c.registries {
			r.announce(g)
		}
	}
	return g
}

// RemoveGlobal withdraws a global. Clients racing with the removal may
// still bind it.
func (comp *Compositor) RemoveGlobal(g *Global) {
	if g == nil || g.removed {
		return
	}
	g.removed = true
	for i, have := range comp.globals {
		if have == g {
			comp.globals = append(comp.globals[:i], comp.globals[i+1:]...)
			break
		}
	}
	for _, c := range comp.clients {
		for _, r := range c.registries {
			r.Send(r.Event(registryEventGlobalRemove).Uint(g.Name))
		}
	}
}

func (comp *Compositor) globalByName(name uint32) *Global {
	return comp.globalsByName[name]
}

// Globals returns the advertised globals.
func (comp *Compositor) Globals() []*Global {
	return append([]*Global(nil), comp.globals...)
}

// NewClient registers a connected peer. Events are written to w; closer is
// closed when the client is destroyed.
func (comp *Compositor) NewClient(w wire.MessageWriter, closer io.Closer, creds wire.Credentials) *Client {
	comp.nextClientID++
	c := newClient(comp, comp.nextClientID, w, creds)
	c.close = closer
	comp.clients[c.id] = c
	c.OnDestroy(comp.seat.clientDestroyed)
	c.log().WithField("uid", creds.UID).Debugln("Client connected")
	comp.publish(Event{Kind: "client-connected", Client: c.id, Detail: fmt.Sprintf("pid %d", creds.PID)})
	return c
}

func (comp *Compositor) removeClient(c *Client) {
	delete(comp.clients, c.id)
	comp.publish(Event{Kind: "client-disconnected", Client: c.id})
}

// Clients returns the connected clients.
func (comp *Compositor) Clients() []*Client {
	out := make([]*Client, 0, len(comp.clients))
	for _, c := range comp.clients {
		out = append(out, c)
	}
	return out
}

// Surfaces returns every live surface in creation order.
func (comp *Compositor) Surfaces() []*Surface {
	return append([]*Surface(nil), comp.surfaces...)
}

// ExclusiveRoleHolder returns the surface holding an exclusive role.
func (comp *Compositor) ExclusiveRoleHolder(kind RoleKind) *Surface {
	return comp.exclusive[kind]
}

func (comp *Compositor) surfaceDestroyed(s *Surface) {
	comp.seat.surfaceDestroyed(s)
	for kind, holder := range comp.exclusive {
		if holder == s {
			delete(comp.exclusive, kind)
		}
	}
	for _, other := range comp.surfaces {
		if other.transientParent == s {
			other.transientParent = nil
		}
	}
	s.outputs = nil
}

func (comp *Compositor) forgetSurface(s *Surface) {
	comp.Defer(func() {
		for i, have := range comp.surfaces {
			if have == s {
				comp.surfaces = append(comp.surfaces[:i], comp.surfaces[i+1:]...)
				return
			}
		}
	})
}

// surfaceAt asks the hit tester. A panicking policy is contained and
// treated as a miss.
func (comp *Compositor) surfaceAt(x, y float64) (s *Surface, sx, sy float64) {
	if comp.hitTester == nil {
		return nil, 0, 0
	}
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("panic", r).Errorln("Hit testing failed")
			s, sx, sy = nil, 0, 0
		}
	}()
	s, sx, sy = comp.hitTester.SurfaceAt(x, y)
	if s != nil && s.destroyed {
		return nil, 0, 0
	}
	return s, sx, sy
}

func (comp *Compositor) surfaceOrigin(s *Surface) (x, y float64, ok bool) {
	if comp.hitTester == nil {
		return 0, 0, false
	}
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("panic", r).Errorln("Surface lookup failed")
			ok = false
		}
	}()
	return comp.hitTester.SurfaceOrigin(s)
}

// Post queues fn on the dispatch loop. It fails once the loop stopped.
func (comp *Compositor) Post(fn func()) error {
	return comp.queue.Send(fn)
}

// Run is the dispatch loop. It returns when ctx is done.
func (comp *Compositor) Run(ctx context.Context) error {
	defer comp.queue.Close()
	for {
		select {
		case <-ctx.Done():
			comp.shutdown()
			return ctx.Err()
		case fn := <-comp.tasks:
			fn()
			comp.maybeRender(ctx)
		}
	}
}

func (comp *Compositor) shutdown() {
	for _, c := range comp.Clients() {
		c.Destroy()
	}
	logrus.Infoln("Compositor stopped")
}

// Serve accepts connections until the listener is closed or ctx is done.
func (comp *Compositor) Serve(ctx context.Context, l *wire.Listener) error {
	go func() {
		<-ctx.Done()
		l.Close()
	}()
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accepting connection: %w", err)
		}
		go comp.ServeConn(conn)
	}
}

// ServeConn reads requests from conn and dispatches them on the loop until
// the connection breaks.
func (comp *Compositor) ServeConn(conn *wire.Conn) {
	creds, err := conn.Credentials()
	if err != nil {
		logrus.WithError(err).Warnln("Reading peer credentials")
	}
	ready := make(chan *Client, 1)
	if err := comp.Post(func() { ready <- comp.NewClient(conn, conn, creds) }); err != nil {
		conn.Close()
		return
	}
	client := <-ready
	for {
		msg, err := conn.ReadMessage()
		if err != nil {
			if err != io.EOF {
				client.log().WithError(err).Debugln("Connection read failed")
			}
			_ = comp.Post(client.Destroy)
			return
		}
		if comp.Post(func() { client.Dispatch(msg) }) != nil {
			conn.Close()
			return
		}
	}
}

// Repaint asks for a new frame. Frames are drawn one at a time.
func (comp *Compositor) Repaint() {
	comp.repaintPending = true
}

// Defer runs fn on the loop once the frame currently being drawn is done,
// or right away when nothing is drawn.
func (comp *Compositor) Defer(fn func()) {
	if !comp.rendering {
		fn()
		return
	}
	comp.afterFrame = append(comp.afterFrame, fn)
}

// Frames returns how many frames were presented.
func (comp *Compositor) Frames() uint64 {
	return comp.frames
}

func (comp *Compositor) maybeRender(ctx context.Context) {
	if !comp.repaintPending || comp.rendering || comp.renderer == nil {
		return
	}
	comp.repaintPending = false
	comp.rendering = true
	frame := comp.snapshotFrame()
	r := comp.renderer
	go func() {
		done, err := r.Present(ctx, frame)
		if comp.Post(func() { comp.frameDone(frame, done, err) }) != nil {
			// The loop is gone, nobody will look at these buffers again.
			for _, p := range frame {
				p.State.Buffer.Release()
			}
		}
	}()
}

// PresentFrame draws one frame synchronously on the calling goroutine,
// which must be the dispatch loop.
func (comp *Compositor) PresentFrame(ctx context.Context) error {
	if comp.renderer == nil {
		return fmt.Errorf("no renderer")
	}
	comp.repaintPending = false
	comp.rendering = true
	frame := comp.snapshotFrame()
	done, err := comp.renderer.Present(ctx, frame)
	comp.frameDone(frame, done, err)
	return err
}

// snapshotFrame collects what is visible, bottom to top, with a fresh
// reference to each buffer, the damage since the last frame and the frame
// callbacks armed so far. Callbacks armed later wait for the next frame.
func (comp *Compositor) snapshotFrame() []Placement {
	var out []Placement
	if comp.scene != nil {
		for _, w := range comp.scene.Windows() {
			out = appendTree(out, w.Surface, w.X, w.Y)
		}
	}
	px, py := comp.seat.PointerPosition()
	if comp.drag != nil && comp.drag.icon != nil {
		out = append(out, Placement{Surface: comp.drag.icon, X: px, Y: py})
	}
	if cs := comp.seat.pointer.cursorSurface; cs != nil {
		if role, ok := cs.roleHandler.(*cursorRole); ok {
			out = append(out, Placement{Surface: cs, X: px - float64(role.hx), Y: py - float64(role.hy)})
		}
	}
	out = sliceutils.Filter(out, func(p Placement) bool {
		return p.Surface != nil && p.Surface.mapped && !p.Surface.finalized
	})
	for i := range out {
		out[i].State = out[i].Surface.Snapshot()
		out[i].State.Damage = out[i].Surface.takeDamage()
		if out[i].State.Buffer.Valid() {
			out[i].callbacks, out[i].Surface.armed = out[i].Surface.armed, nil
		}
	}
	return out
}

func appendTree(out []Placement, s *Surface, x, y float64) []Placement {
	if s == nil {
		return out
	}
	for _, child := range s.order {
		if child == s {
			out = append(out, Placement{Surface: s, X: x, Y: y})
			continue
		}
		if child.sub == nil {
			continue
		}
		cx, cy := child.sub.Position()
		out = appendTree(out, child, x+float64(cx), y+float64(cy))
	}
	return out
}

// frameDone runs on the loop after a frame was presented. The frame's
// callbacks fire and the buffers it used are let go. A failed frame hands
// its callbacks and damage back to the surfaces for the next attempt.
func (comp *Compositor) frameDone(frame []Placement, done PresentationCompletion, err error) {
	comp.rendering = false
	if err != nil {
		logrus.WithError(err).Warnln("Presenting frame failed")
		for _, p := range frame {
			p.Surface.restoreDamage(p.State.Damage)
			p.Surface.rearm(p.callbacks)
		}
	} else {
		comp.frames++
		ms := comp.Now()
		if ms < comp.lastFrameMs {
			ms = comp.lastFrameMs
		}
		comp.lastFrameMs = ms
		for _, p := range frame {
			if p.Surface.destroyed {
				dropCallbacks(p.callbacks)
				continue
			}
			for _, cb := range p.callbacks {
				cb.Done(ms)
			}
		}
	}
	for _, p := range frame {
		p.State.Buffer.Release()
	}
	deferred := comp.afterFrame
	comp.afterFrame = nil
	for _, fn := range deferred {
		fn()
	}
}
