// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package wlr runs the compositor on real hardware, or nested in another
// session, through wlroots. wlroots only provides the host side here:
// outputs, input devices, the cursor image and the frame clock. Clients
// never talk to the wlroots display, they are served by the compositor
// package.
//
// wlroots callbacks run on the goroutine calling Run. Everything they learn
// is handed to the dispatch loop with Compositor.Post.
package wlr

import (
	"fmt"
	"time"

	"github.com/mstarongithub/wlcore/compositor"
	"github.com/sirupsen/logrus"
	"github.com/swaywm/go-wlroots/wlroots"
	"github.com/swaywm/go-wlroots/xkb"
)

const cursorSize = 24

type Options struct {
	RepeatRate  int32
	RepeatDelay int32
	// FocusNext is called on the dispatch loop for Alt+F1.
	FocusNext func()
}

type Host struct {
	comp *compositor.Compositor
	opts Options

	display     wlroots.Display
	backend     wlroots.Backend
	renderer    wlroots.Renderer
	allocator   wlroots.Allocator
	scene       wlroots.Scene
	sceneLayout wlroots.SceneOutputLayout

	outputLayout wlroots.OutputLayout
	outputs      []*wlroots.Output

	cursor    wlroots.Cursor
	cursorMgr wlroots.XCursorManager
	image     *cursorImage

	keyboards []wlroots.InputDevice

	// Only touched on the dispatch loop.
	heads map[string]*compositor.Output
	nextX int32
}

// New sets up the wlroots backend and hooks it to comp. Nothing happens
// until Start.
func New(comp *compositor.Compositor, opts Options) (host *Host, err error) {
	host = &Host{
		comp:  comp,
		opts:  opts,
		image: &cursorImage{},
		heads: make(map[string]*compositor.Output),
	}

	host.display = wlroots.NewDisplay()
	host.backend, err = host.display.BackendAutocreate()
	if err != nil {
		return nil, fmt.Errorf("creating backend: %w", err)
	}
	host.renderer, err = host.backend.RendererAutoCreate()
	if err != nil {
		return nil, fmt.Errorf("creating renderer: %w", err)
	}
	host.allocator, err = host.backend.AllocatorAutocreate(host.renderer)
	if err != nil {
		return nil, fmt.Errorf("creating allocator: %w", err)
	}

	host.outputLayout = wlroots.NewOutputLayout()
	host.backend.OnNewOutput(host.handleNewOutput)

	host.scene = wlroots.NewScene()
	host.sceneLayout = host.scene.AttachOutputLayout(host.outputLayout)

	host.cursor = wlroots.NewCursor()
	host.cursor.AttachOutputLayout(host.outputLayout)
	host.cursorMgr = wlroots.NewXCursorManager("", cursorSize)
	host.cursorMgr.Load(1)
	host.cursor.OnMotion(host.handleCursorMotion)
	host.cursor.OnMotionAbsolute(host.handleCursorMotionAbsolute)
	host.cursor.OnButton(host.handleCursorButton)
	host.cursor.OnAxis(host.handleCursorAxis)
	host.cursor.OnFrame(host.handleCursorFrame)

	host.backend.OnNewInput(host.handleNewInput)
	comp.Seat().SetCursorController(host.image)
	return host, nil
}

// Start enumerates outputs and input devices.
func (host *Host) Start() error {
	if err := host.backend.Start(); err != nil {
		host.backend.Destroy()
		host.display.Destroy()
		return fmt.Errorf("starting backend: %w", err)
	}
	logrus.Infoln("Host backend started")
	return nil
}

// Run blocks in the wlroots event loop until Stop, Alt+Escape, or the
// dispatch loop going away.
func (host *Host) Run() error {
	host.display.Run()

	host.scene.Tree().Node().Destroy()
	host.cursorMgr.Destroy()
	host.outputLayout.Destroy()
	host.display.Destroy()
	return nil
}

func (host *Host) Stop() {
	host.display.Terminate()
}

// Outputs returns the outputs the backend has announced so far.
func (host *Host) Outputs() []*wlroots.Output {
	return host.outputs
}

// post hands fn to the dispatch loop. Once the loop is gone the host has
// nothing left to drive and shuts down too.
func (host *Host) post(fn func()) {
	if err := host.comp.Post(fn); err != nil {
		logrus.WithError(err).Debugln("Dispatch loop gone, stopping host")
		host.display.Terminate()
	}
}

func (host *Host) handleNewOutput(output wlroots.Output) {
	logrus.WithField("name", output.Name()).Debugln("New output added")
	host.outputs = append(host.outputs, &output)

	output.InitRender(host.allocator, host.renderer)

	oState := wlroots.NewOutputState()
	oState.StateInit()
	oState.StateSetEnabled(true)
	mode, err := output.PrefferedMode()
	if err == nil {
		oState.SetMode(mode)
	}
	output.CommitState(oState)
	oState.Finish()

	output.OnFrame(host.handleFrame)
	output.OnRequestState(host.handleOutputRequestState)
	output.OnDestroy(host.handleOutputDestroy)

	lOutput := host.outputLayout.AddOutputAuto(output)
	sceneOutput := host.scene.NewOutput(output)
	host.sceneLayout.AddOutput(lOutput, sceneOutput)

	if err = output.SetTitle(fmt.Sprintf("wlcore - %s", output.Name())); err != nil {
		logrus.WithError(err).Debugln("Output has no title")
	}

	info := outputInfo(output)
	host.post(func() { host.addHead(info) })
}

// addHead mirrors AddOutputAuto: heads are placed left to right in the
// order they appear.
func (host *Host) addHead(info compositor.OutputInfo) {
	o := host.comp.AddOutput(info)
	cfg := o.Config()
	cfg.X = host.nextX
	if err := o.Apply(cfg); err != nil {
		logrus.WithError(err).WithField("output", info.Name).Warnln("Output has no usable mode")
	}
	host.nextX += o.Geometry().Width
	host.heads[info.Name] = o
}

func outputInfo(output wlroots.Output) compositor.OutputInfo {
	info := compositor.OutputInfo{
		Name:        output.Name(),
		Description: output.Name(),
		Subpixel:    compositor.SubpixelUnknown,
	}
	for _, mode := range output.Modes() {
		info.Modes = append(info.Modes, compositor.Mode{
			Width:     int32(mode.Width()),
			Height:    int32(mode.Height()),
			Refresh:   int32(mode.Refresh()),
			Preferred: mode.Preferred(),
		})
	}
	if len(info.Modes) == 0 {
		// Nested backends have no modes, the window size is all there is.
		info.Modes = []compositor.Mode{{Width: 1280, Height: 720, Preferred: true}}
	}
	return info
}

func (host *Host) handleFrame(output wlroots.Output) {
	host.applyCursor()

	sOut, err := host.scene.SceneOutput(output)
	if err != nil {
		return
	}
	sOut.Commit()
	sOut.SendFrameDone(time.Now())

	host.post(host.comp.Repaint)
}

func (host *Host) handleOutputRequestState(output wlroots.Output, state wlroots.OutputState) {
	logrus.WithField("output", output.Name()).Debugln("New state request for output")
	output.CommitState(state)
}

func (host *Host) handleOutputDestroy(output wlroots.Output) {
	name := output.Name()
	logrus.WithField("name", name).Debugln("Output getting destroyed")
	for i, o := range host.outputs {
		if o.Name() == name {
			host.outputs = append(host.outputs[:i], host.outputs[i+1:]...)
			break
		}
	}
	host.post(func() {
		if o, ok := host.heads[name]; ok {
			host.comp.RemoveOutput(o)
			delete(host.heads, name)
		}
	})
}

func (host *Host) handleNewInput(dev wlroots.InputDevice) {
	switch dev.Type() {
	case wlroots.InputDeviceTypePointer:
		host.cursor.AttachInputDevice(dev)
	case wlroots.InputDeviceTypeKeyboard:
		host.handleNewKeyboard(dev)
	}

	// There is always a cursor, even without a pointer device.
	caps := uint32(compositor.CapabilityPointer)
	if len(host.keyboards) > 0 {
		caps |= compositor.CapabilityKeyboard
	}
	host.post(func() { host.comp.Seat().SetCapabilities(caps) })
}

func (host *Host) handleNewKeyboard(dev wlroots.InputDevice) {
	keyboard := dev.Keyboard()

	context := xkb.NewContext(xkb.KeySymFlagNoFlags)
	keymap := context.KeyMap()
	keyboard.SetKeymap(keymap)
	keymap.Destroy()
	context.Destroy()
	keyboard.SetRepeatInfo(host.opts.RepeatRate, host.opts.RepeatDelay)

	keyboard.OnModifiers(func(keyboard wlroots.Keyboard) {
		mods := modifiers(keyboard.Modifiers())
		host.post(func() { host.comp.Seat().KeyboardModifiers(mods) })
	})
	keyboard.OnKey(host.handleKey)

	host.keyboards = append(host.keyboards, dev)
}

// modifiers translates the wlroots modifier mask. Its bits line up with
// the modifier indices of the default xkb keymap, so the mask is sent as
// depressed modifiers.
func modifiers(mask wlroots.KeyboardModifier) compositor.Modifiers {
	return compositor.Modifiers{Depressed: uint32(mask)}
}

func (host *Host) handleKey(keyboard wlroots.Keyboard, time uint32, keyCode uint32, _ bool, state wlroots.KeyState) {
	// libinput keycodes are offset by 8 in xkb.
	syms := keyboard.XKBState().Syms(xkb.KeyCode(keyCode + 8))

	handled := false
	if keyboard.Modifiers()&wlroots.KeyboardModifierAlt != 0 && state == wlroots.KeyStatePressed {
		for _, sym := range syms {
			handled = host.handleKeyBinding(sym) || handled
		}
	}
	if handled {
		return
	}
	pressed := state == wlroots.KeyStatePressed
	host.post(func() { host.comp.Seat().KeyboardKey(time, keyCode, pressed) })
}

// handleKeyBinding runs compositor bindings. Alt is held.
func (host *Host) handleKeyBinding(sym xkb.KeySym) bool {
	switch sym {
	case xkb.KeySymEscape:
		host.display.Terminate()
	case xkb.KeySymF1:
		if host.opts.FocusNext == nil {
			return false
		}
		host.post(host.opts.FocusNext)
	default:
		return false
	}
	return true
}

func (host *Host) handleCursorMotion(dev wlroots.InputDevice, time uint32, dx float64, dy float64) {
	host.cursor.Move(dev, dx, dy)
	host.processCursorMotion(time)
}

func (host *Host) handleCursorMotionAbsolute(dev wlroots.InputDevice, time uint32, x float64, y float64) {
	host.cursor.WarpAbsolute(dev, x, y)
	host.processCursorMotion(time)
}

func (host *Host) processCursorMotion(time uint32) {
	x, y := host.cursor.X(), host.cursor.Y()
	host.applyCursor()
	host.post(func() { host.comp.Seat().PointerMotion(time, x, y) })
}

func (host *Host) handleCursorButton(_ wlroots.InputDevice, time uint32, button uint32, state wlroots.ButtonState) {
	pressed := state != wlroots.ButtonStateReleased
	host.post(func() { host.comp.Seat().PointerButton(time, button, pressed) })
}

func (host *Host) handleCursorAxis(_ wlroots.InputDevice, time uint32, _ wlroots.AxisSource, orientation wlroots.AxisOrientation, delta float64, _ int32) {
	// Vertical and horizontal share their values with wl_pointer.axis.
	axis := uint32(orientation)
	host.post(func() { host.comp.Seat().PointerAxis(time, axis, delta) })
}

func (host *Host) handleCursorFrame() {
	host.post(host.comp.Seat().PointerFrame)
}

// applyCursor shows whatever the seat asked for since the last call.
// It runs on the wlroots side.
func (host *Host) applyCursor() {
	name, visible, changed := host.image.take()
	if !changed {
		return
	}
	if !visible {
		host.cursor.SetSurface(wlroots.Surface{}, 0, 0)
		return
	}
	host.cursor.SetXCursor(host.cursorMgr, name)
}
