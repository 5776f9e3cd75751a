// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package compositor

import (
	"github.com/mstarongithub/wlcore/wire"
	"github.com/sirupsen/logrus"
)

const (
	outputRequestRelease = 0

	outputEventGeometry    = 0
	outputEventMode        = 1
	outputEventDone        = 2
	outputEventScale       = 3
	outputEventName        = 4
	outputEventDescription = 5

	outputModeCurrent   = 0x1
	outputModePreferred = 0x2

	outputVersion = 4
)

// Subpixel layouts as sent in wl_output.geometry.
const (
	SubpixelUnknown = iota
	SubpixelNone
	SubpixelHorizontalRGB
	SubpixelHorizontalBGR
	SubpixelVerticalRGB
	SubpixelVerticalBGR
)

// Mode is a display mode. Refresh is in mHz.
type Mode struct {
	Width     int32
	Height    int32
	Refresh   int32
	Preferred bool
}

func (m Mode) valid() bool {
	return m.Width > 0 && m.Height > 0 && m.Refresh >= 0
}

// OutputInfo describes a head when it is added.
type OutputInfo struct {
	Name           string
	Description    string
	Make           string
	Model          string
	PhysicalWidth  int32
	PhysicalHeight int32
	Subpixel       int32
	Modes          []Mode
}

// OutputConfig is the mutable part of an output. Zero Scale means 1.
type OutputConfig struct {
	X, Y      int32
	Mode      Mode
	Transform int32
	Scale     int32
}

// Output is one display head and its wl_output global.
type Output struct {
	comp   *Compositor
	global *Global
	info   OutputInfo

	config    OutputConfig
	available Rect

	resources []*outputResource
}

// AddOutput creates an output with its first valid mode (preferred first)
// and advertises it.
func (comp *Compositor) AddOutput(info OutputInfo) *Output {
	o := &Output{comp: comp, info: info, config: OutputConfig{Scale: 1}}
	for _, m := range info.Modes {
		if m.valid() && (m.Preferred || !o.config.Mode.valid()) {
			o.config.Mode = m
		}
	}
	o.available = o.Geometry()
	o.global = comp.RegisterGlobal("wl_output", outputVersion, o.bind)
	comp.outputs = append(comp.outputs, o)
	logrus.WithFields(logrus.Fields{
		"name":   info.Name,
		"width":  o.config.Mode.Width,
		"height": o.config.Mode.Height,
	}).Infoln("Output added")
	return o
}

// RemoveOutput withdraws the global and makes every surface leave it.
func (comp *Compositor) RemoveOutput(o *Output) {
	comp.RemoveGlobal(o.global)
	for _, s := range comp.surfaces {
		if indexOutput(s.outputs, o) >= 0 {
			s.SetOutputs(removeOutput(append([]*Output(nil), s.outputs...), o))
		}
	}
	comp.outputs = removeOutput(comp.outputs, o)
	comp.Repaint()
}

// Outputs returns the outputs in creation order.
func (comp *Compositor) Outputs() []*Output {
	return append([]*Output(nil), comp.outputs...)
}

func (o *Output) Name() string {
	return o.info.Name
}

func (o *Output) Info() OutputInfo {
	return o.info
}

func (o *Output) Config() OutputConfig {
	return o.config
}

func (o *Output) Mode() Mode {
	return o.config.Mode
}

// Geometry is the area the output covers in the global space, in logical
// pixels.
func (o *Output) Geometry() Rect {
	w, h := o.config.Mode.Width, o.config.Mode.Height
	if o.config.Transform%2 == 1 {
		w, h = h, w
	}
	scale := max(o.config.Scale, 1)
	return Rect{X: o.config.X, Y: o.config.Y, Width: w / scale, Height: h / scale}
}

// AvailableGeometry is the part of the output windows may use.
func (o *Output) AvailableGeometry() Rect {
	return o.available
}

func (o *Output) SetAvailableGeometry(r Rect) {
	o.available = r
}

// Apply changes position, mode, transform and scale, then tells every bound
// client. An invalid mode is refused and the previous configuration stays.
func (o *Output) Apply(cfg OutputConfig) error {
	if cfg.Scale == 0 {
		cfg.Scale = 1
	}
	if !cfg.Mode.valid() || cfg.Scale < 0 || cfg.Transform < 0 || cfg.Transform > 7 {
		logrus.WithFields(logrus.Fields{
			"output":  o.info.Name,
			"width":   cfg.Mode.Width,
			"height":  cfg.Mode.Height,
			"refresh": cfg.Mode.Refresh,
			"scale":   cfg.Scale,
		}).Warnln("Refusing invalid output configuration, keeping the last good one")
		return ErrInvalidMode
	}
	sameAvail := o.available == o.Geometry()
	o.config = cfg
	if sameAvail {
		o.available = o.Geometry()
	}
	for _, r := range o.resources {
		r.sendState()
	}
	o.comp.Repaint()
	return nil
}

func (o *Output) bind(client *Client, id, version uint32) error {
	r := &outputResource{Resource: NewResource(client, id, version), output: o}
	if err := client.Add(r); err != nil {
		return err
	}
	o.resources = append(o.resources, r)
	r.sendState()
	for _, s := range o.comp.surfaces {
		if s.client == client && !s.destroyed && indexOutput(s.outputs, o) >= 0 {
			s.Send(s.Event(surfaceEventEnter).Object(r.id))
		}
	}
	return nil
}

// resourcesFor returns the wl_output objects client bound for o.
func (o *Output) resourcesFor(client *Client) []*outputResource {
	var out []*outputResource
	for _, r := range o.resources {
		if r.client == client {
			out = append(out, r)
		}
	}
	return out
}

type outputResource struct {
	Resource
	output *Output
}

func (r *outputResource) Interface() string {
	return "wl_output"
}

// sendState sends geometry and mode, then done for clients that group
// output changes.
func (r *outputResource) sendState() {
	o := r.output
	r.Send(r.Event(outputEventGeometry).
		Int(o.config.X).
		Int(o.config.Y).
		Int(o.info.PhysicalWidth).
		Int(o.info.PhysicalHeight).
		Int(o.info.Subpixel).
		String(o.info.Make).
		String(o.info.Model).
		Int(o.config.Transform))
	flags := uint32(outputModeCurrent)
	if o.config.Mode.Preferred {
		flags |= outputModePreferred
	}
	r.Send(r.Event(outputEventMode).
		Uint(flags).
		Int(o.config.Mode.Width).
		Int(o.config.Mode.Height).
		Int(o.config.Mode.Refresh))
	if r.version >= 2 {
		r.Send(r.Event(outputEventScale).Int(o.config.Scale))
	}
	if r.version >= 4 {
		r.Send(r.Event(outputEventName).String(o.info.Name))
		if o.info.Description != "" {
			r.Send(r.Event(outputEventDescription).String(o.info.Description))
		}
	}
	if r.version >= 2 {
		r.Send(r.Event(outputEventDone))
	}
}

func (r *outputResource) Teardown() {
	for i, have := range r.output.resources {
		if have == r {
			r.output.resources = append(r.output.resources[:i], r.output.resources[i+1:]...)
			return
		}
	}
}

func (r *outputResource) Dispatch(msg *wire.Message) error {
	if msg.Opcode != outputRequestRelease || r.version < 3 {
		return InvalidMethod(r.Interface(), r.id, msg.Opcode)
	}
	r.client.Remove(r)
	return nil
}

// Outputs returns the outputs the surface is shown on. The first one is the
// primary output.
func (s *Surface) Outputs() []*Output {
	return append([]*Output(nil), s.outputs...)
}

// PrimaryOutput returns the output the surface mostly lives on, or nil.
func (s *Surface) PrimaryOutput() *Output {
	if len(s.outputs) == 0 {
		return nil
	}
	return s.outputs[0]
}

// SetOutputs replaces the output membership and sends enter and leave for
// the difference.
func (s *Surface) SetOutputs(outs []*Output) {
	if s.destroyed {
		return
	}
	for _, o := range s.outputs {
		if indexOutput(outs, o) < 0 {
			for _, r := range o.resourcesFor(s.client) {
				s.Send(s.Event(surfaceEventLeave).Object(r.id))
			}
		}
	}
	for _, o := range outs {
		if indexOutput(s.outputs, o) < 0 {
			for _, r := range o.resourcesFor(s.client) {
				s.Send(s.Event(surfaceEventEnter).Object(r.id))
			}
		}
	}
	s.outputs = append([]*Output(nil), outs...)
}

func indexOutput(list []*Output, o *Output) int {
	for i, have := range list {
		if have == o {
			return i
		}
	}
	return -1
}

func removeOutput(list []*Output, o *Output) []*Output {
	if i := indexOutput(list, o); i >= 0 {
		return append(list[:i], list[i+1:]...)
	}
	return list
}
