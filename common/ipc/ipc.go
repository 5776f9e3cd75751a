// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package ipc holds the messages w2g answers in tool mode and on the repl.
// Everything is rendered as yaml.
package ipc

import (
	"gitlab.com/mstarongitlab/goutils/sliceutils"
	"gopkg.in/yaml.v3"
)

type (
	// A request to list the available Outputs
	OutputRequest struct {
		// Whether to include the modes an output supports
		IncludeModes bool `yaml:"include_modes"`
		// Target one specific output
		SpecifiesOutput bool `yaml:"specifies_output"`
		// Name of the output you want info on. Only matters if SpecifiesOutput is set
		TargetOutput string `yaml:"target_output"`
	}

	// A mode an output supports
	OutputMode struct {
		// Mode height in pixel
		Height int `yaml:"height"`
		// Mode width in pixel
		Width int `yaml:"width"`
		// Refresh rate of the mode in millihertz
		RefreshRate int  `yaml:"refresh_rate"`
		Preferred   bool `yaml:"preferred,omitempty"`
	}

	// An output as its source reports it, either the host backend or the compositor
	Output struct {
		Name  string
		Modes []OutputMode
	}

	// Response to a OutputRequest message
	OutputResponse struct {
		// List of all outputs. Only contains target output if specified
		Outputs []string `yaml:"outputs"`
		// A list of modes an output supports. Only set if IncludeModes is true
		OutputModes map[string][]OutputMode `yaml:"output_modes,omitempty"`
		// Nr of outputs found
		OutputsFound int `yaml:"outputs_found"`
	}
)

// State dumps for the repl's inspect command
type (
	ClientState struct {
		ID  uint64 `yaml:"id"`
		PID int32  `yaml:"pid"`
		UID uint32 `yaml:"uid"`
		GID uint32 `yaml:"gid"`
	}

	SurfaceState struct {
		Client   uint64   `yaml:"client"`
		ID       uint32   `yaml:"id"`
		Role     string   `yaml:"role"`
		Mapped   bool     `yaml:"mapped"`
		Width    int32    `yaml:"width"`
		Height   int32    `yaml:"height"`
		Children int      `yaml:"children,omitempty"`
		Outputs  []string `yaml:"outputs,omitempty"`
	}

	WindowState struct {
		Client     uint64  `yaml:"client"`
		Surface    uint32  `yaml:"surface"`
		Kind       string  `yaml:"kind"`
		Title      string  `yaml:"title,omitempty"`
		Class      string  `yaml:"class,omitempty"`
		X          float64 `yaml:"x"`
		Y          float64 `yaml:"y"`
		Width      int32   `yaml:"width"`
		Height     int32   `yaml:"height"`
		Maximized  bool    `yaml:"maximized,omitempty"`
		Responsive bool    `yaml:"responsive"`
	}

	SeatState struct {
		Name          string   `yaml:"name"`
		Capabilities  uint32   `yaml:"capabilities"`
		PointerX      float64  `yaml:"pointer_x"`
		PointerY      float64  `yaml:"pointer_y"`
		PointerFocus  *uint32  `yaml:"pointer_focus"`
		KeyboardFocus *uint32  `yaml:"keyboard_focus"`
		Grab          string   `yaml:"grab,omitempty"`
		Cursor        string   `yaml:"cursor,omitempty"`
		TouchPoints   int      `yaml:"touch_points,omitempty"`
		Selection     []string `yaml:"selection,omitempty"`
	}
)

// Answer builds the response to req from the outputs a source knows about
func Answer(req OutputRequest, outputs []Output) OutputResponse {
	if req.SpecifiesOutput {
		outputs = sliceutils.Filter(outputs, func(o Output) bool {
			return o.Name == req.TargetOutput
		})
	}
	resp := OutputResponse{Outputs: []string{}, OutputsFound: len(outputs)}
	if req.IncludeModes {
		resp.OutputModes = make(map[string][]OutputMode, len(outputs))
	}
	for _, o := range outputs {
		resp.Outputs = append(resp.Outputs, o.Name)
		if req.IncludeModes {
			resp.OutputModes[o.Name] = o.Modes
		}
	}
	return resp
}

// Marshal renders any of the messages as yaml
func Marshal(v any) (string, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
