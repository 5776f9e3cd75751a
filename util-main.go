// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/mstarongithub/wlcore/backend/wlr"
	"github.com/mstarongithub/wlcore/common/ipc"
	"github.com/mstarongithub/wlcore/compositor"
	"github.com/mstarongithub/wlcore/config"
	"github.com/sirupsen/logrus"
	"github.com/swaywm/go-wlroots/wlroots"
)

var (
	utilAction *string = flag.String(
		"action",
		"outputs",
		"The action to perform. Can be one of:"+
			"\n\t- none: Do nothing"+
			"\n\t- outputs: List available outputs"+
			"\n\t- modes <output>: List available modes for an output"+
			"\n\t- config: Print the effective configuration",
	)
	outputSelection *string = flag.String(
		"output",
		"",
		"Output to perform the action on. Required for some actions",
	)
)

func utilMain(conf *config.Config) {
	if *help {
		utilHelpMessage()
		return
	}

	var req ipc.OutputRequest
	switch *utilAction {
	case "none":
		return
	case "config":
		data, err := conf.Marshal()
		if err != nil {
			fatal("rendering config", err)
		}
		fmt.Print(string(data))
		return
	case "outputs":
	case "modes":
		if *outputSelection == "" {
			fmt.Println("Output has to be specified")
			return
		}
		req = ipc.OutputRequest{IncludeModes: true, SpecifiesOutput: true, TargetOutput: *outputSelection}
	default:
		fmt.Printf("Unknown action %s\n", *utilAction)
		utilHelpMessage()
		return
	}

	bridgeWlrootsLog()
	outputs := probeOutputs(conf)
	resp := ipc.Answer(req, outputs)
	if req.SpecifiesOutput && resp.OutputsFound == 0 {
		fmt.Printf("Output %s not found\n", *outputSelection)
		return
	}
	out, err := ipc.Marshal(resp)
	if err != nil {
		fatal("rendering outputs", err)
	}
	fmt.Print(out)
}

// probeOutputs starts the host backend just long enough for it to announce
// its outputs. The compositor loop only runs to take the announcements.
func probeOutputs(conf *config.Config) []ipc.Output {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	comp := compositor.New(compositorOptions(conf))
	host, err := wlr.New(comp, wlr.Options{RepeatRate: conf.RepeatRate, RepeatDelay: conf.RepeatDelay})
	if err != nil {
		logrus.WithError(err).Fatal("initializing host backend")
	}
	go func() { _ = comp.Run(ctx) }()
	if err = host.Start(); err != nil {
		logrus.WithError(err).Fatal("starting host backend")
	}
	return wlrOutputs(host.Outputs())
}

func wlrOutputs(outputs []*wlroots.Output) []ipc.Output {
	out := make([]ipc.Output, 0, len(outputs))
	for _, output := range outputs {
		o := ipc.Output{Name: output.Name()}
		for _, mode := range output.Modes() {
			o.Modes = append(o.Modes, ipc.OutputMode{
				Width:       int(mode.Width()),
				Height:      int(mode.Height()),
				RefreshRate: int(mode.Refresh()),
				Preferred:   mode.Preferred(),
			})
		}
		out = append(out, o)
	}
	return out
}

func utilHelpMessage() {
	fmt.Println("---- Help message for Way2Gay in tool mode ----")
	fmt.Println("\nIn tool mode, w2g will offer various tools for figuring out configurations and similar")
	fmt.Println("\nGeneral flags:")
	fmt.Println("\t-config: Path to the config file. Searched in the xdg config dirs if not given")
	fmt.Println("\t-tool: Start as a tool instead of a compositor")
	fmt.Println("\t-help: Show this help message (or the one for compositor mode if -tool is not set)")
	fmt.Println("\nTool flags:")
	fmt.Println("\t-action: The action to perform. Can be one of:")
	fmt.Println("\t\t- (default) outputs: List available outputs")
	fmt.Println("\t\t- modes: List available modes for an output. Use with -output")
	fmt.Println("\t\t- config: Print the effective configuration as toml")
	fmt.Println("\t\t- none: Do nothing")
	fmt.Println("\t-output: Output to perform the action on. Required for -action modes")
}
