// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mstarongithub/wlcore/backend/wlr"
	"github.com/mstarongithub/wlcore/compositor"
	"github.com/mstarongithub/wlcore/config"
	"github.com/mstarongithub/wlcore/render/headless"
	"github.com/mstarongithub/wlcore/shell"
	"github.com/mstarongithub/wlcore/util/multiplexer"
	"github.com/mstarongithub/wlcore/wire"
	"github.com/sirupsen/logrus"
	"github.com/swaywm/go-wlroots/wlroots"
)

func fatal(msg string, err error) {
	fmt.Printf("error %s: %s\n", msg, err)
	os.Exit(1)
}

func wlHelpMessage() {
	fmt.Println("---- Help message for Way2Gay in compositor mode ----")
	fmt.Println("\nGeneral flags:")
	fmt.Println("\t-config: Path to the config file. Searched in the xdg config dirs if not given")
	fmt.Println("\t-tool: Start as a tool instead of a compositor")
	fmt.Println("\t-help: Show this help message (or the one for tool mode if -tool is set)")
	fmt.Println("\t-headless: Run without a host backend. Frames are only drawn into memory")
	fmt.Println("\nEvery config value can be overridden with a " + config.EnvPrefix + "_ environment variable, e.g. " + config.EnvPrefix + "_LOG_LEVEL=debug")
	fmt.Println("\nRepl commands:")
	fmt.Println("\trun <command> [args]: Start a client")
	fmt.Println("\tinspect <clients|surfaces|windows|seat|outputs [name]|frames>: Dump state as yaml")
	fmt.Println("\twatch [seconds]: Print compositor events for a while (default 5s)")
	fmt.Println("\tfocus next: Focus the next window")
	fmt.Println("\tquit: Stop the compositor")
}

func bridgeWlrootsLog() {
	wlroots.OnLog(wlroots.LogImportanceError, func(importance wlroots.LogImportance, msg string) {
		switch importance {
		case wlroots.LogImportanceDebug:
			logrus.Debugln(msg)
		case wlroots.LogImportanceInfo:
			logrus.Infoln(msg)
		case wlroots.LogImportanceError:
			logrus.Errorln(msg)
		case wlroots.LogImportanceSilent:
			return
		}
	})
}

func compositorOptions(conf *config.Config) compositor.Options {
	keymap, err := conf.Keymap()
	if err != nil {
		fatal("loading keymap", err)
	}
	return compositor.Options{
		SeatName:       conf.SeatName,
		BufferPoolWarn: conf.BufferPoolWarn,
		MoveThreshold:  conf.MoveThreshold,
		RepeatRate:     conf.RepeatRate,
		RepeatDelay:    conf.RepeatDelay,
		Keymap:         keymap,
	}
}

// headlessOutput describes the single output of headless mode, refreshing
// at the frame interval.
func headlessOutput(conf *config.Config) compositor.OutputInfo {
	return compositor.OutputInfo{
		Name:        "HEADLESS-1",
		Description: "Headless output",
		Make:        "way2gay",
		Model:       "headless",
		Subpixel:    compositor.SubpixelNone,
		Modes: []compositor.Mode{{
			Width:     int32(conf.HeadlessWidth),
			Height:    int32(conf.HeadlessHeight),
			Refresh:   int32(1_000_000 / conf.FrameIntervalMs),
			Preferred: true,
		}},
	}
}

func wlMain(conf *config.Config) {
	bridgeWlrootsLog()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	comp := compositor.New(compositorOptions(conf))
	sh := shell.New(comp)
	comp.SetRenderer(headless.New(conf.HeadlessWidth, conf.HeadlessHeight))

	events := multiplexer.NewOneToMany[compositor.Event]()
	go events.StartPlexer()
	defer events.CloseSender()
	comp.SetEvents(events)

	var host *wlr.Host
	var err error
	if conf.Headless {
		comp.AddOutput(headlessOutput(conf))
	} else {
		host, err = wlr.New(comp, wlr.Options{
			RepeatRate:  conf.RepeatRate,
			RepeatDelay: conf.RepeatDelay,
			FocusNext:   sh.FocusNext,
		})
		if err != nil {
			fatal("initializing host backend", err)
		}
	}

	listener, err := wire.Listen(conf.SocketName)
	if err != nil {
		fatal("creating wayland socket", err)
	}
	if res := os.Getenv("WAYLAND_DISPLAY"); res != "" {
		logrus.WithField("WAYLAND_DISPLAY", res).Debugln("Wayland display already set, overwriting")
	}
	if err = os.Setenv("WAYLAND_DISPLAY", listener.Name()); err != nil {
		fatal("setting WAYLAND_DISPLAY", err)
	}

	loopDone := make(chan error, 1)
	go func() { loopDone <- comp.Run(ctx) }()
	go func() {
		if err := comp.Serve(ctx, listener); err != nil {
			logrus.WithError(err).Errorln("Accepting clients failed")
			cancel()
		}
	}()

	sess := &session{
		comp:    comp,
		shell:   sh,
		events:  events,
		display: listener.Name(),
		stop:    cancel,
	}
	switch conf.StartType {
	case config.START_REPL:
		go replRunner(sess)
	case config.START_SINGLE_COMMAND:
		if _, err := spawn(*conf.StartCommand, os.Stdout); err != nil {
			logrus.WithError(err).WithField("command", *conf.StartCommand).Errorln("Start command failed")
		}
	}
	logrus.WithField("WAYLAND_DISPLAY", listener.Name()).Infoln("Running Wayland compositor")

	if host == nil {
		go frameTicker(ctx, comp, conf.FrameInterval())
		<-ctx.Done()
	} else {
		if err = host.Start(); err != nil {
			fatal("starting host backend", err)
		}
		go func() {
			<-ctx.Done()
			host.Stop()
		}()
		// The wlroots event loop runs on the main goroutine until the
		// compositor is stopped.
		if err = host.Run(); err != nil {
			fatal("running host backend", err)
		}
		cancel()
	}

	if err := <-loopDone; err != nil && err != context.Canceled {
		fatal("running compositor", err)
	}
}

// frameTicker is the headless frame clock.
func frameTicker(ctx context.Context, comp *compositor.Compositor, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if comp.Post(comp.Repaint) != nil {
				return
			}
		}
	}
}
