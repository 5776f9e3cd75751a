// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package main

import (
	"flag"

	"github.com/mstarongithub/wlcore/config"
	"github.com/sirupsen/logrus"
)

var (
	configPath *string = flag.String(
		"config",
		"",
		"Path to the config file. If empty, "+config.RelativeConfigPath+" is searched in the xdg config dirs",
	)
	toolMode *bool = flag.Bool("tool", false, "Start as a tool instead of a compositor")
	help     *bool = flag.Bool("help", false, "Show the help message for the selected mode")
	headless *bool = flag.Bool("headless", false, "Run without a host backend, overrides the config")
)

func main() {
	flag.Parse()

	conf, err := config.Load(*configPath)
	if err != nil {
		fatal("loading config", err)
	}
	if *headless {
		conf.Headless = true
	}
	logrus.SetLevel(conf.Level())

	if *toolMode {
		utilMain(conf)
		return
	}
	if *help {
		wlHelpMessage()
		return
	}
	wlMain(conf)
}
