// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mstarongithub/wlcore/common/ipc"
	"github.com/mstarongithub/wlcore/compositor"
	"github.com/mstarongithub/wlcore/repl"
	"github.com/mstarongithub/wlcore/shell"
	"github.com/mstarongithub/wlcore/util"
	"github.com/mstarongithub/wlcore/util/multiplexer"
	"github.com/mstarongithub/wlcore/util/wrappers"
	"github.com/sirupsen/logrus"
)

var errNormalStop = errors.New("normal stop")

const defaultWatch = 5 * time.Second

// session is what the repl can reach of a running compositor.
type session struct {
	comp    *compositor.Compositor
	shell   *shell.Shell
	events  *multiplexer.OneToMany[compositor.Event]
	display string
	stop    func()

	watchers atomic.Uint64
}

func replRunner(sess *session) {
	// Give repl some wrappers around stdin and stdout so that it closes those instead of stdin & stdout themselves
	commandRepl := repl.NewRepl(wrappers.NewReaderWrapper(os.Stdin), wrappers.NewWriterWrapper(os.Stdout))
	logrus.Debugln("Starting repl")
	if err := commandRepl.Run(sess.handle); err != nil && !errors.Is(err, errNormalStop) {
		logrus.WithError(err).Warnln("Repl stopped")
	}
}

// spawn starts a client connected to our socket. Arguments are split on
// spaces, there is no shell quoting.
func spawn(cmdString string, out io.Writer) (*exec.Cmd, error) {
	parts := strings.Split(cmdString, " ")
	cmd := exec.Command(parts[0], parts[1:]...)
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	go func() {
		err := cmd.Wait()
		if exiterr, ok := err.(*exec.ExitError); ok {
			logrus.WithError(err).WithFields(logrus.Fields{
				"exit-code": exiterr.ExitCode(),
				"command":   cmdString,
			}).Warningln("Bad command completion")
		}
	}()
	return cmd, nil
}

func (sess *session) handle(input string, r *repl.Repl) (string, error) {
	if cmdString, ok := strings.CutPrefix(input, "run "); ok {
		cmd, err := spawn(cmdString, r.Output)
		if err != nil {
			logrus.WithError(err).WithField("command", cmdString).Errorln("Command failed to start")
			return "Failed to start: " + err.Error(), nil
		}
		return fmt.Sprintf("Running %s (pid %d)", cmd.Path, cmd.Process.Pid), nil
	} else if input == "quit" {
		sess.stop()
		return "Quitting", errNormalStop
	} else if input == "focus next" {
		if _, err := onLoop(sess.comp, func() bool { sess.shell.FocusNext(); return true }); err != nil {
			return "", err
		}
		return "Focused next window", nil
	} else if input == "watch" || strings.HasPrefix(input, "watch ") {
		return sess.watch(strings.TrimSpace(strings.TrimPrefix(input, "watch")))
	} else if rawCmdString, ok := strings.CutPrefix(input, "inspect "); ok {
		var target, mod string
		util.Unpack(strings.SplitN(rawCmdString, " ", 2), &target, &mod)
		logrus.WithFields(logrus.Fields{
			"target": target,
			"mod":    mod,
			"raw":    rawCmdString,
		}).Debugln("Parsed inspect command")
		return sess.inspect(target, mod)
	}
	return "Unknown command", nil
}

// onLoop runs fn on the dispatch loop and waits for its result.
func onLoop[T any](comp *compositor.Compositor, fn func() T) (T, error) {
	res := make(chan T, 1)
	if err := comp.Post(func() { res <- fn() }); err != nil {
		var zero T
		return zero, err
	}
	return <-res, nil
}

func (sess *session) inspect(target, mod string) (string, error) {
	var state any
	var err error
	switch target {
	case "display":
		return "WAYLAND_DISPLAY=" + sess.display, nil
	case "clients":
		state, err = onLoop(sess.comp, func() []ipc.ClientState { return clientStates(sess.comp) })
	case "surfaces":
		state, err = onLoop(sess.comp, func() []ipc.SurfaceState { return surfaceStates(sess.comp) })
	case "windows":
		state, err = onLoop(sess.comp, func() []ipc.WindowState { return windowStates(sess.shell) })
	case "seat":
		state, err = onLoop(sess.comp, func() ipc.SeatState { return seatState(sess.comp.Seat()) })
	case "outputs":
		req := ipc.OutputRequest{IncludeModes: mod != "", SpecifiesOutput: mod != "", TargetOutput: mod}
		state, err = onLoop(sess.comp, func() ipc.OutputResponse {
			return ipc.Answer(req, outputStates(sess.comp))
		})
	case "frames":
		var frames uint64
		frames, err = onLoop(sess.comp, sess.comp.Frames)
		state = map[string]uint64{"frames": frames}
	default:
		return "Unknown inspect target " + strconv.Quote(target), nil
	}
	if err != nil {
		// The loop is gone, so is the repl.
		return "", err
	}
	out, err := ipc.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("rendering %s: %w", target, err)
	}
	return strings.TrimSuffix(out, "\n"), nil
}

// watch collects events for a while and prints them.
func (sess *session) watch(arg string) (string, error) {
	d := defaultWatch
	if arg != "" {
		secs, err := strconv.ParseFloat(arg, 64)
		if err != nil || secs <= 0 {
			return "watch takes a positive number of seconds", nil
		}
		d = time.Duration(secs * float64(time.Second))
	}
	name := fmt.Sprintf("repl-%d", sess.watchers.Add(1))
	events, err := sess.events.MakeReceiver(name)
	if err != nil {
		return "", err
	}
	defer sess.events.CloseReceiver(name)

	var seen []compositor.Event
	timeout := time.After(d)
collect:
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				break collect
			}
			seen = append(seen, ev)
		case <-timeout:
			break collect
		}
	}
	if len(seen) == 0 {
		return "No events", nil
	}
	lines := make([]string, 0, len(seen))
	for _, ev := range seen {
		lines = append(lines, fmt.Sprintf("%s client=%d surface=%d %s", ev.Kind, ev.Client, ev.Surface, ev.Detail))
	}
	return strings.Join(lines, "\n"), nil
}

func clientStates(comp *compositor.Compositor) []ipc.ClientState {
	clients := comp.Clients()
	sort.Slice(clients, func(i, j int) bool { return clients[i].ID() < clients[j].ID() })
	out := make([]ipc.ClientState, 0, len(clients))
	for _, c := range clients {
		creds := c.Credentials()
		out = append(out, ipc.ClientState{ID: c.ID(), PID: creds.PID, UID: creds.UID, GID: creds.GID})
	}
	return out
}

func surfaceStates(comp *compositor.Compositor) []ipc.SurfaceState {
	var out []ipc.SurfaceState
	for _, s := range comp.Surfaces() {
		if s.Destroyed() {
			continue
		}
		w, h := s.Size()
		st := ipc.SurfaceState{
			Client:   s.Client().ID(),
			ID:       s.ID(),
			Role:     s.Role().String(),
			Mapped:   s.Mapped(),
			Width:    w,
			Height:   h,
			Children: len(s.Children()) - 1,
		}
		for _, o := range s.Outputs() {
			st.Outputs = append(st.Outputs, o.Name())
		}
		out = append(out, st)
	}
	return out
}

// windowStates lists the shell's stack, bottom first.
func windowStates(sh *shell.Shell) []ipc.WindowState {
	var out []ipc.WindowState
	for _, w := range sh.Stack() {
		x, y := w.Position()
		width, height := w.Size()
		out = append(out, ipc.WindowState{
			Client:     w.Client().ID(),
			Surface:    w.Surface().ID(),
			Kind:       w.Kind(),
			Title:      w.Title(),
			Class:      w.Class(),
			X:          x,
			Y:          y,
			Width:      width,
			Height:     height,
			Maximized:  w.Maximized(),
			Responsive: w.Responsive(),
		})
	}
	return out
}

func seatState(seat *compositor.Seat) ipc.SeatState {
	x, y := seat.PointerPosition()
	st := ipc.SeatState{
		Name:         seat.Name(),
		Capabilities: seat.Capabilities(),
		PointerX:     x,
		PointerY:     y,
		Cursor:       seat.CursorImage(),
		TouchPoints:  seat.TouchPoints(),
	}
	if s := seat.PointerFocus(); s != nil {
		id := s.ID()
		st.PointerFocus = &id
	}
	if s := seat.KeyboardFocus(); s != nil {
		id := s.ID()
		st.KeyboardFocus = &id
	}
	if g := seat.Grab(); g != nil {
		st.Grab = strings.TrimPrefix(fmt.Sprintf("%T", g), "*compositor.")
	}
	if src := seat.Selection(); src != nil {
		st.Selection = src.MimeTypes()
	}
	return st
}

func outputStates(comp *compositor.Compositor) []ipc.Output {
	var out []ipc.Output
	for _, o := range comp.Outputs() {
		var modes []ipc.OutputMode
		for _, m := range o.Info().Modes {
			modes = append(modes, ipc.OutputMode{
				Width:       int(m.Width),
				Height:      int(m.Height),
				RefreshRate: int(m.Refresh),
				Preferred:   m.Preferred,
			})
		}
		out = append(out, ipc.Output{Name: o.Name(), Modes: modes})
	}
	return out
}
