// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package wire

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// autoSocketCount is how many wayland-N names are probed when no name is
// given, same as libwayland.
const autoSocketCount = 32

var ErrSocketInUse = errors.New("socket is locked by another compositor")

// Listener accepts client connections on a wayland socket.
type Listener struct {
	l        *net.UnixListener
	name     string
	path     string
	lockPath string
	lockFD   int
}

// Listen creates the socket name inside $XDG_RUNTIME_DIR. An absolute name
// is used as is. An empty name picks the first free wayland-N.
func Listen(name string) (*Listener, error) {
	if name != "" {
		return listenNamed(name)
	}
	for i := 0; i < autoSocketCount; i++ {
		l, err := listenNamed(fmt.Sprintf("wayland-%d", i))
		if errors.Is(err, ErrSocketInUse) {
			continue
		}
		return l, err
	}
	return nil, errors.New("no free wayland socket name")
}

func socketPath(name string) (string, error) {
	if filepath.IsAbs(name) {
		return name, nil
	}
	dir := xdg.RuntimeDir
	if dir == "" {
		return "", errors.New("XDG_RUNTIME_DIR is not set")
	}
	return filepath.Join(dir, name), nil
}

func listenNamed(name string) (*Listener, error) {
	path, err := socketPath(name)
	if err != nil {
		return nil, err
	}
	lockPath := path + ".lock"
	lockFD, err := unix.Open(lockPath, unix.O_CREAT|unix.O_CLOEXEC|unix.O_RDWR, 0o660)
	if err != nil {
		return nil, errors.Wrapf(err, "open lock file %s", lockPath)
	}
	if err = unix.Flock(lockFD, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = unix.Close(lockFD)
		return nil, errors.Wrap(ErrSocketInUse, path)
	}

	// We hold the lock, so whatever socket is left over is stale.
	if err = os.Remove(path); err != nil && !os.IsNotExist(err) {
		_ = unix.Close(lockFD)
		return nil, errors.Wrapf(err, "remove stale socket %s", path)
	}

	l, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		_ = unix.Close(lockFD)
		return nil, errors.Wrapf(err, "listen on %s", path)
	}
	l.SetUnlinkOnClose(true)

	logrus.WithField("path", path).Debugln("Listening for wayland clients")
	return &Listener{
		l:        l,
		name:     name,
		path:     path,
		lockPath: lockPath,
		lockFD:   lockFD,
	}, nil
}

// Name is the value clients expect in WAYLAND_DISPLAY.
func (l *Listener) Name() string {
	return l.name
}

func (l *Listener) Path() string {
	return l.path
}

func (l *Listener) Accept() (*Conn, error) {
	c, err := l.l.AcceptUnix()
	if err != nil {
		return nil, err
	}
	return NewConn(c), nil
}

// Close stops accepting and removes the socket and its lock file.
func (l *Listener) Close() error {
	err := l.l.Close()
	_ = os.Remove(l.lockPath)
	_ = unix.Close(l.lockFD)
	return err
}
