// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package wire

import (
	"io"
	"net"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// maxFDsPerRead matches libwayland's MAX_FDS_OUT.
const maxFDsPerRead = 28

// Credentials identify the process on the other end of a connection.
type Credentials struct {
	PID int32
	UID uint32
	GID uint32
}

// MessageWriter is the sending half of a connection.
type MessageWriter interface {
	WriteMessage(*Message) error
}

// Conn is one client connection. ReadMessage is meant to be called from a
// single reader goroutine, WriteMessage and NextFD from the dispatch loop.
type Conn struct {
	c *net.UnixConn

	rbuf []byte
	oob  []byte

	fdMu sync.Mutex
	fds  []int

	wmu sync.Mutex
}

// NewConn wraps an accepted unix connection.
func NewConn(c *net.UnixConn) *Conn {
	return &Conn{
		c:   c,
		oob: make([]byte, unix.CmsgSpace(maxFDsPerRead*4)),
	}
}

// ReadMessage blocks until one complete message has arrived. File
// descriptors that arrived with it are queued and handed out through the
// returned message's decoder.
func (c *Conn) ReadMessage() (*Message, error) {
	for {
		if len(c.rbuf) >= HeaderSize {
			sender, opcode, size := ParseHeader(c.rbuf)
			if size < HeaderSize || size > MaxMessageSize || size%4 != 0 {
				return nil, errors.Errorf("object %d opcode %d: bad message size %d", sender, opcode, size)
			}
			if len(c.rbuf) >= size {
				body := make([]byte, size-HeaderSize)
				copy(body, c.rbuf[HeaderSize:size])
				c.rbuf = c.rbuf[:copy(c.rbuf, c.rbuf[size:])]
				msg := &Message{Sender: sender, Opcode: opcode, Body: body}
				return msg.WithFDs(c), nil
			}
		}
		if err := c.fill(); err != nil {
			return nil, err
		}
	}
}

func (c *Conn) fill() error {
	buf := make([]byte, MaxMessageSize)
	n, oobn, _, _, err := c.c.ReadMsgUnix(buf, c.oob)
	if oobn > 0 {
		if perr := c.queueRights(c.oob[:oobn]); perr != nil {
			return perr
		}
	}
	if n > 0 {
		c.rbuf = append(c.rbuf, buf[:n]...)
	}
	if err != nil {
		return err
	}
	if n == 0 {
		return io.EOF
	}
	return nil
}

func (c *Conn) queueRights(oob []byte) error {
	scms, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return errors.Wrap(err, "parse socket control message")
	}
	c.fdMu.Lock()
	defer c.fdMu.Unlock()
	for i := range scms {
		if scms[i].Header.Level != unix.SOL_SOCKET || scms[i].Header.Type != unix.SCM_RIGHTS {
			continue
		}
		fds, err := unix.ParseUnixRights(&scms[i])
		if err != nil {
			return errors.Wrap(err, "parse unix rights")
		}
		c.fds = append(c.fds, fds...)
	}
	return nil
}

// NextFD pops the oldest received file descriptor. Ownership passes to the
// caller.
func (c *Conn) NextFD() (int, bool) {
	c.fdMu.Lock()
	defer c.fdMu.Unlock()
	if len(c.fds) == 0 {
		return -1, false
	}
	fd := c.fds[0]
	c.fds = c.fds[1:]
	return fd, true
}

// WriteMessage sends msg, passing its FDs as SCM_RIGHTS. The FDs stay
// owned by the caller.
func (c *Conn) WriteMessage(msg *Message) error {
	buf, err := msg.MarshalBinary()
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if len(msg.FDs) == 0 {
		_, err = c.c.Write(buf)
		return errors.Wrap(err, "write message")
	}
	_, _, err = c.c.WriteMsgUnix(buf, unix.UnixRights(msg.FDs...), nil)
	return errors.Wrap(err, "write message with fds")
}

// Credentials reads the peer's pid, uid and gid with SO_PEERCRED.
func (c *Conn) Credentials() (Credentials, error) {
	raw, err := c.c.SyscallConn()
	if err != nil {
		return Credentials{}, errors.Wrap(err, "syscall conn")
	}
	var ucred *unix.Ucred
	var cerr error
	err = raw.Control(func(fd uintptr) {
		ucred, cerr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return Credentials{}, errors.Wrap(err, "control")
	}
	if cerr != nil {
		return Credentials{}, errors.Wrap(cerr, "SO_PEERCRED")
	}
	return Credentials{PID: ucred.Pid, UID: ucred.Uid, GID: ucred.Gid}, nil
}

// Close closes the socket and every received fd nobody claimed.
func (c *Conn) Close() error {
	c.fdMu.Lock()
	for _, fd := range c.fds {
		_ = unix.Close(fd)
	}
	c.fds = nil
	c.fdMu.Unlock()
	return c.c.Close()
}
