// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package wire implements the server side of the Wayland wire protocol:
// message framing, argument encoding, and the unix socket transport
// including file descriptor passing.
package wire

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

const (
	// HeaderSize is the size of every message header in bytes.
	HeaderSize = 8
	// MaxMessageSize is the largest message libwayland peers accept.
	MaxMessageSize = 4096
)

var (
	ErrShortMessage   = errors.New("message shorter than its arguments")
	ErrMessageTooBig  = errors.New("message exceeds maximum size")
	ErrMissingFD      = errors.New("no file descriptor queued for fd argument")
	ErrBadString      = errors.New("string argument is not NUL terminated")
	ErrNullNotAllowed = errors.New("null object id where an object is required")
)

// byteOrder is the host byte order. Only little endian hosts are supported.
var byteOrder = binary.LittleEndian

// FDSource hands out file descriptors received out of band, in order.
type FDSource interface {
	NextFD() (int, bool)
}

// Fixed is the protocol's signed 24.8 fixed point number.
type Fixed int32

func FixedFromFloat(v float64) Fixed {
	return Fixed(math.Round(v * 256))
}

func FixedFromInt(v int) Fixed {
	return Fixed(v << 8)
}

func (f Fixed) Float() float64 {
	return float64(f) / 256
}

func (f Fixed) Int() int {
	return int(f) / 256
}

// Message is a single request or event.
type Message struct {
	Sender uint32
	Opcode uint16
	Body   []byte
	// FDs are sent as SCM_RIGHTS along with an outgoing message.
	FDs []int

	fds FDSource
}

// ParseHeader splits a message header. size includes the header itself.
func ParseHeader(buf []byte) (sender uint32, opcode uint16, size int) {
	sender = byteOrder.Uint32(buf[0:4])
	word := byteOrder.Uint32(buf[4:8])
	opcode = uint16(word & 0xffff)
	size = int(word >> 16)
	return
}

// Size returns the encoded size including the header.
func (m *Message) Size() int {
	return HeaderSize + len(m.Body)
}

// MarshalBinary encodes header and body.
func (m *Message) MarshalBinary() ([]byte, error) {
	size := m.Size()
	if size > MaxMessageSize {
		return nil, errors.Wrapf(ErrMessageTooBig, "object %d opcode %d: %d bytes", m.Sender, m.Opcode, size)
	}
	buf := make([]byte, size)
	byteOrder.PutUint32(buf[0:4], m.Sender)
	byteOrder.PutUint32(buf[4:8], uint32(size)<<16|uint32(m.Opcode))
	copy(buf[HeaderSize:], m.Body)
	return buf, nil
}

// Decoder returns a decoder over the message arguments.
func (m *Message) Decoder() *Decoder {
	return &Decoder{msg: m}
}

// Decoder reads arguments in order. The first failure sticks: later reads
// return zero values and Err reports the original problem.
type Decoder struct {
	msg *Message
	off int
	err error
}

func (d *Decoder) Err() error {
	return d.err
}

func (d *Decoder) fail(err error) {
	if d.err == nil {
		d.err = errors.Wrapf(err, "object %d opcode %d", d.msg.Sender, d.msg.Opcode)
	}
}

func (d *Decoder) Uint() uint32 {
	if d.err != nil {
		return 0
	}
	if d.off+4 > len(d.msg.Body) {
		d.fail(ErrShortMessage)
		return 0
	}
	v := byteOrder.Uint32(d.msg.Body[d.off:])
	d.off += 4
	return v
}

func (d *Decoder) Int() int32 {
	return int32(d.Uint())
}

func (d *Decoder) Fixed() Fixed {
	return Fixed(d.Int())
}

// Object reads an object id that may be null (0).
func (d *Decoder) Object() uint32 {
	return d.Uint()
}

// NewID reads an object id that must not be null.
func (d *Decoder) NewID() uint32 {
	id := d.Uint()
	if id == 0 && d.err == nil {
		d.fail(ErrNullNotAllowed)
	}
	return id
}

// String reads a possibly null string. Null reads as "".
func (d *Decoder) String() string {
	n := int(d.Uint())
	if d.err != nil || n == 0 {
		return ""
	}
	padded := (n + 3) &^ 3
	if d.off+padded > len(d.msg.Body) {
		d.fail(ErrShortMessage)
		return ""
	}
	raw := d.msg.Body[d.off : d.off+n]
	if raw[n-1] != 0 {
		d.fail(ErrBadString)
		return ""
	}
	d.off += padded
	return string(raw[:n-1])
}

func (d *Decoder) Array() []byte {
	n := int(d.Uint())
	if d.err != nil {
		return nil
	}
	padded := (n + 3) &^ 3
	if d.off+padded > len(d.msg.Body) {
		d.fail(ErrShortMessage)
		return nil
	}
	out := make([]byte, n)
	copy(out, d.msg.Body[d.off:d.off+n])
	d.off += padded
	return out
}

// FD pops the next file descriptor received on the connection. fd
// arguments occupy no space in the message body.
func (d *Decoder) FD() int {
	if d.err != nil {
		return -1
	}
	if d.msg.fds == nil {
		d.fail(ErrMissingFD)
		return -1
	}
	fd, ok := d.msg.fds.NextFD()
	if !ok {
		d.fail(ErrMissingFD)
		return -1
	}
	return fd
}

// Builder assembles an outgoing event.
type Builder struct {
	msg Message
}

// NewEvent starts an event sent from object sender.
func NewEvent(sender uint32, opcode uint16) *Builder {
	return &Builder{msg: Message{Sender: sender, Opcode: opcode}}
}

// NewMessage is NewEvent for the request direction, used by tests and tools
// acting as a client.
func NewMessage(sender uint32, opcode uint16) *Builder {
	return NewEvent(sender, opcode)
}

func (b *Builder) Uint(v uint32) *Builder {
	b.msg.Body = byteOrder.AppendUint32(b.msg.Body, v)
	return b
}

func (b *Builder) Int(v int32) *Builder {
	return b.Uint(uint32(v))
}

func (b *Builder) Fixed(v Fixed) *Builder {
	return b.Int(int32(v))
}

func (b *Builder) Object(id uint32) *Builder {
	return b.Uint(id)
}

func (b *Builder) NewID(id uint32) *Builder {
	return b.Uint(id)
}

func (b *Builder) String(s string) *Builder {
	n := len(s) + 1
	b.Uint(uint32(n))
	b.msg.Body = append(b.msg.Body, s...)
	b.msg.Body = append(b.msg.Body, 0)
	return b.pad(n)
}

func (b *Builder) Array(a []byte) *Builder {
	b.Uint(uint32(len(a)))
	b.msg.Body = append(b.msg.Body, a...)
	return b.pad(len(a))
}

func (b *Builder) FD(fd int) *Builder {
	b.msg.FDs = append(b.msg.FDs, fd)
	return b
}

func (b *Builder) pad(n int) *Builder {
	for i := n; i%4 != 0; i++ {
		b.msg.Body = append(b.msg.Body, 0)
	}
	return b
}

// Message returns the assembled message.
func (b *Builder) Message() *Message {
	m := b.msg
	return &m
}

// WithFDs attaches a file descriptor source for decoding fd arguments.
// Connections do this for every message they read.
func (m *Message) WithFDs(src FDSource) *Message {
	m.fds = src
	return m
}
