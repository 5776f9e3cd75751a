// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package compositor

import (
	"sync"

	"github.com/mstarongithub/wlcore/wire"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const (
	shmRequestCreatePool = 0
	shmEventFormat       = 0

	shmPoolRequestCreateBuffer = 0
	shmPoolRequestDestroy      = 1
	shmPoolRequestResize       = 2
)

// wl_shm error codes.
const (
	ShmErrorInvalidFormat = 0
	ShmErrorInvalidStride = 1
	ShmErrorInvalidFD     = 2
)

// Pixel formats advertised on wl_shm.
const (
	ShmFormatARGB8888 = 0
	ShmFormatXRGB8888 = 1
)

var shmFormats = []uint32{ShmFormatARGB8888, ShmFormatXRGB8888}

// shmMapping is the memory behind a wl_shm_pool. It stays mapped while the
// pool object, any buffer created from it, or any surface reference to such
// a buffer is alive.
type shmMapping struct {
	mu   sync.RWMutex
	fd   int
	data []byte
	refs int
}

func (m *shmMapping) ref() func() {
	m.refs++
	var once sync.Once
	return func() { once.Do(m.unref) }
}

func (m *shmMapping) unref() {
	m.refs--
	if m.refs > 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := unix.Munmap(m.data); err != nil {
		logrus.WithError(err).Warnln("Unmapping shm pool")
	}
	unix.Close(m.fd)
	m.data = nil
}

func (m *shmMapping) size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func (m *shmMapping) remap(size int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, err := unix.Mmap(m.fd, 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return err
	}
	if err := unix.Munmap(m.data); err != nil {
		logrus.WithError(err).Warnln("Unmapping shm pool during resize")
	}
	m.data = data
	return nil
}

// ShmBacking is a buffer living in a client shared memory pool.
type ShmBacking struct {
	mapping *shmMapping
	Offset  int32
	Width   int32
	Height  int32
	Stride  int32
	Format  uint32
}

func (b *ShmBacking) Size() (int32, int32) {
	return b.Width, b.Height
}

func (b *ShmBacking) YInverted() bool {
	return false
}

// Access calls fn with the buffer's pixel rows. The slice is only valid
// during the call; the pool may be remapped afterwards.
func (b *ShmBacking) Access(fn func(pixels []byte)) error {
	b.mapping.mu.RLock()
	defer b.mapping.mu.RUnlock()
	end := int(b.Offset) + int(b.Stride)*int(b.Height)
	if b.mapping.data == nil || end > len(b.mapping.data) {
		return ErrDestroyed
	}
	fn(b.mapping.data[b.Offset:end])
	return nil
}

type shm struct {
	Resource
}

func (s *shm) Interface() string {
	return "wl_shm"
}

func (s *shm) Teardown() {}

func bindShm(client *Client, id, version uint32) error {
	s := &shm{Resource: NewResource(client, id, version)}
	if err := client.Add(s); err != nil {
		return err
	}
	for _, f := range shmFormats {
		s.Send(s.Event(shmEventFormat).Uint(f))
	}
	return nil
}

func (s *shm) Dispatch(msg *wire.Message) error {
	if msg.Opcode != shmRequestCreatePool {
		return InvalidMethod(s.Interface(), s.id, msg.Opcode)
	}
	dec := msg.Decoder()
	id := dec.NewID()
	fd := dec.FD()
	size := dec.Int()
	if err := dec.Err(); err != nil {
		if fd >= 0 {
			unix.Close(fd)
		}
		return Malformed(s.Interface(), msg.Opcode, err)
	}
	if size <= 0 {
		unix.Close(fd)
		return NewProtocolError(s.id, ShmErrorInvalidStride, "invalid size (%d)", size)
	}
	data, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return NewProtocolError(s.id, ShmErrorInvalidFD, "failed mmap fd %d: %v", fd, err)
	}
	m := &shmMapping{fd: fd, data: data}
	pool := &ShmPool{Resource: NewResource(s.client, id, s.version), mapping: m, unpin: m.ref()}
	if err := s.client.Add(pool); err != nil {
		pool.unpin()
		return err
	}
	return nil
}

// ShmPool is wl_shm_pool.
type ShmPool struct {
	Resource
	mapping *shmMapping
	unpin   func()
}

func (p *ShmPool) Interface() string {
	return "wl_shm_pool"
}

func (p *ShmPool) Teardown() {
	p.unpin()
}

func (p *ShmPool) Dispatch(msg *wire.Message) error {
	dec := msg.Decoder()
	switch msg.Opcode {
	case shmPoolRequestCreateBuffer:
		id := dec.NewID()
		offset, width, height, stride := dec.Int(), dec.Int(), dec.Int(), dec.Int()
		format := dec.Uint()
		if err := dec.Err(); err != nil {
			return Malformed(p.Interface(), msg.Opcode, err)
		}
		return p.createBuffer(id, offset, width, height, stride, format)
	case shmPoolRequestDestroy:
		p.client.Remove(p)
		return nil
	case shmPoolRequestResize:
		size := dec.Int()
		if err := dec.Err(); err != nil {
			return Malformed(p.Interface(), msg.Opcode, err)
		}
		if int(size) < p.mapping.size() {
			return NewProtocolError(p.id, ShmErrorInvalidStride, "shrinking pool invalid")
		}
		if err := p.mapping.remap(int(size)); err != nil {
			return NewProtocolError(p.id, ShmErrorInvalidFD, "failed mremap: %v", err)
		}
		return nil
	}
	return InvalidMethod(p.Interface(), p.id, msg.Opcode)
}

func (p *ShmPool) createBuffer(id uint32, offset, width, height, stride int32, format uint32) error {
	valid := false
	for _, f := range shmFormats {
		valid = valid || f == format
	}
	if !valid {
		return NewProtocolError(p.id, ShmErrorInvalidFormat, "invalid format 0x%x", format)
	}
	if offset < 0 || width <= 0 || height <= 0 || stride < width*4 ||
		int64(offset)+int64(stride)*int64(height) > int64(p.mapping.size()) {
		return NewProtocolError(p.id, ShmErrorInvalidStride,
			"invalid width, height or stride (%dx%d, %d)", width, height, stride)
	}
	backing := &ShmBacking{
		mapping: p.mapping,
		Offset:  offset,
		Width:   width,
		Height:  height,
		Stride:  stride,
		Format:  format,
	}
	buf, err := NewBuffer(p.client, id, backing)
	if err != nil {
		return err
	}
	buf.acquire = p.mapping.ref
	buf.onDestroy = p.mapping.ref()
	return nil
}
