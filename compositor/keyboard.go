// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package compositor

import (
	"encoding/binary"

	"github.com/mstarongithub/wlcore/wire"
	"golang.org/x/sys/unix"
)

const (
	keyboardRequestRelease = 0

	keyboardEventKeymap     = 0
	keyboardEventEnter      = 1
	keyboardEventLeave      = 2
	keyboardEventKey        = 3
	keyboardEventModifiers  = 4
	keyboardEventRepeatInfo = 5

	keymapFormatNoKeymap = 0
	keymapFormatXKBv1    = 1
)

// Modifiers is the serialized xkb modifier state.
type Modifiers struct {
	Depressed uint32
	Latched   uint32
	Locked    uint32
	Group     uint32
}

type keyboardState struct {
	focus   *Surface
	pressed []uint32
	mods    Modifiers

	keymap      string
	repeatRate  int32
	repeatDelay int32
}

// Keyboard is wl_keyboard.
type Keyboard struct {
	Resource
	seat *Seat
}

func (k *Keyboard) Interface() string {
	return "wl_keyboard"
}

func (k *Keyboard) Teardown() {
	seat := k.seat
	for i, have := range seat.keyboards {
		if have == k {
			seat.keyboards = append(seat.keyboards[:i], seat.keyboards[i+1:]...)
			return
		}
	}
}

func (k *Keyboard) Dispatch(msg *wire.Message) error {
	if msg.Opcode != keyboardRequestRelease {
		return InvalidMethod(k.Interface(), k.id, msg.Opcode)
	}
	k.client.Remove(k)
	return nil
}

// sendKeymap shares the keymap through a sealed memfd. Without a keymap
// the client is told so and gets /dev/null.
func (k *Keyboard) sendKeymap() {
	keymap := k.seat.keyboard.keymap
	if keymap == "" {
		fd, err := unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
		if err != nil {
			k.seat.log().WithError(err).Warnln("Opening /dev/null for keymap")
			return
		}
		defer unix.Close(fd)
		k.Send(k.Event(keyboardEventKeymap).Uint(keymapFormatNoKeymap).FD(fd).Uint(0))
		return
	}
	fd, size, err := keymapFD(keymap)
	if err != nil {
		k.seat.log().WithError(err).Errorln("Failed to share keymap")
		return
	}
	defer unix.Close(fd)
	k.Send(k.Event(keyboardEventKeymap).Uint(keymapFormatXKBv1).FD(fd).Uint(size))
}

func keymapFD(keymap string) (int, uint32, error) {
	fd, err := unix.MemfdCreate("way2gay-keymap", unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err != nil {
		return -1, 0, err
	}
	data := append([]byte(keymap), 0)
	for off := 0; off < len(data); {
		n, err := unix.Write(fd, data[off:])
		if err != nil {
			unix.Close(fd)
			return -1, 0, err
		}
		off += n
	}
	// Clients map the keymap, they must not be able to change it under us.
	_, _ = unix.FcntlInt(uintptr(fd), unix.F_ADD_SEALS, unix.F_SEAL_SHRINK|unix.F_SEAL_GROW|unix.F_SEAL_WRITE)
	return fd, uint32(len(data)), nil
}

func (k *Keyboard) sendEnter(serial uint32, s *Surface) {
	keys := make([]byte, 0, 4*len(k.seat.keyboard.pressed))
	for _, key := range k.seat.keyboard.pressed {
		keys = binary.LittleEndian.AppendUint32(keys, key)
	}
	k.Send(k.Event(keyboardEventEnter).Uint(serial).Object(s.id).Array(keys))
	m := k.seat.keyboard.mods
	k.Send(k.Event(keyboardEventModifiers).Uint(serial).Uint(m.Depressed).Uint(m.Latched).Uint(m.Locked).Uint(m.Group))
}

func (seat *Seat) keyboardsOf(c *Client) []*Keyboard {
	var out []*Keyboard
	for _, k := range seat.keyboards {
		if k.client == c {
			out = append(out, k)
		}
	}
	return out
}

// KeyboardFocus returns the focused surface or nil.
func (seat *Seat) KeyboardFocus() *Surface {
	return seat.keyboard.focus
}

// SetKeyboardFocus moves keyboard focus. Inactive transients are refused,
// in which case focus stays where it was and false is returned. On success
// the new client is offered the current selection.
func (seat *Seat) SetKeyboardFocus(s *Surface) bool {
	if s != nil && (s.destroyed || s.transientInactive) {
		return false
	}
	old := seat.keyboard.focus
	if old == s {
		return true
	}
	if old != nil {
		serial := seat.comp.NextSerial()
		for _, k := range seat.keyboardsOf(old.client) {
			k.Send(k.Event(keyboardEventLeave).Uint(serial).Object(old.id))
		}
	}
	seat.keyboard.focus = s
	if s == nil {
		return true
	}
	serial := seat.comp.NextSerial()
	for _, k := range seat.keyboardsOf(s.client) {
		k.sendEnter(serial, s)
	}
	if old == nil || old.client != s.client {
		seat.offerSelection(s.client)
	}
	return true
}

// KeyboardKey delivers a key in evdev codes and returns its serial.
func (seat *Seat) KeyboardKey(time, key uint32, pressed bool) uint32 {
	if pressed {
		seat.keyboard.pressed = append(seat.keyboard.pressed, key)
	} else {
		for i, have := range seat.keyboard.pressed {
			if have == key {
				seat.keyboard.pressed = append(seat.keyboard.pressed[:i], seat.keyboard.pressed[i+1:]...)
				break
			}
		}
	}
	serial := seat.comp.NextSerial()
	focus := seat.keyboard.focus
	if focus == nil {
		return serial
	}
	state := uint32(0)
	if pressed {
		state = 1
	}
	for _, k := range seat.keyboardsOf(focus.client) {
		k.Send(k.Event(keyboardEventKey).Uint(serial).Uint(time).Uint(key).Uint(state))
	}
	return serial
}

// KeyboardModifiers updates and forwards the modifier state.
func (seat *Seat) KeyboardModifiers(m Modifiers) {
	if m == seat.keyboard.mods {
		return
	}
	seat.keyboard.mods = m
	focus := seat.keyboard.focus
	if focus == nil {
		return
	}
	serial := seat.comp.NextSerial()
	for _, k := range seat.keyboardsOf(focus.client) {
		k.Send(k.Event(keyboardEventModifiers).Uint(serial).Uint(m.Depressed).Uint(m.Latched).Uint(m.Locked).Uint(m.Group))
	}
}

// SetKeymap replaces the keymap and resends it to every keyboard.
func (seat *Seat) SetKeymap(keymap string) {
	seat.keyboard.keymap = keymap
	for _, k := range seat.keyboards {
		k.sendKeymap()
	}
}

// SetRepeatInfo changes key repeat, rate in keys per second and delay in
// milliseconds.
func (seat *Seat) SetRepeatInfo(rate, delay int32) {
	seat.keyboard.repeatRate, seat.keyboard.repeatDelay = rate, delay
	for _, k := range seat.keyboards {
		if k.version >= 4 {
			k.Send(k.Event(keyboardEventRepeatInfo).Int(rate).Int(delay))
		}
	}
}
