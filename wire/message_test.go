// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package wire

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixed(t *testing.T) {
	tests := []struct {
		input float64
		raw   Fixed
	}{
		{1.0, 256},
		{0.5, 128},
		{-1.5, -384},
		{0, 0},
		{100.25, 25664},
	}
	for _, test := range tests {
		f := FixedFromFloat(test.input)
		assert.Equal(t, test.raw, f, "input %f", test.input)
		assert.InDelta(t, test.input, f.Float(), 0.004)
	}
	assert.Equal(t, 3, FixedFromInt(3).Int())
}

func TestBuilderEncoding(t *testing.T) {
	msg := NewEvent(5, 2).
		Uint(0x12345678).
		Int(-1).
		String("test").
		Array([]byte{1, 2, 3}).
		Message()

	buf, err := msg.MarshalBinary()
	require.NoError(t, err)

	want := []byte{
		0x05, 0x00, 0x00, 0x00, 0x02, 0x00, 0x24, 0x00, // id 5, opcode 2, size 36
		0x78, 0x56, 0x34, 0x12,
		0xff, 0xff, 0xff, 0xff,
		0x05, 0x00, 0x00, 0x00, 't', 'e', 's', 't', 0x00, 0x00, 0x00, 0x00,
		0x03, 0x00, 0x00, 0x00, 0x01, 0x02, 0x03, 0x00,
	}
	assert.Equal(t, want, buf)

	sender, opcode, size := ParseHeader(buf)
	assert.Equal(t, uint32(5), sender)
	assert.Equal(t, uint16(2), opcode)
	assert.Equal(t, len(want), size)
}

func TestDecoderReadsArguments(t *testing.T) {
	msg := NewMessage(3, 1).
		Object(7).
		Fixed(FixedFromFloat(2.5)).
		String("hello").
		String("").
		Message()

	d := msg.Decoder()
	assert.Equal(t, uint32(7), d.Object())
	assert.Equal(t, 2.5, d.Fixed().Float())
	assert.Equal(t, "hello", d.String())
	assert.Equal(t, "", d.String())
	assert.NoError(t, d.Err())
}

func TestDecoderShortMessage(t *testing.T) {
	msg := &Message{Sender: 1, Opcode: 0, Body: []byte{1, 0}}
	d := msg.Decoder()
	assert.Equal(t, uint32(0), d.Uint())
	assert.ErrorIs(t, d.Err(), ErrShortMessage)
	// errors stick
	assert.Equal(t, int32(0), d.Int())
	assert.ErrorIs(t, d.Err(), ErrShortMessage)
}

func TestDecoderNullNewID(t *testing.T) {
	d := NewMessage(1, 0).Uint(0).Message().Decoder()
	d.NewID()
	assert.ErrorIs(t, d.Err(), ErrNullNotAllowed)
}

func TestDecoderMissingFD(t *testing.T) {
	d := NewMessage(1, 0).Message().Decoder()
	assert.Equal(t, -1, d.FD())
	assert.ErrorIs(t, d.Err(), ErrMissingFD)
}

func TestMessageTooBig(t *testing.T) {
	msg := NewEvent(1, 0).Array(make([]byte, MaxMessageSize)).Message()
	_, err := msg.MarshalBinary()
	assert.ErrorIs(t, err, ErrMessageTooBig)
}

func TestPairRoundTripWithFD(t *testing.T) {
	server, client, err := Pair()
	require.NoError(t, err)
	defer server.Close()
	defer client.Close()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	out := NewMessage(9, 4).Uint(42).FD(int(r.Fd())).String("x").Message()
	require.NoError(t, client.WriteMessage(out))
	require.NoError(t, client.WriteMessage(NewMessage(9, 5).Message()))

	in, err := server.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, uint32(9), in.Sender)
	assert.Equal(t, uint16(4), in.Opcode)

	d := in.Decoder()
	assert.Equal(t, uint32(42), d.Uint())
	fd := d.FD()
	assert.Equal(t, "x", d.String())
	require.NoError(t, d.Err())
	assert.GreaterOrEqual(t, fd, 0)
	os.NewFile(uintptr(fd), "received").Close()

	in, err = server.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, uint16(5), in.Opcode)
	assert.Empty(t, in.Body)
}

func TestPairCredentials(t *testing.T) {
	server, client, err := Pair()
	require.NoError(t, err)
	defer server.Close()
	defer client.Close()

	creds, err := server.Credentials()
	require.NoError(t, err)
	assert.Equal(t, int32(os.Getpid()), creds.PID)
	assert.Equal(t, uint32(os.Getuid()), creds.UID)
}
