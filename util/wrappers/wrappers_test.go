// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package wrappers

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
)

func TestReaderWrapperStopsAfterClose(t *testing.T) {
	r := NewReaderWrapper(strings.NewReader("hello"))
	buf := make([]byte, 2)
	if n, err := r.Read(buf); err != nil || string(buf[:n]) != "he" {
		t.Fatalf("read %q, %v", buf[:n], err)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Read(buf); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestWriterWrapperStopsAfterClose(t *testing.T) {
	var out bytes.Buffer
	w := NewWriterWrapper(&out)
	if _, err := w.Write([]byte("a")); err != nil {
		t.Fatal(err)
	}
	w.Close()
	if _, err := w.Write([]byte("b")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if out.String() != "a" {
		t.Errorf("wrapped writer got %q", out.String())
	}
}

func TestWriterWrapperConcurrentWrites(t *testing.T) {
	var out bytes.Buffer
	w := NewWriterWrapper(&out)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, _ = w.Write([]byte("xy"))
			}
		}()
	}
	wg.Wait()
	if out.Len() != 8*100*2 {
		t.Errorf("lost writes: %d bytes", out.Len())
	}
	if strings.Contains(out.String(), "xx") {
		t.Error("writes interleaved")
	}
}
