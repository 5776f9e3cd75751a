// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package multiplexer

import (
	"errors"
	"sync"
)

// How many messages a receiver can lag behind before it starts missing messages
const receiverBuffer = 64

// A one to many multiplexer
// Every message sent into it gets copied to all receivers
// Receivers that don't keep up miss messages instead of blocking everyone else
type OneToMany[T any] struct {
	inbound   chan T
	outbound  map[string]chan T // Use map here to give names to outbound channels
	lock      sync.Mutex
	closeChan chan any
	closed    bool
}

func NewOneToMany[T any]() *OneToMany[T] {
	return &OneToMany[T]{
		inbound:   make(chan T, receiverBuffer),
		outbound:  make(map[string]chan T),
		closeChan: make(chan any),
	}
}

// Get the channel to send things into
func (o *OneToMany[T]) GetSender() chan<- T {
	return o.inbound
}

// Create a new receiver for the multiplexer to send messages to.
// Please do not close this manually, instead use the CloseReceiver func
func (o *OneToMany[T]) MakeReceiver(name string) (<-chan T, error) {
	o.lock.Lock()
	defer o.lock.Unlock()
	if o.closed {
		return nil, ErrClosed
	}
	// Only allow new receivers to be made
	if _, ok := o.outbound[name]; ok {
		return nil, errors.New("receiver with that name already exists")
	}
	rec := make(chan T, receiverBuffer)
	o.outbound[name] = rec
	return rec, nil
}

// Closes a receiver channel with the given name and removes it from the multiplexer
func (o *OneToMany[T]) CloseReceiver(name string) {
	o.lock.Lock()
	defer o.lock.Unlock()
	if o.closed {
		return
	}
	if val, ok := o.outbound[name]; ok {
		close(val)
		delete(o.outbound, name)
	}
}

// Receivers returns the names of all current receivers
func (o *OneToMany[T]) Receivers() []string {
	o.lock.Lock()
	defer o.lock.Unlock()
	names := make([]string, 0, len(o.outbound))
	for name := range o.outbound {
		names = append(names, name)
	}
	return names
}

// Start this one to many multiplexer
// intended to run as a goroutine (`go plexer.StartPlexer()`)
// Runs until CloseSender is called
func (o *OneToMany[T]) StartPlexer() {
	for {
		select {
		// Message gotten from inbound channel
		case msg := <-o.inbound:
			o.lock.Lock()
			// Send it to all outbound channels, skipping those that are full
			for _, c := range o.outbound {
				select {
				case c <- msg:
				default:
				}
			}
			o.lock.Unlock()
		// Told to close the plexer
		case <-o.closeChan:
			o.lock.Lock()
			// Close all outbound channels
			// No need to send any signal there as readers will just stop
			// Inbound stays open so late senders don't panic, nobody reads it anymore
			for name, c := range o.outbound {
				close(c)
				delete(o.outbound, name)
			}
			o.closed = true
			o.lock.Unlock()
			return
		}
	}
}

// Close all receiver channels, mark the plexer as closed and stop the distribution goroutine (all by sending one signal)
// Must only be called while StartPlexer is running
func (o *OneToMany[T]) CloseSender() {
	o.closeChan <- 1
}
