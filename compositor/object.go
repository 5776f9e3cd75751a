// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package compositor

import (
	"github.com/mstarongithub/wlcore/wire"
)

// Object is a protocol object owned by one client.
type Object interface {
	ID() uint32
	Interface() string
	// Dispatch handles one request. Returning a *ProtocolError disconnects
	// the client.
	Dispatch(msg *wire.Message) error
	// Teardown releases server side state. It is called exactly once, when
	// the object is destroyed by request or when its client goes away.
	Teardown()
}

// Resource carries the bookkeeping every protocol object shares.
type Resource struct {
	client  *Client
	id      uint32
	version uint32
}

func NewResource(client *Client, id, version uint32) Resource {
	return Resource{client: client, id: id, version: version}
}

func (r *Resource) ID() uint32 {
	return r.id
}

func (r *Resource) Client() *Client {
	return r.client
}

func (r *Resource) Version() uint32 {
	return r.version
}

// Event starts an event sent from this object.
func (r *Resource) Event(opcode uint16) *wire.Builder {
	return wire.NewEvent(r.id, opcode)
}

// Send queues an event to the owning client.
func (r *Resource) Send(b *wire.Builder) {
	r.client.Send(b)
}

// lookup resolves an object argument. A null id yields the zero value and
// no error; callers decide whether null is acceptable.
func lookup[T Object](c *Client, id uint32, iface string) (T, error) {
	var zero T
	if id == 0 {
		return zero, nil
	}
	obj := c.Get(id)
	if obj == nil {
		return zero, NewProtocolError(displayObjectID, DisplayErrorInvalidObject, "unknown object %d, expected %s", id, iface)
	}
	typed, ok := obj.(T)
	if !ok {
		return zero, NewProtocolError(displayObjectID, DisplayErrorInvalidObject, "object %d is a %s, expected %s", id, obj.Interface(), iface)
	}
	return typed, nil
}

// LookupSurface resolves a wl_surface argument for protocol objects
// implemented outside this package.
func LookupSurface(c *Client, id uint32) (*Surface, error) {
	return lookup[*Surface](c, id, "wl_surface")
}

// LookupSeat resolves a wl_seat argument to its seat.
func LookupSeat(c *Client, id uint32) (*Seat, error) {
	r, err := lookup[*seatResource](c, id, "wl_seat")
	if err != nil || r == nil {
		return nil, err
	}
	return r.seat, nil
}

// LookupOutput resolves a wl_output argument to its output.
func LookupOutput(c *Client, id uint32) (*Output, error) {
	r, err := lookup[*outputResource](c, id, "wl_output")
	if err != nil || r == nil {
		return nil, err
	}
	return r.output, nil
}
