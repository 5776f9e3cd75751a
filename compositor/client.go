// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package compositor

import (
	"errors"
	"io"
	"sort"

	"github.com/mstarongithub/wlcore/wire"
	"github.com/sirupsen/logrus"
)

const (
	displayObjectID = 1
	// serverIDStart is the first id of the range the server allocates from.
	serverIDStart = 0xff000000
)

// Client is one connected peer. It owns every protocol object the peer
// created; destroying the client destroys all of them.
type Client struct {
	comp  *Compositor
	id    uint64
	conn  wire.MessageWriter
	close io.Closer
	creds wire.Credentials

	objects      map[uint32]Object
	nextServerID uint32
	registries   []*registry

	destroyListeners []func(*Client)
	destroyed        bool
	sendFailed       bool
}

func newClient(comp *Compositor, id uint64, conn wire.MessageWriter, creds wire.Credentials) *Client {
	c := &Client{
		comp:         comp,
		id:           id,
		conn:         conn,
		creds:        creds,
		objects:      make(map[uint32]Object),
		nextServerID: serverIDStart,
	}
	c.objects[displayObjectID] = &display{Resource: NewResource(c, displayObjectID, 1)}
	return c
}

func (c *Client) ID() uint64 {
	return c.id
}

func (c *Client) Credentials() wire.Credentials {
	return c.creds
}

func (c *Client) Compositor() *Compositor {
	return c.comp
}

func (c *Client) Destroyed() bool {
	return c.destroyed
}

func (c *Client) log() *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"client": c.id,
		"pid":    c.creds.PID,
	})
}

// Get returns the object with the given id or nil.
func (c *Client) Get(id uint32) Object {
	return c.objects[id]
}

// Add registers a new object. Reusing a live id is a protocol error.
func (c *Client) Add(obj Object) error {
	id := obj.ID()
	if _, ok := c.objects[id]; ok || id == 0 {
		return NewProtocolError(displayObjectID, DisplayErrorInvalidObject, "invalid new id %d for %s", id, obj.Interface())
	}
	c.objects[id] = obj
	return nil
}

// AllocateServerID returns a fresh id from the server range, used for
// objects the server creates on its own such as data offers.
func (c *Client) AllocateServerID() uint32 {
	id := c.nextServerID
	c.nextServerID++
	return id
}

// Remove tears down a client destroyed object and acknowledges the id.
func (c *Client) Remove(obj Object) {
	id := obj.ID()
	if c.objects[id] != obj {
		return
	}
	delete(c.objects, id)
	obj.Teardown()
	if id < serverIDStart {
		c.Send(wire.NewEvent(displayObjectID, displayEventDeleteID).Uint(id))
	}
}

// Send delivers an event. Failures are logged once; the reader side will
// notice the broken connection and tear the client down.
func (c *Client) Send(b *wire.Builder) {
	if c.destroyed || c.sendFailed {
		return
	}
	if err := c.conn.WriteMessage(b.Message()); err != nil {
		c.sendFailed = true
		c.log().WithError(err).Warnln("Failed to send event")
	}
}

// PostError reports a fatal protocol error and disconnects the client.
func (c *Client) PostError(perr *ProtocolError) {
	if c.destroyed {
		return
	}
	c.log().WithFields(logrus.Fields{
		"object": perr.Object,
		"code":   perr.Code,
	}).Warnln("Protocol error: " + perr.Message)
	c.Send(wire.NewEvent(displayObjectID, displayEventError).
		Object(perr.Object).
		Uint(perr.Code).
		String(perr.Message))
	c.Destroy()
}

// Dispatch routes one request to its object.
func (c *Client) Dispatch(msg *wire.Message) {
	if c.destroyed {
		return
	}
	obj := c.objects[msg.Sender]
	if obj == nil {
		c.PostError(NewProtocolError(displayObjectID, DisplayErrorInvalidObject, "invalid object %d", msg.Sender))
		return
	}
	err := obj.Dispatch(msg)
	if err == nil {
		return
	}
	var perr *ProtocolError
	if errors.As(err, &perr) {
		c.PostError(perr)
		return
	}
	c.log().WithError(err).WithFields(logrus.Fields{
		"object":    msg.Sender,
		"interface": obj.Interface(),
		"opcode":    msg.Opcode,
	}).Errorln("Request failed")
}

// OnDestroy registers fn to run when the client is destroyed.
func (c *Client) OnDestroy(fn func(*Client)) {
	c.destroyListeners = append(c.destroyListeners, fn)
}

// Destroy tears down every object, newest first, then closes the
// connection.
func (c *Client) Destroy() {
	if c.destroyed {
		return
	}
	// Nothing may be sent while objects go away.
	c.destroyed = true
	ids := make([]uint32, 0, len(c.objects))
	for id := range c.objects {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	for _, id := range ids {
		obj, ok := c.objects[id]
		if !ok {
			continue
		}
		delete(c.objects, id)
		obj.Teardown()
	}
	for _, fn := range c.destroyListeners {
		fn(c)
	}
	c.destroyListeners = nil
	if c.close != nil {
		if err := c.close.Close(); err != nil {
			c.log().WithError(err).Debugln("Closing connection")
		}
	}
	c.comp.removeClient(c)
	c.log().Debugln("Client destroyed")
}
