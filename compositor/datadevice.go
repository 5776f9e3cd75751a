// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package compositor

import (
	"github.com/mstarongithub/wlcore/wire"
	"golang.org/x/sys/unix"
)

const (
	dataDeviceManagerRequestCreateSource = 0
	dataDeviceManagerRequestGetDevice    = 1

	dataSourceRequestOffer      = 0
	dataSourceRequestDestroy    = 1
	dataSourceRequestSetActions = 2

	dataSourceEventTarget           = 0
	dataSourceEventSend             = 1
	dataSourceEventCancelled        = 2
	dataSourceEventDndDropPerformed = 3
	dataSourceEventDndFinished      = 4

	dataDeviceRequestStartDrag    = 0
	dataDeviceRequestSetSelection = 1
	dataDeviceRequestRelease      = 2

	dataDeviceEventDataOffer = 0
	dataDeviceEventEnter     = 1
	dataDeviceEventLeave     = 2
	dataDeviceEventMotion    = 3
	dataDeviceEventDrop      = 4
	dataDeviceEventSelection = 5

	dataOfferRequestAccept     = 0
	dataOfferRequestReceive    = 1
	dataOfferRequestDestroy    = 2
	dataOfferRequestFinish     = 3
	dataOfferRequestSetActions = 4

	dataOfferEventOffer = 0

	dataDeviceManagerVersion = 3
)

// wl_data_device error codes.
const (
	DataDeviceErrorRole = 0
)

type dataDeviceManager struct {
	Resource
	comp *Compositor
}

func (m *dataDeviceManager) Interface() string {
	return "wl_data_device_manager"
}

func (m *dataDeviceManager) Teardown() {}

func (m *dataDeviceManager) Dispatch(msg *wire.Message) error {
	dec := msg.Decoder()
	switch msg.Opcode {
	case dataDeviceManagerRequestCreateSource:
		id := dec.NewID()
		if err := dec.Err(); err != nil {
			return Malformed(m.Interface(), msg.Opcode, err)
		}
		return m.client.Add(&DataSource{Resource: NewResource(m.client, id, m.version)})
	case dataDeviceManagerRequestGetDevice:
		id := dec.NewID()
		seatID := dec.Object()
		if err := dec.Err(); err != nil {
			return Malformed(m.Interface(), msg.Opcode, err)
		}
		sr, err := lookup[*seatResource](m.client, seatID, "wl_seat")
		if err != nil {
			return err
		}
		if sr == nil {
			return Malformed(m.Interface(), msg.Opcode, wire.ErrNullNotAllowed)
		}
		dev := &DataDevice{Resource: NewResource(m.client, id, m.version), seat: sr.seat}
		if err := m.client.Add(dev); err != nil {
			return err
		}
		sr.seat.dataDevices = append(sr.seat.dataDevices, dev)
		if f := sr.seat.keyboard.focus; f != nil && f.client == m.client {
			dev.sendSelection(sr.seat.selection)
		}
		return nil
	}
	return InvalidMethod(m.Interface(), m.id, msg.Opcode)
}

// DataSource is wl_data_source, the offering side of a selection or drag.
type DataSource struct {
	Resource
	mimeTypes []string
	offers    []*DataOffer
	seat      *Seat
	drag      *DragGrab
	destroyed bool
}

func (src *DataSource) Interface() string {
	return "wl_data_source"
}

func (src *DataSource) MimeTypes() []string {
	return append([]string(nil), src.mimeTypes...)
}

// Offer adds a mime type. Sources are immutable once in use, later offers
// only reach offers created afterwards.
func (src *DataSource) Offer(mime string) {
	src.mimeTypes = append(src.mimeTypes, mime)
}

func (src *DataSource) cancel() {
	if !src.destroyed {
		src.Send(src.Event(dataSourceEventCancelled))
	}
}

func (src *DataSource) Teardown() {
	src.destroyed = true
	if src.seat != nil && src.seat.selection == src {
		src.seat.SetSelection(nil)
	}
	if src.drag != nil {
		src.drag.sourceGone()
	}
	for _, o := range src.offers {
		o.source = nil
	}
	src.offers = nil
}

func (src *DataSource) Dispatch(msg *wire.Message) error {
	dec := msg.Decoder()
	switch msg.Opcode {
	case dataSourceRequestOffer:
		mime := dec.String()
		if err := dec.Err(); err != nil {
			return Malformed(src.Interface(), msg.Opcode, err)
		}
		src.Offer(mime)
		return nil
	case dataSourceRequestDestroy:
		src.client.Remove(src)
		return nil
	case dataSourceRequestSetActions:
		// Drag and drop actions are not negotiated; copy is implied.
		dec.Uint()
		if err := dec.Err(); err != nil {
			return Malformed(src.Interface(), msg.Opcode, err)
		}
		return nil
	}
	return InvalidMethod(src.Interface(), src.id, msg.Opcode)
}

// DataDevice is wl_data_device.
type DataDevice struct {
	Resource
	seat *Seat
}

func (dev *DataDevice) Interface() string {
	return "wl_data_device"
}

func (dev *DataDevice) Teardown() {
	seat := dev.seat
	for i, have := range seat.dataDevices {
		if have == dev {
			seat.dataDevices = append(seat.dataDevices[:i], seat.dataDevices[i+1:]...)
			return
		}
	}
}

func (dev *DataDevice) Dispatch(msg *wire.Message) error {
	dec := msg.Decoder()
	switch msg.Opcode {
	case dataDeviceRequestStartDrag:
		sourceID, originID, iconID := dec.Object(), dec.Object(), dec.Object()
		serial := dec.Uint()
		if err := dec.Err(); err != nil {
			return Malformed(dev.Interface(), msg.Opcode, err)
		}
		src, err := lookup[*DataSource](dev.client, sourceID, "wl_data_source")
		if err != nil {
			return err
		}
		origin, err := lookup[*Surface](dev.client, originID, "wl_surface")
		if err != nil {
			return err
		}
		icon, err := lookup[*Surface](dev.client, iconID, "wl_surface")
		if err != nil {
			return err
		}
		if origin == nil {
			return Malformed(dev.Interface(), msg.Opcode, wire.ErrNullNotAllowed)
		}
		_, err = dev.seat.StartDrag(src, origin, icon, serial)
		if err == ErrAlreadyHasRole {
			return NewProtocolError(dev.id, DataDeviceErrorRole, "drag icon wl_surface@%d has another role", iconID)
		}
		if err != nil {
			dev.seat.log().WithError(err).Debugln("Drag refused")
			if src != nil {
				src.cancel()
			}
		}
		return nil
	case dataDeviceRequestSetSelection:
		sourceID := dec.Object()
		serial := dec.Uint()
		if err := dec.Err(); err != nil {
			return Malformed(dev.Interface(), msg.Opcode, err)
		}
		src, err := lookup[*DataSource](dev.client, sourceID, "wl_data_source")
		if err != nil {
			return err
		}
		if f := dev.seat.keyboard.focus; f == nil || f.client != dev.client {
			dev.seat.log().WithField("serial", serial).Debugln("Ignoring selection from client without keyboard focus")
			if src != nil {
				src.cancel()
			}
			return nil
		}
		dev.seat.SetSelection(src)
		return nil
	case dataDeviceRequestRelease:
		dev.client.Remove(dev)
		return nil
	}
	return InvalidMethod(dev.Interface(), dev.id, msg.Opcode)
}

// newOffer creates a server side wl_data_offer for src on this device and
// announces its mime types.
func (dev *DataDevice) newOffer(src *DataSource, dnd bool) *DataOffer {
	offer := &DataOffer{
		Resource: NewResource(dev.client, dev.client.AllocateServerID(), dev.version),
		source:   src,
		dnd:      dnd,
	}
	if err := dev.client.Add(offer); err != nil {
		dev.seat.log().WithError(err).Errorln("Failed to create data offer")
		return nil
	}
	src.offers = append(src.offers, offer)
	dev.Send(dev.Event(dataDeviceEventDataOffer).NewID(offer.id))
	for _, mime := range src.mimeTypes {
		offer.Send(offer.Event(dataOfferEventOffer).String(mime))
	}
	return offer
}

func (dev *DataDevice) sendSelection(src *DataSource) {
	if src == nil {
		dev.Send(dev.Event(dataDeviceEventSelection).Object(0))
		return
	}
	offer := dev.newOffer(src, false)
	if offer == nil {
		return
	}
	dev.Send(dev.Event(dataDeviceEventSelection).Object(offer.id))
}

func (seat *Seat) dataDevicesOf(c *Client) []*DataDevice {
	var out []*DataDevice
	for _, d := range seat.dataDevices {
		if d.client == c {
			out = append(out, d)
		}
	}
	return out
}

// Selection returns the current clipboard source or nil.
func (seat *Seat) Selection() *DataSource {
	return seat.selection
}

// SetSelection replaces the clipboard. The previous source is cancelled and
// the keyboard focused client is offered the new one.
func (seat *Seat) SetSelection(src *DataSource) {
	old := seat.selection
	if old == src {
		return
	}
	if old != nil && !old.destroyed {
		old.cancel()
	}
	seat.selection = src
	if src != nil {
		src.seat = seat
	}
	if f := seat.keyboard.focus; f != nil {
		seat.offerSelection(f.client)
	}
}

func (seat *Seat) offerSelection(c *Client) {
	for _, dev := range seat.dataDevicesOf(c) {
		dev.sendSelection(seat.selection)
	}
}

// DataOffer is wl_data_offer, created by the server for a receiving client.
type DataOffer struct {
	Resource
	source *DataSource
	dnd    bool
}

func (o *DataOffer) Interface() string {
	return "wl_data_offer"
}

func (o *DataOffer) Teardown() {
	if o.source == nil {
		return
	}
	offers := o.source.offers
	for i, have := range offers {
		if have == o {
			o.source.offers = append(offers[:i], offers[i+1:]...)
			break
		}
	}
}

func (o *DataOffer) Dispatch(msg *wire.Message) error {
	dec := msg.Decoder()
	switch msg.Opcode {
	case dataOfferRequestAccept:
		dec.Uint()
		mime := dec.String()
		if err := dec.Err(); err != nil {
			return Malformed(o.Interface(), msg.Opcode, err)
		}
		if o.dnd && o.source != nil {
			if mime == "" {
				o.source.Send(o.source.Event(dataSourceEventTarget).Uint(0))
			} else {
				o.source.Send(o.source.Event(dataSourceEventTarget).String(mime))
			}
		}
		return nil
	case dataOfferRequestReceive:
		mime := dec.String()
		fd := dec.FD()
		if err := dec.Err(); err != nil {
			if fd >= 0 {
				unix.Close(fd)
			}
			return Malformed(o.Interface(), msg.Opcode, err)
		}
		// The fd is passed on to the source client, our copy is closed.
		defer unix.Close(fd)
		if o.source != nil && !o.source.destroyed {
			o.source.Send(o.source.Event(dataSourceEventSend).String(mime).FD(fd))
		}
		return nil
	case dataOfferRequestDestroy:
		o.client.Remove(o)
		return nil
	case dataOfferRequestFinish:
		if o.dnd && o.source != nil && o.source.version >= 3 {
			o.source.Send(o.source.Event(dataSourceEventDndFinished))
		}
		return nil
	case dataOfferRequestSetActions:
		dec.Uint()
		dec.Uint()
		if err := dec.Err(); err != nil {
			return Malformed(o.Interface(), msg.Opcode, err)
		}
		return nil
	}
	return InvalidMethod(o.Interface(), o.id, msg.Opcode)
}
