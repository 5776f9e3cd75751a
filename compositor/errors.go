// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package compositor

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyHasRole is returned when a surface that already has a role is
	// given a different one, or the same exclusive role a second time.
	ErrAlreadyHasRole = errors.New("surface already has a role")
	// ErrRoleTaken is returned when an exclusive role is held by another surface.
	ErrRoleTaken = errors.New("exclusive role is held by another surface")
	// ErrStaleSerial is returned when a grab is requested with a serial that
	// does not match the most recent button press.
	ErrStaleSerial = errors.New("serial does not match the latest button press")
	// ErrGrabActive is returned when a grab is started while another one runs.
	ErrGrabActive = errors.New("seat already has an active grab")
	// ErrNotFocused is returned when a grab is requested for a surface that
	// does not have pointer focus.
	ErrNotFocused = errors.New("surface does not have pointer focus")
	// ErrDestroyed is returned by operations on destroyed objects.
	ErrDestroyed = errors.New("object has been destroyed")
	// ErrImportFailed is returned for buffers whose texture import already
	// failed since the last commit.
	ErrImportFailed = errors.New("buffer import failed")
	// ErrInvalidMode is returned for output modes with non positive values.
	ErrInvalidMode = errors.New("invalid output mode")
)

var (
	errBadParent  = errors.New("parent is the surface itself or one of its descendants")
	errNotSibling = errors.New("surface is neither the parent nor a sibling")
)

// wl_display error codes.
const (
	DisplayErrorInvalidObject  = 0
	DisplayErrorInvalidMethod  = 1
	DisplayErrorNoMemory       = 2
	DisplayErrorImplementation = 3
)

// ProtocolError is a client mistake. It is reported with wl_display.error
// and ends only the offending client's connection.
type ProtocolError struct {
	Object  uint32
	Code    uint32
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error on object %d, code %d: %s", e.Object, e.Code, e.Message)
}

func NewProtocolError(object, code uint32, format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{Object: object, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Malformed reports a request whose arguments could not be decoded.
func Malformed(iface string, opcode uint16, err error) *ProtocolError {
	return NewProtocolError(displayObjectID, DisplayErrorInvalidMethod, "invalid arguments for %s opcode %d: %v", iface, opcode, err)
}

func InvalidMethod(iface string, id uint32, opcode uint16) *ProtocolError {
	return NewProtocolError(displayObjectID, DisplayErrorInvalidMethod, "invalid method %d on %s@%d", opcode, iface, id)
}
