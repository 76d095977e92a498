// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

// Package event defines the events a receiver server pushes to its clients.
//
// Every event is a pointer to one of the concrete types in this package, and
// implements either [ReceiverEvent] (scoped to the receiver as a whole) or
// [VFOEvent] (scoped to one channel, identified by a [Handle]). The set of
// types is closed: the interfaces have unexported methods, so code outside
// this package can switch exhaustively over the cases listed by [Kinds].
//
// Events carry only the fields that changed. A client applies them in the
// order received, and the last applied value wins.
package event

import (
	"fmt"
	"time"

	"github.com/creachadair/rxctl/packet"
)

// A Handle is the server-assigned identifier of a VFO channel. Handles are
// unique among live channels; whether a handle is reused after removal is up
// to the server.
type Handle uint64

func (h Handle) String() string { return fmt.Sprintf("vfo#%d", uint64(h)) }

// An Event is a timestamped notification from the server.
type Event interface {
	// Kind reports the kind of the event.
	Kind() Kind

	// Time reports when the server generated the event.
	Time() time.Time

	setTime(time.Time)
	encode(*packet.Builder)
	decode(*packet.Scanner) error
}

// A ReceiverEvent is an event scoped to the receiver as a whole.
type ReceiverEvent interface {
	Event
	receiverEvent()
}

// A VFOEvent is an event scoped to a single VFO channel.
type VFOEvent interface {
	Event

	// VFO reports the handle of the channel the event refers to.
	VFO() Handle

	setVFO(Handle)
}

// Header is embedded in every receiver event.
type Header struct {
	At time.Time
}

func (h Header) Time() time.Time      { return h.At }
func (h *Header) setTime(t time.Time) { h.At = t }
func (Header) receiverEvent()         {}

// VFOHeader is embedded in every VFO event.
type VFOHeader struct {
	At     time.Time
	Handle Handle
}

func (h VFOHeader) Time() time.Time      { return h.At }
func (h *VFOHeader) setTime(t time.Time) { h.At = t }
func (h VFOHeader) VFO() Handle          { return h.Handle }
func (h *VFOHeader) setVFO(v Handle)     { h.Handle = v }

// Stamp sets the time of e to t and returns e.
func Stamp[E Event](e E, t time.Time) E { e.setTime(t); return e }

// For sets the handle of e to h and returns e.
func For[E VFOEvent](h Handle, e E) E { e.setVFO(h); return e }
