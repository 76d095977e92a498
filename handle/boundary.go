// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package handle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/creachadair/rxctl"
	"github.com/creachadair/rxctl/event"
)

// A Boundary exposes receivers and VFOs to foreign callers by handle.
//
// Every entry point reports a Code rather than an error, and recovers from
// panics. Completion callbacks receive the caller's user value unmodified,
// and run on the executor of the receiver concerned. A VFO handle passed to
// a callback carries a reference that the callee must release.
type Boundary struct {
	log  *slog.Logger
	objs *Table[any]
}

// NewBoundary constructs an empty boundary. If log == nil, slog.Default is
// used. Releasing the last reference to a receiver closes it, and releasing
// the last reference to a connection disconnects it.
func NewBoundary(log *slog.Logger) *Boundary {
	if log == nil {
		log = slog.Default()
	}
	b := &Boundary{log: log}
	b.objs = New(b.finalize)
	return b
}

// Event is an event as delivered across the boundary.
type Event struct {
	Kind event.Kind
	Data []byte // as encoded by event.Encode

	// For VFOAdded, a handle to the new VFO; otherwise 0.
	VFO ID
}

// EventFunc receives the events of a subscription.
type EventFunc func(user any, e Event)

// DoneFunc receives the outcome of a command.
type DoneFunc func(user any, code rxctl.Code)

// ValueFunc receives the outcome and result of a command.
type ValueFunc[T any] func(user any, code rxctl.Code, v T)

func (b *Boundary) finalize(v any) {
	ctx := context.Background()
	switch t := v.(type) {
	case *rxctl.Conn:
		if err := t.Close(ctx); err != nil {
			b.log.Warn("close receiver", "err", err)
		}
	case *rxctl.Receiver:
		if err := t.Close(ctx); err != nil {
			b.log.Warn("close receiver", "err", err)
		}
	case *rxctl.Connection:
		t.Disconnect(ctx)
	}
}

// recover converts a panic in a boundary entry point into a code.
func (b *Boundary) recover(code *rxctl.Code) {
	if x := recover(); x != nil {
		b.log.Error("boundary call panicked (recovered)", "err", fmt.Sprint(x))
		*code = rxctl.CodeTransport
	}
}

// Register adds r to b and returns a handle for it with one reference.
func (b *Boundary) Register(r *rxctl.Receiver) ID { return b.objs.Acquire(r) }

// Dial connects to the server at addr as rxctl.Dial does, and returns a
// handle for the receiver with one reference.
func (b *Boundary) Dial(addr string) (_ ID, code rxctl.Code) {
	defer b.recover(&code)
	c, err := rxctl.Dial(context.Background(), addr, &rxctl.DialOptions{
		Options: rxctl.Options{Logger: b.log},
	})
	if err != nil {
		b.log.Warn("dial failed", "addr", addr, "err", err)
		return 0, rxctl.CodeOf(err)
	}
	return b.objs.Acquire(c), rxctl.CodeOK
}

// Retain adds a reference to id.
func (b *Boundary) Retain(id ID) rxctl.Code {
	if b.objs.Retain(id) != nil {
		return rxctl.CodeNotFound
	}
	return rxctl.CodeOK
}

// Release drops a reference to id. The last reference to a receiver must not
// be released from a callback, since closing it waits for its callbacks.
func (b *Boundary) Release(id ID) (code rxctl.Code) {
	defer b.recover(&code)
	if b.objs.Release(id) != nil {
		return rxctl.CodeNotFound
	}
	return rxctl.CodeOK
}

// Len reports the number of live handles.
func (b *Boundary) Len() int { return b.objs.Len() }

func (b *Boundary) receiver(id ID) (*rxctl.Receiver, rxctl.Code) {
	v, err := b.objs.Get(id)
	if err != nil {
		return nil, rxctl.CodeNotFound
	}
	switch t := v.(type) {
	case *rxctl.Receiver:
		return t, rxctl.CodeOK
	case *rxctl.Conn:
		return t.Receiver, rxctl.CodeOK
	}
	return nil, rxctl.CodeNotFound
}

func (b *Boundary) vfo(id ID) (*rxctl.VFO, rxctl.Code) {
	v, err := b.objs.Get(id)
	if err != nil {
		return nil, rxctl.CodeNotFound
	}
	if t, ok := v.(*rxctl.VFO); ok {
		return t, rxctl.CodeOK
	}
	return nil, rxctl.CodeNotFound
}

func done(user any, f DoneFunc) func(context.Context, error) {
	if f == nil {
		return nil
	}
	return func(_ context.Context, err error) { f(user, rxctl.CodeOf(err)) }
}

func value[T any](user any, f ValueFunc[T]) func(context.Context, T, error) {
	if f == nil {
		return nil
	}
	return func(_ context.Context, v T, err error) { f(user, rxctl.CodeOf(err), v) }
}

// withReceiver runs issue on the receiver for id, and reports its code.
func (b *Boundary) withReceiver(id ID, issue func(*rxctl.Receiver) error) (code rxctl.Code) {
	defer b.recover(&code)
	r, code := b.receiver(id)
	if code != rxctl.CodeOK {
		return code
	}
	return rxctl.CodeOf(issue(r))
}

// withVFO runs issue on the VFO for id, and reports its code.
func (b *Boundary) withVFO(id ID, issue func(*rxctl.VFO) error) (code rxctl.Code) {
	defer b.recover(&code)
	v, code := b.vfo(id)
	if code != rxctl.CodeOK {
		return code
	}
	return rxctl.CodeOf(issue(v))
}

// Start starts the receiver rid.
func (b *Boundary) Start(rid ID, user any, f DoneFunc) rxctl.Code {
	return b.withReceiver(rid, func(r *rxctl.Receiver) error {
		return r.Start(context.Background(), done(user, f))
	})
}

// Stop stops the receiver rid.
func (b *Boundary) Stop(rid ID, user any, f DoneFunc) rxctl.Code {
	return b.withReceiver(rid, func(r *rxctl.Receiver) error {
		return r.Stop(context.Background(), done(user, f))
	})
}

// SetRFFreq tunes the receiver rid to hz.
func (b *Boundary) SetRFFreq(rid ID, hz int64, user any, f ValueFunc[int64]) rxctl.Code {
	return b.withReceiver(rid, func(r *rxctl.Receiver) error {
		return r.SetRFFreq(context.Background(), hz, value(user, f))
	})
}

// GetFFTData fills buf with spectrum data from the receiver rid. The caller
// must not use buf until f is called.
func (b *Boundary) GetFFTData(rid ID, buf []float64, user any, f ValueFunc[int]) rxctl.Code {
	return b.withReceiver(rid, func(r *rxctl.Receiver) error {
		return r.GetFFTData(context.Background(), buf, value(user, f))
	})
}

// AddVFO creates a channel on the receiver rid. On success f receives a
// handle for the new VFO.
func (b *Boundary) AddVFO(rid ID, user any, f ValueFunc[ID]) rxctl.Code {
	return b.withReceiver(rid, func(r *rxctl.Receiver) error {
		return r.AddVFO(context.Background(), func(_ context.Context, v *rxctl.VFO, err error) {
			if f == nil {
				return
			}
			var id ID
			if err == nil {
				id = b.objs.Acquire(v)
			}
			f(user, rxctl.CodeOf(err), id)
		})
	})
}

// RemoveVFO removes the channel vid from the receiver rid. The handle vid
// remains valid until it is released.
func (b *Boundary) RemoveVFO(rid, vid ID, user any, f DoneFunc) (code rxctl.Code) {
	defer b.recover(&code)
	v, code := b.vfo(vid)
	if code != rxctl.CodeOK {
		return code
	}
	return b.withReceiver(rid, func(r *rxctl.Receiver) error {
		return r.RemoveChannel(context.Background(), v, done(user, f))
	})
}

// SetDemod selects the demodulator of the VFO vid.
func (b *Boundary) SetDemod(vid ID, d event.Demod, user any, f ValueFunc[event.Demod]) rxctl.Code {
	return b.withVFO(vid, func(v *rxctl.VFO) error {
		return v.SetDemod(context.Background(), d, value(user, f))
	})
}

// SetOffset sets the frequency offset of the VFO vid.
func (b *Boundary) SetOffset(vid ID, hz int64, user any, f ValueFunc[int64]) rxctl.Code {
	return b.withVFO(vid, func(v *rxctl.VFO) error {
		return v.SetOffset(context.Background(), hz, value(user, f))
	})
}

// SetSquelchLevel sets the squelch level of the VFO vid.
func (b *Boundary) SetSquelchLevel(vid ID, db float64, user any, f ValueFunc[float64]) rxctl.Code {
	return b.withVFO(vid, func(v *rxctl.VFO) error {
		return v.SetSquelchLevel(context.Background(), db, value(user, f))
	})
}

// handler adapts f to an rxctl.Handler. A VFOAdded event acquires a handle
// for the VFO it names, which the callee must release.
func (b *Boundary) handler(r *rxctl.Receiver, user any, f EventFunc) rxctl.Handler {
	return func(_ context.Context, e event.Event) {
		be := Event{Kind: e.Kind(), Data: event.Encode(e)}
		if e.Kind() == event.KVFOAdded && r != nil {
			if v, ok := r.VFO(e.(event.VFOEvent).VFO()); ok {
				be.VFO = b.objs.Acquire(v)
			}
		}
		f(user, be)
	}
}

// Subscribe registers f for the events of the receiver rid. On success,
// connected receives a handle for the connection; releasing its last
// reference disconnects it.
func (b *Boundary) Subscribe(rid ID, user any, f EventFunc, connected ValueFunc[ID]) rxctl.Code {
	return b.withReceiver(rid, func(r *rxctl.Receiver) error {
		return r.Subscribe(context.Background(), b.handler(r, user, f), b.connected(user, connected))
	})
}

// SubscribeVFO registers f for the events of the VFO vid, as Subscribe.
func (b *Boundary) SubscribeVFO(vid ID, user any, f EventFunc, connected ValueFunc[ID]) rxctl.Code {
	return b.withVFO(vid, func(v *rxctl.VFO) error {
		return v.Subscribe(context.Background(), b.handler(nil, user, f), b.connected(user, connected))
	})
}

func (b *Boundary) connected(user any, f ValueFunc[ID]) func(context.Context, *rxctl.Connection, error) {
	return func(_ context.Context, c *rxctl.Connection, err error) {
		var id ID
		if err == nil {
			id = b.objs.Acquire(c)
		}
		if f != nil {
			f(user, rxctl.CodeOf(err), id)
		} else if id != 0 {
			b.objs.Release(id) // nobody holds it; disconnect at once
		}
	}
}

// Disconnect disconnects the connection cid without releasing its handle.
// Disconnecting more than once has no further effect.
func (b *Boundary) Disconnect(cid ID) (code rxctl.Code) {
	defer b.recover(&code)
	v, err := b.objs.Get(cid)
	if err != nil {
		return rxctl.CodeNotFound
	}
	c, ok := v.(*rxctl.Connection)
	if !ok {
		return rxctl.CodeNotFound
	}
	return rxctl.CodeOf(c.Disconnect(context.Background()))
}
