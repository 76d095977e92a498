// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package event

import (
	"errors"
	"fmt"
	"time"

	"github.com/creachadair/rxctl/packet"
)

// Encode returns the binary encoding of e:
//
//	kind:byte | time:int64 (Unix nanoseconds) | [handle:uint64] | fields
//
// The handle is present only for VFO events. A zero time encodes as 0.
func Encode(e Event) []byte {
	var b packet.Builder
	Append(&b, e)
	return b.Bytes()
}

// Append appends the binary encoding of e to b.
func Append(b *packet.Builder, e Event) {
	b.Put(byte(e.Kind()))
	var ts int64
	if t := e.Time(); !t.IsZero() {
		ts = t.UnixNano()
	}
	b.Int64(ts)
	if v, ok := e.(VFOEvent); ok {
		b.Uint64(uint64(v.VFO()))
	}
	e.encode(b)
}

// ErrUnknownKind is reported by Decode for an event of unrecognized kind.
var ErrUnknownKind = errors.New("unknown event kind")

// Decode decodes a single event from data, which must contain exactly one
// encoded event.
func Decode(data []byte) (Event, error) {
	s := packet.NewScanner(data)
	e, err := Scan(s)
	if err != nil {
		return nil, err
	}
	if err := s.Done(); err != nil {
		return nil, fmt.Errorf("decode %v: %w", e.Kind(), err)
	}
	return e, nil
}

// Scan decodes a single event from the head of s.
func Scan(s *packet.Scanner) (Event, error) {
	kb, err := s.Byte()
	if err != nil {
		return nil, fmt.Errorf("decode event kind: %w", err)
	}
	e := New(Kind(kb))
	if e == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, kb)
	}
	ts, err := s.Int64()
	if err != nil {
		return nil, fmt.Errorf("decode %v time: %w", e.Kind(), err)
	}
	if ts != 0 {
		e.setTime(time.Unix(0, ts))
	}
	if v, ok := e.(VFOEvent); ok {
		h, err := s.Uint64()
		if err != nil {
			return nil, fmt.Errorf("decode %v handle: %w", e.Kind(), err)
		}
		v.setVFO(Handle(h))
	}
	if err := e.decode(s); err != nil {
		return nil, fmt.Errorf("decode %v: %w", e.Kind(), err)
	}
	return e, nil
}

func getByte[T ~byte | ~int](s *packet.Scanner) (T, error) {
	v, err := s.Byte()
	return T(v), err
}

func putStages(b *packet.Builder, gs []GainStage) {
	b.Vint30(uint32(len(gs)))
	for _, g := range gs {
		b.VPutString(g.Name)
		b.Float64(g.Min)
		b.Float64(g.Max)
		b.Float64(g.Step)
		b.Float64(g.Value)
	}
}

func getStages(s *packet.Scanner) ([]GainStage, error) {
	n, err := s.Vint30()
	if err != nil {
		return nil, err
	}
	// Each stage is at least 33 bytes.
	if n*33 > s.Len() {
		return nil, fmt.Errorf("gain stages truncated (%d stages, %d bytes)", n, s.Len())
	}
	out := make([]GainStage, n)
	for i := range out {
		g := &out[i]
		if g.Name, err = s.VString(); err != nil {
			return nil, err
		}
		for _, f := range []*float64{&g.Min, &g.Max, &g.Step, &g.Value} {
			if *f, err = s.Float64(); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}
