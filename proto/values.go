// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package proto

import (
	"fmt"

	"github.com/creachadair/rxctl/event"
	"github.com/creachadair/rxctl/packet"
)

// Scalar is the set of types that can be carried by an [Arg] or a [VFOArg].
type Scalar interface {
	int64 | float64 | bool | string
}

func putScalar[T Scalar](b *packet.Builder, v T) {
	switch t := any(v).(type) {
	case int64:
		b.Int64(t)
	case float64:
		b.Float64(t)
	case bool:
		b.Bool(t)
	case string:
		b.VPutString(t)
	}
}

func getScalar[T Scalar](s *packet.Scanner) (T, error) {
	var out T
	var err error
	switch p := any(&out).(type) {
	case *int64:
		*p, err = s.Int64()
	case *float64:
		*p, err = s.Float64()
	case *bool:
		*p, err = s.Bool()
	case *string:
		*p, err = s.VString()
	}
	return out, err
}

// finish reports an error if s has unconsumed input, or wraps err.
func finish(what string, s *packet.Scanner, err error) error {
	if err == nil {
		err = s.Done()
	}
	if err != nil {
		return fmt.Errorf("decode %s: %w", what, err)
	}
	return nil
}

// Arg is a single receiver-scoped value.
type Arg[T Scalar] struct{ V T }

// MarshalBinary implements the encoding.BinaryMarshaler interface.
func (a Arg[T]) MarshalBinary() ([]byte, error) {
	var b packet.Builder
	putScalar(&b, a.V)
	return b.Bytes(), nil
}

// UnmarshalBinary implements the encoding.BinaryUnmarshaler interface.
func (a *Arg[T]) UnmarshalBinary(data []byte) (err error) {
	s := packet.NewScanner(data)
	a.V, err = getScalar[T](s)
	return finish("argument", s, err)
}

// VFOArg is a single value scoped to one VFO channel.
type VFOArg[T Scalar] struct {
	VFO event.Handle
	V   T
}

// MarshalBinary implements the encoding.BinaryMarshaler interface.
func (a VFOArg[T]) MarshalBinary() ([]byte, error) {
	var b packet.Builder
	b.Uint64(uint64(a.VFO))
	putScalar(&b, a.V)
	return b.Bytes(), nil
}

// UnmarshalBinary implements the encoding.BinaryUnmarshaler interface.
func (a *VFOArg[T]) UnmarshalBinary(data []byte) error {
	s := packet.NewScanner(data)
	h, err := s.Uint64()
	if err == nil {
		a.VFO = event.Handle(h)
		a.V, err = getScalar[T](s)
	}
	return finish("VFO argument", s, err)
}

// Channel names a VFO channel without any other argument.
type Channel struct{ VFO event.Handle }

// MarshalBinary implements the encoding.BinaryMarshaler interface.
func (c Channel) MarshalBinary() ([]byte, error) {
	var b packet.Builder
	b.Uint64(uint64(c.VFO))
	return b.Bytes(), nil
}

// UnmarshalBinary implements the encoding.BinaryUnmarshaler interface.
func (c *Channel) UnmarshalBinary(data []byte) error {
	s := packet.NewScanner(data)
	h, err := s.Uint64()
	c.VFO = event.Handle(h)
	return finish("channel", s, err)
}

// Gain is the argument and result of the SetGain method.
type Gain struct {
	Name  string
	Value float64
}

// MarshalBinary implements the encoding.BinaryMarshaler interface.
func (g Gain) MarshalBinary() ([]byte, error) {
	var b packet.Builder
	b.VPutString(g.Name)
	b.Float64(g.Value)
	return b.Bytes(), nil
}

// UnmarshalBinary implements the encoding.BinaryUnmarshaler interface.
func (g *Gain) UnmarshalBinary(data []byte) error {
	s := packet.NewScanner(data)
	name, err := s.VString()
	if err == nil {
		g.Name = name
		g.Value, err = s.Float64()
	}
	return finish("gain", s, err)
}

// Filter is the argument and result of the SetFilter method.
type Filter struct {
	VFO       event.Handle
	Shape     event.FilterShape
	Low, High int64
}

// MarshalBinary implements the encoding.BinaryMarshaler interface.
func (f Filter) MarshalBinary() ([]byte, error) {
	var b packet.Builder
	b.Uint64(uint64(f.VFO))
	b.Put(byte(f.Shape))
	b.Int64(f.Low)
	b.Int64(f.High)
	return b.Bytes(), nil
}

// UnmarshalBinary implements the encoding.BinaryUnmarshaler interface.
func (f *Filter) UnmarshalBinary(data []byte) error {
	s := packet.NewScanner(data)
	h, err := s.Uint64()
	if err != nil {
		return finish("filter", s, err)
	}
	shape, err := s.Byte()
	if err != nil {
		return finish("filter", s, err)
	}
	f.VFO, f.Shape = event.Handle(h), event.FilterShape(shape)
	if f.Low, err = s.Int64(); err == nil {
		f.High, err = s.Int64()
	}
	return finish("filter", s, err)
}

// Blanker is the argument of the noise blanker methods. The value is a 0 or 1
// for SetNoiseBlanker and a threshold for SetNoiseBlankerThreshold.
type Blanker struct {
	VFO   event.Handle
	ID    int
	Value float64
}

// MarshalBinary implements the encoding.BinaryMarshaler interface.
func (n Blanker) MarshalBinary() ([]byte, error) {
	var b packet.Builder
	b.Uint64(uint64(n.VFO))
	b.Put(byte(n.ID))
	b.Float64(n.Value)
	return b.Bytes(), nil
}

// UnmarshalBinary implements the encoding.BinaryUnmarshaler interface.
func (n *Blanker) UnmarshalBinary(data []byte) error {
	s := packet.NewScanner(data)
	h, err := s.Uint64()
	if err != nil {
		return finish("blanker", s, err)
	}
	id, err := s.Byte()
	if err == nil {
		n.VFO, n.ID = event.Handle(h), int(id)
		n.Value, err = s.Float64()
	}
	return finish("blanker", s, err)
}

// Sniffer is the argument of the StartSniffer method.
type Sniffer struct {
	VFO  event.Handle
	Rate int64 // samples per second
	Size int64 // buffer size in samples
}

// MarshalBinary implements the encoding.BinaryMarshaler interface.
func (n Sniffer) MarshalBinary() ([]byte, error) {
	var b packet.Builder
	b.Uint64(uint64(n.VFO))
	b.Int64(n.Rate)
	b.Int64(n.Size)
	return b.Bytes(), nil
}

// UnmarshalBinary implements the encoding.BinaryUnmarshaler interface.
func (n *Sniffer) UnmarshalBinary(data []byte) error {
	s := packet.NewScanner(data)
	h, err := s.Uint64()
	if err == nil {
		n.VFO = event.Handle(h)
		if n.Rate, err = s.Int64(); err == nil {
			n.Size, err = s.Int64()
		}
	}
	return finish("sniffer", s, err)
}

// Floats is a list of sample values, used for FFT and sniffer data.
type Floats []float64

// MarshalBinary implements the encoding.BinaryMarshaler interface.
func (fs Floats) MarshalBinary() ([]byte, error) {
	var b packet.Builder
	b.Grow(4 + 8*len(fs))
	b.Vint30(uint32(len(fs)))
	for _, f := range fs {
		b.Float64(f)
	}
	return b.Bytes(), nil
}

// UnmarshalBinary implements the encoding.BinaryUnmarshaler interface.
func (fs *Floats) UnmarshalBinary(data []byte) error {
	s := packet.NewScanner(data)
	n, err := s.Vint30()
	if err != nil {
		return finish("floats", s, err)
	} else if 8*n != s.Len() {
		return fmt.Errorf("decode floats: %d values in %d bytes", n, s.Len())
	}
	out := make(Floats, n)
	for i := range out {
		out[i], _ = s.Float64() // length checked above
	}
	*fs = out
	return nil
}
