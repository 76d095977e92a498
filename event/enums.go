// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package event

import (
	"fmt"
	"slices"
	"strings"
)

// A GainStage describes one adjustable gain element of the input device.
type GainStage struct {
	Name  string
	Min   float64 // dB
	Max   float64 // dB
	Step  float64 // dB, 0 if continuous
	Value float64 // dB
}

// Clamp returns v limited to the range of g and rounded to its step.
func (g GainStage) Clamp(v float64) float64 {
	v = min(max(v, g.Min), g.Max)
	if g.Step > 0 {
		n := int64((v-g.Min)/g.Step + 0.5)
		v = min(g.Min+float64(n)*g.Step, g.Max)
	}
	return v
}

// A Demod is a demodulator mode.
type Demod byte

const (
	DemodOff Demod = iota
	DemodRaw
	DemodAM
	DemodAMSync
	DemodLSB
	DemodUSB
	DemodCWL
	DemodCWU
	DemodNFM
	DemodWFMMono
	DemodWFMStereo
	DemodWFMOIRT

	numDemods
)

var demodNames = [...]string{
	"off", "raw", "am", "am-sync", "lsb", "usb", "cw-l", "cw-u",
	"nfm", "wfm-mono", "wfm-stereo", "wfm-oirt",
}

func (d Demod) String() string {
	if d < numDemods {
		return demodNames[d]
	}
	return fmt.Sprintf("Demod(%d)", byte(d))
}

// Valid reports whether d is a known demodulator.
func (d Demod) Valid() bool { return d < numDemods }

// Demods returns the names of all known demodulators.
func Demods() []string { return slices.Clone(demodNames[:]) }

// ParseDemod parses the name of a demodulator, ignoring case.
func ParseDemod(s string) (Demod, error) {
	if i := slices.Index(demodNames[:], strings.ToLower(s)); i >= 0 {
		return Demod(i), nil
	}
	return 0, fmt.Errorf("unknown demodulator %q", s)
}

// MarshalText implements the encoding.TextMarshaler interface.
func (d Demod) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("invalid demodulator %d", byte(d))
	}
	return []byte(d.String()), nil
}

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (d *Demod) UnmarshalText(text []byte) error {
	v, err := ParseDemod(string(text))
	if err == nil {
		*d = v
	}
	return err
}

// A FilterShape selects the transition width of a channel filter.
type FilterShape byte

const (
	FilterSoft FilterShape = iota
	FilterNormal
	FilterSharp
)

func (f FilterShape) String() string {
	switch f {
	case FilterSoft:
		return "soft"
	case FilterNormal:
		return "normal"
	case FilterSharp:
		return "sharp"
	}
	return fmt.Sprintf("FilterShape(%d)", byte(f))
}

// Valid reports whether f is a known filter shape.
func (f FilterShape) Valid() bool { return f <= FilterSharp }

// ParseFilterShape parses the name of a filter shape, ignoring case.
func ParseFilterShape(s string) (FilterShape, error) {
	switch strings.ToLower(s) {
	case "soft":
		return FilterSoft, nil
	case "normal":
		return FilterNormal, nil
	case "sharp":
		return FilterSharp, nil
	}
	return 0, fmt.Errorf("unknown filter shape %q", s)
}
