// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package rxctl

import (
	"testing"
	"time"

	"github.com/creachadair/mds/mapset"
	"github.com/creachadair/rxctl/event"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"pgregory.net/rapid"
)

// Every event kind must be handled by one of the appliers. Kinds that do not
// describe mirrored state are listed explicitly.
func TestApplyCoversKinds(t *testing.T) {
	stateless := mapset.New(
		event.KUnsubscribed, event.KSyncStart, event.KSyncEnd,
		event.KVFOSyncStart, event.KVFOSyncEnd, event.KVFOAdded, event.KVFORemoved,
	)
	for _, k := range event.Kinds() {
		e := event.New(k)
		var got bool
		switch e := e.(type) {
		case event.ReceiverEvent:
			s := ReceiverState{GainStages: []event.GainStage{{Name: ""}}}
			got = s.Apply(e)
		case event.VFOEvent:
			switch nb := e.(type) {
			case *event.NoiseBlankerOnChanged:
				nb.ID = 1
			case *event.NoiseBlankerThresholdChanged:
				nb.ID = 2
			}
			var s VFOState
			got = s.Apply(e)
		default:
			t.Errorf("Kind %v: event %T is in neither family", k, e)
			continue
		}
		if want := !stateless.Has(k); got != want {
			t.Errorf("Apply(%v): got %v, want %v", k, got, want)
		}
	}
}

func TestApplyIgnored(t *testing.T) {
	t.Run("UnknownGain", func(t *testing.T) {
		s := ReceiverState{GainStages: []event.GainStage{{Name: "LNA", Max: 40, Value: 3}}}
		want := s.Clone()
		if s.Apply(&event.GainChanged{Name: "VGA", Value: 10}) {
			t.Error("Apply reported a change for an unknown stage")
		}
		if diff := cmp.Diff(want, s); diff != "" {
			t.Errorf("State (-want, +got):\n%s", diff)
		}
	})
	t.Run("BadBlanker", func(t *testing.T) {
		var s VFOState
		for _, id := range []int{0, 3, -1} {
			if s.Apply(&event.NoiseBlankerOnChanged{ID: id, On: true}) {
				t.Errorf("Apply(blanker %d) reported a change", id)
			}
			if s.Apply(&event.NoiseBlankerThresholdChanged{ID: id, Threshold: 5}) {
				t.Errorf("Apply(blanker %d threshold) reported a change", id)
			}
		}
		if diff := cmp.Diff(VFOState{}, s); diff != "" {
			t.Errorf("State (-want, +got):\n%s", diff)
		}
	})
}

var (
	anyFloat = rapid.Float64Range(-1e12, 1e12)
	anyName  = rapid.StringMatching(`[A-Za-z0-9/ ]{0,12}`)
)

func genReceiver(t *rapid.T) ReceiverState {
	s := ReceiverState{
		Running:     rapid.Bool().Draw(t, "running"),
		InputDevice: anyName.Draw(t, "device"),
		Antenna:     anyName.Draw(t, "antenna"),
		Antennas:    rapid.SliceOfN(anyName, 0, 4).Draw(t, "antennas"),
		InputRate:   anyFloat.Draw(t, "rate"),
		InputDecim:  rapid.Uint32().Draw(t, "decim"),
		IQSwap:      rapid.Bool().Draw(t, "iqswap"),
		DCCancel:    rapid.Bool().Draw(t, "dccancel"),
		IQBalance:   rapid.Bool().Draw(t, "iqbalance"),
		RFFreq:      rapid.Int64().Draw(t, "freq"),
		GainStages: rapid.SliceOfN(rapid.Custom(func(t *rapid.T) event.GainStage {
			return event.GainStage{
				Name:  anyName.Draw(t, "name"),
				Min:   anyFloat.Draw(t, "min"),
				Max:   anyFloat.Draw(t, "max"),
				Step:  anyFloat.Draw(t, "step"),
				Value: anyFloat.Draw(t, "value"),
			}
		}), 0, 4).Draw(t, "stages"),
		AutoGain:    rapid.Bool().Draw(t, "autogain"),
		FreqCorr:    anyFloat.Draw(t, "ppm"),
		FFTSize:     rapid.Uint32().Draw(t, "fftsize"),
		FFTWindow:   rapid.Uint32().Draw(t, "fftwindow"),
		IQRecording: rapid.Bool().Draw(t, "iqrec"),
	}
	if s.IQRecording {
		s.IQRecordingPath = anyName.Draw(t, "iqpath")
	}
	hs := rapid.SliceOfNDistinct(rapid.Uint64(), 0, 5, func(v uint64) uint64 { return v }).Draw(t, "vfos")
	for _, h := range hs {
		s.VFOs = append(s.VFOs, event.Handle(h))
	}
	return s
}

func genVFO(t *rapid.T) VFOState {
	s := VFOState{
		Demod:       event.Demod(rapid.IntRange(0, int(event.DemodWFMOIRT)).Draw(t, "demod")),
		Offset:      rapid.Int64().Draw(t, "offset"),
		CWOffset:    rapid.Int64().Draw(t, "cwoffset"),
		FilterShape: event.FilterShape(rapid.IntRange(0, int(event.FilterSharp)).Draw(t, "shape")),
		FilterLow:   rapid.Int64().Draw(t, "low"),
		FilterHigh:  rapid.Int64().Draw(t, "high"),

		SquelchLevel: anyFloat.Draw(t, "sql"),
		SquelchAlpha: anyFloat.Draw(t, "alpha"),
		AGC: AGC{
			On:         rapid.Bool().Draw(t, "agc"),
			Hang:       rapid.Bool().Draw(t, "hang"),
			Threshold:  rapid.Int64().Draw(t, "threshold"),
			Slope:      rapid.Int64().Draw(t, "slope"),
			Decay:      rapid.Int64().Draw(t, "decay"),
			ManualGain: rapid.Int64().Draw(t, "gain"),
		},
		FMMaxDev:    anyFloat.Draw(t, "maxdev"),
		FMDeemph:    anyFloat.Draw(t, "deemph"),
		AMDCR:       rapid.Bool().Draw(t, "dcr"),
		AMSyncDCR:   rapid.Bool().Draw(t, "syncdcr"),
		AMSyncPLLBW: anyFloat.Draw(t, "pllbw"),
		AudioGain:   anyFloat.Draw(t, "audio"),
		RDS:         rapid.Bool().Draw(t, "rds"),
	}
	for i := range s.NoiseBlankers {
		s.NoiseBlankers[i] = Blanker{
			On:        rapid.Bool().Draw(t, "nb"),
			Threshold: anyFloat.Draw(t, "nbthreshold"),
		}
	}
	if rapid.Bool().Draw(t, "recording") {
		s.Recording, s.RecordingPath = true, anyName.Draw(t, "path")
	}
	if rapid.Bool().Draw(t, "sniffer") {
		s.Sniffer = true
		s.SnifferRate = rapid.Int64().Draw(t, "snifferrate")
		s.SnifferSize = rapid.Int64().Draw(t, "sniffersize")
	}
	if rapid.Bool().Draw(t, "udp") {
		s.UDPStreaming = true
		s.UDPHost = anyName.Draw(t, "host")
		s.UDPPort = rapid.Int64().Draw(t, "port")
		s.UDPStereo = rapid.Bool().Draw(t, "stereo")
	}
	return s
}

// Replaying the snapshot of a state into a zero state reproduces it.
func TestSnapshotComplete(t *testing.T) {
	now := time.Now()
	opt := cmpopts.EquateEmpty()

	t.Run("Receiver", func(t *testing.T) {
		rapid.Check(t, func(t *rapid.T) {
			want := genReceiver(t)
			es := want.Events(now)
			if k := es[0].Kind(); k != event.KSyncStart {
				t.Fatalf("First event is %v, want SyncStart", k)
			}
			if k := es[len(es)-1].Kind(); k != event.KSyncEnd {
				t.Fatalf("Last event is %v, want SyncEnd", k)
			}

			var got ReceiverState
			for _, e := range es {
				if !e.Time().Equal(now) {
					t.Errorf("Event %v has time %v, want %v", e.Kind(), e.Time(), now)
				}
				switch e := e.(type) {
				case *event.VFOAdded:
					got.VFOs = append(got.VFOs, e.VFO())
				case event.ReceiverEvent:
					got.Apply(e)
				}
			}
			if diff := cmp.Diff(want, got, opt); diff != "" {
				t.Errorf("Replayed state (-want, +got):\n%s", diff)
			}
		})
	})

	t.Run("VFO", func(t *testing.T) {
		rapid.Check(t, func(t *rapid.T) {
			want := genVFO(t)
			h := event.Handle(rapid.Uint64().Draw(t, "handle"))
			es := want.Events(h, now)
			if k := es[0].Kind(); k != event.KVFOSyncStart {
				t.Fatalf("First event is %v, want VFOSyncStart", k)
			}
			if k := es[len(es)-1].Kind(); k != event.KVFOSyncEnd {
				t.Fatalf("Last event is %v, want VFOSyncEnd", k)
			}

			var got VFOState
			for _, e := range es {
				if e.VFO() != h {
					t.Errorf("Event %v is for %v, want %v", e.Kind(), e.VFO(), h)
				}
				got.Apply(e)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("Replayed state (-want, +got):\n%s", diff)
			}
		})
	})
}
