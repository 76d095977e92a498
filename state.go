// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package rxctl

import (
	"slices"
	"time"

	"github.com/creachadair/rxctl/event"
)

// ReceiverState is a copy of the mirrored state of a receiver.
type ReceiverState struct {
	Running     bool
	InputDevice string
	Antenna     string
	Antennas    []string // in server order
	InputRate   float64  // samples per second
	InputDecim  uint32
	IQSwap      bool
	DCCancel    bool
	IQBalance   bool
	RFFreq      int64 // Hz
	GainStages  []event.GainStage
	AutoGain    bool
	FreqCorr    float64 // ppm
	FFTSize     uint32
	FFTWindow   uint32

	IQRecording     bool
	IQRecordingPath string

	VFOs []event.Handle // live channels, in creation order
}

// Clone returns a deep copy of s.
func (s ReceiverState) Clone() ReceiverState {
	s.Antennas = slices.Clone(s.Antennas)
	s.GainStages = slices.Clone(s.GainStages)
	s.VFOs = slices.Clone(s.VFOs)
	return s
}

// Apply updates s from e, and reports whether e changed the state model.
// Sync markers and events for unknown gain stages report false. The VFO set
// is maintained by the receiver, not here.
func (s *ReceiverState) Apply(e event.ReceiverEvent) bool {
	switch e := e.(type) {
	case *event.Unsubscribed, *event.SyncStart, *event.SyncEnd:
		return false
	case *event.Started:
		s.Running = true
	case *event.Stopped:
		s.Running = false
	case *event.InputDeviceChanged:
		s.InputDevice = e.Device
	case *event.AntennaChanged:
		s.Antenna = e.Antenna
	case *event.AntennasChanged:
		s.Antennas = slices.Clone(e.Antennas)
	case *event.InputRateChanged:
		s.InputRate = e.Rate
	case *event.InputDecimChanged:
		s.InputDecim = e.Decim
	case *event.IQSwapChanged:
		s.IQSwap = e.On
	case *event.DCCancelChanged:
		s.DCCancel = e.On
	case *event.IQBalanceChanged:
		s.IQBalance = e.On
	case *event.RFFreqChanged:
		s.RFFreq = e.Freq
	case *event.GainStagesChanged:
		s.GainStages = slices.Clone(e.Stages)
	case *event.AutoGainChanged:
		s.AutoGain = e.On
	case *event.GainChanged:
		i := slices.IndexFunc(s.GainStages, func(g event.GainStage) bool { return g.Name == e.Name })
		if i < 0 {
			return false
		}
		s.GainStages[i].Value = e.Value
	case *event.FreqCorrChanged:
		s.FreqCorr = e.PPM
	case *event.FFTSizeChanged:
		s.FFTSize = e.Size
	case *event.FFTWindowChanged:
		s.FFTWindow = e.Window
	case *event.IQRecordingStarted:
		s.IQRecording, s.IQRecordingPath = true, e.Path
	case *event.IQRecordingStopped:
		s.IQRecording, s.IQRecordingPath = false, ""
	default:
		return false
	}
	return true
}

// Events returns the events that reconstruct s from a zero state, bracketed
// by SyncStart and SyncEnd, all stamped with t.
func (s *ReceiverState) Events(t time.Time) []event.Event {
	es := []event.Event{
		&event.SyncStart{},
		&event.Stopped{},
		&event.InputDeviceChanged{Device: s.InputDevice},
		&event.AntennasChanged{Antennas: slices.Clone(s.Antennas)},
		&event.AntennaChanged{Antenna: s.Antenna},
		&event.InputRateChanged{Rate: s.InputRate},
		&event.InputDecimChanged{Decim: s.InputDecim},
		&event.IQSwapChanged{On: s.IQSwap},
		&event.DCCancelChanged{On: s.DCCancel},
		&event.IQBalanceChanged{On: s.IQBalance},
		&event.RFFreqChanged{Freq: s.RFFreq},
		&event.GainStagesChanged{Stages: slices.Clone(s.GainStages)},
		&event.AutoGainChanged{On: s.AutoGain},
		&event.FreqCorrChanged{PPM: s.FreqCorr},
		&event.FFTSizeChanged{Size: s.FFTSize},
		&event.FFTWindowChanged{Window: s.FFTWindow},
		&event.IQRecordingStopped{},
	}
	if s.Running {
		es[1] = &event.Started{}
	}
	if s.IQRecording {
		es[len(es)-1] = &event.IQRecordingStarted{Path: s.IQRecordingPath}
	}
	for _, h := range s.VFOs {
		es = append(es, event.For(h, &event.VFOAdded{}))
	}
	es = append(es, &event.SyncEnd{})
	for _, e := range es {
		event.Stamp(e, t)
	}
	return es
}

// Blanker is the state of one noise blanker.
type Blanker struct {
	On        bool
	Threshold float64
}

// AGC is the state of the automatic gain control of a VFO.
type AGC struct {
	On         bool
	Hang       bool
	Threshold  int64 // dB
	Slope      int64 // dB
	Decay      int64 // ms
	ManualGain int64 // dB
}

// VFOState is a copy of the mirrored state of a VFO.
type VFOState struct {
	Demod       event.Demod
	Offset      int64 // Hz from the RF frequency
	CWOffset    int64 // Hz
	FilterShape event.FilterShape
	FilterLow   int64 // Hz
	FilterHigh  int64 // Hz

	NoiseBlankers [2]Blanker // blankers 1 and 2

	SquelchLevel float64 // dBFS
	SquelchAlpha float64

	AGC AGC

	FMMaxDev    float64 // Hz
	FMDeemph    float64 // seconds
	AMDCR       bool
	AMSyncDCR   bool
	AMSyncPLLBW float64
	AudioGain   float64 // dB

	Recording     bool
	RecordingPath string

	Sniffer     bool
	SnifferRate int64
	SnifferSize int64

	UDPStreaming bool
	UDPHost      string
	UDPPort      int64
	UDPStereo    bool

	RDS bool

	Removed bool
}

// validBlanker reports whether id names one of the two noise blankers.
func validBlanker(id int) bool { return id == 1 || id == 2 }

// Apply updates s from e, and reports whether e changed the state model.
// Sync markers, additions, removals, and blanker events with an id other
// than 1 or 2 report false.
func (s *VFOState) Apply(e event.VFOEvent) bool {
	switch e := e.(type) {
	case *event.VFOSyncStart, *event.VFOSyncEnd, *event.VFOAdded, *event.VFORemoved:
		return false
	case *event.DemodChanged:
		s.Demod = e.Demod
	case *event.OffsetChanged:
		s.Offset = e.Offset
	case *event.CWOffsetChanged:
		s.CWOffset = e.Offset
	case *event.FilterChanged:
		s.FilterShape, s.FilterLow, s.FilterHigh = e.Shape, e.Low, e.High
	case *event.NoiseBlankerOnChanged:
		if !validBlanker(e.ID) {
			return false
		}
		s.NoiseBlankers[e.ID-1].On = e.On
	case *event.NoiseBlankerThresholdChanged:
		if !validBlanker(e.ID) {
			return false
		}
		s.NoiseBlankers[e.ID-1].Threshold = e.Threshold
	case *event.SquelchLevelChanged:
		s.SquelchLevel = e.Level
	case *event.SquelchAlphaChanged:
		s.SquelchAlpha = e.Alpha
	case *event.AGCOnChanged:
		s.AGC.On = e.On
	case *event.AGCHangChanged:
		s.AGC.Hang = e.On
	case *event.AGCThresholdChanged:
		s.AGC.Threshold = e.Threshold
	case *event.AGCSlopeChanged:
		s.AGC.Slope = e.Slope
	case *event.AGCDecayChanged:
		s.AGC.Decay = e.Decay
	case *event.AGCManualGainChanged:
		s.AGC.ManualGain = e.Gain
	case *event.FMMaxDevChanged:
		s.FMMaxDev = e.MaxDev
	case *event.FMDeemphChanged:
		s.FMDeemph = e.Tau
	case *event.AMDCRChanged:
		s.AMDCR = e.On
	case *event.AMSyncDCRChanged:
		s.AMSyncDCR = e.On
	case *event.AMSyncPLLBWChanged:
		s.AMSyncPLLBW = e.BW
	case *event.RecordingStarted:
		s.Recording, s.RecordingPath = true, e.Path
	case *event.RecordingStopped:
		s.Recording, s.RecordingPath = false, ""
	case *event.SnifferStarted:
		s.Sniffer, s.SnifferRate, s.SnifferSize = true, e.Rate, e.Size
	case *event.SnifferStopped:
		s.Sniffer, s.SnifferRate, s.SnifferSize = false, 0, 0
	case *event.UDPStreamingStarted:
		s.UDPStreaming = true
		s.UDPHost, s.UDPPort, s.UDPStereo = e.Host, e.Port, e.Stereo
	case *event.UDPStreamingStopped:
		s.UDPStreaming = false
		s.UDPHost, s.UDPPort, s.UDPStereo = "", 0, false
	case *event.RDSStarted:
		s.RDS = true
	case *event.RDSStopped:
		s.RDS = false
	case *event.RDSParserReset:
		// No mirrored state; observers are notified.
	case *event.AudioGainChanged:
		s.AudioGain = e.Gain
	default:
		return false
	}
	return true
}

// Events returns the events that reconstruct s from a zero state, bracketed
// by VFOSyncStart and VFOSyncEnd, all for handle h and stamped with t.
func (s *VFOState) Events(h event.Handle, t time.Time) []event.VFOEvent {
	es := []event.VFOEvent{
		&event.VFOSyncStart{},
		&event.DemodChanged{Demod: s.Demod},
		&event.OffsetChanged{Offset: s.Offset},
		&event.CWOffsetChanged{Offset: s.CWOffset},
		&event.FilterChanged{Shape: s.FilterShape, Low: s.FilterLow, High: s.FilterHigh},
	}
	for i, nb := range s.NoiseBlankers {
		es = append(es,
			&event.NoiseBlankerOnChanged{ID: i + 1, On: nb.On},
			&event.NoiseBlankerThresholdChanged{ID: i + 1, Threshold: nb.Threshold},
		)
	}
	es = append(es,
		&event.SquelchLevelChanged{Level: s.SquelchLevel},
		&event.SquelchAlphaChanged{Alpha: s.SquelchAlpha},
		&event.AGCOnChanged{On: s.AGC.On},
		&event.AGCHangChanged{On: s.AGC.Hang},
		&event.AGCThresholdChanged{Threshold: s.AGC.Threshold},
		&event.AGCSlopeChanged{Slope: s.AGC.Slope},
		&event.AGCDecayChanged{Decay: s.AGC.Decay},
		&event.AGCManualGainChanged{Gain: s.AGC.ManualGain},
		&event.FMMaxDevChanged{MaxDev: s.FMMaxDev},
		&event.FMDeemphChanged{Tau: s.FMDeemph},
		&event.AMDCRChanged{On: s.AMDCR},
		&event.AMSyncDCRChanged{On: s.AMSyncDCR},
		&event.AMSyncPLLBWChanged{BW: s.AMSyncPLLBW},
		&event.AudioGainChanged{Gain: s.AudioGain},
	)
	if s.Recording {
		es = append(es, &event.RecordingStarted{Path: s.RecordingPath})
	} else {
		es = append(es, &event.RecordingStopped{})
	}
	if s.Sniffer {
		es = append(es, &event.SnifferStarted{Rate: s.SnifferRate, Size: s.SnifferSize})
	} else {
		es = append(es, &event.SnifferStopped{})
	}
	if s.UDPStreaming {
		es = append(es, &event.UDPStreamingStarted{Host: s.UDPHost, Port: s.UDPPort, Stereo: s.UDPStereo})
	} else {
		es = append(es, &event.UDPStreamingStopped{})
	}
	if s.RDS {
		es = append(es, &event.RDSStarted{})
	} else {
		es = append(es, &event.RDSStopped{})
	}
	es = append(es, &event.VFOSyncEnd{})
	for _, e := range es {
		event.Stamp(event.For(h, e), t)
	}
	return es
}
