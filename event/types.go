// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package event

import "github.com/creachadair/rxctl/packet"

// Receiver events.

// Unsubscribed reports that the event stream ended. Mirrored state is
// not trustworthy until the next sync bracket.
type Unsubscribed struct {
	Header
	Reason string
}

func (*Unsubscribed) Kind() Kind { return KUnsubscribed }
func (e *Unsubscribed) encode(b *packet.Builder) { b.VPutString(e.Reason) }
func (e *Unsubscribed) decode(s *packet.Scanner) (err error) {
	e.Reason, err = s.VString()
	return
}

// SyncStart opens a snapshot of the receiver state.
type SyncStart struct{ Header }

func (*SyncStart) Kind() Kind { return KSyncStart }
func (*SyncStart) encode(*packet.Builder) {}
func (*SyncStart) decode(*packet.Scanner) error { return nil }

// SyncEnd closes a snapshot of the receiver state.
type SyncEnd struct{ Header }

func (*SyncEnd) Kind() Kind { return KSyncEnd }
func (*SyncEnd) encode(*packet.Builder) {}
func (*SyncEnd) decode(*packet.Scanner) error { return nil }

// Started reports that the receiver started running.
type Started struct{ Header }

func (*Started) Kind() Kind { return KStarted }
func (*Started) encode(*packet.Builder) {}
func (*Started) decode(*packet.Scanner) error { return nil }

// Stopped reports that the receiver stopped running.
type Stopped struct{ Header }

func (*Stopped) Kind() Kind { return KStopped }
func (*Stopped) encode(*packet.Builder) {}
func (*Stopped) decode(*packet.Scanner) error { return nil }

type InputDeviceChanged struct {
	Header
	Device string
}

func (*InputDeviceChanged) Kind() Kind { return KInputDeviceChanged }
func (e *InputDeviceChanged) encode(b *packet.Builder) { b.VPutString(e.Device) }
func (e *InputDeviceChanged) decode(s *packet.Scanner) (err error) {
	e.Device, err = s.VString()
	return
}

type AntennaChanged struct {
	Header
	Antenna string
}

func (*AntennaChanged) Kind() Kind { return KAntennaChanged }
func (e *AntennaChanged) encode(b *packet.Builder) { b.VPutString(e.Antenna) }
func (e *AntennaChanged) decode(s *packet.Scanner) (err error) {
	e.Antenna, err = s.VString()
	return
}

// AntennasChanged lists the antennas available on the input device, in server order.
type AntennasChanged struct {
	Header
	Antennas []string
}

func (*AntennasChanged) Kind() Kind { return KAntennasChanged }
func (e *AntennasChanged) encode(b *packet.Builder) { b.Strings(e.Antennas) }
func (e *AntennasChanged) decode(s *packet.Scanner) (err error) {
	e.Antennas, err = s.Strings()
	return
}

// InputRateChanged reports the input sample rate in samples per second.
type InputRateChanged struct {
	Header
	Rate float64
}

func (*InputRateChanged) Kind() Kind { return KInputRateChanged }
func (e *InputRateChanged) encode(b *packet.Builder) { b.Float64(e.Rate) }
func (e *InputRateChanged) decode(s *packet.Scanner) (err error) {
	e.Rate, err = s.Float64()
	return
}

type InputDecimChanged struct {
	Header
	Decim uint32
}

func (*InputDecimChanged) Kind() Kind { return KInputDecimChanged }
func (e *InputDecimChanged) encode(b *packet.Builder) { b.Uint32(e.Decim) }
func (e *InputDecimChanged) decode(s *packet.Scanner) (err error) {
	e.Decim, err = s.Uint32()
	return
}

type IQSwapChanged struct {
	Header
	On bool
}

func (*IQSwapChanged) Kind() Kind { return KIQSwapChanged }
func (e *IQSwapChanged) encode(b *packet.Builder) { b.Bool(e.On) }
func (e *IQSwapChanged) decode(s *packet.Scanner) (err error) {
	e.On, err = s.Bool()
	return
}

type DCCancelChanged struct {
	Header
	On bool
}

func (*DCCancelChanged) Kind() Kind { return KDCCancelChanged }
func (e *DCCancelChanged) encode(b *packet.Builder) { b.Bool(e.On) }
func (e *DCCancelChanged) decode(s *packet.Scanner) (err error) {
	e.On, err = s.Bool()
	return
}

type IQBalanceChanged struct {
	Header
	On bool
}

func (*IQBalanceChanged) Kind() Kind { return KIQBalanceChanged }
func (e *IQBalanceChanged) encode(b *packet.Builder) { b.Bool(e.On) }
func (e *IQBalanceChanged) decode(s *packet.Scanner) (err error) {
	e.On, err = s.Bool()
	return
}

// RFFreqChanged reports the RF center frequency in Hz.
type RFFreqChanged struct {
	Header
	Freq int64
}

func (*RFFreqChanged) Kind() Kind { return KRFFreqChanged }
func (e *RFFreqChanged) encode(b *packet.Builder) { b.Int64(e.Freq) }
func (e *RFFreqChanged) decode(s *packet.Scanner) (err error) {
	e.Freq, err = s.Int64()
	return
}

// GainStagesChanged replaces the ordered list of gain stages.
type GainStagesChanged struct {
	Header
	Stages []GainStage
}

func (*GainStagesChanged) Kind() Kind { return KGainStagesChanged }
func (e *GainStagesChanged) encode(b *packet.Builder) { putStages(b, e.Stages) }
func (e *GainStagesChanged) decode(s *packet.Scanner) (err error) {
	e.Stages, err = getStages(s)
	return
}

type AutoGainChanged struct {
	Header
	On bool
}

func (*AutoGainChanged) Kind() Kind { return KAutoGainChanged }
func (e *AutoGainChanged) encode(b *packet.Builder) { b.Bool(e.On) }
func (e *AutoGainChanged) decode(s *packet.Scanner) (err error) {
	e.On, err = s.Bool()
	return
}

// GainChanged reports a new value for the gain stage with the given name.
type GainChanged struct {
	Header
	Name  string
	Value float64
}

func (*GainChanged) Kind() Kind { return KGainChanged }

func (e *GainChanged) encode(b *packet.Builder) {
	b.VPutString(e.Name)
	b.Float64(e.Value)
}

func (e *GainChanged) decode(s *packet.Scanner) (err error) {
	if e.Name, err = s.VString(); err != nil {
		return err
	}
	e.Value, err = s.Float64()
	return err
}

// FreqCorrChanged reports the frequency correction in parts per million.
type FreqCorrChanged struct {
	Header
	PPM float64
}

func (*FreqCorrChanged) Kind() Kind { return KFreqCorrChanged }
func (e *FreqCorrChanged) encode(b *packet.Builder) { b.Float64(e.PPM) }
func (e *FreqCorrChanged) decode(s *packet.Scanner) (err error) {
	e.PPM, err = s.Float64()
	return
}

type FFTSizeChanged struct {
	Header
	Size uint32
}

func (*FFTSizeChanged) Kind() Kind { return KFFTSizeChanged }
func (e *FFTSizeChanged) encode(b *packet.Builder) { b.Uint32(e.Size) }
func (e *FFTSizeChanged) decode(s *packet.Scanner) (err error) {
	e.Size, err = s.Uint32()
	return
}

type FFTWindowChanged struct {
	Header
	Window uint32
}

func (*FFTWindowChanged) Kind() Kind { return KFFTWindowChanged }
func (e *FFTWindowChanged) encode(b *packet.Builder) { b.Uint32(e.Window) }
func (e *FFTWindowChanged) decode(s *packet.Scanner) (err error) {
	e.Window, err = s.Uint32()
	return
}

type IQRecordingStarted struct {
	Header
	Path string
}

func (*IQRecordingStarted) Kind() Kind { return KIQRecordingStarted }
func (e *IQRecordingStarted) encode(b *packet.Builder) { b.VPutString(e.Path) }
func (e *IQRecordingStarted) decode(s *packet.Scanner) (err error) {
	e.Path, err = s.VString()
	return
}

type IQRecordingStopped struct{ Header }

func (*IQRecordingStopped) Kind() Kind { return KIQRecordingStopped }
func (*IQRecordingStopped) encode(*packet.Builder) {}
func (*IQRecordingStopped) decode(*packet.Scanner) error { return nil }

// VFO events.

// VFOSyncStart opens a snapshot of one channel.
type VFOSyncStart struct{ VFOHeader }

func (*VFOSyncStart) Kind() Kind { return KVFOSyncStart }
func (*VFOSyncStart) encode(*packet.Builder) {}
func (*VFOSyncStart) decode(*packet.Scanner) error { return nil }

// VFOSyncEnd closes a snapshot of one channel.
type VFOSyncEnd struct{ VFOHeader }

func (*VFOSyncEnd) Kind() Kind { return KVFOSyncEnd }
func (*VFOSyncEnd) encode(*packet.Builder) {}
func (*VFOSyncEnd) decode(*packet.Scanner) error { return nil }

// VFOAdded reports a new live channel.
type VFOAdded struct{ VFOHeader }

func (*VFOAdded) Kind() Kind { return KVFOAdded }
func (*VFOAdded) encode(*packet.Builder) {}
func (*VFOAdded) decode(*packet.Scanner) error { return nil }

// VFORemoved reports that a channel was removed. It is the last event for its handle.
type VFORemoved struct{ VFOHeader }

func (*VFORemoved) Kind() Kind { return KVFORemoved }
func (*VFORemoved) encode(*packet.Builder) {}
func (*VFORemoved) decode(*packet.Scanner) error { return nil }

type DemodChanged struct {
	VFOHeader
	Demod Demod
}

func (*DemodChanged) Kind() Kind { return KDemodChanged }
func (e *DemodChanged) encode(b *packet.Builder) { b.Put(byte(e.Demod)) }
func (e *DemodChanged) decode(s *packet.Scanner) (err error) {
	e.Demod, err = getByte[Demod](s)
	return
}

// OffsetChanged reports the filter offset from the RF frequency in Hz.
type OffsetChanged struct {
	VFOHeader
	Offset int64
}

func (*OffsetChanged) Kind() Kind { return KOffsetChanged }
func (e *OffsetChanged) encode(b *packet.Builder) { b.Int64(e.Offset) }
func (e *OffsetChanged) decode(s *packet.Scanner) (err error) {
	e.Offset, err = s.Int64()
	return
}

type CWOffsetChanged struct {
	VFOHeader
	Offset int64
}

func (*CWOffsetChanged) Kind() Kind { return KCWOffsetChanged }
func (e *CWOffsetChanged) encode(b *packet.Builder) { b.Int64(e.Offset) }
func (e *CWOffsetChanged) decode(s *packet.Scanner) (err error) {
	e.Offset, err = s.Int64()
	return
}

// FilterChanged reports the filter shape and its edges relative to the offset, in Hz.
type FilterChanged struct {
	VFOHeader
	Shape FilterShape
	Low   int64
	High  int64
}

func (*FilterChanged) Kind() Kind { return KFilterChanged }

func (e *FilterChanged) encode(b *packet.Builder) {
	b.Put(byte(e.Shape))
	b.Int64(e.Low)
	b.Int64(e.High)
}

func (e *FilterChanged) decode(s *packet.Scanner) (err error) {
	if e.Shape, err = getByte[FilterShape](s); err != nil {
		return err
	}
	if e.Low, err = s.Int64(); err != nil {
		return err
	}
	e.High, err = s.Int64()
	return err
}

// NoiseBlankerOnChanged reports the state of noise blanker ID (1 or 2).
type NoiseBlankerOnChanged struct {
	VFOHeader
	ID int
	On bool
}

func (*NoiseBlankerOnChanged) Kind() Kind { return KNoiseBlankerOnChanged }

func (e *NoiseBlankerOnChanged) encode(b *packet.Builder) {
	b.Put(byte(e.ID))
	b.Bool(e.On)
}

func (e *NoiseBlankerOnChanged) decode(s *packet.Scanner) (err error) {
	if e.ID, err = getByte[int](s); err != nil {
		return err
	}
	e.On, err = s.Bool()
	return err
}

type NoiseBlankerThresholdChanged struct {
	VFOHeader
	ID        int
	Threshold float64
}

func (*NoiseBlankerThresholdChanged) Kind() Kind { return KNoiseBlankerThresholdChanged }

func (e *NoiseBlankerThresholdChanged) encode(b *packet.Builder) {
	b.Put(byte(e.ID))
	b.Float64(e.Threshold)
}

func (e *NoiseBlankerThresholdChanged) decode(s *packet.Scanner) (err error) {
	if e.ID, err = getByte[int](s); err != nil {
		return err
	}
	e.Threshold, err = s.Float64()
	return err
}

// SquelchLevelChanged reports the squelch level in dBFS.
type SquelchLevelChanged struct {
	VFOHeader
	Level float64
}

func (*SquelchLevelChanged) Kind() Kind { return KSquelchLevelChanged }
func (e *SquelchLevelChanged) encode(b *packet.Builder) { b.Float64(e.Level) }
func (e *SquelchLevelChanged) decode(s *packet.Scanner) (err error) {
	e.Level, err = s.Float64()
	return
}

type SquelchAlphaChanged struct {
	VFOHeader
	Alpha float64
}

func (*SquelchAlphaChanged) Kind() Kind { return KSquelchAlphaChanged }
func (e *SquelchAlphaChanged) encode(b *packet.Builder) { b.Float64(e.Alpha) }
func (e *SquelchAlphaChanged) decode(s *packet.Scanner) (err error) {
	e.Alpha, err = s.Float64()
	return
}

type AGCOnChanged struct {
	VFOHeader
	On bool
}

func (*AGCOnChanged) Kind() Kind { return KAGCOnChanged }
func (e *AGCOnChanged) encode(b *packet.Builder) { b.Bool(e.On) }
func (e *AGCOnChanged) decode(s *packet.Scanner) (err error) {
	e.On, err = s.Bool()
	return
}

type AGCHangChanged struct {
	VFOHeader
	On bool
}

func (*AGCHangChanged) Kind() Kind { return KAGCHangChanged }
func (e *AGCHangChanged) encode(b *packet.Builder) { b.Bool(e.On) }
func (e *AGCHangChanged) decode(s *packet.Scanner) (err error) {
	e.On, err = s.Bool()
	return
}

type AGCThresholdChanged struct {
	VFOHeader
	Threshold int64
}

func (*AGCThresholdChanged) Kind() Kind { return KAGCThresholdChanged }
func (e *AGCThresholdChanged) encode(b *packet.Builder) { b.Int64(e.Threshold) }
func (e *AGCThresholdChanged) decode(s *packet.Scanner) (err error) {
	e.Threshold, err = s.Int64()
	return
}

type AGCSlopeChanged struct {
	VFOHeader
	Slope int64
}

func (*AGCSlopeChanged) Kind() Kind { return KAGCSlopeChanged }
func (e *AGCSlopeChanged) encode(b *packet.Builder) { b.Int64(e.Slope) }
func (e *AGCSlopeChanged) decode(s *packet.Scanner) (err error) {
	e.Slope, err = s.Int64()
	return
}

// AGCDecayChanged reports the AGC decay time in milliseconds.
type AGCDecayChanged struct {
	VFOHeader
	Decay int64
}

func (*AGCDecayChanged) Kind() Kind { return KAGCDecayChanged }
func (e *AGCDecayChanged) encode(b *packet.Builder) { b.Int64(e.Decay) }
func (e *AGCDecayChanged) decode(s *packet.Scanner) (err error) {
	e.Decay, err = s.Int64()
	return
}

type AGCManualGainChanged struct {
	VFOHeader
	Gain int64
}

func (*AGCManualGainChanged) Kind() Kind { return KAGCManualGainChanged }
func (e *AGCManualGainChanged) encode(b *packet.Builder) { b.Int64(e.Gain) }
func (e *AGCManualGainChanged) decode(s *packet.Scanner) (err error) {
	e.Gain, err = s.Int64()
	return
}

// FMMaxDevChanged reports the FM maximum deviation in Hz.
type FMMaxDevChanged struct {
	VFOHeader
	MaxDev float64
}

func (*FMMaxDevChanged) Kind() Kind { return KFMMaxDevChanged }
func (e *FMMaxDevChanged) encode(b *packet.Builder) { b.Float64(e.MaxDev) }
func (e *FMMaxDevChanged) decode(s *packet.Scanner) (err error) {
	e.MaxDev, err = s.Float64()
	return
}

// FMDeemphChanged reports the FM de-emphasis time constant in seconds.
type FMDeemphChanged struct {
	VFOHeader
	Tau float64
}

func (*FMDeemphChanged) Kind() Kind { return KFMDeemphChanged }
func (e *FMDeemphChanged) encode(b *packet.Builder) { b.Float64(e.Tau) }
func (e *FMDeemphChanged) decode(s *packet.Scanner) (err error) {
	e.Tau, err = s.Float64()
	return
}

type AMDCRChanged struct {
	VFOHeader
	On bool
}

func (*AMDCRChanged) Kind() Kind { return KAMDCRChanged }
func (e *AMDCRChanged) encode(b *packet.Builder) { b.Bool(e.On) }
func (e *AMDCRChanged) decode(s *packet.Scanner) (err error) {
	e.On, err = s.Bool()
	return
}

type AMSyncDCRChanged struct {
	VFOHeader
	On bool
}

func (*AMSyncDCRChanged) Kind() Kind { return KAMSyncDCRChanged }
func (e *AMSyncDCRChanged) encode(b *packet.Builder) { b.Bool(e.On) }
func (e *AMSyncDCRChanged) decode(s *packet.Scanner) (err error) {
	e.On, err = s.Bool()
	return
}

type AMSyncPLLBWChanged struct {
	VFOHeader
	BW float64
}

func (*AMSyncPLLBWChanged) Kind() Kind { return KAMSyncPLLBWChanged }
func (e *AMSyncPLLBWChanged) encode(b *packet.Builder) { b.Float64(e.BW) }
func (e *AMSyncPLLBWChanged) decode(s *packet.Scanner) (err error) {
	e.BW, err = s.Float64()
	return
}

type RecordingStarted struct {
	VFOHeader
	Path string
}

func (*RecordingStarted) Kind() Kind { return KRecordingStarted }
func (e *RecordingStarted) encode(b *packet.Builder) { b.VPutString(e.Path) }
func (e *RecordingStarted) decode(s *packet.Scanner) (err error) {
	e.Path, err = s.VString()
	return
}

type RecordingStopped struct{ VFOHeader }

func (*RecordingStopped) Kind() Kind { return KRecordingStopped }
func (*RecordingStopped) encode(*packet.Builder) {}
func (*RecordingStopped) decode(*packet.Scanner) error { return nil }

type SnifferStarted struct {
	VFOHeader
	Rate int64
	Size int64
}

func (*SnifferStarted) Kind() Kind { return KSnifferStarted }

func (e *SnifferStarted) encode(b *packet.Builder) {
	b.Int64(e.Rate)
	b.Int64(e.Size)
}

func (e *SnifferStarted) decode(s *packet.Scanner) (err error) {
	if e.Rate, err = s.Int64(); err != nil {
		return err
	}
	e.Size, err = s.Int64()
	return err
}

type SnifferStopped struct{ VFOHeader }

func (*SnifferStopped) Kind() Kind { return KSnifferStopped }
func (*SnifferStopped) encode(*packet.Builder) {}
func (*SnifferStopped) decode(*packet.Scanner) error { return nil }

type UDPStreamingStarted struct {
	VFOHeader
	Host   string
	Port   int64
	Stereo bool
}

func (*UDPStreamingStarted) Kind() Kind { return KUDPStreamingStarted }

func (e *UDPStreamingStarted) encode(b *packet.Builder) {
	b.VPutString(e.Host)
	b.Int64(e.Port)
	b.Bool(e.Stereo)
}

func (e *UDPStreamingStarted) decode(s *packet.Scanner) (err error) {
	if e.Host, err = s.VString(); err != nil {
		return err
	}
	if e.Port, err = s.Int64(); err != nil {
		return err
	}
	e.Stereo, err = s.Bool()
	return err
}

type UDPStreamingStopped struct{ VFOHeader }

func (*UDPStreamingStopped) Kind() Kind { return KUDPStreamingStopped }
func (*UDPStreamingStopped) encode(*packet.Builder) {}
func (*UDPStreamingStopped) decode(*packet.Scanner) error { return nil }

type RDSStarted struct{ VFOHeader }

func (*RDSStarted) Kind() Kind { return KRDSStarted }
func (*RDSStarted) encode(*packet.Builder) {}
func (*RDSStarted) decode(*packet.Scanner) error { return nil }

type RDSStopped struct{ VFOHeader }

func (*RDSStopped) Kind() Kind { return KRDSStopped }
func (*RDSStopped) encode(*packet.Builder) {}
func (*RDSStopped) decode(*packet.Scanner) error { return nil }

type RDSParserReset struct{ VFOHeader }

func (*RDSParserReset) Kind() Kind { return KRDSParserReset }
func (*RDSParserReset) encode(*packet.Builder) {}
func (*RDSParserReset) decode(*packet.Scanner) error { return nil }

// AudioGainChanged reports the audio gain in dB.
type AudioGainChanged struct {
	VFOHeader
	Gain float64
}

func (*AudioGainChanged) Kind() Kind { return KAudioGainChanged }
func (e *AudioGainChanged) encode(b *packet.Builder) { b.Float64(e.Gain) }
func (e *AudioGainChanged) decode(s *packet.Scanner) (err error) {
	e.Gain, err = s.Float64()
	return
}
