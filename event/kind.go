// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package event

import (
	"fmt"
	"maps"
	"slices"
)

// A Kind identifies the concrete type of an [Event]. Kinds below
// [FirstVFOKind] are receiver events; the rest are VFO events.
type Kind byte

// Receiver event kinds.
const (
	KUnsubscribed Kind = iota + 1
	KSyncStart
	KSyncEnd
	KStarted
	KStopped
	KInputDeviceChanged
	KAntennaChanged
	KAntennasChanged
	KInputRateChanged
	KInputDecimChanged
	KIQSwapChanged
	KDCCancelChanged
	KIQBalanceChanged
	KRFFreqChanged
	KGainStagesChanged
	KAutoGainChanged
	KGainChanged
	KFreqCorrChanged
	KFFTSizeChanged
	KFFTWindowChanged
	KIQRecordingStarted
	KIQRecordingStopped
)

// VFO event kinds.
const (
	KVFOSyncStart Kind = iota + FirstVFOKind
	KVFOSyncEnd
	KVFOAdded
	KVFORemoved
	KDemodChanged
	KOffsetChanged
	KCWOffsetChanged
	KFilterChanged
	KNoiseBlankerOnChanged
	KNoiseBlankerThresholdChanged
	KSquelchLevelChanged
	KSquelchAlphaChanged
	KAGCOnChanged
	KAGCHangChanged
	KAGCThresholdChanged
	KAGCSlopeChanged
	KAGCDecayChanged
	KAGCManualGainChanged
	KFMMaxDevChanged
	KFMDeemphChanged
	KAMDCRChanged
	KAMSyncDCRChanged
	KAMSyncPLLBWChanged
	KRecordingStarted
	KRecordingStopped
	KSnifferStarted
	KSnifferStopped
	KUDPStreamingStarted
	KUDPStreamingStopped
	KRDSStarted
	KRDSStopped
	KRDSParserReset
	KAudioGainChanged
)

// FirstVFOKind is the smallest kind value assigned to a VFO event.
const FirstVFOKind Kind = 64

var kindNames = map[Kind]string{
	KUnsubscribed:                 "Unsubscribed",
	KSyncStart:                    "SyncStart",
	KSyncEnd:                      "SyncEnd",
	KStarted:                      "Started",
	KStopped:                      "Stopped",
	KInputDeviceChanged:           "InputDeviceChanged",
	KAntennaChanged:               "AntennaChanged",
	KAntennasChanged:              "AntennasChanged",
	KInputRateChanged:             "InputRateChanged",
	KInputDecimChanged:            "InputDecimChanged",
	KIQSwapChanged:                "IQSwapChanged",
	KDCCancelChanged:              "DCCancelChanged",
	KIQBalanceChanged:             "IQBalanceChanged",
	KRFFreqChanged:                "RFFreqChanged",
	KGainStagesChanged:            "GainStagesChanged",
	KAutoGainChanged:              "AutoGainChanged",
	KGainChanged:                  "GainChanged",
	KFreqCorrChanged:              "FreqCorrChanged",
	KFFTSizeChanged:               "FFTSizeChanged",
	KFFTWindowChanged:             "FFTWindowChanged",
	KIQRecordingStarted:           "IQRecordingStarted",
	KIQRecordingStopped:           "IQRecordingStopped",
	KVFOSyncStart:                 "VFOSyncStart",
	KVFOSyncEnd:                   "VFOSyncEnd",
	KVFOAdded:                     "VFOAdded",
	KVFORemoved:                   "VFORemoved",
	KDemodChanged:                 "DemodChanged",
	KOffsetChanged:                "OffsetChanged",
	KCWOffsetChanged:              "CWOffsetChanged",
	KFilterChanged:                "FilterChanged",
	KNoiseBlankerOnChanged:        "NoiseBlankerOnChanged",
	KNoiseBlankerThresholdChanged: "NoiseBlankerThresholdChanged",
	KSquelchLevelChanged:          "SquelchLevelChanged",
	KSquelchAlphaChanged:          "SquelchAlphaChanged",
	KAGCOnChanged:                 "AGCOnChanged",
	KAGCHangChanged:               "AGCHangChanged",
	KAGCThresholdChanged:          "AGCThresholdChanged",
	KAGCSlopeChanged:              "AGCSlopeChanged",
	KAGCDecayChanged:              "AGCDecayChanged",
	KAGCManualGainChanged:         "AGCManualGainChanged",
	KFMMaxDevChanged:              "FMMaxDevChanged",
	KFMDeemphChanged:              "FMDeemphChanged",
	KAMDCRChanged:                 "AMDCRChanged",
	KAMSyncDCRChanged:             "AMSyncDCRChanged",
	KAMSyncPLLBWChanged:           "AMSyncPLLBWChanged",
	KRecordingStarted:             "RecordingStarted",
	KRecordingStopped:             "RecordingStopped",
	KSnifferStarted:               "SnifferStarted",
	KSnifferStopped:               "SnifferStopped",
	KUDPStreamingStarted:          "UDPStreamingStarted",
	KUDPStreamingStopped:          "UDPStreamingStopped",
	KRDSStarted:                   "RDSStarted",
	KRDSStopped:                   "RDSStopped",
	KRDSParserReset:               "RDSParserReset",
	KAudioGainChanged:             "AudioGainChanged",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", byte(k))
}

// IsVFO reports whether k is the kind of a [VFOEvent].
func (k Kind) IsVFO() bool { return k >= FirstVFOKind }

// Valid reports whether k is a known event kind.
func (k Kind) Valid() bool { _, ok := kindNames[k]; return ok }

// Kinds returns all the known event kinds in increasing order.
func Kinds() []Kind {
	out := slices.Collect(maps.Keys(kindNames))
	slices.Sort(out)
	return out
}

// New returns a new zero-valued event of the given kind, or nil if k is not a
// known kind.
func New(k Kind) Event {
	switch k {
	case KUnsubscribed:
		return new(Unsubscribed)
	case KSyncStart:
		return new(SyncStart)
	case KSyncEnd:
		return new(SyncEnd)
	case KStarted:
		return new(Started)
	case KStopped:
		return new(Stopped)
	case KInputDeviceChanged:
		return new(InputDeviceChanged)
	case KAntennaChanged:
		return new(AntennaChanged)
	case KAntennasChanged:
		return new(AntennasChanged)
	case KInputRateChanged:
		return new(InputRateChanged)
	case KInputDecimChanged:
		return new(InputDecimChanged)
	case KIQSwapChanged:
		return new(IQSwapChanged)
	case KDCCancelChanged:
		return new(DCCancelChanged)
	case KIQBalanceChanged:
		return new(IQBalanceChanged)
	case KRFFreqChanged:
		return new(RFFreqChanged)
	case KGainStagesChanged:
		return new(GainStagesChanged)
	case KAutoGainChanged:
		return new(AutoGainChanged)
	case KGainChanged:
		return new(GainChanged)
	case KFreqCorrChanged:
		return new(FreqCorrChanged)
	case KFFTSizeChanged:
		return new(FFTSizeChanged)
	case KFFTWindowChanged:
		return new(FFTWindowChanged)
	case KIQRecordingStarted:
		return new(IQRecordingStarted)
	case KIQRecordingStopped:
		return new(IQRecordingStopped)
	case KVFOSyncStart:
		return new(VFOSyncStart)
	case KVFOSyncEnd:
		return new(VFOSyncEnd)
	case KVFOAdded:
		return new(VFOAdded)
	case KVFORemoved:
		return new(VFORemoved)
	case KDemodChanged:
		return new(DemodChanged)
	case KOffsetChanged:
		return new(OffsetChanged)
	case KCWOffsetChanged:
		return new(CWOffsetChanged)
	case KFilterChanged:
		return new(FilterChanged)
	case KNoiseBlankerOnChanged:
		return new(NoiseBlankerOnChanged)
	case KNoiseBlankerThresholdChanged:
		return new(NoiseBlankerThresholdChanged)
	case KSquelchLevelChanged:
		return new(SquelchLevelChanged)
	case KSquelchAlphaChanged:
		return new(SquelchAlphaChanged)
	case KAGCOnChanged:
		return new(AGCOnChanged)
	case KAGCHangChanged:
		return new(AGCHangChanged)
	case KAGCThresholdChanged:
		return new(AGCThresholdChanged)
	case KAGCSlopeChanged:
		return new(AGCSlopeChanged)
	case KAGCDecayChanged:
		return new(AGCDecayChanged)
	case KAGCManualGainChanged:
		return new(AGCManualGainChanged)
	case KFMMaxDevChanged:
		return new(FMMaxDevChanged)
	case KFMDeemphChanged:
		return new(FMDeemphChanged)
	case KAMDCRChanged:
		return new(AMDCRChanged)
	case KAMSyncDCRChanged:
		return new(AMSyncDCRChanged)
	case KAMSyncPLLBWChanged:
		return new(AMSyncPLLBWChanged)
	case KRecordingStarted:
		return new(RecordingStarted)
	case KRecordingStopped:
		return new(RecordingStopped)
	case KSnifferStarted:
		return new(SnifferStarted)
	case KSnifferStopped:
		return new(SnifferStopped)
	case KUDPStreamingStarted:
		return new(UDPStreamingStarted)
	case KUDPStreamingStopped:
		return new(UDPStreamingStopped)
	case KRDSStarted:
		return new(RDSStarted)
	case KRDSStopped:
		return new(RDSStopped)
	case KRDSParserReset:
		return new(RDSParserReset)
	case KAudioGainChanged:
		return new(AudioGainChanged)
	}
	return nil
}
