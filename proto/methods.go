// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

// Package proto defines the RPC protocol spoken between a receiver client and
// a receiver server: the method names, the encodings of their arguments and
// results, the streaming event subscription, and a client implementation.
//
// Each settable parameter has its own method. A setter takes the requested
// value and returns the value the server actually applied, which may differ
// when the server clamps or rounds its input. VFO methods take the channel
// handle as their first argument.
package proto

// Receiver methods. The comments give the argument and result types.
const (
	Subscribe = "subscribe" // streaming: none → encoded events

	Start = "start" // none → none
	Stop  = "stop"  // none → none

	SetInputDevice = "set_input_dev"   // Arg[string]
	SetAntenna     = "set_antenna"     // Arg[string]
	SetInputRate   = "set_input_rate"  // Arg[float64]
	SetInputDecim  = "set_input_decim" // Arg[int64]
	SetIQSwap      = "set_iq_swap"     // Arg[bool]
	SetDCCancel    = "set_dc_cancel"   // Arg[bool]
	SetIQBalance   = "set_iq_balance"  // Arg[bool]
	SetRFFreq      = "set_rf_freq"     // Arg[int64]
	SetAutoGain    = "set_auto_gain"   // Arg[bool]
	SetGain        = "set_gain"        // Gain
	SetFreqCorr    = "set_freq_corr"   // Arg[float64]
	SetFFTSize     = "set_fft_size"    // Arg[int64]
	SetFFTWindow   = "set_fft_window"  // Arg[int64]
	GetFFTData     = "get_fft_data"    // Arg[int64] max bins → Floats

	AddVFO    = "add_vfo"    // none → Channel
	RemoveVFO = "remove_vfo" // Channel → none
)

// VFO methods. Unless noted, the result has the same type as the argument.
const (
	SetDemod                 = "vfo.set_demod"           // VFOArg[int64]
	SetOffset                = "vfo.set_offset"          // VFOArg[int64]
	SetCWOffset              = "vfo.set_cw_offset"       // VFOArg[int64]
	SetFilter                = "vfo.set_filter"          // Filter
	SetNoiseBlanker          = "vfo.set_nb_on"           // Blanker, Value 0 or 1
	SetNoiseBlankerThreshold = "vfo.set_nb_threshold"    // Blanker
	SetSquelchLevel          = "vfo.set_sql_level"       // VFOArg[float64]
	SetSquelchAlpha          = "vfo.set_sql_alpha"       // VFOArg[float64]
	SetAGCOn                 = "vfo.set_agc_on"          // VFOArg[bool]
	SetAGCHang               = "vfo.set_agc_hang"        // VFOArg[bool]
	SetAGCThreshold          = "vfo.set_agc_threshold"   // VFOArg[int64]
	SetAGCSlope              = "vfo.set_agc_slope"       // VFOArg[int64]
	SetAGCDecay              = "vfo.set_agc_decay"       // VFOArg[int64]
	SetAGCManualGain         = "vfo.set_agc_manual_gain" // VFOArg[int64]
	SetFMMaxDev              = "vfo.set_fm_maxdev"       // VFOArg[float64]
	SetFMDeemph              = "vfo.set_fm_deemph"       // VFOArg[float64]
	SetAMDCR                 = "vfo.set_am_dcr"          // VFOArg[bool]
	SetAMSyncDCR             = "vfo.set_amsync_dcr"      // VFOArg[bool]
	SetAMSyncPLLBW           = "vfo.set_amsync_pll_bw"   // VFOArg[float64]
	StartRecording           = "vfo.start_recording"     // VFOArg[string] path
	StopRecording            = "vfo.stop_recording"      // Channel → none
	StartSniffer             = "vfo.start_sniffer"       // Sniffer
	StopSniffer              = "vfo.stop_sniffer"        // Channel → none
	GetSnifferData           = "vfo.get_sniffer_data"    // VFOArg[int64] max samples → Floats
	StartRDS                 = "vfo.start_rds"           // Channel → none
	StopRDS                  = "vfo.stop_rds"            // Channel → none
	ResetRDSParser           = "vfo.reset_rds_parser"    // Channel → none
	GetRDSData               = "vfo.get_rds_data"        // VFOArg[int64] max bytes → string
)

// Status values reported in the Code field of an rpc.ErrorData by a server.
const (
	StatusOK            uint16 = 0
	StatusNotFound      uint16 = 1 // no such VFO or stage
	StatusInvalid       uint16 = 2 // argument out of the accepted domain
	StatusUnimplemented uint16 = 3
	StatusNotRunning    uint16 = 4 // operation requires a running receiver
)
