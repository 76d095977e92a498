// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package rxctl

import (
	"context"
	"time"

	"github.com/creachadair/rxctl/event"
	"github.com/creachadair/rxctl/proto"
)

// A VFO mirrors the state of one channel of a receiver and issues commands
// to it. Like the Receiver it belongs to, its state is owned by the
// receiver's executor.
//
// Once the server reports that the channel was removed, the VFO is inert:
// its observers are detached, and every command and subscription reports
// ErrVFONotFound without contacting the server.
type VFO struct {
	r *Receiver
	h event.Handle

	// Confined to r.exec.
	state VFOState
	obs   observers
}

func newVFO(r *Receiver, h event.Handle) *VFO {
	return &VFO{r: r, h: h, obs: observers{log: r.log.With("vfo", h), stats: r.stats}}
}

// Handle returns the server handle of v. It is safe to call at any time.
func (v *VFO) Handle() event.Handle { return v.h }

func (v *VFO) onEvent(ctx context.Context, e event.VFOEvent) {
	if v.state.Removed {
		v.r.stats.ignored.Add(1)
		return
	}
	switch e.(type) {
	case *event.VFOSyncStart, *event.VFOSyncEnd, *event.VFOAdded:
		// Forwarded to observers only.
	default:
		if !v.state.Apply(e) {
			v.r.stats.ignored.Add(1)
			return
		}
		v.r.stats.applied.Add(1)
	}
	v.obs.notify(ctx, e)
}

// prepareToDie marks v removed, delivers e to its observers, and detaches
// them. Only the first call has any effect.
func (v *VFO) prepareToDie(ctx context.Context, e *event.VFORemoved) {
	if v.state.Removed {
		return
	}
	v.state.Removed = true
	v.obs.notify(ctx, e)
	v.obs.clear()
}

// snapshot returns the events that reconstruct the state of v.
func (v *VFO) snapshot(t time.Time) []event.Event {
	vs := v.state.Events(v.h, t)
	es := make([]event.Event, len(vs))
	for i, e := range vs {
		es[i] = e
	}
	return es
}

// Subscribe registers h to receive the events of v. The handler immediately
// receives the current state as a VFOSyncStart…VFOSyncEnd bracket, and then
// each event for v as it is applied. The connection for h is passed to done.
// On a removed VFO, done reports ErrVFONotFound.
func (v *VFO) Subscribe(ctx context.Context, h Handler, done func(context.Context, *Connection, error)) error {
	r := v.r
	return r.exec.TrySchedule(ctx, "vfo subscribe", func(ctx context.Context) error {
		if err := v.check(); err != nil {
			callDone(ctx, done, nil, err)
			return nil
		}
		if err := r.ensureSubscribed(); err != nil {
			callDone(ctx, done, nil, err)
			return nil
		}
		id := v.obs.add(h)
		for _, e := range v.snapshot(time.Now()) {
			v.obs.call(ctx, observer{id: id, h: h}, e)
		}
		callDone(ctx, done, &Connection{id: id, obs: &v.obs, exec: r.exec}, nil)
		return nil
	})
}

// check reports an error if v can no longer be used.
func (v *VFO) check() error {
	if v.r.closed {
		return ErrStopped
	} else if v.state.Removed {
		return ErrVFONotFound
	}
	return nil
}

// vscalar adapts a callback for a plain value to one for its wire encoding.
func vscalar[T proto.Scalar](done func(context.Context, T, error)) func(context.Context, proto.VFOArg[T], error) {
	if done == nil {
		return nil
	}
	return func(ctx context.Context, a proto.VFOArg[T], err error) { done(ctx, a.V, err) }
}

// checkArg returns a check that reports ErrInvalidArgument unless ok, and
// otherwise the check of v.
func (v *VFO) checkArg(ok bool) func() error {
	return func() error {
		if err := v.check(); err != nil {
			return err
		} else if !ok {
			return ErrInvalidArgument
		}
		return nil
	}
}

func vcall[T proto.Scalar](ctx context.Context, v *VFO, method string, val T, done func(context.Context, T, error)) error {
	return command(ctx, v.r, method, proto.VFOArg[T]{VFO: v.h, V: val}, v.check, vscalar(done))
}

// vunit issues a method whose only argument is the channel handle.
func vunit(ctx context.Context, v *VFO, method string, done func(context.Context, error)) error {
	return command(ctx, v.r, method, proto.Channel{VFO: v.h}, v.check, unit(done))
}

// SetDemod selects the demodulator.
func (v *VFO) SetDemod(ctx context.Context, d event.Demod, done func(context.Context, event.Demod, error)) error {
	var cb func(context.Context, proto.VFOArg[int64], error)
	if done != nil {
		cb = func(ctx context.Context, a proto.VFOArg[int64], err error) { done(ctx, event.Demod(a.V), err) }
	}
	return command(ctx, v.r, proto.SetDemod, proto.VFOArg[int64]{VFO: v.h, V: int64(d)}, v.checkArg(d.Valid()), cb)
}

// SetOffset sets the offset of the channel from the RF frequency, in Hz.
func (v *VFO) SetOffset(ctx context.Context, hz int64, done func(context.Context, int64, error)) error {
	return vcall(ctx, v, proto.SetOffset, hz, done)
}

// SetCWOffset sets the CW tone offset, in Hz.
func (v *VFO) SetCWOffset(ctx context.Context, hz int64, done func(context.Context, int64, error)) error {
	return vcall(ctx, v, proto.SetCWOffset, hz, done)
}

// Filter describes the channel filter.
type Filter struct {
	Shape     event.FilterShape
	Low, High int64 // edges in Hz, relative to the channel frequency
}

// SetFilter sets the channel filter. The low edge must be below the high
// edge. The callback receives the filter the server applied.
func (v *VFO) SetFilter(ctx context.Context, f Filter, done func(context.Context, Filter, error)) error {
	var cb func(context.Context, proto.Filter, error)
	if done != nil {
		cb = func(ctx context.Context, pf proto.Filter, err error) {
			done(ctx, Filter{Shape: pf.Shape, Low: pf.Low, High: pf.High}, err)
		}
	}
	arg := proto.Filter{VFO: v.h, Shape: f.Shape, Low: f.Low, High: f.High}
	return command(ctx, v.r, proto.SetFilter, arg, v.checkArg(f.Shape.Valid() && f.Low < f.High), cb)
}

// SetNoiseBlanker enables or disables noise blanker id, which must be 1 or 2.
func (v *VFO) SetNoiseBlanker(ctx context.Context, id int, on bool, done func(context.Context, bool, error)) error {
	var cb func(context.Context, proto.Blanker, error)
	if done != nil {
		cb = func(ctx context.Context, b proto.Blanker, err error) { done(ctx, b.Value != 0, err) }
	}
	arg := proto.Blanker{VFO: v.h, ID: id}
	if on {
		arg.Value = 1
	}
	return command(ctx, v.r, proto.SetNoiseBlanker, arg, v.checkArg(validBlanker(id)), cb)
}

// SetNoiseBlankerThreshold sets the threshold of noise blanker id, which must
// be 1 or 2.
func (v *VFO) SetNoiseBlankerThreshold(ctx context.Context, id int, threshold float64, done func(context.Context, float64, error)) error {
	var cb func(context.Context, proto.Blanker, error)
	if done != nil {
		cb = func(ctx context.Context, b proto.Blanker, err error) { done(ctx, b.Value, err) }
	}
	arg := proto.Blanker{VFO: v.h, ID: id, Value: threshold}
	return command(ctx, v.r, proto.SetNoiseBlankerThreshold, arg, v.checkArg(validBlanker(id)), cb)
}

// SetSquelchLevel sets the squelch level, in dBFS.
func (v *VFO) SetSquelchLevel(ctx context.Context, level float64, done func(context.Context, float64, error)) error {
	return vcall(ctx, v, proto.SetSquelchLevel, level, done)
}

// SetSquelchAlpha sets the squelch averaging factor.
func (v *VFO) SetSquelchAlpha(ctx context.Context, alpha float64, done func(context.Context, float64, error)) error {
	return vcall(ctx, v, proto.SetSquelchAlpha, alpha, done)
}

func (v *VFO) SetAGCOn(ctx context.Context, on bool, done func(context.Context, bool, error)) error {
	return vcall(ctx, v, proto.SetAGCOn, on, done)
}

func (v *VFO) SetAGCHang(ctx context.Context, on bool, done func(context.Context, bool, error)) error {
	return vcall(ctx, v, proto.SetAGCHang, on, done)
}

func (v *VFO) SetAGCThreshold(ctx context.Context, db int64, done func(context.Context, int64, error)) error {
	return vcall(ctx, v, proto.SetAGCThreshold, db, done)
}

func (v *VFO) SetAGCSlope(ctx context.Context, db int64, done func(context.Context, int64, error)) error {
	return vcall(ctx, v, proto.SetAGCSlope, db, done)
}

// SetAGCDecay sets the AGC decay time, in milliseconds.
func (v *VFO) SetAGCDecay(ctx context.Context, ms int64, done func(context.Context, int64, error)) error {
	return vcall(ctx, v, proto.SetAGCDecay, ms, done)
}

// SetAGCManualGain sets the gain used while AGC is off, in dB.
func (v *VFO) SetAGCManualGain(ctx context.Context, db int64, done func(context.Context, int64, error)) error {
	return vcall(ctx, v, proto.SetAGCManualGain, db, done)
}

// SetFMMaxDev sets the FM maximum deviation, in Hz.
func (v *VFO) SetFMMaxDev(ctx context.Context, hz float64, done func(context.Context, float64, error)) error {
	return vcall(ctx, v, proto.SetFMMaxDev, hz, done)
}

// SetFMDeemph sets the FM de-emphasis time constant, in seconds.
func (v *VFO) SetFMDeemph(ctx context.Context, tau float64, done func(context.Context, float64, error)) error {
	return vcall(ctx, v, proto.SetFMDeemph, tau, done)
}

func (v *VFO) SetAMDCR(ctx context.Context, on bool, done func(context.Context, bool, error)) error {
	return vcall(ctx, v, proto.SetAMDCR, on, done)
}

func (v *VFO) SetAMSyncDCR(ctx context.Context, on bool, done func(context.Context, bool, error)) error {
	return vcall(ctx, v, proto.SetAMSyncDCR, on, done)
}

// SetAMSyncPLLBW sets the bandwidth of the AM-Sync PLL.
func (v *VFO) SetAMSyncPLLBW(ctx context.Context, bw float64, done func(context.Context, float64, error)) error {
	return vcall(ctx, v, proto.SetAMSyncPLLBW, bw, done)
}

// SetAudioGain is not supported by this client, and reports
// ErrUnimplemented.
func (v *VFO) SetAudioGain(ctx context.Context, db float64, done func(context.Context, error)) error {
	return v.unsupported(ctx, "set_audio_gain", done)
}

// StartRecording starts recording the channel audio to path. The callback
// receives the path the server is writing.
func (v *VFO) StartRecording(ctx context.Context, path string, done func(context.Context, string, error)) error {
	return vcall(ctx, v, proto.StartRecording, path, done)
}

func (v *VFO) StopRecording(ctx context.Context, done func(context.Context, error)) error {
	return vunit(ctx, v, proto.StopRecording, done)
}

// StartSniffer starts capturing the channel samples at the given rate into
// a buffer of size samples.
func (v *VFO) StartSniffer(ctx context.Context, rate, size int64, done func(context.Context, error)) error {
	arg := proto.Sniffer{VFO: v.h, Rate: rate, Size: size}
	var cb func(context.Context, proto.Sniffer, error)
	if done != nil {
		cb = func(ctx context.Context, _ proto.Sniffer, err error) { done(ctx, err) }
	}
	return command(ctx, v.r, proto.StartSniffer, arg, v.checkArg(rate > 0 && size > 0), cb)
}

func (v *VFO) StopSniffer(ctx context.Context, done func(context.Context, error)) error {
	return vunit(ctx, v, proto.StopSniffer, done)
}

// GetSnifferData fills buf with captured samples. The callback receives the
// number of samples written. The caller must not use buf until the callback
// runs.
func (v *VFO) GetSnifferData(ctx context.Context, buf []float64, done func(context.Context, int, error)) error {
	arg := proto.VFOArg[int64]{VFO: v.h, V: int64(len(buf))}
	return command(ctx, v.r, proto.GetSnifferData, arg, v.check, fill[float64, proto.Floats](buf, done))
}

// StartUDPStreaming is not supported by this client, and reports
// ErrUnimplemented.
func (v *VFO) StartUDPStreaming(ctx context.Context, host string, port int, stereo bool, done func(context.Context, error)) error {
	return v.unsupported(ctx, "start_udp_streaming", done)
}

// StopUDPStreaming is not supported by this client, and reports
// ErrUnimplemented.
func (v *VFO) StopUDPStreaming(ctx context.Context, done func(context.Context, error)) error {
	return v.unsupported(ctx, "stop_udp_streaming", done)
}

// unsupported completes a command with ErrUnimplemented, or ErrVFONotFound if
// v has been removed.
func (v *VFO) unsupported(ctx context.Context, label string, done func(context.Context, error)) error {
	return command(ctx, v.r, label, nil, func() error {
		if err := v.check(); err != nil {
			return err
		}
		return ErrUnimplemented
	}, unit(done))
}

// StartRDS starts the RDS decoder.
func (v *VFO) StartRDS(ctx context.Context, done func(context.Context, error)) error {
	return vunit(ctx, v, proto.StartRDS, done)
}

// StopRDS stops the RDS decoder.
func (v *VFO) StopRDS(ctx context.Context, done func(context.Context, error)) error {
	return vunit(ctx, v, proto.StopRDS, done)
}

// ResetRDSParser discards the state of the RDS parser.
func (v *VFO) ResetRDSParser(ctx context.Context, done func(context.Context, error)) error {
	return vunit(ctx, v, proto.ResetRDSParser, done)
}

// GetRDSData fills buf with decoded RDS text. The callback receives the
// number of bytes written. The caller must not use buf until the callback
// runs.
func (v *VFO) GetRDSData(ctx context.Context, buf []byte, done func(context.Context, int, error)) error {
	arg := proto.VFOArg[int64]{VFO: v.h, V: int64(len(buf))}
	return command(ctx, v.r, proto.GetRDSData, arg, v.check, func(ctx context.Context, text string, err error) {
		n := 0
		if err == nil {
			n = copy(buf, text)
		}
		callDone(ctx, done, n, err)
	})
}

// State returns a copy of the mirrored state of v.
func (v *VFO) State() VFOState { return v.state }

// Removed reports whether the server has removed the channel.
func (v *VFO) Removed() bool { return v.state.Removed }

func (v *VFO) Demod() event.Demod { return v.state.Demod }
func (v *VFO) Offset() int64      { return v.state.Offset }
func (v *VFO) CWOffset() int64    { return v.state.CWOffset }

// Filter reports the channel filter.
func (v *VFO) Filter() Filter {
	return Filter{Shape: v.state.FilterShape, Low: v.state.FilterLow, High: v.state.FilterHigh}
}

// NoiseBlanker reports the state of noise blanker id. For an id other than
// 1 or 2 it returns a zero value.
func (v *VFO) NoiseBlanker(id int) Blanker {
	if !validBlanker(id) {
		return Blanker{}
	}
	return v.state.NoiseBlankers[id-1]
}

func (v *VFO) SquelchLevel() float64 { return v.state.SquelchLevel }
func (v *VFO) SquelchAlpha() float64 { return v.state.SquelchAlpha }

// AGC reports the automatic gain control settings.
func (v *VFO) AGC() AGC { return v.state.AGC }

func (v *VFO) FMMaxDev() float64    { return v.state.FMMaxDev }
func (v *VFO) FMDeemph() float64    { return v.state.FMDeemph }
func (v *VFO) AMDCR() bool          { return v.state.AMDCR }
func (v *VFO) AMSyncDCR() bool      { return v.state.AMSyncDCR }
func (v *VFO) AMSyncPLLBW() float64 { return v.state.AMSyncPLLBW }
func (v *VFO) AudioGain() float64   { return v.state.AudioGain }

// Recording reports whether audio recording is active, and to which file.
func (v *VFO) Recording() (bool, string) { return v.state.Recording, v.state.RecordingPath }

// Sniffer reports whether the sample sniffer is active, with its rate and
// buffer size.
func (v *VFO) Sniffer() (on bool, rate, size int64) {
	return v.state.Sniffer, v.state.SnifferRate, v.state.SnifferSize
}

// UDPStreaming reports whether UDP audio streaming is active, and where.
func (v *VFO) UDPStreaming() (on bool, host string, port int64, stereo bool) {
	return v.state.UDPStreaming, v.state.UDPHost, v.state.UDPPort, v.state.UDPStereo
}

// RDS reports whether the RDS decoder is active.
func (v *VFO) RDS() bool { return v.state.RDS }
