// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package sim

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/creachadair/rxctl"
	"github.com/creachadair/rxctl/event"
	"github.com/creachadair/rxctl/proto"
	"github.com/creachadair/rxctl/rpc"
)

// rdsText is the program service name reported by the simulated decoder.
const rdsText = "RXCTL SIM"

func errInvalid(format string, args ...any) error {
	return proto.Errorf(proto.StatusInvalid, format, args...)
}

// setter registers a handler for a receiver parameter. The update function
// runs with s.μ held, and returns the value applied and the event reporting
// it.
func setter[T proto.Scalar](p *rpc.Peer, s *Server, method string, update func(T) (T, event.ReceiverEvent, error)) {
	p.Handle(method, proto.ParamResultError(func(_ context.Context, a proto.Arg[T]) (proto.Arg[T], error) {
		s.μ.Lock()
		defer s.μ.Unlock()
		v, e, err := update(a.V)
		if err != nil {
			return proto.Arg[T]{}, err
		}
		s.publishLocked(e)
		return proto.Arg[T]{V: v}, nil
	}))
}

// vfoLocked returns the state of the channel with handle h.
func (s *Server) vfoLocked(h event.Handle) (*rxctl.VFOState, error) {
	vs, ok := s.vfos[h]
	if !ok {
		return nil, proto.Errorf(proto.StatusNotFound, "no channel %v", h)
	}
	return vs, nil
}

// vsetter registers a handler for a channel parameter, as setter does for
// the receiver.
func vsetter[T proto.Scalar](p *rpc.Peer, s *Server, method string, update func(*rxctl.VFOState, T) (T, event.VFOEvent, error)) {
	p.Handle(method, proto.ParamResultError(func(_ context.Context, a proto.VFOArg[T]) (proto.VFOArg[T], error) {
		s.μ.Lock()
		defer s.μ.Unlock()
		vs, err := s.vfoLocked(a.VFO)
		if err != nil {
			return proto.VFOArg[T]{}, err
		}
		v, e, err := update(vs, a.V)
		if err != nil {
			return proto.VFOArg[T]{}, err
		}
		s.publishLocked(event.For(a.VFO, e))
		return proto.VFOArg[T]{VFO: a.VFO, V: v}, nil
	}))
}

// vaction registers a handler for a channel method with no argument.
func vaction(p *rpc.Peer, s *Server, method string, act func(*rxctl.VFOState) (event.VFOEvent, error)) {
	p.Handle(method, proto.ParamError(func(_ context.Context, c proto.Channel) error {
		s.μ.Lock()
		defer s.μ.Unlock()
		vs, err := s.vfoLocked(c.VFO)
		if err != nil {
			return err
		}
		e, err := act(vs)
		if err != nil {
			return err
		}
		s.publishLocked(event.For(c.VFO, e))
		return nil
	}))
}

func clamp[T int64 | float64](v, lo, hi T) T { return min(max(v, lo), hi) }

func (s *Server) registerReceiver(p *rpc.Peer) {
	p.Handle(proto.Start, func(context.Context, *rpc.Request) ([]byte, error) {
		s.Publish(&event.Started{})
		return nil, nil
	})
	p.Handle(proto.Stop, func(context.Context, *rpc.Request) ([]byte, error) {
		s.Publish(&event.Stopped{})
		return nil, nil
	})

	setter(p, s, proto.SetInputDevice, func(dev string) (string, event.ReceiverEvent, error) {
		if dev == "" {
			return "", nil, errInvalid("empty device name")
		}
		return dev, &event.InputDeviceChanged{Device: dev}, nil
	})
	setter(p, s, proto.SetAntenna, func(name string) (string, event.ReceiverEvent, error) {
		if !slices.Contains(s.rx.Antennas, name) {
			return "", nil, errInvalid("unknown antenna %q", name)
		}
		return name, &event.AntennaChanged{Antenna: name}, nil
	})
	setter(p, s, proto.SetInputRate, func(rate float64) (float64, event.ReceiverEvent, error) {
		if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
			return 0, nil, errInvalid("invalid sample rate %v", rate)
		}
		return rate, &event.InputRateChanged{Rate: rate}, nil
	})
	setter(p, s, proto.SetInputDecim, func(d int64) (int64, event.ReceiverEvent, error) {
		// Decimation is a power of two from 1 to 64.
		if d < 1 || d > 64 || d&(d-1) != 0 {
			return 0, nil, errInvalid("invalid decimation %d", d)
		}
		return d, &event.InputDecimChanged{Decim: uint32(d)}, nil
	})
	setter(p, s, proto.SetIQSwap, func(on bool) (bool, event.ReceiverEvent, error) {
		return on, &event.IQSwapChanged{On: on}, nil
	})
	setter(p, s, proto.SetDCCancel, func(on bool) (bool, event.ReceiverEvent, error) {
		return on, &event.DCCancelChanged{On: on}, nil
	})
	setter(p, s, proto.SetIQBalance, func(on bool) (bool, event.ReceiverEvent, error) {
		return on, &event.IQBalanceChanged{On: on}, nil
	})
	setter(p, s, proto.SetRFFreq, func(hz int64) (int64, event.ReceiverEvent, error) {
		hz = clamp(hz, s.minFreq, s.maxFreq)
		return hz, &event.RFFreqChanged{Freq: hz}, nil
	})
	setter(p, s, proto.SetAutoGain, func(on bool) (bool, event.ReceiverEvent, error) {
		return on, &event.AutoGainChanged{On: on}, nil
	})
	p.Handle(proto.SetGain, proto.ParamResultError(func(_ context.Context, g proto.Gain) (proto.Gain, error) {
		s.μ.Lock()
		defer s.μ.Unlock()
		i := slices.IndexFunc(s.rx.GainStages, func(gs event.GainStage) bool { return gs.Name == g.Name })
		if i < 0 {
			return proto.Gain{}, proto.Errorf(proto.StatusNotFound, "no gain stage %q", g.Name)
		}
		g.Value = s.rx.GainStages[i].Clamp(g.Value)
		s.publishLocked(&event.GainChanged{Name: g.Name, Value: g.Value})
		return g, nil
	}))
	setter(p, s, proto.SetFreqCorr, func(ppm float64) (float64, event.ReceiverEvent, error) {
		ppm = clamp(ppm, -200, 200)
		return ppm, &event.FreqCorrChanged{PPM: ppm}, nil
	})
	setter(p, s, proto.SetFFTSize, func(n int64) (int64, event.ReceiverEvent, error) {
		if n < 256 || n > 1<<20 || n&(n-1) != 0 {
			return 0, nil, errInvalid("invalid FFT size %d", n)
		}
		return n, &event.FFTSizeChanged{Size: uint32(n)}, nil
	})
	setter(p, s, proto.SetFFTWindow, func(w int64) (int64, event.ReceiverEvent, error) {
		if w < 0 || w > 6 {
			return 0, nil, errInvalid("invalid FFT window %d", w)
		}
		return w, &event.FFTWindowChanged{Window: uint32(w)}, nil
	})
	p.Handle(proto.GetFFTData, proto.ParamResultError(func(_ context.Context, a proto.Arg[int64]) (proto.Floats, error) {
		s.μ.Lock()
		defer s.μ.Unlock()
		if !s.rx.Running {
			return nil, proto.Errorf(proto.StatusNotRunning, "receiver is not running")
		}
		return spectrum(int(min(a.V, int64(s.rx.FFTSize)))), nil
	}))

	p.Handle(proto.AddVFO, func(context.Context, *rpc.Request) ([]byte, error) {
		s.μ.Lock()
		defer s.μ.Unlock()
		h := s.lastVFO + 1
		s.publishLocked(event.For(h, &event.VFOAdded{}))
		for _, e := range s.vfos[h].Events(h, time.Now()) {
			s.publishLocked(e)
		}
		return proto.Channel{VFO: h}.MarshalBinary()
	})
	p.Handle(proto.RemoveVFO, proto.ParamError(func(_ context.Context, c proto.Channel) error {
		s.μ.Lock()
		defer s.μ.Unlock()
		if _, err := s.vfoLocked(c.VFO); err != nil {
			return err
		}
		s.publishLocked(event.For(c.VFO, &event.VFORemoved{}))
		return nil
	}))
}

// spectrum returns n power values in dBFS: a noise floor with a single
// carrier in the center.
func spectrum(n int) proto.Floats {
	out := make(proto.Floats, max(n, 0))
	for i := range out {
		d := float64(i - n/2)
		out[i] = -90 + 60*math.Exp(-d*d/8)
	}
	return out
}

func (s *Server) registerVFO(p *rpc.Peer) {
	vsetter(p, s, proto.SetDemod, func(_ *rxctl.VFOState, d int64) (int64, event.VFOEvent, error) {
		if d < 0 || d > math.MaxUint8 || !event.Demod(d).Valid() {
			return 0, nil, errInvalid("unknown demodulator %d", d)
		}
		return d, &event.DemodChanged{Demod: event.Demod(d)}, nil
	})
	vsetter(p, s, proto.SetOffset, func(_ *rxctl.VFOState, hz int64) (int64, event.VFOEvent, error) {
		// The channel must lie within the decimated input bandwidth.
		half := int64(s.rx.InputRate) / int64(max(s.rx.InputDecim, 1)) / 2
		hz = clamp(hz, -half, half)
		return hz, &event.OffsetChanged{Offset: hz}, nil
	})
	vsetter(p, s, proto.SetCWOffset, func(_ *rxctl.VFOState, hz int64) (int64, event.VFOEvent, error) {
		hz = clamp(hz, -5000, 5000)
		return hz, &event.CWOffsetChanged{Offset: hz}, nil
	})
	p.Handle(proto.SetFilter, proto.ParamResultError(func(_ context.Context, f proto.Filter) (proto.Filter, error) {
		s.μ.Lock()
		defer s.μ.Unlock()
		if _, err := s.vfoLocked(f.VFO); err != nil {
			return proto.Filter{}, err
		}
		if !f.Shape.Valid() || f.Low >= f.High {
			return proto.Filter{}, errInvalid("invalid filter %v [%d, %d]", f.Shape, f.Low, f.High)
		}
		f.Low, f.High = clamp(f.Low, -100_000, 0), clamp(f.High, 0, 100_000)
		s.publishLocked(event.For(f.VFO, &event.FilterChanged{Shape: f.Shape, Low: f.Low, High: f.High}))
		return f, nil
	}))
	blanker := func(method string, update func(proto.Blanker) event.VFOEvent) {
		p.Handle(method, proto.ParamResultError(func(_ context.Context, b proto.Blanker) (proto.Blanker, error) {
			s.μ.Lock()
			defer s.μ.Unlock()
			if _, err := s.vfoLocked(b.VFO); err != nil {
				return proto.Blanker{}, err
			}
			if b.ID != 1 && b.ID != 2 {
				return proto.Blanker{}, errInvalid("invalid noise blanker %d", b.ID)
			}
			s.publishLocked(event.For(b.VFO, update(b)))
			return b, nil
		}))
	}
	blanker(proto.SetNoiseBlanker, func(b proto.Blanker) event.VFOEvent {
		return &event.NoiseBlankerOnChanged{ID: b.ID, On: b.Value != 0}
	})
	blanker(proto.SetNoiseBlankerThreshold, func(b proto.Blanker) event.VFOEvent {
		return &event.NoiseBlankerThresholdChanged{ID: b.ID, Threshold: b.Value}
	})

	vsetter(p, s, proto.SetSquelchLevel, func(_ *rxctl.VFOState, db float64) (float64, event.VFOEvent, error) {
		db = clamp(db, -150, 0)
		return db, &event.SquelchLevelChanged{Level: db}, nil
	})
	vsetter(p, s, proto.SetSquelchAlpha, func(_ *rxctl.VFOState, a float64) (float64, event.VFOEvent, error) {
		a = clamp(a, 0, 1)
		return a, &event.SquelchAlphaChanged{Alpha: a}, nil
	})
	vsetter(p, s, proto.SetAGCOn, func(_ *rxctl.VFOState, on bool) (bool, event.VFOEvent, error) {
		return on, &event.AGCOnChanged{On: on}, nil
	})
	vsetter(p, s, proto.SetAGCHang, func(_ *rxctl.VFOState, on bool) (bool, event.VFOEvent, error) {
		return on, &event.AGCHangChanged{On: on}, nil
	})
	vsetter(p, s, proto.SetAGCThreshold, func(_ *rxctl.VFOState, db int64) (int64, event.VFOEvent, error) {
		db = clamp(db, -160, 0)
		return db, &event.AGCThresholdChanged{Threshold: db}, nil
	})
	vsetter(p, s, proto.SetAGCSlope, func(_ *rxctl.VFOState, db int64) (int64, event.VFOEvent, error) {
		db = clamp(db, 0, 10)
		return db, &event.AGCSlopeChanged{Slope: db}, nil
	})
	vsetter(p, s, proto.SetAGCDecay, func(_ *rxctl.VFOState, ms int64) (int64, event.VFOEvent, error) {
		ms = clamp(ms, 20, 5000)
		return ms, &event.AGCDecayChanged{Decay: ms}, nil
	})
	vsetter(p, s, proto.SetAGCManualGain, func(_ *rxctl.VFOState, db int64) (int64, event.VFOEvent, error) {
		db = clamp(db, -20, 100)
		return db, &event.AGCManualGainChanged{Gain: db}, nil
	})
	vsetter(p, s, proto.SetFMMaxDev, func(_ *rxctl.VFOState, hz float64) (float64, event.VFOEvent, error) {
		hz = clamp(hz, 100, 100_000)
		return hz, &event.FMMaxDevChanged{MaxDev: hz}, nil
	})
	vsetter(p, s, proto.SetFMDeemph, func(_ *rxctl.VFOState, tau float64) (float64, event.VFOEvent, error) {
		tau = clamp(tau, 0, 1e-3)
		return tau, &event.FMDeemphChanged{Tau: tau}, nil
	})
	vsetter(p, s, proto.SetAMDCR, func(_ *rxctl.VFOState, on bool) (bool, event.VFOEvent, error) {
		return on, &event.AMDCRChanged{On: on}, nil
	})
	vsetter(p, s, proto.SetAMSyncDCR, func(_ *rxctl.VFOState, on bool) (bool, event.VFOEvent, error) {
		return on, &event.AMSyncDCRChanged{On: on}, nil
	})
	vsetter(p, s, proto.SetAMSyncPLLBW, func(_ *rxctl.VFOState, bw float64) (float64, event.VFOEvent, error) {
		bw = clamp(bw, 1e-4, 1e-2)
		return bw, &event.AMSyncPLLBWChanged{BW: bw}, nil
	})

	vsetter(p, s, proto.StartRecording, func(vs *rxctl.VFOState, path string) (string, event.VFOEvent, error) {
		if vs.Demod == event.DemodOff {
			return "", nil, proto.Errorf(proto.StatusNotRunning, "demodulator is off")
		}
		if path == "" {
			path = fmt.Sprintf("rxctl-%d.wav", s.rx.RFFreq+vs.Offset)
		}
		return path, &event.RecordingStarted{Path: path}, nil
	})
	vaction(p, s, proto.StopRecording, func(*rxctl.VFOState) (event.VFOEvent, error) {
		return &event.RecordingStopped{}, nil
	})

	p.Handle(proto.StartSniffer, proto.ParamResultError(func(_ context.Context, a proto.Sniffer) (proto.Sniffer, error) {
		s.μ.Lock()
		defer s.μ.Unlock()
		if _, err := s.vfoLocked(a.VFO); err != nil {
			return proto.Sniffer{}, err
		}
		if a.Rate <= 0 || a.Size <= 0 {
			return proto.Sniffer{}, errInvalid("invalid sniffer rate %d or size %d", a.Rate, a.Size)
		}
		s.publishLocked(event.For(a.VFO, &event.SnifferStarted{Rate: a.Rate, Size: a.Size}))
		return a, nil
	}))
	vaction(p, s, proto.StopSniffer, func(*rxctl.VFOState) (event.VFOEvent, error) {
		return &event.SnifferStopped{}, nil
	})
	p.Handle(proto.GetSnifferData, proto.ParamResultError(func(_ context.Context, a proto.VFOArg[int64]) (proto.Floats, error) {
		s.μ.Lock()
		defer s.μ.Unlock()
		vs, err := s.vfoLocked(a.VFO)
		if err != nil {
			return nil, err
		} else if !vs.Sniffer {
			return nil, proto.Errorf(proto.StatusNotRunning, "sniffer is not running")
		}
		out := make(proto.Floats, max(min(a.V, vs.SnifferSize), 0))
		for i := range out {
			out[i] = math.Sin(2 * math.Pi * float64(i) / 16)
		}
		return out, nil
	}))

	vaction(p, s, proto.StartRDS, func(*rxctl.VFOState) (event.VFOEvent, error) {
		return &event.RDSStarted{}, nil
	})
	vaction(p, s, proto.StopRDS, func(*rxctl.VFOState) (event.VFOEvent, error) {
		return &event.RDSStopped{}, nil
	})
	vaction(p, s, proto.ResetRDSParser, func(*rxctl.VFOState) (event.VFOEvent, error) {
		return &event.RDSParserReset{}, nil
	})
	p.Handle(proto.GetRDSData, proto.ParamResultError(func(_ context.Context, a proto.VFOArg[int64]) (string, error) {
		s.μ.Lock()
		defer s.μ.Unlock()
		vs, err := s.vfoLocked(a.VFO)
		if err != nil {
			return "", err
		} else if !vs.RDS {
			return "", proto.Errorf(proto.StatusNotRunning, "RDS decoder is not running")
		}
		return rdsText[:min(int(max(a.V, 0)), len(rdsText))], nil
	}))
}
