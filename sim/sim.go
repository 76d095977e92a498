// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

// Package sim implements a simulated receiver server.
//
// A Server holds the authoritative state of one receiver and its channels.
// Each method call validates and clamps its argument, updates the state, and
// publishes the resulting events to every subscriber. A new subscriber first
// receives a snapshot of the state, bracketed by SyncStart and SyncEnd.
//
// The server speaks the protocol of package proto, so a Receiver connected to
// it through a pair of peers behaves as it would against real hardware:
//
//	srv := sim.New(nil)
//	loc := rpc.NewLocal()
//	srv.Register(loc.B)
//	r := rxctl.New(proto.NewClient(loc.A, nil), nil)
package sim

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/creachadair/mds/mapset"
	"github.com/creachadair/mds/queue"
	"github.com/creachadair/rxctl"
	"github.com/creachadair/rxctl/event"
	"github.com/creachadair/rxctl/proto"
	"github.com/creachadair/rxctl/rpc"
)

// Options are settings for a Server. A nil *Options is ready for use and
// provides default values.
type Options struct {
	// Device names the simulated input device. Default: "sim".
	Device string

	// Antennas lists the antennas of the device. Default: RX, TX/RX.
	Antennas []string

	// GainStages describes the gain elements of the device. By default the
	// device has a single stage "LNA" from 0 to 49.6 dB.
	GainStages []event.GainStage

	// RF frequencies are clamped to this range, in Hz. Default: 24 MHz to
	// 1766 MHz.
	MinFreq, MaxFreq int64

	// Logger receives diagnostic messages. If nil, slog.Default is used.
	Logger *slog.Logger
}

func (o *Options) logger() *slog.Logger {
	if o == nil || o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

func (o *Options) initial() (rxctl.ReceiverState, int64, int64) {
	s := rxctl.ReceiverState{
		InputDevice: "sim",
		Antennas:    []string{"RX", "TX/RX"},
		GainStages:  []event.GainStage{{Name: "LNA", Min: 0, Max: 49.6, Step: 0.1}},
		InputRate:   2_400_000,
		InputDecim:  1,
		RFFreq:      100_000_000,
		FFTSize:     4096,
	}
	lo, hi := int64(24_000_000), int64(1_766_000_000)
	if o != nil {
		if o.Device != "" {
			s.InputDevice = o.Device
		}
		if len(o.Antennas) != 0 {
			s.Antennas = slices.Clone(o.Antennas)
		}
		if len(o.GainStages) != 0 {
			s.GainStages = slices.Clone(o.GainStages)
		}
		if o.MinFreq > 0 {
			lo = o.MinFreq
		}
		if o.MaxFreq > 0 {
			hi = o.MaxFreq
		}
	}
	s.Antenna = s.Antennas[0]
	s.RFFreq = min(max(s.RFFreq, lo), hi)
	return s, lo, max(lo, hi)
}

// A Server is a simulated receiver. Its methods are safe for concurrent use.
type Server struct {
	log              *slog.Logger
	minFreq, maxFreq int64

	μ       sync.Mutex
	rx      rxctl.ReceiverState
	vfos    map[event.Handle]*rxctl.VFOState
	lastVFO event.Handle
	subs    mapset.Set[*subscriber]
}

// New constructs a server with the initial state described by opts.
func New(opts *Options) *Server {
	rx, lo, hi := opts.initial()
	return &Server{
		log:     opts.logger(),
		minFreq: lo,
		maxFreq: hi,
		rx:      rx,
		vfos:    make(map[event.Handle]*rxctl.VFOState),
		subs:    mapset.New[*subscriber](),
	}
}

// A subscriber is the queue of encoded events for one event stream.
type subscriber struct {
	q       queue.Queue[[]byte] // guarded by Server.μ
	dropped bool                // guarded by Server.μ
	ready   chan struct{}
}

func (sub *subscriber) signal() {
	select {
	case sub.ready <- struct{}{}:
	default:
	}
}

var errDropped = errors.New("subscription dropped by server")

// State returns a copy of the current receiver state.
func (s *Server) State() rxctl.ReceiverState {
	s.μ.Lock()
	defer s.μ.Unlock()
	return s.rx.Clone()
}

// VFO returns a copy of the state of the channel with handle h, if it exists.
func (s *Server) VFO(h event.Handle) (rxctl.VFOState, bool) {
	s.μ.Lock()
	defer s.μ.Unlock()
	if vs, ok := s.vfos[h]; ok {
		return *vs, true
	}
	return rxctl.VFOState{}, false
}

// Subscribers reports the number of active event streams.
func (s *Server) Subscribers() int {
	s.μ.Lock()
	defer s.μ.Unlock()
	return len(s.subs)
}

// Publish applies es to the server state as if they had occurred, and sends
// them to all subscribers. A VFOAdded creates its channel with default
// settings, and a VFORemoved deletes it. Events without a timestamp are
// stamped with the current time.
func (s *Server) Publish(es ...event.Event) {
	s.μ.Lock()
	defer s.μ.Unlock()
	s.publishLocked(es...)
}

// DropSubscribers ends every active event stream with an error, as a server
// restart would.
func (s *Server) DropSubscribers() {
	s.μ.Lock()
	defer s.μ.Unlock()
	for sub := range s.subs {
		sub.dropped = true
		sub.signal()
	}
	s.log.Info("dropped subscribers", "count", len(s.subs))
}

func (s *Server) publishLocked(es ...event.Event) {
	now := time.Now()
	for _, e := range es {
		if e.Time().IsZero() {
			event.Stamp(e, now)
		}
		switch e := e.(type) {
		case *event.VFOAdded:
			h := e.VFO()
			if _, ok := s.vfos[h]; !ok {
				s.vfos[h] = newVFOState()
				s.rx.VFOs = append(s.rx.VFOs, h)
			}
			s.lastVFO = max(s.lastVFO, h)
		case *event.VFORemoved:
			h := e.VFO()
			delete(s.vfos, h)
			s.rx.VFOs = slices.DeleteFunc(s.rx.VFOs, func(x event.Handle) bool { return x == h })
		case event.VFOEvent:
			if vs, ok := s.vfos[e.VFO()]; ok {
				vs.Apply(e)
			}
		case event.ReceiverEvent:
			s.rx.Apply(e)
		}
		data := event.Encode(e)
		for sub := range s.subs {
			sub.q.Add(data)
			sub.signal()
		}
	}
}

// snapshotLocked returns the events that reconstruct the server state: the
// receiver fields, then each channel as a VFOAdded followed by its bracket.
func (s *Server) snapshotLocked(t time.Time) []event.Event {
	es := s.rx.Events(t)
	end := es[len(es)-1]
	es = es[:len(es)-1]
	for _, h := range s.rx.VFOs {
		for _, e := range s.vfos[h].Events(h, t) {
			es = append(es, e)
		}
	}
	return append(es, end)
}

// stream implements the event subscription.
func (s *Server) stream(ctx context.Context, _ *rpc.Request) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		sub := &subscriber{ready: make(chan struct{}, 1)}
		s.μ.Lock()
		for _, e := range s.snapshotLocked(time.Now()) {
			sub.q.Add(event.Encode(e))
		}
		s.subs.Add(sub)
		n := len(s.subs)
		s.μ.Unlock()
		s.log.Debug("subscriber added", "subscribers", n)

		defer func() {
			s.μ.Lock()
			defer s.μ.Unlock()
			s.subs.Remove(sub)
		}()
		for {
			s.μ.Lock()
			data, ok := sub.q.Pop()
			dropped := sub.dropped
			s.μ.Unlock()

			if dropped {
				yield(nil, errDropped)
				return
			} else if ok {
				if !yield(data, nil) {
					return
				}
				continue
			}
			select {
			case <-ctx.Done():
				return
			case <-sub.ready:
			}
		}
	}
}

// Register installs the methods of s on p, and returns p. Use it to serve
// s on an accepted connection:
//
//	rpc.Loop(ctx, acc, func() *rpc.Peer { return srv.Register(rpc.NewPeer()) })
func (s *Server) Register(p *rpc.Peer) *rpc.Peer {
	proto.HandleStream(p, proto.Subscribe, s.stream)
	s.registerReceiver(p)
	s.registerVFO(p)
	return p
}

// newVFOState returns the settings of a newly-created channel.
func newVFOState() *rxctl.VFOState {
	return &rxctl.VFOState{
		Demod:        event.DemodOff,
		FilterShape:  event.FilterNormal,
		FilterLow:    -5000,
		FilterHigh:   5000,
		SquelchLevel: -150,
		SquelchAlpha: 0.001,
		AGC: rxctl.AGC{
			On:         true,
			Threshold:  -100,
			Slope:      0,
			Decay:      500,
			ManualGain: 0,
		},
		FMMaxDev:    5000,
		FMDeemph:    75e-6,
		AMDCR:       true,
		AMSyncDCR:   true,
		AMSyncPLLBW: 0.001,
	}
}
