// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package rxctl_test

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/creachadair/rxctl"
	"github.com/creachadair/rxctl/event"
	"github.com/creachadair/rxctl/proto"
	"github.com/creachadair/rxctl/rpc"
	"github.com/creachadair/rxctl/sim"
	"github.com/creachadair/taskgroup"
	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"
)

// newSim connects a receiver to a simulated server through in-memory peers.
func newSim(t *testing.T) (*rxctl.Receiver, *sim.Server, func()) {
	t.Helper()
	srv := sim.New(nil)
	loc := rpc.NewLocal()
	srv.Register(loc.B)
	cli := proto.NewClient(loc.A, nil)
	r := rxctl.New(cli, quiet())
	return r, srv, func() {
		if err := r.Close(context.Background()); err != nil {
			t.Errorf("Close: unexpected error: %v", err)
		}
		cli.Close()
		if err := loc.Stop(); err != nil {
			t.Errorf("Stop: %v", err)
		}
	}
}

func TestSimulator(t *testing.T) {
	defer leaktest.Check(t)()
	r, srv, stop := newSim(t)
	defer stop()
	ctx := context.Background()

	rec := newEvents()
	subscribe(t, r, rec.handle)
	rec.until(t, event.KSyncEnd) // local replay
	rec.until(t, event.KSyncEnd) // server snapshot
	if diff := cmp.Diff(srv.State(), get(t, r, r.State)); diff != "" {
		t.Errorf("Mirrored state (-want, +got):\n%s", diff)
	}

	t.Run("Clamp", func(t *testing.T) {
		done, wait := await[int64](t)
		if err := r.SetRFFreq(ctx, 10_000_000_000, done); err != nil {
			t.Fatalf("SetRFFreq: %v", err)
		}
		hz, err := wait()
		if err != nil {
			t.Fatalf("SetRFFreq: unexpected error: %v", err)
		}
		e := rec.until(t, event.KRFFreqChanged)
		if got := e[len(e)-1].(*event.RFFreqChanged).Freq; got != hz {
			t.Errorf("RFFreqChanged: got %d, want %d", got, hz)
		}
		if got := get(t, r, r.RFFreq); got != hz {
			t.Errorf("RFFreq: got %d, want %d", got, hz)
		}
	})

	t.Run("Invalid", func(t *testing.T) {
		done, wait := await[string](t)
		if err := r.SetAntenna(ctx, "nonesuch", done); err != nil {
			t.Fatalf("SetAntenna: %v", err)
		}
		if _, err := wait(); !errors.Is(err, rxctl.ErrInvalidArgument) {
			t.Errorf("SetAntenna: got %v, want %v", err, rxctl.ErrInvalidArgument)
		}
	})

	t.Run("FFT", func(t *testing.T) {
		sdone, swait := awaitErr(t)
		if err := r.Start(ctx, sdone); err != nil {
			t.Fatalf("Start: %v", err)
		}
		if err := swait(); err != nil {
			t.Fatalf("Start: unexpected error: %v", err)
		}
		rec.until(t, event.KStarted)

		buf := make([]float64, 64)
		done, wait := await[int](t)
		if err := r.GetFFTData(ctx, buf, done); err != nil {
			t.Fatalf("GetFFTData: %v", err)
		}
		if n, err := wait(); err != nil || n != len(buf) {
			t.Errorf("GetFFTData: got (%d, %v), want (%d, nil)", n, err, len(buf))
		}
	})

	t.Run("VFO", func(t *testing.T) {
		done, wait := await[*rxctl.VFO](t)
		if err := r.AddVFO(ctx, done); err != nil {
			t.Fatalf("AddVFO: %v", err)
		}
		v, err := wait()
		if err != nil {
			t.Fatalf("AddVFO: unexpected error: %v", err)
		}
		rec.until(t, event.KVFOAdded)
		if vs := get(t, r, r.VFOs); len(vs) != 1 || vs[0] != v {
			t.Fatalf("VFOs: got %v, want [%p]", vs, v)
		}
		vrec := newEvents()
		if _, err := subscribeVFO(t, v, vrec.handle); err != nil {
			t.Fatalf("Subscribe VFO: %v", err)
		}
		vrec.until(t, event.KVFOSyncEnd)

		ddone, dwait := await[event.Demod](t)
		if err := v.SetDemod(ctx, event.DemodWFMStereo, ddone); err != nil {
			t.Fatalf("SetDemod: %v", err)
		}
		if _, err := dwait(); err != nil {
			t.Fatalf("SetDemod: unexpected error: %v", err)
		}
		vrec.until(t, event.KDemodChanged)

		edone, ewait := awaitErr(t)
		if err := v.StartRDS(ctx, edone); err != nil {
			t.Fatalf("StartRDS: %v", err)
		}
		if err := ewait(); err != nil {
			t.Fatalf("StartRDS: unexpected error: %v", err)
		}
		vrec.until(t, event.KRDSStarted)

		buf := make([]byte, 5)
		rdone, rwait := await[int](t)
		if err := v.GetRDSData(ctx, buf, rdone); err != nil {
			t.Fatalf("GetRDSData: %v", err)
		}
		if n, err := rwait(); err != nil || n == 0 {
			t.Errorf("GetRDSData: got (%d, %v), want text", n, err)
		}

		want, _ := srv.VFO(v.Handle())
		if diff := cmp.Diff(want, get(t, r, v.State)); diff != "" {
			t.Errorf("Mirrored VFO (-want, +got):\n%s", diff)
		}

		if err := r.RemoveChannel(ctx, v, edone); err != nil {
			t.Fatalf("RemoveChannel: %v", err)
		}
		if err := ewait(); err != nil {
			t.Fatalf("RemoveChannel: unexpected error: %v", err)
		}
		vrec.until(t, event.KVFORemoved)
		if !get(t, r, v.Removed) {
			t.Error("VFO is not marked removed")
		}
	})

	t.Run("Resync", func(t *testing.T) {
		srv.DropSubscribers()
		rec.until(t, event.KUnsubscribed)

		// The receiver resubscribes on its own; a new observer sees the result.
		srv.Publish(&event.RFFreqChanged{Freq: 145_000_000})
		rec2 := newEvents()
		subscribe(t, r, rec2.handle)
		for get(t, r, r.RFFreq) != 145_000_000 {
			rec2.until(t, event.KRFFreqChanged)
		}
	})
}

func TestDial(t *testing.T) {
	defer leaktest.Check(t)()
	lst, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	srv := sim.New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	g := taskgroup.New(nil)
	g.Go(func() error {
		return rpc.Loop(ctx, rpc.NetAccepter(lst), func() *rpc.Peer { return srv.Register(rpc.NewPeer()) })
	})
	defer func() { cancel(); g.Wait() }()

	opts := &rxctl.DialOptions{Options: *quiet()}
	c, err := rxctl.Dial(ctx, lst.Addr().String(), opts)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer func() {
		if err := c.Close(context.Background()); err != nil {
			t.Errorf("Close: %v", err)
		}
	}()

	done, wait := await[float64](t)
	if err := c.SetFreqCorr(ctx, 12.5, done); err != nil {
		t.Fatalf("SetFreqCorr: %v", err)
	}
	if ppm, err := wait(); err != nil || ppm != 12.5 {
		t.Errorf("SetFreqCorr: got (%v, %v), want (12.5, nil)", ppm, err)
	}
	if got := srv.State().FreqCorr; got != 12.5 {
		t.Errorf("Server FreqCorr: got %v, want 12.5", got)
	}
	if c.Metrics().Get("peer") == nil {
		t.Error("Metrics are missing the peer map")
	}
}
