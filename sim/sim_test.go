// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package sim_test

import (
	"context"
	"testing"
	"time"

	"github.com/creachadair/rxctl"
	"github.com/creachadair/rxctl/event"
	"github.com/creachadair/rxctl/proto"
	"github.com/creachadair/rxctl/rpc"
	"github.com/creachadair/rxctl/sim"
	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"
)

func newServer(t *testing.T) (*sim.Server, *proto.Client, func()) {
	t.Helper()
	srv := sim.New(nil)
	loc := rpc.NewLocal()
	srv.Register(loc.B)
	cli := proto.NewClient(loc.A, nil)
	return srv, cli, func() {
		cli.Close()
		if err := loc.Stop(); err != nil {
			t.Errorf("Stop: %v", err)
		}
	}
}

// subscribe opens an event stream and returns a channel of its events.
func subscribe(t *testing.T, cli *proto.Client) <-chan event.Event {
	t.Helper()
	ch := make(chan event.Event, 256)
	if _, err := cli.Subscribe(t.Context(), func(e event.Event) { ch <- e }); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	return ch
}

func next(t *testing.T, ch <-chan event.Event) event.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for an event")
		return nil
	}
}

// until reads events from ch through the first one of kind k.
func until(t *testing.T, ch <-chan event.Event, k event.Kind) []event.Event {
	t.Helper()
	var out []event.Event
	for {
		e := next(t, ch)
		out = append(out, e)
		if e.Kind() == k {
			return out
		}
	}
}

func wantStatus(t *testing.T, err error, want uint16) {
	t.Helper()
	if got, ok := proto.StatusOf(err); !ok || got != want {
		t.Errorf("Got error %v (status %d, %v), want status %d", err, got, ok, want)
	}
}

func TestSetters(t *testing.T) {
	defer leaktest.Check(t)()
	_, cli, stop := newServer(t)
	defer stop()
	ctx := context.Background()

	t.Run("Clamp", func(t *testing.T) {
		got, err := proto.Invoke[proto.Arg[int64]](ctx, cli, proto.SetRFFreq, proto.Arg[int64]{V: 5_000_000_000})
		if err != nil {
			t.Fatalf("SetRFFreq: unexpected error: %v", err)
		}
		if got.V != 1_766_000_000 {
			t.Errorf("SetRFFreq: got %d, want %d", got.V, 1_766_000_000)
		}

		g, err := proto.Invoke[proto.Gain](ctx, cli, proto.SetGain, proto.Gain{Name: "LNA", Value: 99})
		if err != nil {
			t.Fatalf("SetGain: unexpected error: %v", err)
		}
		if diff := cmp.Diff(proto.Gain{Name: "LNA", Value: 49.6}, g); diff != "" {
			t.Errorf("SetGain (-want, +got):\n%s", diff)
		}
	})

	t.Run("Invalid", func(t *testing.T) {
		_, err := proto.Invoke[proto.Arg[string]](ctx, cli, proto.SetAntenna, proto.Arg[string]{V: "nonesuch"})
		wantStatus(t, err, proto.StatusInvalid)

		_, err = proto.Invoke[proto.Arg[int64]](ctx, cli, proto.SetInputDecim, proto.Arg[int64]{V: 3})
		wantStatus(t, err, proto.StatusInvalid)

		_, err = proto.Invoke[proto.Gain](ctx, cli, proto.SetGain, proto.Gain{Name: "IF"})
		wantStatus(t, err, proto.StatusNotFound)
	})

	t.Run("NoChannel", func(t *testing.T) {
		_, err := proto.Invoke[proto.VFOArg[int64]](ctx, cli, proto.SetOffset, proto.VFOArg[int64]{VFO: 99, V: 1})
		wantStatus(t, err, proto.StatusNotFound)

		_, err = proto.Invoke[struct{}](ctx, cli, proto.RemoveVFO, proto.Channel{VFO: 99})
		wantStatus(t, err, proto.StatusNotFound)
	})

	t.Run("NotRunning", func(t *testing.T) {
		_, err := proto.Invoke[proto.Floats](ctx, cli, proto.GetFFTData, proto.Arg[int64]{V: 16})
		wantStatus(t, err, proto.StatusNotRunning)

		if _, err := proto.Invoke[struct{}](ctx, cli, proto.Start, nil); err != nil {
			t.Fatalf("Start: unexpected error: %v", err)
		}
		fft, err := proto.Invoke[proto.Floats](ctx, cli, proto.GetFFTData, proto.Arg[int64]{V: 16})
		if err != nil {
			t.Fatalf("GetFFTData: unexpected error: %v", err)
		}
		if len(fft) != 16 {
			t.Errorf("GetFFTData: got %d values, want 16", len(fft))
		}
	})
}

func TestSnapshot(t *testing.T) {
	defer leaktest.Check(t)()
	srv, cli, stop := newServer(t)
	defer stop()
	ctx := context.Background()

	c, err := proto.Invoke[proto.Channel](ctx, cli, proto.AddVFO, nil)
	if err != nil {
		t.Fatalf("AddVFO: unexpected error: %v", err)
	}
	if _, err := proto.Invoke[proto.VFOArg[int64]](ctx, cli, proto.SetDemod,
		proto.VFOArg[int64]{VFO: c.VFO, V: int64(event.DemodNFM)}); err != nil {
		t.Fatalf("SetDemod: unexpected error: %v", err)
	}

	// Replaying the snapshot from a zero state must reproduce the server.
	es := until(t, subscribe(t, cli), event.KSyncEnd)
	if es[0].Kind() != event.KSyncStart {
		t.Errorf("First event is %v, want SyncStart", es[0].Kind())
	}
	var rx rxctl.ReceiverState
	vs := make(map[event.Handle]*rxctl.VFOState)
	for _, e := range es {
		switch e := e.(type) {
		case *event.VFOAdded:
			rx.VFOs = append(rx.VFOs, e.VFO())
			vs[e.VFO()] = new(rxctl.VFOState)
		case event.VFOEvent:
			vs[e.VFO()].Apply(e)
		case event.ReceiverEvent:
			rx.Apply(e)
		}
	}
	if diff := cmp.Diff(srv.State(), rx); diff != "" {
		t.Errorf("Receiver state (-want, +got):\n%s", diff)
	}
	want, ok := srv.VFO(c.VFO)
	if !ok {
		t.Fatalf("Server has no channel %v", c.VFO)
	}
	if diff := cmp.Diff(want, *vs[c.VFO]); diff != "" {
		t.Errorf("VFO state (-want, +got):\n%s", diff)
	}
	if want.Demod != event.DemodNFM {
		t.Errorf("Demod: got %v, want %v", want.Demod, event.DemodNFM)
	}
}

func TestBroadcast(t *testing.T) {
	defer leaktest.Check(t)()
	srv, cli, stop := newServer(t)
	defer stop()
	ctx := context.Background()

	ch1 := subscribe(t, cli)
	ch2 := subscribe(t, cli)
	until(t, ch1, event.KSyncEnd)
	until(t, ch2, event.KSyncEnd)

	if _, err := proto.Invoke[proto.Arg[int64]](ctx, cli, proto.SetRFFreq, proto.Arg[int64]{V: 145_500_000}); err != nil {
		t.Fatalf("SetRFFreq: unexpected error: %v", err)
	}
	for i, ch := range []<-chan event.Event{ch1, ch2} {
		e, ok := next(t, ch).(*event.RFFreqChanged)
		if !ok || e.Freq != 145_500_000 {
			t.Errorf("Subscriber %d: got %v, want RFFreqChanged(145500000)", i+1, e)
		}
	}
	if n := srv.Subscribers(); n != 2 {
		t.Errorf("Subscribers: got %d, want 2", n)
	}

	t.Run("AddRemove", func(t *testing.T) {
		c, err := proto.Invoke[proto.Channel](ctx, cli, proto.AddVFO, nil)
		if err != nil {
			t.Fatalf("AddVFO: unexpected error: %v", err)
		}
		es := until(t, ch1, event.KVFOSyncEnd)
		if a, ok := es[0].(*event.VFOAdded); !ok || a.VFO() != c.VFO {
			t.Errorf("First event: got %v, want VFOAdded(%v)", es[0], c.VFO)
		}
		if _, err := proto.Invoke[struct{}](ctx, cli, proto.RemoveVFO, c); err != nil {
			t.Fatalf("RemoveVFO: unexpected error: %v", err)
		}
		if r, ok := next(t, ch1).(*event.VFORemoved); !ok || r.VFO() != c.VFO {
			t.Errorf("Got %v, want VFORemoved(%v)", r, c.VFO)
		}
		if _, ok := srv.VFO(c.VFO); ok {
			t.Errorf("Channel %v still exists after removal", c.VFO)
		}
	})

	t.Run("Drop", func(t *testing.T) {
		srv.DropSubscribers()
		for i, ch := range []<-chan event.Event{ch1, ch2} {
			es := until(t, ch, event.KUnsubscribed)
			t.Logf("Subscriber %d: %v", i+1, es[len(es)-1])
		}
	})
}

func TestPublish(t *testing.T) {
	defer leaktest.Check(t)()
	srv, cli, stop := newServer(t)
	defer stop()

	ch := subscribe(t, cli)
	until(t, ch, event.KSyncEnd)

	srv.Publish(event.For(7, &event.VFOAdded{}), event.For(7, &event.OffsetChanged{Offset: 1200}))
	if e := next(t, ch); e.Kind() != event.KVFOAdded {
		t.Errorf("Got %v, want VFOAdded", e)
	}
	if e, ok := next(t, ch).(*event.OffsetChanged); !ok || e.Offset != 1200 || e.Time().IsZero() {
		t.Errorf("Got %v, want a stamped OffsetChanged(1200)", e)
	}
	if vs, ok := srv.VFO(7); !ok || vs.Offset != 1200 {
		t.Errorf("VFO(7): got %+v, %v; want offset 1200", vs, ok)
	}

	// The next channel created by a call must not collide with the published one.
	c, err := proto.Invoke[proto.Channel](context.Background(), cli, proto.AddVFO, nil)
	if err != nil {
		t.Fatalf("AddVFO: unexpected error: %v", err)
	}
	if c.VFO != 8 {
		t.Errorf("AddVFO: got handle %v, want vfo#8", c.VFO)
	}
}
