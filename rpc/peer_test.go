// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package rpc_test

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/creachadair/mds/mtest"
	"github.com/creachadair/rxctl/rpc"
	"github.com/creachadair/taskgroup"
	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestPeer(t *testing.T) {
	defer leaktest.Check(t)()

	loc := rpc.NewLocal()
	loc.A.WithMetrics()
	defer func() {
		if err := loc.Stop(); err != nil {
			t.Errorf("Stopping peers: %v", err)
		}
		m := loc.A.Metrics()
		t.Logf("Metrics at exit: %v", m)
		for _, name := range []string{"calls_active", "calls_pending"} {
			if v := m.Get(name).(*expvar.Int).Value(); v != 0 {
				t.Errorf("Metric %q = %d, want 0", name, v)
			}
		}
	}()

	// The request data is a spec parsed by parseTestSpec to decide what the
	// handler returns.
	loc.A.Handle("set_rf_freq", func(ctx context.Context, req *rpc.Request) ([]byte, error) {
		return parseTestSpec(ctx, string(req.Data))
	})

	tests := []struct {
		who    *rpc.Peer
		method string
		input  string
		want   *rpc.Response
	}{
		{loc.B, "get_rf_freq", "n/a", &rpc.Response{Code: rpc.CodeUnknownMethod}},
		{loc.A, "set_demod", "n/a", &rpc.Response{Code: rpc.CodeUnknownMethod}},
		{loc.A, "set_rf_freq", "n/a", &rpc.Response{Code: rpc.CodeUnknownMethod}},

		{loc.B, "set_rf_freq", "ok", &rpc.Response{}},
		{loc.B, "set_rf_freq", "ok 145.5", &rpc.Response{Data: []byte("145.5")}},

		{loc.B, "set_rf_freq", "error out of range", &rpc.Response{
			Code: rpc.CodeServiceError,
			Data: rpc.ErrorData{Message: "out of range"}.Encode(),
		}},
		{loc.B, "set_rf_freq", "edata 2 missing vfo", &rpc.Response{
			Code: rpc.CodeServiceError,
			Data: rpc.ErrorData{Code: 2, Message: "missing", Data: []byte("vfo")}.Encode(),
		}},
		{loc.B, "set_rf_freq", "*edata 5 bad arg", &rpc.Response{
			Code: rpc.CodeServiceError,
			Data: rpc.ErrorData{Code: 5, Message: "bad", Data: []byte("arg")}.Encode(),
		}},
		{loc.B, "set_rf_freq", "wrapped 9 deep", &rpc.Response{
			Code: rpc.CodeServiceError,
			Data: rpc.ErrorData{Code: 9, Message: "deep"}.Encode(),
		}},

		{loc.B, "set_rf_freq", "peer?", &rpc.Response{Data: []byte("present")}},
	}
	for _, test := range tests {
		t.Run(test.method+"-"+test.input, func(t *testing.T) {
			rsp, err := test.who.Call(context.Background(), test.method, []byte(test.input))
			if err != nil {
				if rsp != nil {
					t.Errorf("Call: got response %+v with error %v", rsp, err)
				}
				ce, ok := err.(*rpc.CallError)
				if !ok {
					t.Fatalf("Call: got error %[1]T (%[1]v), want *CallError", err)
				}
				if ce.Err == nil {
					var ed rpc.ErrorData
					if err := ed.Decode(ce.Response.Data); err != nil {
						t.Errorf("Decode response ErrorData: %v", err)
					} else if diff := cmp.Diff(ed, ce.ErrorData); diff != "" {
						t.Errorf("ErrorData (-want, +got):\n%s", diff)
					}
				}
				rsp = ce.Response
			}

			ignoreID := cmpopts.IgnoreFields(rpc.Response{}, "RequestID")
			if diff := cmp.Diff(test.want, rsp, ignoreID, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("Wrong response (-want, +got):\n%s", diff)
			}
		})
	}
}

func TestMethodLen(t *testing.T) {
	defer leaktest.Check(t)()

	loc := rpc.NewLocal()
	defer loc.Stop()

	tooLong := strings.Repeat("m", rpc.MaxMethodLen+5)

	t.Run("HandleTooLong", func(t *testing.T) {
		got := mtest.MustPanic(t, func() { loc.A.Handle(tooLong, nil) }).(string)
		if !strings.Contains(got, "name too long") {
			t.Errorf("Handle: got %q, want too long", got)
		}
	})

	t.Run("CallTooLong", func(t *testing.T) {
		var cerr *rpc.CallError
		rsp, err := loc.A.Call(context.Background(), tooLong, nil)
		if rsp != nil {
			t.Errorf("Call: unexpected response: %v", rsp)
		}
		if !errors.As(err, &cerr) {
			t.Errorf("Call: got %v, want CallError", err)
		} else if got := cerr.Err.Error(); !strings.Contains(got, "name too long") {
			t.Errorf("Call: got %q, want too long", got)
		}
	})
}

func TestWildcard(t *testing.T) {
	defer leaktest.Check(t)()

	loc := rpc.NewLocal()
	defer loc.Stop()

	call := func(method, want string, fail bool) {
		t.Helper()
		rsp, err := loc.B.Call(context.Background(), method, nil)
		if err != nil {
			if !fail {
				t.Errorf("Call %q: unexpected error: %v", method, err)
			}
			return
		} else if fail {
			t.Errorf("Call %q: should have failed", method)
		}
		if got := string(rsp.Data); got != want {
			t.Errorf("Call %q: got %q, want %q", method, got, want)
		}
	}

	loc.A.
		Handle("", func(context.Context, *rpc.Request) ([]byte, error) {
			return []byte("wildcard"), nil
		}).
		Handle("start", func(context.Context, *rpc.Request) ([]byte, error) {
			return []byte("designated"), nil
		})

	call("", "wildcard", false)
	call("start", "designated", false)
	call("stop", "wildcard", false)

	loc.A.Handle("", nil)

	call("", "", true)
	call("start", "designated", false)
	call("stop", "?", true)
}

func TestCancellation(t *testing.T) {
	defer leaktest.Check(t)()

	loc := rpc.NewLocal()
	defer loc.Stop()

	type packet struct {
		T rpc.PacketType
		P string
	}

	var wg sync.WaitGroup
	wg.Add(3) // request, cancel, response

	var apkt []packet
	loc.A.LogPackets(func(pkt rpc.PacketInfo) {
		if !pkt.Sent {
			apkt = append(apkt, packet{T: pkt.Type, P: string(pkt.Payload)})
			wg.Done()
		}
	}).Handle("hang", func(ctx context.Context, _ *rpc.Request) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	var bpkt []packet
	loc.B.LogPackets(func(pkt rpc.PacketInfo) {
		if !pkt.Sent {
			bpkt = append(bpkt, packet{T: pkt.Type, P: string(pkt.Payload)})
			wg.Done()
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	rsp, err := loc.B.Call(ctx, "hang", nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Got %+v, %v; want %v", rsp, err, context.Canceled)
	}
	wg.Wait()

	if diff := cmp.Diff([]packet{
		{T: rpc.PacketRequest, P: "\x00\x00\x00\x01\x04hang"},
		{T: rpc.PacketCancel, P: "\x00\x00\x00\x01"},
	}, apkt); diff != "" {
		t.Errorf("A packets (-want, +got):\n%s", diff)
	}
	if diff := cmp.Diff([]packet{
		{T: rpc.PacketResponse, P: "\x00\x00\x00\x01\x03"},
	}, bpkt); diff != "" {
		t.Errorf("B packets (-want, +got):\n%s", diff)
	}
}

func TestPeerExec(t *testing.T) {
	defer leaktest.Check(t)()

	loc := rpc.NewLocal()
	defer loc.Stop()

	loc.A.
		LogPackets(logPacket(t, "Peer A")).
		Handle("get", func(context.Context, *rpc.Request) ([]byte, error) {
			return []byte("ok"), nil
		}).
		Handle("forward", func(ctx context.Context, req *rpc.Request) ([]byte, error) {
			return rpc.ContextPeer(ctx).Exec(ctx, "get", req.Data)
		}).
		Handle("missing", func(ctx context.Context, req *rpc.Request) ([]byte, error) {
			_, err := rpc.ContextPeer(ctx).Exec(ctx, "nonesuch", req.Data)
			return []byte("unseen"), err
		}).
		Handle("twice", func(ctx context.Context, req *rpc.Request) ([]byte, error) {
			return rpc.ContextPeer(ctx).Exec(ctx, "forward", req.Data)
		})

	ctx := context.Background()
	for _, method := range []string{"forward", "twice"} {
		t.Run(method, func(t *testing.T) {
			rsp, err := loc.B.Call(ctx, method, nil)
			if err != nil {
				t.Fatalf("Call %q: unexpected error: %v", method, err)
			}
			if got, want := string(rsp.Data), "ok"; got != want {
				t.Errorf("Call %q: got %q, want %q", method, got, want)
			}
		})
	}
	t.Run("missing", func(t *testing.T) {
		rsp, err := loc.B.Call(ctx, "missing", nil)
		var cerr *rpc.CallError
		if !errors.As(err, &cerr) {
			t.Errorf("Call: got (%v, %v), want CallError", rsp, err)
		} else if got := cerr.Response.Code; got != rpc.CodeUnknownMethod {
			t.Errorf("Call: response code is %v, want %v", got, rpc.CodeUnknownMethod)
		}
	})
}

func TestSlowCancellation(t *testing.T) {
	defer leaktest.Check(t)()

	loc := rpc.NewLocal()
	defer loc.Stop()

	stop := make(chan struct{})
	returned := make(chan struct{})
	loc.A.
		Handle("slow", func(context.Context, *rpc.Request) ([]byte, error) {
			defer close(returned)
			<-stop
			return []byte("late"), nil
		}).
		Handle("fast", func(context.Context, *rpc.Request) ([]byte, error) {
			return []byte("ok"), nil
		})

	// The call must return control even though the remote handler ignores
	// the cancellation.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if rsp, err := loc.B.Call(ctx, "slow", nil); err == nil {
		t.Errorf("Call: unexpectedly succeeded: %v", rsp)
	}

	// The unresolved request ID must not be reused.
	if rsp, err := loc.B.Call(context.Background(), "fast", nil); err != nil {
		t.Errorf("Call fast: unexpected error: %v", err)
	} else if got, want := string(rsp.Data), "ok"; got != want {
		t.Errorf("Call fast: got %q, want %q", got, want)
	}

	close(stop)
	<-returned
}

func TestProtocolFatal(t *testing.T) {
	defer leaktest.Check(t)()

	tests := []struct {
		name  string
		input []byte
		close bool
		want  string
	}{
		{"BadMagic", []byte{'C', 'P', 0, 2, 0, 0, 0, 0}, false, "invalid protocol magic"},
		{"ShortHeader", []byte{'R', 'X', 0, 2, 0, 0}, true, "short packet header"},
		{"ShortPayload", []byte{'R', 'X', 0, 2, 0, 0, 0, 10, 'a', 'b', 'c', 'd'}, true, "short payload"},
		{"BadRequest", []byte{'R', 'X', 0, 2, 0, 0, 0, 1, 'X'}, false, "short request payload"},
		{"BadResponse", rpc.Packet{
			Type:    rpc.PacketResponse,
			Payload: rpc.Response{RequestID: 100, Code: 100}.Encode(),
		}.Encode(), false, "invalid result code"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			tw, ch := rawChannel()
			p := rpc.NewPeer().Start(ch)
			time.AfterFunc(time.Second, func() { p.Stop() })

			tw.Write(test.input)
			if test.close {
				tw.Close()
			}
			mustErr(t, p.Wait(), test.want)
		})
	}

	t.Run("CloseChannel", func(t *testing.T) {
		ready := make(chan struct{})
		done := make(chan struct{})
		stall := func(ctx context.Context, _ *rpc.Request) ([]byte, error) {
			defer close(done)
			close(ready)
			<-ctx.Done()
			return nil, ctx.Err()
		}

		pr, tw := io.Pipe()
		tr, pw := io.Pipe()
		p := rpc.NewPeer().Handle("subscribe", stall).Start(rpc.IO(pr, pw))
		defer p.Stop()

		tw.Write(rpc.Packet{
			Type:    rpc.PacketRequest,
			Payload: rpc.Request{RequestID: 666, Method: "subscribe"}.Encode(),
		}.Encode())
		<-ready

		time.AfterFunc(100*time.Millisecond, func() { tw.Close() })

		var buf [64]byte
		if nr, err := tr.Read(buf[:]); err == nil {
			t.Errorf("Got response %#q, wanted error", string(buf[:nr]))
		}

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Error("Timed out waiting for handler to exit")
		}
	})
}

func TestDroppedPacket(t *testing.T) {
	defer leaktest.Check(t)()

	ac, bc := rpc.Direct()
	var got []*rpc.Packet
	a := rpc.NewPeer().WithMetrics().LogPackets(func(pi rpc.PacketInfo) {
		if pi.Sent {
			t.Errorf("Unexpected packet sent: %v", pi)
		} else {
			got = append(got, pi.Packet)
		}
	}).Start(ac)

	pkt := &rpc.Packet{Type: 200, Payload: []byte("unrecognized")}
	if err := bc.Send(pkt); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	bc.Close()
	if err := a.Wait(); err != nil {
		t.Errorf("Wait: unexpected error: %v", err)
	}

	if diff := cmp.Diff([]*rpc.Packet{pkt}, got); diff != "" {
		t.Errorf("Packet log (-want, +got):\n%s", diff)
	}
	if n := a.Metrics().Get("packets_dropped").(*expvar.Int).Value(); n != 1 {
		t.Errorf("packets_dropped: got %d, want 1", n)
	}
}

func TestOnExit(t *testing.T) {
	t.Run("CloseChannel", func(t *testing.T) {
		defer leaktest.Check(t)()

		loc := rpc.NewLocal()
		defer loc.B.Wait()

		var called bool
		loc.A.OnExit(func(err error) {
			called = true
			if err != nil {
				t.Errorf("OnExit got an unexpected error: %v", err)
			}
		})

		time.AfterFunc(5*time.Millisecond, func() { loc.A.Stop() })
		if err := loc.A.Wait(); err != nil {
			t.Errorf("Wait: got %v, want nil", err)
		}
		if !called {
			t.Error("OnExit was not called")
		}
	})

	t.Run("BadPacket", func(t *testing.T) {
		defer leaktest.Check(t)()

		sr, cw := io.Pipe()
		_, sw := io.Pipe()

		exited := make(chan error, 1)
		p := rpc.NewPeer().OnExit(func(err error) { exited <- err }).Start(rpc.IO(sr, sw))

		cw.Write([]byte("RX\x00\x01\x00\x00\x00")) // short header
		cw.Close()

		if err := p.Wait(); err == nil {
			t.Error("Wait should have reported an error")
		}
		if err := <-exited; err == nil {
			t.Error("OnExit should have reported an error")
		}
	})
}

func TestContextPlumbing(t *testing.T) {
	defer leaktest.Check(t)()

	loc := rpc.NewLocal()
	defer loc.Stop()

	type testKey struct{}
	loc.A.
		NewContext(func() context.Context {
			return context.WithValue(context.Background(), testKey{}, "ok")
		}).
		Handle("status", func(ctx context.Context, _ *rpc.Request) ([]byte, error) {
			if v, ok := ctx.Value(testKey{}).(string); !ok || v != "ok" {
				t.Error("Base context was not correctly plumbed")
			}
			return nil, nil
		})

	if _, err := loc.B.Call(context.Background(), "status", nil); err != nil {
		t.Fatalf("Call failed: %v", err)
	}
}

func TestCallback(t *testing.T) {
	defer leaktest.Check(t)()

	loc := rpc.NewLocal()
	defer loc.Stop()

	const depth = 5

	// Each peer calls back into the other until depth is reached.
	bounce := func(ctx context.Context, req *rpc.Request) ([]byte, error) {
		v, err := strconv.Atoi(string(req.Data))
		if err != nil {
			return nil, err
		} else if v == depth {
			return []byte("ok"), nil
		}
		rsp, err := rpc.ContextPeer(ctx).Call(ctx, req.Method, []byte(strconv.Itoa(v+1)))
		if err != nil {
			return nil, err
		}
		return rsp.Data, nil
	}
	loc.A.Handle("bounce", bounce)
	loc.B.Handle("bounce", bounce)

	rsp, err := loc.A.Call(context.Background(), "bounce", []byte("0"))
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	} else if got, want := string(rsp.Data), "ok"; got != want {
		t.Errorf("Call result: got %q, want %q", got, want)
	}
}

func TestClone(t *testing.T) {
	defer leaktest.Check(t)()

	tmpl := rpc.NewPeer().Handle("echo", func(_ context.Context, req *rpc.Request) ([]byte, error) {
		return req.Data, nil
	})
	cp := tmpl.Clone().Handle("extra", func(context.Context, *rpc.Request) ([]byte, error) {
		return []byte("y"), nil
	})

	x, y := rpc.Direct()
	cp.Start(y)
	cc := rpc.NewPeer().Start(x)
	defer func() { cc.Stop(); cp.Stop() }()

	if rsp, err := cc.Call(context.Background(), "echo", []byte("x")); err != nil {
		t.Errorf("Call echo: %v", err)
	} else if got := string(rsp.Data); got != "x" {
		t.Errorf("Call echo: got %q, want x", got)
	}
	if _, err := cc.Call(context.Background(), "extra", nil); err != nil {
		t.Errorf("Call extra: %v", err)
	}
	if _, err := tmpl.Exec(context.Background(), "extra", nil); err == nil {
		t.Error("Template should not have the clone's handler")
	}
}

func TestConcurrency(t *testing.T) {
	defer leaktest.Check(t)()

	t.Run("Local", func(t *testing.T) {
		loc := rpc.NewLocal()
		defer loc.Stop()

		loc.A.Handle("echo", slowEcho)
		loc.B.Handle("echo", slowEcho)
		runConcurrent(t, loc.A, loc.B)
	})

	t.Run("Pipe", func(t *testing.T) {
		ar, bw := io.Pipe()
		br, aw := io.Pipe()
		pa := rpc.NewPeer().Handle("echo", slowEcho).Start(rpc.IO(ar, aw))
		pb := rpc.NewPeer().Handle("echo", slowEcho).Start(rpc.IO(br, bw))
		defer func() {
			if err := pa.Stop(); err != nil {
				t.Errorf("A stop: %v", err)
			}
			if err := pb.Stop(); err != nil {
				t.Errorf("B stop: %v", err)
			}
		}()
		runConcurrent(t, pa, pb)
	})
}

func TestWebSocket(t *testing.T) {
	acc := rpc.NewWSAccepter()
	srv := httptest.NewServer(acc)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	loop := taskgroup.Go(func() error {
		return rpc.Loop(ctx, acc, func() *rpc.Peer {
			return rpc.NewPeer().Handle("echo", slowEcho)
		})
	})
	defer func() {
		cancel()
		if err := loop.Wait(); err != nil {
			t.Errorf("Loop: %v", err)
		}
	}()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	if nw, _ := rpc.SplitAddress(url); nw != "ws" {
		t.Errorf("SplitAddress(%q): got network %q, want ws", url, nw)
	}
	ch, err := rpc.DialWebSocket(ctx, url)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	cli := rpc.NewPeer().Start(ch)
	defer cli.Stop()

	for i := range 10 {
		msg := fmt.Sprintf("hello %d", i)
		rsp, err := cli.Call(ctx, "echo", []byte(msg))
		if err != nil {
			t.Fatalf("Call %d: %v", i, err)
		} else if got := string(rsp.Data); got != msg {
			t.Errorf("Call %d: got %q, want %q", i, got, msg)
		}
	}
}

func TestNetLoop(t *testing.T) {
	defer leaktest.Check(t)()

	lst, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	loop := taskgroup.Go(func() error {
		return rpc.Loop(ctx, rpc.NetAccepter(lst), func() *rpc.Peer {
			return rpc.NewPeer().Handle("echo", slowEcho)
		})
	})

	conn, err := net.Dial(rpc.SplitAddress(lst.Addr().String()))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	cli := rpc.NewPeer().Start(rpc.IO(conn, conn))
	if rsp, err := cli.Call(ctx, "echo", []byte("ping")); err != nil {
		t.Errorf("Call: %v", err)
	} else if got := string(rsp.Data); got != "ping" {
		t.Errorf("Call: got %q, want ping", got)
	}
	cli.Stop()

	cancel()
	if err := loop.Wait(); err != nil {
		t.Errorf("Loop: %v", err)
	}
}

func runConcurrent(t *testing.T, pa, pb *rpc.Peer) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const numCalls = 128 // per peer

	calls := taskgroup.New(cancel)
	for i := range numCalls {
		for _, p := range []*rpc.Peer{pa, pb} {
			msg := fmt.Sprintf("%p-call-%d", p, i+1)
			calls.Go(func() error {
				rsp, err := p.Call(ctx, "echo", []byte(msg))
				if err != nil {
					return err
				} else if got := string(rsp.Data); got != msg {
					return fmt.Errorf("got %q, want %q", got, msg)
				}
				return nil
			})
		}
	}
	if err := calls.Wait(); err != nil {
		t.Errorf("Calls: %v", err)
	}
}

func rawChannel() (*io.PipeWriter, rpc.IOChannel) {
	pr, tw := io.Pipe()
	_, pw := io.Pipe()
	return tw, rpc.IO(pr, pw)
}

func mustErr(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil {
		t.Fatalf("Got nil, want %v", want)
	} else if !strings.Contains(err.Error(), want) {
		t.Fatalf("Got %v, want %v", err, want)
	}
}

func slowEcho(_ context.Context, req *rpc.Request) ([]byte, error) {
	time.Sleep(time.Duration(rand.IntN(100)+50) * time.Microsecond)
	return req.Data, nil
}

type codedError struct{ ed rpc.ErrorData }

func (c codedError) Error() string { return c.ed.Error() }
func (c codedError) Unwrap() error { return c.ed }

// parseTestSpec parses a string giving test values to return from a method
// handler, and returns those values.
//
// Grammar:
//
//	ok text...        -- return text, nil
//	error ...         -- return nil, error(...)
//	edata c msg data  -- return nil, ErrorData{c, msg, data}
//	*edata c msg data -- return nil, &ErrorData{c, msg, data}
//	wrapped c msg     -- return nil, an error wrapping ErrorData{c, msg}
//	peer?             -- return x, nil where x == "present"/"absent"
//
// Any other value causes a panic.
func parseTestSpec(ctx context.Context, s string) ([]byte, error) {
	ps := strings.Fields(s)
	switch ps[0] {
	case "ok":
		if len(ps) == 1 {
			return nil, nil
		}
		return []byte(strings.Join(ps[1:], " ")), nil

	case "error":
		return nil, errors.New(strings.Join(ps[1:], " "))

	case "edata", "*edata", "wrapped":
		c, err := strconv.ParseUint(ps[1], 10, 16)
		if err != nil {
			break
		}
		ed := rpc.ErrorData{Code: uint16(c), Message: ps[2]}
		switch {
		case ps[0] == "wrapped" && len(ps) == 3:
			return nil, fmt.Errorf("outer: %w", codedError{ed})
		case len(ps) != 4:
			panic(fmt.Sprintf("Invalid test spec %q", s))
		}
		ed.Data = []byte(ps[3])
		if ps[0] == "*edata" {
			return nil, &ed
		}
		return nil, ed

	case "peer?":
		if rpc.ContextPeer(ctx) != nil {
			return []byte("present"), nil
		}
		return []byte("absent"), nil
	}
	panic(fmt.Sprintf("Invalid test spec %q", s))
}

func logPacket(t *testing.T, tag string) rpc.PacketLogger {
	return func(pkt rpc.PacketInfo) {
		t.Helper()
		t.Logf("%s: %v", tag, pkt)
	}
}

func TestSplitAddress(t *testing.T) {
	tests := []struct {
		input, want string
	}{
		{"", "unix"},
		{":", "unix"},
		{"nothing", "unix"},
		{"like/a/file", "unix"},
		{"no-port:", "unix"},
		{"file/with:port", "unix"},
		{"mangled:@3", "unix"},
		{"[::1]:2323", "tcp"},
		{":80", "tcp"},
		{"localhost:rx-ctl", "tcp"},
		{"ws://localhost:8080/rx", "ws"},
		{"wss://radio.example.com/rx", "ws"},
	}
	for _, test := range tests {
		got, addr := rpc.SplitAddress(test.input)
		if got != test.want {
			t.Errorf("SplitAddress(%q) type: got %q, want %q", test.input, got, test.want)
		}
		if addr != test.input {
			t.Errorf("SplitAddress(%q) addr: got %q, want %q", test.input, addr, test.input)
		}
	}
}

func TestErrorData(t *testing.T) {
	t.Run("Truncated", func(t *testing.T) {
		var ed rpc.ErrorData
		if err := ed.Decode([]byte("\x00\x01\x00\x04abc")); err == nil {
			t.Errorf("ErrorData: got %#v, wanted error", ed)
		}
	})
	t.Run("ClipUTF8", func(t *testing.T) {
		msg := strings.Repeat("x", 65534) + "é" // 2-byte rune straddles the limit
		var ed rpc.ErrorData
		if err := ed.Decode(rpc.ErrorData{Message: msg}.Encode()); err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if got, want := len(ed.Message), 65534; got != want {
			t.Errorf("Message length: got %d, want %d", got, want)
		}
	})
}
