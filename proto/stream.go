// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package proto

import (
	"context"
	"crypto/rand"
	"errors"
	"iter"
	"slices"

	"github.com/creachadair/rxctl/rpc"
)

// A streaming call works by capability: the caller registers a handler under
// a random method name, appends that name to its request, and the server
// delivers each value by calling it. The server waits for each delivery to
// be acknowledged before sending the next, so values arrive in order.

// capabilityLen is the length in bytes of a capability method name. At this
// length a collision among live capabilities is negligible.
const capabilityLen = 24

func newCapability() string {
	var buf [capabilityLen]byte
	rand.Read(buf[:])
	return string(buf[:])
}

// splitCapability removes the capability from the end of req.Data.
func splitCapability(req *rpc.Request) (string, error) {
	n := len(req.Data) - capabilityLen
	if n < 0 {
		return "", errors.New("stream request payload too short")
	}
	token := string(req.Data[n:])
	// Clip the slice so the handler cannot grow it to recover the capability.
	req.Data = slices.Clip(req.Data[:n])
	return token, nil
}

// CallStream calls a streaming method on peer and yields each value the
// remote handler sends. The stream ends when the remote handler returns or
// when ctx ends.
//
// The iterator yields zero or more (data, nil) pairs. If the call ends
// unsuccessfully, the last pair is (nil, err).
func CallStream(ctx context.Context, peer *rpc.Peer, method string, req []byte) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		token := newCapability()
		req := append(slices.Clip(req), token...)

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		// The capability handler runs on a peer goroutine, so values are passed
		// back to the iterator on a channel.
		vals := make(chan []byte)
		peer.Handle(token, func(cctx context.Context, req *rpc.Request) ([]byte, error) {
			select {
			case vals <- req.Data:
				return nil, nil
			case <-ctx.Done():
				// The iterator is finished; refuse late deliveries.
				return nil, ctx.Err()
			case <-cctx.Done():
				return nil, cctx.Err()
			}
		})

		errc := make(chan error, 1)
		go func() {
			// Unregister here rather than in the iterator so the remote peer
			// does not see an unknown method while the call is unwinding.
			defer peer.Handle(token, nil)
			defer close(errc)
			_, err := peer.Call(ctx, method, req)
			if ctx.Err() != nil {
				// Report a local cancellation as such, however the remote end
				// happened to observe it.
				err = ctx.Err()
			}
			errc <- err
		}()

		for {
			select {
			case v := <-vals:
				if !yield(v, nil) {
					return
				}
			case err := <-errc:
				if err != nil {
					yield(nil, err)
				}
				return
			case <-ctx.Done():
				yield(nil, ctx.Err())
				return
			}
		}
	}
}

// A StreamFunc produces the values of a streaming method. The iterator should
// yield a non-nil error only as its final element.
type StreamFunc func(context.Context, *rpc.Request) iter.Seq2[[]byte, error]

// HandleStream registers fn on peer as the handler for a streaming method.
// The method must be called with CallStream.
func HandleStream(peer *rpc.Peer, method string, fn StreamFunc) {
	peer.Handle(method, func(ctx context.Context, req *rpc.Request) ([]byte, error) {
		token, err := splitCapability(req)
		if err != nil {
			return nil, Errorf(StatusInvalid, "%v", err)
		}
		p := rpc.ContextPeer(ctx)
		for v, err := range fn(ctx, req) {
			if err != nil {
				return nil, err
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if _, err := p.Call(ctx, token, v); err != nil {
				return nil, err
			}
		}
		// An iterator that stops on cancellation without yielding an error
		// still reports the cancellation.
		return nil, ctx.Err()
	})
}
