// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package proto

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/creachadair/rxctl/event"
	"github.com/creachadair/rxctl/rpc"
	"github.com/creachadair/taskgroup"
)

// ClientOptions are settings for a Client. A nil *ClientOptions is ready for
// use and provides default values.
type ClientOptions struct {
	// If positive, each call that does not complete within this duration is
	// canceled. By default calls are bounded only by their context.
	CallTimeout time.Duration

	// Logger receives diagnostic messages. If nil, slog.Default is used.
	Logger *slog.Logger
}

func (o *ClientOptions) callTimeout() time.Duration {
	if o == nil {
		return 0
	}
	return o.CallTimeout
}

func (o *ClientOptions) logger() *slog.Logger {
	if o == nil || o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

// A Client calls receiver methods on a remote server through a peer.
type Client struct {
	peer    *rpc.Peer
	timeout time.Duration
	log     *slog.Logger

	ctx  context.Context // governs all subscriptions
	stop context.CancelFunc
	subs *taskgroup.Group
}

// NewClient constructs a client that issues calls through peer, which must be
// started and connected to a server.
func NewClient(peer *rpc.Peer, opts *ClientOptions) *Client {
	ctx, stop := context.WithCancel(context.Background())
	return &Client{
		peer:    peer,
		timeout: opts.callTimeout(),
		log:     opts.logger(),
		ctx:     ctx,
		stop:    stop,
		subs:    taskgroup.New(nil),
	}
}

// Peer returns the peer used by c.
func (c *Client) Peer() *rpc.Peer { return c.peer }

// Call invokes method on the server with the given encoded arguments and
// returns the encoded result. An error reported by the server has concrete
// type *rpc.CallError; use StatusOf to recover its status.
func (c *Client) Call(ctx context.Context, method string, args []byte) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	rsp, err := c.peer.Call(ctx, method, args)
	if err != nil {
		return nil, err
	}
	return rsp.Data, nil
}

// Subscribe opens the server event stream and calls f with each event, in
// the order the server sent them. The stream runs until ctx ends, cancel is
// called, or c is closed. If the stream ends for any other reason, f receives
// a final synthesized event.Unsubscribed.
//
// Calls to f are made sequentially from a single goroutine.
func (c *Client) Subscribe(ctx context.Context, f func(event.Event)) (cancel func(), err error) {
	if err := c.ctx.Err(); err != nil {
		return nil, errors.New("client is closed")
	}
	sctx, stop := context.WithCancel(ctx)
	unlink := context.AfterFunc(c.ctx, stop)

	c.subs.Go(func() error {
		defer unlink()
		defer stop()

		reason := "event stream ended"
		for data, err := range CallStream(sctx, c.peer, Subscribe, nil) {
			if err != nil {
				reason = err.Error()
				break
			}
			e, err := event.Decode(data)
			if err != nil {
				c.log.Warn("discarding undecodable event", "err", err, "bytes", len(data))
				continue
			}
			f(e)
		}
		if sctx.Err() == nil {
			c.log.Info("event stream lost", "reason", reason)
			f(event.Stamp(&event.Unsubscribed{Reason: reason}, time.Now()))
		}
		return nil
	})
	return stop, nil
}

// Close terminates all subscriptions and waits for their goroutines to exit.
// It does not stop the peer.
func (c *Client) Close() error {
	c.stop()
	c.subs.Wait()
	return nil
}

// A Caller invokes remote methods with encoded arguments.
type Caller interface {
	Call(ctx context.Context, method string, args []byte) ([]byte, error)
}

// Invoke calls method through c with arg, and decodes the result as an R.
// The types of arg and R follow the rules for handler parameters and
// results. If R is struct{}, the result is discarded.
func Invoke[R any](ctx context.Context, c Caller, method string, arg any) (R, error) {
	var out R
	var data []byte
	if arg != nil {
		var err error
		data, err = marshal(arg)
		if err != nil {
			return out, err
		}
	}
	rsp, err := c.Call(ctx, method, data)
	if err != nil {
		return out, err
	}
	if _, ok := any(out).(struct{}); ok {
		return out, nil
	}
	err = unmarshal(rsp, &out)
	return out, err
}

// StatusOf reports the server status code carried by err, if any. It
// reports false if err did not come from a server handler.
func StatusOf(err error) (uint16, bool) {
	var ce *rpc.CallError
	if errors.As(err, &ce) && ce.Err == nil && ce.Response != nil && ce.Response.Code == rpc.CodeServiceError {
		return ce.Code, true
	}
	return 0, false
}
