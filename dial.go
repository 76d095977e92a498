// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package rxctl

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/creachadair/rxctl/proto"
	"github.com/creachadair/rxctl/rpc"
)

// DialOptions are settings for Dial. A nil *DialOptions is ready for use and
// provides default values.
type DialOptions struct {
	Options // settings for the receiver

	// If positive, each call to the server that does not complete within this
	// duration fails. The default is 10s.
	CallTimeout time.Duration

	// If true, log every packet exchanged with the server at debug level.
	LogPackets bool
}

func (o *DialOptions) callTimeout() time.Duration {
	if o == nil || o.CallTimeout <= 0 {
		return 10 * time.Second
	}
	return o.CallTimeout
}

// A Conn is a Receiver connected to a remote server by Dial.
type Conn struct {
	*Receiver

	client *proto.Client
}

// Dial connects to the receiver server at addr and returns a Receiver for
// it. The address is interpreted by rpc.SplitAddress: a ws:// or wss:// URL
// is dialed as a websocket, host:port as TCP, and anything else as a Unix
// socket path.
func Dial(ctx context.Context, addr string, opts *DialOptions) (*Conn, error) {
	if opts == nil {
		opts = new(DialOptions)
	}
	var ch rpc.Channel
	switch network, address := rpc.SplitAddress(addr); network {
	case "ws":
		wc, err := rpc.DialWebSocket(ctx, address)
		if err != nil {
			return nil, err
		}
		ch = wc
	default:
		var d net.Dialer
		conn, err := d.DialContext(ctx, network, address)
		if err != nil {
			return nil, fmt.Errorf("dial %q: %w", addr, err)
		}
		ch = rpc.IO(conn, conn)
	}

	log := opts.logger().With("server", addr)
	peer := rpc.NewPeer().WithMetrics().OnExit(func(err error) {
		if err != nil {
			log.Warn("server connection ended", "err", err)
		}
	})
	if opts.LogPackets {
		peer.LogPackets(rpc.SlogPackets(log))
	}
	peer.Start(ch)

	cli := proto.NewClient(peer, &proto.ClientOptions{
		CallTimeout: opts.callTimeout(),
		Logger:      log,
	})
	ro := opts.Options
	ro.Logger = log
	r := New(cli, &ro)
	r.Metrics().Set("peer", peer.Metrics())
	return &Conn{Receiver: r, client: cli}, nil
}

// Close closes the receiver and then the connection to the server.
func (c *Conn) Close(ctx context.Context) error {
	rerr := c.Receiver.Close(ctx)
	c.client.Close()
	return errors.Join(rerr, c.client.Peer().Stop())
}
