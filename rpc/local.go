// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package rpc

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/creachadair/taskgroup"
)

// Local is a pair of in-memory connected peers, suitable for testing.
type Local struct {
	A *Peer
	B *Peer
}

// Stop shuts down both the peers and blocks until both have exited.
func (p *Local) Stop() error {
	aerr := p.A.Stop()
	berr := p.B.Stop()
	return errors.Join(aerr, berr)
}

// NewLocal creates a pair of in-memory connected peers that communicate via a
// direct channel without encoding.
func NewLocal() *Local {
	a2b, b2a := Direct()
	return &Local{
		A: NewPeer().Start(a2b),
		B: NewPeer().Start(b2a),
	}
}

// An Accepter produces channels for inbound connections.
type Accepter interface {
	Accept(context.Context) (Channel, error)
}

// Loop accepts connections from acc and starts a peer for each one in a
// goroutine. Loop continues until acc closes or ctx ends.
//
// The newPeer function constructs an unstarted peer with its handlers
// registered. When ctx terminates, all running peers are stopped. When acc
// closes, the loop waits for running peers to exit before returning.
func Loop(ctx context.Context, acc Accepter, newPeer func() *Peer) error {
	g := taskgroup.New(nil)
	for {
		ch, err := acc.Accept(ctx)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				err = nil
			}
			g.Wait()
			return err
		}

		g.Go(func() error {
			peer := newPeer().Start(ch)
			stop := context.AfterFunc(ctx, func() { peer.Stop() })
			defer stop()
			return peer.Wait()
		})
	}
}

// NetAccepter adapts a net.Listener to the Accepter interface.
func NetAccepter(lst net.Listener) Accepter { return netAccepter{Listener: lst} }

type netAccepter struct {
	net.Listener
}

func (n netAccepter) Accept(ctx context.Context) (Channel, error) {
	// A net.Listener does not obey a context, so close it if ctx ends first.
	stop := context.AfterFunc(ctx, func() { n.Listener.Close() })
	defer stop()

	conn, err := n.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return IO(conn, conn), nil
}

// WSAccepter is an http.Handler that upgrades each request to a websocket
// and delivers the resulting channel through its Accept method.
type WSAccepter struct {
	chans chan Channel
	done  chan struct{}
}

// NewWSAccepter constructs a new websocket accepter. Register it with an HTTP
// server, and pass it to Loop.
func NewWSAccepter() *WSAccepter {
	return &WSAccepter{chans: make(chan Channel), done: make(chan struct{})}
}

// ServeHTTP implements the http.Handler interface.
func (w *WSAccepter) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	ch, err := upgrade(rw, req)
	if err != nil {
		return // the upgrader has already replied
	}
	select {
	case w.chans <- ch:
	case <-w.done:
		ch.Close()
	case <-req.Context().Done():
		ch.Close()
	}
}

// Accept implements the Accepter interface.
func (w *WSAccepter) Accept(ctx context.Context) (Channel, error) {
	select {
	case ch := <-w.chans:
		return ch, nil
	case <-w.done:
		return nil, net.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops w from delivering further channels.
func (w *WSAccepter) Close() error { close(w.done); return nil }

// SplitAddress parses an address string to guess a network type and target.
//
// If s does not have the form [host]:port, the network is "unix". The network
// is also "unix" if port == "", port contains characters other than ASCII
// letters, digits, and "-", or if host contains a "/". Otherwise the network
// is "tcp". SplitAddress does not check that the address is lexically valid.
//
// As a special case, an address beginning with "ws://" or "wss://" is
// reported with network "ws" and the whole URL as its address.
func SplitAddress(s string) (network, address string) {
	if strings.HasPrefix(s, "ws://") || strings.HasPrefix(s, "wss://") {
		return "ws", s
	}
	i := strings.LastIndex(s, ":")
	if i < 0 {
		return "unix", s
	}
	host, port := s[:i], s[i+1:]
	if port == "" || !isServiceName(port) || strings.Contains(host, "/") {
		return "unix", s
	}
	return "tcp", s
}

// isServiceName reports whether s looks like a service name from services(5):
// ASCII letters, digits, and "-".
func isServiceName(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool {
		return !(r >= '0' && r <= '9' || r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' || r == '-')
	}) < 0
}
