// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/creachadair/command"
	"github.com/creachadair/rxctl/rpc"
	"github.com/creachadair/rxctl/sim"
	"github.com/creachadair/taskgroup"
)

var serveFlags struct {
	Device string `flag:"device,default=sim,Name of the simulated input device"`
}

func runServe(env *command.Env) error {
	ctx, cancel := signal.NotifyContext(env.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	srv := sim.New(&sim.Options{Device: serveFlags.Device, Logger: app.log})
	newPeer := func() *rpc.Peer {
		p := rpc.NewPeer().WithMetrics()
		if app.cfg.Log.Packets {
			p.LogPackets(rpc.SlogPackets(app.log))
		}
		return srv.Register(p)
	}

	network, addr := rpc.SplitAddress(app.cfg.Address)
	if network == "ws" || app.cfg.WebSocket {
		return serveWebSocket(ctx, addr, newPeer)
	}
	if network == "unix" {
		os.Remove(addr) // a stale socket from a previous run
	}
	lst, err := net.Listen(network, addr)
	if err != nil {
		return err
	}
	app.log.Info("serving simulated receiver", "network", network, "addr", lst.Addr())
	return rpc.Loop(ctx, rpc.NetAccepter(lst), newPeer)
}

// serveWebSocket serves websocket connections on the host and path of addr.
func serveWebSocket(ctx context.Context, addr string, newPeer func() *rpc.Peer) error {
	host, path := addr, "/"
	if u, err := url.Parse(addr); err == nil && u.Host != "" {
		host = u.Host
		if u.Path != "" {
			path = u.Path
		}
	}
	acc := rpc.NewWSAccepter()
	mux := http.NewServeMux()
	mux.Handle(path, acc)
	hs := &http.Server{Addr: host, Handler: mux}

	g := taskgroup.New(nil)
	g.Go(func() error {
		if err := hs.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	app.log.Info("serving simulated receiver", "network", "ws", "addr", host, "path", path)
	g.Go(func() error {
		defer acc.Close()
		return rpc.Loop(ctx, acc, newPeer)
	})
	<-ctx.Done()
	hs.Shutdown(context.Background())
	return g.Wait()
}
