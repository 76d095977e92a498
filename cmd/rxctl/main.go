// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

// Program rxctl is a command-line client for SDR receiver servers.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/creachadair/rxctl"
	"github.com/creachadair/rxctl/event"
	"github.com/creachadair/rxctl/internal/config"
	"gopkg.in/yaml.v3"
)

var flags struct {
	Config   string `flag:"config,Settings file (YAML)"`
	Address  string `flag:"address,Server address (overrides the settings file)"`
	LogLevel string `flag:"log-level,Log level (overrides the settings file)"`
}

// app holds the settings shared by all subcommands, set up by the root Init.
var app struct {
	cfg      *config.Config
	log      *slog.Logger
	closeLog func() error
}

func main() {
	root := &command.C{
		Name: filepath.Base(os.Args[0]),
		Help: `Control an SDR receiver server.

The server address and client settings are read from the file named by
--config, if any. Addresses have the form host:port for TCP, a path for a
Unix socket, or a ws:// URL for a websocket.`,
		SetFlags: func(_ *command.Env, fs *flag.FlagSet) { flax.MustBind(fs, &flags) },
		Init:     setup,
		Commands: []*command.C{
			{
				Name:  "serve",
				Usage: "[--device name]",
				Help:  "Serve a simulated receiver at the configured address.",
				SetFlags: func(_ *command.Env, fs *flag.FlagSet) {
					flax.MustBind(fs, &serveFlags)
				},
				Run: runServe,
			},
			{
				Name: "status",
				Help: "Print the state of the receiver and its VFOs.",
				Run:  runStatus,
			},
			{
				Name:  "watch",
				Usage: "[--vfo handle]",
				Help:  "Print receiver events as they occur, until interrupted.",
				SetFlags: func(_ *command.Env, fs *flag.FlagSet) {
					flax.MustBind(fs, &watchFlags)
				},
				Run: runWatch,
			},
			{
				Name:  "tune",
				Usage: "<freq-hz>",
				Help:  "Set the RF frequency of the receiver, and print the frequency applied.",
				Run:   runTune,
			},
			{
				Name: "start",
				Help: "Start the receiver.",
				Run: func(env *command.Env) error {
					return withReceiver(env, func(ctx context.Context, r *rxctl.Conn) error {
						return await(ctx, func(done func(context.Context, error)) error { return r.Start(ctx, done) })
					})
				},
			},
			{
				Name: "stop",
				Help: "Stop the receiver.",
				Run: func(env *command.Env) error {
					return withReceiver(env, func(ctx context.Context, r *rxctl.Conn) error {
						return await(ctx, func(done func(context.Context, error)) error { return r.Stop(ctx, done) })
					})
				},
			},
			vfoCommand(),
			{
				Name: "config",
				Help: "Print the effective settings.",
				Run:  func(env *command.Env) error { return app.cfg.Write(os.Stdout) },
			},
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
	if app.closeLog != nil {
		app.closeLog()
	}
}

// setup loads settings and configures logging.
func setup(env *command.Env) error {
	cfg := config.Default()
	if flags.Config != "" {
		var err error
		cfg, err = config.Load(flags.Config)
		if err != nil {
			return err
		}
	}
	if flags.Address != "" {
		cfg.Address = flags.Address
	}
	if flags.LogLevel != "" {
		cfg.Log.Level = flags.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	log, closeLog, err := cfg.Log.Logger()
	if err != nil {
		return err
	}
	app.cfg, app.log, app.closeLog = cfg, log, closeLog
	return nil
}

// withReceiver connects to the server, waits until the receiver mirrors the
// server state, and calls run. The context ends on interrupt.
func withReceiver(env *command.Env, run func(context.Context, *rxctl.Conn) error) error {
	ctx, cancel := signal.NotifyContext(env.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	r, err := rxctl.Dial(ctx, app.cfg.Address, app.cfg.DialOptions(app.log))
	if err != nil {
		return err
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.Close(cctx); err != nil {
			app.log.Warn("closing receiver", "err", err)
		}
	}()

	synced := make(chan struct{})
	var conn *rxctl.Connection
	if err := r.Subscribe(ctx, func(ctx context.Context, e event.Event) {
		if e.Kind() == event.KSyncEnd && r.Synchronized() {
			select {
			case <-synced:
			default:
				close(synced)
			}
		}
	}, func(_ context.Context, c *rxctl.Connection, err error) {
		conn = c
	}); err != nil {
		return err
	}
	select {
	case <-synced:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(app.cfg.CallTimeout):
		return fmt.Errorf("no state received from %s", app.cfg.Address)
	}
	if conn != nil {
		conn.Disconnect(ctx)
	}
	return run(ctx, r)
}

// await issues a command and waits for its completion.
func await(ctx context.Context, issue func(done func(context.Context, error)) error) error {
	errc := make(chan error, 1)
	if err := issue(func(_ context.Context, err error) { errc <- err }); err != nil {
		return err
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// awaitValue issues a command with a result and waits for its completion.
func awaitValue[T any](ctx context.Context, issue func(done func(context.Context, T, error)) error) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	if err := issue(func(_ context.Context, v T, err error) { ch <- result{v, err} }); err != nil {
		var zero T
		return zero, err
	}
	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func runStatus(env *command.Env) error {
	return withReceiver(env, func(ctx context.Context, r *rxctl.Conn) error {
		var out struct {
			Receiver rxctl.ReceiverState             `yaml:"receiver"`
			VFOs     map[event.Handle]rxctl.VFOState `yaml:"vfos,omitempty"`
		}
		if err := r.Call(ctx, func(context.Context) error {
			out.Receiver = r.State()
			out.VFOs = make(map[event.Handle]rxctl.VFOState)
			for _, v := range r.VFOs() {
				out.VFOs[v.Handle()] = v.State()
			}
			return nil
		}); err != nil {
			return err
		}
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(out); err != nil {
			return err
		}
		return enc.Close()
	})
}

var watchFlags struct {
	VFO uint64 `flag:"vfo,Watch only the VFO with this handle"`
}

func runWatch(env *command.Env) error {
	return withReceiver(env, func(ctx context.Context, r *rxctl.Conn) error {
		show := func(_ context.Context, e event.Event) {
			fmt.Printf("%s %-28s %s\n", e.Time().Format("15:04:05.000"), e.Kind(), describe(e))
		}
		lost := make(chan struct{})
		h := func(ctx context.Context, e event.Event) {
			show(ctx, e)
			if e.Kind() == event.KUnsubscribed {
				close(lost)
			}
		}
		if watchFlags.VFO != 0 {
			v, err := lookupVFO(ctx, r, strconv.FormatUint(watchFlags.VFO, 10))
			if err != nil {
				return err
			}
			if err := v.Subscribe(ctx, show, nil); err != nil {
				return err
			}
		} else if err := r.Subscribe(ctx, h, nil); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-lost:
			return fmt.Errorf("event stream from %s lost", app.cfg.Address)
		}
	})
}

// describe renders the fields of e, other than its header, as name=value.
func describe(e event.Event) string {
	v := reflect.ValueOf(e).Elem()
	var parts []string
	if ve, ok := e.(event.VFOEvent); ok {
		parts = append(parts, ve.VFO().String())
	}
	for i := range v.NumField() {
		if f := v.Type().Field(i); !f.Anonymous {
			parts = append(parts, fmt.Sprintf("%s=%v", strings.ToLower(f.Name), v.Field(i).Interface()))
		}
	}
	return strings.Join(parts, " ")
}

func runTune(env *command.Env) error {
	if len(env.Args) != 1 {
		return env.Usagef("Missing frequency")
	}
	hz, err := strconv.ParseInt(env.Args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid frequency: %w", err)
	}
	return withReceiver(env, func(ctx context.Context, r *rxctl.Conn) error {
		got, err := awaitValue(ctx, func(done func(context.Context, int64, error)) error {
			return r.SetRFFreq(ctx, hz, done)
		})
		if err != nil {
			return err
		}
		fmt.Println(got)
		return nil
	})
}
