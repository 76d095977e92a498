// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/creachadair/command"
	"github.com/creachadair/rxctl"
	"github.com/creachadair/rxctl/event"
)

func vfoCommand() *command.C {
	return &command.C{
		Name: "vfo",
		Help: "Manage the VFO channels of the receiver.",
		Commands: []*command.C{
			{
				Name: "list",
				Help: "List the VFOs of the receiver.",
				Run:  runVFOList,
			},
			{
				Name: "add",
				Help: "Add a VFO and print its handle.",
				Run: func(env *command.Env) error {
					return withReceiver(env, func(ctx context.Context, r *rxctl.Conn) error {
						v, err := awaitValue(ctx, func(done func(context.Context, *rxctl.VFO, error)) error {
							return r.AddVFO(ctx, done)
						})
						if err != nil {
							return err
						}
						fmt.Println(uint64(v.Handle()))
						return nil
					})
				},
			},
			{
				Name:  "remove",
				Usage: "<handle>",
				Help:  "Remove the VFO with the given handle.",
				Run: func(env *command.Env) error {
					if len(env.Args) != 1 {
						return env.Usagef("Missing VFO handle")
					}
					return withReceiver(env, func(ctx context.Context, r *rxctl.Conn) error {
						v, err := lookupVFO(ctx, r, env.Args[0])
						if err != nil {
							return err
						}
						return await(ctx, func(done func(context.Context, error)) error {
							return r.RemoveChannel(ctx, v, done)
						})
					})
				},
			},
			{
				Name:  "demod",
				Usage: "<handle> <mode>",
				Help: fmt.Sprintf(`Select the demodulator of a VFO.

Modes: %s`, strings.Join(event.Demods(), ", ")),
				Run: func(env *command.Env) error {
					if len(env.Args) != 2 {
						return env.Usagef("Wrong number of arguments")
					}
					d, err := event.ParseDemod(env.Args[1])
					if err != nil {
						return err
					}
					return withReceiver(env, func(ctx context.Context, r *rxctl.Conn) error {
						v, err := lookupVFO(ctx, r, env.Args[0])
						if err != nil {
							return err
						}
						_, err = awaitValue(ctx, func(done func(context.Context, event.Demod, error)) error {
							return v.SetDemod(ctx, d, done)
						})
						return err
					})
				},
			},
			{
				Name:  "offset",
				Usage: "<handle> <hz>",
				Help:  "Set the frequency offset of a VFO, and print the offset applied.",
				Run: func(env *command.Env) error {
					if len(env.Args) != 2 {
						return env.Usagef("Wrong number of arguments")
					}
					hz, err := strconv.ParseInt(env.Args[1], 10, 64)
					if err != nil {
						return fmt.Errorf("invalid offset: %w", err)
					}
					return withReceiver(env, func(ctx context.Context, r *rxctl.Conn) error {
						v, err := lookupVFO(ctx, r, env.Args[0])
						if err != nil {
							return err
						}
						got, err := awaitValue(ctx, func(done func(context.Context, int64, error)) error {
							return v.SetOffset(ctx, hz, done)
						})
						if err == nil {
							fmt.Println(got)
						}
						return err
					})
				},
			},
		},
	}
}

// lookupVFO returns the live VFO of r whose handle is spelled by s.
func lookupVFO(ctx context.Context, r *rxctl.Conn, s string) (*rxctl.VFO, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid VFO handle: %w", err)
	}
	var v *rxctl.VFO
	var ok bool
	if err := r.Call(ctx, func(context.Context) error {
		v, ok = r.VFO(event.Handle(n))
		return nil
	}); err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %v", rxctl.ErrVFONotFound, event.Handle(n))
	}
	return v, nil
}

func runVFOList(env *command.Env) error {
	return withReceiver(env, func(ctx context.Context, r *rxctl.Conn) error {
		type row struct {
			h event.Handle
			s rxctl.VFOState
		}
		var rows []row
		var center int64
		if err := r.Call(ctx, func(context.Context) error {
			center = r.RFFreq()
			for _, v := range r.VFOs() {
				rows = append(rows, row{v.Handle(), v.State()})
			}
			return nil
		}); err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 4, 8, 2, ' ', 0)
		fmt.Fprintln(tw, "HANDLE\tFREQ\tDEMOD\tFILTER\tSQUELCH")
		for _, r := range rows {
			fmt.Fprintf(tw, "%d\t%d\t%v\t%v %d..%d\t%.1f\n", uint64(r.h), center+r.s.Offset,
				r.s.Demod, r.s.FilterShape, r.s.FilterLow, r.s.FilterHigh, r.s.SquelchLevel)
		}
		return tw.Flush()
	})
}
