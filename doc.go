// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

// Package rxctl is a client library for controlling a remote software-defined
// radio receiver.
//
// A [Receiver] issues commands to a receiver server and keeps a local mirror
// of the server's state. The mirror changes only when the server reports a
// change by sending an event; a command never updates local state directly,
// even when it succeeds. Each channel of the receiver is represented by a
// [VFO], which follows the same pattern for its own settings.
//
// # Executor
//
// All the state of a Receiver and its VFOs is owned by a single
// [executor.Executor]. Events, command completions, and observer callbacks
// all run as tasks on that executor, one at a time, so they never race with
// each other. The getter methods of Receiver and VFO read the mirror without
// locking, so they are coherent only when called from a task: inside an
// observer, inside a command callback, or inside [Receiver.Call]:
//
//	err := rcv.Call(ctx, func(ctx context.Context) error {
//	   fmt.Println("tuned to", rcv.RFFreq())
//	   return nil
//	})
//
// The callbacks receive a context that marks them as running on the
// executor. Passing that context to another Receiver or VFO method runs it
// inline rather than queueing it, so effects are visible before the callback
// continues.
//
// The marker is a context value, so it is inherited by goroutines the
// callback starts. Such a goroutine must not use the callback's context, or
// its work would run inline alongside the callback. Use [executor.Detach] to
// obtain a context whose work is queued instead.
//
// # Commands
//
// A command method such as [Receiver.SetRFFreq] sends a request to the server
// and later calls its completion callback on the executor with the value the
// server applied, or an error. The error returned by the method itself
// reports only that the command could not be scheduled: [ErrStalled] if the
// executor is busy with an overrunning task, or [ErrStopped] after Close.
//
// # Observers
//
// Subscribe registers a handler for the events of a Receiver or a VFO, and
// returns a [Connection] to the completion callback. Immediately after
// registration the handler receives a snapshot of the current state as a
// bracketed sequence of events, beginning with SyncStart and ending with
// SyncEnd, and after that every event as it is applied.
//
// If the event stream from the server is lost, receiver observers get a
// final Unsubscribed event and are detached. The Receiver resubscribes in the
// background, and VFO observers receive a fresh snapshot once the mirror is
// resynchronized.
package rxctl
