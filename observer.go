// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package rxctl

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/creachadair/rxctl/event"
	"github.com/creachadair/rxctl/executor"
)

// A Handler receives the events of a Receiver or a VFO. It runs on the
// executor, and ctx marks it as such. A goroutine started by the handler must
// not use ctx; give it executor.Detach(ctx).
type Handler func(ctx context.Context, e event.Event)

// A Connection identifies a registered Handler.
type Connection struct {
	id   uint64
	obs  *observers
	exec *executor.Executor
}

// Disconnect removes the handler registered for c. A handler disconnected
// from within a task is removed before the task continues; otherwise it is
// removed by a task scheduled on the executor. Disconnecting a connection
// more than once has no further effect.
func (c *Connection) Disconnect(ctx context.Context) error {
	if c == nil || c.obs == nil {
		return ErrConnectionNotFound
	}
	c.exec.ScheduleForced(ctx, "disconnect", func(context.Context) error {
		c.obs.remove(c.id)
		return nil
	})
	return nil
}

type observer struct {
	id uint64
	h  Handler
}

// observers is an ordered list of handlers. It is confined to an executor.
type observers struct {
	nextID uint64
	list   []observer
	log    *slog.Logger
	stats  *proxyMetrics
}

func (o *observers) add(h Handler) uint64 {
	o.nextID++
	o.list = append(o.list, observer{id: o.nextID, h: h})
	o.stats.observers.Add(1)
	return o.nextID
}

func (o *observers) remove(id uint64) {
	if i := slices.IndexFunc(o.list, func(v observer) bool { return v.id == id }); i >= 0 {
		o.list = slices.Delete(o.list, i, i+1)
		o.stats.observers.Add(-1)
	}
}

func (o *observers) clear() {
	o.stats.observers.Add(-int64(len(o.list)))
	o.list = nil
}

func (o *observers) len() int { return len(o.list) }

// notify calls each registered handler with each of es, in registration
// order. Handlers registered or removed during delivery do not affect it.
func (o *observers) notify(ctx context.Context, es ...event.Event) {
	for _, v := range slices.Clone(o.list) {
		for _, e := range es {
			o.call(ctx, v, e)
		}
	}
}

// call delivers e to one handler, so that a panicking handler does not
// prevent delivery to the rest.
func (o *observers) call(ctx context.Context, v observer, e event.Event) {
	defer func() {
		if x := recover(); x != nil {
			o.log.Error("observer panicked (recovered)", "event", e.Kind(), "err", fmt.Sprint(x))
		}
	}()
	v.h(ctx, e)
}
