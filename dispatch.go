// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package rxctl

import (
	"context"
	"slices"
	"time"

	"github.com/creachadair/mds/mapset"
	"github.com/creachadair/rxctl/event"
)

// deliver is called by the transport with each event of subscription gen,
// in server order. Events are force-scheduled so none is dropped and their
// order is preserved.
func (r *Receiver) deliver(gen uint64, e event.Event) {
	r.exec.ScheduleForced(r.ctx, "event "+e.Kind().String(), func(ctx context.Context) error {
		r.dispatch(ctx, gen, e)
		return nil
	})
}

// dispatch routes e to the receiver or to the VFO it names.
func (r *Receiver) dispatch(ctx context.Context, gen uint64, e event.Event) {
	if r.closed || gen != r.gen {
		r.stats.ignored.Add(1)
		return
	}
	if r.phase == subscribing {
		r.setPhase(synchronized)
		r.retry = 0
	}
	switch e := e.(type) {
	case event.VFOEvent:
		r.onVFOEvent(ctx, e)
	case event.ReceiverEvent:
		r.onEvent(ctx, e)
	}
}

func (r *Receiver) onEvent(ctx context.Context, e event.ReceiverEvent) {
	switch e := e.(type) {
	case *event.Unsubscribed:
		r.lost(ctx, e)
		return
	case *event.SyncStart:
		r.seen = mapset.New[event.Handle]()
		r.parked = mapset.New[event.Handle]()
		for h := range r.pending {
			r.parked.Add(h)
		}
	case *event.SyncEnd:
		r.reconcile(ctx)
	default:
		if !r.state.Apply(e) {
			r.stats.ignored.Add(1)
			return
		}
	}
	r.stats.applied.Add(1)
	r.obs.notify(ctx, e)
}

func (r *Receiver) onVFOEvent(ctx context.Context, e event.VFOEvent) {
	h := e.VFO()
	switch e := e.(type) {
	case *event.VFOAdded:
		if r.seen != nil {
			r.seen.Add(h)
		}
		r.removed.Remove(h)
		if _, ok := r.vfos[h]; ok {
			r.stats.ignored.Add(1) // duplicate
			return
		}
		v, ok := r.pending[h]
		if ok {
			delete(r.pending, h)
		} else {
			v = newVFO(r, h)
		}
		r.vfos[h] = v
		r.state.VFOs = append(r.state.VFOs, h)
		r.stats.applied.Add(1)
		r.obs.notify(ctx, e)
		v.onEvent(ctx, e)

	case *event.VFORemoved:
		r.drop(ctx, e)

	default:
		v, ok := r.vfos[h]
		if !ok {
			v, ok = r.pending[h]
		}
		if !ok {
			r.stats.ignored.Add(1)
			return
		}
		v.onEvent(ctx, e)
	}
}

// drop unregisters the VFO removed by e, and records its tombstone.
// Removing an unknown or already-removed handle only records the tombstone.
func (r *Receiver) drop(ctx context.Context, e *event.VFORemoved) {
	h := e.VFO()
	r.removed.Add(h)
	if v, ok := r.pending[h]; ok {
		delete(r.pending, h)
		v.prepareToDie(ctx, e)
	}
	v, ok := r.vfos[h]
	if !ok {
		r.stats.ignored.Add(1)
		return
	}
	delete(r.vfos, h)
	r.state.VFOs = slices.DeleteFunc(r.state.VFOs, func(x event.Handle) bool { return x == h })
	r.stats.applied.Add(1)
	r.obs.notify(ctx, e)
	v.prepareToDie(ctx, e)
}

// reconcile ends a server snapshot. Registered VFOs the snapshot did not
// report no longer exist on the server, and are removed. So are VFOs that
// were awaiting VFOAdded when the snapshot began. After a lost
// stream, VFO observers receive a fresh snapshot of their VFO.
func (r *Receiver) reconcile(ctx context.Context) {
	seen, parked := r.seen, r.parked
	r.seen, r.parked = nil, nil
	if seen == nil {
		return // no snapshot in progress
	}
	now := time.Now()
	for _, h := range slices.Clone(r.state.VFOs) {
		if !seen.Has(h) {
			r.drop(ctx, event.Stamp(event.For(h, &event.VFORemoved{}), now))
		}
	}
	for h := range parked {
		if _, ok := r.pending[h]; ok && !seen.Has(h) {
			r.drop(ctx, event.Stamp(event.For(h, &event.VFORemoved{}), now))
		}
	}
	if r.resync {
		r.resync = false
		for _, h := range r.state.VFOs {
			v := r.vfos[h]
			v.obs.notify(ctx, v.snapshot(now)...)
		}
	}
}

// lost handles the end of the server stream. Receiver observers receive e
// and are detached, and the receiver resubscribes in the background.
func (r *Receiver) lost(ctx context.Context, e *event.Unsubscribed) {
	r.log.Info("event stream lost", "reason", e.Reason)
	r.setPhase(unsubscribed)
	if r.unsub != nil {
		r.unsub()
		r.unsub = nil
	}
	r.gen++ // discard stragglers from the old stream
	r.seen, r.parked = nil, nil
	r.stats.applied.Add(1)
	r.obs.notify(ctx, e)
	r.obs.clear()
	if !r.closed {
		r.resync = true
		r.scheduleResubscribe(r.nextRetry())
	}
}
