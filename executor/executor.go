// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

// Package executor implements a serialized task executor.
//
// An Executor runs tasks one at a time, in the order they were scheduled, on
// a single goroutine. State that is touched only by tasks of one executor
// needs no other synchronization.
//
// Tasks receive a context that identifies the executor running them. A task
// that schedules more work on its own executor with that context runs the new
// work inline, so that a method called from inside a task observes its effects
// before the calling task continues.
//
// The executor guards against a runaway task: while the current task has
// been running longer than the stall ceiling, soft scheduling is rejected.
// Forced scheduling is always accepted, so a task that never finishes lets
// forced work accumulate without bound.
package executor

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/creachadair/mds/queue"
	"github.com/creachadair/taskgroup"
)

var (
	// ErrRunning is reported by Start if the executor is already running.
	ErrRunning = errors.New("executor is already running")

	// ErrStalled is reported when soft scheduling is rejected because the
	// current task has overrun the stall ceiling.
	ErrStalled = errors.New("executor is stalled")

	// ErrStopped is reported when work is scheduled after Stop.
	ErrStopped = errors.New("executor is stopped")
)

// Func is the signature of a task. A non-nil error is logged with the task
// label; it does not affect other tasks.
//
// The ctx passed to a task marks it as running on the executor, so work
// scheduled with it runs inline. The marker is inherited by derived contexts,
// so ctx must not be used by other goroutines while the task runs; pass them
// Detach(ctx) instead.
type Func func(ctx context.Context) error

// Options are settings for an Executor. A nil *Options is ready for use and
// provides default values.
type Options struct {
	// StallCeiling is how long a task may run before the executor counts as
	// stalled. If zero, 2 seconds is used.
	StallCeiling time.Duration

	// PollInterval bounds how long the idle loop waits on its queue before
	// checking for a stop request. If zero, 1 second is used.
	PollInterval time.Duration

	// Logger receives task failures and shutdown reports. If nil, slog.Default
	// is used.
	Logger *slog.Logger

	// Metrics, if non-nil, is populated with executor counters. Otherwise the
	// executor has its own map.
	Metrics *expvar.Map
}

func (o *Options) stallCeiling() time.Duration {
	if o == nil || o.StallCeiling <= 0 {
		return 2 * time.Second
	}
	return o.StallCeiling
}

func (o *Options) pollInterval() time.Duration {
	if o == nil || o.PollInterval <= 0 {
		return time.Second
	}
	return o.PollInterval
}

func (o *Options) logger() *slog.Logger {
	if o == nil || o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

func (o *Options) metrics() *expvar.Map {
	if o == nil || o.Metrics == nil {
		return new(expvar.Map)
	}
	return o.Metrics
}

// A task is a scheduled unit of work.
type task struct {
	label  string
	fn     Func
	queued time.Time
}

// taskKey is the context key for the task an executor is running.
type taskKey struct{}

// An Executor runs tasks sequentially on a single goroutine.
// Its methods are safe for concurrent use.
type Executor struct {
	ceiling time.Duration
	poll    time.Duration
	log     *slog.Logger
	stats   *execMetrics

	wake chan struct{} // buffered, signals work or a stop request

	μ       sync.Mutex
	queue   queue.Queue[*task]
	loop    *taskgroup.Group // nil if not started
	stop    bool             // stop requested
	done    chan struct{}    // closed when the loop exits
	cur     *task            // the task in progress, or nil
	since   time.Time        // when cur started
	avg16   int64            // 16 × latency EMA, nanoseconds
	seeded  bool             // avg16 holds at least one sample
	drained []string         // labels of tasks discarded at shutdown
}

// New constructs a new unstarted executor. Tasks may be scheduled before
// Start; they run once the executor starts.
func New(opts *Options) *Executor {
	return &Executor{
		ceiling: opts.stallCeiling(),
		poll:    opts.pollInterval(),
		log:     opts.logger(),
		stats:   newExecMetrics(opts.metrics()),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Metrics returns the metrics map for e.
func (e *Executor) Metrics() *expvar.Map { return e.stats.emap }

// Start starts the executor loop. It reports ErrRunning if the loop was
// already started, and ErrStopped if e has been stopped.
func (e *Executor) Start() error {
	e.μ.Lock()
	defer e.μ.Unlock()
	if e.stop {
		return ErrStopped
	} else if e.loop != nil {
		return ErrRunning
	}
	e.loop = taskgroup.New(nil)
	e.loop.Go(e.run)
	return nil
}

// Stop requests the executor to exit after the task in progress, if any.
// It does not block; call Join to wait for the loop to exit. Stop is
// idempotent.
func (e *Executor) Stop() {
	e.μ.Lock()
	defer e.μ.Unlock()
	if !e.stop {
		e.stop = true
		if e.loop == nil {
			e.drainLocked() // never started
			close(e.done)
		}
		e.signal()
	}
}

// Join blocks until the executor has stopped, and returns the labels of the
// tasks that were still queued when it did, in queue order. Those tasks were
// not run. Join does not itself request a stop.
func (e *Executor) Join() []string {
	<-e.done
	e.μ.Lock()
	g := e.loop
	e.μ.Unlock()
	if g != nil {
		g.Wait()
	}

	e.μ.Lock()
	defer e.μ.Unlock()
	return e.drained
}

// Done returns a channel that is closed when the executor has stopped.
func (e *Executor) Done() <-chan struct{} { return e.done }

// ScheduleSoft schedules fn to run on e, and reports whether it was accepted.
// It is rejected while e is stalled or after e has stopped. If ctx belongs to
// a task currently running on e, fn runs immediately instead.
func (e *Executor) ScheduleSoft(ctx context.Context, label string, fn Func) bool {
	return e.TrySchedule(ctx, label, fn) == nil
}

// TrySchedule is as ScheduleSoft, but reports why fn was rejected: ErrStalled
// or ErrStopped.
func (e *Executor) TrySchedule(ctx context.Context, label string, fn Func) error {
	if e.isCurrent(ctx) {
		e.runTask(ctx, label, fn)
		return nil
	}
	e.μ.Lock()
	defer e.μ.Unlock()
	if e.stop {
		e.stats.rejected.Add(1)
		return ErrStopped
	} else if e.stalledLocked(time.Now()) {
		e.stats.rejected.Add(1)
		e.log.Warn("task rejected, executor stalled", "task", label, "current", e.cur.label)
		return ErrStalled
	}
	e.pushLocked(label, fn)
	return nil
}

// ScheduleForced schedules fn to run on e regardless of whether e is stalled.
// If ctx belongs to a task currently running on e, fn runs immediately
// instead. A task scheduled after e has stopped is logged and dropped.
func (e *Executor) ScheduleForced(ctx context.Context, label string, fn Func) {
	if e.isCurrent(ctx) {
		e.runTask(ctx, label, fn)
		return
	}
	e.μ.Lock()
	defer e.μ.Unlock()
	if e.stop {
		e.stats.dropped.Add(1)
		e.log.Warn("task dropped, executor stopped", "task", label)
		return
	}
	e.pushLocked(label, fn)
}

// Call runs fn on e and waits for it to finish, returning its error. If ctx
// belongs to a task currently running on e, fn runs immediately. Otherwise fn
// is force-scheduled, and Call returns early if ctx ends or e stops before fn
// has run.
func (e *Executor) Call(ctx context.Context, label string, fn Func) error {
	if e.isCurrent(ctx) {
		return e.guard(ctx, fn)
	}
	errc := make(chan error, 1)
	e.μ.Lock()
	if e.stop {
		e.μ.Unlock()
		return ErrStopped
	}
	e.pushLocked(label, func(tctx context.Context) error {
		errc <- e.guard(tctx, fn)
		return nil
	})
	e.μ.Unlock()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		// The task may have run just before the loop exited.
		select {
		case err := <-errc:
			return err
		default:
			return ErrStopped
		}
	}
}

// IsStalled reports whether e is running a task that has overrun the stall
// ceiling.
func (e *Executor) IsStalled() bool {
	e.μ.Lock()
	defer e.μ.Unlock()
	return e.stalledLocked(time.Now())
}

// AverageLatency reports the moving average of the delay between scheduling
// a task and starting it.
func (e *Executor) AverageLatency() time.Duration {
	e.μ.Lock()
	defer e.μ.Unlock()
	return time.Duration(e.avg16 >> 4)
}

// Current reports the label and start time of the task in progress. If no
// task is running, it returns "" and the zero time.
func (e *Executor) Current() (string, time.Time) {
	e.μ.Lock()
	defer e.μ.Unlock()
	if e.cur == nil {
		return "", time.Time{}
	}
	return e.cur.label, e.since
}

// Len reports the number of tasks waiting to run.
func (e *Executor) Len() int {
	e.μ.Lock()
	defer e.μ.Unlock()
	return e.queue.Len()
}

// InTask reports whether ctx belongs to the task e is running now. Work
// scheduled on e with such a context runs inline.
func (e *Executor) InTask(ctx context.Context) bool { return e.isCurrent(ctx) }

func (e *Executor) stalledLocked(now time.Time) bool {
	return e.cur != nil && now.Sub(e.since) > e.ceiling
}

// Detach returns a context with the values and deadline of ctx, but which
// does not belong to any task. Work scheduled with it is always queued.
func Detach(ctx context.Context) context.Context {
	return context.WithValue(ctx, taskKey{}, (*task)(nil))
}

// isCurrent reports whether ctx belongs to the task e is running now.
func (e *Executor) isCurrent(ctx context.Context) bool {
	t, ok := ctx.Value(taskKey{}).(*task)
	if !ok || t == nil {
		return false
	}
	e.μ.Lock()
	defer e.μ.Unlock()
	return t == e.cur
}

func (e *Executor) pushLocked(label string, fn Func) {
	e.queue.Add(&task{label: label, fn: fn, queued: time.Now()})
	e.stats.queued.Add(1)
	e.stats.depth.Set(int64(e.queue.Len()))
	e.signal()
}

// signal wakes the loop if it is waiting. It does not block.
func (e *Executor) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Executor) drainLocked() {
	for {
		t, ok := e.queue.Pop()
		if !ok {
			break
		}
		e.drained = append(e.drained, t.label)
	}
	e.stats.depth.Set(0)
	if len(e.drained) != 0 {
		e.stats.dropped.Add(int64(len(e.drained)))
		e.log.Warn("executor stopped with tasks pending", "count", len(e.drained), "tasks", e.drained)
	}
}

// next blocks until a task is available or a stop is requested. It reports
// false if the loop should exit.
func (e *Executor) next() (*task, bool) {
	for {
		e.μ.Lock()
		if e.stop {
			e.drainLocked()
			e.μ.Unlock()
			return nil, false
		}
		if t, ok := e.queue.Pop(); ok {
			now := time.Now()
			e.updateLatencyLocked(now.Sub(t.queued))
			e.cur, e.since = t, now
			e.stats.depth.Set(int64(e.queue.Len()))
			e.μ.Unlock()
			return t, true
		}
		e.μ.Unlock()

		tick := time.NewTimer(e.poll)
		select {
		case <-e.wake:
		case <-tick.C:
		}
		tick.Stop()
	}
}

// updateLatencyLocked folds a latency sample into the moving average with a
// weight of 1/16. The first sample seeds the average.
func (e *Executor) updateLatencyLocked(d time.Duration) {
	sample := int64(d)
	if !e.seeded {
		e.avg16, e.seeded = sample<<4, true
	} else {
		e.avg16 += sample - e.avg16>>4
	}
	e.stats.latency.Set((e.avg16 >> 4) / int64(time.Microsecond))
}

func (e *Executor) run() error {
	defer close(e.done)
	for {
		t, ok := e.next()
		if !ok {
			return nil
		}
		ctx := context.WithValue(context.Background(), taskKey{}, t)
		e.runTask(ctx, t.label, t.fn)

		e.μ.Lock()
		e.cur = nil
		e.μ.Unlock()
	}
}

// runTask executes fn and records its outcome. The caller must be the loop,
// or a task on e running inline.
func (e *Executor) runTask(ctx context.Context, label string, fn Func) {
	e.stats.run.Add(1)
	if err := e.guard(ctx, fn); err != nil {
		e.stats.failed.Add(1)
		e.log.Error("task failed", "task", label, "err", err)
	}
}

// guard calls fn, converting a panic into an error.
func (e *Executor) guard(ctx context.Context, fn Func) (err error) {
	defer func() {
		if x := recover(); x != nil {
			err = fmt.Errorf("task panicked (recovered): %v", x)
		}
	}()
	return fn(ctx)
}
