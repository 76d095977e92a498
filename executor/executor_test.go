// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package executor_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/creachadair/rxctl/executor"
	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"
)

func mustStart(t *testing.T, e *executor.Executor) {
	t.Helper()
	if err := e.Start(); err != nil {
		t.Fatalf("Start: unexpected error: %v", err)
	}
}

func shutdown(t *testing.T, e *executor.Executor) []string {
	t.Helper()
	e.Stop()
	return e.Join()
}

func TestStartStop(t *testing.T) {
	defer leaktest.Check(t)()

	e := executor.New(nil)
	mustStart(t, e)
	if err := e.Start(); !errors.Is(err, executor.ErrRunning) {
		t.Errorf("Start again: got %v, want %v", err, executor.ErrRunning)
	}
	if left := shutdown(t, e); len(left) != 0 {
		t.Errorf("Join: got %q, want no tasks", left)
	}
	e.Stop() // idempotent
	if err := e.Start(); !errors.Is(err, executor.ErrStopped) {
		t.Errorf("Start after stop: got %v, want %v", err, executor.ErrStopped)
	}
	if e.ScheduleSoft(context.Background(), "late", func(context.Context) error {
		t.Error("Task ran after stop")
		return nil
	}) {
		t.Error("ScheduleSoft after stop: got true, want false")
	}
	e.ScheduleForced(context.Background(), "late", func(context.Context) error {
		t.Error("Task ran after stop")
		return nil
	})
	if got := e.Metrics().Get("tasks_dropped").String(); got != "1" {
		t.Errorf("tasks_dropped: got %s, want 1", got)
	}
}

func TestOrder(t *testing.T) {
	defer leaktest.Check(t)()

	e := executor.New(nil)
	var got []string
	for i := range 5 {
		label := fmt.Sprint("task-", i)
		if !e.ScheduleSoft(context.Background(), label, func(ctx context.Context) error {
			got = append(got, label)
			return nil
		}) {
			t.Fatalf("ScheduleSoft %q: rejected", label)
		}
	}
	mustStart(t, e)
	if err := e.Call(context.Background(), "sync", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Call: unexpected error: %v", err)
	}
	shutdown(t, e)

	want := []string{"task-0", "task-1", "task-2", "task-3", "task-4"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Task order (-want, +got):\n%s", diff)
	}
}

func TestMutualExclusion(t *testing.T) {
	defer leaktest.Check(t)()

	e := executor.New(nil)
	mustStart(t, e)

	var active, peak, total atomic.Int64
	body := func(context.Context) error {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(50 * time.Microsecond)
		total.Add(1)
		return nil
	}

	const workers = 8
	const perWorker = 50
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range perWorker {
				label := fmt.Sprintf("w%d-%d", i, j)
				if j%2 == 0 {
					e.ScheduleForced(context.Background(), label, body)
				} else if !e.ScheduleSoft(context.Background(), label, body) {
					t.Errorf("ScheduleSoft %q rejected", label)
				}
			}
		}()
	}
	wg.Wait()
	if err := e.Call(context.Background(), "barrier", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Call: %v", err)
	}
	shutdown(t, e)

	if p := peak.Load(); p != 1 {
		t.Errorf("Peak concurrent tasks: got %d, want 1", p)
	}
	if n := total.Load(); n != workers*perWorker {
		t.Errorf("Tasks run: got %d, want %d", n, workers*perWorker)
	}
}

func TestBackpressure(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		e := executor.New(&executor.Options{StallCeiling: 2 * time.Second})
		mustStart(t, e)
		ctx := context.Background()

		release := make(chan struct{})
		e.ScheduleSoft(ctx, "wedge", func(context.Context) error { <-release; return nil })
		synctest.Wait()

		// Within the ceiling, the executor is busy but not stalled.
		time.Sleep(time.Second)
		if e.IsStalled() {
			t.Error("IsStalled before the ceiling: got true")
		}
		var ran []string
		record := func(label string) executor.Func {
			return func(context.Context) error { ran = append(ran, label); return nil }
		}
		if !e.ScheduleSoft(ctx, "early", record("early")) {
			t.Error("ScheduleSoft before the ceiling: rejected")
		}

		time.Sleep(1500 * time.Millisecond)
		if !e.IsStalled() {
			t.Error("IsStalled after the ceiling: got false")
		}
		if label, since := e.Current(); label != "wedge" || time.Since(since) != 2500*time.Millisecond {
			t.Errorf("Current: got %q, %v ago; want wedge, 2.5s ago", label, time.Since(since))
		}
		for i := range 3 {
			if e.ScheduleSoft(ctx, "soft", record("soft")) {
				t.Errorf("ScheduleSoft %d during stall: accepted", i)
			}
			if err := e.TrySchedule(ctx, "soft", record("soft")); !errors.Is(err, executor.ErrStalled) {
				t.Errorf("TrySchedule during stall: got %v, want %v", err, executor.ErrStalled)
			}
		}
		e.ScheduleForced(ctx, "forced", record("forced"))

		close(release)
		synctest.Wait()
		if e.IsStalled() {
			t.Error("IsStalled after release: got true")
		}
		if !e.ScheduleSoft(ctx, "after", record("after")) {
			t.Error("ScheduleSoft after release: rejected")
		}
		synctest.Wait()
		shutdown(t, e)

		if diff := cmp.Diff([]string{"early", "forced", "after"}, ran); diff != "" {
			t.Errorf("Tasks run (-want, +got):\n%s", diff)
		}
		if got := e.Metrics().Get("tasks_rejected").String(); got != "6" {
			t.Errorf("tasks_rejected: got %s, want 6", got)
		}
	})
}

func TestDrain(t *testing.T) {
	t.Run("Unstarted", func(t *testing.T) {
		e := executor.New(nil)
		for _, label := range []string{"a", "b", "c"} {
			e.ScheduleForced(context.Background(), label, func(context.Context) error {
				t.Errorf("Task %q ran", label)
				return nil
			})
		}
		if diff := cmp.Diff([]string{"a", "b", "c"}, shutdown(t, e)); diff != "" {
			t.Errorf("Drained tasks (-want, +got):\n%s", diff)
		}
	})

	t.Run("Running", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			e := executor.New(nil)
			mustStart(t, e)

			release := make(chan struct{})
			finished := false
			e.ScheduleForced(context.Background(), "current", func(context.Context) error {
				<-release
				finished = true
				return nil
			})
			synctest.Wait()
			for _, label := range []string{"x", "y"} {
				e.ScheduleForced(context.Background(), label, func(context.Context) error {
					t.Errorf("Task %q ran", label)
					return nil
				})
			}

			e.Stop()
			close(release)
			got := e.Join()
			if !finished {
				t.Error("Current task did not finish before exit")
			}
			if diff := cmp.Diff([]string{"x", "y"}, got); diff != "" {
				t.Errorf("Drained tasks (-want, +got):\n%s", diff)
			}
		})
	})

	t.Run("Idle", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			e := executor.New(&executor.Options{PollInterval: time.Minute})
			mustStart(t, e)
			synctest.Wait()

			start := time.Now()
			shutdown(t, e)
			if d := time.Since(start); d != 0 {
				t.Errorf("Idle stop took %v, want immediate", d)
			}
		})
	})
}

func TestReentrant(t *testing.T) {
	defer leaktest.Check(t)()

	e := executor.New(nil)
	mustStart(t, e)
	defer shutdown(t, e)

	var got []string
	var saved context.Context
	err := e.Call(context.Background(), "outer", func(ctx context.Context) error {
		saved = ctx
		got = append(got, "outer-start")
		if !e.ScheduleSoft(ctx, "inner-soft", func(context.Context) error {
			got = append(got, "inner-soft")
			return nil
		}) {
			t.Error("Inner ScheduleSoft rejected")
		}
		e.ScheduleForced(ctx, "inner-forced", func(ictx context.Context) error {
			got = append(got, "inner-forced")
			// Nested reentrant calls also run inline.
			return e.Call(ictx, "innermost", func(context.Context) error {
				got = append(got, "innermost")
				return nil
			})
		})
		got = append(got, "outer-end")
		return nil
	})
	if err != nil {
		t.Fatalf("Call: unexpected error: %v", err)
	}

	want := []string{"outer-start", "inner-soft", "inner-forced", "innermost", "outer-end"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Reentrant order (-want, +got):\n%s", diff)
	}

	// A context from a finished task no longer runs inline.
	done := make(chan struct{})
	e.ScheduleForced(saved, "stale", func(context.Context) error { close(done); return nil })
	<-done
}

func TestDetach(t *testing.T) {
	defer leaktest.Check(t)()

	e := executor.New(nil)
	mustStart(t, e)
	defer shutdown(t, e)

	var active, peak atomic.Int64
	enter := func() func() {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		return func() { active.Add(-1) }
	}

	ran := make(chan struct{})
	err := e.Call(context.Background(), "outer", func(ctx context.Context) error {
		defer enter()()
		if e.InTask(executor.Detach(ctx)) {
			t.Error("Detached context belongs to the task")
		}
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !e.ScheduleSoft(executor.Detach(ctx), "from-goroutine", func(context.Context) error {
				defer enter()()
				close(ran)
				return nil
			}) {
				t.Error("ScheduleSoft rejected")
			}
		}()
		wg.Wait()
		time.Sleep(10 * time.Millisecond) // the task must not start while outer runs
		return nil
	})
	if err != nil {
		t.Fatalf("Call: unexpected error: %v", err)
	}
	<-ran
	if p := peak.Load(); p != 1 {
		t.Errorf("Peak concurrent tasks: got %d, want 1", p)
	}

	// A detached context on an idle executor does not run inline either.
	if e.InTask(executor.Detach(context.Background())) {
		t.Error("Detached context belongs to the idle executor")
	}
}

func TestFailures(t *testing.T) {
	defer leaktest.Check(t)()

	e := executor.New(nil)
	mustStart(t, e)
	defer shutdown(t, e)
	ctx := context.Background()

	e.ScheduleForced(ctx, "error", func(context.Context) error { return errors.New("bad") })
	e.ScheduleForced(ctx, "panic", func(context.Context) error { panic("terrible") })

	errBad := errors.New("also bad")
	if err := e.Call(ctx, "call-error", func(context.Context) error { return errBad }); !errors.Is(err, errBad) {
		t.Errorf("Call: got %v, want %v", err, errBad)
	}
	if err := e.Call(ctx, "call-panic", func(context.Context) error { panic("oops") }); err == nil {
		t.Error("Call with panic: got nil error")
	}
	if got := e.Metrics().Get("tasks_failed").String(); got != "2" {
		t.Errorf("tasks_failed: got %s, want 2", got)
	}

	ran := false
	if err := e.Call(ctx, "ok", func(context.Context) error { ran = true; return nil }); err != nil || !ran {
		t.Errorf("Call after failures: err=%v, ran=%v", err, ran)
	}
}

func TestCall(t *testing.T) {
	t.Run("Stopped", func(t *testing.T) {
		e := executor.New(nil)
		shutdown(t, e)
		if err := e.Call(context.Background(), "x", func(context.Context) error { return nil }); !errors.Is(err, executor.ErrStopped) {
			t.Errorf("Call: got %v, want %v", err, executor.ErrStopped)
		}
	})

	t.Run("Canceled", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			e := executor.New(nil)
			mustStart(t, e)

			release := make(chan struct{})
			e.ScheduleForced(context.Background(), "wedge", func(context.Context) error { <-release; return nil })

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := e.Call(ctx, "x", func(context.Context) error { return nil }); !errors.Is(err, context.DeadlineExceeded) {
				t.Errorf("Call: got %v, want %v", err, context.DeadlineExceeded)
			}
			close(release)
			shutdown(t, e)
		})
	})
}

func TestLatency(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		e := executor.New(nil)
		ctx := context.Background()

		// The first sample seeds the average: no queue delay.
		e.ScheduleForced(ctx, "first", func(context.Context) error {
			time.Sleep(time.Second)
			return nil
		})
		// The second waits a full second behind the first.
		e.ScheduleForced(ctx, "second", func(context.Context) error { return nil })
		mustStart(t, e)
		time.Sleep(2 * time.Second)
		synctest.Wait()

		if got, want := e.AverageLatency(), time.Second/16; got != want {
			t.Errorf("AverageLatency: got %v, want %v", got, want)
		}
		if got := e.Metrics().Get("latency_ema_us").String(); got != "62500" {
			t.Errorf("latency_ema_us: got %s, want 62500", got)
		}
		shutdown(t, e)
	})
}
