// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package rxctl

import (
	"context"
	"errors"
	"expvar"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/creachadair/mds/mapset"
	"github.com/creachadair/rxctl/event"
	"github.com/creachadair/rxctl/executor"
	"github.com/creachadair/rxctl/proto"
	"github.com/creachadair/taskgroup"
)

// Options are settings for a Receiver. A nil *Options is ready for use and
// provides default values.
type Options struct {
	// StallCeiling and PollInterval configure the executor; see
	// executor.Options.
	StallCeiling time.Duration
	PollInterval time.Duration

	// After the event stream is lost, the receiver waits ResubscribeMin
	// before resubscribing, doubling the wait after each failure up to
	// ResubscribeMax. The defaults are 250ms and 30s.
	ResubscribeMin time.Duration
	ResubscribeMax time.Duration

	// Logger receives diagnostic messages. If nil, slog.Default is used.
	Logger *slog.Logger

	// Metrics, if non-nil, is populated with receiver counters, and with the
	// executor counters under "executor". Otherwise the receiver has its own
	// map.
	Metrics *expvar.Map
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

func (o *Options) backoff() (lo, hi time.Duration) {
	lo, hi = 250*time.Millisecond, 30*time.Second
	if o != nil && o.ResubscribeMin > 0 {
		lo = o.ResubscribeMin
	}
	if o != nil && o.ResubscribeMax > 0 {
		hi = o.ResubscribeMax
	}
	return lo, max(lo, hi)
}

func (o *Options) executor(log *slog.Logger) *executor.Options {
	eo := &executor.Options{Logger: log}
	if o != nil {
		eo.StallCeiling = o.StallCeiling
		eo.PollInterval = o.PollInterval
	}
	return eo
}

// phase is the state of a receiver's event subscription.
type phase byte

const (
	unsubscribed phase = iota // no server stream
	subscribing               // stream requested, no event yet
	synchronized              // at least one event received
)

// A Receiver mirrors the state of a remote receiver and issues commands to
// it. Its exported methods are safe for concurrent use, but the getters are
// coherent only when called from a task on its executor.
type Receiver struct {
	tr    Transport
	exec  *executor.Executor
	log   *slog.Logger
	stats *proxyMetrics
	ctx   context.Context // ends when the receiver closes
	stop  context.CancelFunc
	rpcs  *taskgroup.Group // calls in flight and resubscribe timers

	minRetry, maxRetry time.Duration
	synced             atomic.Bool // phase == synchronized

	// Fields below are confined to exec.

	state   ReceiverState
	phase   phase
	gen     uint64 // current subscription; events from others are stale
	unsub   func() // cancels the current subscription, or nil
	obs     observers
	vfos    map[event.Handle]*VFO
	pending map[event.Handle]*VFO // reported by AddVFO, awaiting VFOAdded

	// Handles whose VFORemoved has been applied. A completed AddVFO for one
	// of these does not register it again; a later VFOAdded clears it.
	removed mapset.Set[event.Handle]

	// Handles reported by the server snapshot in progress, or nil.
	seen mapset.Set[event.Handle]

	// Pending handles when the snapshot in progress began. Those the snapshot
	// does not report were removed while the stream was down.
	parked mapset.Set[event.Handle]

	resync bool          // the next server snapshot follows a lost stream
	retry  time.Duration // last resubscribe delay, 0 when synchronized
	closed bool
}

// New constructs a Receiver that communicates through tr, and starts its
// executor. The receiver subscribes to server events when the first observer
// subscribes. Call Close to release its resources.
func New(tr Transport, opts *Options) *Receiver {
	log := opts.logger()
	m := opts.metrics()
	exec := executor.New(opts.executor(log))
	m.Set("executor", exec.Metrics())

	ctx, stop := context.WithCancel(context.Background())
	r := &Receiver{
		tr:      tr,
		exec:    exec,
		log:     log,
		stats:   newProxyMetrics(m),
		ctx:     ctx,
		stop:    stop,
		rpcs:    taskgroup.New(nil),
		vfos:    make(map[event.Handle]*VFO),
		pending: make(map[event.Handle]*VFO),
		removed: mapset.New[event.Handle](),
	}
	r.minRetry, r.maxRetry = opts.backoff()
	r.obs = observers{log: log, stats: r.stats}
	exec.Start()
	return r
}

// Executor returns the executor that owns the state of r.
func (r *Receiver) Executor() *executor.Executor { return r.exec }

// Metrics returns the metrics map for r.
func (r *Receiver) Metrics() *expvar.Map { return r.stats.emap }

// Call runs fn on the executor of r and waits for it to finish. Getters
// called from fn observe a coherent state.
func (r *Receiver) Call(ctx context.Context, fn func(context.Context) error) error {
	return r.exec.Call(ctx, "call", fn)
}

// Close ends the event subscription, detaches all observers, waits for
// commands in flight to complete, and stops the executor. Commands issued
// after Close report ErrStopped. Close must not be called from a task on the
// receiver's executor.
func (r *Receiver) Close(ctx context.Context) error {
	if r.exec.InTask(ctx) {
		return errors.New("receiver closed from its own executor")
	}
	err := r.exec.Call(ctx, "close", func(context.Context) error {
		if r.closed {
			return nil
		}
		r.closed = true
		r.setPhase(unsubscribed)
		if r.unsub != nil {
			r.unsub()
			r.unsub = nil
		}
		r.obs.clear()
		for _, v := range r.vfos {
			v.obs.clear()
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrStopped) {
		return err
	}
	r.stop()

	// Let the completions of calls in flight run before the executor stops.
	waited := make(chan struct{})
	go func() { defer close(waited); r.rpcs.Wait() }()
	select {
	case <-waited:
	case <-ctx.Done():
		err = ctx.Err()
	}

	r.exec.Stop()
	if left := r.exec.Join(); len(left) != 0 {
		r.log.Debug("receiver closed with tasks pending", "tasks", left)
	}
	if errors.Is(err, ErrStopped) {
		return nil // already closed
	}
	return err
}

// Synchronized reports whether r has received an event from its current
// server subscription. Unlike the getters, it may be called from any
// goroutine.
func (r *Receiver) Synchronized() bool { return r.synced.Load() }

func (r *Receiver) setPhase(p phase) {
	r.phase = p
	r.synced.Store(p == synchronized)
}

// Subscribe registers h to receive the events of r. The handler immediately
// receives the current state as a SyncStart…SyncEnd bracket, including one
// VFOAdded per live VFO, and then each receiver event as it is applied,
// together with VFOAdded and VFORemoved. The connection for h is passed to
// done. If the stream from the server is lost, h receives a final
// Unsubscribed event and is detached.
func (r *Receiver) Subscribe(ctx context.Context, h Handler, done func(context.Context, *Connection, error)) error {
	return r.exec.TrySchedule(ctx, "subscribe", func(ctx context.Context) error {
		if r.closed {
			callDone(ctx, done, nil, ErrStopped)
			return nil
		}
		if err := r.ensureSubscribed(); err != nil {
			callDone(ctx, done, nil, err)
			return nil
		}
		id := r.obs.add(h)
		for _, e := range r.state.Events(time.Now()) {
			r.obs.call(ctx, observer{id: id, h: h}, e)
		}
		callDone(ctx, done, &Connection{id: id, obs: &r.obs, exec: r.exec}, nil)
		return nil
	})
}

// ensureSubscribed subscribes to the server stream unless a subscription
// is already active.
func (r *Receiver) ensureSubscribed() error {
	if r.phase != unsubscribed {
		return nil
	}
	return r.subscribe()
}

func (r *Receiver) subscribe() error {
	r.gen++
	gen := r.gen
	cancel, err := r.tr.Subscribe(r.ctx, func(e event.Event) { r.deliver(gen, e) })
	if err != nil {
		return transportError(err)
	}
	r.unsub = cancel
	r.setPhase(subscribing)
	return nil
}

// nextRetry returns the delay before the next resubscription attempt.
func (r *Receiver) nextRetry() time.Duration {
	if r.retry == 0 {
		r.retry = r.minRetry
	} else {
		r.retry = min(2*r.retry, r.maxRetry)
	}
	return r.retry
}

// scheduleResubscribe arranges to resubscribe to the server after d.
func (r *Receiver) scheduleResubscribe(d time.Duration) {
	r.rpcs.Go(func() error {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-r.ctx.Done():
			return nil
		case <-t.C:
		}
		r.exec.ScheduleForced(r.ctx, "resubscribe", func(context.Context) error {
			if r.closed || r.phase != unsubscribed {
				return nil // closed, or an observer already resubscribed
			}
			r.stats.resubscribes.Add(1)
			if err := r.subscribe(); err != nil {
				next := r.nextRetry()
				r.log.Warn("resubscribe failed", "err", err, "retry", next)
				r.scheduleResubscribe(next)
			}
			return nil
		})
		return nil
	})
}

// command schedules a call of method with arg. If check is non-nil it runs
// first on the executor, and an error from it completes the command without
// contacting the server. The reply is decoded as an R and passed to done on
// the executor. The result reports only whether the command was scheduled.
func command[R any](ctx context.Context, r *Receiver, method string, arg any, check func() error, done func(context.Context, R, error)) error {
	return r.exec.TrySchedule(ctx, method, func(ctx context.Context) error {
		var zero R
		if r.closed {
			callDone(ctx, done, zero, ErrStopped)
			return nil
		}
		if check != nil {
			if err := check(); err != nil {
				callDone(ctx, done, zero, err)
				return nil
			}
		}
		r.stats.commands.Add(1)
		r.rpcs.Go(func() error {
			// In-flight calls are bounded by the transport, not by Close.
			res, err := proto.Invoke[R](context.Background(), r.tr, method, arg)
			if err != nil {
				r.stats.commandErr.Add(1)
				err = transportError(err)
			}
			r.exec.ScheduleForced(r.ctx, method+" done", func(ctx context.Context) error {
				callDone(ctx, done, res, err)
				return nil
			})
			return nil
		})
		return nil
	})
}

// reject completes a command with err on the executor, without contacting
// the server.
func reject(ctx context.Context, r *Receiver, label string, err error, done func(context.Context, error)) error {
	return command(ctx, r, label, nil, func() error { return err }, unit(done))
}

func callDone[R any](ctx context.Context, done func(context.Context, R, error), v R, err error) {
	if done != nil {
		done(ctx, v, err)
	}
}

// scalar adapts a callback for a plain value to one for its wire encoding.
func scalar[T proto.Scalar](done func(context.Context, T, error)) func(context.Context, proto.Arg[T], error) {
	if done == nil {
		return nil
	}
	return func(ctx context.Context, a proto.Arg[T], err error) { done(ctx, a.V, err) }
}

// unit adapts a callback for an operation with no result.
func unit(done func(context.Context, error)) func(context.Context, struct{}, error) {
	if done == nil {
		return nil
	}
	return func(ctx context.Context, _ struct{}, err error) { done(ctx, err) }
}

// u32 adapts a callback for an unsigned value carried as an int64.
func u32(done func(context.Context, uint32, error)) func(context.Context, proto.Arg[int64], error) {
	if done == nil {
		return nil
	}
	return func(ctx context.Context, a proto.Arg[int64], err error) { done(ctx, uint32(a.V), err) }
}

// fill adapts a callback for a buffer-filling call. The reply is copied
// into buf, and done receives the number of elements copied.
func fill[T any, S ~[]T](buf []T, done func(context.Context, int, error)) func(context.Context, S, error) {
	return func(ctx context.Context, data S, err error) {
		n := 0
		if err == nil {
			n = copy(buf, data)
		}
		if done != nil {
			done(ctx, n, err)
		}
	}
}

// Start starts the receiver running.
func (r *Receiver) Start(ctx context.Context, done func(context.Context, error)) error {
	return command(ctx, r, proto.Start, nil, nil, unit(done))
}

// Stop stops the receiver.
func (r *Receiver) Stop(ctx context.Context, done func(context.Context, error)) error {
	return command(ctx, r, proto.Stop, nil, nil, unit(done))
}

// SetInputDevice selects the input device.
func (r *Receiver) SetInputDevice(ctx context.Context, dev string, done func(context.Context, string, error)) error {
	return command(ctx, r, proto.SetInputDevice, proto.Arg[string]{V: dev}, nil, scalar(done))
}

// SetAntenna selects one of the antennas of the input device.
func (r *Receiver) SetAntenna(ctx context.Context, name string, done func(context.Context, string, error)) error {
	return command(ctx, r, proto.SetAntenna, proto.Arg[string]{V: name}, nil, scalar(done))
}

// SetInputRate sets the input sample rate.
func (r *Receiver) SetInputRate(ctx context.Context, rate float64, done func(context.Context, float64, error)) error {
	return command(ctx, r, proto.SetInputRate, proto.Arg[float64]{V: rate}, nil, scalar(done))
}

// SetInputDecim sets the input decimation factor.
func (r *Receiver) SetInputDecim(ctx context.Context, decim uint32, done func(context.Context, uint32, error)) error {
	return command(ctx, r, proto.SetInputDecim, proto.Arg[int64]{V: int64(decim)}, nil, u32(done))
}

// SetIQSwap enables or disables swapping of the I and Q inputs.
func (r *Receiver) SetIQSwap(ctx context.Context, on bool, done func(context.Context, bool, error)) error {
	return command(ctx, r, proto.SetIQSwap, proto.Arg[bool]{V: on}, nil, scalar(done))
}

// SetDCCancel enables or disables DC offset removal.
func (r *Receiver) SetDCCancel(ctx context.Context, on bool, done func(context.Context, bool, error)) error {
	return command(ctx, r, proto.SetDCCancel, proto.Arg[bool]{V: on}, nil, scalar(done))
}

// SetIQBalance enables or disables IQ imbalance correction.
func (r *Receiver) SetIQBalance(ctx context.Context, on bool, done func(context.Context, bool, error)) error {
	return command(ctx, r, proto.SetIQBalance, proto.Arg[bool]{V: on}, nil, scalar(done))
}

// SetRFFreq tunes the receiver to hz. The callback receives the frequency
// the server applied.
func (r *Receiver) SetRFFreq(ctx context.Context, hz int64, done func(context.Context, int64, error)) error {
	return command(ctx, r, proto.SetRFFreq, proto.Arg[int64]{V: hz}, nil, scalar(done))
}

// SetAutoGain enables or disables automatic gain control of the input.
func (r *Receiver) SetAutoGain(ctx context.Context, on bool, done func(context.Context, bool, error)) error {
	return command(ctx, r, proto.SetAutoGain, proto.Arg[bool]{V: on}, nil, scalar(done))
}

// SetGain sets the gain of the named stage, in dB.
func (r *Receiver) SetGain(ctx context.Context, name string, db float64, done func(context.Context, float64, error)) error {
	var cb func(context.Context, proto.Gain, error)
	if done != nil {
		cb = func(ctx context.Context, g proto.Gain, err error) { done(ctx, g.Value, err) }
	}
	return command(ctx, r, proto.SetGain, proto.Gain{Name: name, Value: db}, nil, cb)
}

// SetFreqCorr sets the frequency correction, in ppm.
func (r *Receiver) SetFreqCorr(ctx context.Context, ppm float64, done func(context.Context, float64, error)) error {
	return command(ctx, r, proto.SetFreqCorr, proto.Arg[float64]{V: ppm}, nil, scalar(done))
}

// SetFFTSize sets the number of FFT bins.
func (r *Receiver) SetFFTSize(ctx context.Context, size uint32, done func(context.Context, uint32, error)) error {
	return command(ctx, r, proto.SetFFTSize, proto.Arg[int64]{V: int64(size)}, nil, u32(done))
}

// SetFFTWindow selects the FFT window function.
func (r *Receiver) SetFFTWindow(ctx context.Context, window uint32, done func(context.Context, uint32, error)) error {
	return command(ctx, r, proto.SetFFTWindow, proto.Arg[int64]{V: int64(window)}, nil, u32(done))
}

// GetFFTData fills buf with the latest FFT power values, in dBFS. The
// callback receives the number of values written. The caller must not use
// buf until the callback runs.
func (r *Receiver) GetFFTData(ctx context.Context, buf []float64, done func(context.Context, int, error)) error {
	return command(ctx, r, proto.GetFFTData, proto.Arg[int64]{V: int64(len(buf))}, nil, fill[float64, proto.Floats](buf, done))
}

// StartIQRecording is not supported by this client, and reports
// ErrUnimplemented.
func (r *Receiver) StartIQRecording(ctx context.Context, path string, done func(context.Context, error)) error {
	return reject(ctx, r, "start_iq_recording", ErrUnimplemented, done)
}

// StopIQRecording is not supported by this client, and reports
// ErrUnimplemented.
func (r *Receiver) StopIQRecording(ctx context.Context, done func(context.Context, error)) error {
	return reject(ctx, r, "stop_iq_recording", ErrUnimplemented, done)
}

// AddVFO asks the server to create a new channel. If r is synchronized, the
// callback receives the VFO that will be registered once the server reports
// it; otherwise it receives a VFO that will not be registered. Either way,
// the VFO does not appear in VFOs until the server reports it with VFOAdded.
// If the channel was removed before the reply arrived, the callback reports
// ErrVFONotFound.
func (r *Receiver) AddVFO(ctx context.Context, done func(context.Context, *VFO, error)) error {
	return command(ctx, r, proto.AddVFO, nil, nil, func(ctx context.Context, c proto.Channel, err error) {
		var v *VFO
		if err == nil {
			v, err = r.adopt(c.VFO)
		}
		callDone(ctx, done, v, err)
	})
}

// adopt returns the VFO for a handle reported by AddVFO.
func (r *Receiver) adopt(h event.Handle) (*VFO, error) {
	if r.removed.Has(h) {
		return nil, ErrVFONotFound
	}
	if v, ok := r.vfos[h]; ok {
		return v, nil
	} else if v, ok := r.pending[h]; ok {
		return v, nil
	}
	v := newVFO(r, h)
	if r.phase == synchronized {
		r.pending[h] = v
	}
	return v, nil
}

// RemoveVFO asks the server to remove the channel with handle h. The VFO
// remains registered until the server reports its removal.
func (r *Receiver) RemoveVFO(ctx context.Context, h event.Handle, done func(context.Context, error)) error {
	return command(ctx, r, proto.RemoveVFO, proto.Channel{VFO: h}, nil, unit(done))
}

// RemoveChannel is as RemoveVFO, for the channel of v.
func (r *Receiver) RemoveChannel(ctx context.Context, v *VFO, done func(context.Context, error)) error {
	return r.RemoveVFO(ctx, v.Handle(), done)
}

// State returns a copy of the mirrored receiver state.
func (r *Receiver) State() ReceiverState { return r.state.Clone() }

// VFOs returns the live VFOs, in creation order.
func (r *Receiver) VFOs() []*VFO {
	out := make([]*VFO, len(r.state.VFOs))
	for i, h := range r.state.VFOs {
		out[i] = r.vfos[h]
	}
	return out
}

// VFO returns the live VFO with handle h, if any.
func (r *Receiver) VFO(h event.Handle) (*VFO, bool) {
	v, ok := r.vfos[h]
	return v, ok
}

// Running reports whether the receiver is running.
func (r *Receiver) Running() bool { return r.state.Running }

// InputDevice reports the selected input device.
func (r *Receiver) InputDevice() string { return r.state.InputDevice }

// Antenna reports the selected antenna.
func (r *Receiver) Antenna() string { return r.state.Antenna }

// Antennas reports the antennas of the input device.
func (r *Receiver) Antennas() []string { return slices.Clone(r.state.Antennas) }

// InputRate reports the input sample rate.
func (r *Receiver) InputRate() float64 { return r.state.InputRate }

// InputDecim reports the input decimation factor.
func (r *Receiver) InputDecim() uint32 { return r.state.InputDecim }

func (r *Receiver) IQSwap() bool    { return r.state.IQSwap }
func (r *Receiver) DCCancel() bool  { return r.state.DCCancel }
func (r *Receiver) IQBalance() bool { return r.state.IQBalance }

// RFFreq reports the frequency the receiver is tuned to, in Hz.
func (r *Receiver) RFFreq() int64 { return r.state.RFFreq }

// GainStages reports the gain stages of the input device, in server order.
func (r *Receiver) GainStages() []event.GainStage { return slices.Clone(r.state.GainStages) }

func (r *Receiver) AutoGain() bool { return r.state.AutoGain }

// FreqCorr reports the frequency correction, in ppm.
func (r *Receiver) FreqCorr() float64 { return r.state.FreqCorr }

func (r *Receiver) FFTSize() uint32   { return r.state.FFTSize }
func (r *Receiver) FFTWindow() uint32 { return r.state.FFTWindow }

// IQRecording reports whether IQ recording is active, and to which file.
func (r *Receiver) IQRecording() (bool, string) { return r.state.IQRecording, r.state.IQRecordingPath }
