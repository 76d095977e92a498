// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package executor

import "expvar"

// execMetrics record executor activity counters.
type execMetrics struct {
	queued   expvar.Int
	run      expvar.Int
	failed   expvar.Int // errors and panics
	rejected expvar.Int // soft scheduling refused
	dropped  expvar.Int // forced after stop, or drained at shutdown
	depth    expvar.Int
	latency  expvar.Int // microseconds

	emap *expvar.Map
}

func newExecMetrics(m *expvar.Map) *execMetrics {
	em := &execMetrics{emap: m}
	for name, v := range map[string]*expvar.Int{
		"tasks_queued":   &em.queued,
		"tasks_run":      &em.run,
		"tasks_failed":   &em.failed,
		"tasks_rejected": &em.rejected,
		"tasks_dropped":  &em.dropped,
		"tasks_pending":  &em.depth,
		"latency_ema_us": &em.latency,
	} {
		m.Set(name, v)
	}
	return em
}
