// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package rxctl

import "expvar"

// proxyMetrics record receiver and VFO activity counters.
type proxyMetrics struct {
	applied      expvar.Int
	ignored      expvar.Int // stale, duplicate, or for unknown targets
	observers    expvar.Int
	resubscribes expvar.Int
	commands     expvar.Int // sent to the server
	commandErr   expvar.Int

	emap *expvar.Map
}

func newProxyMetrics(m *expvar.Map) *proxyMetrics {
	pm := &proxyMetrics{emap: m}
	for name, v := range map[string]*expvar.Int{
		"events_applied":  &pm.applied,
		"events_ignored":  &pm.ignored,
		"observers":       &pm.observers,
		"resubscribes":    &pm.resubscribes,
		"commands":        &pm.commands,
		"commands_failed": &pm.commandErr,
	} {
		m.Set(name, v)
	}
	return pm
}
