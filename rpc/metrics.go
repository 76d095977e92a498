// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package rpc

import "expvar"

// peerMetrics record peer activity counters.
type peerMetrics struct {
	packetRecv    expvar.Int
	packetSent    expvar.Int
	packetDropped expvar.Int // unknown packet types
	callIn        expvar.Int
	callInErr     expvar.Int // inbound calls rejected before dispatch
	callOut       expvar.Int
	callOutErr    expvar.Int
	cancelIn      expvar.Int
	callActive    expvar.Int // inbound
	callPending   expvar.Int // outbound

	emap *expvar.Map
}

// rootMetrics is shared by all peers that do not have their own.
var rootMetrics = newPeerMetrics()

func newPeerMetrics() *peerMetrics {
	pm := &peerMetrics{emap: new(expvar.Map)}
	for name, v := range map[string]*expvar.Int{
		"packets_received": &pm.packetRecv,
		"packets_sent":     &pm.packetSent,
		"packets_dropped":  &pm.packetDropped,
		"calls_in":         &pm.callIn,
		"calls_in_failed":  &pm.callInErr,
		"calls_active":     &pm.callActive,
		"calls_out":        &pm.callOut,
		"calls_out_failed": &pm.callOutErr,
		"cancels_in":       &pm.cancelIn,
		"calls_pending":    &pm.callPending,
	} {
		pm.emap.Set(name, v)
	}
	return pm
}
