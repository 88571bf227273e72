/*
Package metrics provides Prometheus metrics collection and exposition for
copycat: election counters, commit/applied-index gauges, segment and
compaction gauges/histograms, and per-peer replication latency and
backoff counters.

# Usage

	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", metrics.HealthHandler())
	mux.HandleFunc("/readyz", metrics.ReadyHandler())

Sampling a Raft context's gauges on an interval:

	collector := metrics.NewCollector(raftCtx, 15*time.Second)
	collector.Start()
	defer collector.Stop()

Timing an operation:

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.AppendLatency, peerAddr)
*/
package metrics
