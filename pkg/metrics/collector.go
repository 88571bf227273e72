package metrics

import "time"

// StatsSource is implemented by a Raft context (or a test double) to expose
// the periodic gauges a Collector samples. It is intentionally narrow so
// pkg/metrics never needs to import pkg/raft.
type StatsSource interface {
	CurrentTerm() uint64
	CommitIndex() uint64
	LastApplied() uint64
	SegmentCount() int
	CurrentRole() string
}

// Collector periodically samples a StatsSource into the package-level
// gauges registered in metrics.go.
type Collector struct {
	source StatsSource
	period time.Duration
	stopCh chan struct{}
}

// NewCollector creates a Collector sampling source every period.
func NewCollector(source StatsSource, period time.Duration) *Collector {
	if period <= 0 {
		period = 15 * time.Second
	}
	return &Collector{source: source, period: period, stopCh: make(chan struct{})}
}

// Start begins sampling in a background goroutine.
func (c *Collector) Start() {
	ticker := time.NewTicker(c.period)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts sampling.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	term := c.source.CurrentTerm()
	commit := c.source.CommitIndex()
	role := c.source.CurrentRole()

	CurrentTerm.Set(float64(term))
	CommitIndex.Set(float64(commit))
	LastAppliedIndex.Set(float64(c.source.LastApplied()))
	SegmentCount.Set(float64(c.source.SegmentCount()))

	UpdateRaftComponent("raft", role != "start", "", RaftStateSnapshot{
		Role: role, Term: term, CommitIndex: commit,
	})
}
