package metrics

import "time"

// Sampler is implemented by the store/worker to expose point-in-time
// gauges the Collector polls on a ticker, avoiding a pull-per-request
// cost on the hot path.
type Sampler interface {
	QueueDepth() int
	RecordCount() int
}

// Collector periodically samples a Sampler into the package-level gauges.
type Collector struct {
	sampler  Sampler
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector polling every interval.
func NewCollector(sampler Sampler, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{sampler: sampler, interval: interval, stopCh: make(chan struct{})}
}

// Start begins collecting metrics on a background goroutine.
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
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

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	QueueDepth.Set(float64(c.sampler.QueueDepth()))
	RecordsTotal.Set(float64(c.sampler.RecordCount()))
}
