package floppy

import (
	"github.com/prometheus/client_golang/prometheus"
)

var stateKinds = []StateKind{Idle, Seeking, Transferring, Resetting, Faulted}

// Collector exports a driver's statistics and state.
type Collector struct {
	d *Driver

	reads        *prometheus.Desc
	writes       *prometheus.Desc
	resets       *prometheus.Desc
	errors       *prometheus.Desc
	retries      *prometheus.Desc
	bytesRead    *prometheus.Desc
	bytesWritten *prometheus.Desc
	state        *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

func NewCollector(d *Driver) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("floppy", "", name), help, labels, nil)
	}
	return &Collector{
		d:            d,
		reads:        desc("reads_total", "Sectors read."),
		writes:       desc("writes_total", "Sectors written."),
		resets:       desc("resets_total", "Controller resets."),
		errors:       desc("errors_total", "Operations that failed."),
		retries:      desc("retries_total", "Seek and transfer retries."),
		bytesRead:    desc("read_bytes_total", "Bytes read."),
		bytesWritten: desc("written_bytes_total", "Bytes written."),
		state:        desc("driver_state", "Current driver state.", "state"),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.reads
	ch <- c.writes
	ch <- c.resets
	ch <- c.errors
	ch <- c.retries
	ch <- c.bytesRead
	ch <- c.bytesWritten
	ch <- c.state
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.d.Stats()
	counter := func(desc *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v))
	}
	counter(c.reads, s.Reads)
	counter(c.writes, s.Writes)
	counter(c.resets, s.Resets)
	counter(c.errors, s.Errors)
	counter(c.retries, s.Retries)
	counter(c.bytesRead, s.BytesRead)
	counter(c.bytesWritten, s.BytesWritten)
	cur := c.d.State().Kind
	for _, k := range stateKinds {
		var v float64
		if k == cur {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, v, k.String())
	}
}
