// Package metrics exports decoder statistics to Prometheus.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lanikai/alohadec/internal/decoder"
)

// Decoder is the part of *decoder.Decoder read by the collector.
type Decoder interface {
	Device() string
	Stats() decoder.StatsSnapshot
	Latency() time.Duration
	Active() bool
}

var (
	labels = []string{"device"}

	submittedDesc = prometheus.NewDesc("alohadec_frames_submitted_total", "Compressed frames submitted for decoding", labels, nil)
	decodedDesc   = prometheus.NewDesc("alohadec_frames_decoded_total", "Decoded frames delivered downstream", labels, nil)
	droppedDesc   = prometheus.NewDesc("alohadec_frames_dropped_total", "Frames dropped before decoding", labels, nil)
	spuriousDesc  = prometheus.NewDesc("alohadec_spurious_buffers_total", "Decoded buffers without a pending frame", labels, nil)
	flushesDesc   = prometheus.NewDesc("alohadec_flushes_total", "Decoder flushes", labels, nil)
	pendingDesc   = prometheus.NewDesc("alohadec_frames_pending", "Frames submitted and not yet decoded", labels, nil)
	latencyDesc   = prometheus.NewDesc("alohadec_latency_seconds", "Latency announced downstream", labels, nil)
	activeDesc    = prometheus.NewDesc("alohadec_active", "Whether the decoder accepts frames", labels, nil)
)

// Collector reports the statistics of a set of decoders.
type Collector struct {
	mu       sync.Mutex
	decoders []Decoder
}

func (c *Collector) Add(d Decoder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decoders = append(c.decoders, d)
}

func (c *Collector) Remove(d Decoder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, x := range c.decoders {
		if x == d {
			c.decoders = append(c.decoders[:i], c.decoders[i+1:]...)
			return
		}
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- submittedDesc
	ch <- decodedDesc
	ch <- droppedDesc
	ch <- spuriousDesc
	ch <- flushesDesc
	ch <- pendingDesc
	ch <- latencyDesc
	ch <- activeDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	decoders := append([]Decoder(nil), c.decoders...)
	c.mu.Unlock()

	for _, d := range decoders {
		dev := d.Device()
		s := d.Stats()

		counter := func(desc *prometheus.Desc, v uint64) {
			ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v), dev)
		}
		gauge := func(desc *prometheus.Desc, v float64) {
			ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, v, dev)
		}

		counter(submittedDesc, s.Submitted)
		counter(decodedDesc, s.Decoded)
		counter(droppedDesc, s.Dropped)
		counter(spuriousDesc, s.Spurious)
		counter(flushesDesc, s.Flushes)
		gauge(pendingDesc, float64(s.Pending))
		gauge(latencyDesc, d.Latency().Seconds())

		active := 0.0
		if d.Active() {
			active = 1
		}
		gauge(activeDesc, active)
	}
}

// Registry is a private Prometheus registry with the decoder collector and
// the Go runtime collectors.
type Registry struct {
	*Collector
	registry *prometheus.Registry
}

func NewRegistry() *Registry {
	r := &Registry{
		Collector: &Collector{},
		registry:  prometheus.NewRegistry(),
	}
	r.registry.MustRegister(r.Collector)
	r.registry.MustRegister(collectors.NewGoCollector())
	return r
}

// Gatherer exposes the registry, e.g. for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Register serves the metrics on /metrics.
func (r *Registry) Register(router *http.ServeMux) {
	router.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))
}
