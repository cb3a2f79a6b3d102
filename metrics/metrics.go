package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/cpu"
)

const timeObserve = 1 * time.Second

type Metrics struct {
	CPU              prometheus.Gauge
	AllocatedMemory  prometheus.Gauge
	RequestsNow      prometheus.Gauge
	Requests         prometheus.Counter
	RequestsNotFound prometheus.Counter
	PathsTracked     prometheus.Gauge
	ResponseBodySize prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CPU: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shts_cpu_usage",
			Help: "CPU usage",
		}),
		AllocatedMemory: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shts_allocated_memory",
		}),
		Requests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shts_requests_were_processed",
			Help: "How many file requests were processed summary",
		}),
		RequestsNotFound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shts_requests_not_found",
			Help: "How many requests asked for a file that doesn't exist",
		}),
		RequestsNow: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shts_requests_are_being_processed",
			Help: "How many requests are being processed",
		}),
		PathsTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shts_paths_tracked",
			Help: "How many distinct paths have been served so far?",
		}),
		ResponseBodySize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shts_response_body_size",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8),
		}),
	}
	reg.MustRegister(
		m.CPU,
		m.AllocatedMemory,
		m.Requests,
		m.RequestsNotFound,
		m.RequestsNow,
		m.PathsTracked,
		m.ResponseBodySize,
	)
	return m
}

var reg *prometheus.Registry
var GlobalMetrics *Metrics

func UpdateCPU() {
	p, err := cpu.Percent(0, false)
	if err == nil {
		GlobalMetrics.CPU.Set(p[0])
	}
}

func UpdateMemory() {
	m := runtime.MemStats{}
	runtime.ReadMemStats(&m)
	GlobalMetrics.AllocatedMemory.Set(float64(m.Alloc))
}

func UpdatePathsTracked(count int) {
	GlobalMetrics.PathsTracked.Set(float64(count))
}

func UpdateResponseBodySize(size float64) {
	GlobalMetrics.ResponseBodySize.Observe(size)
}

func Init() {
	reg = prometheus.NewRegistry()
	GlobalMetrics = NewMetrics(reg)
	go func() {
		t := time.NewTicker(timeObserve)
		for {
			<-t.C
			// cpu
			UpdateCPU()

			// memory
			UpdateMemory()
		}
	}()
}

func Handler() http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
