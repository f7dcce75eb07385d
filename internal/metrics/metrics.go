// Package metrics collects Prometheus metrics for the FitSync server and serves the ops endpoints.
package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector records service and RPC events.
type Collector struct {
	signIns   *prometheus.CounterVec
	docWrites *prometheus.CounterVec
	rpcs      *prometheus.CounterVec
	rpcDur    *prometheus.HistogramVec
}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		signIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fitsync",
			Name:      "sign_ins_total",
			Help:      "Sign-in attempts by result.",
		}, []string{"result"}),
		docWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fitsync",
			Name:      "document_writes_total",
			Help:      "Document writes by document kind and write mode.",
		}, []string{"kind", "merge"}),
		rpcs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fitsync",
			Subsystem: "grpc",
			Name:      "requests_total",
			Help:      "gRPC calls by method and status code.",
		}, []string{"method", "code"}),
		rpcDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fitsync",
			Subsystem: "grpc",
			Name:      "request_duration_seconds",
			Help:      "gRPC call latency by method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
	reg.MustRegister(c.signIns, c.docWrites, c.rpcs, c.rpcDur)
	return c
}

// SignIn counts one sign-in attempt.
func (c *Collector) SignIn(result string) {
	c.signIns.WithLabelValues(result).Inc()
}

// DocumentWrite counts one accepted document write.
func (c *Collector) DocumentWrite(kind string, merge bool) {
	c.docWrites.WithLabelValues(kind, strconv.FormatBool(merge)).Inc()
}

// ObserveRPC records one finished call. method is the full gRPC method name.
func (c *Collector) ObserveRPC(method, code string, dur time.Duration) {
	if i := strings.LastIndexByte(method, '/'); i >= 0 {
		method = method[i+1:]
	}
	c.rpcs.WithLabelValues(method, code).Inc()
	c.rpcDur.WithLabelValues(method).Observe(dur.Seconds())
}
