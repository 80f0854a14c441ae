// Package metrics holds the prometheus collectors shared by the write queue
// and the transfer coordinator. A nil *Metrics records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	QueueDepth   prometheus.Gauge
	QueuedWrites *prometheus.CounterVec
	Transfers    *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "docstore",
			Name:      "write_queue_depth",
			Help:      "Writes waiting in the write queue.",
		}),
		QueuedWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docstore",
			Name:      "queued_writes_total",
			Help:      "Writes executed by the write queue, by result.",
		}, []string{"result"}),
		Transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docstore",
			Name:      "transfers_total",
			Help:      "Transfer invocations, by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.QueueDepth, m.QueuedWrites, m.Transfers)
	}
	return m
}

func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(depth))
}

func (m *Metrics) WriteDone(result string) {
	if m == nil {
		return
	}
	m.QueuedWrites.WithLabelValues(result).Inc()
}

func (m *Metrics) TransferDone(outcome string) {
	if m == nil {
		return
	}
	m.Transfers.WithLabelValues(outcome).Inc()
}
