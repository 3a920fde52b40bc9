// Package metrics exposes engine activity to Prometheus. Metrics is also
// an engine.Sink, so it counts from the same event stream every other
// consumer sees.
package metrics

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"tickmatch/domain/orderbook"
	"tickmatch/engine"
)

type Metrics struct {
	reg prometheus.Registerer

	Instructions *prometheus.CounterVec
	Fills        prometheus.Counter
	Volume       prometheus.Counter
	Overflows    prometheus.Counter
	Backpressure prometheus.Counter
	Broadcast    *prometheus.CounterVec
	QuotesSent   prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		Instructions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tickmatch",
			Name:      "instructions_total",
			Help:      "Instructions applied, by kind, outcome and reject reason.",
		}, []string{"kind", "status", "reason"}),
		Fills: f.NewCounter(prometheus.CounterOpts{
			Namespace: "tickmatch",
			Name:      "fills_total",
			Help:      "Executions produced.",
		}),
		Volume: f.NewCounter(prometheus.CounterOpts{
			Namespace: "tickmatch",
			Name:      "traded_lots_total",
			Help:      "Quantity traded, in lots.",
		}),
		Overflows: f.NewCounter(prometheus.CounterOpts{
			Namespace: "tickmatch",
			Name:      "fill_buffer_overflows_total",
			Help:      "Instructions cut short because the fill buffer was full.",
		}),
		Backpressure: f.NewCounter(prometheus.CounterOpts{
			Namespace: "tickmatch",
			Name:      "backpressure_total",
			Help:      "Submissions refused because a shard queue stayed full.",
		}),
		Broadcast: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tickmatch",
			Name:      "broadcast_total",
			Help:      "Outbox publish attempts, by result.",
		}, []string{"result"}),
		QuotesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: "tickmatch",
			Name:      "quotes_published_total",
			Help:      "Top-of-book changes published.",
		}),
	}
}

// WatchShard registers queue depth and halt gauges for one shard.
func (m *Metrics) WatchShard(s *engine.Shard) {
	labels := prometheus.Labels{"shard": strconv.Itoa(s.ID())}
	f := promauto.With(m.reg)
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   "tickmatch",
		Name:        "ingress_depth",
		Help:        "Instructions waiting in the shard queue.",
		ConstLabels: labels,
	}, func() float64 { return float64(s.Ingress().Len()) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   "tickmatch",
		Name:        "output_depth",
		Help:        "Events waiting for the publisher.",
		ConstLabels: labels,
	}, func() float64 { return float64(s.Output().Len()) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   "tickmatch",
		Name:        "shard_halted",
		Help:        "1 when the shard stopped on a fatal error.",
		ConstLabels: labels,
	}, func() float64 {
		if s.Halted() {
			return 1
		}
		return 0
	})
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   "tickmatch",
		Name:        "last_seq",
		Help:        "Sequence of the last applied instruction.",
		ConstLabels: labels,
	}, func() float64 { return float64(s.LastSeq()) })
}

func (m *Metrics) Publish(_ context.Context, batch []engine.Event) error {
	for i := range batch {
		ev := &batch[i]
		switch ev.Kind {
		case engine.EventFill:
			m.Fills.Inc()
			m.Volume.Add(float64(ev.Fill.Qty))
		case engine.EventReport:
			r := ev.Report
			reason := ""
			if r.Status == orderbook.StatusRejected {
				reason = r.Reason.String()
			}
			m.Instructions.WithLabelValues(r.Instruction.String(), r.Status.String(), reason).Inc()
			if r.FillOverflow {
				m.Overflows.Inc()
			}
		}
	}
	return nil
}
