// Package metrics exposes auction activity as Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/drawkeeper/internal/auction"
)

const namespace = "drawkeeper"

// Collector records auction outcomes. It implements auction.Observer.
type Collector struct {
	// Registry holds the collectors; serve it with Handler.
	Registry *prometheus.Registry

	triggers        *prometheus.CounterVec
	completions     *prometheus.CounterVec
	transfers       *prometheus.CounterVec
	rewardsPaid     *prometheus.CounterVec
	leftover        prometheus.Gauge
	lastDraw        prometheus.Gauge
	triggerFraction prometheus.Gauge
	keeperRuns      *prometheus.CounterVec
}

var _ auction.Observer = (*Collector)(nil)

// New creates a Collector with its own registry.
func New() *Collector {
	c := &Collector{
		Registry: prometheus.NewRegistry(),
		triggers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auction",
				Name:      "triggers_total",
				Help:      "Trigger attempts by outcome code (ok on success).",
			},
			[]string{"outcome"},
		),
		completions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auction",
				Name:      "completions_total",
				Help:      "Completion attempts by outcome code (ok on success).",
			},
			[]string{"outcome"},
		),
		transfers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "settlement",
				Name:      "transfers_total",
				Help:      "Reward transfers by kind and success.",
			},
			[]string{"kind", "success"},
		),
		rewardsPaid: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "settlement",
				Name:      "paid_units_total",
				Help:      "Reserve units paid out, by transfer kind. Approximate above 2^53.",
			},
			[]string{"kind"},
		),
		leftover: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "last_leftover_units",
			Help:      "Pool left after rewarding the most recent draw.",
		}),
		lastDraw: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "auction",
			Name:      "last_completed_draw",
			Help:      "ID of the most recently completed draw.",
		}),
		triggerFraction: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "auction",
			Name:      "trigger_anchor_ratio",
			Help:      "Trigger reward fraction paid by the most recent draw.",
		}),
		keeperRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "keeper",
				Name:      "runs_total",
				Help:      "Keeper runs by action taken.",
			},
			[]string{"action"},
		),
	}
	c.Registry.MustRegister(
		c.triggers,
		c.completions,
		c.transfers,
		c.rewardsPaid,
		c.leftover,
		c.lastDraw,
		c.triggerFraction,
		c.keeperRuns,
	)
	return c
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{})
}

// TriggerObserved implements auction.Observer.
func (c *Collector) TriggerObserved(code auction.ErrorCode) {
	c.triggers.WithLabelValues(outcome(code)).Inc()
}

// CompletionObserved implements auction.Observer.
func (c *Collector) CompletionObserved(code auction.ErrorCode, s *auction.Settlement) {
	c.completions.WithLabelValues(outcome(code)).Inc()
	if s == nil {
		return
	}
	c.lastDraw.Set(float64(s.DrawID))
	c.leftover.Set(units(s.Leftover.Dec()))
	c.triggerFraction.Set(units(s.TriggerFraction.String()))
}

// TransferObserved implements auction.Observer.
func (c *Collector) TransferObserved(t auction.Transfer, err error) {
	c.transfers.WithLabelValues(string(t.Kind), strconv.FormatBool(err == nil)).Inc()
	if err == nil && t.Amount != nil {
		c.rewardsPaid.WithLabelValues(string(t.Kind)).Add(units(t.Amount.Dec()))
	}
}

// KeeperRun counts one keeper run that ended with action.
func (c *Collector) KeeperRun(action string) {
	c.keeperRuns.WithLabelValues(action).Inc()
}

func outcome(code auction.ErrorCode) string {
	if code == "" {
		return "ok"
	}
	return string(code)
}

// units converts a decimal string to float64 for export.
func units(dec string) float64 {
	f, err := strconv.ParseFloat(dec, 64)
	if err != nil {
		return 0
	}
	return f
}
