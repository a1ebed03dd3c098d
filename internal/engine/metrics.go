package engine

import "github.com/prometheus/client_golang/prometheus"

// Counters and gauges served at /metrics by the API router.
var (
	ticksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_ticks_total",
			Help: "Polling ticks by outcome",
		},
		[]string{"result"},
	)

	signalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_signals_total",
			Help: "Threshold crossings detected",
		},
		[]string{"side"},
	)

	ordersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_orders_total",
			Help: "Signal orders by outcome",
		},
		[]string{"result"},
	)

	activeBots = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bots_active",
			Help: "Currently running polling loops",
		},
	)
)

func init() {
	prometheus.MustRegister(ticksTotal, signalsTotal, ordersTotal, activeBots)
}
