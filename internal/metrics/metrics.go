// Package metrics holds the Prometheus collectors updated by the trading
// engine and served at /metrics:
//
//	breakoutbot_cycles_total{outcome}             orchestration cycle outcomes
//	breakoutbot_gate_rejections_total{direction}  candidates refused by the index gate
//	breakoutbot_placements_total{result}          placed or a rejection reason
//	breakoutbot_lifecycle_actions_total{action,result}
//	breakoutbot_broker_errors_total{op}
//	breakoutbot_active_positions                  monitors currently running
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Cycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breakoutbot_cycles_total",
			Help: "Orchestration cycles by outcome",
		},
		[]string{"outcome"},
	)

	GateRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breakoutbot_gate_rejections_total",
			Help: "Candidates refused by the index gate",
		},
		[]string{"direction"},
	)

	Placements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breakoutbot_placements_total",
			Help: "Bracket placement attempts by result",
		},
		[]string{"result"},
	)

	LifecycleActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breakoutbot_lifecycle_actions_total",
			Help: "Lifecycle actions executed against the broker",
		},
		[]string{"action", "result"},
	)

	BrokerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breakoutbot_broker_errors_total",
			Help: "Failed broker calls by operation",
		},
		[]string{"op"},
	)

	ActivePositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "breakoutbot_active_positions",
			Help: "Positions under active monitoring",
		},
	)
)

func init() {
	prometheus.MustRegister(Cycles, GateRejections, Placements)
	prometheus.MustRegister(LifecycleActions, BrokerErrors, ActivePositions)
}
