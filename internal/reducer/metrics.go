package reducer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// actionsTotal counts reducer transitions.
	// Labels: action, outcome (applied, noop)
	actionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "report_variables",
		Subsystem: "reducer",
		Name:      "actions_total",
		Help:      "Reducer actions by outcome",
	}, []string{"action", "outcome"})

	// variablesGauge tracks the size of the most recently produced state.
	variablesGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "report_variables",
		Subsystem: "reducer",
		Name:      "variables",
		Help:      "Number of variables in the latest state",
	})

	listenersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "report_variables",
		Subsystem: "store",
		Name:      "listeners",
		Help:      "Number of subscribed store listeners",
	})
)
