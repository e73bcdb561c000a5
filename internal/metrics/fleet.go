package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AgentPings counts monitor probes by outcome ("ok" / "error").
	AgentPings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_agent_pings_total",
			Help: "Total number of agent liveness probes",
		},
		[]string{"status"},
	)

	// AccidentsOpened counts newly opened accidents.
	AccidentsOpened = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleet_accidents_opened_total",
			Help: "Total number of accidents opened",
		},
	)

	// AgentInstalls counts finished installs by result ("success" / "failed").
	AgentInstalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_agent_installs_total",
			Help: "Total number of finished agent installs",
		},
		[]string{"result"},
	)
)
