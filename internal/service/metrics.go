package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// transitionsAccepted counts committed lifecycle transitions by kind and
	// resulting state.
	transitionsAccepted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifecycle_transitions_accepted_total",
			Help: "Total number of accepted state transitions",
		},
		[]string{"kind", "new_state"},
	)

	// transitionsRejected counts transitions rejected by the rule table.
	transitionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifecycle_transitions_rejected_total",
			Help: "Total number of state transitions rejected as invalid",
		},
		[]string{"kind"},
	)

	// entitiesCreated counts orders and return requests created.
	entitiesCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifecycle_entities_created_total",
			Help: "Total number of orders and return requests created",
		},
		[]string{"kind"},
	)
)
