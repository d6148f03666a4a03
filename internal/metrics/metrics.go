// Package metrics exposes counters for the provisioning flows. Counters are
// registered on first use so tests that never scrape pay nothing.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Provisioning outcomes.
const (
	OutcomeProvisioned = "provisioned"
	OutcomeRejected    = "rejected"
	OutcomeCompensated = "compensated"
	OutcomeUnknown     = "outcome_unknown"
	OutcomeOrphaned    = "orphaned"
)

var (
	once             sync.Once
	provisionResults *prometheus.CounterVec
)

func ensure() {
	once.Do(func() {
		provisionResults = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nest",
			Subsystem: "provision",
			Name:      "outcomes_total",
			Help:      "Outcomes of remote provisioning flows",
		}, []string{"entity", "outcome"})
		if err := prometheus.Register(provisionResults); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
					provisionResults = existing
				}
			}
		}
	})
}

// Provision records one provisioning outcome for an entity kind.
func Provision(entity, outcome string) {
	ensure()
	provisionResults.With(prometheus.Labels{"entity": entity, "outcome": outcome}).Inc()
}
