package indexer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var indexedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "mint",
	Subsystem: "indexer",
	Name:      "events_total",
	Help:      "Upstream events by outcome.",
}, []string{"result"})
