package keysetcache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var cacheLookups = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "mint",
		Subsystem: "keyset_cache",
		Name:      "lookups_total",
		Help:      "Keyset cache lookups by result",
	},
	[]string{"result"},
)
