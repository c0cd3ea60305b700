package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricPixelWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pixelwars_pixel_writes_total",
		Help: "Pixel write attempts by canvas and result.",
	}, []string{"canvas", "result"})

	metricDeltaSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pixelwars_delta_pixels",
		Help:    "Number of changed pixels returned per delta request.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	})

	metricKeysIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pixelwars_session_keys_issued_total",
		Help: "Session keys issued by canvas.",
	}, []string{"canvas"})

	metricUsersIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pixelwars_users_issued_total",
		Help: "User identities issued by canvas.",
	}, []string{"canvas"})

	metricUsersEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pixelwars_users_evicted_total",
		Help: "Idle user identities removed.",
	})
)
