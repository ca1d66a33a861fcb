package actor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for monitoring the runtime.

var (
	// actorsSpawned counts the total number of actors spawned.
	actorsSpawned = promauto.NewCounter(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "bioma_actors_spawned",
		Help: "The total number of actors spawned",
	})

	// actorsKilled counts the total number of actors killed.
	actorsKilled = promauto.NewCounter(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "bioma_actors_killed",
		Help: "The total number of actors killed",
	})

	// framesSent counts request frames written, labeled by message tag.
	framesSent = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "bioma_frames_sent",
		Help: "The total number of request frames written",
	}, []string{"message_tag"})

	// repliesSent counts reply frames written, terminals excluded.
	repliesSent = promauto.NewCounter(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "bioma_replies_sent",
		Help: "The total number of reply frames written",
	})

	// handlerErrors counts requests that ended with an error terminal.
	handlerErrors = promauto.NewCounter(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "bioma_handler_errors",
		Help: "The total number of requests that ended in a handler error",
	})

	// heartbeats counts heartbeat writes across all monitored actors.
	heartbeats = promauto.NewCounter(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "bioma_heartbeats",
		Help: "The total number of heartbeat writes",
	})
)
