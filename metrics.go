package main

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	eventsPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sharder_events_published_total",
		Help: "Records pushed onto the outbound event list",
	})

	eventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sharder_events_dropped_total",
		Help: "Records dropped because the outbox was full",
	})

	commandsForwarded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sharder_commands_forwarded_total",
		Help: "Broker commands written through to the gateway",
	})

	outboxDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sharder_outbox_depth",
		Help: "Records waiting in the outbox",
	})

	identifyWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sharder_identify_wait_seconds",
		Help:    "Time shards spent waiting for an identify slot",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	shardPhase = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sharder_shard_phase",
		Help: "Supervisor phase per shard (0 queuing, 1 connecting, 2 running, 3 resuming)",
	}, []string{"shard"})
)

func init() {
	prometheus.MustRegister(
		eventsPublished,
		eventsDropped,
		commandsForwarded,
		outboxDepth,
		identifyWait,
		shardPhase,
	)
}
