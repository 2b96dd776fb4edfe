package gateway

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	shardIdentifies = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sharder_gateway_identifies_total",
		Help: "Total number of identify packets sent per shard",
	}, []string{"shard"})

	shardResumes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sharder_gateway_resumes_total",
		Help: "Total number of resume packets sent per shard",
	}, []string{"shard"})

	shardHeartbeatLatency = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sharder_gateway_heartbeat_latency_seconds",
		Help: "Round trip time between a heartbeat and its ack per shard",
	}, []string{"shard"})

	shardFramesOversized = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sharder_gateway_frames_oversized_total",
		Help: "Total number of inbound frames discarded for exceeding capacity",
	}, []string{"shard"})
)

func init() {
	prometheus.MustRegister(shardIdentifies)
	prometheus.MustRegister(shardResumes)
	prometheus.MustRegister(shardHeartbeatLatency)
	prometheus.MustRegister(shardFramesOversized)
}

func shardLabel(shardID int) string {
	return strconv.Itoa(shardID)
}
