package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level collectors, registered on the default registry at init.
var (
	ConnectionsCurrent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_connections_current",
		Help: "Currently open WebSocket connections",
	})
	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_connections_total",
		Help: "Total WebSocket connections accepted since start",
	})
	ConnectionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hub_connections_rejected_total",
		Help: "Upgrade attempts rejected, by reason",
	}, []string{"reason"})

	MatchesCurrent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_matches_current",
		Help: "Match rooms currently alive",
	})
	LobbySubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_lobby_subscribers",
		Help: "Connections subscribed to lobby list updates",
	})

	MessagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_messages_received_total",
		Help: "Frames received from clients",
	})
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_messages_sent_total",
		Help: "Frames written to clients",
	})
	BytesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_bytes_received_total",
		Help: "Payload bytes received from clients",
	})
	BytesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_bytes_sent_total",
		Help: "Payload bytes written to clients",
	})

	ErrorsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hub_errors_sent_total",
		Help: "Error frames sent to clients, by code",
	}, []string{"code"})

	BroadcastsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_broadcasts_dropped_total",
		Help: "Fan-out frames dropped because a client send buffer was full",
	})
	SlowClientDisconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_slow_client_disconnects_total",
		Help: "Clients disconnected after repeated full-buffer drops",
	})

	ClipEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hub_clip_events_total",
		Help: "Accepted clip mutations, by kind",
	}, []string{"kind"})
	BatchFlushes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_batch_flushes_total",
		Help: "Delta batches flushed to rooms",
	})
	BatchedDeltas = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_batched_deltas_total",
		Help: "Clip deltas carried inside flushed batches",
	})

	SyncRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_timeline_sync_requests_total",
		Help: "RequestTimelineSync frames sent to members",
	})
	SyncPatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hub_timeline_patch_total",
		Help: "Timeline PATCH attempts against the app, by outcome",
	}, []string{"outcome"})

	ChatMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_chat_messages_total",
		Help: "Chat messages accepted and broadcast",
	})
	ChatRateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_chat_rate_limited_total",
		Help: "Chat messages rejected by the rate window",
	})
	VoteKicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hub_vote_kicks_total",
		Help: "Vote-kick lifecycle events, by outcome (started, executed, expired)",
	}, []string{"outcome"})

	CPUPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_cpu_percent",
		Help: "Process CPU usage percent",
	})
	MemoryMB = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_memory_mb",
		Help: "Process resident memory in MB",
	})
	Goroutines = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_goroutines",
		Help: "Live goroutines",
	})
)

// Handler exposes the default registry for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
