package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebSocketConnectionsActive 当前活跃的WebSocket连接数
	WebSocketConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_websocket_connections_active",
		Help: "Number of active WebSocket connections",
	})

	// StreamsActive 进行中的生成流数量
	StreamsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_streams_active",
		Help: "Number of in-flight generation streams",
	})

	// StreamChunksSent 发送的流式分片总数
	StreamChunksSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_stream_chunks_sent_total",
		Help: "Total number of stream chunks sent to clients",
	}, []string{"model"})

	// StreamInterruptions 流中断计数
	StreamInterruptions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_stream_interruptions_total",
		Help: "Total number of client-interrupted streams",
	})

	// GenerationDuration 生成耗时
	GenerationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat_generation_duration_seconds",
		Help:    "End-to-end generation duration in seconds",
		Buckets: []float64{0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
	}, []string{"model", "backend"})

	// GenerationContinuations 因长度截断触发的续写次数
	GenerationContinuations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_generation_continuations_total",
		Help: "Total number of length-limit continuations",
	}, []string{"model"})

	// GenerationErrors 生成错误计数
	GenerationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_generation_errors_total",
		Help: "Total number of generation errors",
	}, []string{"reason"})

	// HistoryEvictions 成对淘汰的消息对数
	HistoryEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_history_evictions_total",
		Help: "Total number of paired history evictions",
	})

	// ContextCacheHits 上下文缓存命中数
	ContextCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_context_cache_hits_total",
		Help: "Total number of context cache hits",
	})

	// ContextCacheMisses 上下文缓存未命中数
	ContextCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_context_cache_misses_total",
		Help: "Total number of context cache misses",
	})
)
