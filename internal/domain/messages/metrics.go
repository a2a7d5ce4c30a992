package messages

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telescoper_uploads_total",
		Help: "Upload attempts by outcome (accepted, rejected, conflict, error).",
	}, []string{"outcome"})

	ingestionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telescoper_ingestions_total",
		Help: "File ingestions by outcome (ingested, failed).",
	}, []string{"outcome"})

	ingestedMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telescoper_ingested_messages_total",
		Help: "Messages persisted by successful ingestions.",
	})

	ingestionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "telescoper_ingestion_duration_seconds",
		Help:    "Time to segment, parse and persist one file.",
		Buckets: prometheus.DefBuckets,
	})

	lookupCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telescoper_lookup_cache_hits_total",
		Help: "Message lookups served from the LRU cache.",
	})

	lookupCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telescoper_lookup_cache_misses_total",
		Help: "Message lookups that went to the store.",
	})
)
