package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "auction_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Bid admission metrics
	BidsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_bids_total",
			Help: "Total number of bid submissions by outcome",
		},
		[]string{"outcome"}, // accepted, stale_state, below_increment, ...
	)

	BidAmount = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "auction_bid_amount",
			Help:    "Bid amount distribution (in cents)",
			Buckets: []float64{100, 500, 1000, 5000, 10000, 50000, 100000, 500000},
		},
		[]string{"outcome"},
	)

	AdmissionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "auction_bid_admission_duration_seconds",
			Help:    "Time from gate entry to committed bid",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	// Ledger metrics
	EventsStoredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_events_stored_total",
			Help: "Total number of events appended to the ledger",
		},
		[]string{"type"},
	)

	LedgerWriteDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "auction_ledger_write_duration_seconds",
			Help:    "Time to durably append an event",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		},
	)

	// Lifecycle metrics
	LiveAuctions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "auction_live_auctions",
			Help: "Number of auctions resident in the registry",
		},
	)

	SettlementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_settlements_total",
			Help: "Total number of settlement events emitted",
		},
		[]string{"kind"},
	)

	// Scheduler metrics
	SchedulerQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "auction_scheduler_queue_depth",
			Help: "Number of pending timer entries in the scheduler",
		},
	)

	SchedulerTicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_scheduler_ticks_total",
			Help: "Total number of scheduler-driven transitions",
		},
		[]string{"kind"}, // activate, decay, ending, close
	)

	// NATS metrics
	NATSMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_nats_messages_published_total",
			Help: "Total number of NATS messages published",
		},
		[]string{"subject"},
	)
)
