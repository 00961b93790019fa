package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ExtractionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fc",
		Name:      "extraction_duration_seconds",
		Help:      "Duration of descriptor extraction stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	MatchOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fc",
		Name:      "match_outcomes_total",
		Help:      "Matcher results by outcome",
	}, []string{"outcome"})

	MatchDistance = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fc",
		Name:      "match_best_distance",
		Help:      "Best euclidean distance found per match attempt",
		Buckets:   prometheus.LinearBuckets(0.1, 0.1, 12),
	})

	GallerySize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fc",
		Name:      "gallery_descriptors",
		Help:      "Number of descriptors in the last loaded gallery snapshot",
	})

	EnrollmentImages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fc",
		Name:      "enrollment_images_total",
		Help:      "Enrollment images processed by result",
	}, []string{"result"})

	PresenceDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fc",
		Name:      "presence_decisions_total",
		Help:      "Presence validation decisions",
	}, []string{"decision"})

	CredentialsIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fc",
		Name:      "credentials_issued_total",
		Help:      "Credentials issued by tier",
	}, []string{"tier"})

	ScopeTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fc",
		Name:      "scope_transitions_total",
		Help:      "Verify-and-scope attempts by result",
	}, []string{"result"})

	AttendanceWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fc",
		Name:      "attendance_writes_total",
		Help:      "Attendance write attempts by result",
	}, []string{"result"})

	EnrollmentQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fc",
		Name:      "enrollment_queue_depth",
		Help:      "Number of pending enrollment tasks in queue",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fc",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fc",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
