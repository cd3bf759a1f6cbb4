// Package metrics holds the Prometheus collectors shared by the server and the
// worker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wedding_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wedding_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wedding_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Upload pipeline metrics
var (
	UploadItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wedding_upload_items_total",
			Help: "Media items processed by the upload pipeline",
		},
		[]string{"file_type", "outcome"}, // outcome: success, failure
	)

	UploadBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wedding_upload_batches_total",
			Help: "Upload batches by outcome",
		},
		[]string{"outcome"},
	)

	UploadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wedding_upload_bytes_total",
			Help: "Bytes written to the blob store",
		},
	)

	UploadBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wedding_upload_batch_duration_seconds",
			Help:    "Time taken to upload a whole batch",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)
)

// Thumbnail metrics
var (
	ThumbnailsGenerated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wedding_thumbnails_generated_total",
			Help: "Video thumbnails generated",
		},
	)

	ThumbnailFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wedding_thumbnail_failures_total",
			Help: "Video thumbnail failures by reason",
		},
		[]string{"reason"},
	)

	ThumbnailDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wedding_thumbnail_duration_seconds",
			Help:    "Time taken to extract and encode one thumbnail",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)
)

// Gallery and landing metrics
var (
	GallerySubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wedding_gallery_subscribers",
			Help: "Live gallery connections",
		},
	)

	GalleryEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wedding_gallery_events_dropped_total",
			Help: "Gallery events dropped for slow consumers",
		},
	)

	GalleryResubscribes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wedding_gallery_resubscribes_total",
			Help: "Times the live gallery resubscribed after losing the collection stream",
		},
	)

	CollectionSubscribersEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wedding_collection_subscribers_evicted_total",
			Help: "Change subscribers closed because their buffer was full",
		},
	)

	LandingCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wedding_landing_cache_total",
			Help: "Landing image list lookups by cache result",
		},
		[]string{"result"}, // hit, miss, error
	)
)
