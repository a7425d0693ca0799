package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsOnce sync.Once

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// collectedTotal counts items saved per provider and kind (feed, ioc)
	collectedTotal *prometheus.CounterVec

	// providerErrorsTotal counts failed provider runs
	providerErrorsTotal *prometheus.CounterVec

	providerDuration *prometheus.HistogramVec

	wsClients prometheus.Gauge
)

// Init registers the API and collector metrics. Safe to call more than once.
func Init() {
	metricsOnce.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threatdeck_http_requests_total",
				Help: "Total number of HTTP requests by route, method and status",
			},
			[]string{"route", "method", "status"},
		)

		httpRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "threatdeck_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		)

		collectedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threatdeck_collected_items_total",
				Help: "Total number of collected items by provider and kind",
			},
			[]string{"provider", "kind"},
		)

		providerErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threatdeck_provider_errors_total",
				Help: "Total number of failed provider collections",
			},
			[]string{"provider"},
		)

		providerDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "threatdeck_provider_duration_seconds",
				Help:    "Duration of a provider collection in seconds",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"provider"},
		)

		wsClients = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "threatdeck_websocket_clients",
			Help: "Number of connected WebSocket clients",
		})
	})
}

func RecordHTTPRequest(route, method string, status int, d time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

func RecordCollected(provider string, feeds, iocs int) {
	if collectedTotal == nil {
		return
	}
	collectedTotal.WithLabelValues(provider, "feed").Add(float64(feeds))
	collectedTotal.WithLabelValues(provider, "ioc").Add(float64(iocs))
}

func RecordProviderRun(provider string, d time.Duration, err error) {
	if providerDuration == nil {
		return
	}
	providerDuration.WithLabelValues(provider).Observe(d.Seconds())
	if err != nil {
		providerErrorsTotal.WithLabelValues(provider).Inc()
	}
}

func SetWebSocketClients(n int) {
	if wsClients != nil {
		wsClients.Set(float64(n))
	}
}

// StatusRecorder captures the status code written by a handler.
type StatusRecorder struct {
	http.ResponseWriter
	Status int
}

func NewStatusRecorder(w http.ResponseWriter) *StatusRecorder {
	return &StatusRecorder{ResponseWriter: w, Status: http.StatusOK}
}

func (r *StatusRecorder) WriteHeader(code int) {
	r.Status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *StatusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack passes through so WebSocket upgrades work behind the middleware.
func (r *StatusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}
