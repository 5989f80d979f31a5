package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "investpay"

// Metrics holds the collectors of the payment core. Each instance owns its
// registry so tests can observe counters in isolation.
type Metrics struct {
	Registry *prometheus.Registry

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	ordersCreated       *prometheus.CounterVec
	reconcileOutcomes   *prometheus.CounterVec
	reconcileDuration   prometheus.Histogram
	storageConflicts    prometheus.Counter
	unverifiedCallbacks *prometheus.CounterVec
	gatewayRequests     *prometheus.CounterVec
	commissionPaid      prometheus.Counter
	ordersExpired       *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"method", "path"}),
		ordersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "created_total",
			Help:      "Payment orders created, by gateway.",
		}, []string{"gateway"}),
		reconcileOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "outcomes_total",
			Help:      "Reconcile calls by resulting order status and whether a ledger effect was applied.",
		}, []string{"status", "applied"}),
		reconcileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "duration_seconds",
			Help:      "Duration of reconcile calls including conflict retries.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		storageConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "storage_conflicts_total",
			Help:      "Units of work retried after a storage conflict.",
		}),
		unverifiedCallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "unverified_callbacks_total",
			Help:      "Gateway callbacks discarded because they failed verification.",
		}, []string{"gateway"}),
		gatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Outbound gateway requests by operation and result.",
		}, []string{"gateway", "operation", "result"}),
		commissionPaid: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commission",
			Name:      "paid_minor_units_total",
			Help:      "Referral commission credited, in minor units.",
		}),
		ordersExpired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "expired_total",
			Help:      "Orders moved to expired, by trigger.",
		}, []string{"trigger"}),
	}

	m.Registry.MustRegister(
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		m.ordersCreated,
		m.reconcileOutcomes,
		m.reconcileDuration,
		m.storageConflicts,
		m.unverifiedCallbacks,
		m.gatewayRequests,
		m.commissionPaid,
		m.ordersExpired,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return m
}

// Handler exposes the registered collectors.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) OrderCreated(gateway string) {
	m.ordersCreated.WithLabelValues(gateway).Inc()
}

func (m *Metrics) Reconciled(status string, applied bool, d time.Duration) {
	m.reconcileOutcomes.WithLabelValues(status, strconv.FormatBool(applied)).Inc()
	m.reconcileDuration.Observe(d.Seconds())
}

func (m *Metrics) StorageConflict() {
	m.storageConflicts.Inc()
}

func (m *Metrics) UnverifiedCallback(gateway string) {
	m.unverifiedCallbacks.WithLabelValues(gateway).Inc()
}

func (m *Metrics) GatewayRequest(gateway, operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.gatewayRequests.WithLabelValues(gateway, operation, result).Inc()
}

func (m *Metrics) CommissionPaid(amount int64) {
	if amount > 0 {
		m.commissionPaid.Add(float64(amount))
	}
}

func (m *Metrics) OrderExpired(trigger string) {
	m.ordersExpired.WithLabelValues(trigger).Inc()
}

// InstrumentHandler records request counts and latency. Routes are labelled
// by their mux template so ids do not explode cardinality.
func (m *Metrics) InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		path := routeTemplate(r)
		method := strings.ToUpper(r.Method)
		m.httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
