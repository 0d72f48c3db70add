package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
)

// UnmatchedRoute labels requests no router claimed.
const UnmatchedRoute = "unmatched"

type routeKey struct{}

// routeLabel is filled in by RouteLabel once a router has matched.
type routeLabel struct {
	template string
}

// Metrics records request counts, latencies and in-flight requests
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

// NewMetrics registers the request collectors with reg under namespace.
// Collectors already registered by an earlier call are reused.
func NewMetrics(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status code.",
	}, []string{"method", "route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by method, route and status code.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "code"})
	inFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "http_requests_in_flight",
		Help:      "HTTP requests currently being served.",
	})

	var err error
	if requests, err = register(reg, requests); err != nil {
		return nil, err
	}
	if duration, err = register(reg, duration); err != nil {
		return nil, err
	}
	if inFlight, err = register(reg, inFlight); err != nil {
		return nil, err
	}

	return &Metrics{requests: requests, duration: duration, inFlight: inFlight}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Instrument returns a middleware that observes every request. The route
// label is the path template recorded by RouteLabel, so it stays bounded
// whatever paths clients send.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.inFlight.Inc()
		defer m.inFlight.Dec()

		start := time.Now()
		wrapped := wrapWriter(w)
		label := &routeLabel{}

		next.ServeHTTP(wrapped, r.WithContext(context.WithValue(r.Context(), routeKey{}, label)))

		route := label.template
		if route == "" {
			route = UnmatchedRoute
		}
		code := strconv.Itoa(wrapped.statusCode)
		m.requests.WithLabelValues(r.Method, route, code).Inc()
		m.duration.WithLabelValues(r.Method, route, code).Observe(time.Since(start).Seconds())
	})
}

// SetRoute records the route template of r for the enclosing Metrics. The
// innermost router to call it wins.
func SetRoute(r *http.Request, template string) {
	if label, ok := r.Context().Value(routeKey{}).(*routeLabel); ok {
		label.template = template
	}
}

// RouteLabel is a gorilla/mux middleware recording the matched path
// template for Metrics.
func RouteLabel(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				SetRoute(r, tmpl)
			}
		}
		next.ServeHTTP(w, r)
	})
}
