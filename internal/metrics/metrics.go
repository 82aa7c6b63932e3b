// Package metrics 定义 API 的 Prometheus 指标
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	requests       *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	eventWrites    *prometheus.CounterVec
	conflicts      *prometheus.CounterVec
	conflictChecks prometheus.Counter
}

// New 在 reg 上注册指标，reg 为 nil 时使用默认的注册器。已经注册过的指标会被复用
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Handled HTTP requests",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		eventWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "schedule_event_writes_total",
			Help: "Schedule event create attempts by type and outcome",
		}, []string{"event_type", "outcome"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "schedule_conflicts_detected_total",
			Help: "Conflicts found by the conflict service",
		}, []string{"kind"}),
		conflictChecks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "schedule_conflict_checks_total",
			Help: "Conflict analyses computed (cache misses)",
		}),
	}

	var err error
	if m.requests, err = register(reg, m.requests); err != nil {
		return nil, err
	}
	if m.latency, err = register(reg, m.latency); err != nil {
		return nil, err
	}
	if m.eventWrites, err = register(reg, m.eventWrites); err != nil {
		return nil, err
	}
	if m.conflicts, err = register(reg, m.conflicts); err != nil {
		return nil, err
	}
	if m.conflictChecks, err = register(reg, m.conflictChecks); err != nil {
		return nil, err
	}

	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(method, route).Observe(d.Seconds())
}

// outcome 取值为 created、limit_exceeded、invalid 或 failed
func (m *Metrics) ObserveEventWrite(eventType, outcome string) {
	m.eventWrites.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) ObserveConflictCheck(overlaps, travel int) {
	m.conflictChecks.Inc()
	m.conflicts.WithLabelValues("time_overlap").Add(float64(overlaps))
	m.conflicts.WithLabelValues("travel_time").Add(float64(travel))
}
