/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/uptrace/bun"
)

// Metrics collects session lifecycle and query metrics. It is a
// SessionListener and provides a bun query hook; a nil *Metrics records
// nothing.
type Metrics struct {
	sessionEvents *prometheus.CounterVec
	openSessions  *prometheus.GaugeVec
	scopeDuration *prometheus.HistogramVec
	queryDuration *prometheus.HistogramVec
	queryTotal    *prometheus.CounterVec
	queryErrors   *prometheus.CounterVec
}

var _ SessionListener = (*Metrics)(nil)

// NewMetrics creates the collectors and registers them. Collectors that are
// already registered are reused.
func NewMetrics(registry prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		sessionEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "magic_session_events_total",
				Help: "Total number of session lifecycle events",
			},
			[]string{"mode", "event", "status"},
		),
		openSessions: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "magic_sessions_open",
				Help: "Number of sessions currently open",
			},
			[]string{"mode"},
		),
		scopeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "magic_scope_duration_seconds",
				Help:    "Duration of scoped sessions from entry to exit in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"mode", "outcome"},
		),
		queryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "magic_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"operation"},
		),
		queryTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "magic_queries_total",
				Help: "Total number of database queries",
			},
			[]string{"operation"},
		),
		queryErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "magic_query_errors_total",
				Help: "Total number of database query errors",
			},
			[]string{"operation"},
		),
	}

	var err error
	if m.sessionEvents, err = register(registry, m.sessionEvents); err != nil {
		return nil, err
	}
	if m.openSessions, err = register(registry, m.openSessions); err != nil {
		return nil, err
	}
	if m.scopeDuration, err = register(registry, m.scopeDuration); err != nil {
		return nil, err
	}
	if m.queryDuration, err = register(registry, m.queryDuration); err != nil {
		return nil, err
	}
	if m.queryTotal, err = register(registry, m.queryTotal); err != nil {
		return nil, err
	}
	if m.queryErrors, err = register(registry, m.queryErrors); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](registry prometheus.Registerer, c C) (C, error) {
	if err := registry.Register(c); err != nil {
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

func (m *Metrics) OnSessionEvent(_ context.Context, ev SessionEvent) {
	if m == nil {
		return
	}
	status := "ok"
	if ev.Err != nil {
		status = "error"
	}
	mode := ev.Mode.Name()
	m.sessionEvents.WithLabelValues(mode, ev.Kind.String(), status).Inc()
	switch ev.Kind {
	case EventBegin:
		m.openSessions.WithLabelValues(mode).Inc()
	case EventClose:
		m.openSessions.WithLabelValues(mode).Dec()
	}
}

// ObserveScope records how long a scope lived and how it ended.
func (m *Metrics) ObserveScope(mode Mode, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.scopeDuration.WithLabelValues(mode.Name(), outcome).Observe(d.Seconds())
}

// QueryHook returns a bun hook that feeds the query collectors.
func (m *Metrics) QueryHook() bun.QueryHook {
	return &metricsHook{m: m}
}

type metricsHook struct {
	m *Metrics
}

func (h *metricsHook) BeforeQuery(ctx context.Context, event *bun.QueryEvent) context.Context {
	return ctx
}

func (h *metricsHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	if h.m == nil {
		return
	}
	duration := time.Since(event.StartTime).Seconds()
	op := OperationType(event.Query)

	h.m.queryDuration.WithLabelValues(op).Observe(duration)
	h.m.queryTotal.WithLabelValues(op).Inc()
	if event.Err != nil {
		h.m.queryErrors.WithLabelValues(op).Inc()
	}
}
