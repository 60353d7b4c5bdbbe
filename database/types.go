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
	"maps"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

// HealthStatus holds the result of a health check against one engine.
type HealthStatus struct {
	Healthy       bool          `json:"healthy"`
	Connected     bool          `json:"connected"`
	ResponseTime  time.Duration `json:"response_time"`
	ActiveConns   int           `json:"active_conns"`
	IdleConns     int           `json:"idle_conns"`
	MaxOpenConns  int           `json:"max_open_conns"`
	LastError     string        `json:"last_error,omitempty"`
	LastCheckTime time.Time     `json:"last_check_time"`
}

// DBStats mirrors database/sql stats returned by an engine.
type DBStats struct {
	MaxOpenConns      int           `json:"max_open_conns"`
	OpenConns         int           `json:"open_conns"`
	InUse             int           `json:"in_use"`
	Idle              int           `json:"idle"`
	WaitCount         int64         `json:"wait_count"`
	WaitDuration      time.Duration `json:"wait_duration"`
	MaxIdleClosed     int64         `json:"max_idle_closed"`
	MaxIdleTimeClosed int64         `json:"max_idle_time_closed"`
	MaxLifetimeClosed int64         `json:"max_lifetime_closed"`
}

// ConnectionSpec describes one execution mode: a url plus engine and session
// options that are passed through to the provider. It is immutable; accessors
// return copies.
type ConnectionSpec struct {
	url            string
	engineOptions  map[string]any
	sessionOptions map[string]any
}

func NewConnectionSpec(url string, engineOptions, sessionOptions map[string]any) *ConnectionSpec {
	return &ConnectionSpec{
		url:            url,
		engineOptions:  cloneOptions(engineOptions),
		sessionOptions: cloneOptions(sessionOptions),
	}
}

func (s *ConnectionSpec) URL() string { return s.url }

func (s *ConnectionSpec) EngineOptions() map[string]any { return cloneOptions(s.engineOptions) }

func (s *ConnectionSpec) SessionOptions() map[string]any { return cloneOptions(s.sessionOptions) }

// Config is everything Initialize needs. At least one of Sync and Async must
// be set; the remaining fields are optional.
type Config struct {
	Sync  *ConnectionSpec
	Async *ConnectionSpec

	Logger          Logger
	MetricsRegistry prometheus.Registerer
	Tracer          trace.Tracer
	Listeners       []SessionListener
}

// WithMetrics enables Prometheus metrics.
func (c Config) WithMetrics(registry prometheus.Registerer) Config {
	c.MetricsRegistry = registry
	return c
}

// WithTracing enables OpenTelemetry tracing.
func (c Config) WithTracing(tracer trace.Tracer) Config {
	c.Tracer = tracer
	return c
}

// WithListener appends a session lifecycle listener.
func (c Config) WithListener(l SessionListener) Config {
	c.Listeners = append(append([]SessionListener(nil), c.Listeners...), l)
	return c
}

func cloneOptions(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return maps.Clone(m)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
