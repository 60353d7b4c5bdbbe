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
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel/trace"
)

var current atomic.Pointer[Magic]

// Magic is the process-wide configuration: the engines and session factories
// of each configured mode.
type Magic struct {
	syncSpec  *ConnectionSpec
	asyncSpec *ConnectionSpec
	engines   *Engines
	factories map[Mode]*SessionFactory
	metadata  *Metadata
	metrics   *Metrics
	tracer    trace.Tracer
	logger    Logger

	closeOnce sync.Once
	closeErr  error
}

// Initialize builds a Magic from cfg and installs it as the process-wide
// instance, replacing any previous one. The previous engines are not closed.
// Initialize must not race with concurrent session use.
func Initialize(cfg Config) (*Magic, error) {
	m, err := New(cfg)
	if err != nil {
		return nil, err
	}
	if prev := current.Swap(m); prev != nil {
		m.logger.Info("Magic configuration replaced")
	}
	return m, nil
}

// New builds a Magic without installing it.
func New(cfg Config) (*Magic, error) {
	if cfg.Sync == nil && cfg.Async == nil {
		return nil, fmt.Errorf("%w: provide at least one of sync or async connection spec", ErrConfiguration)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = GetLogger()
	}

	var (
		metrics *Metrics
		hooks   []bun.QueryHook
		err     error
	)
	if cfg.MetricsRegistry != nil {
		if metrics, err = NewMetrics(cfg.MetricsRegistry); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
		hooks = append(hooks, metrics.QueryHook())
	}
	if cfg.Tracer != nil {
		hooks = append(hooks, newTracingHook(cfg.Tracer))
	}
	listeners := append([]SessionListener(nil), cfg.Listeners...)
	if metrics != nil {
		listeners = append(listeners, metrics)
	}

	engines, err := NewEngineFactory(logger, hooks...).CreateEngines(cfg.Sync, cfg.Async)
	if err != nil {
		return nil, err
	}
	m := &Magic{
		syncSpec:  cfg.Sync,
		asyncSpec: cfg.Async,
		engines:   engines,
		factories: make(map[Mode]*SessionFactory, 2),
		metadata:  NewMetadata(),
		metrics:   metrics,
		tracer:    cfg.Tracer,
		logger:    logger,
	}
	for mode, spec := range map[Mode]*ConnectionSpec{ModeSync: cfg.Sync, ModeAsync: cfg.Async} {
		if spec == nil {
			continue
		}
		engine, _ := engines.Get(mode)
		factory, err := NewSessionFactory(engine, spec.SessionOptions(), logger, listeners...)
		if err != nil {
			_ = engines.Close()
			return nil, err
		}
		m.factories[mode] = factory
	}
	return m, nil
}

// Current returns the installed Magic or ErrNotConfigured.
func Current() (*Magic, error) {
	if m := current.Load(); m != nil {
		return m, nil
	}
	return nil, ErrNotConfigured
}

// MustCurrent is Current for callers that treat a missing configuration as a
// programming error.
func MustCurrent() *Magic {
	m, err := Current()
	if err != nil {
		panic(err)
	}
	return m
}

// Reset uninstalls the process-wide instance and returns it.
func Reset() *Magic {
	return current.Swap(nil)
}

func (m *Magic) Logger() Logger { return m.logger }

func (m *Magic) Metrics() *Metrics { return m.metrics }

// Metadata holds the table models of this configuration.
func (m *Magic) Metadata() *Metadata { return m.metadata }

// Spec returns the connection spec of mode, or nil.
func (m *Magic) Spec(mode Mode) *ConnectionSpec {
	switch mode {
	case ModeSync:
		return m.syncSpec
	case ModeAsync:
		return m.asyncSpec
	}
	return nil
}

func (m *Magic) Modes() []Mode {
	var modes []Mode
	for _, mode := range []Mode{ModeSync, ModeAsync} {
		if _, ok := m.factories[mode]; ok {
			modes = append(modes, mode)
		}
	}
	return modes
}

func (m *Magic) Engine(mode Mode) (*Engine, error) {
	return m.engines.Get(mode)
}

func (m *Magic) SyncEngine() (*Engine, error) { return m.Engine(ModeSync) }

func (m *Magic) AsyncEngine() (*Engine, error) { return m.Engine(ModeAsync) }

func (m *Magic) SessionFactory(mode Mode) (*SessionFactory, error) {
	f, ok := m.factories[mode]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMode, mode)
	}
	return f, nil
}

func (m *Magic) SyncSessionFactory() (*SessionFactory, error) { return m.SessionFactory(ModeSync) }

func (m *Magic) AsyncSessionFactory() (*SessionFactory, error) { return m.SessionFactory(ModeAsync) }

// ScopedSession returns a new, not yet entered, scope for mode. Sync scopes
// commit by default; see WithCommit.
func (m *Magic) ScopedSession(mode Mode, opts ...ScopeOption) (ScopedSession, error) {
	if !mode.IsValid() {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedMode, mode)
	}
	factory, err := m.SessionFactory(mode)
	if err != nil {
		return nil, err
	}
	return newScopedSession(factory, m.logger, m.tracer, m.metrics, opts...), nil
}

// AsyncScopedSession is ScopedSession(ModeAsync) with the async surface.
func (m *Magic) AsyncScopedSession(opts ...ScopeOption) (AsyncScopedSession, error) {
	scope, err := m.ScopedSession(ModeAsync, opts...)
	if err != nil {
		return nil, err
	}
	return scope.(AsyncScopedSession), nil
}

// Run opens a scope for mode and runs fn inside it.
func (m *Magic) Run(ctx context.Context, mode Mode, fn func(ctx context.Context, s *Session) error, opts ...ScopeOption) error {
	scope, err := m.ScopedSession(mode, opts...)
	if err != nil {
		return err
	}
	return scope.Run(ctx, fn)
}

// Go runs fn in an async scope in the background.
func (m *Magic) Go(ctx context.Context, fn func(ctx context.Context, s *Session) error, opts ...ScopeOption) *Future[struct{}] {
	scope, err := m.AsyncScopedSession(opts...)
	if err != nil {
		return Go(ctx, func(context.Context) (struct{}, error) { return struct{}{}, err })
	}
	return scope.Go(ctx, fn)
}

// Health checks every configured engine.
func (m *Magic) Health(ctx context.Context) map[Mode]*HealthStatus {
	result := make(map[Mode]*HealthStatus, 2)
	for _, mode := range m.Modes() {
		engine, _ := m.engines.Get(mode)
		result[mode] = engine.HealthCheck(ctx)
	}
	return result
}

// Close closes every engine. Sessions still open fail afterwards.
func (m *Magic) Close() error {
	m.closeOnce.Do(func() {
		m.closeErr = m.engines.Close()
		if m.closeErr != nil {
			m.logger.Error("Failed to close database engines", "error", m.closeErr)
		} else {
			m.logger.Info("Database engines closed")
		}
	})
	return m.closeErr
}
