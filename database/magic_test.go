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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

func resetMagic(t *testing.T) {
	t.Helper()
	prev := Reset()
	t.Cleanup(func() {
		if m := Reset(); m != nil {
			_ = m.Close()
		}
		if prev != nil {
			current.Store(prev)
		}
	})
}

func TestInitializeThenCurrent(t *testing.T) {
	resetMagic(t)

	engineOpts := map[string]any{"pool_size": 5, "max_overflow": 2}
	sessionOpts := map[string]any{"expire_on_commit": false}
	m, err := Initialize(Config{
		Sync:   NewConnectionSpec(memoryURL, engineOpts, sessionOpts),
		Logger: NopLogger(),
	})
	require.NoError(t, err)

	cur, err := Current()
	require.NoError(t, err)
	assert.Same(t, m, cur)

	engine, err := cur.SyncEngine()
	require.NoError(t, err)
	assert.Equal(t, memoryURL, engine.URL())
	assert.Equal(t, engineOpts, engine.RawOptions())
	assert.Equal(t, 5, engine.Options().PoolSize)
	assert.Equal(t, ModeSync, engine.Mode())

	again, err := cur.SyncEngine()
	require.NoError(t, err)
	assert.Same(t, engine, again)

	factory, err := cur.SyncSessionFactory()
	require.NoError(t, err)
	assert.Equal(t, sessionOpts, factory.RawOptions())
	assert.Same(t, engine, factory.Engine())

	assert.Equal(t, []Mode{ModeSync}, cur.Modes())
	assert.Equal(t, memoryURL, cur.Spec(ModeSync).URL())
	assert.Nil(t, cur.Spec(ModeAsync))
}

func TestInitializeReplaces(t *testing.T) {
	resetMagic(t)

	first, err := Initialize(Config{Sync: NewConnectionSpec(memoryURL, nil, nil), Logger: NopLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = first.Close() })
	firstEngine, err := first.SyncEngine()
	require.NoError(t, err)

	url := fileURL(t)
	second, err := Initialize(Config{Async: NewConnectionSpec(url, nil, nil), Logger: NopLogger()})
	require.NoError(t, err)

	cur, err := Current()
	require.NoError(t, err)
	assert.Same(t, second, cur)
	assert.NotSame(t, first, cur)

	// nothing of the first configuration is reachable
	_, err = cur.SyncEngine()
	assert.ErrorIs(t, err, ErrUnsupportedMode)
	engine, err := cur.AsyncEngine()
	require.NoError(t, err)
	assert.NotSame(t, firstEngine, engine)
	assert.Equal(t, url, engine.URL())
}

func TestCurrentNotConfigured(t *testing.T) {
	resetMagic(t)

	_, err := Current()
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Panics(t, func() { MustCurrent() })
}

func TestInitializeConfigurationError(t *testing.T) {
	resetMagic(t)

	_, err := Initialize(Config{})
	assert.ErrorIs(t, err, ErrConfiguration)
	_, err = Current()
	assert.ErrorIs(t, err, ErrNotConfigured, "a failed Initialize must not install anything")

	_, err = Initialize(Config{Sync: NewConnectionSpec("", nil, nil)})
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = Initialize(Config{Sync: NewConnectionSpec("oracle://scott@tiger/db", nil, nil)})
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = Initialize(Config{Sync: NewConnectionSpec(memoryURL, map[string]any{"isolation_level": "sometimes"}, nil)})
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = Initialize(Config{Sync: NewConnectionSpec(memoryURL, nil, map[string]any{"isolation_level": "sometimes"})})
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestScopedSessionUnsupportedMode(t *testing.T) {
	m := newTestMagic(t, memoryURL, ModeSync)

	_, err := m.ScopedSession(ModeAsync)
	assert.ErrorIs(t, err, ErrUnsupportedMode)
	_, err = m.ScopedSession(Mode(7))
	assert.ErrorIs(t, err, ErrUnsupportedMode)
	_, err = m.AsyncScopedSession()
	assert.ErrorIs(t, err, ErrUnsupportedMode)
	_, err = m.AsyncSessionFactory()
	assert.ErrorIs(t, err, ErrUnsupportedMode)

	err = m.Run(context.Background(), ModeAsync, func(ctx context.Context, s *Session) error { return nil })
	assert.ErrorIs(t, err, ErrUnsupportedMode)
	_, err = m.Go(context.Background(), func(ctx context.Context, s *Session) error { return nil }).Get()
	assert.ErrorIs(t, err, ErrUnsupportedMode)
}

func TestScopedSessionKinds(t *testing.T) {
	url := fileURL(t)
	m, err := New(Config{
		Sync:   NewConnectionSpec(url, nil, nil),
		Async:  NewConnectionSpec(url, nil, nil),
		Logger: NopLogger(),
	})
	require.NoError(t, err)
	defer m.Close()

	syncScope, err := m.ScopedSession(ModeSync)
	require.NoError(t, err)
	_, isAsync := syncScope.(AsyncScopedSession)
	assert.False(t, isAsync)
	assert.True(t, syncScope.Commits())

	asyncScope, err := m.ScopedSession(ModeAsync)
	require.NoError(t, err)
	_, isAsync = asyncScope.(AsyncScopedSession)
	assert.True(t, isAsync)

	syncEngine, _ := m.SyncEngine()
	asyncEngine, _ := m.AsyncEngine()
	assert.NotSame(t, syncEngine, asyncEngine)
}

func TestMagicHealthAndClose(t *testing.T) {
	m := newTestMagic(t, memoryURL, ModeSync)

	health := m.Health(context.Background())
	require.Contains(t, health, ModeSync)
	assert.True(t, health[ModeSync].Healthy)
	assert.Equal(t, 1, health[ModeSync].MaxOpenConns)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	health = m.Health(context.Background())
	assert.False(t, health[ModeSync].Healthy)
	assert.NotEmpty(t, health[ModeSync].LastError)
}

func TestMagicWithTracing(t *testing.T) {
	cfg := Config{Sync: NewConnectionSpec(memoryURL, nil, nil), Logger: NopLogger()}.
		WithTracing(noop.NewTracerProvider().Tracer("magic"))
	m, err := New(cfg)
	require.NoError(t, err)
	defer m.Close()

	err = m.Run(context.Background(), ModeSync, func(ctx context.Context, s *Session) error {
		_, err := s.NewSelect().ColumnExpr("1").Exec(ctx)
		return err
	})
	require.NoError(t, err)
}
