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
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEngineOptions(t *testing.T) {
	opts, err := DecodeEngineOptions(map[string]any{
		"pool_size":         "10",
		"pool_recycle":      3600,
		"pool_idle_timeout": "90s",
		"connect_timeout":   2.5,
		"echo":              "debug",
		"isolation_level":   "read_committed",
		"pool_timeout":      30,
	})
	require.NoError(t, err)

	assert.Equal(t, 10, opts.PoolSize)
	assert.Equal(t, time.Hour, opts.PoolRecycle)
	assert.Equal(t, 90*time.Second, opts.PoolIdleTimeout)
	assert.Equal(t, 2500*time.Millisecond, opts.ConnectTimeout)
	assert.Equal(t, "read_committed", opts.IsolationLevel)
	assert.Equal(t, map[string]any{"pool_timeout": 30}, opts.Extra)

	enabled, debug := opts.EchoMode()
	assert.True(t, enabled)
	assert.True(t, debug)
}

func TestDecodeEngineOptionsInvalid(t *testing.T) {
	_, err := DecodeEngineOptions(map[string]any{"pool_size": "many"})
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestDecodeEngineOptionsDurations(t *testing.T) {
	opts, err := DecodeEngineOptions(map[string]any{"pool_recycle": " 1.5 ", "slow_query_time": "200ms"})
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, opts.PoolRecycle)
	assert.Equal(t, 200*time.Millisecond, opts.SlowQueryTime)

	for _, v := range []string{"5x", "5 s", "soon"} {
		_, err := DecodeEngineOptions(map[string]any{"pool_recycle": v})
		assert.ErrorIs(t, err, ErrConfiguration, v)
	}
}

func TestMaxOpenConns(t *testing.T) {
	overflow := func(n int) *int { return &n }
	assert.Equal(t, 0, EngineOptions{}.MaxOpenConns())
	assert.Equal(t, 15, EngineOptions{PoolSize: 5}.MaxOpenConns())
	assert.Equal(t, 5, EngineOptions{PoolSize: 5, MaxOverflow: overflow(0)}.MaxOpenConns())
	assert.Equal(t, 0, EngineOptions{PoolSize: 5, MaxOverflow: overflow(-1)}.MaxOpenConns())
}

func TestEchoMode(t *testing.T) {
	for echo, want := range map[string][2]bool{
		"":      {false, false},
		"false": {false, false},
		"1":     {true, false},
		"true":  {true, false},
		"debug": {true, true},
	} {
		enabled, debug := EngineOptions{Echo: echo}.EchoMode()
		assert.Equal(t, want, [2]bool{enabled, debug}, echo)
	}
}

func TestDecodeSessionOptions(t *testing.T) {
	opts, err := DecodeSessionOptions(
		map[string]any{"isolation_level": "SERIALIZABLE", "expire_on_commit": true, "autoflush": false},
		map[string]any{"expire_on_commit": false, "read_only": "true"},
	)
	require.NoError(t, err)
	assert.False(t, opts.ExpireOnCommit)
	assert.True(t, opts.ReadOnly)
	assert.Equal(t, map[string]any{"autoflush": false}, opts.Extra)

	txOpts, err := opts.TxOptions("")
	require.NoError(t, err)
	assert.Equal(t, sql.LevelSerializable, txOpts.Isolation)
	assert.True(t, txOpts.ReadOnly)

	txOpts, err = SessionOptions{}.TxOptions("repeatable-read")
	require.NoError(t, err)
	assert.Equal(t, sql.LevelRepeatableRead, txOpts.Isolation)
}

func TestParseIsolationLevel(t *testing.T) {
	for in, want := range map[string]sql.IsolationLevel{
		"":                 sql.LevelDefault,
		"AUTOCOMMIT":       sql.LevelDefault,
		"read uncommitted": sql.LevelReadUncommitted,
		"READ_COMMITTED":   sql.LevelReadCommitted,
		"repeatable-read":  sql.LevelRepeatableRead,
		"Serializable":     sql.LevelSerializable,
	} {
		got, err := ParseIsolationLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseIsolationLevel("eventually")
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode(" Async ")
	require.NoError(t, err)
	assert.Equal(t, ModeAsync, m)
	assert.Equal(t, "async", m.String())
	assert.Equal(t, 1, m.Number())

	m, err = ParseMode("threaded")
	assert.ErrorIs(t, err, ErrUnsupportedMode)
	assert.False(t, m.IsValid())
	assert.Equal(t, "unknown", m.Name())
}
