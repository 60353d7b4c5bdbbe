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
	"fmt"
	"maps"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

const defaultMaxOverflow = 10

// EngineOptions is the typed view of ConnectionSpec.EngineOptions understood
// by the bun engine provider. Keys it does not know end up in Extra.
type EngineOptions struct {
	PoolSize        int            `mapstructure:"pool_size"`
	MaxOverflow     *int           `mapstructure:"max_overflow"`
	PoolRecycle     time.Duration  `mapstructure:"pool_recycle"`
	PoolIdleTimeout time.Duration  `mapstructure:"pool_idle_timeout"`
	PoolPrePing     bool           `mapstructure:"pool_pre_ping"`
	ConnectTimeout  time.Duration  `mapstructure:"connect_timeout"`
	Echo            string         `mapstructure:"echo"`
	SlowQueryTime   time.Duration  `mapstructure:"slow_query_time"`
	IsolationLevel  string         `mapstructure:"isolation_level"`
	Extra           map[string]any `mapstructure:",remain"`
}

// MaxOpenConns mirrors a queue pool: pool_size plus max_overflow, zero meaning
// unlimited.
func (o EngineOptions) MaxOpenConns() int {
	if o.PoolSize <= 0 {
		return 0
	}
	overflow := defaultMaxOverflow
	if o.MaxOverflow != nil {
		overflow = *o.MaxOverflow
	}
	if overflow < 0 {
		return 0
	}
	return o.PoolSize + overflow
}

// EchoMode reports whether queries are echoed and whether bundebug is used.
func (o EngineOptions) EchoMode() (enabled bool, debug bool) {
	switch strings.ToLower(strings.TrimSpace(o.Echo)) {
	case "", "0", "false", "off", "no":
		return false, false
	case "debug", "2":
		return true, true
	default:
		return true, false
	}
}

// SessionOptions is the typed view of ConnectionSpec.SessionOptions.
type SessionOptions struct {
	IsolationLevel string         `mapstructure:"isolation_level"`
	ReadOnly       bool           `mapstructure:"read_only"`
	ExpireOnCommit bool           `mapstructure:"expire_on_commit"`
	Extra          map[string]any `mapstructure:",remain"`
}

// TxOptions converts the session options into database/sql transaction options.
// fallback is the engine-wide isolation level.
func (o SessionOptions) TxOptions(fallback string) (*sql.TxOptions, error) {
	level := o.IsolationLevel
	if level == "" {
		level = fallback
	}
	iso, err := ParseIsolationLevel(level)
	if err != nil {
		return nil, err
	}
	return &sql.TxOptions{Isolation: iso, ReadOnly: o.ReadOnly}, nil
}

// ParseIsolationLevel accepts the usual spellings ("READ COMMITTED",
// "read_committed", "serializable"...). An empty string is the driver default.
func ParseIsolationLevel(s string) (sql.IsolationLevel, error) {
	norm := strings.ToUpper(strings.TrimSpace(strings.NewReplacer("_", " ", "-", " ").Replace(s)))
	switch norm {
	case "", "DEFAULT", "AUTOCOMMIT":
		return sql.LevelDefault, nil
	case "READ UNCOMMITTED":
		return sql.LevelReadUncommitted, nil
	case "READ COMMITTED":
		return sql.LevelReadCommitted, nil
	case "WRITE COMMITTED":
		return sql.LevelWriteCommitted, nil
	case "REPEATABLE READ":
		return sql.LevelRepeatableRead, nil
	case "SNAPSHOT":
		return sql.LevelSnapshot, nil
	case "SERIALIZABLE":
		return sql.LevelSerializable, nil
	case "LINEARIZABLE":
		return sql.LevelLinearizable, nil
	}
	return sql.LevelDefault, fmt.Errorf("%w: unknown isolation level %q", ErrConfiguration, s)
}

// DecodeEngineOptions decodes a passthrough option map.
func DecodeEngineOptions(raw map[string]any) (EngineOptions, error) {
	var opts EngineOptions
	if err := decodeOptions(raw, &opts); err != nil {
		return EngineOptions{}, fmt.Errorf("%w: engine options: %v", ErrConfiguration, err)
	}
	return opts, nil
}

// DecodeSessionOptions decodes a passthrough option map. Later maps override
// earlier ones key by key.
func DecodeSessionOptions(raw ...map[string]any) (SessionOptions, error) {
	merged := make(map[string]any)
	for _, m := range raw {
		maps.Copy(merged, m)
	}
	var opts SessionOptions
	if err := decodeOptions(merged, &opts); err != nil {
		return SessionOptions{}, fmt.Errorf("%w: session options: %v", ErrConfiguration, err)
	}
	return opts, nil
}

func decodeOptions(raw map[string]any, out any) error {
	if len(raw) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			secondsToDurationHook(),
			mapstructure.StringToTimeDurationHookFunc(),
		),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}

// secondsToDurationHook treats bare numbers as seconds, the unit pool_recycle
// and friends are usually given in.
func secondsToDurationHook() mapstructure.DecodeHookFuncType {
	durationType := reflect.TypeOf(time.Duration(0))
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != durationType {
			return data, nil
		}
		switch v := data.(type) {
		case int:
			return time.Duration(v) * time.Second, nil
		case int32:
			return time.Duration(v) * time.Second, nil
		case int64:
			return time.Duration(v) * time.Second, nil
		case float32:
			return time.Duration(float64(v) * float64(time.Second)), nil
		case float64:
			return time.Duration(v * float64(time.Second)), nil
		case string:
			s := strings.TrimSpace(v)
			if _, err := time.ParseDuration(s); err != nil {
				// anything that is neither a duration nor a number fails in
				// the duration hook that follows
				if secs, err := strconv.ParseFloat(s, 64); err == nil {
					return time.Duration(secs * float64(time.Second)), nil
				}
			}
		}
		return data, nil
	}
}
