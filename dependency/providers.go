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

package dependency

import (
	"context"

	"github.com/tomoncle/magic/binding"
	"github.com/tomoncle/magic/database"
)

type Option func(*options)

type options struct {
	mode           database.Mode
	commit         bool
	cache          bool
	sessionOptions map[string]any
}

func defaultOptions() options {
	return options{mode: database.ModeAsync, commit: false, cache: true}
}

// WithMode selects the execution mode. Defaults to async.
func WithMode(mode database.Mode) Option {
	return func(o *options) { o.mode = mode }
}

// WithCommit makes the session commit when the request ends cleanly. By
// default request sessions do not commit; handlers commit what they need.
func WithCommit(commit bool) Option {
	return func(o *options) { o.commit = commit }
}

// WithSessionOptions layers session options over the configured ones.
func WithSessionOptions(opts map[string]any) Option {
	return func(o *options) { o.sessionOptions = opts }
}

// NoCache gives every dependent its own value within one request.
func NoCache() Option {
	return func(o *options) { o.cache = false }
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) scopeOptions() []database.ScopeOption {
	so := []database.ScopeOption{database.WithCommit(o.commit)}
	if len(o.sessionOptions) > 0 {
		so = append(so, database.WithSessionOptions(o.sessionOptions))
	}
	return so
}

func withCache[T any](p *Provider[T], o options) *Provider[T] {
	if !o.cache {
		return p.NoCache()
	}
	return p
}

// MagicProvider yields the current configuration.
var MagicProvider = NewProvider("magic", func(ctx context.Context, r *Request) (*database.Magic, Teardown, error) {
	m, err := database.Current()
	return m, nil, err
})

// DefaultSession is the async, non-committing request session shared by
// DefaultManager and DefaultScope.
var DefaultSession = Session()

// DefaultManager is a Manager over DefaultSession.
var DefaultManager = managerOver("manager", DefaultSession)

// DefaultScope pairs the current configuration with DefaultSession.
var DefaultScope = scopeOver("scope", DefaultSession)

// Session provides a scoped session that lives until the request ends. Each
// call returns a distinct provider with its own cache entry, so build
// providers once and reuse them.
func Session(opts ...Option) *Provider[*database.Session] {
	o := buildOptions(opts)
	p := NewProvider("session", func(ctx context.Context, r *Request) (*database.Session, Teardown, error) {
		m, err := Resolve(r, MagicProvider)
		if err != nil {
			return nil, nil, err
		}
		scope, err := m.ScopedSession(o.mode, o.scopeOptions()...)
		if err != nil {
			return nil, nil, err
		}
		s, err := scope.Enter(ctx)
		if err != nil {
			return nil, nil, err
		}
		return s, scope.Exit, nil
	})
	return withCache(p, o)
}

// Manager provides a binding.Manager over a request session. Without options
// it shares DefaultSession.
func Manager(opts ...Option) *Provider[*binding.Manager] {
	if len(opts) == 0 {
		return DefaultManager
	}
	o := buildOptions(opts)
	return withCache(managerOver("manager", Session(opts...)), o)
}

func managerOver(name string, session *Provider[*database.Session]) *Provider[*binding.Manager] {
	return NewProvider(name, func(ctx context.Context, r *Request) (*binding.Manager, Teardown, error) {
		s, err := Resolve(r, session)
		if err != nil {
			return nil, nil, err
		}
		return binding.NewManager(s), nil, nil
	})
}

// MagicScope is the configuration together with a request session.
type MagicScope struct {
	Magic   *database.Magic
	Session *database.Session
}

// Manager returns a new binding.Manager over the scope's session.
func (s MagicScope) Manager() *binding.Manager {
	return binding.NewManager(s.Session)
}

// Scope provides a MagicScope. Without options it shares DefaultSession.
func Scope(opts ...Option) *Provider[MagicScope] {
	if len(opts) == 0 {
		return DefaultScope
	}
	o := buildOptions(opts)
	return withCache(scopeOver("scope", Session(opts...)), o)
}

func scopeOver(name string, session *Provider[*database.Session]) *Provider[MagicScope] {
	return NewProvider(name, func(ctx context.Context, r *Request) (MagicScope, Teardown, error) {
		m, err := Resolve(r, MagicProvider)
		if err != nil {
			return MagicScope{}, nil, err
		}
		s, err := Resolve(r, session)
		if err != nil {
			return MagicScope{}, nil, err
		}
		return MagicScope{Magic: m, Session: s}, nil, nil
	})
}
