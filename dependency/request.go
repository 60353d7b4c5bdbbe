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
	"errors"
	"fmt"
	"sync"
)

var (
	ErrRequestClosed = errors.New("dependency: request already closed")
	ErrNoRequest     = errors.New("dependency: no request scope in context, install Middleware")
)

// Teardown ends what a provider opened. cause is the error the request ended
// with, or nil; the returned error is handed to the next teardown.
type Teardown func(cause error) error

// Provider opens a value of T for a request. Within one Request a cached
// provider is opened at most once; the cache key is the *Provider itself.
type Provider[T any] struct {
	name  string
	open  func(ctx context.Context, r *Request) (T, Teardown, error)
	cache bool
}

func NewProvider[T any](name string, open func(ctx context.Context, r *Request) (T, Teardown, error)) *Provider[T] {
	return &Provider[T]{name: name, open: open, cache: true}
}

func (p *Provider[T]) Name() string { return p.name }

func (p *Provider[T]) Cached() bool { return p.cache }

// NoCache returns a copy of p that opens a fresh value on every Resolve.
func (p *Provider[T]) NoCache() *Provider[T] {
	c := *p
	c.cache = false
	return &c
}

// Request holds the resolved values and pending teardowns of one request.
type Request struct {
	ctx context.Context

	mu        sync.Mutex
	cache     map[any]any
	teardowns []Teardown
	failure   error
	closed    bool
}

func NewRequest(ctx context.Context) *Request {
	return &Request{ctx: ctx, cache: make(map[any]any)}
}

func (r *Request) Context() context.Context { return r.ctx }

// Fail records err as the request's outcome; Close then rolls back instead of
// committing. The first recorded error wins.
func (r *Request) Fail(err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failure == nil {
		r.failure = err
	}
}

func (r *Request) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failure
}

// Resolve returns the value of p for r, opening it if needed.
func Resolve[T any](r *Request, p *Provider[T]) (T, error) {
	var zero T
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return zero, ErrRequestClosed
	}
	if p.cache {
		if v, ok := r.cache[p]; ok {
			r.mu.Unlock()
			return v.(T), nil
		}
	}
	r.mu.Unlock()

	// open may resolve other providers, so it runs unlocked
	v, td, err := p.open(r.ctx, r)
	if err != nil {
		return zero, fmt.Errorf("failed to resolve %s: %w", p.name, err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		if td != nil {
			_ = td(ErrRequestClosed)
		}
		return zero, ErrRequestClosed
	}
	if p.cache {
		// a concurrent Resolve got there first; its value is kept
		if kept, ok := r.cache[p]; ok {
			r.mu.Unlock()
			if td != nil {
				_ = td(nil)
			}
			return kept.(T), nil
		}
		r.cache[p] = v
	}
	if td != nil {
		r.teardowns = append(r.teardowns, td)
	}
	r.mu.Unlock()
	return v, nil
}

// Close runs the teardowns in reverse order of opening. The cause handed to
// the first teardown is cause, or the error recorded with Fail. The result is
// what the last teardown returned: cause itself when the request failed,
// otherwise nil or the first commit or close error.
func (r *Request) Close(cause error) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRequestClosed
	}
	r.closed = true
	if cause == nil {
		cause = r.failure
	}
	teardowns := r.teardowns
	r.teardowns = nil
	r.cache = nil
	r.mu.Unlock()

	for i := len(teardowns) - 1; i >= 0; i-- {
		cause = teardowns[i](cause)
	}
	return cause
}

type requestKey struct{}

// WithRequest returns a copy of ctx carrying r.
func WithRequest(ctx context.Context, r *Request) context.Context {
	return context.WithValue(ctx, requestKey{}, r)
}

// FromContext returns the Request installed in ctx, or nil.
func FromContext(ctx context.Context) *Request {
	r, _ := ctx.Value(requestKey{}).(*Request)
	return r
}
