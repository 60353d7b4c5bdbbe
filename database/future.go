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

	"github.com/sourcegraph/conc/panics"
)

// Future is the result of work started on its own goroutine. A panic in the
// work is re-raised in whoever waits for the result.
type Future[T any] struct {
	done    chan struct{}
	value   T
	err     error
	catcher panics.Catcher
}

// Go runs fn on a new goroutine.
func Go[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.catcher.Try(func() {
			f.value, f.err = fn(ctx)
		})
	}()
	return f
}

// Done is closed once the work has finished.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Wait blocks until the work finishes or ctx is done. In the latter case the
// work keeps running and ctx.Err() is returned.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	if bodyFinished(ctx, f) {
		return f.result()
	}
	var zero T
	return zero, ctx.Err()
}

// Get blocks until the work finishes.
func (f *Future[T]) Get() (T, error) {
	<-f.done
	return f.result()
}

func (f *Future[T]) result() (T, error) {
	f.catcher.Repanic()
	return f.value, f.err
}

// recovered returns the captured panic, if any, without re-raising it.
func (f *Future[T]) recovered() *panics.Recovered {
	<-f.done
	return f.catcher.Recovered()
}
