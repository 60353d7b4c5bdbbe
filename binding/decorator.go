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

package binding

import (
	"context"

	"github.com/tomoncle/magic/database"
)

type CallOption func(*callOptions)

type callOptions struct {
	session *database.Session
}

// UsingSession supplies the session explicitly. It takes precedence over a
// bound one.
func UsingSession(s *database.Session) CallOption {
	return func(o *callOptions) { o.session = s }
}

// Resolve picks the session for a call on owner: the explicit one if given,
// otherwise the one bound to owner. It fails with ErrSessionNotBound when
// there is neither.
func Resolve(owner Bindable, opts ...CallOption) (*database.Session, error) {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.session != nil {
		return o.session, nil
	}
	if owner != nil {
		if s := owner.Session(); s != nil {
			return s, nil
		}
	}
	return nil, database.ErrSessionNotBound
}

// Method is a function whose session is resolved at call time.
type Method[R any] func(ctx context.Context, opts ...CallOption) (R, error)

// AsyncMethod is the async form of Method.
type AsyncMethod[R any] func(ctx context.Context, opts ...CallOption) *database.Future[R]

// Required wraps fn so callers need not pass a session.
//
//	func (r *UserRepo) Count(ctx context.Context, opts ...binding.CallOption) (int, error) {
//		return binding.Required(r, func(ctx context.Context, s *database.Session) (int, error) {
//			return s.NewSelect().Model((*User)(nil)).Count(ctx)
//		})(ctx, opts...)
//	}
func Required[R any](owner Bindable, fn func(ctx context.Context, s *database.Session) (R, error)) Method[R] {
	return func(ctx context.Context, opts ...CallOption) (R, error) {
		s, err := Resolve(owner, opts...)
		if err != nil {
			var zero R
			return zero, err
		}
		return fn(ctx, s)
	}
}

// RequiredAsync is Required with fn run on its own goroutine. The session is
// resolved before fn starts, so a missing session shows up in the Future
// without fn ever running.
func RequiredAsync[R any](owner Bindable, fn func(ctx context.Context, s *database.Session) (R, error)) AsyncMethod[R] {
	return func(ctx context.Context, opts ...CallOption) *database.Future[R] {
		s, err := Resolve(owner, opts...)
		return database.Go(ctx, func(ctx context.Context) (R, error) {
			if err != nil {
				var zero R
				return zero, err
			}
			return fn(ctx, s)
		})
	}
}

// Call is Required(owner, fn)(ctx, opts...).
func Call[R any](ctx context.Context, owner Bindable, fn func(ctx context.Context, s *database.Session) (R, error), opts ...CallOption) (R, error) {
	return Required(owner, fn)(ctx, opts...)
}

// Exec is Call for functions without a result.
func Exec(ctx context.Context, owner Bindable, fn func(ctx context.Context, s *database.Session) error, opts ...CallOption) error {
	_, err := Call(ctx, owner, func(ctx context.Context, s *database.Session) (struct{}, error) {
		return struct{}{}, fn(ctx, s)
	}, opts...)
	return err
}
