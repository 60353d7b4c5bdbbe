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
	"reflect"
	"strings"

	"github.com/tomoncle/magic/database"
)

// Bindable is anything that can carry a session.
type Bindable interface {
	BindSession(s *database.Session)
	Session() *database.Session
}

// SessionMixin is embedded by types that resolve their session implicitly.
//
//	type UserRepo struct {
//		binding.SessionMixin
//	}
type SessionMixin struct {
	session *database.Session
}

var _ Bindable = (*SessionMixin)(nil)

// BindSession binds this value only.
func (m *SessionMixin) BindSession(s *database.Session) { m.session = s }

// Session returns the bound session, or nil.
func (m *SessionMixin) Session() *database.Session {
	if m == nil {
		return nil
	}
	return m.session
}

func (m *SessionMixin) Bound() bool { return m.Session() != nil }

// Binder is satisfied by *T when T embeds SessionMixin.
type Binder[T any] interface {
	*T
	Bindable
}

// BoundClass is T bound to one session: every value it produces resolves to
// that session. Binding never touches T itself, so unbound values of T keep
// working as before.
type BoundClass[T any, PT Binder[T]] struct {
	session *database.Session
}

// WithSession binds T to s.
//
//	users := binding.WithSession[UserRepo](session)
//	repo := users.New()
func WithSession[T any, PT Binder[T]](s *database.Session) *BoundClass[T, PT] {
	return &BoundClass[T, PT]{session: s}
}

func (c *BoundClass[T, PT]) Session() *database.Session { return c.session }

// New returns a zero T bound to the session.
func (c *BoundClass[T, PT]) New() PT {
	v := PT(new(T))
	v.BindSession(c.session)
	return v
}

// Bind binds v to the session and returns it.
func (c *BoundClass[T, PT]) Bind(v PT) PT {
	v.BindSession(c.session)
	return v
}

func (c *BoundClass[T, PT]) Type() reflect.Type { return reflect.TypeFor[T]() }

// Name is the lowercase type name, the default registration name.
func (c *BoundClass[T, PT]) Name() string { return typeName(c.Type()) }

func typeName(t reflect.Type) string {
	name := t.Name()
	// drop type arguments of generic types
	if i := strings.IndexByte(name, '['); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(name)
}
