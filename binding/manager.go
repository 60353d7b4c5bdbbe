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
	"sort"
	"strings"
	"sync"

	"github.com/tomoncle/magic/database"
)

// Manager binds many types to one session for the length of a unit of work.
// Registered bound classes are cached per type, so repeated registration
// yields the same *BoundClass.
type Manager struct {
	session *database.Session

	mu    sync.Mutex
	cache map[reflect.Type]any
	names map[string]any
}

func NewManager(s *database.Session) *Manager {
	return &Manager{
		session: s,
		cache:   make(map[reflect.Type]any),
		names:   make(map[string]any),
	}
}

func (m *Manager) Session() *database.Session { return m.session }

// RegisterModel binds T to the manager's session, caching the result. It is
// also reachable through Lookup under name, or the lowercase type name when
// name is omitted.
func RegisterModel[T any, PT Binder[T]](m *Manager, name ...string) *BoundClass[T, PT] {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := reflect.TypeFor[T]()
	bc, ok := m.cache[t].(*BoundClass[T, PT])
	if !ok {
		bc = WithSession[T, PT](m.session)
		m.cache[t] = bc
	}
	key := bc.Name()
	if len(name) > 0 && strings.TrimSpace(name[0]) != "" {
		key = name[0]
	}
	m.names[key] = bc
	return bc
}

// Model binds T to the manager's session without touching the cache.
func Model[T any, PT Binder[T]](m *Manager) *BoundClass[T, PT] {
	return WithSession[T, PT](m.session)
}

// Lookup returns the bound class registered under name.
func (m *Manager) Lookup(name string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bc, ok := m.names[name]
	return bc, ok
}

// Names lists the registration names in sorted order.
func (m *Manager) Names() []string {
	m.mu.Lock()
	names := make([]string, 0, len(m.names))
	for name := range m.names {
		names = append(names, name)
	}
	m.mu.Unlock()
	sort.Strings(names)
	return names
}

// Instance returns a value of T bound to the manager's session, registering
// T first if needed.
func Instance[T any, PT Binder[T]](m *Manager) PT {
	return RegisterModel[T, PT](m).New()
}
