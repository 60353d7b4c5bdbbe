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
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

const memoryURL = "sqlite:///:memory:"

type item struct {
	bun.BaseModel `bun:"table:items"`

	ID   int64  `bun:"id,pk,autoincrement"`
	Name string `bun:"name,notnull"`
}

type recorder struct {
	mu     sync.Mutex
	events []SessionEvent
}

func (r *recorder) OnSessionEvent(_ context.Context, ev SessionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]EventKind, len(r.events))
	for i, ev := range r.events {
		kinds[i] = ev.Kind
	}
	return kinds
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

func fileURL(t *testing.T) string {
	return "sqlite:///" + filepath.Join(t.TempDir(), "magic.db")
}

// newTestMagic builds an uninstalled Magic with a single mode and an items
// table.
func newTestMagic(t *testing.T, url string, mode Mode, listeners ...SessionListener) *Magic {
	t.Helper()
	cfg := Config{Logger: NopLogger(), Listeners: listeners}
	spec := NewConnectionSpec(url, nil, nil)
	if mode == ModeSync {
		cfg.Sync = spec
	} else {
		cfg.Async = spec
	}
	m, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	m.Metadata().Register(NewModelAdapter((*item)(nil), 0))
	err = m.Run(context.Background(), mode, func(ctx context.Context, s *Session) error {
		return m.Metadata().CreateAll(ctx, s.IDB())
	})
	require.NoError(t, err)
	return m
}

func countItems(t *testing.T, m *Magic, mode Mode) int {
	t.Helper()
	var n int
	err := m.Run(context.Background(), mode, func(ctx context.Context, s *Session) error {
		var err error
		n, err = s.NewSelect().Model((*item)(nil)).Count(ctx)
		return err
	}, WithCommit(false))
	require.NoError(t, err)
	return n
}

func insertItem(ctx context.Context, s *Session, name string) error {
	_, err := s.NewInsert().Model(&item{Name: name}).Exec(ctx)
	return err
}
