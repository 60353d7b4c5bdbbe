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
	"github.com/uptrace/bun"
)

type tag struct {
	bun.BaseModel `bun:"table:tags"`

	ID     int64  `bun:"id,pk,autoincrement"`
	ItemID int64  `bun:"item_id,notnull"`
	Label  string `bun:"label"`
}

func TestMetadataRegister(t *testing.T) {
	md := NewMetadata()
	md.Register(NewModelAdapter((*tag)(nil), 10), NewModelAdapter((*item)(nil), 1))
	md.Register(NewModelAdapter((*item)(nil), 5))

	models := md.Models()
	require.Len(t, models, 2)
	assert.IsType(t, (*item)(nil), models[0].Instance())
	assert.Equal(t, 1, models[0].Priority())
	assert.IsType(t, (*tag)(nil), models[1].Instance())
}

func TestMetadataCreateAndDropAll(t *testing.T) {
	m := newTestMagic(t, memoryURL, ModeSync)
	m.Metadata().Register(NewModelAdapter((*tag)(nil), 10))
	engine, err := m.SyncEngine()
	require.NoError(t, err)
	m.Metadata().Bind(engine.DB())
	ctx := context.Background()

	require.NoError(t, m.Metadata().CreateAll(ctx, engine.DB()))
	err = m.Run(ctx, ModeSync, func(ctx context.Context, s *Session) error {
		_, err := s.NewInsert().Model(&tag{ItemID: 1, Label: "x"}).Exec(ctx)
		return err
	})
	require.NoError(t, err)

	require.NoError(t, m.Metadata().DropAll(ctx, engine.DB()))
	err = m.Run(ctx, ModeSync, func(ctx context.Context, s *Session) error {
		_, err := s.NewSelect().Model((*tag)(nil)).Count(ctx)
		return err
	})
	_, kind := ClassifyError(err)
	assert.Equal(t, NoTableErr, kind)
}
