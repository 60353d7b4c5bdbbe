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

package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/tomoncle/magic/binding"
	"github.com/tomoncle/magic/database"
	"github.com/tomoncle/magic/types"
	"github.com/uptrace/bun/dialect/feature"
)

// Base implements Repository[T]. Embed it to add entity specific queries:
//
//	type UserRepo struct {
//		repository.Base[User]
//	}
//
// The zero value is unbound; bind it with BindSession, binding.WithSession or
// a binding.Manager.
type Base[T any] struct {
	binding.SessionMixin
}

var _ Repository[struct{}] = (*Base[struct{}])(nil)

// NewRepository returns a repository bound to s.
func NewRepository[T any](s *database.Session) Repository[T] {
	return binding.WithSession[Base[T]](s).New()
}

// Using returns a copy of r bound to s, leaving r unchanged.
func (r *Base[T]) Using(s *database.Session) *Base[T] {
	c := &Base[T]{}
	c.BindSession(s)
	return c
}

func (r *Base[T]) ValsToSlice(entity ...*T) []*T {
	entities := make([]*T, len(entity))
	copy(entities, entity)
	return entities
}

func (r *Base[T]) GetOne(ctx context.Context, id any) (*T, error) {
	return binding.Call(ctx, r, func(ctx context.Context, s *database.Session) (*T, error) {
		var entity T
		if err := s.NewSelect().Model(&entity).Where("id = ?", id).Scan(ctx); err != nil {
			return nil, err
		}
		return &entity, nil
	})
}

func (r *Base[T]) GetAll(ctx context.Context) ([]*T, error) {
	return binding.Call(ctx, r, func(ctx context.Context, s *database.Session) ([]*T, error) {
		var entities []*T
		err := s.NewSelect().Model(&entities).Scan(ctx)
		return entities, err
	})
}

func (r *Base[T]) List(ctx context.Context, filter *types.QueryFilter) ([]*T, error) {
	return binding.Call(ctx, r, func(ctx context.Context, s *database.Session) ([]*T, error) {
		var entities []*T
		query := s.NewSelect().Model(&entities)
		if !filter.Empty() {
			query = query.Where(filter.Schema, filter.Args...)
		}
		if err := query.Scan(ctx); err != nil {
			return nil, err
		}
		return entities, nil
	})
}

func (r *Base[T]) Query(ctx context.Context, query string, args ...interface{}) ([]*T, error) {
	return r.List(ctx, types.NewQueryFilter(query, args...))
}

func (r *Base[T]) Count(ctx context.Context, filter *types.QueryFilter) (int, error) {
	return binding.Call(ctx, r, func(ctx context.Context, s *database.Session) (int, error) {
		query := s.NewSelect().Model((*T)(nil))
		if !filter.Empty() {
			query = query.Where(filter.Schema, filter.Args...)
		}
		return query.Count(ctx)
	})
}

func (r *Base[T]) Page(ctx context.Context, pageRequest *types.PageRequest) (*types.Pagination[T], error) {
	return binding.Call(ctx, r, func(ctx context.Context, s *database.Session) (*types.Pagination[T], error) {
		var entities []*T
		query := s.NewSelect().Model(&entities)
		if filter := pageRequest.GetFilter(); !filter.Empty() {
			query = query.Where(filter.Schema, filter.Args...)
		}
		pagination := types.NewDefaultPagination[T](pageRequest.GetPage(), pageRequest.GetPageSize())
		total, err := query.Count(ctx)
		if err != nil || total == 0 {
			return pagination, err
		}
		err = query.
			Offset(pageRequest.GetOffset()).
			Limit(pageRequest.GetPageSize()).
			Order(pageRequest.GetOrders()...).
			Scan(ctx)
		if err != nil {
			return nil, err
		}
		pagination.Total = total
		pagination.Items = entities
		return pagination, nil
	})
}

func (r *Base[T]) Create(ctx context.Context, entity ...*T) error {
	return binding.Exec(ctx, r, func(ctx context.Context, s *database.Session) error {
		entities := r.ValsToSlice(entity...)
		_, err := s.NewInsert().Model(&entities).Exec(ctx)
		return err
	})
}

func (r *Base[T]) Update(ctx context.Context, entity *T) error {
	return binding.Exec(ctx, r, func(ctx context.Context, s *database.Session) error {
		_, err := s.NewUpdate().Model(entity).WherePK().Exec(ctx)
		return err
	})
}

func (r *Base[T]) Delete(ctx context.Context, id any) error {
	return binding.Exec(ctx, r, func(ctx context.Context, s *database.Session) error {
		_, err := s.NewDelete().Model((*T)(nil)).Where("id = ?", id).Exec(ctx)
		return err
	})
}

// Upsert inserts entities and, on a conflict over duplicateKeys (default
// "id"), updates fields.
func (r *Base[T]) Upsert(ctx context.Context, fields []string, duplicateKeys []string, entity ...*T) error {
	if len(fields) == 0 {
		return fmt.Errorf("fields cannot be empty")
	}
	return binding.Exec(ctx, r, func(ctx context.Context, s *database.Session) error {
		entities := r.ValsToSlice(entity...)
		features := s.Dialect().Features()
		switch {
		case features.Has(feature.InsertOnConflict):
			return r.upsertOnConflict(ctx, s, fields, duplicateKeys, entities)
		case features.Has(feature.InsertOnDuplicateKey):
			return r.upsertOnDuplicateKey(ctx, s, fields, entities)
		default:
			return r.upsertFallback(ctx, s, entities)
		}
	})
}

func (r *Base[T]) upsertOnDuplicateKey(ctx context.Context, s *database.Session, fields []string, entities []*T) error {
	var queryArgs []string
	for _, field := range fields {
		queryArgs = append(queryArgs, fmt.Sprintf("%s = VALUES(%s)", field, field))
	}
	_, err := s.NewInsert().
		Model(&entities).
		On("DUPLICATE KEY UPDATE " + strings.Join(queryArgs, ", ")).
		Exec(ctx)
	return err
}

func (r *Base[T]) upsertOnConflict(ctx context.Context, s *database.Session, fields []string, duplicateKeys []string, entities []*T) error {
	if len(duplicateKeys) == 0 {
		duplicateKeys = []string{"id"}
	}
	keyNames := strings.Join(duplicateKeys, ",")
	var queryArgs []string
	for _, field := range fields {
		queryArgs = append(queryArgs, fmt.Sprintf("%s = EXCLUDED.%s", field, field))
	}
	_, err := s.NewInsert().
		Model(&entities).
		On("CONFLICT (" + keyNames + ") DO UPDATE").
		Set(strings.Join(queryArgs, ", ")).
		Exec(ctx)
	return err
}

func (r *Base[T]) upsertFallback(ctx context.Context, s *database.Session, entities []*T) error {
	for _, entity := range entities {
		_, err := s.NewInsert().Model(entity).Exec(ctx)
		if err != nil {
			_, updateErr := s.NewUpdate().Model(entity).WherePK().Exec(ctx)
			if updateErr != nil {
				return fmt.Errorf("upsert failed for entity: insert error: %v, update error: %v", err, updateErr)
			}
		}
	}
	return nil
}
