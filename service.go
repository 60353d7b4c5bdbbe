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

package magic

import (
	"context"

	"github.com/tomoncle/magic/binding"
	"github.com/tomoncle/magic/database"
	"github.com/tomoncle/magic/repository"
	"github.com/tomoncle/magic/types"
)

type Service[T any] interface {
	// Get returns a single entity by its identifier.
	Get(ctx context.Context, id any) (*T, error)

	// All returns all entities.
	All(ctx context.Context) ([]*T, error)

	// List returns entities that match the provided filter.
	List(ctx context.Context, filter *types.QueryFilter) ([]*T, error)

	// Query selects entities with a raw where clause.
	Query(ctx context.Context, query string, args ...interface{}) ([]*T, error)

	// Count returns the number of entities that match the provided filter.
	Count(ctx context.Context, filter *types.QueryFilter) (int, error)

	// Page returns a paginated list of entities.
	Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[T], error)

	// Update modifies an existing entity.
	Update(ctx context.Context, model *T) error

	// Delete removes an entity by its identifier.
	Delete(ctx context.Context, id any) error

	// Save inserts one or more new entities.
	Save(ctx context.Context, model ...*T) error

	// SaveOrUpdate upserts entities based on fields and duplicate keys.
	SaveOrUpdate(ctx context.Context, fields []string, duplicateKeys []string, model ...*T) error

	// InSession returns a Service that runs on s instead of opening its own
	// scopes. Committing s is up to the caller.
	InSession(s *database.Session) Service[T]
}

type baseServiceImpl[T any] struct {
	mode    database.Mode
	session *database.Session
}

// NewService returns a Service that opens one scoped session of mode per
// call on the current Magic. Writes commit, reads do not.
func NewService[T any](mode database.Mode) Service[T] {
	return &baseServiceImpl[T]{mode: mode}
}

func (s *baseServiceImpl[T]) InSession(session *database.Session) Service[T] {
	return &baseServiceImpl[T]{mode: s.mode, session: session}
}

func (s *baseServiceImpl[T]) run(ctx context.Context, commit bool, fn func(ctx context.Context, repo repository.Repository[T]) error) error {
	if s.session != nil {
		return fn(ctx, repository.NewRepository[T](s.session))
	}
	m, err := database.Current()
	if err != nil {
		return err
	}
	return m.Run(ctx, s.mode, func(ctx context.Context, session *database.Session) error {
		return fn(ctx, repository.NewRepository[T](session))
	}, database.WithCommit(commit))
}

func query[T, R any](ctx context.Context, s *baseServiceImpl[T], fn func(ctx context.Context, repo repository.Repository[T]) (R, error)) (R, error) {
	var result R
	err := s.run(ctx, false, func(ctx context.Context, repo repository.Repository[T]) error {
		var err error
		result, err = fn(ctx, repo)
		return err
	})
	return result, err
}

func (s *baseServiceImpl[T]) Save(ctx context.Context, model ...*T) error {
	return s.run(ctx, true, func(ctx context.Context, repo repository.Repository[T]) error {
		return repo.Create(ctx, model...)
	})
}

func (s *baseServiceImpl[T]) SaveOrUpdate(ctx context.Context, fields []string, duplicateKeys []string, model ...*T) error {
	return s.run(ctx, true, func(ctx context.Context, repo repository.Repository[T]) error {
		return repo.Upsert(ctx, fields, duplicateKeys, model...)
	})
}

func (s *baseServiceImpl[T]) Update(ctx context.Context, model *T) error {
	return s.run(ctx, true, func(ctx context.Context, repo repository.Repository[T]) error {
		return repo.Update(ctx, model)
	})
}

func (s *baseServiceImpl[T]) Delete(ctx context.Context, id any) error {
	return s.run(ctx, true, func(ctx context.Context, repo repository.Repository[T]) error {
		return repo.Delete(ctx, id)
	})
}

func (s *baseServiceImpl[T]) Get(ctx context.Context, id any) (*T, error) {
	return query(ctx, s, func(ctx context.Context, repo repository.Repository[T]) (*T, error) {
		return repo.GetOne(ctx, id)
	})
}

func (s *baseServiceImpl[T]) All(ctx context.Context) ([]*T, error) {
	return query(ctx, s, func(ctx context.Context, repo repository.Repository[T]) ([]*T, error) {
		return repo.GetAll(ctx)
	})
}

func (s *baseServiceImpl[T]) List(ctx context.Context, filter *types.QueryFilter) ([]*T, error) {
	return query(ctx, s, func(ctx context.Context, repo repository.Repository[T]) ([]*T, error) {
		return repo.List(ctx, filter)
	})
}

func (s *baseServiceImpl[T]) Query(ctx context.Context, where string, args ...interface{}) ([]*T, error) {
	return query(ctx, s, func(ctx context.Context, repo repository.Repository[T]) ([]*T, error) {
		return repo.Query(ctx, where, args...)
	})
}

func (s *baseServiceImpl[T]) Count(ctx context.Context, filter *types.QueryFilter) (int, error) {
	return query(ctx, s, func(ctx context.Context, repo repository.Repository[T]) (int, error) {
		return repo.Count(ctx, filter)
	})
}

func (s *baseServiceImpl[T]) Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[T], error) {
	return query(ctx, s, func(ctx context.Context, repo repository.Repository[T]) (*types.Pagination[T], error) {
		return repo.Page(ctx, page)
	})
}

// UnitOfWork opens one scoped session of mode on the current Magic and hands
// fn a Manager over it, so every repository fn binds shares the transaction.
func UnitOfWork(ctx context.Context, mode database.Mode, fn func(ctx context.Context, m *binding.Manager) error, opts ...database.ScopeOption) error {
	m, err := database.Current()
	if err != nil {
		return err
	}
	return m.Run(ctx, mode, func(ctx context.Context, s *database.Session) error {
		return fn(ctx, binding.NewManager(s))
	}, opts...)
}
