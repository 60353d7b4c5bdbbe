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
	"fmt"
	"reflect"
	"slices"
	"sort"
	"sync"

	"github.com/uptrace/bun"
)

// SQLModel describes a table model known to a Metadata. Instance returns a
// struct pointer compatible with bun; lower priorities are created first.
type SQLModel interface {
	Instance() interface{}
	Priority() int
}

type ModelAdapter struct {
	instance interface{}
	priority int
}

// NewModelAdapter wraps a struct pointer and priority into an SQLModel.
func NewModelAdapter(instance interface{}, priority int) SQLModel {
	return &ModelAdapter{
		instance: instance,
		priority: priority,
	}
}

func (a *ModelAdapter) Instance() interface{} {
	return a.instance
}

func (a *ModelAdapter) Priority() int {
	return a.priority
}

// Metadata is the set of table models that belong to one configuration.
type Metadata struct {
	models []SQLModel
	mutex  sync.RWMutex
}

func NewMetadata() *Metadata {
	return &Metadata{models: make([]SQLModel, 0)}
}

// Register adds models. A model whose instance type is already registered is
// ignored.
func (m *Metadata) Register(models ...SQLModel) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for _, model := range models {
		t := reflect.TypeOf(model.Instance())
		if slices.ContainsFunc(m.models, func(x SQLModel) bool { return reflect.TypeOf(x.Instance()) == t }) {
			continue
		}
		m.models = append(m.models, model)
	}
}

// Models returns the registered models sorted by ascending priority.
func (m *Metadata) Models() []SQLModel {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	result := make([]SQLModel, len(m.models))
	copy(result, m.models)
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Priority() < result[j].Priority()
	})
	return result
}

func (m *Metadata) Instances() []interface{} {
	models := m.Models()
	instances := make([]interface{}, len(models))
	for i, model := range models {
		instances[i] = model.Instance()
	}
	return instances
}

// Bind registers every model with db, which bun needs for m2m relations.
func (m *Metadata) Bind(db *bun.DB) {
	if instances := m.Instances(); len(instances) > 0 {
		db.RegisterModel(instances...)
	}
}

// CreateAll creates the tables that do not exist yet, in priority order.
func (m *Metadata) CreateAll(ctx context.Context, db bun.IDB) error {
	for _, instance := range m.Instances() {
		if _, err := db.NewCreateTable().Model(instance).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table for %T: %w", instance, err)
		}
	}
	return nil
}

// DropAll drops the tables in reverse priority order.
func (m *Metadata) DropAll(ctx context.Context, db bun.IDB) error {
	instances := m.Instances()
	slices.Reverse(instances)
	for _, instance := range instances {
		if _, err := db.NewDropTable().Model(instance).IfExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to drop table for %T: %w", instance, err)
		}
	}
	return nil
}
