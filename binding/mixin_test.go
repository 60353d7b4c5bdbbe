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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomoncle/magic/database"
)

func TestWithSession(t *testing.T) {
	s := new(database.Session)
	users := WithSession[userRepo](s)
	assert.Same(t, s, users.Session())
	assert.Equal(t, "userrepo", users.Name())

	a, b := users.New(), users.New()
	assert.NotSame(t, a, b)
	assert.Same(t, s, a.Session())
	assert.Same(t, s, b.Session())

	got, err := a.Whoami(context.Background())
	require.NoError(t, err)
	assert.Same(t, s, got)
}

func TestWithSessionLeavesBaseTypeUnbound(t *testing.T) {
	_ = WithSession[userRepo](new(database.Session)).New()

	plain := &userRepo{}
	assert.False(t, plain.Bound())
	_, err := plain.Whoami(context.Background())
	assert.ErrorIs(t, err, database.ErrSessionNotBound)
}

func TestBoundClassBind(t *testing.T) {
	s := new(database.Session)
	repo := &userRepo{calls: 3}
	got := WithSession[userRepo](s).Bind(repo)
	assert.Same(t, repo, got)
	assert.Same(t, s, repo.Session())
	assert.Equal(t, 3, repo.calls)
}

type genericRepo[T any] struct {
	SessionMixin
}

func TestBoundClassNameOfGenericType(t *testing.T) {
	assert.Equal(t, "genericrepo", WithSession[genericRepo[int]](nil).Name())
}
