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

package dependency

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	opened int
	closed []string
}

func (c *counter) provider(name string) *Provider[int] {
	return NewProvider(name, func(ctx context.Context, r *Request) (int, Teardown, error) {
		c.opened++
		n := c.opened
		return n, func(cause error) error {
			c.closed = append(c.closed, name)
			return cause
		}, nil
	})
}

func TestResolveCachesPerRequest(t *testing.T) {
	c := &counter{}
	p := c.provider("num")
	r := NewRequest(context.Background())

	first, err := Resolve(r, p)
	require.NoError(t, err)
	second, err := Resolve(r, p)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, c.opened)

	other := NewRequest(context.Background())
	third, err := Resolve(other, p)
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
	assert.Equal(t, 2, c.opened)
}

func TestResolveNoCache(t *testing.T) {
	c := &counter{}
	p := c.provider("num")
	fresh := p.NoCache()
	assert.True(t, p.Cached())
	assert.False(t, fresh.Cached())
	assert.Equal(t, "num", fresh.Name())

	r := NewRequest(context.Background())
	a, err := Resolve(r, fresh)
	require.NoError(t, err)
	b, err := Resolve(r, fresh)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	require.NoError(t, r.Close(nil))
	assert.Equal(t, []string{"num", "num"}, c.closed)
}

func TestProvidersAreKeyedByIdentity(t *testing.T) {
	c := &counter{}
	a := c.provider("same")
	b := c.provider("same")
	r := NewRequest(context.Background())

	va, err := Resolve(r, a)
	require.NoError(t, err)
	vb, err := Resolve(r, b)
	require.NoError(t, err)
	assert.NotEqual(t, va, vb)
}

func TestCloseRunsTeardownsInReverse(t *testing.T) {
	c := &counter{}
	inner := c.provider("inner")
	outer := NewProvider("outer", func(ctx context.Context, r *Request) (int, Teardown, error) {
		n, err := Resolve(r, inner)
		if err != nil {
			return 0, nil, err
		}
		return n * 10, func(cause error) error {
			c.closed = append(c.closed, "outer")
			return cause
		}, nil
	})
	last := c.provider("last")

	r := NewRequest(context.Background())
	v, err := Resolve(r, outer)
	require.NoError(t, err)
	assert.Equal(t, 10, v)
	_, err = Resolve(r, last)
	require.NoError(t, err)

	require.NoError(t, r.Close(nil))
	assert.Equal(t, []string{"last", "outer", "inner"}, c.closed)
}

func TestCloseThreadsCause(t *testing.T) {
	boom := errors.New("boom")
	commitErr := errors.New("commit failed")
	var seen []error

	first := NewProvider("first", func(ctx context.Context, r *Request) (string, Teardown, error) {
		return "a", func(cause error) error {
			seen = append(seen, cause)
			return cause
		}, nil
	})
	second := NewProvider("second", func(ctx context.Context, r *Request) (string, Teardown, error) {
		return "b", func(cause error) error {
			seen = append(seen, cause)
			if cause == nil {
				return commitErr
			}
			return cause
		}, nil
	})

	r := NewRequest(context.Background())
	_, _ = Resolve(r, first)
	_, _ = Resolve(r, second)
	err := r.Close(nil)
	assert.True(t, err == commitErr)
	assert.Equal(t, []error{nil, commitErr}, seen)

	seen = nil
	r = NewRequest(context.Background())
	_, _ = Resolve(r, first)
	_, _ = Resolve(r, second)
	r.Fail(boom)
	r.Fail(errors.New("later"))
	assert.True(t, r.Err() == boom)
	err = r.Close(nil)
	assert.True(t, err == boom)
	assert.Equal(t, []error{boom, boom}, seen)
}

func TestClosedRequest(t *testing.T) {
	c := &counter{}
	p := c.provider("num")
	r := NewRequest(context.Background())
	require.NoError(t, r.Close(nil))

	_, err := Resolve(r, p)
	assert.ErrorIs(t, err, ErrRequestClosed)
	assert.Zero(t, c.opened)
	assert.ErrorIs(t, r.Close(nil), ErrRequestClosed)
}

func TestResolveOpenError(t *testing.T) {
	boom := errors.New("boom")
	p := NewProvider("broken", func(ctx context.Context, r *Request) (int, Teardown, error) {
		return 0, nil, boom
	})
	r := NewRequest(context.Background())
	_, err := Resolve(r, p)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "broken")
	assert.NoError(t, r.Close(nil))
}

func TestRequestContext(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))

	r := NewRequest(context.Background())
	ctx := WithRequest(context.Background(), r)
	assert.Same(t, r, FromContext(ctx))
	assert.Equal(t, context.Background(), r.Context())
}

func TestConcurrentResolveKeepsOneValue(t *testing.T) {
	var opened, tornDown atomic.Int32
	var entered sync.WaitGroup
	entered.Add(2)
	p := NewProvider("shared", func(ctx context.Context, r *Request) (int, Teardown, error) {
		n := int(opened.Add(1))
		entered.Done()
		entered.Wait()
		return n, func(cause error) error {
			tornDown.Add(1)
			return cause
		}, nil
	})

	r := NewRequest(context.Background())
	var got [2]int
	var wg sync.WaitGroup
	for i := range got {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := Resolve(r, p)
			assert.NoError(t, err)
			got[i] = v
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(2), opened.Load())
	assert.Equal(t, got[0], got[1])
	assert.Equal(t, int32(1), tornDown.Load(), "the losing value is torn down right away")

	require.NoError(t, r.Close(nil))
	assert.Equal(t, int32(2), tornDown.Load())

	v, err := Resolve(NewRequest(context.Background()), p.NoCache())
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}
