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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuture(t *testing.T) {
	fut := Go(context.Background(), func(ctx context.Context) (int, error) {
		return 42, nil
	})
	v, err := fut.Get()
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	boom := errors.New("boom")
	_, err = Go(context.Background(), func(ctx context.Context) (int, error) {
		return 0, boom
	}).Wait(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestFutureWaitTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	fut := Go(context.Background(), func(ctx context.Context) (int, error) {
		<-release
		return 1, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := fut.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-fut.Done():
		t.Fatal("future finished early")
	default:
	}
}

func TestFuturePanic(t *testing.T) {
	fut := Go(context.Background(), func(ctx context.Context) (int, error) {
		panic("kaboom")
	})
	<-fut.Done()
	assert.Panics(t, func() { _, _ = fut.Get() })
}

func TestFutureFinishedBeatsDoneContext(t *testing.T) {
	fut := Go(context.Background(), func(ctx context.Context) (int, error) {
		return 7, nil
	})
	<-fut.Done()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for range 100 {
		require.True(t, bodyFinished(ctx, fut))
		v, err := fut.Wait(ctx)
		require.NoError(t, err)
		require.Equal(t, 7, v)
	}

	release := make(chan struct{})
	pending := Go(context.Background(), func(ctx context.Context) (int, error) {
		<-release
		return 0, nil
	})
	assert.False(t, bodyFinished(ctx, pending))
	close(release)
	_, err := pending.Get()
	assert.NoError(t, err)
}
