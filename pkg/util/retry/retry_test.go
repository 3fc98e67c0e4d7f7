// Copyright (C) 2019-2020 Zilliz. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software distributed under the License
// is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express
// or implied. See the License for the specific language governing permissions and limitations under the License.

package retry

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"

	"github.com/lk2023060901/danmu-garden-chat/pkg/util/merr"
)

func TestDoSucceedsAfterFailures(t *testing.T) {
	ctx := context.Background()
	n := 0
	err := Do(ctx, func() error {
		n++
		if n < 3 {
			return merr.WrapErrStoreUnavailable("enqueue_offline", io.ErrUnexpectedEOF)
		}
		return nil
	}, Sleep(time.Millisecond))
	assert.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestDoAttempts(t *testing.T) {
	n := 0
	err := Do(context.Background(), func() error {
		n++
		return merr.ErrStoreUnavailable
	}, Attempts(3), Sleep(time.Millisecond))
	assert.ErrorIs(t, err, merr.ErrStoreUnavailable)
	assert.Equal(t, 3, n)
}

func TestDoUnrecoverable(t *testing.T) {
	n := 0
	err := Do(context.Background(), func() error {
		n++
		return Unrecoverable(errors.New("bad row"))
	}, Sleep(time.Millisecond))
	assert.Error(t, err)
	assert.False(t, IsRecoverable(err))
	assert.Equal(t, 1, n)
}

func TestDoRetryErrFilter(t *testing.T) {
	n := 0
	err := Do(context.Background(), func() error {
		n++
		return merr.WrapErrAuthUsernameTaken("bob")
	}, RetryErr(merr.IsRetryableErr), Sleep(time.Millisecond))
	assert.ErrorIs(t, err, merr.ErrAuthUsernameTaken)
	assert.Equal(t, 1, n)
}

func TestDoCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := Do(ctx, func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestDoContextDoneWhileSleeping(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := Do(ctx, func() error {
		return merr.ErrStoreUnavailable
	}, Attempts(0), Sleep(10*time.Millisecond))
	assert.ErrorIs(t, err, merr.ErrStoreUnavailable)
}

func TestSleepOptions(t *testing.T) {
	c := newDefaultConfig()
	Sleep(5 * time.Second)(c)
	assert.Equal(t, 10*time.Second, c.maxSleepTime)
	MaxSleepTime(time.Second)(c)
	assert.Equal(t, 10*time.Second, c.maxSleepTime)
	c = newDefaultConfig()
	MaxSleepTime(time.Minute)(c)
	assert.Equal(t, time.Minute, c.maxSleepTime)
}
