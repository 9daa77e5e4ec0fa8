/*
Copyright 2024 Nullroute Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package exchange

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy is the retry schedule for transient exchange failures. MaxAttempts counts the first
// try, so MaxAttempts-1 retries are handed out. The delay before retry k (1-based) is
// BaseDelay * (1 + Multiplier*(k-1)), which with the defaults gives 1s then 2s.
//
// RetryPolicy implements backoff.BackOff. It keeps a retry counter, so each call must work on its
// own copy.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64

	retries int
}

// DefaultRetryPolicy returns 3 attempts with 1s and 2s between them.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  1,
	}
}

// Delay returns the wait before the given retry (1-based).
func (p RetryPolicy) Delay(retry int) time.Duration {
	if retry < 1 {
		return 0
	}
	factor := 1 + p.Multiplier*float64(retry-1)
	return time.Duration(float64(p.BaseDelay) * factor)
}

func (p *RetryPolicy) NextBackOff() time.Duration {
	if p.retries >= p.MaxAttempts-1 {
		return backoff.Stop
	}
	p.retries++
	return p.Delay(p.retries)
}

func (p *RetryPolicy) Reset() {
	p.retries = 0
}

// fresh returns a copy with its counter cleared.
func (p RetryPolicy) fresh() *RetryPolicy {
	p.retries = 0
	return &p
}
