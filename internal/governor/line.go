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

package governor

import (
	"container/list"
	"context"
	"time"
)

type item struct {
	id         string
	task       Task
	priority   int
	ctx        context.Context
	enqueuedAt time.Time
	done       chan error

	// guarded by Governor.mu
	elem       *list.Element
	dispatched bool
}

// resolve delivers the outcome. Each item is resolved at most once, by the dispatch loop.
func (it *item) resolve(err error) {
	it.done <- err
}

// insertByPriority places it after the last element whose priority is not lower, which keeps
// equal priorities in submission order.
func insertByPriority(l *list.List, it *item) *list.Element {
	for e := l.Back(); e != nil; e = e.Prev() {
		if e.Value.(*item).priority >= it.priority {
			return l.InsertAfter(it, e)
		}
	}
	return l.PushFront(it)
}
