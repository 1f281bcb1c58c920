/*
 *
 * Copyright 2021 gRPC authors.
 *
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

// Package callbackserializer provides a FIFO closure executor used to model
// a channel's synchronization context (spec.md §5, §9 "deferred counter
// deletion via continuation"). It is a from-scratch reimplementation of the
// idiom the teacher itself reaches for (grpcsync.CallbackSerializer), which
// lives in a grpc-go-internal package unreachable from outside that module.
package callbackserializer

import "context"

// Serializer runs scheduled closures one at a time, in the order they were
// scheduled, on a single background goroutine.
type Serializer struct {
	callbacks chan func()
	done      chan struct{}
}

// New starts a Serializer. It runs until ctx is canceled.
func New(ctx context.Context) *Serializer {
	s := &Serializer{
		callbacks: make(chan func(), 16),
		done:      make(chan struct{}),
	}
	go s.run(ctx)
	return s
}

func (s *Serializer) run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case cb := <-s.callbacks:
			select {
			case <-ctx.Done():
				return
			default:
			}
			cb()
		}
	}
}

// Schedule enqueues f to run on the serializer goroutine. It returns false if
// the serializer has already been stopped and f will never run.
func (s *Serializer) Schedule(f func()) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.callbacks <- f:
		return true
	case <-s.done:
		return false
	}
}

// Done returns a channel that is closed once the serializer's goroutine has
// exited (i.e. its context was canceled and no further callback will run).
func (s *Serializer) Done() <-chan struct{} {
	return s.done
}
