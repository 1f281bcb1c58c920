/*
 *
 * Copyright 2019 gRPC authors.
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

package localitystore

import (
	"testing"

	"google.golang.org/grpc/connectivity"
)

func TestAggregateState(t *testing.T) {
	tests := []struct {
		name   string
		states []connectivity.State
		want   connectivity.State
		wantOK bool
	}{
		{"empty", nil, connectivity.State(0), false},
		{"all ready", []connectivity.State{connectivity.Ready, connectivity.Ready}, connectivity.Ready, true},
		{"ready wins over failure", []connectivity.State{connectivity.TransientFailure, connectivity.Ready}, connectivity.Ready, true},
		{"connecting beats idle and failure", []connectivity.State{connectivity.TransientFailure, connectivity.Idle, connectivity.Connecting}, connectivity.Connecting, true},
		{"idle beats failure", []connectivity.State{connectivity.TransientFailure, connectivity.Idle}, connectivity.Idle, true},
		{"all failure", []connectivity.State{connectivity.TransientFailure, connectivity.TransientFailure}, connectivity.TransientFailure, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := aggregateState(tt.states)
			if ok != tt.wantOK || (ok && got != tt.want) {
				t.Errorf("aggregateState(%v) = (%v, %v), want (%v, %v)", tt.states, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
