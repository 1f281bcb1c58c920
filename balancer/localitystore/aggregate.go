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

import "google.golang.org/grpc/connectivity"

// aggregateState folds a set of child connectivity states into one overall
// state, following the same precedence balancergroup uses to roll up
// sub-balancer state in weighted_target/clusterresolver (spec.md §4.4):
//
//  1. Any child READY              -> READY
//  2. Else any child CONNECTING    -> CONNECTING
//  3. Else any child IDLE          -> IDLE
//  4. Else (all TRANSIENT_FAILURE) -> TRANSIENT_FAILURE
//
// ok is false when states is empty: the fold has no starting element to
// produce a result from (spec.md §4.4's accumulator stays at its initial
// "null"), which is distinct from every child having failed.
func aggregateState(states []connectivity.State) (_ connectivity.State, ok bool) {
	if len(states) == 0 {
		return connectivity.State(0), false
	}
	var sawConnecting, sawIdle bool
	for _, s := range states {
		switch s {
		case connectivity.Ready:
			return connectivity.Ready, true
		case connectivity.Connecting:
			sawConnecting = true
		case connectivity.Idle:
			sawIdle = true
		}
	}
	if sawConnecting {
		return connectivity.Connecting, true
	}
	if sawIdle {
		return connectivity.Idle, true
	}
	return connectivity.TransientFailure, true
}
