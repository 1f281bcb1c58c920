/*
 *
 * Copyright 2020 gRPC authors.
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

// Package wrr provides the randomness seam used by the inter-locality and
// drop-overlay pickers. It exists because the production WRR implementation
// that the teacher relies on lives in an internal package of the grpc-go
// module tree and cannot be imported from outside it.
package wrr

// RandIntN draws a uniform random integer in [0, n). Implementations must be
// safe for concurrent use: pick-path code runs on arbitrary caller
// goroutines.
type RandIntN func(n int) int

// NewRandom returns a production RandIntN backed by the top-level
// math/rand/v2 functions, which are documented safe for concurrent use.
func NewRandom() RandIntN {
	return randomIntN
}
