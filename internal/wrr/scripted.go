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

package wrr

// ScriptedIntN returns a RandIntN that replays seq in order, looping once
// exhausted, clamping any out-of-range value down into [0, n). It is not
// used in production; it is exported so that tests in other packages of
// this module can inject a deterministic draw sequence (spec.md §4.5, §9
// "injected randomness", and the "NewRandomWRR = testutils.NewTestWRR"
// test-seam convention it mirrors).
func ScriptedIntN(seq ...int) RandIntN {
	var i int
	return func(n int) int {
		v := seq[i%len(seq)]
		i++
		if v >= n {
			v = n - 1
		}
		if v < 0 {
			v = 0
		}
		return v
	}
}
