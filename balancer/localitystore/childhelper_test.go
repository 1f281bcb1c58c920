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

	"google.golang.org/grpc/balancer"
	"google.golang.org/grpc/connectivity"

	"github.com/go-xds/localitylb/loadstore"
)

// TestChildHelperAuthorityIsSubZone documents the provisional shim spec.md
// §4.2/§9 calls for: until a dedicated locality-name field exists upstream,
// a child's Authority() is its locality's sub-zone.
func TestChildHelperAuthorityIsSubZone(t *testing.T) {
	h := &ChildHelper{id: idA}
	if got := h.Authority(); got != idA.SubZone {
		t.Errorf("Authority() = %q, want sub-zone %q", got, idA.SubZone)
	}
}

// TestChildHelperUpdateStateForwardsToParent checks that a ChildHelper's
// UpdateState override is a pure forward into LocalityStore.updateChildState
// keyed by the helper's own locality, not a direct write to the real
// ClientConn (spec.md §4.2, §4.3).
func TestChildHelperUpdateStateForwardsToParent(t *testing.T) {
	ls, cc, _, _ := newTestStore()
	store := loadstore.New("c", "")
	h := &ChildHelper{id: idA, parent: ls, counter: store.AddLocality(idA)}
	ls.localities[idA] = &localityLbInfo{
		id:     idA,
		child:  &fakeChild{},
		helper: h,
		weight: 1,
		state:  balancer.State{ConnectivityState: connectivity.Connecting, Picker: bufferPicker{}},
	}

	h.UpdateState(balancer.State{ConnectivityState: connectivity.Ready, Picker: fakePicker{tag: "A"}})

	state, _ := cc.last()
	if state.ConnectivityState != connectivity.Ready {
		t.Fatalf("LocalityStore's installed state = %v, want READY", state.ConnectivityState)
	}
	if ls.localities[idA].state.ConnectivityState != connectivity.Ready {
		t.Error("localityLbInfo.state was not updated by the ChildHelper's UpdateState override")
	}
}
