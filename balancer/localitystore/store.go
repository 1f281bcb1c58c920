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
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"google.golang.org/grpc/balancer"
	"google.golang.org/grpc/balancer/roundrobin"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/resolver"
	"google.golang.org/grpc/status"

	"github.com/go-xds/localitylb/internal/callbackserializer"
	"github.com/go-xds/localitylb/internal/wrr"
	"github.com/go-xds/localitylb/loadstore"
	"github.com/go-xds/localitylb/locality"
)

// LocalityStore is the orchestrator at the heart of the package (spec.md
// §4.1): it owns one child balancer per locality, folds their state into a
// single picker installed on the real balancer.ClientConn, and keeps a
// loadstore.Store in lockstep with the locality set.
//
// All mutating methods (Reset, UpdateLocalityStore, UpdateDropPercentage,
// UpdateMaxConcurrentRequests, UpdateOOBReportInterval) and the internal
// updateChildState callback are expected to run serialized with respect to
// each other -- in the real balancer.Balancer that owns a LocalityStore,
// that serialization is the one the channel already provides by calling
// into a Balancer from a single goroutine at a time. The internal mutex
// here additionally guards reads made from arbitrary pick-path and
// NewSubConn-path goroutines (oobReportInterval, and the picker snapshot
// installed on cc).
type LocalityStore struct {
	cc           balancer.ClientConn
	bOpts        balancer.BuildOptions
	childBuilder balancer.Builder
	loadStore    *loadstore.Store
	randIntN     wrr.RandIntN

	serializer       *callbackserializer.Serializer
	cancelSerializer context.CancelFunc

	mu                    sync.Mutex
	localities            map[locality.ID]*localityLbInfo
	dropCategories        []DropCategory
	maxConcurrentRequests uint64
	oobInterval           time.Duration
	inFlight              atomic.Int64
}

// New creates a LocalityStore that installs pickers on cc and reports load
// through loadStore. childBuilder is the balancer.Builder used for each
// locality's child policy; a nil childBuilder defaults to round_robin,
// matching the teacher's own eds_impl default. A nil randIntN defaults to
// wrr.NewRandom().
func New(cc balancer.ClientConn, bOpts balancer.BuildOptions, childBuilder balancer.Builder, loadStore *loadstore.Store, randIntN wrr.RandIntN) *LocalityStore {
	if childBuilder == nil {
		childBuilder = balancer.Get(roundrobin.Name)
	}
	if randIntN == nil {
		randIntN = wrr.NewRandom()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &LocalityStore{
		cc:               cc,
		bOpts:            bOpts,
		childBuilder:     childBuilder,
		loadStore:        loadStore,
		randIntN:         randIntN,
		serializer:       callbackserializer.New(ctx),
		cancelSerializer: cancel,
		localities:       make(map[locality.ID]*localityLbInfo),
	}
	return s
}

// LoadStore returns the load statistics store this LocalityStore keeps in
// sync with its locality set.
func (s *LocalityStore) LoadStore() *loadstore.Store {
	return s.loadStore
}

// Reset tears down every locality's child balancer and clears all state,
// as if UpdateLocalityStore(nil) had been called. Used when the resource
// this LocalityStore was tracking is removed entirely (spec.md §4.1 edge
// case).
func (s *LocalityStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, info := range s.localities {
		info.child.Close()
		s.loadStore.RemoveLocality(id)
	}
	s.localities = make(map[locality.ID]*localityLbInfo)
	s.recomputePickerLocked()
}

// Close tears down the LocalityStore permanently: every child balancer is
// closed and the internal serializer goroutine is stopped. The
// LocalityStore must not be used afterward.
func (s *LocalityStore) Close() {
	s.mu.Lock()
	for _, info := range s.localities {
		info.child.Close()
	}
	s.mu.Unlock()
	s.cancelSerializer()
}

// UpdateLocalityStore applies a new locality → LocalityInfo map, diffing it
// against the current set (spec.md §4.1): localities present in both get
// their weight updated and their endpoints pushed to their existing child
// balancer; new localities get a new child balancer; localities no longer
// present have their child closed and their load counter removed, but only
// after the new top-level picker (which can no longer reference them) has
// been installed, via a deferred callback on the internal serializer.
//
// Iteration order is the locality ID's deterministic string sort, not map
// order, so that repeated runs with the same input apply child updates in
// the same order (relevant to child balancers, like round_robin, themselves
// sensitive to update order).
//
// The actual child.UpdateClientConnState calls happen with s.mu released.
// A real child balancer answers UpdateClientConnState by synchronously
// calling back into the ChildHelper it was built with -- NewSubConn at
// minimum, and base.Balancer also regenerates and pushes a picker via
// UpdateState before returning (see
// _examples/ajith-anz-grpc-go/balancer/base/balancer_test.go). Both land
// back on this same *LocalityStore (childhelper.go's NewSubConn and
// UpdateState), so holding s.mu across the call would self-deadlock on the
// first locality a real child balancer ever updates; zssky-grpc-go's
// edsbalancer splits its lock three ways for exactly this reason ("the
// balancer may create new SubConn").
func (s *LocalityStore) UpdateLocalityStore(newLocalities map[locality.ID]LocalityInfo) error {
	s.mu.Lock()

	var toRemove []locality.ID
	for id := range s.localities {
		if _, ok := newLocalities[id]; !ok {
			toRemove = append(toRemove, id)
		}
	}
	sortLocalityIDs(toRemove)

	ids := make([]locality.ID, 0, len(newLocalities))
	for id := range newLocalities {
		ids = append(ids, id)
	}
	sortLocalityIDs(ids)

	type pendingUpdate struct {
		id    locality.ID
		child balancer.Balancer
		addrs []resolver.Address
	}
	pending := make([]pendingUpdate, 0, len(ids))
	for _, id := range ids {
		info := newLocalities[id]
		existing, ok := s.localities[id]
		if !ok {
			helper := &ChildHelper{
				ClientConn: s.cc,
				id:         id,
				parent:     s,
				counter:    s.loadStore.AddLocality(id),
			}
			existing = &localityLbInfo{
				id:     id,
				child:  s.childBuilder.Build(helper, s.bOpts),
				helper: helper,
				state:  balancer.State{ConnectivityState: connectivity.Connecting, Picker: bufferPicker{}},
			}
			s.localities[id] = existing
		}
		existing.weight = info.Weight
		pending = append(pending, pendingUpdate{id: id, child: existing.child, addrs: flattenEndpoints(info.Endpoints)})
	}

	for _, id := range toRemove {
		info := s.localities[id]
		delete(s.localities, id)
		id, info := id, info
		s.serializer.Schedule(func() {
			info.child.Close()
			s.loadStore.RemoveLocality(id)
		})
	}

	s.mu.Unlock()

	var firstErr error
	for _, p := range pending {
		err := p.child.UpdateClientConnState(balancer.ClientConnState{
			ResolverState: resolver.State{Addresses: p.addrs},
		})
		if err != nil {
			glog.Warningf("localitystore: child balancer for locality %s rejected update: %v", p.id, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	s.mu.Lock()
	s.recomputePickerLocked()
	s.mu.Unlock()

	return firstErr
}

// UpdateDropPercentage replaces the configured drop overlay (spec.md §4.7).
// An empty slice disables dropping entirely. Every category's fraction must
// be well formed (non-zero denominator, numerator no larger than the
// denominator, i.e. a drop probability within [0, 1]); the spec.md §4.1
// dropsPerMillion bound of [0, 1_000_000] is this same constraint expressed
// against a fixed million-unit denominator.
func (s *LocalityStore) UpdateDropPercentage(categories []DropCategory) error {
	for _, c := range categories {
		if c.Denominator == 0 {
			return status.Errorf(codes.InvalidArgument, "localitystore: drop category %q has a zero denominator", c.Category)
		}
		if c.Numerator > c.Denominator {
			return status.Errorf(codes.InvalidArgument, "localitystore: drop category %q numerator %d exceeds denominator %d", c.Category, c.Numerator, c.Denominator)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropCategories = categories
	s.recomputePickerLocked()
	return nil
}

// UpdateMaxConcurrentRequests sets the circuit-breaking limit described in
// SPEC_FULL.md §12. Zero disables the limit.
func (s *LocalityStore) UpdateMaxConcurrentRequests(max uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxConcurrentRequests = max
	s.recomputePickerLocked()
}

// UpdateOOBReportInterval sets the ORCA out-of-band report interval used
// for subchannels created from now on. It intentionally does not
// re-register listeners on already-existing subchannels: a weight-only
// locality update must not disturb in-flight OOB streams (spec.md §9).
func (s *LocalityStore) UpdateOOBReportInterval(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.oobInterval = d
}

// HandleSubchannelState implements spec.md §4.1's handleSubchannelState: it
// broadcasts a subchannel's connectivity-state transition to every live
// child balancer's UpdateSubConnState, each of which ignores the event for
// any sc it does not own. This is the pre-gRFC-A61 broadcast contract
// spec.md was modeled on (balancer.Balancer.UpdateSubConnState); the real
// round_robin/base.Balancer children this package builds no longer use it
// at all -- they register a balancer.NewSubConnOptions.StateListener
// directly on sc when ChildHelper.NewSubConn creates it (childhelper.go)
// and get state transitions straight from the real ClientConn, bypassing
// the LocalityStore entirely. HandleSubchannelState is kept so the
// operation spec.md names has a real, reachable implementation -- for any
// child balancer built against the older broadcast contract -- rather than
// being silently dropped (see DESIGN.md).
func (s *LocalityStore) HandleSubchannelState(sc balancer.SubConn, state balancer.SubConnState) {
	s.mu.Lock()
	children := make([]balancer.Balancer, 0, len(s.localities))
	for _, info := range s.localities {
		children = append(children, info.child)
	}
	s.mu.Unlock()

	for _, child := range children {
		child.UpdateSubConnState(sc, state)
	}
}

// updateChildState is invoked by a ChildHelper when its locality's child
// balancer calls UpdateState (spec.md §4.3). It is a no-op if the locality
// has already been removed from the current set, which can legitimately
// race with a child's own asynchronous UpdateState call.
func (s *LocalityStore) updateChildState(id locality.ID, state balancer.State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.localities[id]
	if !ok {
		return
	}
	info.state = state
	s.recomputePickerLocked()
}

// recomputePickerLocked rebuilds the aggregated connectivity state and
// picker from the current locality set and installs them on cc (spec.md
// §4.4, §4.6). Callers must hold s.mu.
func (s *LocalityStore) recomputePickerLocked() {
	ids := make([]locality.ID, 0, len(s.localities))
	for id := range s.localities {
		ids = append(ids, id)
	}
	sortLocalityIDs(ids)

	states := make([]connectivity.State, 0, len(ids))
	var readyEntries []localityPick
	var firstErr error
	for _, id := range ids {
		info := s.localities[id]
		states = append(states, info.state.ConnectivityState)
		switch info.state.ConnectivityState {
		case connectivity.Ready:
			readyEntries = append(readyEntries, localityPick{
				id:      id,
				weight:  info.weight,
				picker:  info.state.Picker,
				counter: info.helper.counter,
			})
		case connectivity.TransientFailure:
			if firstErr == nil && info.state.Picker != nil {
				if _, err := info.state.Picker.Pick(balancer.PickInfo{}); err != nil {
					firstErr = err
				}
			}
		}
	}

	agg, ok := aggregateState(states)

	// Choose the base picker per spec.md §4.6 steps 1-2, independent of
	// whether there is a drop overlay to wrap it in.
	var picker balancer.Picker
	switch {
	case len(readyEntries) > 0:
		picker = newInterLocalityPicker(readyEntries, s.randIntN)
	case ok && agg == connectivity.TransientFailure:
		if firstErr == nil {
			firstErr = status.Error(codes.Unavailable, "localitystore: produced zero usable localities")
		}
		picker = &errPicker{err: firstErr}
	default:
		picker = bufferPicker{}
	}

	// Step 3: a non-empty drop overlay (including the circuit-breaking
	// limit of SPEC_FULL.md §12) wraps the chosen picker in a
	// DroppablePicker regardless of aggregate state, and brings the
	// aggregate state out of "null" into IDLE so the overlay gets
	// installed even before any locality has reported (spec.md §4.6).
	if len(s.dropCategories) > 0 || s.maxConcurrentRequests > 0 {
		picker = newDroppablePicker(picker, compileDropCategories(s.dropCategories, s.randIntN), s.loadStore, &s.inFlight, int64(s.maxConcurrentRequests))
		if !ok {
			agg, ok = connectivity.Idle, true
		}
	}

	// Step 4: only publish when the aggregate state is non-null -- an
	// empty locality set with no drop overlay configured leaves the
	// previously installed picker (or nothing, if none was ever
	// installed) untouched.
	if ok {
		s.cc.UpdateState(balancer.State{ConnectivityState: agg, Picker: picker})
	}
}

func sortLocalityIDs(ids []locality.ID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
}

func flattenEndpoints(groups []EndpointAddressGroup) []resolver.Address {
	var out []resolver.Address
	for _, g := range groups {
		out = append(out, g.Addresses...)
	}
	return out
}
