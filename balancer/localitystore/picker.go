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
	"sync/atomic"

	v3orcapb "github.com/cncf/xds/go/xds/data/orca/v3"
	"google.golang.org/grpc/balancer"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/go-xds/localitylb/internal/wrr"
	"github.com/go-xds/localitylb/loadstore"
	"github.com/go-xds/localitylb/locality"
)

// localityPick is one READY locality's contribution to the weighted
// inter-locality pick: its selection weight, its child's current picker,
// and the counter its picks should be recorded against.
type localityPick struct {
	id      locality.ID
	weight  uint32
	picker  balancer.Picker
	counter *loadstore.LocalityCounter
}

// InterLocalityPicker implements spec.md §4.5: a weighted random choice
// among READY localities by each locality's own weight, deferring the final
// subconn choice to that locality's own child picker. Every pick the child
// picker completes without error is recorded against the chosen locality's
// load counter.
type InterLocalityPicker struct {
	entries []localityPick
	total   uint32
	randIntN wrr.RandIntN
}

// newInterLocalityPicker builds a picker over entries. entries with zero
// weight are treated as weight 1 (spec.md §4.5 edge case: unweighted
// locality among weighted siblings).
func newInterLocalityPicker(entries []localityPick, randIntN wrr.RandIntN) *InterLocalityPicker {
	var total uint32
	normalized := make([]localityPick, len(entries))
	for i, e := range entries {
		if e.weight == 0 {
			e.weight = 1
		}
		total += e.weight
		normalized[i] = e
	}
	return &InterLocalityPicker{entries: normalized, total: total, randIntN: randIntN}
}

// Pick implements balancer.Picker.
func (p *InterLocalityPicker) Pick(info balancer.PickInfo) (balancer.PickResult, error) {
	if len(p.entries) == 0 || p.total == 0 {
		return balancer.PickResult{}, balancer.ErrNoSubConnAvailable
	}

	target := uint32(p.randIntN(int(p.total)))
	var cum uint32
	chosen := p.entries[len(p.entries)-1]
	for _, e := range p.entries {
		cum += e.weight
		if target < cum {
			chosen = e
			break
		}
	}

	res, err := chosen.picker.Pick(info)
	if err != nil {
		return res, err
	}

	counter := chosen.counter
	if counter != nil {
		counter.CallStarted()
	}
	innerDone := res.Done
	res.Done = func(di balancer.DoneInfo) {
		if innerDone != nil {
			innerDone(di)
		}
		if counter == nil {
			return
		}
		counter.CallFinished(di.Err)
		if report, ok := di.ServerLoad.(*v3orcapb.OrcaLoadReport); ok {
			counter.MergeOrcaReport(report)
		}
	}
	return res, nil
}

// dropDecision is one entry of a compiled drop overlay: a category name and
// the per-pick decision function (spec.md §4.7).
type dropDecision struct {
	category string
	drop     func() bool
}

// compileDropCategories turns the configured percentage-based overlay into
// per-pick decision closures, each consulting randIntN independently so
// categories combine as "drop if ANY category fires", evaluated in
// configuration order (first match wins, matching the xDS drop_overloads
// semantics of stacking independent percentages).
func compileDropCategories(categories []DropCategory, randIntN wrr.RandIntN) []dropDecision {
	decisions := make([]dropDecision, 0, len(categories))
	for _, c := range categories {
		c := c
		if c.Denominator == 0 {
			continue
		}
		decisions = append(decisions, dropDecision{
			category: c.Category,
			drop: func() bool {
				return uint32(randIntN(int(c.Denominator))) < c.Numerator
			},
		})
	}
	return decisions
}

// DroppablePicker wraps an inner picker with the percentage-based drop
// overlay and the optional circuit breaker (spec.md §4.7, and the
// supplemented max-concurrent-requests limit of SPEC_FULL.md §12).
type DroppablePicker struct {
	inner      balancer.Picker
	drops      []dropDecision
	loadStore  *loadstore.Store
	inFlight   *atomic.Int64
	maxInFlight int64 // 0 means unlimited
}

func newDroppablePicker(inner balancer.Picker, drops []dropDecision, loadStore *loadstore.Store, inFlight *atomic.Int64, maxInFlight int64) *DroppablePicker {
	return &DroppablePicker{
		inner:       inner,
		drops:       drops,
		loadStore:   loadStore,
		inFlight:    inFlight,
		maxInFlight: maxInFlight,
	}
}

// Pick implements balancer.Picker.
func (p *DroppablePicker) Pick(info balancer.PickInfo) (balancer.PickResult, error) {
	for _, d := range p.drops {
		if d.drop() {
			if p.loadStore != nil {
				p.loadStore.RecordDroppedRequest(d.category)
			}
			return balancer.PickResult{}, status.Errorf(codes.Unavailable, "RPC dropped by load balancer: category %q", d.category)
		}
	}

	if p.maxInFlight > 0 {
		if p.inFlight.Add(1) > p.maxInFlight {
			p.inFlight.Add(-1)
			if p.loadStore != nil {
				p.loadStore.RecordDroppedRequest("")
			}
			return balancer.PickResult{}, status.Error(codes.ResourceExhausted, "RPC dropped: max concurrent requests exceeded for cluster")
		}
		res, err := p.inner.Pick(info)
		if err != nil {
			p.inFlight.Add(-1)
			return res, err
		}
		innerDone := res.Done
		res.Done = func(di balancer.DoneInfo) {
			if innerDone != nil {
				innerDone(di)
			}
			p.inFlight.Add(-1)
		}
		return res, nil
	}

	return p.inner.Pick(info)
}

// bufferPicker is installed while the aggregated state is CONNECTING or
// IDLE: it asks the caller to retry once a real picker is available,
// matching base.Balancer's own placeholder picker.
type bufferPicker struct{}

func (bufferPicker) Pick(balancer.PickInfo) (balancer.PickResult, error) {
	return balancer.PickResult{}, balancer.ErrNoSubConnAvailable
}

// errPicker is installed when the aggregated state is TRANSIENT_FAILURE and
// no locality is READY.
type errPicker struct{ err error }

func (p *errPicker) Pick(balancer.PickInfo) (balancer.PickResult, error) {
	return balancer.PickResult{}, p.err
}
