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
	"time"

	v3orcapb "github.com/cncf/xds/go/xds/data/orca/v3"
	"google.golang.org/grpc/balancer"
	"google.golang.org/grpc/orca"
	"google.golang.org/grpc/resolver"

	"github.com/go-xds/localitylb/loadstore"
	"github.com/go-xds/localitylb/locality"
)

// ChildHelper is the balancer.ClientConn each per-locality child balancer is
// given in place of the real one (spec.md §4.2). It intercepts every
// upcall a child makes so the LocalityStore can fold per-locality state
// into the top-level picker, and so every subchannel the child creates
// while an OOB report interval is set gets an ORCA out-of-band listener
// wired to this locality's load counter.
type ChildHelper struct {
	balancer.ClientConn // embedded for RemoveSubConn, UpdateAddresses, ResolveNow, Target, MetricsRecorder

	id      locality.ID
	parent  *LocalityStore
	counter *loadstore.LocalityCounter
}

// NewSubConn overrides the embedded ClientConn's method to additionally
// register, when the LocalityStore's OOB report interval is positive, an
// ORCA out-of-band listener against the locality's load counter, so
// periodic reports accumulate even between RPCs (spec.md §4.8,
// "OOB report interval survives weight-only updates").
func (h *ChildHelper) NewSubConn(addrs []resolver.Address, opts balancer.NewSubConnOptions) (balancer.SubConn, error) {
	sc, err := h.ClientConn.NewSubConn(addrs, opts)
	if err != nil {
		return nil, err
	}
	interval := h.parent.oobReportInterval()
	if interval > 0 {
		orca.RegisterOOBListener(sc, oobListener{counter: h.counter}, orca.OOBListenerOptions{ReportInterval: interval})
	}
	return sc, nil
}

// UpdateState overrides the embedded ClientConn's method: rather than
// forwarding straight to the real ClientConn, it folds this locality's new
// state into the LocalityStore's aggregate and reinstalls the
// top-level picker (spec.md §4.3).
func (h *ChildHelper) UpdateState(state balancer.State) {
	h.parent.updateChildState(h.id, state)
}

// Authority returns a provisional per-locality authority: the locality's
// sub-zone. This is a documented stand-in (spec.md §9 Open Question,
// resolved in DESIGN.md) until per-locality authority assignment is
// specified upstream.
func (h *ChildHelper) Authority() string {
	return h.id.SubZone
}

// oobListener adapts a locality's load counter to orca.OOBListener.
type oobListener struct {
	counter *loadstore.LocalityCounter
}

func (l oobListener) OnLoadReport(report *v3orcapb.OrcaLoadReport) {
	if l.counter != nil {
		l.counter.MergeOrcaReport(report)
	}
}

func (s *LocalityStore) oobReportInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.oobInterval
}
