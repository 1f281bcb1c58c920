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

// Package localitystore implements the client-side xDS load-balancing core:
// a per-locality child balancer orchestrator, weighted inter-locality
// picking, a drop overlay, and load-stats tracking. LocalityStore does not
// itself implement balancer.Balancer; a higher-level balancer embeds it and
// hands it the balancer.ClientConn it installs pickers on.
package localitystore

import (
	"google.golang.org/grpc/balancer"
	"google.golang.org/grpc/resolver"

	"github.com/go-xds/localitylb/locality"
)

// EndpointAddressGroup is one xDS endpoint (lb_endpoints entry) resolved to
// a set of resolver.Address values sharing a single connection weight.
type EndpointAddressGroup struct {
	Addresses []resolver.Address
	// Weight is the endpoint's xDS load_balancing_weight. It does not
	// affect picking: only Addresses are passed on to the child balancer.
	Weight uint32
}

// LocalityInfo is the update unit the orchestrator consumes for one
// locality: its endpoints and its relative weight against sibling
// localities (spec.md §3).
type LocalityInfo struct {
	Endpoints []EndpointAddressGroup
	// Weight is the locality's xDS weight from ClusterLoadAssignment, used
	// by InterLocalityPicker as the selection weight among READY
	// localities.
	Weight uint32
	// Priority selects which priority band this locality belongs to.
	// Priorities below spec.md's scope (single priority band) are ignored
	// by the current orchestrator; the field is retained for forward
	// compatibility with a future priority layer.
	Priority uint32
}

// DropCategory is one percentage-based drop overlay entry
// (DropOverloadConfig in EDS), applied in the order they appear.
type DropCategory struct {
	Category string
	// Numerator/Denominator express the drop percentage as a fraction
	// (e.g. 5/100 for 5%), matching the xDS FractionalPercent wire shape
	// without pulling in its denominator-unit enum.
	Numerator   uint32
	Denominator uint32
}

// localityLbInfo is the orchestrator's private bookkeeping record for one
// locality: its child balancer.Balancer, the ChildHelper fronting it, and
// the most recent state it reported.
type localityLbInfo struct {
	id      locality.ID
	child   balancer.Balancer
	helper  *ChildHelper
	weight  uint32
	state   balancer.State
}
