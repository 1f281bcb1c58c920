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

// Package resolver implements the name-resolution facade of spec.md §4.9:
// a thin resolver.Builder that, instead of discovering addresses itself,
// hands the xds_experimental service config and the xDS bootstrap node
// identity down to the balancer stack, which performs discovery on its own
// by talking to the xDS client (outside this module's scope, per spec.md
// §1).
package resolver

import (
	"fmt"

	v3corepb "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	"github.com/golang/glog"
	"github.com/google/uuid"
	"google.golang.org/grpc/attributes"
	"google.golang.org/grpc/resolver"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/go-xds/localitylb/xdsbootstrap"
)

func attributesWithNode(node *v3corepb.Node) *attributes.Attributes {
	return attributes.New(nodeAttributeKey{}, node)
}

// Scheme is this resolver's resolver.Builder scheme.
const Scheme = "xds-experimental"

// noBootstrapServiceConfig is emitted when no bootstrap record is readable
// (spec.md §4.9 step 1, §6). It carries no balancer_name, so the
// xds_experimental balancer falls back to its own bootstrap discovery.
const noBootstrapServiceConfig = `{"loadBalancingConfig":[{"xds_experimental":{"childPolicy":[{"round_robin":{}}]}}]}`

// withBootstrapServiceConfig is the template used when a bootstrap record
// supplied a serverUri (spec.md §4.9 step 1, §6).
const withBootstrapServiceConfig = `{"loadBalancingConfig":[{"xds_experimental":{"balancer_name":%q,"childPolicy":[{"round_robin":{}}]}}]}`

// nodeAttributeKey is the resolver.Address/resolver.State attribute key
// under which the parsed xDS node identity is published (spec.md §6
// "xDS node identity").
type nodeAttributeKey struct{}

// NodeFromState extracts the xDS node identity attribute a Builder built by
// this package attached to a resolver.State, or nil if none is present.
func NodeFromState(state resolver.State) *v3corepb.Node {
	n, _ := state.Attributes.Value(nodeAttributeKey{}).(*v3corepb.Node)
	return n
}

// Builder implements resolver.Builder for the xds-experimental scheme.
// BootstrapLoader defaults to xdsbootstrap.Load; tests override it to avoid
// depending on process environment variables.
type Builder struct {
	BootstrapLoader func() (*xdsbootstrap.Config, error)
}

// Scheme implements resolver.Builder.
func (b *Builder) Scheme() string { return Scheme }

// Build implements resolver.Builder. It performs no network I/O: the
// returned *Resolver emits a single, fixed resolution result synchronously
// and otherwise sits idle (spec.md §4.9).
func (b *Builder) Build(target resolver.Target, cc resolver.ClientConn, _ resolver.BuildOptions) (resolver.Resolver, error) {
	authority := target.URL.Host
	if authority == "" {
		return nil, fmt.Errorf("resolver: xds-experimental target %q has an empty authority", target.URL.String())
	}

	load := b.BootstrapLoader
	if load == nil {
		load = xdsbootstrap.Load
	}

	id := uuid.New()
	r := &Resolver{cc: cc, authority: authority, id: id}

	bootstrap, err := load()
	if err != nil {
		// A broken bootstrap document is a configuration error the
		// resolver cannot route around; spec.md §4.9 only special-cases
		// "unreadable" (absent), not "malformed".
		return nil, fmt.Errorf("resolver: loading xDS bootstrap: %w", err)
	}

	serviceConfigJSON := noBootstrapServiceConfig
	node := &v3corepb.Node{}
	if bootstrap != nil {
		serviceConfigJSON = fmt.Sprintf(withBootstrapServiceConfig, bootstrap.ServerURI)
		node = bootstrap.Node
	}

	parsed := cc.ParseServiceConfig(serviceConfigJSON)
	if parsed.Err != nil {
		// spec.md §4.9 step 2 / §7: the service config text is
		// compile-time authored; a parse failure here is a build bug; the
		// contract is to report UNKNOWN to the listener and treat it as
		// fatal rather than attempt any recovery.
		cc.ReportError(parsed.Err)
		glog.Errorf("resolver[%s]: invalid built-in service config %q: %v", id, serviceConfigJSON, parsed.Err)
		panic(fmt.Sprintf("resolver: built-in service config failed to parse: %v", parsed.Err))
	}

	glog.V(2).Infof("resolver[%s]: authority %q, node %s", id, authority, protojson.Format(node))

	state := resolver.State{
		ServiceConfig: parsed,
		Attributes:    attributesWithNode(node),
	}
	if err := cc.UpdateState(state); err != nil {
		glog.Warningf("resolver[%s]: UpdateState: %v", id, err)
	}
	return r, nil
}

// Resolver implements resolver.Resolver. It never re-resolves: the service
// config and node identity it emits are fixed for the lifetime of the
// ClientConn (spec.md §4.9); ResolveNow and Close are no-ops.
type Resolver struct {
	cc        resolver.ClientConn
	authority string
	id        uuid.UUID
}

// ResolveNow implements resolver.Resolver.
func (*Resolver) ResolveNow(resolver.ResolveNowOptions) {}

// Close implements resolver.Resolver.
func (*Resolver) Close() {}
