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

// Package xdsbootstrap implements the gRFC A27 bootstrap file discovery
// convention (spec.md §4.9, §6): locating the xDS management server's URI
// and this node's xDS identity from either an inline or file-based bootstrap
// document, named by one of two well-known environment variables.
package xdsbootstrap

import (
	"encoding/json"
	"fmt"
	"os"

	v3corepb "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	"github.com/golang/glog"
	"google.golang.org/protobuf/types/known/structpb"
)

// Environment variable names from gRFC A27. FileEnv names a file containing
// the bootstrap JSON; ConfigEnv carries the JSON inline. FileEnv takes
// precedence when both are set, matching every other gRPC xDS
// implementation's documented precedence.
const (
	FileEnv   = "GRPC_XDS_BOOTSTRAP"
	ConfigEnv = "GRPC_XDS_BOOTSTRAP_CONFIG"
)

// Config is the externally observable result of bootstrap discovery (spec.md
// §4.9 step 1): the xDS management server's URI and this node's identity.
// Fields beyond these two (certificate providers, server listener resource
// name templates, ...) belong to the out-of-scope xDS wire-protocol client
// (spec.md §1) and are not modeled here.
type Config struct {
	ServerURI string
	Node      *v3corepb.Node
}

// rawBootstrap mirrors the subset of the bootstrap JSON schema (gRFC A27)
// this package actually reads. xds_servers is a list for historical
// resilience-to-failover reasons; this package only ever reads the first
// entry, matching the teacher's own "pick servers[0]" behavior for a single
// management server.
type rawBootstrap struct {
	XDSServers []struct {
		ServerURI string `json:"server_uri"`
	} `json:"xds_servers"`
	Node struct {
		ID       string         `json:"id"`
		Cluster  string         `json:"cluster"`
		Locality *rawLocality   `json:"locality"`
		Metadata map[string]any `json:"metadata"`
	} `json:"node"`
}

type rawLocality struct {
	Region  string `json:"region"`
	Zone    string `json:"zone"`
	SubZone string `json:"sub_zone"`
}

// Load discovers the bootstrap configuration from the environment, per
// gRFC A27. It returns (nil, nil) if neither environment variable is set --
// callers fall back to their own hard-coded defaults (spec.md §4.9 step 1),
// this is not itself an error condition.
func Load() (*Config, error) {
	if p := os.Getenv(FileEnv); p != "" {
		contents, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("xdsbootstrap: reading %s=%q: %w", FileEnv, p, err)
		}
		return parse(contents)
	}
	if c := os.Getenv(ConfigEnv); c != "" {
		return parse([]byte(c))
	}
	glog.V(2).Infof("xdsbootstrap: neither %s nor %s is set; falling back to hard-coded defaults", FileEnv, ConfigEnv)
	return nil, nil
}

func parse(contents []byte) (*Config, error) {
	var raw rawBootstrap
	if err := json.Unmarshal(contents, &raw); err != nil {
		return nil, fmt.Errorf("xdsbootstrap: invalid bootstrap JSON: %w", err)
	}
	if len(raw.XDSServers) == 0 || raw.XDSServers[0].ServerURI == "" {
		return nil, fmt.Errorf("xdsbootstrap: bootstrap document has no xds_servers[0].server_uri")
	}

	node := &v3corepb.Node{
		Id:      raw.Node.ID,
		Cluster: raw.Node.Cluster,
	}
	if l := raw.Node.Locality; l != nil {
		node.Locality = &v3corepb.Locality{Region: l.Region, Zone: l.Zone, SubZone: l.SubZone}
	}
	if len(raw.Node.Metadata) > 0 {
		md, err := structpb.NewStruct(raw.Node.Metadata)
		if err != nil {
			return nil, fmt.Errorf("xdsbootstrap: node.metadata: %w", err)
		}
		node.Metadata = md
	}

	return &Config{ServerURI: raw.XDSServers[0].ServerURI, Node: node}, nil
}
