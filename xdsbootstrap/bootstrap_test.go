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

package xdsbootstrap

import (
	"os"
	"testing"
)

const validBootstrap = `{
  "xds_servers": [{"server_uri": "xds.example.com:443"}],
  "node": {
    "id": "node-1",
    "cluster": "test-cluster",
    "locality": {"region": "us-central1", "zone": "a", "sub_zone": "rack-1"}
  }
}`

func TestLoadFromConfigEnv(t *testing.T) {
	t.Setenv(FileEnv, "")
	t.Setenv(ConfigEnv, validBootstrap)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerURI != "xds.example.com:443" {
		t.Errorf("ServerURI = %q, want %q", cfg.ServerURI, "xds.example.com:443")
	}
	if cfg.Node.GetId() != "node-1" {
		t.Errorf("Node.Id = %q, want %q", cfg.Node.GetId(), "node-1")
	}
	if got := cfg.Node.GetLocality().GetSubZone(); got != "rack-1" {
		t.Errorf("Node.Locality.SubZone = %q, want %q", got, "rack-1")
	}
}

func TestLoadFilePrecedesInline(t *testing.T) {
	f := t.TempDir() + "/bootstrap.json"
	if err := os.WriteFile(f, []byte(validBootstrap), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(FileEnv, f)
	t.Setenv(ConfigEnv, `{"xds_servers":[{"server_uri":"should-not-be-used:1"}]}`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerURI != "xds.example.com:443" {
		t.Errorf("ServerURI = %q, want the file's value, not the inline env var's", cfg.ServerURI)
	}
}

func TestLoadNeitherEnvSet(t *testing.T) {
	t.Setenv(FileEnv, "")
	t.Setenv(ConfigEnv, "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg != nil {
		t.Errorf("Load() = %+v, want nil (no bootstrap configured)", cfg)
	}
}

func TestLoadMissingServerURI(t *testing.T) {
	t.Setenv(FileEnv, "")
	t.Setenv(ConfigEnv, `{"node":{"id":"x"}}`)

	if _, err := Load(); err == nil {
		t.Fatal("Load() with no xds_servers entry: want error, got nil")
	}
}
