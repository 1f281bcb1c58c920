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

// Package loadstore implements the process-local load statistics store
// described in spec.md §4.8: per-locality RPC counters and per-category
// drop counters, kept in lockstep with the balancer's locality map by the
// orchestrator (balancer/localitystore) while being safe for concurrent
// increment from arbitrary pick-path goroutines.
package loadstore

import (
	"sync"
	"sync/atomic"
	"time"

	v3orcapb "github.com/cncf/xds/go/xds/data/orca/v3"
	"github.com/golang/glog"

	"github.com/go-xds/localitylb/locality"
)

// RequestData is the per-locality RPC activity snapshot.
type RequestData struct {
	// InProgress is the number of calls currently in flight.
	InProgress uint64
	// Issued is the total number of calls started (including ones still in
	// flight).
	Issued uint64
	// Succeeded is the number of calls that completed without error.
	Succeeded uint64
	// Errored is the number of calls that completed with a non-nil error.
	Errored uint64
}

// NamedMetricData is an accumulated ORCA named-metric observation.
type NamedMetricData struct {
	Count uint64
	Sum   float64
}

// LocalityData is one locality's snapshot: RPC activity plus any ORCA named
// metrics observed for it (from per-call ServerLoad and OOB reports).
type LocalityData struct {
	RequestStats LocalityRequestSnapshot
	NamedMetrics map[string]NamedMetricData
}

// LocalityRequestSnapshot is a type alias of RequestData: the two names
// denote the same type.
type LocalityRequestSnapshot = RequestData

// Data is a point-in-time snapshot of the whole store, shaped like the load
// report the real xDS client ships over LRS.
type Data struct {
	Cluster        string
	Service        string
	TotalDrops     uint64
	Drops          map[string]uint64
	LocalityStats  map[string]LocalityData
	ReportInterval time.Duration
}

// LocalityCounter is the live, concurrently-mutable counter bound to one
// locality. Pick-path wrappers (balancer/localitystore's load-recording and
// metrics-observing pickers) hold a reference to one of these; it must
// remain valid until the picker referencing it has been replaced (spec.md
// I4).
type LocalityCounter struct {
	inProgress atomic.Uint64
	issued     atomic.Uint64
	succeeded  atomic.Uint64
	errored    atomic.Uint64

	mu           sync.Mutex
	namedMetrics map[string]NamedMetricData
}

func newLocalityCounter() *LocalityCounter {
	return &LocalityCounter{namedMetrics: make(map[string]NamedMetricData)}
}

// CallStarted records the start of an RPC against this locality.
func (c *LocalityCounter) CallStarted() {
	c.inProgress.Add(1)
	c.issued.Add(1)
}

// CallFinished records the completion of an RPC against this locality. err is
// the error (if any) the RPC completed with.
func (c *LocalityCounter) CallFinished(err error) {
	c.inProgress.Add(^uint64(0)) // -1
	if err == nil {
		c.succeeded.Add(1)
		return
	}
	c.errored.Add(1)
}

// MergeOrcaReport folds an ORCA load report's named metrics into this
// locality's accumulators. Used for both per-call (DoneInfo.ServerLoad) and
// out-of-band reports.
func (c *LocalityCounter) MergeOrcaReport(r *v3orcapb.OrcaLoadReport) {
	if r == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, v := range r.GetRequestCost() {
		c.mergeLocked(name, v)
	}
	for name, v := range r.GetUtilization() {
		c.mergeLocked(name, v)
	}
	if cpu := r.GetCpuUtilization(); cpu != 0 {
		c.mergeLocked("cpu_utilization", cpu)
	}
	if mem := r.GetMemUtilization(); mem != 0 {
		c.mergeLocked("mem_utilization", mem)
	}
}

func (c *LocalityCounter) mergeLocked(name string, v float64) {
	d := c.namedMetrics[name]
	d.Count++
	d.Sum += v
	c.namedMetrics[name] = d
}

func (c *LocalityCounter) snapshot() LocalityData {
	c.mu.Lock()
	named := make(map[string]NamedMetricData, len(c.namedMetrics))
	for k, v := range c.namedMetrics {
		named[k] = v
	}
	c.mu.Unlock()
	return LocalityData{
		RequestStats: RequestData{
			InProgress: c.inProgress.Load(),
			Issued:     c.issued.Load(),
			Succeeded:  c.succeeded.Load(),
			Errored:    c.errored.Load(),
		},
		NamedMetrics: named,
	}
}

// Store is the per-cluster/service load statistics store of spec.md §4.8.
type Store struct {
	cluster string
	service string

	mu         sync.Mutex
	localities map[locality.ID]*LocalityCounter
	drops      map[string]*atomic.Uint64
	totalDrops atomic.Uint64
	start      time.Time
}

// New creates an empty Store for the given cluster/EDS-service-name pair.
func New(cluster, service string) *Store {
	return &Store{
		cluster:    cluster,
		service:    service,
		localities: make(map[locality.ID]*LocalityCounter),
		drops:      make(map[string]*atomic.Uint64),
		start:      time.Now(),
	}
}

// AddLocality ensures a counter exists for id. Idempotent: calling it for an
// id that already has a counter is a no-op and returns the existing counter.
func (s *Store) AddLocality(id locality.ID) *LocalityCounter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.localities[id]; ok {
		return c
	}
	c := newLocalityCounter()
	s.localities[id] = c
	return c
}

// RemoveLocality erases the counter for id. Per spec.md I4/§4.1, callers
// must only invoke this once the picker that could reference the counter
// has already been replaced.
func (s *Store) RemoveLocality(id locality.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.localities, id)
}

// GetLocalityCounter returns the counter for id, or nil if none is
// registered (e.g. it was removed, or never added).
func (s *Store) GetLocalityCounter(id locality.ID) *LocalityCounter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localities[id]
}

// RecordDroppedRequest increments the drop counter for category, creating it
// on first use.
func (s *Store) RecordDroppedRequest(category string) {
	s.totalDrops.Add(1)
	s.mu.Lock()
	c, ok := s.drops[category]
	if !ok {
		c = new(atomic.Uint64)
		s.drops[category] = c
	}
	s.mu.Unlock()
	c.Add(1)
}

// Snapshot returns a point-in-time copy of the store's counters, shaped for
// shipping over LRS.
func (s *Store) Snapshot() *Data {
	s.mu.Lock()
	drops := make(map[string]uint64, len(s.drops))
	for cat, c := range s.drops {
		drops[cat] = c.Load()
	}
	localityStats := make(map[string]LocalityData, len(s.localities))
	for id, c := range s.localities {
		localityStats[id.String()] = c.snapshot()
	}
	s.mu.Unlock()

	d := &Data{
		Cluster:        s.cluster,
		Service:        s.service,
		TotalDrops:     s.totalDrops.Load(),
		Drops:          drops,
		LocalityStats:  localityStats,
		ReportInterval: time.Since(s.start),
	}
	glog.V(2).Infof("loadstore: snapshot for cluster %q service %q: %d localities, %d total drops", s.cluster, s.service, len(localityStats), d.TotalDrops)
	return d
}
