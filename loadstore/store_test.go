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

package loadstore

import (
	"errors"
	"sync"
	"testing"

	v3orcapb "github.com/cncf/xds/go/xds/data/orca/v3"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/go-xds/localitylb/locality"
)

var testLocality = locality.ID{Region: "r", Zone: "z", SubZone: "sz"}

func TestAddLocalityIdempotent(t *testing.T) {
	s := New("cluster", "service")
	c1 := s.AddLocality(testLocality)
	c2 := s.AddLocality(testLocality)
	if c1 != c2 {
		t.Fatal("AddLocality returned different counters for the same id")
	}
}

func TestRequestCounting(t *testing.T) {
	s := New("cluster", "service")
	c := s.AddLocality(testLocality)

	const rpcCount = 40
	for i := 0; i < rpcCount; i++ {
		c.CallStarted()
	}
	for i := 0; i < rpcCount*3/4; i++ {
		c.CallFinished(nil)
	}
	for i := 0; i < rpcCount/4; i++ {
		c.CallFinished(errors.New("boom"))
	}

	got := s.Snapshot()
	want := &Data{
		Cluster:    "cluster",
		Service:    "service",
		Drops:      map[string]uint64{},
		TotalDrops: 0,
		LocalityStats: map[string]LocalityData{
			testLocality.String(): {
				RequestStats: RequestData{
					InProgress: 0,
					Issued:     rpcCount,
					Succeeded:  rpcCount * 3 / 4,
					Errored:    rpcCount / 4,
				},
				NamedMetrics: map[string]NamedMetricData{},
			},
		},
	}
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(Data{}, "ReportInterval"), cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("Snapshot() mismatch (-want +got):\n%s", diff)
	}
}

func TestDropCounting(t *testing.T) {
	s := New("cluster", "service")
	for i := 0; i < 5; i++ {
		s.RecordDroppedRequest("load_balancing")
	}
	for i := 0; i < 3; i++ {
		s.RecordDroppedRequest("throttle")
	}

	got := s.Snapshot()
	if got.TotalDrops != 8 {
		t.Errorf("TotalDrops = %d, want 8", got.TotalDrops)
	}
	want := map[string]uint64{"load_balancing": 5, "throttle": 3}
	if diff := cmp.Diff(want, got.Drops); diff != "" {
		t.Errorf("Drops mismatch (-want +got):\n%s", diff)
	}
}

func TestRemoveLocality(t *testing.T) {
	s := New("cluster", "service")
	s.AddLocality(testLocality)
	s.RemoveLocality(testLocality)
	if c := s.GetLocalityCounter(testLocality); c != nil {
		t.Error("GetLocalityCounter returned non-nil after RemoveLocality")
	}
}

func TestMergeOrcaReport(t *testing.T) {
	s := New("cluster", "service")
	c := s.AddLocality(testLocality)
	c.MergeOrcaReport(&v3orcapb.OrcaLoadReport{
		CpuUtilization: 0.5,
		RequestCost:    map[string]float64{"db_queries": 2},
	})
	c.MergeOrcaReport(&v3orcapb.OrcaLoadReport{
		CpuUtilization: 0.7,
		RequestCost:    map[string]float64{"db_queries": 4},
	})

	got := s.Snapshot().LocalityStats[testLocality.String()].NamedMetrics
	want := map[string]NamedMetricData{
		"cpu_utilization": {Count: 2, Sum: 1.2},
		"db_queries":      {Count: 2, Sum: 6},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("NamedMetrics mismatch (-want +got):\n%s", diff)
	}
}

func TestConcurrentCounting(t *testing.T) {
	s := New("cluster", "service")
	c := s.AddLocality(testLocality)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.CallStarted()
				c.CallFinished(nil)
			}
		}()
	}
	wg.Wait()

	got := s.Snapshot().LocalityStats[testLocality.String()].RequestStats
	if got.Issued != 2000 || got.Succeeded != 2000 || got.InProgress != 0 {
		t.Errorf("RequestStats = %+v, want Issued=Succeeded=2000, InProgress=0", got)
	}
}
