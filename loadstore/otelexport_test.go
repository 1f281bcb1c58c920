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
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestOtelExporterCollects(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("localitylb_test")

	store := New("cluster", "service")
	c := store.AddLocality(testLocality)
	c.CallStarted()
	c.CallFinished(nil)
	store.RecordDroppedRequest("throttle")

	exporter, err := RegisterOtelExporter(meter, store)
	if err != nil {
		t.Fatalf("RegisterOtelExporter() failed: %v", err)
	}
	defer exporter.Close()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() failed: %v", err)
	}

	var names []string
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names = append(names, m.Name)
		}
	}
	want := []string{
		"grpc.lb.locality.rpcs_issued",
		"grpc.lb.locality.rpcs_succeeded",
		"grpc.lb.locality.rpcs_errored",
		"grpc.lb.locality.rpcs_in_progress",
		"grpc.lb.dropped_requests",
	}
	for _, w := range want {
		found := false
		for _, n := range names {
			if n == w {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("collected metrics %v missing %q", names, w)
		}
	}
}
