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

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

func localityAttr(id string) attribute.KeyValue     { return attribute.String("locality", id) }
func clusterAttr(cluster string) attribute.KeyValue { return attribute.String("cluster", cluster) }
func dropCategoryAttr(category string) attribute.KeyValue {
	return attribute.String("drop_category", category)
}

// OtelExporter mirrors a Store's counters into OpenTelemetry observable
// instruments, registered once and read lazily on every collection pass
// (spec.md §11 domain stack: secondary observability pipeline alongside the
// LRS-shaped Snapshot). It holds no state of its own beyond the
// registration handle; Store remains the single source of truth.
type OtelExporter struct {
	store        *Store
	registration metric.Registration
	issued       metric.Int64ObservableCounter
	succeeded    metric.Int64ObservableCounter
	errored      metric.Int64ObservableCounter
	inProgress   metric.Int64ObservableGauge
	drops        metric.Int64ObservableCounter
}

// RegisterOtelExporter creates the observable instruments for store on
// meter and registers the callback that fills them in on each collect. The
// returned exporter's Close method unregisters the callback.
func RegisterOtelExporter(meter metric.Meter, store *Store) (*OtelExporter, error) {
	e := &OtelExporter{store: store}

	var err error
	if e.issued, err = meter.Int64ObservableCounter("grpc.lb.locality.rpcs_issued"); err != nil {
		return nil, err
	}
	if e.succeeded, err = meter.Int64ObservableCounter("grpc.lb.locality.rpcs_succeeded"); err != nil {
		return nil, err
	}
	if e.errored, err = meter.Int64ObservableCounter("grpc.lb.locality.rpcs_errored"); err != nil {
		return nil, err
	}
	if e.inProgress, err = meter.Int64ObservableGauge("grpc.lb.locality.rpcs_in_progress"); err != nil {
		return nil, err
	}
	if e.drops, err = meter.Int64ObservableCounter("grpc.lb.dropped_requests"); err != nil {
		return nil, err
	}

	reg, err := meter.RegisterCallback(e.collect,
		e.issued, e.succeeded, e.errored, e.inProgress, e.drops)
	if err != nil {
		return nil, err
	}
	e.registration = reg
	return e, nil
}

func (e *OtelExporter) collect(_ context.Context, o metric.Observer) error {
	snap := e.store.Snapshot()
	for locID, stats := range snap.LocalityStats {
		attrs := metric.WithAttributes(
			localityAttr(locID),
			clusterAttr(snap.Cluster),
		)
		o.ObserveInt64(e.issued, int64(stats.RequestStats.Issued), attrs)
		o.ObserveInt64(e.succeeded, int64(stats.RequestStats.Succeeded), attrs)
		o.ObserveInt64(e.errored, int64(stats.RequestStats.Errored), attrs)
		o.ObserveInt64(e.inProgress, int64(stats.RequestStats.InProgress), attrs)
	}
	for category, n := range snap.Drops {
		o.ObserveInt64(e.drops, int64(n), metric.WithAttributes(
			clusterAttr(snap.Cluster),
			dropCategoryAttr(category),
		))
	}
	return nil
}

// Close unregisters the exporter's collection callback. It does not affect
// the underlying Store.
func (e *OtelExporter) Close() error {
	if e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
