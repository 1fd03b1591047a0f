/*
Copyright 2024 Stefan Prodan

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metrics exposes the reconciliation metrics of KclInstances.
package metrics

import (
	"time"

	"github.com/fluxcd/pkg/ssa"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "kcl_instance"

const (
	ResultSuccess   = "success"
	ResultFailure   = "failure"
	ResultTransient = "transient"
	ResultSkipped   = "skipped"
)

// Recorder holds the Prometheus collectors of the controller.
type Recorder struct {
	reconcileDuration *prometheus.HistogramVec
	inventoryEntries  *prometheus.GaugeVec
	ready             *prometheus.GaugeVec
	resourceActions   *prometheus.CounterVec
}

// NewRecorder returns a Recorder with unregistered collectors.
func NewRecorder() *Recorder {
	return &Recorder{
		reconcileDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "reconcile_duration_seconds",
				Help:      "Duration of the KclInstance reconcile cycles in seconds.",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"namespace", "name", "result"},
		),
		inventoryEntries: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "inventory_entries",
				Help:      "Number of objects owned by the KclInstance.",
			},
			[]string{"namespace", "name"},
		),
		ready: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ready",
				Help:      "Whether the KclInstance is ready (1) or not (0).",
			},
			[]string{"namespace", "name"},
		),
		resourceActions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resource_actions_total",
				Help:      "Total number of server-side apply and prune actions per object.",
			},
			[]string{"namespace", "name", "action"},
		),
	}
}

// Collectors returns the collectors for registration.
func (r *Recorder) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		r.reconcileDuration,
		r.inventoryEntries,
		r.ready,
		r.resourceActions,
	}
}

// MustRegister registers the collectors, it panics on duplicates.
func (r *Recorder) MustRegister(reg prometheus.Registerer) *Recorder {
	reg.MustRegister(r.Collectors()...)
	return r
}

// RecordDuration observes the time elapsed since start.
func (r *Recorder) RecordDuration(ns, name, result string, start time.Time) {
	r.reconcileDuration.WithLabelValues(ns, name, result).Observe(time.Since(start).Seconds())
}

func (r *Recorder) RecordInventory(ns, name string, entries int) {
	r.inventoryEntries.WithLabelValues(ns, name).Set(float64(entries))
}

func (r *Recorder) RecordReady(ns, name string, ready bool) {
	v := 0.0
	if ready {
		v = 1
	}
	r.ready.WithLabelValues(ns, name).Set(v)
}

// RecordChangeSet counts the actions of the change set, unchanged objects are ignored.
func (r *Recorder) RecordChangeSet(ns, name string, cs *ssa.ChangeSet) {
	if cs == nil {
		return
	}
	for _, entry := range cs.Entries {
		if entry.Action == ssa.UnchangedAction {
			continue
		}
		r.resourceActions.WithLabelValues(ns, name, entry.Action.String()).Inc()
	}
}

// Delete removes the series of a deleted instance.
func (r *Recorder) Delete(ns, name string) {
	labels := prometheus.Labels{"namespace": ns, "name": name}
	r.reconcileDuration.DeletePartialMatch(labels)
	r.inventoryEntries.Delete(labels)
	r.ready.Delete(labels)
	r.resourceActions.DeletePartialMatch(labels)
}
