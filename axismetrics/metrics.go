/*
   Copyright 2025 The DIRPX Authors.

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

// Package axismetrics exposes an axis's runtime state as Prometheus
// metrics. Unlike the teacher's observability package, which builds its
// metrics through promauto onto a package-level DefaultMetrics singleton,
// Collector here is an ordinary prometheus.Collector value: the caller
// constructs one per axis and registers it with whatever
// *prometheus.Registry they already have. Two axes, or two test runs in
// the same process, never collide over a global registry.
package axismetrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"dirpx.dev/timeaxis/engine"
	"dirpx.dev/timeaxis/ids"
)

const namespace = "timeaxis"

// Source is the read-only slice of *axis.Axis that Collector needs. An
// *axis.Axis satisfies this directly; Source exists so tests (and any
// future caller that wants to report metrics for something other than a
// live axis) can substitute a fake without spinning up a real engine.
type Source interface {
	GetStats() engine.Stats
	GetCurrentSlot() ids.SlotIndex
	IsTerminated() bool
}

var (
	requestsProcessedDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "total_requests_processed"),
		"Total number of state-change requests harvested and processed across all ticks.",
		nil, nil,
	)
	conflictsResolvedDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "total_conflicts_resolved"),
		"Total number of processed requests that lost conflict resolution across all ticks.",
		nil, nil,
	)
	currentSlotDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "current_slot"),
		"The slot index the axis last committed.",
		nil, nil,
	)
	lifecycleDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "lifecycle"),
		"Axis lifecycle state: 0 Running, 1 Terminated.",
		nil, nil,
	)
	activeConflictGroupsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "active_conflict_groups"),
		"Number of conflict groups currently active on the axis.",
		nil, nil,
	)
	currentAnchorCountDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "current_anchor_count"),
		"Number of anchors currently retained by the axis.",
		nil, nil,
	)
	memoryUsageBytesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "memory_usage_bytes"),
		"Estimated memory footprint of the axis's live state.",
		nil, nil,
	)
)

// Collector adapts one axis's read-only inspection surface
// (GetStats/GetCurrentSlot/IsTerminated) to prometheus.Collector. It holds
// no counters of its own; every Collect call reads the wrapped axis fresh,
// so a Collector never drifts stale and the engine's commit path never
// needs to know metrics exist.
type Collector struct {
	source Source
}

// New wraps source in a Collector. The caller registers the result with a
// *prometheus.Registry (or the default registerer) themselves; New never
// registers anything, so constructing two Collectors for two axes never
// risks the double-registration panic a package-level MustRegister would.
func New(source Source) *Collector {
	return &Collector{source: source}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- requestsProcessedDesc
	ch <- conflictsResolvedDesc
	ch <- currentSlotDesc
	ch <- lifecycleDesc
	ch <- activeConflictGroupsDesc
	ch <- currentAnchorCountDesc
	ch <- memoryUsageBytesDesc
}

// Collect implements prometheus.Collector, reading the wrapped axis's
// current state on every call.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source.GetStats()
	ch <- prometheus.MustNewConstMetric(requestsProcessedDesc, prometheus.CounterValue, float64(stats.TotalRequestsProcessed))
	ch <- prometheus.MustNewConstMetric(conflictsResolvedDesc, prometheus.CounterValue, float64(stats.TotalConflictsResolved))
	ch <- prometheus.MustNewConstMetric(currentSlotDesc, prometheus.GaugeValue, float64(c.source.GetCurrentSlot()))
	ch <- prometheus.MustNewConstMetric(activeConflictGroupsDesc, prometheus.GaugeValue, float64(stats.ActiveConflictGroups))
	ch <- prometheus.MustNewConstMetric(currentAnchorCountDesc, prometheus.GaugeValue, float64(stats.CurrentAnchorCount))
	ch <- prometheus.MustNewConstMetric(memoryUsageBytesDesc, prometheus.GaugeValue, float64(stats.MemoryUsageBytes))

	lifecycle := 0.0
	if c.source.IsTerminated() {
		lifecycle = 1.0
	}
	ch <- prometheus.MustNewConstMetric(lifecycleDesc, prometheus.GaugeValue, lifecycle)
}
