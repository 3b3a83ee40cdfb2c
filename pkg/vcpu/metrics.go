// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package vcpu

import "hvept.dev/hvept/pkg/metric"

// Resync triggers.
const (
	triggerExplicit  = "explicit"
	triggerRequested = "requested"
	triggerMTRRWrite = "mtrr_write"
)

var (
	buildsMetric = metric.MustCreateNewUint64Metric("ept_builds", "Number of EPT table builds.")

	resyncsMetric = metric.MustCreateNewUint64Metric("ept_resyncs", "Number of EPT memory type resyncs.",
		metric.NewField("trigger", []string{triggerExplicit, triggerRequested, triggerMTRRWrite}))

	splitsMetric = metric.MustCreateNewUint64Metric("ept_splits", "Number of large pages split into 4KB pages.")

	memoryTypeUpdatesMetric = metric.MustCreateNewUint64Metric("ept_memory_type_updates", "Number of EPT leaf entries whose memory type changed on resync.")
)
