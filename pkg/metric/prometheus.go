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

package metric

import (
	"fmt"
	"io"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
)

// family converts m to a Prometheus metric family holding one sample per
// field combination.
func (m *customUint64Metric) family() *dto.MetricFamily {
	typ := dto.MetricType_GAUGE
	if m.cumulative {
		typ = dto.MetricType_COUNTER
	}
	f := &dto.MetricFamily{
		Name: proto.String(m.name),
		Type: typ.Enum(),
	}
	if m.description != "" {
		f.Help = proto.String(m.description)
	}
	for key := 0; key < m.fieldMapper.numKeys(); key++ {
		values := m.fieldMapper.keyToMultiField(key)
		v := float64(m.value(values...))
		sample := &dto.Metric{}
		for i, val := range values {
			sample.Label = append(sample.Label, &dto.LabelPair{
				Name:  proto.String(m.fieldMapper.fields[i].name),
				Value: proto.String(val),
			})
		}
		if m.cumulative {
			sample.Counter = &dto.Counter{Value: proto.Float64(v)}
		} else {
			sample.Gauge = &dto.Gauge{Value: proto.Float64(v)}
		}
		f.Metric = append(f.Metric, sample)
	}
	return f
}

// WriteText writes all registered metrics to w in the Prometheus text
// exposition format, ordered by name.
func WriteText(w io.Writer) error {
	for _, m := range allMetrics.sorted() {
		if _, err := expfmt.MetricFamilyToText(w, m.family()); err != nil {
			return fmt.Errorf("writing metric %q: %w", m.name, err)
		}
	}
	return nil
}
