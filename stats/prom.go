/*
Copyright (c) Facebook, Inc. and its affiliates.

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

package stats

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

const prefix = "ptpsync_"

// PrometheusExporter exposes the counter set as a prometheus collector
type PrometheusExporter struct {
	stats       *Stats
	counterDesc *prometheus.Desc
	gaugeDesc   *prometheus.Desc
}

// NewPrometheusExporter creates a collector reading from s
func NewPrometheusExporter(s *Stats) *PrometheusExporter {
	return &PrometheusExporter{
		stats: s,
		counterDesc: prometheus.NewDesc(
			prefix+"counter",
			"engine counter",
			[]string{"name"}, nil,
		),
		gaugeDesc: prometheus.NewDesc(
			prefix+"gauge",
			"engine gauge",
			[]string{"name"}, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (e *PrometheusExporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.counterDesc
	ch <- e.gaugeDesc
}

// Collect implements prometheus.Collector
func (e *PrometheusExporter) Collect(ch chan<- prometheus.Metric) {
	for name, v := range e.stats.Counters() {
		ch <- prometheus.MustNewConstMetric(e.counterDesc, prometheus.CounterValue, float64(v), sanitize(name))
	}
	for name, v := range e.stats.Gauges() {
		ch <- prometheus.MustNewConstMetric(e.gaugeDesc, prometheus.GaugeValue, v, sanitize(name))
	}
}

func sanitize(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, ".", "_"))
}
