// Copyright 2018 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package stats

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "esagent"

var (
	connectedDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "connected"),
		"Whether the last request attempt reached a node (1) or not (0).",
		nil, nil)
	insertsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "inserts_total"),
		"Documents successfully indexed.",
		nil, nil)
	failedRequestsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "failed_requests_total"),
		"Bulk submissions that failed as a whole.",
		nil, nil)
	failedDocumentsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "failed_documents_total"),
		"Documents that were not indexed.",
		nil, nil)
	reconnectionsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "reconnections_total"),
		"Reconnection rounds after every node failed.",
		nil, nil)
	bulkRequestsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "bulk_requests_total"),
		"Bulk requests that received a response.",
		nil, nil)
)

// collector exposes a Provider's Snapshot as Prometheus metrics. Values are read when the
// registry is scraped.
type collector struct {
	provider Provider
}

// NewCollector returns a prometheus.Collector that reports the Snapshot held by p.
func NewCollector(p Provider) prometheus.Collector {
	return &collector{provider: p}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- connectedDesc
	ch <- insertsDesc
	ch <- failedRequestsDesc
	ch <- failedDocumentsDesc
	ch <- reconnectionsDesc
	ch <- bulkRequestsDesc
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	s := c.provider.Snapshot()
	var connected float64
	if s.Connected {
		connected = 1
	}
	ch <- prometheus.MustNewConstMetric(connectedDesc, prometheus.GaugeValue, connected)
	ch <- prometheus.MustNewConstMetric(insertsDesc, prometheus.CounterValue, float64(s.Inserts))
	ch <- prometheus.MustNewConstMetric(failedRequestsDesc, prometheus.CounterValue, float64(s.FailedRequests))
	ch <- prometheus.MustNewConstMetric(failedDocumentsDesc, prometheus.CounterValue, float64(s.FailedDocuments))
	ch <- prometheus.MustNewConstMetric(reconnectionsDesc, prometheus.CounterValue, float64(s.Reconnections))
	ch <- prometheus.MustNewConstMetric(bulkRequestsDesc, prometheus.CounterValue, float64(s.BulkRequests))
}
