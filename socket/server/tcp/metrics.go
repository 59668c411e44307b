/*
 * MIT License
 *
 * Copyright (c) 2025 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

package tcp

import "github.com/prometheus/client_golang/prometheus"

// metrics is a hand-rolled prometheus.Collector (rather than a registered
// global) so that more than one Server in the same process - one per
// listener, in tests - never collides on metric registration.
type metrics struct {
	accepted   prometheus.Counter
	liveConns  prometheus.Gauge
	bytesRead  prometheus.Counter
	bytesWrote prometheus.Counter
	highWater  prometheus.Counter
}

func newMetrics(namespace string) *metrics {
	return &metrics{
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "accepted_total", Help: "total accepted connections",
		}),
		liveConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "live_connections", Help: "currently open connections",
		}),
		bytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "bytes_read_total", Help: "total bytes read from all connections",
		}),
		bytesWrote: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "bytes_written_total", Help: "total bytes written to all connections",
		}),
		highWater: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "high_water_crossings_total", Help: "total upward high-water-mark crossings",
		}),
	}
}

// Describe implements prometheus.Collector.
func (m *metrics) Describe(ch chan<- *prometheus.Desc) {
	m.accepted.Describe(ch)
	m.liveConns.Describe(ch)
	m.bytesRead.Describe(ch)
	m.bytesWrote.Describe(ch)
	m.highWater.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *metrics) Collect(ch chan<- prometheus.Metric) {
	m.accepted.Collect(ch)
	m.liveConns.Collect(ch)
	m.bytesRead.Collect(ch)
	m.bytesWrote.Collect(ch)
	m.highWater.Collect(ch)
}

var _ prometheus.Collector = (*metrics)(nil)
