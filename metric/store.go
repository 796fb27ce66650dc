/*
 * Copyright 2022 The CovenantSQL Authors.
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

// Package metric exposes binlog store activity as prometheus metrics.
package metric

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Op enumerates the counted store operations.
type Op int

const (
	// OpPush counts pushed entries.
	OpPush Op = iota
	// OpLatest counts latest lookups.
	OpLatest
	// OpCount counts range counts.
	OpCount
	// OpRemove counts range removals.
	OpRemove
	// OpIter counts range iterations.
	OpIter
	// OpSubscribe counts opened subscriptions.
	OpSubscribe
	// OpCompact counts compaction passes.
	OpCompact
	opCount
)

var opNames = [opCount]string{"push", "latest", "count", "remove", "iter", "subscribe", "compact"}

func (o Op) String() string {
	if o < 0 || o >= opCount {
		return "unknown"
	}
	return opNames[o]
}

type opStats struct {
	total  uint64
	errors uint64
}

// StoreCollector collects operation counters of one backend.
type StoreCollector struct {
	backend string
	ops     [opCount]opStats

	// compacted counts entries absorbed into bundles.
	compacted uint64

	once  sync.Once
	descs struct {
		total, errors, compacted *prometheus.Desc
	}
}

func binlogNamespace(s string) string {
	return fmt.Sprintf("binlog_%s", s)
}

// NewStoreCollector returns a collector for the named backend.
func NewStoreCollector(backend string) *StoreCollector {
	return &StoreCollector{backend: backend}
}

func (c *StoreCollector) init() {
	c.once.Do(func() {
		labels := prometheus.Labels{"backend": c.backend}
		c.descs.total = prometheus.NewDesc(
			binlogNamespace("operations_total"), "Store operations by kind.", []string{"op"}, labels)
		c.descs.errors = prometheus.NewDesc(
			binlogNamespace("operation_errors_total"), "Failed store operations by kind.", []string{"op"}, labels)
		c.descs.compacted = prometheus.NewDesc(
			binlogNamespace("compacted_entries_total"), "Entries absorbed into compacted bundles.", nil, labels)
	})
}

// Observe records one operation and whether it failed. A nil collector ignores the call.
func (c *StoreCollector) Observe(op Op, err error) {
	if c == nil || op < 0 || op >= opCount {
		return
	}
	atomic.AddUint64(&c.ops[op].total, 1)
	if err != nil {
		atomic.AddUint64(&c.ops[op].errors, 1)
	}
}

// AddCompacted records n entries absorbed by compaction.
func (c *StoreCollector) AddCompacted(n int) {
	if c == nil || n <= 0 {
		return
	}
	atomic.AddUint64(&c.compacted, uint64(n))
}

// Total returns the number of recorded operations of kind op.
func (c *StoreCollector) Total(op Op) uint64 {
	if c == nil || op < 0 || op >= opCount {
		return 0
	}
	return atomic.LoadUint64(&c.ops[op].total)
}

// Errors returns the number of recorded failures of kind op.
func (c *StoreCollector) Errors(op Op) uint64 {
	if c == nil || op < 0 || op >= opCount {
		return 0
	}
	return atomic.LoadUint64(&c.ops[op].errors)
}

// Describe implements prometheus.Collector.Describe.
func (c *StoreCollector) Describe(ch chan<- *prometheus.Desc) {
	c.init()
	ch <- c.descs.total
	ch <- c.descs.errors
	ch <- c.descs.compacted
}

// Collect implements prometheus.Collector.Collect.
func (c *StoreCollector) Collect(ch chan<- prometheus.Metric) {
	c.init()
	for i := Op(0); i < opCount; i++ {
		ch <- prometheus.MustNewConstMetric(c.descs.total, prometheus.CounterValue,
			float64(c.Total(i)), i.String())
		ch <- prometheus.MustNewConstMetric(c.descs.errors, prometheus.CounterValue,
			float64(c.Errors(i)), i.String())
	}
	ch <- prometheus.MustNewConstMetric(c.descs.compacted, prometheus.CounterValue,
		float64(atomic.LoadUint64(&c.compacted)))
}
