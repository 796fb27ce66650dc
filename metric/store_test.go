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

package metric

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	. "github.com/smartystreets/goconvey/convey"
)

func counterValue(mfs []*dto.MetricFamily, name, op string) (float64, bool) {
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			matched := op == ""
			for _, l := range m.GetLabel() {
				if l.GetName() == "op" && l.GetValue() == op {
					matched = true
				}
			}
			if matched {
				return m.GetCounter().GetValue(), true
			}
		}
	}
	return 0, false
}

func TestStoreCollector(t *testing.T) {
	Convey("Given a registered store collector", t, func() {
		var (
			reg = prometheus.NewRegistry()
			c   = NewStoreCollector("memory")
		)
		So(reg.Register(c), ShouldBeNil)

		c.Observe(OpPush, nil)
		c.Observe(OpPush, nil)
		c.Observe(OpPush, errors.New("locked"))
		c.Observe(OpIter, nil)
		c.Observe(Op(-1), nil)
		c.AddCompacted(7)
		c.AddCompacted(-1)

		So(c.Total(OpPush), ShouldEqual, 3)
		So(c.Errors(OpPush), ShouldEqual, 1)
		So(c.Total(opCount), ShouldEqual, 0)

		mfs, err := reg.Gather()
		So(err, ShouldBeNil)
		v, ok := counterValue(mfs, "binlog_operations_total", "push")
		So(ok, ShouldBeTrue)
		So(v, ShouldEqual, 3)
		v, ok = counterValue(mfs, "binlog_operation_errors_total", "push")
		So(ok, ShouldBeTrue)
		So(v, ShouldEqual, 1)
		v, ok = counterValue(mfs, "binlog_operations_total", "iter")
		So(ok, ShouldBeTrue)
		So(v, ShouldEqual, 1)
		v, ok = counterValue(mfs, "binlog_compacted_entries_total", "")
		So(ok, ShouldBeTrue)
		So(v, ShouldEqual, 7)
	})
	Convey("A nil collector should ignore observations", t, func() {
		var c *StoreCollector
		c.Observe(OpPush, nil)
		c.AddCompacted(3)
		So(c.Total(OpPush), ShouldEqual, 0)
		So(c.Errors(OpPush), ShouldEqual, 0)
		So(OpCompact.String(), ShouldEqual, "compact")
		So(Op(99).String(), ShouldEqual, "unknown")
	})
}
