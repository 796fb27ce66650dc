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
	"io/ioutil"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricWeb(t *testing.T) {
	Convey("The handler should expose the store counters", t, func() {
		c := NewStoreCollector("sqlite")
		c.Observe(OpPush, nil)
		c.Observe(OpPush, errors.New("failed"))
		c.AddCompacted(7)

		h, err := NewHandler(c)
		So(err, ShouldBeNil)
		srv := httptest.NewServer(h)
		defer srv.Close()

		resp, err := srv.Client().Get(srv.URL)
		So(err, ShouldBeNil)
		defer resp.Body.Close()
		body, err := ioutil.ReadAll(resp.Body)
		So(err, ShouldBeNil)
		So(string(body), ShouldContainSubstring, `binlog_operations_total{backend="sqlite",op="push"} 2`)
		So(string(body), ShouldContainSubstring, `binlog_operation_errors_total{backend="sqlite",op="push"} 1`)
		So(string(body), ShouldContainSubstring, `binlog_compacted_entries_total{backend="sqlite"} 7`)
	})
	Convey("Registering a collector twice should fail", t, func() {
		c := NewStoreCollector("memory")
		_, err := NewHandler(c, c)
		So(err, ShouldNotBeNil)
	})
}
