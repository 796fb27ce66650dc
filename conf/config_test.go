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

package conf

import (
	"io/ioutil"
	"os"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"gopkg.in/yaml.v2"
)

const testFile = "./.configtest"

func writeConfig(content string) {
	So(ioutil.WriteFile(testFile, []byte(content), 0600), ShouldBeNil)
}

func TestConf(t *testing.T) {
	Convey("LoadConfig", t, func() {
		defer os.Remove(testFile)

		Convey("A sqlite config should keep the given values", func() {
			writeConfig(`
Backend: sqlite
LogLevel: debug
SQLite:
  DSN: "file:/tmp/events.db3"
  PageSize: 256
  Retention: 30m
  MaxBundleSpan: 2h
  CompactInterval: 1m
`)
			config, err := LoadConfig(testFile)
			So(err, ShouldBeNil)
			So(config.Backend, ShouldEqual, BackendSQLite)
			So(config.LogLevel, ShouldEqual, "debug")
			So(config.SQLite.DSN, ShouldEqual, "file:/tmp/events.db3")
			So(config.SQLite.PageSize, ShouldEqual, 256)
			So(config.SQLite.Retention, ShouldEqual, 30*time.Minute)
			So(config.SQLite.MaxBundleSpan, ShouldEqual, 2*time.Hour)
			So(config.SQLite.CompactInterval, ShouldEqual, time.Minute)
			So(config.Redis, ShouldBeNil)
		})
		Convey("Omitted fields should take the defaults", func() {
			writeConfig("Backend: stream\n")
			config, err := LoadConfig(testFile)
			So(err, ShouldBeNil)
			So(config.LogLevel, ShouldEqual, DefaultLogLevel)
			So(config.Redis, ShouldNotBeNil)
			So(config.Redis.Addr, ShouldEqual, DefaultRedisAddr)

			writeConfig("LogLevel: warning\n")
			config, err = LoadConfig(testFile)
			So(err, ShouldBeNil)
			So(config.Backend, ShouldEqual, DefaultBackend)
		})
		Convey("A marshaled config should load back", func() {
			config := &Config{
				Backend: BackendStream,
				Redis: &RedisConfig{
					Addr:     "10.0.0.1:6379",
					PoolSize: 8,
					Block:    500 * time.Millisecond,
				},
			}
			config.SetDefaults()
			out, err := yaml.Marshal(config)
			So(err, ShouldBeNil)
			writeConfig(string(out))
			loaded, err := LoadConfig(testFile)
			So(err, ShouldBeNil)
			So(loaded, ShouldResemble, config)
		})
		Convey("Invalid configs should be rejected", func() {
			writeConfig("Backend: etcd\n")
			_, err := LoadConfig(testFile)
			So(err, ShouldNotBeNil)

			writeConfig("LogLevel: loud\n")
			_, err = LoadConfig(testFile)
			So(err, ShouldNotBeNil)

			writeConfig("Backend: [sqlite\n")
			_, err = LoadConfig(testFile)
			So(err, ShouldNotBeNil)

			_, err = LoadConfig("./.not-exists")
			So(err, ShouldNotBeNil)
		})
	})
}
