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

// Package storage builds the sqlite connection strings used by the durable binlog engine.
package storage

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// DSN represents a sqlite connection string.
type DSN struct {
	filename string
	params   map[string]string
}

// NewDSN parses the given string and returns a DSN. Both plain paths and "file:" URIs are
// accepted.
func NewDSN(s string) (*DSN, error) {
	parts := strings.SplitN(s, "?", 2)

	dsn := &DSN{
		filename: strings.TrimPrefix(parts[0], "file:"),
		params:   make(map[string]string),
	}

	if len(parts) < 2 || parts[1] == "" {
		return dsn, nil
	}

	for _, v := range strings.Split(parts[1], "&") {
		param := strings.SplitN(v, "=", 2)

		if len(param) != 2 {
			return nil, errors.Errorf("unrecognized parameter: %s", v)
		}

		dsn.params[param[0]] = param[1]
	}

	return dsn, nil
}

// Format formats DSN to a connection string. Parameters are sorted by key.
func (dsn *DSN) Format() string {
	if len(dsn.params) == 0 {
		return fmt.Sprintf("file:%s", dsn.filename)
	}

	params := make([]string, 0, len(dsn.params))
	for k, v := range dsn.params {
		params = append(params, k+"="+v)
	}
	sort.Strings(params)

	return fmt.Sprintf("file:%s?%s", dsn.filename, strings.Join(params, "&"))
}

// SetFileName sets the sqlite database file name of DSN.
func (dsn *DSN) SetFileName(fn string) { dsn.filename = fn }

// GetFileName gets the sqlite database file name of DSN.
func (dsn *DSN) GetFileName() string { return dsn.filename }

// AddParam sets a DSN parameter, an empty value removes it.
func (dsn *DSN) AddParam(key, value string) {
	if dsn.params == nil {
		dsn.params = make(map[string]string)
	}

	if value == "" {
		delete(dsn.params, key)
	} else {
		dsn.params[key] = value
	}
}

// GetParam gets the value.
func (dsn *DSN) GetParam(key string) (value string, ok bool) {
	value, ok = dsn.params[key]
	return
}

// Clone returns a copy of current dsn.
func (dsn *DSN) Clone() *DSN {
	c := &DSN{
		filename: dsn.filename,
		params:   make(map[string]string, len(dsn.params)),
	}
	for k, v := range dsn.params {
		c.params[k] = v
	}
	return c
}

// IsMemory reports whether the DSN points to an in-memory database, which cannot be shared
// between a reader and a writer pool without a shared cache.
func (dsn *DSN) IsMemory() bool {
	if mode, ok := dsn.params["mode"]; ok && mode == "memory" {
		return true
	}
	return dsn.filename == ":memory:" || dsn.filename == ""
}

// WriterDSN returns the connection string of the single-connection writer pool.
func (dsn *DSN) WriterDSN(busyTimeoutMS int) string {
	w := dsn.Clone()
	w.AddParam("_journal_mode", "WAL")
	w.AddParam("_busy_timeout", fmt.Sprint(busyTimeoutMS))
	w.AddParam("_txlock", "immediate")
	return w.Format()
}

// ReaderDSN returns the connection string of the query-only reader pool.
func (dsn *DSN) ReaderDSN(busyTimeoutMS int) string {
	r := dsn.Clone()
	r.AddParam("_journal_mode", "WAL")
	r.AddParam("_busy_timeout", fmt.Sprint(busyTimeoutMS))
	r.AddParam("_query_only", "on")
	return r.Format()
}
