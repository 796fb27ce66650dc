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

// Package types defines the entry model, the range bounds and the store contracts shared by
// every binlog backend.
package types

import (
	"bytes"
	"fmt"
	"time"
)

// Entry is a single record of the log.
type Entry struct {
	// Timestamp is the number of microseconds since the Unix epoch.
	Timestamp int64
	Name      string
	Value     []byte
}

// NewEntry returns a new entry stamped with the current time.
func NewEntry(name string, value []byte) *Entry {
	return &Entry{
		Timestamp: time.Now().UnixMicro(),
		Name:      name,
		Value:     value,
	}
}

// NewEntryWithTime returns a new entry stamped with t.
func NewEntryWithTime(t time.Time, name string, value []byte) (e *Entry, err error) {
	var ts int64
	if ts, err = Micros(t); err != nil {
		return
	}
	e = &Entry{Timestamp: ts, Name: name, Value: value}
	return
}

// Time returns the entry timestamp as a time.Time.
func (e *Entry) Time() time.Time {
	return time.UnixMicro(e.Timestamp)
}

// Equal reports whether two entries hold the same timestamp, name and value.
func (e *Entry) Equal(o *Entry) bool {
	if e == nil || o == nil {
		return e == o
	}
	return e.Timestamp == o.Timestamp && e.Name == o.Name && bytes.Equal(e.Value, o.Value)
}

func (e *Entry) String() string {
	return fmt.Sprintf("%s@%d(%d bytes)", e.Name, e.Timestamp, len(e.Value))
}

// CheckEntry validates an entry before it is handed to a backend.
func CheckEntry(e *Entry) error {
	if e == nil {
		return ErrNilEntry
	}
	if e.Timestamp < 0 {
		return ErrTimeTooLarge
	}
	return nil
}
