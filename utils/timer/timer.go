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

// Package timer provides a stop watch used to log the stages of long maintenance jobs.
package timer

import (
	"sync"
	"time"

	"github.com/CovenantSQL/binlog/utils/log"
)

type pivot struct {
	stage string
	at    time.Time
}

// Timer records named pivots relative to its creation time.
type Timer struct {
	sync.Mutex
	start  time.Time
	pivots []pivot
}

// NewTimer returns a timer started now.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Add closes the current stage under name. Repeated names accumulate.
func (t *Timer) Add(name string) {
	t.Lock()
	defer t.Unlock()
	t.pivots = append(t.pivots, pivot{stage: name, at: time.Now()})
}

// ToMap returns the duration of every stage plus the "total" since the timer started.
func (t *Timer) ToMap() map[string]time.Duration {
	t.Lock()
	defer t.Unlock()

	m := make(map[string]time.Duration, len(t.pivots)+1)
	last := t.start
	for _, p := range t.pivots {
		m[p.stage] += p.at.Sub(last)
		last = p.at
	}
	if len(t.pivots) > 0 {
		m["total"] = last.Sub(t.start)
	}
	return m
}

// ToLogFields returns ToMap as log fields.
func (t *Timer) ToLogFields() log.Fields {
	f := log.Fields{}
	for k, v := range t.ToMap() {
		f[k] = v
	}
	return f
}
