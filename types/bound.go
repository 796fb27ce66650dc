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

package types

import (
	"fmt"
	"math"
	"time"
)

// BoundKind enumerates the kinds of range bounds.
type BoundKind int

const (
	// Unbound leaves one side of the range open.
	Unbound BoundKind = iota
	// Inclusive matches the bound timestamp itself.
	Inclusive
	// Exclusive stops right before the bound timestamp.
	Exclusive
)

func (k BoundKind) String() string {
	switch k {
	case Unbound:
		return "Unbounded"
	case Inclusive:
		return "Included"
	case Exclusive:
		return "Excluded"
	}
	return "Unknown"
}

// Bound is one side of a timestamp range.
type Bound struct {
	Kind      BoundKind
	Timestamp int64

	// overflow marks a bound built from a time that cannot be represented in microseconds.
	overflow bool
}

// Included returns a bound matching ts itself.
func Included(ts int64) Bound { return Bound{Kind: Inclusive, Timestamp: ts} }

// Excluded returns a bound that stops right before ts.
func Excluded(ts int64) Bound { return Bound{Kind: Exclusive, Timestamp: ts} }

// Unbounded returns an open bound.
func Unbounded() Bound { return Bound{Kind: Unbound} }

// IncludedTime returns an inclusive bound at t.
func IncludedTime(t time.Time) Bound { return timeBound(Inclusive, t) }

// ExcludedTime returns an exclusive bound at t.
func ExcludedTime(t time.Time) Bound { return timeBound(Exclusive, t) }

func timeBound(kind BoundKind, t time.Time) (b Bound) {
	b.Kind = kind
	ts, err := Micros(t)
	if err != nil {
		b.overflow = true
		return
	}
	b.Timestamp = ts
	return
}

// IsBounded reports whether the bound carries a concrete timestamp.
func (b Bound) IsBounded() bool { return b.Kind != Unbound }

func (b Bound) String() string {
	if b.Kind == Unbound {
		return b.Kind.String()
	}
	return fmt.Sprintf("%s(%d)", b.Kind, b.Timestamp)
}

const microsPerSecond = int64(time.Second / time.Microsecond)

// Micros converts t to microseconds since the Unix epoch. Times before the epoch and times
// beyond the int64 microsecond range yield ErrTimeTooLarge.
func Micros(t time.Time) (int64, error) {
	var (
		sec  = t.Unix()
		usec = int64(t.Nanosecond()) / int64(time.Microsecond)
	)
	if sec < 0 || sec > math.MaxInt64/microsPerSecond {
		return 0, ErrTimeTooLarge
	}
	base := sec * microsPerSecond
	if usec > math.MaxInt64-base {
		return 0, ErrTimeTooLarge
	}
	return base + usec, nil
}

// Name returns a name filter matching only name.
func Name(name string) *string { return &name }

func checkBound(b Bound) (bounded bool, err error) {
	if b.Kind == Unbound {
		return
	}
	if b.overflow || b.Timestamp < 0 {
		err = ErrTimeTooLarge
		return
	}
	bounded = true
	return
}

// CheckBounds validates a start/end pair. Both bounds must be representable, start must not
// come after end, and an equal pair may not exclude either side since it could never match.
func CheckBounds(start, end Bound) (err error) {
	var startBounded, endBounded bool
	if startBounded, err = checkBound(start); err != nil {
		return
	}
	if endBounded, err = checkBound(end); err != nil {
		return
	}
	if !startBounded || !endBounded {
		return
	}
	switch {
	case start.Timestamp > end.Timestamp:
		err = ErrBadRange
	case start.Timestamp == end.Timestamp:
		if start.Kind == Exclusive || end.Kind == Exclusive {
			err = ErrBadRange
		}
	}
	return
}

// Contains reports whether ts falls between start and end.
func Contains(start, end Bound, ts int64) bool {
	switch start.Kind {
	case Inclusive:
		if ts < start.Timestamp {
			return false
		}
	case Exclusive:
		if ts <= start.Timestamp {
			return false
		}
	}
	switch end.Kind {
	case Inclusive:
		if ts > end.Timestamp {
			return false
		}
	case Exclusive:
		if ts >= end.Timestamp {
			return false
		}
	}
	return true
}
