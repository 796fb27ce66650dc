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

	"github.com/pkg/errors"
)

var (
	// ErrBadRange indicates reversed bounds or an equal pair with an exclusive side.
	ErrBadRange = errors.New("ranges cannot be reversed, or have exclusive bounds with equal timestamps")
	// ErrTimeTooLarge indicates a time value that cannot be represented as int64 microseconds.
	ErrTimeTooLarge = errors.New("time value is too large")
	// ErrDataFormat indicates a stored or received record that could not be decoded.
	ErrDataFormat = errors.New("unexpected data format")
	// ErrRangeConsumed indicates a range handle that has already been removed or iterated.
	ErrRangeConsumed = errors.New("range has already been consumed")
	// ErrClosed indicates the store or subscription is closed.
	ErrClosed = errors.New("store is closed")
	// ErrNilEntry indicates a nil entry passed to push.
	ErrNilEntry = errors.New("nil entry")
)

// DatabaseError wraps an opaque backend failure, e.g. a sqlite or redis error.
type DatabaseError struct {
	Err error
}

// NewDatabaseError wraps err as a DatabaseError, returning nil for a nil err.
func NewDatabaseError(err error) error {
	if err == nil {
		return nil
	}
	return &DatabaseError{Err: err}
}

func (e *DatabaseError) Error() string { return fmt.Sprintf("database error: %v", e.Err) }

// Unwrap returns the underlying backend error.
func (e *DatabaseError) Unwrap() error { return e.Err }

// IoError wraps a local filesystem or network failure.
type IoError struct {
	Err error
}

// NewIoError wraps err as an IoError, returning nil for a nil err.
func NewIoError(err error) error {
	if err == nil {
		return nil
	}
	return &IoError{Err: err}
}

func (e *IoError) Error() string { return fmt.Sprintf("i/o error: %v", e.Err) }

// Unwrap returns the underlying i/o error.
func (e *IoError) Unwrap() error { return e.Err }

// ErrorKind classifies errors returned by stores.
type ErrorKind int

const (
	// KindNone is the kind of a nil error.
	KindNone ErrorKind = iota
	// KindBadRange is the kind of ErrBadRange.
	KindBadRange
	// KindTimeTooLarge is the kind of ErrTimeTooLarge.
	KindTimeTooLarge
	// KindDataFormat is the kind of ErrDataFormat.
	KindDataFormat
	// KindDatabase is the kind of DatabaseError.
	KindDatabase
	// KindIo is the kind of IoError.
	KindIo
	// KindUsage covers misuse of a handle: consumed ranges, closed stores, nil entries.
	KindUsage
	// KindUnknown covers anything else.
	KindUnknown
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "None"
	case KindBadRange:
		return "BadRange"
	case KindTimeTooLarge:
		return "TimeTooLarge"
	case KindDataFormat:
		return "DataFormat"
	case KindDatabase:
		return "Database"
	case KindIo:
		return "Io"
	case KindUsage:
		return "Usage"
	}
	return "Unknown"
}

// KindOf returns the kind of err, looking through pkg/errors wrappers.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	switch cause := errors.Cause(err); cause {
	case ErrBadRange:
		return KindBadRange
	case ErrTimeTooLarge:
		return KindTimeTooLarge
	case ErrDataFormat:
		return KindDataFormat
	case ErrRangeConsumed, ErrClosed, ErrNilEntry:
		return KindUsage
	default:
		switch cause.(type) {
		case *DatabaseError:
			return KindDatabase
		case *IoError:
			return KindIo
		}
	}
	return KindUnknown
}
