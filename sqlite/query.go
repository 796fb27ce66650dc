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

package sqlite

import (
	"fmt"
	"strings"

	"github.com/CovenantSQL/binlog/types"
)

// statementBuilder renders the WHERE clause of a range specification. Timestamps are
// validated int64 values and are interpolated, the name is always a bound parameter.
type statementBuilder struct {
	start types.Bound
	end   types.Bound
	name  *string
}

func boundClause(col string, b types.Bound, inclusiveOp, exclusiveOp string) string {
	switch b.Kind {
	case types.Inclusive:
		return fmt.Sprintf(`"%s" %s %d`, col, inclusiveOp, b.Timestamp)
	case types.Exclusive:
		return fmt.Sprintf(`"%s" %s %d`, col, exclusiveOp, b.Timestamp)
	default:
		return ""
	}
}

// where returns the condition with the start bound applied to startCol and the end bound
// applied to endCol.
func (b *statementBuilder) where(startCol, endCol string) (cond string, args []interface{}) {
	var clauses []string
	if c := boundClause(startCol, b.start, ">=", ">"); c != "" {
		clauses = append(clauses, c)
	}
	if c := boundClause(endCol, b.end, "<=", "<"); c != "" {
		clauses = append(clauses, c)
	}
	if b.name != nil {
		clauses = append(clauses, `"name" = ?`)
		args = append(args, *b.name)
	}
	if len(clauses) > 0 {
		cond = "WHERE " + strings.Join(clauses, " AND ")
	}
	return
}

func (b *statementBuilder) build(prefix, suffix, startCol, endCol string) (stmt string, args []interface{}) {
	cond, args := b.where(startCol, endCol)
	parts := make([]string, 0, 3)
	parts = append(parts, prefix)
	if cond != "" {
		parts = append(parts, cond)
	}
	if suffix != "" {
		parts = append(parts, suffix)
	}
	stmt = strings.Join(parts, " ")
	return
}

// logStatement filters the log table on its ts column.
func (b *statementBuilder) logStatement(prefix, suffix string) (string, []interface{}) {
	return b.build(prefix, suffix, "ts", "ts")
}

// overlapStatement selects the compacted blocks whose [start_ts, end_ts] span intersects
// the range.
func (b *statementBuilder) overlapStatement(prefix, suffix string) (string, []interface{}) {
	return b.build(prefix, suffix, "end_ts", "start_ts")
}

// contains reports whether a block spanning [startTs, endTs] lies fully inside the range.
func (b *statementBuilder) contains(startTs, endTs int64) bool {
	return types.Contains(b.start, b.end, startTs) && types.Contains(b.start, b.end, endTs)
}

// matches reports whether the entry falls inside the range.
func (b *statementBuilder) matches(ts int64, name string) bool {
	if b.name != nil && *b.name != name {
		return false
	}
	return types.Contains(b.start, b.end, ts)
}
