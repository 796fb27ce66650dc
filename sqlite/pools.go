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
	"context"
	"database/sql"

	sqlite3 "github.com/CovenantSQL/go-sqlite3-encrypt"
	"github.com/pkg/errors"

	"github.com/CovenantSQL/binlog/storage"
	"github.com/CovenantSQL/binlog/types"
)

const binlogDriver = "sqlite3-binlog"

const schema = `
CREATE TABLE IF NOT EXISTS "log" (
	"id"    INTEGER PRIMARY KEY,
	"ts"    INTEGER NOT NULL,
	"name"  TEXT NOT NULL,
	"size"  INTEGER NOT NULL,
	"value" BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS "idx_log_ts" ON "log" ("ts");
CREATE INDEX IF NOT EXISTS "idx_log_name_ts" ON "log" ("name", "ts");
CREATE TABLE IF NOT EXISTS "compacted_log" (
	"id"       INTEGER PRIMARY KEY,
	"start_ts" INTEGER NOT NULL,
	"end_ts"   INTEGER NOT NULL,
	"name"     TEXT NOT NULL,
	"size"     INTEGER NOT NULL,
	"count"    INTEGER NOT NULL,
	"value"    BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS "idx_compacted_log_ts" ON "compacted_log" ("start_ts");
CREATE INDEX IF NOT EXISTS "idx_compacted_log_name_ts" ON "compacted_log" ("name", "start_ts");
`

func init() {
	sql.Register(binlogDriver, &sqlite3.SQLiteDriver{
		ConnectHook: func(c *sqlite3.SQLiteConn) (err error) {
			// WAL keeps committed data durable with NORMAL, only the last commits may roll back
			// on power loss
			_, err = c.Exec("PRAGMA synchronous=NORMAL", nil)
			return
		},
	})
}

// pools holds the two connection pools of a database file: a single writer connection so
// writes never contend for the sqlite lock, and a query-only reader pool.
type pools struct {
	reader *sql.DB
	writer *sql.DB
}

func openPools(dsnString string, readers int, busyTimeoutMS int) (p *pools, err error) {
	var dsn *storage.DSN
	if dsn, err = storage.NewDSN(dsnString); err != nil {
		err = errors.Wrap(types.NewIoError(err), "parse dsn failed")
		return
	}
	if dsn.IsMemory() {
		err = errors.Wrap(types.NewIoError(errors.New("in-memory databases cannot be shared by the reader and writer pools")),
			"open database failed")
		return
	}

	p = &pools{}
	if p.writer, err = sql.Open(binlogDriver, dsn.WriterDSN(busyTimeoutMS)); err != nil {
		err = dbErr(err, "open writer failed")
		return
	}
	p.writer.SetMaxOpenConns(1)
	if _, err = p.writer.Exec(schema); err != nil {
		p.writer.Close()
		err = dbErr(err, "create schema failed")
		return
	}
	if p.reader, err = sql.Open(binlogDriver, dsn.ReaderDSN(busyTimeoutMS)); err != nil {
		p.writer.Close()
		err = dbErr(err, "open reader failed")
		return
	}
	p.reader.SetMaxOpenConns(readers)
	p.reader.SetMaxIdleConns(readers)
	return
}

func (p *pools) close() (err error) {
	if err = p.reader.Close(); err != nil {
		p.writer.Close()
		return
	}
	return p.writer.Close()
}

func dbErr(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(types.NewDatabaseError(err), msg)
}

// withReadTx runs fn inside a read transaction so that every statement of fn sees the same
// snapshot.
func (p *pools) withReadTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	var tx *sql.Tx
	if tx, err = p.reader.BeginTx(ctx, &sql.TxOptions{ReadOnly: true}); err != nil {
		return dbErr(err, "begin read transaction failed")
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		} else {
			err = dbErr(tx.Commit(), "commit read transaction failed")
		}
	}()
	return fn(tx)
}

// withWriteTx runs fn inside a write transaction, rolled back if fn fails.
func (p *pools) withWriteTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	var tx *sql.Tx
	if tx, err = p.writer.BeginTx(ctx, nil); err != nil {
		return dbErr(err, "begin write transaction failed")
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		} else {
			err = dbErr(tx.Commit(), "commit write transaction failed")
		}
	}()
	return fn(tx)
}
