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

import "time"

// Defaults applied to omitted configuration fields.
const (
	// DefaultBackend is the engine used when none is configured.
	DefaultBackend = BackendMemory
	// DefaultLogLevel is the logging level used when none is configured.
	DefaultLogLevel = "info"
	// DefaultSQLiteDSN is the database file of the sqlite engine.
	DefaultSQLiteDSN = "file:binlog.db3"
	// DefaultRedisAddr is the server of the stream engine.
	DefaultRedisAddr = "127.0.0.1:6379"
	// DefaultCompactInterval is the period of the background compactor, zero disables it.
	DefaultCompactInterval = 10 * time.Minute
)
