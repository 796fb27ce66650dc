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

// Package conf loads the YAML configuration of the binlog engines.
package conf

import (
	"io/ioutil"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/CovenantSQL/binlog/utils/log"
)

// Backend names a binlog engine.
type Backend string

const (
	// BackendMemory is the in-process engine.
	BackendMemory Backend = "memory"
	// BackendSQLite is the embedded database engine.
	BackendSQLite Backend = "sqlite"
	// BackendStream is the Redis streams engine.
	BackendStream Backend = "stream"
)

// SQLiteConfig holds the sqlite engine options, zero values take the engine defaults.
type SQLiteConfig struct {
	DSN                    string        `yaml:"DSN"`
	Readers                int           `yaml:"Readers"`
	BusyTimeout            time.Duration `yaml:"BusyTimeout"`
	MinCompressSize        int           `yaml:"MinCompressSize"`
	EntryCompressionLevel  int           `yaml:"EntryCompressionLevel"`
	BundleCompressionLevel int           `yaml:"BundleCompressionLevel"`
	PageSize               int           `yaml:"PageSize"`
	NameCacheSize          int           `yaml:"NameCacheSize"`
	Retention              time.Duration `yaml:"Retention"`
	MaxBundleSize          int           `yaml:"MaxBundleSize"`
	MaxBundleSpan          time.Duration `yaml:"MaxBundleSpan"`
	// CompactInterval is the period of the background compactor, negative disables it.
	CompactInterval time.Duration `yaml:"CompactInterval"`
}

// RedisConfig holds the stream engine options.
type RedisConfig struct {
	Addr      string        `yaml:"Addr"`
	Password  string        `yaml:"Password"`
	DB        int           `yaml:"DB"`
	PoolSize  int           `yaml:"PoolSize"`
	MaxLen    int64         `yaml:"MaxLen"`
	Block     time.Duration `yaml:"Block"`
	ReadCount int64         `yaml:"ReadCount"`
	Buffer    int           `yaml:"Buffer"`
}

// Config is the root configuration.
type Config struct {
	Backend  Backend       `yaml:"Backend"`
	LogLevel string        `yaml:"LogLevel"`
	SQLite   *SQLiteConfig `yaml:"SQLite,omitempty"`
	Redis    *RedisConfig  `yaml:"Redis,omitempty"`
}

// SetDefaults fills the omitted fields.
func (c *Config) SetDefaults() {
	if c.Backend == "" {
		c.Backend = DefaultBackend
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	switch c.Backend {
	case BackendSQLite:
		if c.SQLite == nil {
			c.SQLite = &SQLiteConfig{}
		}
		if c.SQLite.DSN == "" {
			c.SQLite.DSN = DefaultSQLiteDSN
		}
		if c.SQLite.CompactInterval == 0 {
			c.SQLite.CompactInterval = DefaultCompactInterval
		}
	case BackendStream:
		if c.Redis == nil {
			c.Redis = &RedisConfig{}
		}
		if c.Redis.Addr == "" {
			c.Redis.Addr = DefaultRedisAddr
		}
	}
}

// Validate checks the backend name and the log level.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendSQLite, BackendStream:
	default:
		return errors.Errorf("unknown backend: %q", c.Backend)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrapf(err, "invalid log level %q", c.LogLevel)
	}
	return nil
}

// LoadConfig reads the YAML configuration at configPath, applies the defaults and validates
// the result.
func LoadConfig(configPath string) (config *Config, err error) {
	configBytes, err := ioutil.ReadFile(configPath)
	if err != nil {
		log.WithError(err).Error("read config file failed")
		return nil, errors.Wrap(err, "read config file failed")
	}
	config = &Config{}
	if err = yaml.Unmarshal(configBytes, config); err != nil {
		log.WithError(err).Error("unmarshal config file failed")
		return nil, errors.Wrap(err, "unmarshal config file failed")
	}
	config.SetDefaults()
	if err = config.Validate(); err != nil {
		return nil, err
	}
	return
}
