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


package log

import (
	"github.com/sirupsen/logrus"
)

// NilFormatter renders nothing, so entries formatted with it are dropped.
type NilFormatter struct{}

// Format implements logrus.Formatter.Format.
func (f *NilFormatter) Format(*logrus.Entry) ([]byte, error) {
	return nil, nil
}

// NilWriter swallows everything written to it.
type NilWriter struct{}

// Write implements io.Writer.Write.
func (w *NilWriter) Write(p []byte) (n int, err error) {
	return len(p), nil
}

// discardLogger receives the entries of packages filtered by PkgDebugLogFilter.
var discardLogger = &logrus.Logger{
	Out:       &NilWriter{},
	Formatter: &NilFormatter{},
	Hooks:     make(logrus.LevelHooks),
	Level:     logrus.DebugLevel,
}
