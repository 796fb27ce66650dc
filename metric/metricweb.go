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

package metric

import (
	"net/http"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewHandler returns an http.Handler exposing the given collectors, usually the store
// collectors of the running engines, in the Prometheus text format.
func NewHandler(collectors ...prometheus.Collector) (h http.Handler, err error) {
	registry := prometheus.NewRegistry()
	for _, c := range collectors {
		if err = registry.Register(c); err != nil {
			return nil, errors.Wrap(err, "register collector failed")
		}
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}
