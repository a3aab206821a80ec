// Copyright 2024 The mongofs Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exposes the ambient Prometheus gauges and counters that
// let an operator see the directory cache and open-file cache working
// without attaching a debugger: hit/miss rates and live refcounts. Serving
// them is optional (the "metrics_address" mount option) and entirely
// separate from the filesystem's correctness.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every metric the filesystem reports. A zero-value
// Registry is invalid; use New.
type Registry struct {
	DirCacheHits       prometheus.Counter
	DirCacheMisses     prometheus.Counter
	OpenFileEntries    prometheus.Gauge
	OpenFileRefs       prometheus.Gauge
	DatabaseErrors     prometheus.Counter
	FlushFailures      prometheus.Counter
}

// New registers a fresh set of metrics against reg.
func New(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)

	return &Registry{
		DirCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "mongofs",
			Subsystem: "dircache",
			Name:      "hits_total",
			Help:      "Directory listings served from the cache without consulting the database.",
		}),
		DirCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "mongofs",
			Subsystem: "dircache",
			Name:      "misses_total",
			Help:      "Directory listings that required a database round trip.",
		}),
		OpenFileEntries: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "mongofs",
			Subsystem: "openfile",
			Name:      "entries",
			Help:      "Number of documents currently held open by at least one handle.",
		}),
		OpenFileRefs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "mongofs",
			Subsystem: "openfile",
			Name:      "refs",
			Help:      "Sum of outstanding handle references across all open documents.",
		}),
		DatabaseErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "mongofs",
			Name:      "database_errors_total",
			Help:      "Database operations that returned an error, across all callbacks.",
		}),
		FlushFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "mongofs",
			Subsystem: "openfile",
			Name:      "flush_failures_total",
			Help:      "Flush attempts that ended in EIO, whether from a parse or a write failure.",
		}),
	}
}

// Serve starts an HTTP server exposing /metrics on addr and returns a
// function that shuts it down. It returns immediately; errors from the
// server goroutine itself (other than a clean shutdown) are logged by the
// caller-supplied errf.
func Serve(addr string, errf func(error)) (shutdown func(context.Context) error, err error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	server := &http.Server{Handler: mux}
	go func() {
		if serveErr := server.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errf(serveErr)
		}
	}()

	return server.Shutdown, nil
}
