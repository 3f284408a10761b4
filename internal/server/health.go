/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

// HealthServer exposes /healthz, /readyz and /metrics over HTTP
type HealthServer struct {
	address string
	server  *Server
	log     logr.Logger
}

// NewHealthServer creates the HTTP side server for srv
func NewHealthServer(address string, srv *Server, log logr.Logger) *HealthServer {
	return &HealthServer{
		address: address,
		server:  srv,
		log:     log,
	}
}

// Handler returns the HTTP handler serving the health and metrics endpoints
func (h *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()

	addChecks(mux, "/healthz", map[string]healthz.Checker{
		"ping": healthz.Ping,
	})
	addChecks(mux, "/readyz", map[string]healthz.Checker{
		"listener": h.listenerCheck,
	})
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	return mux
}

// Start serves until ctx is cancelled
func (h *HealthServer) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              h.address,
		Handler:           h.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			h.log.Error(err, "Failed to shutdown health check server")
		}
	}()

	h.log.Info("Starting health check server", "address", h.address)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health check server failed: %w", err)
	}
	return nil
}

func (h *HealthServer) listenerCheck(_ *http.Request) error {
	if h.server.Addr() == nil {
		return errors.New("protocol listener not active")
	}
	return nil
}

// addChecks mounts a healthz handler on path and on its per-check subpaths
func addChecks(mux *http.ServeMux, path string, checks map[string]healthz.Checker) {
	handler := http.StripPrefix(path, &healthz.Handler{Checks: checks})
	mux.Handle(path, handler)
	mux.Handle(path+"/", handler)
}
