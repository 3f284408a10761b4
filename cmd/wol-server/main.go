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

package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/gpillon/wol-registry/internal/config"
	"github.com/gpillon/wol-registry/internal/registry"
	"github.com/gpillon/wol-registry/internal/server"
	"github.com/gpillon/wol-registry/internal/wol"
)

var (
	setupLog = ctrl.Log.WithName("setup")
)

func main() {
	flags := config.BindFlags(flag.CommandLine)

	opts := zap.Options{
		Development: false,
	}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	cfg, cfgErr := flags.Resolve(os.LookupEnv)
	if cfgErr == nil && opts.Level == nil {
		// --zap-log-level wins over the configured default
		level, _ := cfg.Level()
		opts.Level = level
	}

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))

	if cfgErr != nil {
		setupLog.Error(cfgErr, "Invalid configuration", "configFile", flags.Path())
		os.Exit(1)
	}

	setupLog.Info("Starting WOL registry server",
		"listenAddress", cfg.ListenAddress,
		"broadcastAddress", cfg.BroadcastAddress,
		"wolPort", cfg.WOLPort,
		"maxMessageSize", cfg.MaxMessageSize,
		"healthAddress", cfg.HealthAddress,
		"version", "v0.1.0")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// One registry for the whole process, shared by every connection handler
	reg := registry.New(ctrl.Log.WithName("registry"))
	sender := wol.NewSender(cfg.BroadcastAddress, cfg.WOLPort, ctrl.Log.WithName("sender"))
	srv := server.New(cfg.ListenAddress, cfg.MaxMessageSize, reg, sender, ctrl.Log.WithName("server"))

	if cfg.HealthAddress != "" {
		health := server.NewHealthServer(cfg.HealthAddress, srv, ctrl.Log.WithName("health"))
		go func() {
			if err := health.Start(ctx); err != nil {
				setupLog.Error(err, "Health check server failed")
			}
		}()
	}

	if err := srv.Start(ctx); err != nil {
		if errors.Is(err, server.ErrListenerFatal) {
			setupLog.Error(err, "Protocol listener failed, shutting down")
		} else {
			setupLog.Error(err, "Protocol server failed to start")
		}
		os.Exit(1)
	}

	setupLog.Info("Server stopped gracefully")
}
