/*
 * Copyright 2025 Carver Automation Corporation.
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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/homesense/harvester/pkg/config"
	"github.com/homesense/harvester/pkg/db"
	"github.com/homesense/harvester/pkg/lifecycle"
	"github.com/homesense/harvester/pkg/logger"
	"github.com/homesense/harvester/pkg/nodeclient"
	"github.com/homesense/harvester/pkg/orchestrator"
	"github.com/homesense/harvester/pkg/registry"
)

var errFailedToLoadConfig = fmt.Errorf("failed to load config")

func main() {
	// The global logger covers failures before the configured component
	// logger exists, so even config-load errors come out structured.
	if err := lifecycle.InitializeLogger(nil); err != nil {
		fmt.Println("Failed to initialize logger:", err)
		os.Exit(1)
	}

	if err := run(); err != nil {
		logger.Fatal().Err(err).Msg("Harvester failed")
	}
}

func run() error {
	configPath := flag.String("config", "/etc/harvester/harvester.json", "Path to harvester config file")
	once := flag.Bool("once", false, "Run a single retrieval pass and exit")
	flag.Parse()

	ctx := context.Background()

	// Step 1: Load configuration
	cfgLoader := config.NewConfig(nil)

	var cfg orchestrator.Config

	if err := cfgLoader.LoadAndValidate(ctx, *configPath, &cfg); err != nil {
		return fmt.Errorf("%w: %w", errFailedToLoadConfig, err)
	}

	// Step 2: Create logger from loaded config
	logConfig := cfg.Logging
	if logConfig == nil {
		logConfig = &logger.Config{
			Level:  "info",
			Output: "stdout",
		}
	}

	// Realign the global logger with the configured settings so anything
	// logged outside a component logger matches it.
	if err := logger.Init(logConfig); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	harvesterLogger, err := lifecycle.CreateComponentLogger("harvester", logConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	// Step 3: Connect the central store and repair watermarks left behind
	// by a crash between commit and advance.
	store, err := db.New(ctx, cfg.Database, harvesterLogger)
	if err != nil {
		return err
	}
	defer store.Close()

	repaired, err := store.ReconcileWatermarks(ctx)
	if err != nil {
		return fmt.Errorf("failed to reconcile watermarks: %w", err)
	}

	if repaired > 0 {
		harvesterLogger.Info().Int("repaired", repaired).Msg("Reconciled lagging watermarks")
	}

	// Step 4: Validate the fleet and build the node client
	nodes, err := registry.New(cfg.Nodes)
	if err != nil {
		return err
	}

	client := nodeclient.New(harvesterLogger, nodeclient.WithTimeout(time.Duration(cfg.NodeTimeout)))

	o := orchestrator.New(&cfg, nodes, client, store, nil, harvesterLogger)

	if *once {
		report, runErr := o.RunOnce(ctx)
		if runErr != nil {
			return runErr
		}

		if report.Failed() > 0 {
			return fmt.Errorf("retrieval run finished with %d failed nodes", report.Failed())
		}

		return nil
	}

	return lifecycle.Run(ctx, o, harvesterLogger)
}
