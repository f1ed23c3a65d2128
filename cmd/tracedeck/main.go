// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command tracedeck starts the TraceDeck orchestrator HTTP server.
//
// This is the main entry point for the containerized service. Configuration
// comes from an optional YAML file (TRACEDECK_CONFIG) with environment
// variable overrides.
//
// # Environment Variables
//
//   - ORCHESTRATOR_PORT: HTTP server port (default: 12210)
//   - LLM_BACKEND_TYPE: LLM provider - ollama, openai (default: ollama)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (optional)
//   - TRACEDECK_STORAGE_PATH: embedded database directory
//   - TRACEDECK_LOG_DIR: directory for JSON log files (optional)
//
// # Usage
//
//	# Build
//	go build -o tracedeck ./cmd/tracedeck
//
//	# Run
//	./tracedeck
package main

import (
	"log"
	"log/slog"
	"os"

	"github.com/AleutianAI/TraceDeck/pkg/logging"
	"github.com/AleutianAI/TraceDeck/services/orchestrator"
	"github.com/AleutianAI/TraceDeck/services/orchestrator/config"
)

func main() {
	// Setup structured logging
	logger := logging.New(logging.Config{
		Level:   logging.LevelInfo,
		Service: "orchestrator",
		LogDir:  os.Getenv("TRACEDECK_LOG_DIR"),
		JSON:    true,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	slog.Info("Starting TraceDeck",
		"port", cfg.Port,
		"llm_backend", cfg.LLMBackend,
		"storage_path", cfg.StoragePath,
	)

	svc, err := orchestrator.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create orchestrator: %v", err)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Orchestrator error: %v", err)
	}
}
