// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianLogAssist/cmd/logassist/config"
	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator"
)

type serveFlags struct {
	listen      string
	dataDir     string
	inMemory    bool
	backend     string
	model       string
	baseURL     string
	logDirs     []string
	weaviateURL string
	webSearch   bool
}

func newServeCmd(a *app) *cobra.Command {
	var f serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			applyServeFlags(cmd, &a.cfg, f)
			if err := a.cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			svc, err := orchestrator.New(serviceConfig(a.cfg), nil, orchestrator.WithLogger(a.logger.Slog()))
			if err != nil {
				return err
			}
			defer svc.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return svc.Run(ctx)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.listen, "listen", "", "listen address")
	flags.StringVar(&f.dataDir, "data-dir", "", "session database directory")
	flags.BoolVar(&f.inMemory, "in-memory", false, "keep sessions in memory only")
	flags.StringVar(&f.backend, "backend", "", "model backend: ollama, openai or langchain")
	flags.StringVar(&f.model, "model", "", "default model name")
	flags.StringVar(&f.baseURL, "model-url", "", "model backend base URL")
	flags.StringSliceVar(&f.logDirs, "log-dir", nil, "directory of logs to index (repeatable)")
	flags.StringVar(&f.weaviateURL, "weaviate-url", "", "Weaviate URL for vector search")
	flags.BoolVar(&f.webSearch, "web-search", false, "allow use_web_search requests")
	return cmd
}

// applyServeFlags overrides cfg with flags the user actually set.
func applyServeFlags(cmd *cobra.Command, cfg *config.LogAssistConfig, f serveFlags) {
	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.Server.Listen = f.listen
	}
	if flags.Changed("data-dir") {
		cfg.Storage.DataDir = f.dataDir
	}
	if flags.Changed("in-memory") {
		cfg.Storage.InMemory = f.inMemory
	}
	if flags.Changed("backend") {
		cfg.ModelBackend.Type = f.backend
	}
	if flags.Changed("model") {
		cfg.ModelBackend.Model = f.model
	}
	if flags.Changed("model-url") {
		cfg.ModelBackend.BaseURL = f.baseURL
	}
	if flags.Changed("log-dir") {
		cfg.Retrieval.LogDirs = f.logDirs
	}
	if flags.Changed("weaviate-url") {
		cfg.Retrieval.WeaviateURL = f.weaviateURL
	}
	if flags.Changed("web-search") {
		cfg.Retrieval.WebSearch = f.webSearch
	}
}

// serviceConfig maps the file layout onto the server's flat config.
func serviceConfig(cfg config.LogAssistConfig) orchestrator.Config {
	return orchestrator.Config{
		Listen:                 cfg.Server.Listen,
		GinMode:                cfg.Server.GinMode,
		DataDir:                cfg.Storage.DataDir,
		InMemory:               cfg.Storage.InMemory,
		StrictVersioning:       cfg.Storage.StrictVersioning,
		SessionTTL:             cfg.Storage.SessionTTL,
		SessionCleanupInterval: cfg.Storage.CleanupInterval,
		MetadataTiming:         cfg.Chat.MetadataTiming,
		SystemPrompt:           cfg.Chat.SystemPrompt,
		TopK:                   cfg.Retrieval.TopK,
		KeywordScore:           cfg.Retrieval.KeywordScore,
		RetrievalTimeout:       cfg.Retrieval.Timeout,
		LogDirs:                cfg.Retrieval.LogDirs,
		WeaviateURL:            cfg.Retrieval.WeaviateURL,
		WebSearch:              cfg.Retrieval.WebSearch,
		WebSearchURL:           cfg.Retrieval.WebSearchURL,
		ModelBackend:           cfg.ModelBackend.Type,
		Model:                  cfg.ModelBackend.Model,
		ModelBaseURL:           cfg.ModelBackend.BaseURL,
		ModelAPIKey:            cfg.ModelBackend.APIKey,
		RedactionRules:         cfg.Chat.RedactionRules,
		RedactionMinConfidence: cfg.Chat.RedactionMinConfidence,
		APIKeys:                cfg.Auth.APIKeys,
		RateLimitMax:           cfg.RateLimit.Max,
		RateLimitInterval:      cfg.RateLimit.Interval,
		AllowedOrigins:         cfg.Server.AllowedOrigins,
		HeartbeatInterval:      cfg.Server.HeartbeatInterval,
		ShutdownTimeout:        cfg.Server.ShutdownTimeout,
		OTelEndpoint:           cfg.Observability.OTLPEndpoint,
		InsecureMemory:         cfg.Storage.InsecureMemory,
	}
}
