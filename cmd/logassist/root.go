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
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianLogAssist/cmd/logassist/config"
	"github.com/AleutianAI/AleutianLogAssist/pkg/logging"
)

// app carries state shared by every command once the root pre-run has
// loaded the configuration.
type app struct {
	out    io.Writer
	errOut io.Writer

	configPath string
	serverURL  string
	apiKey     string
	logLevel   string

	cfg    config.LogAssistConfig
	logger *logging.Logger
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{out: out, errOut: errOut}

	root := &cobra.Command{
		Use:   "logassist",
		Short: "Ask questions about your logs",
		Long: `logassist is a conversational assistant for incident analysis.
It retrieves related log lines, streams the model's answer and keeps a
per-session conversation history.`,
		SilenceUsage:       true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
	}
	root.SetOut(out)
	root.SetErr(errOut)

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default ~/.logassist/logassist.yaml)")
	flags.StringVar(&a.serverURL, "server", "", "logassist server URL")
	flags.StringVar(&a.apiKey, "api-key", "", "bearer token for the server")
	flags.StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error")

	root.AddCommand(
		newServeCmd(a),
		newAskCmd(a),
		newHistoryCmd(a),
		newClearCmd(a),
		newSessionsCmd(a),
		newModelsCmd(a),
		newIngestCmd(a),
		newInitCmd(a),
	)
	return root
}

// setup loads the config, applies persistent flags and starts logging.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("server") {
		cfg.Client.ServerURL = a.serverURL
	}
	if flags.Changed("api-key") {
		cfg.Client.APIKey = a.apiKey
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = a.logLevel
	}
	a.cfg = cfg

	a.logger = logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.Dir,
		Service: "logassist",
		JSON:    cfg.Logging.JSON,
	})
	slog.SetDefault(a.logger.Slog())
	return nil
}

func (a *app) teardown(*cobra.Command, []string) error {
	if a.logger == nil {
		return nil
	}
	return a.logger.Close()
}

// client builds an API client from the resolved config.
func (a *app) client() (*apiClient, error) {
	return newAPIClient(a.cfg.Client.ServerURL, a.cfg.Client.APIKey)
}
