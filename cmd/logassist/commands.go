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
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianLogAssist/cmd/logassist/config"
	"github.com/AleutianAI/AleutianLogAssist/pkg/ux"
	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/datatypes"
)

// errStreamFailed is returned after the renderer has already printed the
// server's error event.
var errStreamFailed = errors.New("the answer stream ended with an error")

// =============================================================================
// ask
// =============================================================================

func newAskCmd(a *app) *cobra.Command {
	var (
		sessionID    string
		model        string
		noLogs       bool
		web          bool
		showThinking bool
		showTiming   bool
	)

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question about your logs and stream the answer",
		Long: `Ask sends a question to the server and streams the answer.
With no arguments the question is read from standard input.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.TrimSpace(strings.Join(args, " "))
			if question == "" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read question: %w", err)
				}
				question = strings.TrimSpace(string(data))
			}
			if question == "" {
				return errors.New("no question given")
			}

			client, err := a.client()
			if err != nil {
				return err
			}

			renderer := ux.NewTerminalRenderer(a.out, ux.RenderOptions{
				ShowThinking: showThinking,
				ShowTiming:   showTiming,
				Color:        ux.IsTerminal(a.out),
			})
			failed := false
			err = client.Ask(cmd.Context(), datatypes.ChatRequest{
				SessionID:    sessionID,
				UserInput:    question,
				UseDBSearch:  !noLogs,
				UseWebSearch: web,
				Model:        model,
			}, func(ev datatypes.StreamEvent) error {
				if ev.Type == datatypes.EventError {
					failed = true
				}
				return renderer.OnEvent(ev)
			})
			renderer.Finish()
			if err != nil {
				return err
			}
			if failed {
				return errStreamFailed
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&sessionID, "session", "s", "", "session ID (default session when empty)")
	flags.StringVar(&model, "model", "", "model name")
	flags.BoolVar(&noLogs, "no-logs", false, "skip log retrieval")
	flags.BoolVar(&web, "web", false, "include web search results")
	flags.BoolVar(&showThinking, "show-thinking", false, "print the model's reasoning")
	flags.BoolVar(&showTiming, "timing", false, "print stream timing")
	return cmd
}

// =============================================================================
// history, clear, sessions
// =============================================================================

func newHistoryCmd(a *app) *cobra.Command {
	var (
		sessionID string
		raw       bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print a session's conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			resp, err := client.History(cmd.Context(), sessionID)
			if err != nil {
				return err
			}
			if raw {
				_, err := io.WriteString(a.out, resp.History)
				return err
			}
			ux.NewPrinter(a.out).History(resp)
			return nil
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session ID")
	cmd.Flags().BoolVar(&raw, "raw", false, "print the stored transcript text")
	return cmd
}

func newClearCmd(a *app) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear a session's conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			resp, err := client.ClearHistory(cmd.Context(), sessionID)
			if err != nil {
				return err
			}
			ux.NewPrinter(a.out).Success(resp.Message)
			return nil
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session ID")
	return cmd
}

func newSessionsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List your sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			sessions, err := client.Sessions(cmd.Context())
			if err != nil {
				return err
			}
			ux.NewPrinter(a.out).Sessions(sessions)
			return nil
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			if err := client.DeleteSession(cmd.Context(), args[0]); err != nil {
				return err
			}
			ux.NewPrinter(a.out).Success("Deleted session " + args[0])
			return nil
		},
	})
	return cmd
}

// =============================================================================
// models, ingest, init
// =============================================================================

func newModelsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the models the server can use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			models, err := client.Models(cmd.Context())
			if err != nil {
				return err
			}
			for _, m := range models {
				fmt.Fprintln(a.out, m)
			}
			return nil
		},
	}
}

func newIngestCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Reload the log index and push logs to the vector store (admin)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			resp, err := client.IngestLogs(cmd.Context())
			if err != nil {
				return err
			}
			var pretty bytes.Buffer
			if err := json.Indent(&pretty, resp, "", "  "); err != nil {
				return fmt.Errorf("format ingest response: %w", err)
			}
			pretty.WriteByte('\n')
			_, err = pretty.WriteTo(a.out)
			return err
		},
	}
}

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Args:  cobra.NoArgs,
		// The file does not exist yet, so skip the root config load.
		PersistentPreRunE:  func(*cobra.Command, []string) error { return nil },
		PersistentPostRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := a.configPath
			if path == "" {
				p, err := config.DefaultPath()
				if err != nil {
					return err
				}
				path = p
			}
			if err := config.WriteDefault(path); err != nil {
				return err
			}
			ux.NewPrinter(a.out).Success("Wrote " + path)
			return nil
		},
	}
}
