// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LOGASSIST_"

// DefaultPath is ~/.logassist/logassist.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".logassist", "logassist.yaml"), nil
}

// Load reads path over the defaults and applies environment overrides.
//
// # Description
//
// An empty path means LOGASSIST_CONFIG, then DefaultPath. A missing file
// at the default location is not an error; a missing file that was asked
// for explicitly is. The result is not validated so callers can apply
// flags first.
func Load(path string) (LogAssistConfig, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		if p, ok := os.LookupEnv(EnvPrefix + "CONFIG"); ok && p != "" {
			path, explicit = p, true
		} else if p, err := DefaultPath(); err == nil {
			path = p
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse the config file %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
			return cfg, fmt.Errorf("failed to read the config file: %w", err)
		}
	}

	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// WriteDefault writes DefaultConfig to path, creating parent directories.
// An existing file is left alone.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create the config directory %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// ApplyEnv overrides cfg from LOGASSIST_* variables read through lookup.
//
// # Description
//
// Empty variables are treated as unset. List values (LOG_DIRS, ALLOWED_ORIGINS) are comma separated. API_KEYS
// is "key=user,key2=user2". MODEL_API_KEY falls back to OPENAI_API_KEY
// when the backend is openai.
func ApplyEnv(cfg *LogAssistConfig, lookup func(string) (string, bool)) error {
	e := envReader{lookup: lookup}

	e.str("LISTEN", &cfg.Server.Listen)
	e.str("GIN_MODE", &cfg.Server.GinMode)
	e.list("ALLOWED_ORIGINS", &cfg.Server.AllowedOrigins)
	e.duration("HEARTBEAT_INTERVAL", &cfg.Server.HeartbeatInterval)

	e.str("DATA_DIR", &cfg.Storage.DataDir)
	e.boolean("IN_MEMORY", &cfg.Storage.InMemory)
	e.boolean("STRICT_VERSIONING", &cfg.Storage.StrictVersioning)
	e.boolean("INSECURE_MEMORY", &cfg.Storage.InsecureMemory)
	e.duration("SESSION_TTL", &cfg.Storage.SessionTTL)

	e.str("METADATA_TIMING", &cfg.Chat.MetadataTiming)
	e.str("SYSTEM_PROMPT", &cfg.Chat.SystemPrompt)
	e.str("REDACTION_RULES", &cfg.Chat.RedactionRules)

	e.integer("TOP_K", &cfg.Retrieval.TopK)
	e.float("KEYWORD_SCORE", &cfg.Retrieval.KeywordScore)
	e.duration("RETRIEVAL_TIMEOUT", &cfg.Retrieval.Timeout)
	e.list("LOG_DIRS", &cfg.Retrieval.LogDirs)
	e.str("WEAVIATE_URL", &cfg.Retrieval.WeaviateURL)
	e.boolean("WEB_SEARCH", &cfg.Retrieval.WebSearch)

	e.str("MODEL_BACKEND", &cfg.ModelBackend.Type)
	e.str("MODEL", &cfg.ModelBackend.Model)
	e.str("MODEL_BASE_URL", &cfg.ModelBackend.BaseURL)
	e.str("MODEL_API_KEY", &cfg.ModelBackend.APIKey)
	if cfg.ModelBackend.APIKey == "" && cfg.ModelBackend.Type == "openai" {
		if v, ok := lookup("OPENAI_API_KEY"); ok {
			cfg.ModelBackend.APIKey = v
		}
	}

	if raw, ok := e.get("API_KEYS"); ok {
		keys, err := parseAPIKeys(raw)
		if err != nil {
			e.fail("API_KEYS", err)
		} else {
			cfg.Auth.APIKeys = keys
		}
	}

	e.integer("RATE_LIMIT_MAX", &cfg.RateLimit.Max)
	e.duration("RATE_LIMIT_INTERVAL", &cfg.RateLimit.Interval)
	e.str("OTLP_ENDPOINT", &cfg.Observability.OTLPEndpoint)

	e.str("LOG_LEVEL", &cfg.Logging.Level)
	e.str("LOG_DIR", &cfg.Logging.Dir)
	e.boolean("LOG_JSON", &cfg.Logging.JSON)

	e.str("SERVER_URL", &cfg.Client.ServerURL)
	e.str("API_KEY", &cfg.Client.APIKey)

	return errors.Join(e.errs...)
}

// parseAPIKeys parses "key=user,key2=user2".
func parseAPIKeys(raw string) (map[string]string, error) {
	keys := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, user, ok := strings.Cut(pair, "=")
		key, user = strings.TrimSpace(key), strings.TrimSpace(user)
		if !ok || key == "" || user == "" {
			return nil, fmt.Errorf("malformed entry %q (want key=user)", pair)
		}
		keys[key] = user
	}
	return keys, nil
}

// envReader collects parse errors instead of stopping at the first one.
type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) get(name string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + name)
	v = strings.TrimSpace(v)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (e *envReader) fail(name string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
}

func (e *envReader) str(name string, dst *string) {
	if v, ok := e.get(name); ok {
		*dst = v
	}
}

func (e *envReader) list(name string, dst *[]string) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	out := []string{}
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}

func (e *envReader) boolean(name string, dst *bool) {
	if v, ok := e.get(name); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) integer(name string, dst *int) {
	if v, ok := e.get(name); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) float(name string, dst *float64) {
	if v, ok := e.get(name); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) duration(name string, dst *time.Duration) {
	if v, ok := e.get(name); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = d
	}
}
