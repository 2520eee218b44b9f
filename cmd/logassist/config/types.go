// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the logassist configuration.
//
// Values are layered: built-in defaults, then the YAML file, then
// LOGASSIST_* environment variables. Command-line flags are applied last
// by the cobra commands.
package config

import (
	"time"

	"github.com/go-playground/validator/v10"
)

type LogAssistConfig struct {
	// Server: HTTP listener and streaming knobs
	Server ServerConfig `yaml:"server"`

	// Storage: where sessions live
	Storage StorageConfig `yaml:"storage"`

	// Chat: prompt and stream behaviour
	Chat ChatConfig `yaml:"chat"`

	// Retrieval: log search providers
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// ModelBackend: which generator answers questions
	ModelBackend BackendConfig `yaml:"model_backend"`

	Auth          AuthConfig          `yaml:"auth"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Observability ObservabilityConfig `yaml:"observability"`
	Logging       LoggingConfig       `yaml:"logging"`

	// Client: used by the history, clear, sessions and ask commands
	Client ClientConfig `yaml:"client"`
}

type ServerConfig struct {
	Listen            string        `yaml:"listen" validate:"required"`
	GinMode           string        `yaml:"gin_mode,omitempty" validate:"omitempty,oneof=debug release test"`
	AllowedOrigins    []string      `yaml:"allowed_origins,omitempty"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval,omitempty" validate:"gte=0"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout,omitempty" validate:"gte=0"`
}

type StorageConfig struct {
	DataDir          string `yaml:"data_dir" validate:"required_without=InMemory"`
	InMemory         bool   `yaml:"in_memory"`
	StrictVersioning bool   `yaml:"strict_versioning"`

	// InsecureMemory keeps answers in swappable memory.
	InsecureMemory bool `yaml:"insecure_memory"`

	// SessionTTL deletes sessions idle this long. 0 keeps them forever.
	SessionTTL      time.Duration `yaml:"session_ttl,omitempty" validate:"gte=0"`
	CleanupInterval time.Duration `yaml:"cleanup_interval,omitempty" validate:"gte=0"`
}

type ChatConfig struct {
	MetadataTiming         string `yaml:"metadata_timing" validate:"omitempty,oneof=stream_end think_end none"`
	SystemPrompt           string `yaml:"system_prompt,omitempty"`
	RedactionRules         string `yaml:"redaction_rules,omitempty"`
	RedactionMinConfidence string `yaml:"redaction_min_confidence,omitempty" validate:"omitempty,oneof=low medium high"`
}

type RetrievalConfig struct {
	TopK         int           `yaml:"top_k" validate:"gte=0,lte=100"`
	KeywordScore float64       `yaml:"keyword_score" validate:"gte=0,lte=1"`
	Timeout      time.Duration `yaml:"timeout" validate:"gte=0"`
	LogDirs      []string      `yaml:"log_dirs"`
	WeaviateURL  string        `yaml:"weaviate_url,omitempty" validate:"omitempty,url"`
	WebSearch    bool          `yaml:"web_search"`
	WebSearchURL string        `yaml:"web_search_url,omitempty" validate:"omitempty,url"`
}

type BackendConfig struct {
	// Type is "ollama", "openai" or "langchain"
	Type    string `yaml:"type" validate:"oneof=ollama openai langchain"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url,omitempty" validate:"omitempty,url"`
	APIKey  string `yaml:"api_key,omitempty"`
}

type AuthConfig struct {
	// APIKeys maps bearer tokens to user IDs. Empty means single-user.
	APIKeys map[string]string `yaml:"api_keys,omitempty" validate:"dive,keys,required,endkeys,required"`
}

type RateLimitConfig struct {
	Max      int           `yaml:"max" validate:"gte=0"`
	Interval time.Duration `yaml:"interval" validate:"gte=0"`
}

type ObservabilityConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Dir   string `yaml:"dir,omitempty"`
	JSON  bool   `yaml:"json"`
}

type ClientConfig struct {
	ServerURL string `yaml:"server_url" validate:"omitempty,url"`
	APIKey    string `yaml:"api_key,omitempty"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() LogAssistConfig {
	return LogAssistConfig{
		Server: ServerConfig{
			Listen:            ":12210",
			HeartbeatInterval: 15 * time.Second,
			ShutdownTimeout:   15 * time.Second,
		},
		Storage: StorageConfig{
			DataDir: "./data/sessions",
		},
		Chat: ChatConfig{
			MetadataTiming: "stream_end",
		},
		Retrieval: RetrievalConfig{
			TopK:         10,
			KeywordScore: 0.5,
			Timeout:      5 * time.Second,
			LogDirs:      []string{},
		},
		ModelBackend: BackendConfig{
			Type:    "ollama",
			Model:   "llama3",
			BaseURL: "http://localhost:11434",
		},
		RateLimit: RateLimitConfig{
			Interval: time.Minute,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Client: ClientConfig{
			ServerURL: "http://localhost:12210",
		},
	}
}

var validate = validator.New()

// Validate checks field constraints.
func (c *LogAssistConfig) Validate() error {
	return validate.Struct(c)
}
