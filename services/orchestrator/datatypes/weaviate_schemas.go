// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// LogChunkClass is the Weaviate class holding indexed log snippets.
const LogChunkClass = "LogChunk"

// GetLogChunkSchema returns the class definition for indexed log snippets.
// The vectorizer is left to the deployment.
func GetLogChunkSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       LogChunkClass,
		Description: "A chunk of a log file with its source path.",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "The log text.",
				Tokenization: "word",
			},
			{
				Name:            "source",
				DataType:        []string{"text"},
				Description:     "Path of the originating log file.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "ingested_at",
				DataType:        []string{"number"},
				Description:     "Timestamp (Unix ms) of when the chunk was ingested.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// EnsureWeaviateSchema creates the LogChunk class when it is missing.
// Unlike a fatal bootstrap, failure is returned so the service can start
// with vector retrieval degraded.
func EnsureWeaviateSchema(ctx context.Context, client *weaviate.Client) error {
	class := GetLogChunkSchema()
	if _, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(ctx); err == nil {
		slog.Info("Schema already exists", "class", class.Class)
		return nil
	}
	slog.Info("Schema not found, creating it...", "class", class.Class)
	if err := client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("create schema for class %s: %w", class.Class, err)
	}
	slog.Info("Successfully created schema", "class", class.Class)
	return nil
}
