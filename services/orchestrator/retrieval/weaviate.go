// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"context"
	"fmt"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"

	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/datatypes"
)

var logChunkFields = []graphql.Field{
	{Name: "content"},
	{Name: "source"},
}

// =============================================================================
// Similarity search
// =============================================================================

// WeaviateVectorProvider runs nearText queries over LogChunk.
//
// # Description
//
// The hit score is Weaviate's certainty (0..1). When only a cosine
// distance is returned the score is derived as 1 - distance/2.
//
// # Assumptions
//
//   - The LogChunk class has a text vectorizer configured and was filled
//     by LogIngester.
type WeaviateVectorProvider struct {
	client       *weaviate.Client
	class        string
	minCertainty float64
}

// NewWeaviateVectorProvider returns a similarity provider.
func NewWeaviateVectorProvider(client *weaviate.Client, minCertainty float64) *WeaviateVectorProvider {
	return &WeaviateVectorProvider{client: client, class: datatypes.LogChunkClass, minCertainty: minCertainty}
}

func (p *WeaviateVectorProvider) Name() string { return "weaviate_vector" }

func (p *WeaviateVectorProvider) Search(ctx context.Context, query string, topK int) ([]datatypes.Evidence, error) {
	nearText := p.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{query})
	if p.minCertainty > 0 {
		nearText = nearText.WithCertainty(float32(p.minCertainty))
	}

	fields := append(append([]graphql.Field{}, logChunkFields...), graphql.Field{Name: "_additional { certainty distance }"})
	result, err := p.client.GraphQL().Get().
		WithClassName(p.class).
		WithFields(fields...).
		WithNearText(nearText).
		WithLimit(topK).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("search error: %s", datatypes.GraphQLErrorString(result.Errors))
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.LogChunkQueryResponse](result)
	if err != nil {
		return nil, err
	}

	out := make([]datatypes.Evidence, 0, len(parsed.Get.LogChunk))
	for _, r := range parsed.Get.LogChunk {
		score := 0.0
		switch {
		case r.Additional.Certainty != nil:
			score = *r.Additional.Certainty
		case r.Additional.Distance != nil:
			score = 1 - *r.Additional.Distance/2
		}
		out = append(out, datatypes.Evidence{
			Content: r.Content,
			Score:   score,
			Source:  datatypes.SourceVector,
			File:    r.Source,
		})
	}
	return out, nil
}

// =============================================================================
// Keyword search
// =============================================================================

// WeaviateKeywordProvider runs BM25 queries over LogChunk. BM25 scores are
// discarded; the fuser assigns a fixed keyword score.
type WeaviateKeywordProvider struct {
	client *weaviate.Client
	class  string
}

// NewWeaviateKeywordProvider returns a keyword provider.
func NewWeaviateKeywordProvider(client *weaviate.Client) *WeaviateKeywordProvider {
	return &WeaviateKeywordProvider{client: client, class: datatypes.LogChunkClass}
}

func (p *WeaviateKeywordProvider) Name() string { return "weaviate_bm25" }

func (p *WeaviateKeywordProvider) Search(ctx context.Context, query string, topK int) ([]datatypes.Evidence, error) {
	result, err := p.client.GraphQL().Get().
		WithClassName(p.class).
		WithFields(logChunkFields...).
		WithBM25(p.client.GraphQL().Bm25ArgBuilder().WithQuery(query).WithProperties("content")).
		WithLimit(topK).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("bm25 search: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("search error: %s", datatypes.GraphQLErrorString(result.Errors))
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.LogChunkQueryResponse](result)
	if err != nil {
		return nil, err
	}

	out := make([]datatypes.Evidence, 0, len(parsed.Get.LogChunk))
	for _, r := range parsed.Get.LogChunk {
		out = append(out, datatypes.Evidence{
			Content: r.Content,
			Source:  datatypes.SourceKeyword,
			File:    r.Source,
		})
	}
	return out, nil
}
