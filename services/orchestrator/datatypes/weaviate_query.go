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
	"encoding/json"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// Generic GraphQL Response Parser
// =============================================================================

// ParseGraphQLResponse parses a Weaviate GraphQL response into the target type.
//
// # Description
//
// Converts Weaviate's dynamic response (map[string]models.JSONObject) into a
// strongly-typed struct by a marshal/unmarshal round. T must carry json tags
// matching the response shape.
//
// # Inputs
//
//   - resp: The GraphQL response from the client's Do() method.
//
// # Outputs
//
//   - *T: Pointer to the parsed struct.
//   - error: Non-nil if response is nil or parsing fails.
//
// # Limitations
//
//   - Type mismatches produce zero values, not errors.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// GraphQLErrorString flattens GraphQL errors into one message.
func GraphQLErrorString(errs []*models.GraphQLError) string {
	msg := ""
	for i, e := range errs {
		if e == nil {
			continue
		}
		if i > 0 {
			msg += "; "
		}
		msg += e.Message
	}
	return msg
}

// =============================================================================
// LogChunk Response Types
// =============================================================================

// LogChunkQueryResponse is the shape of Get { LogChunk { ... } }.
type LogChunkQueryResponse struct {
	Get struct {
		LogChunk []LogChunkResult `json:"LogChunk"`
	} `json:"Get"`
}

// LogChunkResult is a single hit. Certainty is set for nearText queries,
// Score for BM25 queries (Weaviate returns it as a string).
type LogChunkResult struct {
	Content    string `json:"content"`
	Source     string `json:"source"`
	Additional struct {
		ID        string   `json:"id"`
		Certainty *float64 `json:"certainty"`
		Distance  *float64 `json:"distance"`
		Score     string   `json:"score"`
	} `json:"_additional"`
}
