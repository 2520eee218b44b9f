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

// Evidence source kinds.
const (
	SourceVector  = "vector"
	SourceKeyword = "keyword"
	SourceLogFile = "logfile"
	SourceWeb     = "web"
)

// Evidence is one ranked snippet handed to the prompt.
type Evidence struct {
	Content string  `json:"content"`
	Score   float64 `json:"score"`
	Source  string  `json:"source"`
	URL     string  `json:"url,omitempty"`
	File    string  `json:"file,omitempty"`
}

type SourceInfo struct {
	Source string  `json:"source"`
	Score  float64 `json:"score,omitempty"`
	URL    string  `json:"url,omitempty"`
}

// SourcesOf summarizes evidence for logging and the sources frame.
func SourcesOf(ev []Evidence) []SourceInfo {
	out := make([]SourceInfo, 0, len(ev))
	for _, e := range ev {
		src := e.Source
		if e.File != "" {
			src = e.File
		}
		out = append(out, SourceInfo{Source: src, Score: e.Score, URL: e.URL})
	}
	return out
}
