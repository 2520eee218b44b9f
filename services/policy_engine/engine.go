// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package policy_engine masks secrets and personal data in log evidence
// before it reaches a model prompt.
package policy_engine

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianLogAssist/services/policy_engine/enforcement"
)

// Redactor applies classification patterns to text.
//
// # Description
//
// Classifications are applied in priority order; each match is replaced by
// "[REDACTED:<pattern id>]". Patterns below MinConfidence are skipped.
//
// # Thread Safety
//
// Safe for concurrent use after construction.
type Redactor struct {
	classifications []Classification
	minConfidence   ConfidenceLevel
}

// NewRedactor loads rules from path, or the embedded defaults when path is
// empty.
//
// # Outputs
//
//   - *Redactor: Ready to use.
//   - error: Non-nil if the YAML is malformed or a regex does not compile.
func NewRedactor(path string, minConfidence ConfidenceLevel) (*Redactor, error) {
	raw := enforcement.RedactionPatterns
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read redaction rules %s: %w", path, err)
		}
		raw = b
	}

	var file RedactionFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the redaction rules: %w", err)
	}
	if err := file.compile(); err != nil {
		return nil, err
	}
	file.sortByPriority()

	if minConfidence == "" {
		minConfidence = Low
	}
	return &Redactor{classifications: file.Classifications, minConfidence: minConfidence}, nil
}

// Redact masks every enabled pattern in text.
func (r *Redactor) Redact(text string) (string, []Finding) {
	var findings []Finding
	for _, c := range r.classifications {
		for _, p := range c.Patterns {
			if p.Confidence.rank() < r.minConfidence.rank() {
				continue
			}
			n := 0
			text = p.compiled.ReplaceAllStringFunc(text, func(string) string {
				n++
				return "[REDACTED:" + p.Id + "]"
			})
			if n > 0 {
				findings = append(findings, Finding{
					Classification: c.Name,
					PatternId:      p.Id,
					Confidence:     p.Confidence,
					Count:          n,
				})
			}
		}
	}
	return text, findings
}

// Classify returns the name of the highest-priority classification that
// matches data, or "public".
func (r *Redactor) Classify(data string) string {
	for _, c := range r.classifications {
		for _, p := range c.Patterns {
			if p.compiled.MatchString(data) {
				return c.Name
			}
		}
	}
	return "public"
}
