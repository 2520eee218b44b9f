// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package enforcement embeds the default redaction rules into the binary.
package enforcement

import (
	_ "embed"
)

// RedactionPatterns is the raw YAML of redaction_patterns.yaml. Pass it to
// yaml.Unmarshal. A deployment can override it with a file on disk.
//
//go:embed redaction_patterns.yaml
var RedactionPatterns []byte
