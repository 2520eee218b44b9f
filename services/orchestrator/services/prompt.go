// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/prompts"

	"github.com/AleutianAI/AleutianLogAssist/services/llm"
	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/datatypes"
)

const defaultSystemPrompt = `You are a site reliability assistant that answers questions about logs.
First decide the intent of the question:
1. Incident analysis, when the user asks about failures, errors or log lines.
2. General conversation, for greetings, questions about this conversation, or unrelated topics.
In incident analysis mode, ground every claim in the log excerpts or the conversation; never invent log lines.
Use Markdown (lists, code blocks, bold) to organise the answer.
Reason inside <think></think> first, then write only the final answer outside it.`

const defaultQuestionTemplate = `## Relevant log excerpts
{{.log_context}}
{{- if .web_context}}

## Web results
{{.web_context}}
{{- end}}

---
## Question
{{.query}}
---

For incident analysis, cover: the symptom, the correlated log lines (say so if none are relevant), one or two likely root causes, and concrete next steps.`

// PromptBuilder assembles the model messages for one request.
//
// # Description
//
// The system prompt is sent first, then the effective history as
// alternating user/assistant messages, then the question rendered through
// a langchaingo prompt template together with the retrieved evidence.
type PromptBuilder struct {
	system   string
	question prompts.PromptTemplate
}

// NewPromptBuilder creates a builder. Empty system uses the default prompt.
func NewPromptBuilder(system string) *PromptBuilder {
	if strings.TrimSpace(system) == "" {
		system = defaultSystemPrompt
	}
	return &PromptBuilder{
		system:   system,
		question: prompts.NewPromptTemplate(defaultQuestionTemplate, []string{"log_context", "web_context", "query"}),
	}
}

// Build renders the messages.
func (b *PromptBuilder) Build(question string, history []datatypes.Turn, evidence, web []datatypes.Evidence) ([]llm.Message, error) {
	rendered, err := b.question.Format(map[string]any{
		"log_context": formatEvidence(evidence),
		"web_context": formatWeb(web),
		"query":       question,
	})
	if err != nil {
		return nil, fmt.Errorf("render question template: %w", err)
	}

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: b.system})
	for _, t := range history {
		role := llm.RoleUser
		if t.Role == datatypes.RoleAssistant {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: t.Content})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: rendered})
	return messages, nil
}

func formatEvidence(evidence []datatypes.Evidence) string {
	if len(evidence) == 0 {
		return "(no related log lines were retrieved; mention this only for incident analysis)"
	}
	var sb strings.Builder
	for i, e := range evidence {
		fmt.Fprintf(&sb, "Log %d", i+1)
		if e.File != "" {
			fmt.Fprintf(&sb, " (%s)", e.File)
		}
		fmt.Fprintf(&sb, ": %s\n", e.Content)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatWeb(web []datatypes.Evidence) string {
	if len(web) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, e := range web {
		fmt.Fprintf(&sb, "%d. %s", i+1, e.Content)
		if e.URL != "" {
			fmt.Fprintf(&sb, " <%s>", e.URL)
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
