// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/datatypes"
)

// Mode is the durable-update strategy chosen for one request.
type Mode int

const (
	// ModeNormal appends the new exchange to the stored transcript.
	ModeNormal Mode = iota
	// ModeRegenerate replaces a trailing exchange for the same question.
	ModeRegenerate
	// ModeEdit rewrites the transcript from client-supplied history.
	ModeEdit
)

func (m Mode) String() string {
	switch m {
	case ModeRegenerate:
		return "regenerate"
	case ModeEdit:
		return "edit"
	default:
		return "normal"
	}
}

// =============================================================================
// Plan
// =============================================================================

// Plan is the pre-stream half of reconciliation.
//
// # Description
//
// Computed once from the request's own snapshot of the stored transcript.
// Base is both the history shown to the model and the prefix of the
// rewritten transcript for rewrite modes.
type Plan struct {
	Mode     Mode
	Question string
	Base     []datatypes.Turn
	// Repair is set in normal mode when the stored transcript starts with
	// garbage; the write becomes a rewrite from Base.
	Repair   bool
	Dropped  int
	Warnings []datatypes.MalformedTranscriptWarning
}

// Decision is the post-stream write to apply.
type Decision struct {
	Mode Mode
	// Rewrite replaces the whole transcript with Transcript. Otherwise
	// AppendBlock is concatenated to whatever is stored at write time.
	Rewrite     bool
	Transcript  string
	AppendBlock string
	// Turns is the resulting history as computed from this request's
	// snapshot.
	Turns   []datatypes.Turn
	Dropped int
}

// =============================================================================
// ReconciliationPolicy
// =============================================================================

// ReconciliationPolicy picks exactly one update strategy per request.
//
// # Description
//
// Modes are tested in priority order:
//
//  1. Edit: history != nil (an explicit empty list counts). Client intent
//     always wins over inferred intent.
//  2. Regeneration: the stored tail is a (User==question, Assistant) pair,
//     or a dangling User==question. Only the tail is examined.
//  3. Normal append.
//
// # Thread Safety
//
// Stateless; safe for concurrent use.
type ReconciliationPolicy struct{}

// NewReconciliationPolicy returns the policy.
func NewReconciliationPolicy() *ReconciliationPolicy {
	return &ReconciliationPolicy{}
}

// Plan classifies the request before the model is called.
//
// # Inputs
//
//   - stored: The session's transcript as read by this request.
//   - question: The trimmed user input.
//   - history: Client-supplied history, nil when absent.
//
// # Outputs
//
//   - Plan: Mode, the effective history and any decode warnings.
func (p *ReconciliationPolicy) Plan(stored, question string, history []datatypes.Turn) Plan {
	question = strings.TrimSpace(question)

	if history != nil {
		base := make([]datatypes.Turn, 0, len(history))
		for _, t := range history {
			base = append(base, datatypes.Turn{Role: t.Role, Content: strings.TrimSpace(t.Content)})
		}
		return Plan{Mode: ModeEdit, Question: question, Base: base}
	}

	turns, warnings := DecodeTranscript(stored)
	plan := Plan{Question: question, Warnings: warnings}

	if tail := regenerationTail(turns, question); tail > 0 {
		plan.Mode = ModeRegenerate
		plan.Base = turns[:len(turns)-tail]
		return plan
	}

	plan.Mode = ModeNormal
	plan.Base = turns
	plan.Repair = HasGarbagePrefix(stored)
	return plan
}

// Decide turns a plan plus the finished answer into a write.
//
// # Outputs
//
//   - Decision: The write to apply.
//   - error: ErrReservedMarker when the exchange or supplied history cannot
//     be encoded.
func (p *ReconciliationPolicy) Decide(plan Plan, answer string) (Decision, error) {
	answer = strings.TrimSpace(answer)
	turns := make([]datatypes.Turn, 0, len(plan.Base)+2)
	turns = append(turns, plan.Base...)
	turns = append(turns, datatypes.UserTurn(plan.Question))
	if answer != "" {
		turns = append(turns, datatypes.AssistantTurn(answer))
	}

	d := Decision{Mode: plan.Mode, Turns: turns}

	if plan.Mode == ModeNormal && !plan.Repair {
		block, err := EncodeTurn(plan.Question, answer)
		if err != nil {
			return Decision{}, fmt.Errorf("encode exchange: %w", err)
		}
		d.AppendBlock = block
		return d, nil
	}

	transcript, dropped, err := EncodeTurns(turns)
	if err != nil {
		return Decision{}, fmt.Errorf("encode %s transcript: %w", plan.Mode, err)
	}
	d.Rewrite = true
	d.Transcript = transcript
	d.Dropped = dropped
	return d, nil
}

// Reconcile runs Plan and Decide in one step.
func (p *ReconciliationPolicy) Reconcile(stored, question, answer string, history []datatypes.Turn) (Decision, error) {
	return p.Decide(p.Plan(stored, question, history), answer)
}

// regenerationTail returns how many trailing turns match a re-ask of
// question: 2 for an answered pair, 1 for a dangling user turn, else 0.
func regenerationTail(turns []datatypes.Turn, question string) int {
	n := len(turns)
	if n >= 2 &&
		turns[n-1].Role == datatypes.RoleAssistant &&
		turns[n-2].Role == datatypes.RoleUser &&
		turns[n-2].Content == question {
		return 2
	}
	if n >= 1 && turns[n-1].Role == datatypes.RoleUser && turns[n-1].Content == question {
		return 1
	}
	return 0
}
