// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package services contains the chat streaming pipeline: retrieval, prompt
// assembly, generation, segmentation and transcript persistence.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianLogAssist/services/llm"
	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/retrieval"
	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/storage"
	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/streaming"
	"github.com/AleutianAI/AleutianLogAssist/services/policy_engine"
)

var chatTracer = otel.Tracer("aleutian.logassist.chat")

// persistTimeout bounds the post-stream write, which runs detached from
// the request context so a finished answer survives a late disconnect.
const persistTimeout = 10 * time.Second

var (
	// ErrInvalidRequest wraps request validation failures.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrClientDisconnected is returned when the caller goes away mid-stream.
	ErrClientDisconnected = errors.New("client disconnected")
)

// =============================================================================
// Configuration
// =============================================================================

// MetadataTiming selects when the single metadata event is emitted.
type MetadataTiming string

const (
	// MetadataAtStreamEnd emits after the last content event.
	MetadataAtStreamEnd MetadataTiming = "stream_end"

	// MetadataAtThinkEnd emits after the fragment that closes the first
	// think region. Streams without reasoning get none.
	MetadataAtThinkEnd MetadataTiming = "think_end"

	// MetadataNone never emits.
	MetadataNone MetadataTiming = "none"
)

// ParseMetadataTiming validates a config value. Empty means stream_end.
func ParseMetadataTiming(s string) (MetadataTiming, error) {
	switch MetadataTiming(s) {
	case "", MetadataAtStreamEnd:
		return MetadataAtStreamEnd, nil
	case MetadataAtThinkEnd, MetadataNone:
		return MetadataTiming(s), nil
	default:
		return "", fmt.Errorf("unknown metadata timing %q (want stream_end, think_end or none)", s)
	}
}

// StreamConfig tunes the orchestrator.
type StreamConfig struct {
	MetadataTiming MetadataTiming
	TopK           int
	Params         llm.GenerationParams
	SystemPrompt   string
}

// =============================================================================
// Collaborators
// =============================================================================

// EventSink receives events in order. A non-nil error means the client is
// gone; no further events are sent.
type EventSink interface {
	Send(event datatypes.StreamEvent) error
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(event datatypes.StreamEvent) error

// Send implements EventSink.
func (f EventSinkFunc) Send(event datatypes.StreamEvent) error { return f(event) }

// Retriever gathers evidence. *retrieval.Fuser satisfies it.
type Retriever interface {
	Retrieve(ctx context.Context, query string, opts retrieval.Options) retrieval.Result
}

// GeneratorResolver picks a generator by model name. *llm.Registry
// satisfies it.
type GeneratorResolver interface {
	Resolve(model string) (llm.TokenGenerator, error)
}

// EvidenceRedactor masks secrets in evidence. *policy_engine.Redactor
// satisfies it.
type EvidenceRedactor interface {
	Redact(text string) (string, []policy_engine.Finding)
}

// StreamDeps are the orchestrator's collaborators. Store and Generators
// are required.
type StreamDeps struct {
	Store          storage.SessionStore
	Generators     GeneratorResolver
	Retriever      Retriever
	Redactor       EvidenceRedactor
	Metrics        *observability.Metrics
	Logger         *slog.Logger
	NewAccumulator func() (AnswerAccumulator, error)
	Now            func() time.Time
}

// =============================================================================
// StreamOrchestrator
// =============================================================================

// StreamResult describes a finished stream.
type StreamResult struct {
	RequestID string
	Mode      conversation.Mode
	Model     string
	Evidence  int
	Persisted bool
	Session   *datatypes.Session
	Digest    string
	Duration  time.Duration
}

// StreamOrchestrator runs one chat request end to end.
//
// # Description
//
// Per request:
//
//  1. Precheck (auth, empty input, validation, reserved markers).
//  2. Load or create the session and plan reconciliation from that
//     snapshot; the plan's base turns are the prompt history.
//  3. Retrieve and redact evidence, then build the prompt.
//  4. Stream the generator through a TagStreamSplitter, forwarding every
//     event immediately and accumulating content.
//  5. On success, decide and apply exactly one transcript write.
//
// A generator failure produces exactly one error event and no write. A
// client disconnect produces no write and no further events.
//
// # Thread Safety
//
// Safe for concurrent use; all per-request state lives on the stack.
type StreamOrchestrator struct {
	store      storage.SessionStore
	policy     *conversation.ReconciliationPolicy
	followUps  *conversation.QueryContextualizer
	generators GeneratorResolver
	retriever  Retriever
	redactor   EvidenceRedactor
	prompts    *PromptBuilder
	metrics    *observability.Metrics
	logger     *slog.Logger
	newAcc     func() (AnswerAccumulator, error)
	now        func() time.Time
	cfg        StreamConfig
}

// NewStreamOrchestrator validates deps and fills defaults.
func NewStreamOrchestrator(deps StreamDeps, cfg StreamConfig) (*StreamOrchestrator, error) {
	if deps.Store == nil {
		return nil, errors.New("stream orchestrator: session store is required")
	}
	if deps.Generators == nil {
		return nil, errors.New("stream orchestrator: generator resolver is required")
	}
	timing, err := ParseMetadataTiming(string(cfg.MetadataTiming))
	if err != nil {
		return nil, err
	}
	cfg.MetadataTiming = timing

	o := &StreamOrchestrator{
		store:      deps.Store,
		policy:     conversation.NewReconciliationPolicy(),
		followUps:  conversation.NewQueryContextualizer(),
		generators: deps.Generators,
		retriever:  deps.Retriever,
		redactor:   deps.Redactor,
		prompts:    NewPromptBuilder(cfg.SystemPrompt),
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		newAcc:     deps.NewAccumulator,
		now:        deps.Now,
		cfg:        cfg,
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.newAcc == nil {
		o.newAcc = NewAnswerAccumulator
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o, nil
}

// Precheck normalizes req and rejects it before any model call.
//
// # Outputs
//
//   - error: *datatypes.UnauthenticatedError, *datatypes.EmptyInputError,
//     ErrInvalidRequest or datatypes.ErrReservedMarker (wrapped).
func (o *StreamOrchestrator) Precheck(userID string, req *datatypes.ChatRequest) error {
	if userID == "" {
		return &datatypes.UnauthenticatedError{Reason: "missing or invalid API key"}
	}
	req.Normalize()
	if req.UserInput == "" {
		return &datatypes.EmptyInputError{}
	}
	if err := req.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := conversation.CheckContent(req.UserInput); err != nil {
		return err
	}
	for i, turn := range req.History() {
		if err := conversation.CheckContent(turn.Content); err != nil {
			return fmt.Errorf("context[%d]: %w", i, err)
		}
	}
	return nil
}

// Stream runs req for userID and writes events to sink.
//
// # Outputs
//
//   - *StreamResult: Always non-nil once the precheck passed.
//   - error: Precheck errors, *datatypes.GenerationFailure,
//     ErrClientDisconnected, or *datatypes.PersistenceFailure. Only the
//     first two produce an error event; a persistence failure happens after
//     the answer was delivered and is logged.
func (o *StreamOrchestrator) Stream(ctx context.Context, userID string, req datatypes.ChatRequest, sink EventSink, endpoint observability.Endpoint) (*StreamResult, error) {
	start := o.now()

	if err := o.Precheck(userID, &req); err != nil {
		o.metrics.RecordError(endpoint, errorCode(err))
		_ = sink.Send(datatypes.ErrorEvent(ClientMessage(err)))
		return nil, err
	}

	ctx, span := chatTracer.Start(ctx, "StreamOrchestrator.Stream")
	defer span.End()
	span.SetAttributes(
		attribute.String("chat.request_id", req.RequestID),
		attribute.String("chat.session_id", req.SessionID),
		attribute.Bool("chat.edit_mode", req.EditMode()),
	)

	o.metrics.StreamStarted(endpoint)
	defer o.metrics.StreamEnded(endpoint)

	logger := o.logger.With("request_id", req.RequestID, "session_id", req.SessionID, "user_id", userID)
	result := &StreamResult{RequestID: req.RequestID}

	fail := func(err error, code observability.ErrorCode) (*StreamResult, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.metrics.RecordError(endpoint, code)
		o.metrics.RecordRequest(endpoint, false)
		o.metrics.RecordStreamDuration(endpoint, o.now().Sub(start).Seconds(), false)
		result.Duration = o.now().Sub(start)
		return result, err
	}

	// Pre-stream: snapshot and plan.
	sess, err := o.store.GetOrCreate(ctx, req.SessionID, userID)
	o.metrics.RecordStoreOp("get_or_create", err)
	if err != nil {
		logger.Error("Failed to load session", "error", err)
		_ = sink.Send(datatypes.ErrorEvent(ClientMessage(err)))
		return fail(fmt.Errorf("load session: %w", err), observability.ErrorCodeInternal)
	}
	plan := o.policy.Plan(sess.Transcript, req.UserInput, req.History())
	result.Mode = plan.Mode
	for _, w := range plan.Warnings {
		logger.Warn("Malformed transcript segment skipped", "offset", w.Offset, "reason", w.Reason)
	}
	span.SetAttributes(attribute.String("chat.mode", plan.Mode.String()))

	evidence, web := o.gather(ctx, req, plan.Base)
	result.Evidence = len(evidence) + len(web)

	messages, err := o.prompts.Build(plan.Question, plan.Base, evidence, web)
	if err != nil {
		_ = sink.Send(datatypes.ErrorEvent(ClientMessage(err)))
		return fail(err, observability.ErrorCodeInternal)
	}

	gen, err := o.generators.Resolve(req.Model)
	if err != nil {
		gf := &datatypes.GenerationFailure{Model: req.Model, Err: err}
		_ = sink.Send(datatypes.ErrorEvent(ClientMessage(gf)))
		return fail(gf, observability.ErrorCodeLLMError)
	}
	result.Model = gen.Model()

	acc, err := o.newAcc()
	if err != nil {
		logger.Error("Failed to allocate answer accumulator", "error", err)
		_ = sink.Send(datatypes.ErrorEvent(ClientMessage(err)))
		return fail(err, observability.ErrorCodeInternal)
	}
	defer acc.Destroy()

	// Streaming.
	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	splitter := streaming.NewTagStreamSplitter()
	var (
		sinkErr      error
		sawFragment  bool
		metadataSent bool
	)
	sendMetadata := func() error {
		metadataSent = true
		if err := sink.Send(datatypes.MetadataEvent(o.now().Sub(start).Seconds())); err != nil {
			sinkErr = err
			return err
		}
		return nil
	}
	forward := func(events []datatypes.StreamEvent) error {
		for _, ev := range events {
			if ev.Type == datatypes.EventContent {
				if err := acc.Write(ev.Chunk); err != nil {
					return err
				}
			}
			if err := sink.Send(ev); err != nil {
				sinkErr = err
				return err
			}
			o.metrics.RecordFragment(string(ev.Type))
		}
		return nil
	}

	genErr := gen.Stream(genCtx, messages, o.cfg.Params, func(chunk string) error {
		if !sawFragment {
			sawFragment = true
			o.metrics.RecordTimeToFirstToken(endpoint, o.now().Sub(start).Seconds())
		}
		if err := forward(splitter.Feed(chunk)); err != nil {
			return err
		}
		if o.cfg.MetadataTiming == MetadataAtThinkEnd && !metadataSent && splitter.ThinkRegionsClosed() > 0 {
			return sendMetadata()
		}
		return nil
	})
	if genErr == nil {
		genErr = forward(splitter.Flush())
	}
	if genErr == nil && o.cfg.MetadataTiming == MetadataAtStreamEnd {
		genErr = sendMetadata()
	}

	switch {
	case sinkErr != nil || ctx.Err() != nil:
		o.metrics.RecordClientDisconnect(endpoint)
		logger.Info("Client disconnected, discarding answer", "mode", plan.Mode.String())
		return fail(fmt.Errorf("%w: %v", ErrClientDisconnected, firstErr(sinkErr, ctx.Err())), observability.ErrorCodeClientDisconnect)
	case genErr != nil:
		gf := &datatypes.GenerationFailure{Model: gen.Model(), Err: genErr}
		logger.Error("Generation failed", "model", gen.Model(), "error", genErr)
		_ = sink.Send(datatypes.ErrorEvent(ClientMessage(gf)))
		return fail(gf, observability.ErrorCodeLLMError)
	}

	answer, digest, err := acc.Finalize()
	if err != nil {
		return fail(&datatypes.PersistenceFailure{SessionID: req.SessionID, Err: err}, observability.ErrorCodePersistence)
	}
	result.Digest = digest

	// Post-stream: exactly one write.
	saved, err := o.persist(ctx, sess, plan, answer)
	if errors.Is(err, datatypes.ErrReservedMarker) {
		logger.Warn("Answer delivered but not stored: it contains a reserved transcript marker",
			"mode", plan.Mode.String(), "answer_length", len(answer))
		return fail(err, observability.ErrorCodeReservedMarker)
	}
	if err != nil {
		logger.Error("Failed to persist conversation", "mode", plan.Mode.String(), "error", err)
		return fail(err, observability.ErrorCodePersistence)
	}
	result.Persisted = true
	result.Session = saved
	result.Duration = o.now().Sub(start)

	o.metrics.RecordRequest(endpoint, true)
	o.metrics.RecordStreamDuration(endpoint, result.Duration.Seconds(), true)
	logger.Info("Stream completed",
		"mode", plan.Mode.String(),
		"model", gen.Model(),
		"evidence", result.Evidence,
		"version", saved.Version,
		"duration_ms", result.Duration.Milliseconds())
	return result, nil
}

// persist reconciles and applies the write on a context detached from the
// request.
func (o *StreamOrchestrator) persist(ctx context.Context, sess *datatypes.Session, plan conversation.Plan, answer string) (*datatypes.Session, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	decision, err := o.policy.Decide(plan, answer)
	if err != nil {
		return nil, &datatypes.PersistenceFailure{SessionID: sess.ID, Err: err}
	}
	o.metrics.RecordReconcile(decision.Mode.String(), decision.Rewrite)
	if decision.Dropped > 0 {
		o.logger.Warn("Dropped orphan assistant turns from supplied history",
			"session_id", sess.ID, "dropped", decision.Dropped)
	}

	saved, err := o.store.Apply(ctx, sess, decision)
	o.metrics.RecordStoreOp("apply", err)
	if err != nil {
		return nil, &datatypes.PersistenceFailure{SessionID: sess.ID, Err: err}
	}
	return saved, nil
}

// gather runs retrieval when enabled and masks secrets in the results.
// Follow-up questions are searched together with the previous question.
func (o *StreamOrchestrator) gather(ctx context.Context, req datatypes.ChatRequest, history []datatypes.Turn) ([]datatypes.Evidence, []datatypes.Evidence) {
	if o.retriever == nil || (!req.UseDBSearch && !req.UseWebSearch) {
		return nil, nil
	}
	query := o.followUps.RetrievalQuery(req.UserInput, history)
	if query != req.UserInput {
		o.logger.Debug("Contextualized follow-up question", "retrieval_query_length", len(query))
	}
	res := o.retriever.Retrieve(ctx, query, retrieval.Options{
		UseDB:  req.UseDBSearch,
		UseWeb: req.UseWebSearch,
		TopK:   o.cfg.TopK,
	})
	return o.redact(res.Evidence), o.redact(res.Web)
}

func (o *StreamOrchestrator) redact(evidence []datatypes.Evidence) []datatypes.Evidence {
	if o.redactor == nil {
		return evidence
	}
	out := make([]datatypes.Evidence, len(evidence))
	for i, e := range evidence {
		masked, findings := o.redactor.Redact(e.Content)
		if len(findings) > 0 {
			o.logger.Debug("Redacted evidence", "source", e.Source, "findings", len(findings))
		}
		e.Content = masked
		out[i] = e
	}
	return out
}

// =============================================================================
// Error mapping
// =============================================================================

// ClientMessage returns the sanitized text for an error event.
func ClientMessage(err error) string {
	var (
		unauth *datatypes.UnauthenticatedError
		empty  *datatypes.EmptyInputError
		gen    *datatypes.GenerationFailure
	)
	switch {
	case errors.As(err, &unauth):
		return "Authentication required: please provide a valid API key"
	case errors.As(err, &empty):
		return "Please enter a message"
	case errors.Is(err, datatypes.ErrReservedMarker):
		return "Message lines may not start with \"User:\" or \"Assistant:\""
	case errors.Is(err, ErrInvalidRequest):
		return "Invalid request"
	case errors.Is(err, ErrAnswerTooLarge):
		return "The answer exceeded the maximum size"
	case errors.Is(err, llm.ErrUnknownModel):
		return "The requested model is not available"
	case errors.As(err, &gen):
		return "The model failed to produce an answer, please retry"
	default:
		return "Internal error, please retry"
	}
}

// errorCode maps precheck errors to metric codes.
func errorCode(err error) observability.ErrorCode {
	var (
		unauth *datatypes.UnauthenticatedError
		empty  *datatypes.EmptyInputError
	)
	switch {
	case errors.As(err, &unauth):
		return observability.ErrorCodeUnauthenticated
	case errors.As(err, &empty):
		return observability.ErrorCodeEmptyInput
	case errors.Is(err, datatypes.ErrReservedMarker):
		return observability.ErrorCodeReservedMarker
	case errors.Is(err, ErrInvalidRequest):
		return observability.ErrorCodeValidation
	default:
		return observability.ErrorCodeInternal
	}
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
