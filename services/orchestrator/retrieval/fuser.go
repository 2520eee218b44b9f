// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval gathers log evidence for a question.
//
// # Description
//
// Two kinds of index are queried: similarity (Weaviate nearText) and
// keyword (Weaviate BM25 and a local index over the log directory). Their
// hits are fused into one ranked, de-duplicated list. Web search results,
// when requested, are returned alongside and never compete with log
// evidence for top-K slots.
//
// Retrieval never fails a request. A provider that errors or times out
// contributes nothing and is logged.
package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/datatypes"
)

var retrievalTracer = otel.Tracer("aleutian.logassist.retrieval")

const (
	// DefaultTopK is the number of fused evidence items returned.
	DefaultTopK = 10

	// DefaultKeywordScore is the fixed score assigned to keyword hits.
	DefaultKeywordScore = 0.5

	// DefaultProviderTimeout bounds every provider call.
	DefaultProviderTimeout = 5 * time.Second
)

// =============================================================================
// Provider Interfaces
// =============================================================================

// Provider is one retrieval backend.
type Provider interface {
	// Name identifies the provider in logs and metrics.
	Name() string

	// Search returns up to topK hits for query. Scores are only
	// meaningful for similarity providers.
	Search(ctx context.Context, query string, topK int) ([]datatypes.Evidence, error)
}

// Observer receives per-provider outcomes. observability.Metrics
// implements it.
type Observer interface {
	ObserveRetrieval(provider string, hits int, duration time.Duration, err error)
}

// =============================================================================
// Fuse
// =============================================================================

// Fuse merges similarity and keyword hits into one ranked list.
//
// # Description
//
// Keyword hits get keywordScore. An item whose exact content already came
// from similarity search (or earlier in the same list) is dropped. The
// result is stable-sorted by descending score and truncated to topK, so
// equal scores keep similarity-first order.
//
// # Inputs
//
//   - vector: Similarity hits with their scores.
//   - keyword: Keyword hits; Score is overwritten.
//   - keywordScore: Fixed score for keyword hits.
//   - topK: Maximum results. <= 0 means DefaultTopK.
//
// # Outputs
//
//   - []datatypes.Evidence: Never nil.
//
// # Examples
//
//	Fuse([]Evidence{{Content: "X", Score: 0.9}}, []Evidence{{Content: "X"}}, 0.5, 10)
//	// -> [{X 0.9}]
func Fuse(vector, keyword []datatypes.Evidence, keywordScore float64, topK int) []datatypes.Evidence {
	if topK <= 0 {
		topK = DefaultTopK
	}
	seen := make(map[string]struct{}, len(vector)+len(keyword))
	out := make([]datatypes.Evidence, 0, len(vector)+len(keyword))

	for _, e := range vector {
		if _, dup := seen[e.Content]; dup {
			continue
		}
		seen[e.Content] = struct{}{}
		if e.Source == "" {
			e.Source = datatypes.SourceVector
		}
		out = append(out, e)
	}
	for _, e := range keyword {
		if _, dup := seen[e.Content]; dup {
			continue
		}
		seen[e.Content] = struct{}{}
		e.Score = keywordScore
		if e.Source == "" {
			e.Source = datatypes.SourceKeyword
		}
		out = append(out, e)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > topK {
		out = out[:topK]
	}
	return out
}

// =============================================================================
// Fuser
// =============================================================================

// FuserConfig configures a Fuser.
type FuserConfig struct {
	TopK            int
	KeywordScore    float64
	ProviderTimeout time.Duration
	WebTopK         int
}

// Options selects what to query for one request.
type Options struct {
	UseDB  bool
	UseWeb bool
	TopK   int
}

// Result is the evidence for one request.
type Result struct {
	Evidence []datatypes.Evidence
	Web      []datatypes.Evidence
}

// Fuser queries providers concurrently and fuses their hits.
//
// # Thread Safety
//
// Safe for concurrent use once constructed.
type Fuser struct {
	vector   []Provider
	keyword  []Provider
	web      Provider
	cfg      FuserConfig
	observer Observer
	logger   *slog.Logger
}

// FuserOption configures a Fuser.
type FuserOption func(*Fuser)

// WithVector adds a similarity provider.
func WithVector(p Provider) FuserOption {
	return func(f *Fuser) { f.vector = append(f.vector, p) }
}

// WithKeyword adds a keyword provider.
func WithKeyword(p Provider) FuserOption {
	return func(f *Fuser) { f.keyword = append(f.keyword, p) }
}

// WithWeb sets the web search provider.
func WithWeb(p Provider) FuserOption {
	return func(f *Fuser) { f.web = p }
}

// WithObserver records provider outcomes.
func WithObserver(o Observer) FuserOption {
	return func(f *Fuser) { f.observer = o }
}

// NewFuser builds a Fuser. Zero config fields take package defaults.
func NewFuser(cfg FuserConfig, logger *slog.Logger, opts ...FuserOption) *Fuser {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.KeywordScore <= 0 {
		cfg.KeywordScore = DefaultKeywordScore
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = DefaultProviderTimeout
	}
	if cfg.WebTopK <= 0 {
		cfg.WebTopK = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	f := &Fuser{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Retrieve gathers evidence for query.
//
// # Description
//
// Every enabled provider runs in its own goroutine with its own timeout.
// Failures are logged and treated as empty results, so Retrieve never
// returns an error.
func (f *Fuser) Retrieve(ctx context.Context, query string, opts Options) Result {
	ctx, span := retrievalTracer.Start(ctx, "retrieval.Retrieve")
	defer span.End()

	topK := opts.TopK
	if topK <= 0 {
		topK = f.cfg.TopK
	}

	var (
		vectorHits  = make([][]datatypes.Evidence, len(f.vector))
		keywordHits = make([][]datatypes.Evidence, len(f.keyword))
		webHits     []datatypes.Evidence
	)

	// Errors are swallowed per provider, so the group never cancels.
	g, gctx := errgroup.WithContext(ctx)
	if opts.UseDB {
		for i, p := range f.vector {
			i, p := i, p
			g.Go(func() error {
				vectorHits[i] = f.query(gctx, p, query, topK)
				return nil
			})
		}
		for i, p := range f.keyword {
			i, p := i, p
			g.Go(func() error {
				keywordHits[i] = f.query(gctx, p, query, topK)
				return nil
			})
		}
	}
	if opts.UseWeb && f.web != nil {
		g.Go(func() error {
			webHits = f.query(gctx, f.web, query, f.cfg.WebTopK)
			return nil
		})
	}
	_ = g.Wait()

	var vector, keyword []datatypes.Evidence
	for _, hits := range vectorHits {
		vector = append(vector, hits...)
	}
	for _, hits := range keywordHits {
		keyword = append(keyword, hits...)
	}
	// Several similarity providers are not comparable until sorted.
	sort.SliceStable(vector, func(i, j int) bool { return vector[i].Score > vector[j].Score })

	res := Result{
		Evidence: Fuse(vector, keyword, f.cfg.KeywordScore, topK),
		Web:      webHits,
	}
	if res.Web == nil {
		res.Web = []datatypes.Evidence{}
	}
	span.SetAttributes(
		attribute.Int("retrieval.evidence", len(res.Evidence)),
		attribute.Int("retrieval.web", len(res.Web)),
	)
	return res
}

func (f *Fuser) query(ctx context.Context, p Provider, query string, topK int) []datatypes.Evidence {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.ProviderTimeout)
	defer cancel()

	start := time.Now()
	hits, err := p.Search(ctx, query, topK)
	if f.observer != nil {
		f.observer.ObserveRetrieval(p.Name(), len(hits), time.Since(start), err)
	}
	if err != nil {
		f.logger.Warn("Retrieval provider failed, continuing without it",
			"provider", p.Name(),
			"error", err)
		return nil
	}
	return hits
}
