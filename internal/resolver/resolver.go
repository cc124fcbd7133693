// Package resolver implements the entity resolution pipeline: candidate
// generation from raw query text, batched matching against the entity
// vector index, and assembly of confidence-ranked entity mappings.
package resolver

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Growth-System-ERP/gs-assist/internal/index"
	"github.com/Growth-System-ERP/gs-assist/internal/schema"
	"github.com/Growth-System-ERP/gs-assist/pkg/types"
)

// Options control one resolution call.
type Options struct {
	// EntityGroups scopes matching to these groups. Empty means all.
	EntityGroups []string

	// BusinessDomain selects industry-specific vocabulary expansions
	// (default: general).
	BusinessDomain string

	// Debug attaches human-readable trace lines to the result. It has no
	// behavioral effect.
	Debug bool
}

// Result is the outcome of one resolution call.
type Result struct {
	// EntityMappings are the accepted matches, sorted by descending
	// confidence.
	EntityMappings []types.EntityMapping `json:"entity_mappings"`

	// Context aggregates record-type hints across all mappings.
	Context types.QueryContext `json:"context"`

	// RelatedTypes is the schema-graph expansion of Context.DT, passed
	// through untouched.
	RelatedTypes []types.RelatedType `json:"related_types,omitempty"`

	// TraceID and Trace are set only when Options.Debug is true.
	TraceID string   `json:"trace_id,omitempty"`
	Trace   []string `json:"trace,omitempty"`
}

// Resolver is the stateless resolution pipeline. One instance serves
// concurrent calls.
type Resolver struct {
	generator *Generator
	matcher   *Matcher
	graph     schema.Graph
	logger    *zap.Logger
}

// New creates a resolver. vocab and graph may be nil, disabling expansion
// candidates and related-type context respectively.
func New(idx index.VectorIndex, vocab VocabExpander, graph schema.Graph, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		generator: NewGenerator(vocab),
		matcher:   NewMatcher(idx, logger),
		graph:     graph,
		logger:    logger,
	}
}

// Resolve runs the single forward pass: generate candidates, match them
// against the index, assemble mappings and context. An empty query or a
// query with no candidates yields an empty result, not an error.
func (r *Resolver) Resolve(ctx context.Context, query string, opts Options) (*Result, error) {
	result := &Result{}
	trace := func(format string, args ...interface{}) {
		if opts.Debug {
			result.Trace = append(result.Trace, fmt.Sprintf(format, args...))
		}
	}
	if opts.Debug {
		result.TraceID = uuid.NewString()
	}

	domain := opts.BusinessDomain
	if domain == "" {
		domain = "general"
	}

	candidates := r.generator.Generate(query, domain)
	trace("generated %d candidates for %q", len(candidates), query)
	for _, cand := range candidates {
		trace("candidate p%d %s %q [%d:%d]", cand.Priority, cand.Source, cand.Text, cand.Start, cand.End)
	}
	if len(candidates) == 0 {
		return result, nil
	}

	mappings, qctx, err := r.matcher.Match(ctx, candidates, opts.EntityGroups)
	if err != nil {
		return nil, err
	}
	result.EntityMappings = mappings
	result.Context = qctx
	trace("matched %d of %d candidates", len(mappings), len(candidates))
	for _, m := range mappings {
		trace("mapping %q -> %s (%s, confidence %.3f, distance %.3f)", m.Text, m.Entity, m.EntityGroup, m.Confidence, m.Distance)
	}

	if r.graph != nil && len(qctx.DT) > 0 {
		related, err := r.graph.Related(ctx, qctx.DT)
		if err != nil {
			r.logger.Warn("schema graph expansion failed", zap.Error(err))
		} else {
			result.RelatedTypes = related
			trace("schema graph returned %d related types", len(related))
		}
	}

	return result, nil
}
