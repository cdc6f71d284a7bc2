package handlers

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"

	"github.com/jzx17/offload/pkg/types"
)

// ContextItem is one candidate entry for a context window
type ContextItem struct {
	ID        string  `json:"id"`
	Content   string  `json:"content"`
	Relevance float64 `json:"relevance"`
}

// OptimizeRequest is the payload of a context-optimize task
type OptimizeRequest struct {
	Items       []ContextItem `json:"items"`
	TokenBudget int           `json:"token_budget"`
}

// OptimizeResult is the output of a context-optimize task
type OptimizeResult struct {
	Selected   []string `json:"selected"`
	Dropped    []string `json:"dropped"`
	TokensUsed int      `json:"tokens_used"`
}

// estimateTokens approximates a token count as one token per four bytes
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// OptimizeContext fills the token budget with the most relevant items
func OptimizeContext(ctx context.Context, req OptimizeRequest) (OptimizeResult, error) {
	if req.TokenBudget <= 0 {
		return OptimizeResult{}, fmt.Errorf("%w: token_budget must be positive", types.ErrInvalidTask)
	}

	items := slices.Clone(req.Items)
	sort.SliceStable(items, func(i, j int) bool { return items[i].Relevance > items[j].Relevance })

	res := OptimizeResult{Selected: []string{}, Dropped: []string{}}
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return OptimizeResult{}, err
		}
		cost := estimateTokens(it.Content)
		if res.TokensUsed+cost > req.TokenBudget {
			res.Dropped = append(res.Dropped, it.ID)
			continue
		}
		res.TokensUsed += cost
		res.Selected = append(res.Selected, it.ID)
	}
	return res, nil
}

// Document is one indexable text
type Document struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// IndexRequest is the payload of an index task
type IndexRequest struct {
	Documents []Document `json:"documents"`
}

// IndexResult is an inverted index from term to document ids
type IndexResult struct {
	Terms     map[string][]string `json:"terms"`
	Documents int                 `json:"documents"`
}

// BuildIndex builds an inverted index over the documents
func BuildIndex(ctx context.Context, req IndexRequest) (IndexResult, error) {
	terms := make(map[string][]string)
	for _, doc := range req.Documents {
		if err := ctx.Err(); err != nil {
			return IndexResult{}, err
		}
		if doc.ID == "" {
			return IndexResult{}, fmt.Errorf("%w: document without id", types.ErrInvalidTask)
		}
		for term := range termFrequency(doc.Text) {
			terms[term] = append(terms[term], doc.ID)
		}
	}
	for term := range terms {
		sort.Strings(terms[term])
	}
	return IndexResult{Terms: terms, Documents: len(req.Documents)}, nil
}

// MigrateRequest is the payload of a migrate task
type MigrateRequest struct {
	Records  []map[string]any  `json:"records"`
	Rename   map[string]string `json:"rename"`
	Drop     []string          `json:"drop"`
	Defaults map[string]any    `json:"defaults"`
}

// MigrateResult is the output of a migrate task
type MigrateResult struct {
	Records  []map[string]any `json:"records"`
	Migrated int              `json:"migrated"`
}

// Migrate renames, drops and defaults fields of every record. Input records
// are not modified.
func Migrate(ctx context.Context, req MigrateRequest) (MigrateResult, error) {
	out := make([]map[string]any, len(req.Records))
	for i, rec := range req.Records {
		if err := ctx.Err(); err != nil {
			return MigrateResult{}, err
		}

		next := maps.Clone(rec)
		if next == nil {
			next = make(map[string]any)
		}
		for from, to := range req.Rename {
			if v, ok := next[from]; ok {
				delete(next, from)
				next[to] = v
			}
		}
		for _, field := range req.Drop {
			delete(next, field)
		}
		for field, v := range req.Defaults {
			if _, ok := next[field]; !ok {
				next[field] = v
			}
		}
		out[i] = next
	}
	return MigrateResult{Records: out, Migrated: len(out)}, nil
}
