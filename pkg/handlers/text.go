package handlers

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/jzx17/offload/pkg/types"
)

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true, "be": true,
	"but": true, "by": true, "for": true, "from": true, "has": true, "have": true, "in": true,
	"is": true, "it": true, "its": true, "of": true, "on": true, "or": true, "that": true,
	"the": true, "this": true, "to": true, "was": true, "were": true, "which": true,
	"will": true, "with": true,
}

// words splits text into lower-cased alphanumeric tokens
func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// sentences splits text after '.', '!' and '?'
func sentences(text string) []string {
	var out []string
	start := 0
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(text[start : i+1]); s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

// termFrequency counts non stop-word terms
func termFrequency(text string) map[string]int {
	freq := make(map[string]int)
	for _, w := range words(text) {
		if !stopWords[w] && len(w) > 1 {
			freq[w]++
		}
	}
	return freq
}

// SummarizeRequest is the payload of a summarize task
type SummarizeRequest struct {
	Text         string `json:"text"`
	MaxSentences int    `json:"max_sentences"`
}

// SummarizeResult is the output of a summarize task
type SummarizeResult struct {
	Summary        string `json:"summary"`
	Sentences      int    `json:"sentences"`
	TotalSentences int    `json:"total_sentences"`
}

// Summarize picks the highest scoring sentences by term frequency and
// returns them in their original order
func Summarize(ctx context.Context, req SummarizeRequest) (SummarizeResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return SummarizeResult{}, fmt.Errorf("%w: text is required", types.ErrInvalidTask)
	}
	limit := req.MaxSentences
	if limit <= 0 {
		limit = 3
	}

	all := sentences(req.Text)
	freq := termFrequency(req.Text)

	type scored struct {
		idx   int
		score float64
	}
	ranked := make([]scored, len(all))
	for i, s := range all {
		if err := ctx.Err(); err != nil {
			return SummarizeResult{}, err
		}
		terms := words(s)
		total := 0
		for _, w := range terms {
			total += freq[w]
		}
		score := 0.0
		if len(terms) > 0 {
			score = float64(total) / float64(len(terms))
		}
		ranked[i] = scored{idx: i, score: score}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	picked := ranked[:min(limit, len(ranked))]
	sort.Slice(picked, func(i, j int) bool { return picked[i].idx < picked[j].idx })

	parts := make([]string, len(picked))
	for i, p := range picked {
		parts[i] = all[p.idx]
	}

	return SummarizeResult{
		Summary:        strings.Join(parts, " "),
		Sentences:      len(parts),
		TotalSentences: len(all),
	}, nil
}

// AnalyzeRequest is the payload of a semantic-analysis task
type AnalyzeRequest struct {
	Text        string `json:"text"`
	MaxKeywords int    `json:"max_keywords"`
}

// AnalyzeResult is the output of a semantic-analysis task
type AnalyzeResult struct {
	Keywords  []string `json:"keywords"`
	Entities  []string `json:"entities"`
	WordCount int      `json:"word_count"`
}

// Analyze extracts keywords by frequency and entities as capitalized words
// that do not start a sentence
func Analyze(ctx context.Context, req AnalyzeRequest) (AnalyzeResult, error) {
	limit := req.MaxKeywords
	if limit <= 0 {
		limit = 5
	}

	freq := termFrequency(req.Text)
	keywords := make([]string, 0, len(freq))
	for w := range freq {
		keywords = append(keywords, w)
	}
	sort.Slice(keywords, func(i, j int) bool {
		if freq[keywords[i]] != freq[keywords[j]] {
			return freq[keywords[i]] > freq[keywords[j]]
		}
		return keywords[i] < keywords[j]
	})

	seen := make(map[string]bool)
	var entities []string
	for _, s := range sentences(req.Text) {
		if err := ctx.Err(); err != nil {
			return AnalyzeResult{}, err
		}
		for i, f := range strings.Fields(s) {
			name := strings.TrimFunc(f, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
			if i == 0 || name == "" || !unicode.IsUpper([]rune(name)[0]) || seen[name] {
				continue
			}
			seen[name] = true
			entities = append(entities, name)
		}
	}

	return AnalyzeResult{
		Keywords:  keywords[:min(limit, len(keywords))],
		Entities:  entities,
		WordCount: len(words(req.Text)),
	}, nil
}

// TransformRequest is the payload of a transform task
type TransformRequest struct {
	Text       string   `json:"text"`
	Operations []string `json:"operations"`
}

// TransformResult is the output of a transform task
type TransformResult struct {
	Text    string   `json:"text"`
	Applied []string `json:"applied"`
}

var transforms = map[string]func(string) string{
	"lower":    strings.ToLower,
	"upper":    strings.ToUpper,
	"trim":     strings.TrimSpace,
	"collapse": func(s string) string { return strings.Join(strings.Fields(s), " ") },
	"slug":     func(s string) string { return strings.Join(words(s), "-") },
	"reverse": func(s string) string {
		r := []rune(s)
		for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
			r[i], r[j] = r[j], r[i]
		}
		return string(r)
	},
}

// Transform applies text operations in order
func Transform(ctx context.Context, req TransformRequest) (TransformResult, error) {
	text := req.Text
	for _, op := range req.Operations {
		fn, ok := transforms[op]
		if !ok {
			return TransformResult{}, fmt.Errorf("%w: unknown transform %q", types.ErrInvalidTask, op)
		}
		text = fn(text)
	}
	return TransformResult{Text: text, Applied: req.Operations}, nil
}
