package handlers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jzx17/offload/pkg/types"
	"github.com/jzx17/offload/pkg/worker"
)

func TestRegisterBuiltins(t *testing.T) {
	reg := worker.NewRegistry()
	require.NoError(t, RegisterBuiltins(reg))

	for _, typ := range []worker.TaskType{
		worker.TypeSummarize,
		worker.TypeSemanticAnalysis,
		worker.TypeContextOptimize,
		worker.TypeIndex,
		worker.TypeMigrate,
		worker.TypeTransform,
	} {
		assert.True(t, reg.Has(typ), typ)
	}

	assert.Error(t, RegisterBuiltins(reg), "second registration conflicts")
}

func TestDecode(t *testing.T) {
	want := TransformRequest{Text: "Hi", Operations: []string{"upper"}}

	tests := []struct {
		name    string
		payload any
		wantErr bool
	}{
		{name: "value", payload: want},
		{name: "pointer", payload: &want},
		{name: "raw json", payload: json.RawMessage(`{"text":"Hi","operations":["upper"]}`)},
		{name: "bytes", payload: []byte(`{"text":"Hi","operations":["upper"]}`)},
		{name: "string", payload: `{"text":"Hi","operations":["upper"]}`},
		{name: "map", payload: map[string]any{"text": "Hi", "operations": []any{"upper"}}},
		{name: "nil", payload: nil, wantErr: true},
		{name: "nil pointer", payload: (*TransformRequest)(nil), wantErr: true},
		{name: "bad json", payload: "{", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode[TransformRequest](tt.payload)
			if tt.wantErr {
				assert.ErrorIs(t, err, types.ErrInvalidTask)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestSummarize(t *testing.T) {
	text := "The scheduler runs tasks. Tasks run on workers. The weather is nice. Workers run scheduler tasks quickly."

	res, err := Summarize(context.Background(), SummarizeRequest{Text: text, MaxSentences: 2})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Sentences)
	assert.Equal(t, 4, res.TotalSentences)
	assert.NotContains(t, res.Summary, "weather")

	_, err = Summarize(context.Background(), SummarizeRequest{Text: "  "})
	assert.ErrorIs(t, err, types.ErrInvalidTask)
}

func TestAnalyze(t *testing.T) {
	text := "Alice met Bob in Paris. Paris was sunny and Bob was happy. Bob left."

	res, err := Analyze(context.Background(), AnalyzeRequest{Text: text, MaxKeywords: 2})
	require.NoError(t, err)

	assert.Equal(t, []string{"bob", "paris"}, res.Keywords)
	assert.Equal(t, []string{"Bob", "Paris"}, res.Entities)
	assert.Equal(t, 14, res.WordCount)
}

func TestTransform(t *testing.T) {
	res, err := Transform(context.Background(), TransformRequest{
		Text:       "  Hello   Offload World ",
		Operations: []string{"collapse", "slug"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello-offload-world", res.Text)

	_, err = Transform(context.Background(), TransformRequest{Text: "x", Operations: []string{"rot13"}})
	assert.ErrorIs(t, err, types.ErrInvalidTask)
}

func TestOptimizeContext(t *testing.T) {
	res, err := OptimizeContext(context.Background(), OptimizeRequest{
		TokenBudget: 5,
		Items: []ContextItem{
			{ID: "low", Content: "12345678", Relevance: 0.1},
			{ID: "high", Content: "12345678", Relevance: 0.9},
			{ID: "big", Content: "1234567890123456", Relevance: 0.5},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"high", "low"}, res.Selected)
	assert.Equal(t, []string{"big"}, res.Dropped)
	assert.Equal(t, 4, res.TokensUsed)

	_, err = OptimizeContext(context.Background(), OptimizeRequest{})
	assert.ErrorIs(t, err, types.ErrInvalidTask)
}

func TestBuildIndex(t *testing.T) {
	res, err := BuildIndex(context.Background(), IndexRequest{Documents: []Document{
		{ID: "d2", Text: "worker pool"},
		{ID: "d1", Text: "the worker queue"},
	}})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Documents)
	assert.Equal(t, []string{"d1", "d2"}, res.Terms["worker"])
	assert.Equal(t, []string{"d1"}, res.Terms["queue"])
	assert.NotContains(t, res.Terms, "the")

	_, err = BuildIndex(context.Background(), IndexRequest{Documents: []Document{{Text: "x"}}})
	assert.ErrorIs(t, err, types.ErrInvalidTask)
}

func TestMigrate(t *testing.T) {
	in := []map[string]any{
		{"name": "a", "legacy": true},
		{"name": "b", "tier": "pro"},
	}

	res, err := Migrate(context.Background(), MigrateRequest{
		Records:  in,
		Rename:   map[string]string{"name": "title"},
		Drop:     []string{"legacy"},
		Defaults: map[string]any{"tier": "free"},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Migrated)
	assert.Equal(t, map[string]any{"title": "a", "tier": "free"}, res.Records[0])
	assert.Equal(t, map[string]any{"title": "b", "tier": "pro"}, res.Records[1])
	assert.Contains(t, in[0], "legacy", "input is not modified")
}

func TestHandlersThroughRegistry(t *testing.T) {
	reg := worker.NewRegistry()
	require.NoError(t, RegisterBuiltins(reg))

	h, err := reg.Resolve(worker.TypeTransform)
	require.NoError(t, err)

	out, err := h.Handle(context.Background(), map[string]any{"text": "abc", "operations": []string{"upper", "reverse"}})
	require.NoError(t, err)
	assert.Equal(t, TransformResult{Text: "CBA", Applied: []string{"upper", "reverse"}}, out)
}
