package groundex

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testExamples = []ExampleData{
	NewExample("Jane Roe is 25 and works as a teacher.",
		NewExtraction("person", "Jane Roe"),
		NewExtraction("age", "25"),
		NewExtraction("profession", "teacher"),
	),
}

func newTestAnnotator(model LanguageModel, cfg ExtractConfig) *Annotator {
	return NewAnnotator(model, cfg, Options{})
}

func TestAnnotateBasicExactAlignment(t *testing.T) {
	text := "John Doe is 30 years old and works as a doctor."
	model := NewScriptedModel(`[{"person": "John Doe"}, {"age": "30"}, {"profession": "doctor"}]`)

	a := newTestAnnotator(model, DefaultExtractConfig())
	doc, err := a.Annotate(context.Background(), text, "Extract people, ages, professions.", testExamples)
	require.NoError(t, err)
	require.Len(t, doc.Extractions, 3)

	person := doc.Extractions[0]
	assert.Equal(t, "person", person.Class)
	assert.Equal(t, "John Doe", person.Text)
	require.NotNil(t, person.Interval)
	assert.Equal(t, CharInterval{StartPos: 0, EndPos: 8}, *person.Interval)
	assert.Equal(t, AlignMatchExact, person.Status)

	age := doc.Extractions[1]
	assert.Equal(t, "30", age.Text)
	require.NotNil(t, age.Interval)
	assert.Equal(t, CharInterval{StartPos: 12, EndPos: 14}, *age.Interval)

	profession := doc.Extractions[2]
	assert.Equal(t, "doctor", profession.Text)
	require.NotNil(t, profession.Interval)
	assert.Equal(t, CharInterval{StartPos: 40, EndPos: 46}, *profession.Interval)
}

func TestAnnotateEmptyText(t *testing.T) {
	model := NewScriptedModel()
	a := newTestAnnotator(model, DefaultExtractConfig())

	doc, err := a.Annotate(context.Background(), "", "anything", testExamples)
	require.NoError(t, err)
	assert.Empty(t, doc.Extractions)
	assert.NotNil(t, doc.Extractions)
	assert.Equal(t, 0, model.CallCount())
}

func TestAnnotateResultsInReadingOrder(t *testing.T) {
	text := "alpha beta gamma delta"
	// The model reports findings out of document order.
	model := NewScriptedModel(`[{"w": "delta"}, {"w": "alpha"}, {"w": "gamma"}]`)

	a := newTestAnnotator(model, DefaultExtractConfig())
	doc, err := a.Annotate(context.Background(), text, "", testExamples)
	require.NoError(t, err)
	require.Len(t, doc.Extractions, 3)
	assert.Equal(t, "alpha", doc.Extractions[0].Text)
	assert.Equal(t, "gamma", doc.Extractions[1].Text)
	assert.Equal(t, "delta", doc.Extractions[2].Text)
}

func TestAnnotateUnalignedAppended(t *testing.T) {
	text := "alpha beta"
	model := NewScriptedModel(`[{"w": "nowhere-to-be-found"}, {"w": "alpha"}]`)

	a := newTestAnnotator(model, DefaultExtractConfig())
	doc, err := a.Annotate(context.Background(), text, "", testExamples)
	require.NoError(t, err)
	require.Len(t, doc.Extractions, 2)
	assert.Equal(t, "alpha", doc.Extractions[0].Text)
	assert.Nil(t, doc.Extractions[1].Interval)
	assert.Equal(t, AlignMatchNone, doc.Extractions[1].Status)
}

func TestAnnotateChunkFailureIsolation(t *testing.T) {
	// Two chunks; the first errors, the second parses fine.
	text := "First sentence lives here with Alice. Second sentence mentions Bob instead."
	cfg := DefaultExtractConfig()
	cfg.MaxCharBuffer = 40

	model := NewFakeModel(func(prompt string, call int) (string, error) {
		if strings.Contains(prompt, "Alice") {
			return "", errors.New("provider exploded")
		}
		return `[{"person": "Bob"}]`, nil
	})

	a := newTestAnnotator(model, cfg)
	doc, err := a.Annotate(context.Background(), text, "", testExamples)
	require.NoError(t, err)
	require.Len(t, doc.Extractions, 1)
	assert.Equal(t, "Bob", doc.Extractions[0].Text)

	errs, ok := doc.Metadata["chunk_errors"].([]ChunkError)
	require.True(t, ok)
	require.Len(t, errs, 1)
	assert.Equal(t, "inference", errs[0].Stage)
}

func TestAnnotateAllChunksFailed(t *testing.T) {
	text := "First sentence lives right here. Second sentence follows closely after."
	cfg := DefaultExtractConfig()
	cfg.MaxCharBuffer = 40

	model := NewFakeModel(func(string, int) (string, error) {
		return "", errors.New("unreachable")
	})

	a := newTestAnnotator(model, cfg)
	doc, err := a.Annotate(context.Background(), text, "", testExamples)
	require.NoError(t, err, "best-effort mode never fails the call")
	assert.Empty(t, doc.Extractions)

	errs := doc.Metadata["chunk_errors"].([]ChunkError)
	assert.Equal(t, doc.Metadata["chunk_count"], len(errs))
}

func TestAnnotateParseFailureRecorded(t *testing.T) {
	model := NewScriptedModel("sorry, I cannot help with that")
	a := newTestAnnotator(model, DefaultExtractConfig())

	doc, err := a.Annotate(context.Background(), "some text", "", testExamples)
	require.NoError(t, err)
	assert.Empty(t, doc.Extractions)
	errs := doc.Metadata["chunk_errors"].([]ChunkError)
	require.Len(t, errs, 1)
	assert.Equal(t, "parse", errs[0].Stage)
}

func TestAnnotateCrossChunkDedup(t *testing.T) {
	// Both chunks claim the same person at the same document interval;
	// exactly one survives.
	e1 := Extraction{Class: "person", Text: "Alice", Interval: &CharInterval{StartPos: 3980, EndPos: 3985}, Status: AlignMatchFuzzy, GroupIndex: 2, chunkIndex: 0}
	e2 := Extraction{Class: "person", Text: "Alice", Interval: &CharInterval{StartPos: 3980, EndPos: 3985}, Status: AlignMatchExact, GroupIndex: 0, chunkIndex: 1}

	out := aggregateExtractions([]Extraction{e1, e2})
	require.Len(t, out, 1)
	assert.Equal(t, AlignMatchExact, out[0].Status, "better status wins")
}

func TestAggregateKeepsDistinctClassesOnSameSpan(t *testing.T) {
	iv := CharInterval{StartPos: 0, EndPos: 5}
	a := Extraction{Class: "person", Text: "Alice", Interval: &iv, Status: AlignMatchExact}
	b := Extraction{Class: "name", Text: "Alice", Interval: &iv, Status: AlignMatchExact}

	out := aggregateExtractions([]Extraction{a, b})
	assert.Len(t, out, 2, "no cross-class dedup")
}

func TestAggregateNullIntervalDedupByText(t *testing.T) {
	a := Extraction{Class: "person", Text: " Alice ", Status: AlignMatchNone, GroupIndex: 1}
	b := Extraction{Class: "person", Text: "Alice", Status: AlignMatchNone, GroupIndex: 0}

	out := aggregateExtractions([]Extraction{a, b})
	require.Len(t, out, 1)
	assert.Equal(t, 0, out[0].GroupIndex, "earlier group index wins the tie")
}

func TestAggregateIdempotent(t *testing.T) {
	iv1 := CharInterval{StartPos: 5, EndPos: 10}
	iv2 := CharInterval{StartPos: 20, EndPos: 30}
	in := []Extraction{
		{Class: "a", Text: "one", Interval: &iv1, Status: AlignMatchExact},
		{Class: "b", Text: "two", Interval: &iv2, Status: AlignMatchFuzzy},
		{Class: "c", Text: "three", Status: AlignMatchNone, chunkIndex: 1},
	}
	once := aggregateExtractions(in)
	twice := aggregateExtractions(once)
	assert.Equal(t, once, twice)
}

func TestAnnotateMultipassRecall(t *testing.T) {
	// First pass yields one extraction; the retry pass finds three more.
	text := "alpha beta gamma delta"
	cfg := DefaultExtractConfig()
	cfg.EnableMultipass = true
	cfg.ExtractionPasses = 2
	cfg.MultipassMinExtractions = 3

	var pass int32
	model := NewFakeModel(func(prompt string, call int) (string, error) {
		if atomic.AddInt32(&pass, 1) == 1 {
			return `[{"w": "alpha"}]`, nil
		}
		return `[{"w": "alpha"}, {"w": "beta"}, {"w": "gamma"}, {"w": "delta"}]`, nil
	})

	a := newTestAnnotator(model, cfg)
	doc, err := a.Annotate(context.Background(), text, "", testExamples)
	require.NoError(t, err)
	assert.Equal(t, 2, model.CallCount())
	require.Len(t, doc.Extractions, 4, "first-pass finding plus three new, deduped")
	assert.Equal(t, 2, doc.Metadata["passes"])
}

func TestAnnotateMultipassSkipsSatisfiedChunks(t *testing.T) {
	text := "alpha beta"
	cfg := DefaultExtractConfig()
	cfg.EnableMultipass = true
	cfg.ExtractionPasses = 3
	cfg.MultipassMinExtractions = 1

	model := NewScriptedModel(`[{"w": "alpha"}]`)
	a := newTestAnnotator(model, cfg)
	doc, err := a.Annotate(context.Background(), text, "", testExamples)
	require.NoError(t, err)
	assert.Equal(t, 1, model.CallCount(), "satisfied chunk is not re-submitted")
	assert.Len(t, doc.Extractions, 1)
}

func TestAnnotateMultipassStopsWhenNothingNew(t *testing.T) {
	text := "alpha beta"
	cfg := DefaultExtractConfig()
	cfg.EnableMultipass = true
	cfg.ExtractionPasses = 5
	cfg.MultipassMinExtractions = 3

	// Every pass returns the same single extraction.
	model := NewScriptedModel(`[{"w": "alpha"}]`)
	a := newTestAnnotator(model, cfg)
	_, err := a.Annotate(context.Background(), text, "", testExamples)
	require.NoError(t, err)
	assert.Equal(t, 2, model.CallCount(), "converged after one retry round")
}

func TestAnnotateCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	model := NewScriptedModel(`[{"w": "alpha"}]`)
	a := newTestAnnotator(model, DefaultExtractConfig())
	_, err := a.Annotate(ctx, "alpha beta", "", testExamples)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestAnnotateWaveScheduling(t *testing.T) {
	// Nine sentences with a small buffer produce several chunks; all
	// must be answered across waves.
	var b strings.Builder
	for i := 0; i < 9; i++ {
		b.WriteString("Sentence number ")
		b.WriteString(strings.Repeat("x", 10))
		b.WriteString(" ends here. ")
	}
	cfg := DefaultExtractConfig()
	cfg.MaxCharBuffer = 45
	cfg.BatchLength = 2
	cfg.MaxWorkers = 2

	model := NewScriptedModel(`[{"w": "Sentence"}]`)
	a := newTestAnnotator(model, cfg)
	doc, err := a.Annotate(context.Background(), b.String(), "", testExamples)
	require.NoError(t, err)
	assert.Equal(t, doc.Metadata["chunk_count"], model.CallCount())
}

func TestAnnotateRawSinkSeesUnparseableOutput(t *testing.T) {
	sink := &BufferSink{}
	model := NewScriptedModel("totally unparseable gibberish")
	a := NewAnnotator(model, DefaultExtractConfig(), Options{RawSink: sink})

	_, err := a.Annotate(context.Background(), "some text", "", testExamples)
	require.NoError(t, err)

	records := sink.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "totally unparseable gibberish", records[0].RawResponse)
	assert.NotEmpty(t, records[0].Prompt)
}
