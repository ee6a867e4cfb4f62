package groundex

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// Annotator drives the single-call extraction flow: chunk the text,
// prompt the model per chunk with bounded concurrency, resolve and
// align each chunk's output, then aggregate into one ordered,
// deduplicated extraction list.
type Annotator struct {
	model    LanguageModel
	cfg      ExtractConfig
	chunker  *Chunker
	prompts  *PromptBuilder
	resolver *Resolver
	aligner  *Aligner
	rawSink  RawSink
	metrics  *Metrics
	log      *slog.Logger

	// stepID labels raw-output records when running inside a pipeline.
	stepID string

	newRunner func(ctx context.Context, limit int) Runner
}

// NewAnnotator assembles an annotator from a model and configuration.
func NewAnnotator(model LanguageModel, cfg ExtractConfig, opts Options) *Annotator {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	sink := opts.RawSink
	if sink == nil {
		sink = DiscardSink{}
	}
	newRunner := NewLimitedRunner
	if opts.Runner != nil {
		newRunner = func(context.Context, int) Runner { return opts.Runner }
	}
	return &Annotator{
		model:     model,
		cfg:       cfg,
		chunker:   NewChunker(cfg.MaxCharBuffer),
		prompts:   NewPromptBuilder(opts.PromptTemplate, log),
		resolver:  NewResolver(cfg.FormatType, log),
		aligner:   NewAligner(cfg.Alignment),
		rawSink:   sink,
		metrics:   opts.Metrics,
		log:       log,
		newRunner: newRunner,
	}
}

// chunkResult carries one chunk's outcome from a worker goroutine to
// the coordinator.
type chunkResult struct {
	chunk       Chunk
	extractions []Extraction
	err         *ChunkError
}

// Annotate runs the full single-call flow over text. Per-chunk
// failures are recorded in document metadata and never fail the call;
// cancellation does.
func (a *Annotator) Annotate(ctx context.Context, text, description string, examples []ExampleData) (*AnnotatedDocument, error) {
	doc := NewDocument(text)
	chunks := a.chunker.Chunk(text)
	a.log.Debug("annotating document",
		"document_id", doc.ID(),
		"chars", len([]rune(text)),
		"chunks", len(chunks),
	)

	out := &AnnotatedDocument{Text: text, DocumentID: doc.ID()}
	if len(chunks) == 0 {
		out.Extractions = []Extraction{}
		a.finishMetadata(out, nil, 1)
		out.setMeta("chunk_count", 0)
		return out, nil
	}

	byChunk := make(map[int][]Extraction, len(chunks))
	var chunkErrors []ChunkError

	results, err := a.runPass(ctx, chunks, description, examples, a.cfg.Temperature)
	if err != nil {
		return nil, err
	}
	passes := 1
	a.metrics.observePass()
	for _, res := range results {
		if res.err != nil {
			chunkErrors = append(chunkErrors, *res.err)
			continue
		}
		byChunk[res.chunk.Index] = res.extractions
	}

	if a.cfg.EnableMultipass {
		more, extraPasses, err := a.multipass(ctx, chunks, description, examples, byChunk)
		if err != nil {
			return nil, err
		}
		passes += extraPasses
		for idx, exts := range more {
			byChunk[idx] = append(byChunk[idx], exts...)
		}
	}

	var all []Extraction
	for _, chunk := range chunks {
		all = append(all, byChunk[chunk.Index]...)
	}
	out.Extractions = aggregateExtractions(all)
	if out.Extractions == nil {
		out.Extractions = []Extraction{}
	}
	for _, e := range out.Extractions {
		a.metrics.observeExtraction(e)
	}
	a.metrics.observeDocument()

	a.finishMetadata(out, chunkErrors, passes)
	out.setMeta("chunk_count", len(chunks))
	a.log.Info("annotation complete",
		"document_id", out.DocumentID,
		"extractions", len(out.Extractions),
		"chunk_errors", len(chunkErrors),
		"passes", passes,
	)
	return out, nil
}

func (a *Annotator) finishMetadata(doc *AnnotatedDocument, chunkErrors []ChunkError, passes int) {
	doc.setMeta("chunk_errors", chunkErrors)
	doc.setMeta("alignment_stats", a.aligner.Stats(doc.Extractions))
	doc.setMeta("passes", passes)
}

// runPass schedules one pass over the given chunks: waves of
// BatchLength, at most MaxWorkers concurrent inferences inside a wave,
// and a single coordinator goroutine owning the result buffer. Worker
// errors become per-chunk results; only cancellation is returned.
func (a *Annotator) runPass(ctx context.Context, chunks []Chunk, description string, examples []ExampleData, temperature float64) ([]chunkResult, error) {
	var collected []chunkResult

	for waveStart := 0; waveStart < len(chunks); waveStart += a.cfg.BatchLength {
		if err := ctx.Err(); err != nil {
			a.log.Debug("annotation cancelled between waves", "completed", len(collected))
			return nil, err
		}

		wave := chunks[waveStart:min(waveStart+a.cfg.BatchLength, len(chunks))]
		results := make(chan chunkResult, len(wave))
		done := make(chan struct{})
		go func() {
			defer close(done)
			for res := range results {
				collected = append(collected, res)
			}
		}()

		runner := a.newRunner(ctx, a.cfg.MaxWorkers)
		for _, chunk := range wave {
			chunk := chunk
			runner.Go(func() error {
				res := a.processChunk(ctx, chunk, description, examples, temperature)
				select {
				case results <- res:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})
		}
		err := runner.Wait()
		close(results)
		<-done
		if err != nil {
			return nil, err
		}
	}

	return collected, nil
}

// processChunk runs prompt → infer → raw save → resolve → align for a
// single chunk. Every failure is reported as a chunk-level result.
func (a *Annotator) processChunk(ctx context.Context, chunk Chunk, description string, examples []ExampleData, temperature float64) chunkResult {
	started := time.Now()

	prompt, err := a.prompts.Build(description, examples, a.cfg.FormatType, chunk.Content, a.cfg.AdditionalContext)
	if err != nil {
		a.metrics.observeChunk("prompt_error", time.Since(started))
		return chunkResult{chunk: chunk, err: &ChunkError{
			ChunkIndex: chunk.Index, Stage: "prompt", Message: err.Error(),
		}}
	}

	outputs, err := a.model.Infer(ctx, []string{prompt}, InferenceOptions{
		Temperature: temperature,
		Format:      a.cfg.FormatType,
	})
	if err != nil {
		a.log.Debug("chunk inference failed", "chunk", chunk.Index, "error", err)
		a.metrics.observeChunk("inference_error", time.Since(started))
		return chunkResult{chunk: chunk, err: &ChunkError{
			ChunkIndex: chunk.Index, Stage: "inference", Message: err.Error(),
		}}
	}
	if len(outputs) == 0 || outputs[0] == nil {
		a.metrics.observeChunk("inference_error", time.Since(started))
		return chunkResult{chunk: chunk, err: &ChunkError{
			ChunkIndex: chunk.Index, Stage: "inference", Message: "no output returned",
		}}
	}
	raw := outputs[0].Text

	if err := a.rawSink.Save(RawRecord{
		Prompt:      prompt,
		RawResponse: raw,
		StepID:      a.stepID,
		ChunkIndex:  chunk.Index,
	}); err != nil {
		a.log.Warn("raw output save failed", "chunk", chunk.Index, "error", err)
	}

	extractions, err := a.resolver.Resolve(raw)
	if err != nil {
		a.log.Debug("chunk parse failed", "chunk", chunk.Index, "error", err)
		a.metrics.observeChunk("parse_error", time.Since(started))
		return chunkResult{chunk: chunk, err: &ChunkError{
			ChunkIndex: chunk.Index, Stage: "parse", Message: err.Error(),
		}}
	}

	a.aligner.AlignExtractions(extractions, chunk.Content, chunk.Offset)
	for i := range extractions {
		extractions[i].chunkIndex = chunk.Index
	}

	a.metrics.observeChunk("ok", time.Since(started))
	return chunkResult{chunk: chunk, extractions: extractions}
}

// multipass re-submits chunks whose extraction count is below the
// configured minimum, bumping the temperature each round, and stops
// early when a round yields nothing new.
func (a *Annotator) multipass(ctx context.Context, chunks []Chunk, description string, examples []ExampleData, byChunk map[int][]Extraction) (map[int][]Extraction, int, error) {
	added := make(map[int][]Extraction)
	counts := make(map[int]int, len(chunks))
	for idx, exts := range byChunk {
		counts[idx] = len(exts)
	}

	temperature := a.cfg.Temperature
	passes := 0
	for pass := 2; pass <= a.cfg.ExtractionPasses; pass++ {
		var retry []Chunk
		for _, chunk := range chunks {
			if counts[chunk.Index] < a.cfg.MultipassMinExtractions {
				retry = append(retry, chunk)
			}
		}
		if len(retry) == 0 {
			break
		}

		temperature = min(temperature+0.2, 1.0)
		a.log.Debug("multipass round", "pass", pass, "chunks", len(retry), "temperature", temperature)

		results, err := a.runPass(ctx, retry, description, examples, temperature)
		if err != nil {
			return nil, passes, err
		}
		passes++
		a.metrics.observePass()

		newFound := 0
		for _, res := range results {
			if res.err != nil {
				continue
			}
			fresh := a.filterMultipassQuality(res.extractions)
			fresh = newExtractionsOnly(fresh, byChunk[res.chunk.Index], added[res.chunk.Index])
			if len(fresh) == 0 {
				continue
			}
			added[res.chunk.Index] = append(added[res.chunk.Index], fresh...)
			counts[res.chunk.Index] += len(fresh)
			newFound += len(fresh)
		}
		if newFound == 0 {
			a.log.Debug("multipass converged", "pass", pass)
			break
		}
	}

	return added, passes, nil
}

// filterMultipassQuality drops a multipass round's findings for a
// chunk when too few of them could be anchored in the source; higher
// temperatures hallucinate more.
func (a *Annotator) filterMultipassQuality(extractions []Extraction) []Extraction {
	if a.cfg.MultipassQualityThreshold <= 0 || len(extractions) == 0 {
		return extractions
	}
	aligned := 0
	for _, e := range extractions {
		if e.Interval != nil {
			aligned++
		}
	}
	if float64(aligned)/float64(len(extractions)) < a.cfg.MultipassQualityThreshold {
		return nil
	}
	return extractions
}

// newExtractionsOnly keeps multipass findings not already present in
// the chunk's prior results, by the dedup identity.
func newExtractionsOnly(fresh []Extraction, prior ...[]Extraction) []Extraction {
	var out []Extraction
	for _, e := range fresh {
		dup := false
		for _, batch := range prior {
			for _, p := range batch {
				if sameExtraction(e, p) {
					dup = true
					break
				}
			}
			if dup {
				break
			}
		}
		if !dup {
			out = append(out, e)
		}
	}
	return out
}

// sameExtraction is the dedup identity: same class and same non-nil
// interval, or same class, identical trimmed text, and both intervals
// nil.
func sameExtraction(a, b Extraction) bool {
	if a.Class != b.Class {
		return false
	}
	if a.Interval != nil && b.Interval != nil {
		return *a.Interval == *b.Interval
	}
	if a.Interval == nil && b.Interval == nil {
		return strings.TrimSpace(a.Text) == strings.TrimSpace(b.Text)
	}
	return false
}

// aggregateExtractions orders extractions into document reading order
// and removes duplicates. Aligned extractions sort by interval start;
// unaligned ones follow in (chunk, group) order. Of two duplicates the
// one with the better alignment status survives, ties broken by the
// earlier group index. The operation is idempotent.
func aggregateExtractions(extractions []Extraction) []Extraction {
	sorted := make([]Extraction, len(extractions))
	copy(sorted, extractions)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		switch {
		case a.Interval != nil && b.Interval != nil:
			if a.Interval.StartPos != b.Interval.StartPos {
				return a.Interval.StartPos < b.Interval.StartPos
			}
			return a.Interval.EndPos < b.Interval.EndPos
		case a.Interval != nil:
			return true
		case b.Interval != nil:
			return false
		default:
			if a.chunkIndex != b.chunkIndex {
				return a.chunkIndex < b.chunkIndex
			}
			return a.GroupIndex < b.GroupIndex
		}
	})

	var out []Extraction
	for _, e := range sorted {
		dup := false
		for i := range out {
			if !sameExtraction(out[i], e) {
				continue
			}
			dup = true
			if e.Status.rank() < out[i].Status.rank() ||
				(e.Status.rank() == out[i].Status.rank() && e.GroupIndex < out[i].GroupIndex) {
				out[i] = e
			}
			break
		}
		if !dup {
			out = append(out, e)
		}
	}
	return out
}
