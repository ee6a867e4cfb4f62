// Package groundex turns unstructured text into structured, grounded
// extractions by orchestrating a language model over arbitrarily large
// documents. Extraction classes are defined entirely by caller-supplied
// few-shot examples; every extraction is anchored, when possible, to a
// precise character interval in the original source.
//
// A single call flows through four subsystems:
//
//   - Chunker: segments the document at sentence boundaries while
//     preserving absolute character offsets.
//   - Annotator: drives chunk → prompt → inference with bounded
//     concurrency, batch waves, and per-chunk failure isolation,
//     optionally re-running low-yield chunks (multipass).
//   - Resolver + Aligner: parses model output (JSON or YAML, fenced or
//     embedded) into typed extractions and maps each back to a
//     character interval using exact then fuzzy matching.
//   - Validator/Coercer: optional schema checks and regex-driven type
//     coercion that attaches typed values without touching the text.
//
// Multi-step workflows compose single calls through PipelineExecutor,
// a DAG engine that layers named steps with Kahn's algorithm, runs
// independent steps in parallel, and feeds earlier outputs into later
// steps' inputs.
//
// # Basic usage
//
//	examples := []groundex.ExampleData{
//		groundex.NewExample("Jane Roe is 25 and teaches math.",
//			groundex.NewExtraction("person", "Jane Roe"),
//			groundex.NewExtraction("age", "25"),
//			groundex.NewExtraction("profession", "teaches math"),
//		),
//	}
//
//	doc, err := groundex.Extract(ctx,
//		"John Doe is 30 years old and works as a doctor.",
//		"Extract people with their ages and professions.",
//		examples,
//		groundex.DefaultExtractConfig(),
//		groundex.WithModel(model),
//	)
//
// The model is any LanguageModel implementation; NewGeminiModel adapts
// the Google GenAI client, and the RateLimitedModel and BreakerModel
// decorators add pacing and circuit breaking around any provider.
package groundex
