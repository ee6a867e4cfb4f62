package groundex

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// Extract is the library entry point: resolve the input, annotate it,
// validate the result. textOrURL may be literal text, an existing file
// path, or an http(s) URL. The returned document carries non-fatal
// chunk errors and validation warnings in its metadata; StrictMode
// promotes chunk errors to a fatal error.
func Extract(ctx context.Context, textOrURL, promptDescription string, examples []ExampleData, cfg ExtractConfig, options ...Option) (*AnnotatedDocument, error) {
	var opts Options
	for _, apply := range options {
		apply(&opts)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if len(examples) == 0 {
		return nil, ErrNoExamples
	}
	if opts.Model == nil {
		return nil, ErrModelMissing
	}
	if opts.Logger == nil {
		level := slog.LevelInfo
		if cfg.Debug {
			level = slog.LevelDebug
		}
		opts.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}

	if opts.RawSink == nil && cfg.Validation != nil && cfg.Validation.SaveRawOutput {
		if cfg.Validation.RawOutputDir == "" {
			return nil, fmt.Errorf("%w: save_raw_output set without raw_output_dir", ErrConfiguration)
		}
		sink, err := NewDirSink(cfg.Validation.RawOutputDir)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		opts.RawSink = sink
	}

	text, err := resolveInput(ctx, textOrURL, opts.HTTPClient)
	if err != nil {
		return nil, err
	}

	annotator := NewAnnotator(opts.Model, cfg, opts)
	doc, err := annotator.Annotate(ctx, text, promptDescription, examples)
	if err != nil {
		return nil, err
	}

	if cfg.Validation != nil {
		validator := NewValidator(cfg.Validation, opts.Logger)
		warnings := validator.Validate(doc.Extractions)
		if len(warnings) > 0 {
			doc.setMeta("validation_warnings", warnings)
		}
	}

	if cfg.StrictMode {
		if errs, ok := doc.Metadata["chunk_errors"].([]ChunkError); ok && len(errs) > 0 {
			if count, ok := doc.Metadata["chunk_count"].(int); ok && len(errs) == count {
				return nil, fmt.Errorf("%w: %d of %d chunks", ErrAllChunksFailed, len(errs), count)
			}
			return nil, fmt.Errorf("%w: %d chunk errors in strict mode", ErrInference, len(errs))
		}
	}

	return doc, nil
}
