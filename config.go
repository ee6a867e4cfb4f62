package groundex

import (
	"fmt"
	"log/slog"
	"net/http"
)

// ExtractConfig controls a single extraction call.
type ExtractConfig struct {
	// ModelID names the model for whoever builds the LanguageModel, e.g.
	// "gemini-2.5-flash"; the CLI passes it to the Gemini adapter. The
	// library does not read it: Extract always uses the model injected
	// via WithModel.
	ModelID string `yaml:"model_id"`
	// FormatType is the structured output format requested from the
	// model.
	FormatType FormatType `yaml:"format_type"`
	// MaxCharBuffer is the chunk size target in characters.
	MaxCharBuffer int `yaml:"max_char_buffer"`
	// BatchLength is the number of chunks scheduled per wave.
	BatchLength int `yaml:"batch_length"`
	// MaxWorkers bounds concurrent inferences within a wave.
	MaxWorkers int `yaml:"max_workers"`
	// Temperature is the sampling temperature for the first pass.
	Temperature float64 `yaml:"temperature"`
	// ExtractionPasses caps the total number of passes, the first pass
	// included; multipass runs at most ExtractionPasses-1 retry rounds.
	ExtractionPasses int `yaml:"extraction_passes"`
	// EnableMultipass re-submits low-yield chunks after the first pass.
	EnableMultipass bool `yaml:"enable_multipass"`
	// MultipassMinExtractions is the per-chunk extraction count below
	// which a chunk is re-processed.
	MultipassMinExtractions int `yaml:"multipass_min_extractions"`
	// MultipassQualityThreshold filters low-quality multipass findings.
	MultipassQualityThreshold float64 `yaml:"multipass_quality_threshold"`
	// AdditionalContext is appended to the prompt description.
	AdditionalContext string `yaml:"additional_context,omitempty"`
	// Debug raises log verbosity.
	Debug bool `yaml:"debug"`
	// StrictMode promotes any chunk error to a fatal error
	// (ErrAllChunksFailed when every chunk errored).
	StrictMode bool `yaml:"strict_mode"`

	// Alignment configures the character aligner.
	Alignment AlignmentConfig `yaml:"alignment"`
	// Validation, when non-nil, enables the validator/coercer stage.
	Validation *ValidationConfig `yaml:"validation,omitempty"`
}

// DefaultExtractConfig mirrors the documented defaults.
func DefaultExtractConfig() ExtractConfig {
	return ExtractConfig{
		ModelID:                   "gemini-2.5-flash",
		FormatType:                FormatJSON,
		MaxCharBuffer:             1000,
		BatchLength:               10,
		MaxWorkers:                10,
		Temperature:               0.5,
		ExtractionPasses:          1,
		MultipassMinExtractions:   1,
		MultipassQualityThreshold: 0.3,
		Alignment:                 DefaultAlignmentConfig(),
	}
}

func (c ExtractConfig) validate() error {
	if c.MaxWorkers < 1 {
		return fmt.Errorf("%w: max_workers must be >= 1, got %d", ErrConfiguration, c.MaxWorkers)
	}
	if c.BatchLength < 1 {
		return fmt.Errorf("%w: batch_length must be >= 1, got %d", ErrConfiguration, c.BatchLength)
	}
	if c.MaxCharBuffer < 1 {
		return fmt.Errorf("%w: max_char_buffer must be >= 1, got %d", ErrConfiguration, c.MaxCharBuffer)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: temperature %v out of range", ErrConfiguration, c.Temperature)
	}
	if c.FormatType != FormatJSON && c.FormatType != FormatYAML {
		return fmt.Errorf("%w: format type %q", ErrConfiguration, c.FormatType)
	}
	if c.EnableMultipass && c.ExtractionPasses < 1 {
		return fmt.Errorf("%w: extraction_passes must be >= 1 when multipass is enabled", ErrConfiguration)
	}
	return nil
}

// AlignmentConfig controls the character aligner.
type AlignmentConfig struct {
	// EnableFuzzy turns on sliding-window similarity search after
	// exact matching fails.
	EnableFuzzy bool `yaml:"enable_fuzzy"`
	// FuzzyThreshold is the minimum similarity for a fuzzy match.
	FuzzyThreshold float64 `yaml:"fuzzy_threshold"`
	// AcceptMatchLesser allows partial first/last-word anchoring.
	AcceptMatchLesser bool `yaml:"accept_match_lesser"`
	// CaseSensitive disables the case-folded exact pass.
	CaseSensitive bool `yaml:"case_sensitive"`
	// MaxSearchWindow caps the fuzzy window size in words.
	MaxSearchWindow int `yaml:"max_search_window"`
}

// DefaultAlignmentConfig returns the tuning the aligner ships with.
func DefaultAlignmentConfig() AlignmentConfig {
	return AlignmentConfig{
		EnableFuzzy:       true,
		FuzzyThreshold:    0.4,
		AcceptMatchLesser: true,
		CaseSensitive:     false,
		MaxSearchWindow:   100,
	}
}

// ValidationConfig controls the validator/coercer stage.
type ValidationConfig struct {
	EnableSchemaValidation bool `yaml:"enable_schema_validation"`
	EnableTypeCoercion     bool `yaml:"enable_type_coercion"`
	ValidateRequiredFields bool `yaml:"validate_required_fields"`
	// SaveRawOutput writes each chunk's raw model body through the raw
	// sink before parsing.
	SaveRawOutput bool   `yaml:"save_raw_output"`
	RawOutputDir  string `yaml:"raw_output_dir"`
	// RequiredClasses that are absent from the output produce warnings.
	RequiredClasses []string `yaml:"required_classes,omitempty"`
	// MinExtractionTextLength / MaxExtractionTextLength bound accepted
	// extraction text; zero max means unbounded.
	MinExtractionTextLength int `yaml:"min_extraction_text_length"`
	MaxExtractionTextLength int `yaml:"max_extraction_text_length"`
}

// DefaultValidationConfig enables schema checks and coercion without
// raw-output persistence.
func DefaultValidationConfig() *ValidationConfig {
	return &ValidationConfig{
		EnableSchemaValidation:  true,
		EnableTypeCoercion:      true,
		MaxExtractionTextLength: 1000,
	}
}

// Options carries per-call collaborators resolved by Extract.
type Options struct {
	Model   LanguageModel
	Runner  Runner
	Logger  *slog.Logger
	RawSink RawSink
	Metrics *Metrics
	// HTTPClient is used for URL inputs; nil means http.DefaultClient.
	HTTPClient *http.Client
	// PromptTemplate overrides the built-in extraction template.
	PromptTemplate string
}

// Option mutates the per-call Options.
type Option func(*Options)

// WithModel injects the language model used for inference.
func WithModel(m LanguageModel) Option {
	return func(o *Options) { o.Model = m }
}

// WithRunner supplies a custom concurrency runner.
func WithRunner(r Runner) Option {
	return func(o *Options) { o.Runner = r }
}

// WithLogger lets the caller supply their own logger.
func WithLogger(log *slog.Logger) Option {
	return func(o *Options) { o.Logger = log }
}

// WithRawSink injects the raw model output sink.
func WithRawSink(s RawSink) Option {
	return func(o *Options) { o.RawSink = s }
}

// WithMetrics attaches prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(o *Options) { o.Metrics = m }
}

// WithHTTPClient overrides the client used to fetch URL inputs.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Options) { o.HTTPClient = c }
}

// WithPromptTemplate overrides the built-in stick template used to
// render chunk prompts.
func WithPromptTemplate(tpl string) Option {
	return func(o *Options) { o.PromptTemplate = tpl }
}
