package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/genai"

	"github.com/groundex/groundex"
)

var extractCmd = &cobra.Command{
	Use:   "extract [text|file|url]",
	Short: "Run a single grounded extraction",
	Long: `Extract runs the single-call flow over one input: chunk, infer,
resolve, align, aggregate. The input may be literal text, a path to a
local file, or an http(s) URL. Few-shot examples defining the
extraction classes are required and come from a JSON file.

The result is the annotated document as JSON on stdout (or --output).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		examplesPath, _ := cmd.Flags().GetString("examples")
		if examplesPath == "" {
			return fmt.Errorf("--examples is required")
		}
		examples, err := loadExamples(examplesPath)
		if err != nil {
			return err
		}

		cfg := groundex.DefaultExtractConfig()
		cfg.ModelID = viper.GetString("model")
		cfg.Debug = viper.GetBool("debug")
		cfg.MaxCharBuffer, _ = cmd.Flags().GetInt("max-char-buffer")
		cfg.MaxWorkers, _ = cmd.Flags().GetInt("workers")
		cfg.BatchLength, _ = cmd.Flags().GetInt("batch-length")
		cfg.Temperature, _ = cmd.Flags().GetFloat64("temperature")
		cfg.ExtractionPasses, _ = cmd.Flags().GetInt("passes")
		cfg.EnableMultipass = cfg.ExtractionPasses > 1
		cfg.StrictMode, _ = cmd.Flags().GetBool("strict")

		if format, _ := cmd.Flags().GetString("format"); format != "" {
			cfg.FormatType, err = groundex.ParseFormatType(format)
			if err != nil {
				return err
			}
		}
		if coerce, _ := cmd.Flags().GetBool("coerce"); coerce {
			cfg.Validation = groundex.DefaultValidationConfig()
		}
		if rawDir, _ := cmd.Flags().GetString("raw-output-dir"); rawDir != "" {
			if cfg.Validation == nil {
				cfg.Validation = groundex.DefaultValidationConfig()
			}
			cfg.Validation.SaveRawOutput = true
			cfg.Validation.RawOutputDir = rawDir
		}

		model, err := buildModel(ctx, cfg.ModelID)
		if err != nil {
			return err
		}
		prompt, _ := cmd.Flags().GetString("prompt")

		doc, err := groundex.Extract(ctx, args[0], prompt, examples, cfg,
			groundex.WithModel(model),
			groundex.WithLogger(buildLogger(cfg.Debug)),
		)
		if err != nil {
			return err
		}
		return writeJSON(cmd, doc)
	},
}

func init() {
	extractCmd.Flags().String("prompt", "", "natural-language task description")
	extractCmd.Flags().String("examples", "", "JSON file with few-shot examples (required)")
	extractCmd.Flags().String("format", "json", "model output format: json or yaml")
	extractCmd.Flags().String("output", "", "write result JSON to this file instead of stdout")
	extractCmd.Flags().Int("max-char-buffer", 1000, "chunk size target in characters")
	extractCmd.Flags().Int("workers", 10, "concurrent inferences")
	extractCmd.Flags().Int("batch-length", 10, "chunks per scheduling wave")
	extractCmd.Flags().Float64("temperature", 0.5, "sampling temperature")
	extractCmd.Flags().Int("passes", 1, "extraction passes (>1 enables multipass)")
	extractCmd.Flags().Bool("coerce", false, "enable schema validation and type coercion")
	extractCmd.Flags().Bool("strict", false, "promote chunk errors to a fatal error")
	extractCmd.Flags().String("raw-output-dir", "", "save raw model outputs to this directory")

	rootCmd.AddCommand(extractCmd)
}

// buildModel constructs the Gemini-backed language model.
func buildModel(ctx context.Context, modelID string) (groundex.LanguageModel, error) {
	key := apiKey()
	if key == "" {
		return nil, fmt.Errorf("no API key: set --api-key, GROUNDEX_API_KEY, or GEMINI_API_KEY")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Backend: genai.BackendGeminiAPI,
		APIKey:  key,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return groundex.NewBreakerModel(groundex.NewGeminiModel(client, modelID, nil)), nil
}

func buildLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// loadExamples reads few-shot examples from a JSON file holding either
// a list of examples or {"examples": [...]}.
func loadExamples(path string) ([]groundex.ExampleData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read examples: %w", err)
	}
	var examples []groundex.ExampleData
	if err := json.Unmarshal(data, &examples); err == nil {
		return examples, nil
	}
	var wrapper struct {
		Examples []groundex.ExampleData `json:"examples"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("parse examples %s: %w", path, err)
	}
	return wrapper.Examples, nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if path, _ := cmd.Flags().GetString("output"); path != "" {
		return os.WriteFile(path, data, 0o644)
	}
	_, err = os.Stdout.Write(data)
	return err
}
