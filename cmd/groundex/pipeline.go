package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/groundex/groundex"
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Multi-step extraction workflows",
}

var pipelineRunCmd = &cobra.Command{
	Use:   "run <config.yaml> <text|->",
	Short: "Execute a pipeline described by a YAML config",
	Long: `Run loads a pipeline config, builds the step DAG, and executes it
over the input. Independent steps run in parallel; a step with
dependencies consumes the filtered extraction texts of its upstream
steps. The per-step annotated documents are printed as JSON in
topological order.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, err := groundex.LoadPipelineConfig(args[0])
		if err != nil {
			return err
		}
		if cfg.GlobalConfig.ModelID == "" {
			cfg.GlobalConfig.ModelID = viper.GetString("model")
		}

		input, err := readInput(args[1])
		if err != nil {
			return err
		}

		model, err := buildModel(ctx, cfg.GlobalConfig.ModelID)
		if err != nil {
			return err
		}
		executor := groundex.NewPipelineExecutor(model,
			groundex.WithLogger(buildLogger(viper.GetBool("debug"))),
		)

		result, err := executor.Execute(ctx, cfg, input)
		if err != nil {
			return err
		}
		return printPipelineResult(cmd, result)
	},
}

func init() {
	pipelineRunCmd.Flags().String("output", "", "write result JSON to this file instead of stdout")

	pipelineCmd.AddCommand(pipelineRunCmd)
	rootCmd.AddCommand(pipelineCmd)
}

// readInput returns the argument as literal pipeline input, or the
// contents of stdin when the argument is "-". File paths and URLs are
// not resolved: PipelineExecutor.Execute consumes the text as given.
func readInput(arg string) (string, error) {
	if arg == "-" {
		data, err := os.ReadFile("/dev/stdin")
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	return arg, nil
}

// printPipelineResult renders per-step documents and timings in
// topological order.
func printPipelineResult(cmd *cobra.Command, result *groundex.PipelineResult) error {
	type stepOut struct {
		StepID      string                      `json:"step_id"`
		OutputField string                      `json:"output_field"`
		DurationMS  int64                       `json:"duration_ms"`
		Error       string                      `json:"error,omitempty"`
		Document    *groundex.AnnotatedDocument `json:"document,omitempty"`
	}
	out := struct {
		Name        string    `json:"name"`
		TotalTimeMS int64     `json:"total_time_ms"`
		Steps       []stepOut `json:"steps"`
	}{
		Name:        result.Name,
		TotalTimeMS: result.TotalTime.Milliseconds(),
	}
	for _, id := range result.Order {
		res := result.Steps[id]
		if res == nil {
			continue
		}
		step := stepOut{
			StepID:      res.StepID,
			OutputField: res.OutputField,
			DurationMS:  res.Duration.Milliseconds(),
			Document:    res.Document,
		}
		if res.Err != nil {
			step.Error = res.Err.Error()
		}
		out.Steps = append(out.Steps, step)
	}

	data, err := json.MarshalIndent(out, "", "  ")
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
