package groundex

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// PipelineStep is one named node of an extraction DAG. A step without
// dependencies consumes the original input; otherwise it consumes the
// filtered extraction texts of its dependencies.
type PipelineStep struct {
	ID          string        `yaml:"id"`
	Prompt      string        `yaml:"prompt"`
	Examples    []ExampleData `yaml:"examples"`
	DependsOn   []string      `yaml:"depends_on,omitempty"`
	Filter      *StepFilter   `yaml:"filter,omitempty"`
	OutputField string        `yaml:"output_field,omitempty"`
}

// StepFilter narrows which dependency extractions feed a step's input.
type StepFilter struct {
	// ClassFilter keeps only extractions of this class.
	ClassFilter string `yaml:"class_filter,omitempty"`
	// TextPattern keeps only extractions whose text matches this regex.
	TextPattern string `yaml:"text_pattern,omitempty"`
	// MaxItems truncates the list after this many extractions.
	MaxItems int `yaml:"max_items,omitempty"`

	compileOnce sync.Once
	pattern     *regexp.Regexp
	compileErr  error
}

// Apply filters the extraction list, preserving order.
func (f *StepFilter) Apply(extractions []Extraction) ([]Extraction, error) {
	if f == nil {
		return extractions, nil
	}
	if f.TextPattern != "" {
		f.compileOnce.Do(func() {
			f.pattern, f.compileErr = regexp.Compile(f.TextPattern)
		})
		if f.compileErr != nil {
			return nil, fmt.Errorf("%w: filter text_pattern: %v", ErrConfiguration, f.compileErr)
		}
	}

	var out []Extraction
	for _, e := range extractions {
		if f.ClassFilter != "" && e.Class != f.ClassFilter {
			continue
		}
		if f.pattern != nil && !f.pattern.MatchString(e.Text) {
			continue
		}
		out = append(out, e)
		if f.MaxItems > 0 && len(out) >= f.MaxItems {
			break
		}
	}
	return out, nil
}

// PipelineConfig describes a whole multi-step extraction run.
type PipelineConfig struct {
	Name                    string         `yaml:"name"`
	EnableParallelExecution bool           `yaml:"enable_parallel_execution"`
	GlobalConfig            ExtractConfig  `yaml:"global_config"`
	Steps                   []PipelineStep `yaml:"steps"`
}

// LoadPipelineConfig reads a YAML pipeline description. Unknown keys
// are rejected rather than silently ignored.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read pipeline config: %v", ErrInput, err)
	}
	return ParsePipelineConfig(data)
}

// ParsePipelineConfig parses YAML pipeline bytes, layering the
// document over the default extraction config.
func ParsePipelineConfig(data []byte) (*PipelineConfig, error) {
	cfg := PipelineConfig{
		EnableParallelExecution: true,
		GlobalConfig:            DefaultExtractConfig(),
	}
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%w: parse pipeline config: %v", ErrConfiguration, err)
	}
	return &cfg, nil
}

func (c *PipelineConfig) validate() error {
	if len(c.Steps) == 0 {
		return fmt.Errorf("%w: pipeline has no steps", ErrConfiguration)
	}
	ids := make(map[string]struct{}, len(c.Steps))
	for _, step := range c.Steps {
		if step.ID == "" {
			return fmt.Errorf("%w: step with empty id", ErrConfiguration)
		}
		if _, dup := ids[step.ID]; dup {
			return fmt.Errorf("%w: duplicate step id %q", ErrConfiguration, step.ID)
		}
		ids[step.ID] = struct{}{}
	}
	for _, step := range c.Steps {
		for _, dep := range step.DependsOn {
			if _, ok := ids[dep]; !ok {
				return fmt.Errorf("%w: step %q depends on unknown step %q", ErrConfiguration, step.ID, dep)
			}
		}
	}
	return c.GlobalConfig.validate()
}

// StepResult is one step's outcome inside a PipelineResult.
type StepResult struct {
	StepID      string             `json:"step_id"`
	OutputField string             `json:"output_field"`
	Document    *AnnotatedDocument `json:"document,omitempty"`
	Err         error              `json:"-"`
	Duration    time.Duration      `json:"duration"`
}

// PipelineResult maps step ids to their outputs in topological order.
type PipelineResult struct {
	Name      string
	Order     []string
	Steps     map[string]*StepResult
	TotalTime time.Duration
}

// Document returns a step's output document, nil when the step failed
// or produced nothing.
func (r *PipelineResult) Document(stepID string) *AnnotatedDocument {
	if res, ok := r.Steps[stepID]; ok {
		return res.Document
	}
	return nil
}

// Errors returns the error of each failed step, keyed by step id.
func (r *PipelineResult) Errors() map[string]error {
	out := make(map[string]error)
	for _, id := range r.Order {
		if res := r.Steps[id]; res != nil && res.Err != nil {
			out[id] = res.Err
		}
	}
	return out
}

// PipelineExecutor runs extraction DAGs: steps are layered with Kahn's
// algorithm, a layer's independent steps run concurrently, and each
// step invokes the single-call annotator with its own prompt and
// examples.
type PipelineExecutor struct {
	model LanguageModel
	opts  Options
	log   *slog.Logger
}

// NewPipelineExecutor builds an executor sharing one model across all
// steps.
func NewPipelineExecutor(model LanguageModel, options ...Option) *PipelineExecutor {
	var opts Options
	for _, apply := range options {
		apply(&opts)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &PipelineExecutor{model: model, opts: opts, log: log}
}

// Execute runs the pipeline over the input text. A cyclic graph fails
// fast; a failed step records its error and downstream steps proceed
// with whatever dependency outputs exist.
func (p *PipelineExecutor) Execute(ctx context.Context, cfg *PipelineConfig, input string) (*PipelineResult, error) {
	if p.model == nil {
		return nil, ErrModelMissing
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	layers, order, err := topoLayers(cfg.Steps)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	result := &PipelineResult{
		Name:  cfg.Name,
		Order: order,
		Steps: make(map[string]*StepResult, len(cfg.Steps)),
	}
	steps := make(map[string]*PipelineStep, len(cfg.Steps))
	for i := range cfg.Steps {
		steps[cfg.Steps[i].ID] = &cfg.Steps[i]
	}

	p.log.Info("pipeline starting",
		"name", cfg.Name,
		"steps", len(cfg.Steps),
		"layers", len(layers),
		"parallel", cfg.EnableParallelExecution,
	)

	for _, layer := range layers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		limit := 1
		if cfg.EnableParallelExecution {
			limit = cfg.GlobalConfig.MaxWorkers
		}
		// Each worker writes only its own slot; result.Steps is merged
		// between layers, so steps read completed outputs without locks.
		slots := make([]*StepResult, len(layer))
		runner := NewLimitedRunner(ctx, limit)
		for i, id := range layer {
			i, step := i, steps[id]
			runner.Go(func() error {
				slots[i] = p.runStep(ctx, cfg, step, input, result)
				return nil
			})
		}
		if err := runner.Wait(); err != nil {
			return nil, err
		}
		for _, res := range slots {
			if res != nil {
				result.Steps[res.StepID] = res
			}
		}
	}

	result.TotalTime = time.Since(started)
	p.log.Info("pipeline complete",
		"name", cfg.Name,
		"total_ms", result.TotalTime.Milliseconds(),
		"failed_steps", len(result.Errors()),
	)
	return result, nil
}

// parentSpan records which dependency extraction contributed a region
// of a step's assembled input.
type parentSpan struct {
	start, end int
	step       string
	class      string
	srcStart   int
	srcEnd     int
	hasSrc     bool
}

// runStep assembles the step's input, annotates it, and links result
// extractions back to the dependency extractions they came from.
func (p *PipelineExecutor) runStep(ctx context.Context, cfg *PipelineConfig, step *PipelineStep, input string, sofar *PipelineResult) *StepResult {
	started := time.Now()
	res := &StepResult{StepID: step.ID, OutputField: step.OutputField}
	if res.OutputField == "" {
		res.OutputField = step.ID
	}
	if len(step.Examples) == 0 {
		res.Err = fmt.Errorf("step %q: %w", step.ID, ErrNoExamples)
		res.Duration = time.Since(started)
		return res
	}

	text, parents, err := p.stepInput(step, input, sofar)
	if err != nil {
		res.Err = err
		res.Duration = time.Since(started)
		p.log.Warn("step input assembly failed", "step", step.ID, "error", err)
		return res
	}

	annotator := NewAnnotator(p.model, cfg.GlobalConfig, p.opts)
	annotator.stepID = step.ID
	doc, err := annotator.Annotate(ctx, text, step.Prompt, step.Examples)
	if err != nil {
		res.Err = err
		res.Duration = time.Since(started)
		p.log.Warn("step failed", "step", step.ID, "error", err)
		return res
	}

	linkParents(doc.Extractions, parents)
	doc.setMeta("step_id", step.ID)
	doc.setMeta("output_field", res.OutputField)

	res.Document = doc
	res.Duration = time.Since(started)
	p.log.Debug("step complete",
		"step", step.ID,
		"extractions", len(doc.Extractions),
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res
}

// stepInput returns the text a step consumes plus the dependency spans
// inside it. Steps without dependencies read the original input.
func (p *PipelineExecutor) stepInput(step *PipelineStep, input string, sofar *PipelineResult) (string, []parentSpan, error) {
	if len(step.DependsOn) == 0 {
		return input, nil, nil
	}

	var b strings.Builder
	var parents []parentSpan
	pos := 0
	for _, dep := range step.DependsOn {
		doc := sofar.Document(dep)
		if doc == nil {
			continue
		}
		kept, err := step.Filter.Apply(doc.Extractions)
		if err != nil {
			return "", nil, err
		}
		for _, e := range kept {
			if b.Len() > 0 {
				b.WriteString("\n")
				pos++
			}
			span := parentSpan{
				start: pos,
				end:   pos + len([]rune(e.Text)),
				step:  dep,
				class: e.Class,
			}
			if e.Interval != nil {
				span.srcStart = e.Interval.StartPos
				span.srcEnd = e.Interval.EndPos
				span.hasSrc = true
			}
			parents = append(parents, span)
			b.WriteString(e.Text)
			pos = span.end
		}
	}
	return b.String(), parents, nil
}

// linkParents attaches parent_step / parent_class to every extraction
// whose interval falls inside a dependency span, and remaps the
// interval from the step's concatenated-input coordinates into
// document coordinates through the parent's own source interval. An
// extraction whose parent was never aligned keeps its step-local
// interval; there is no document anchor to shift it to.
func linkParents(extractions []Extraction, parents []parentSpan) {
	if len(parents) == 0 {
		return
	}
	for i := range extractions {
		iv := extractions[i].Interval
		if iv == nil {
			continue
		}
		for _, span := range parents {
			if iv.StartPos >= span.start && iv.StartPos < span.end {
				extractions[i].SetAttribute("parent_step", span.step)
				extractions[i].SetAttribute("parent_class", span.class)
				if span.hasSrc {
					extractions[i].SetAttribute("parent_start", span.srcStart)
					extractions[i].SetAttribute("parent_end", span.srcEnd)
					start := span.srcStart + (iv.StartPos - span.start)
					extractions[i].Interval = &CharInterval{
						StartPos: start,
						EndPos:   start + iv.Len(),
					}
				}
				break
			}
		}
	}
}

// topoLayers orders steps with Kahn's algorithm and groups them into
// dependency layers: every step in layer N depends only on steps in
// layers < N. A cycle is fatal.
func topoLayers(steps []PipelineStep) ([][]string, []string, error) {
	indegree := make(map[string]int, len(steps))
	dependents := make(map[string][]string, len(steps))
	for _, step := range steps {
		indegree[step.ID] = len(step.DependsOn)
		for _, dep := range step.DependsOn {
			dependents[dep] = append(dependents[dep], step.ID)
		}
	}

	var layers [][]string
	var order []string
	ready := make([]string, 0, len(steps))
	for _, step := range steps {
		if indegree[step.ID] == 0 {
			ready = append(ready, step.ID)
		}
	}

	placed := 0
	for len(ready) > 0 {
		sort.Strings(ready)
		layers = append(layers, ready)
		order = append(order, ready...)
		placed += len(ready)

		var next []string
		for _, id := range ready {
			for _, dependent := range dependents[id] {
				indegree[dependent]--
				if indegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		ready = next
	}

	if placed != len(steps) {
		var stuck []string
		for id, deg := range indegree {
			if deg > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		return nil, nil, fmt.Errorf("%w: involving steps %s", ErrCyclicDependency, strings.Join(stuck, ", "))
	}
	return layers, order, nil
}
