package groundex

import (
	"context"
	"sync"
	"time"
)

// FakeModel is a scriptable LanguageModel for tests. Respond receives
// each prompt plus a zero-based call counter and returns the raw model
// body. A nil Respond answers every prompt with an empty JSON list.
type FakeModel struct {
	Respond func(prompt string, call int) (string, error)
	// Delay simulates inference latency per prompt.
	Delay time.Duration

	mu    sync.Mutex
	calls []string
}

// NewFakeModel builds a fake answering via fn.
func NewFakeModel(fn func(prompt string, call int) (string, error)) *FakeModel {
	return &FakeModel{Respond: fn}
}

// NewScriptedModel builds a fake that returns the given responses in
// call order, repeating the last one once the script runs out.
func NewScriptedModel(responses ...string) *FakeModel {
	return NewFakeModel(func(_ string, call int) (string, error) {
		if len(responses) == 0 {
			return "[]", nil
		}
		if call >= len(responses) {
			return responses[len(responses)-1], nil
		}
		return responses[call], nil
	})
}

func (f *FakeModel) Name() string { return "fake" }

func (f *FakeModel) Infer(ctx context.Context, prompts []string, _ InferenceOptions) ([]*ScoredOutput, error) {
	outputs := make([]*ScoredOutput, 0, len(prompts))
	for _, prompt := range prompts {
		if f.Delay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(f.Delay):
			}
		}

		f.mu.Lock()
		call := len(f.calls)
		f.calls = append(f.calls, prompt)
		f.mu.Unlock()

		body := "[]"
		if f.Respond != nil {
			var err error
			body, err = f.Respond(prompt, call)
			if err != nil {
				return nil, err
			}
		}
		outputs = append(outputs, &ScoredOutput{Text: body})
	}
	return outputs, nil
}

// Calls returns every prompt seen so far, in arrival order.
func (f *FakeModel) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallCount returns how many prompts the fake has served.
func (f *FakeModel) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}
