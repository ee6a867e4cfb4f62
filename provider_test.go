package groundex

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeminiModelRequiresClient(t *testing.T) {
	m := NewGeminiModel(nil, "gemini-2.5-flash", nil)
	assert.Equal(t, "gemini/gemini-2.5-flash", m.Name())

	_, err := m.Infer(context.Background(), []string{"p"}, InferenceOptions{})
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestRateLimitedModelPassesThrough(t *testing.T) {
	inner := NewScriptedModel(`[]`)
	m := NewRateLimitedModel(inner, 1000, 10)
	assert.Equal(t, "fake", m.Name())

	outputs, err := m.Infer(context.Background(), []string{"a", "b"}, InferenceOptions{})
	require.NoError(t, err)
	assert.Len(t, outputs, 2)
	assert.Equal(t, 2, inner.CallCount())
}

func TestRateLimitedModelHonorsCancellation(t *testing.T) {
	inner := NewScriptedModel(`[]`)
	// Tiny budget: the second WaitN cannot get a token before the
	// context deadline and returns an error.
	m := NewRateLimitedModel(inner, 0.001, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _ = m.Infer(ctx, []string{"a"}, InferenceOptions{})
	_, err := m.Infer(ctx, []string{"b"}, InferenceOptions{})
	assert.Error(t, err)
}

func TestBreakerModelOpensAfterRepeatedFailures(t *testing.T) {
	boom := errors.New("down")
	inner := NewFakeModel(func(string, int) (string, error) { return "", boom })
	m := NewBreakerModel(inner)

	for i := 0; i < 6; i++ {
		_, err := m.Infer(context.Background(), []string{"p"}, InferenceOptions{})
		require.Error(t, err)
	}
	// The breaker is now open: the inner model stops being called.
	before := inner.CallCount()
	_, err := m.Infer(context.Background(), []string{"p"}, InferenceOptions{})
	require.Error(t, err)
	assert.Equal(t, before, inner.CallCount())
}

func TestRetryableBacksOffThenSucceeds(t *testing.T) {
	attempts := 0
	err := retryable(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("flaky")
		}
		return nil
	}, 3, time.Millisecond, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryableGivesUp(t *testing.T) {
	boom := errors.New("always")
	err := retryable(context.Background(), func() error { return boom }, 2, time.Millisecond, nil)
	assert.ErrorIs(t, err, boom)
}
