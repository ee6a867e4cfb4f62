package groundex

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveListOfSingleKeyObjects(t *testing.T) {
	r := NewResolver(FormatJSON, nil)
	exts, err := r.Resolve(`[{"person": "John Doe"}, {"age": "30"}]`)
	require.NoError(t, err)
	require.Len(t, exts, 2)
	assert.Equal(t, "person", exts[0].Class)
	assert.Equal(t, "John Doe", exts[0].Text)
	assert.Equal(t, 0, exts[0].GroupIndex)
	assert.Equal(t, "age", exts[1].Class)
	assert.Equal(t, "30", exts[1].Text)
	assert.Equal(t, 1, exts[1].GroupIndex)
}

func TestResolveWrapperObjects(t *testing.T) {
	r := NewResolver(FormatJSON, nil)
	for _, wrapper := range []string{"extractions", "data", "results"} {
		body := `{"` + wrapper + `": [{"person": "Ada"}]}`
		exts, err := r.Resolve(body)
		require.NoError(t, err, wrapper)
		require.Len(t, exts, 1, wrapper)
		assert.Equal(t, "person", exts[0].Class)
		assert.Equal(t, "Ada", exts[0].Text)
	}
}

func TestResolveClassWithMultipleValues(t *testing.T) {
	r := NewResolver(FormatJSON, nil)
	exts, err := r.Resolve(`{"person": ["Ada", "Grace"]}`)
	require.NoError(t, err)
	require.Len(t, exts, 2)
	assert.Equal(t, "Ada", exts[0].Text)
	assert.Equal(t, "Grace", exts[1].Text)
	assert.Equal(t, []int{0, 1}, []int{exts[0].GroupIndex, exts[1].GroupIndex})
}

func TestResolveExtractionWithAttributes(t *testing.T) {
	r := NewResolver(FormatJSON, nil)
	exts, err := r.Resolve(`[{"price": {"text": "$10", "attributes": {"unit": "USD"}}}]`)
	require.NoError(t, err)
	require.Len(t, exts, 1)
	assert.Equal(t, "price", exts[0].Class)
	assert.Equal(t, "$10", exts[0].Text)
	unit, ok := exts[0].Attribute("unit")
	require.True(t, ok)
	assert.Equal(t, "USD", unit)
}

func TestResolveFencedJSON(t *testing.T) {
	r := NewResolver(FormatJSON, nil)
	raw := "```json\n[{\"person\": \"Ada\"}]\n```"
	exts, err := r.Resolve(raw)
	require.NoError(t, err)
	require.Len(t, exts, 1)
	assert.Equal(t, "Ada", exts[0].Text)
}

func TestResolveEmbeddedJSON(t *testing.T) {
	r := NewResolver(FormatJSON, nil)
	raw := `Sure, here are the extractions you asked for: [{"person": "Ada"}] and that is all.`
	exts, err := r.Resolve(raw)
	require.NoError(t, err)
	require.Len(t, exts, 1)
	assert.Equal(t, "person", exts[0].Class)
}

func TestResolveYAMLFallback(t *testing.T) {
	r := NewResolver(FormatYAML, nil)
	raw := "- person: Ada Lovelace\n- profession: mathematician\n"
	exts, err := r.Resolve(raw)
	require.NoError(t, err)
	require.Len(t, exts, 2)
	assert.Equal(t, "Ada Lovelace", exts[0].Text)
	assert.Equal(t, "mathematician", exts[1].Text)
}

func TestResolveNumbersKeepSurfaceForm(t *testing.T) {
	r := NewResolver(FormatJSON, nil)
	exts, err := r.Resolve(`[{"age": 30}, {"score": 3.14}]`)
	require.NoError(t, err)
	require.Len(t, exts, 2)
	assert.Equal(t, "30", exts[0].Text)
	assert.Equal(t, "3.14", exts[1].Text)
}

func TestResolveParseErrorCarriesSnippet(t *testing.T) {
	r := NewResolver(FormatJSON, nil)
	_, err := r.Resolve("this is not structured output at all")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrParse))
	assert.Contains(t, err.Error(), "not structured")
}

func TestResolveEmptyBody(t *testing.T) {
	r := NewResolver(FormatJSON, nil)
	_, err := r.Resolve("   \n ")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrParse))
}

func TestResolveShapeEquivalence(t *testing.T) {
	// The same semantic content in every supported shape lowers to the
	// same (class, text) list.
	r := NewResolver(FormatJSON, nil)
	shapes := []string{
		`[{"person": "Ada"}]`,
		`{"extractions": [{"person": "Ada"}]}`,
		`{"data": [{"person": "Ada"}]}`,
		`{"results": [{"person": "Ada"}]}`,
		`{"person": ["Ada"]}`,
		`{"person": {"text": "Ada"}}`,
	}
	for _, shape := range shapes {
		exts, err := r.Resolve(shape)
		require.NoError(t, err, shape)
		require.Len(t, exts, 1, shape)
		assert.Equal(t, "person", exts[0].Class, shape)
		assert.Equal(t, "Ada", exts[0].Text, shape)
		assert.Equal(t, 0, exts[0].GroupIndex, shape)
	}
}
