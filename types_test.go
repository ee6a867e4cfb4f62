package groundex

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCharInterval(t *testing.T) {
	iv := CharInterval{StartPos: 3, EndPos: 8}
	assert.Equal(t, 5, iv.Len())
	assert.Equal(t, "[3,8)", iv.String())

	assert.True(t, iv.Overlaps(CharInterval{StartPos: 7, EndPos: 12}))
	assert.False(t, iv.Overlaps(CharInterval{StartPos: 8, EndPos: 12}), "half-open ranges touch without overlapping")
}

func TestExtractionAttributes(t *testing.T) {
	e := NewExtraction("person", "Ada")
	assert.Equal(t, AlignMatchNone, e.Status)

	_, ok := e.Attribute("missing")
	assert.False(t, ok)

	e.SetAttribute("k", 1)
	v, ok := e.Attribute("k")
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestExtractionJSONWireNames(t *testing.T) {
	iv := CharInterval{StartPos: 0, EndPos: 3}
	e := Extraction{Class: "person", Text: "Ada", Interval: &iv, Status: AlignMatchExact}

	data, err := json.Marshal(e)
	require.NoError(t, err)
	body := string(data)
	assert.Contains(t, body, `"extraction_class":"person"`)
	assert.Contains(t, body, `"extraction_text":"Ada"`)
	assert.Contains(t, body, `"char_interval":{"start_pos":0,"end_pos":3}`)
	assert.Contains(t, body, `"alignment_status":"match_exact"`)
}

func TestExtractionNilIntervalOmitted(t *testing.T) {
	data, err := json.Marshal(NewExtraction("person", "Ada"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "char_interval")
}

func TestDocumentIDStable(t *testing.T) {
	d := NewDocument("text")
	id := d.ID()
	assert.True(t, strings.HasPrefix(id, "doc_"))
	assert.Equal(t, id, d.ID())

	d.SetID("doc_custom")
	assert.Equal(t, "doc_custom", d.ID())
}

func TestExampleClasses(t *testing.T) {
	ex := NewExample("text",
		NewExtraction("person", "a"),
		NewExtraction("age", "1"),
		NewExtraction("person", "b"),
	)
	assert.Equal(t, []string{"person", "age"}, ex.Classes())
}

func TestParseFormatType(t *testing.T) {
	ft, err := ParseFormatType(" JSON ")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, ft)

	ft, err = ParseFormatType("yaml")
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, ft)

	_, err = ParseFormatType("xml")
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestExtractionsByClass(t *testing.T) {
	doc := AnnotatedDocument{Extractions: []Extraction{
		NewExtraction("person", "Ada"),
		NewExtraction("age", "36"),
		NewExtraction("person", "Grace"),
	}}
	people := doc.ExtractionsByClass("person")
	require.Len(t, people, 2)
	assert.Equal(t, "Ada", people[0].Text)
	assert.Equal(t, 3, doc.ExtractionCount())
}

func TestAlignmentStatusRanking(t *testing.T) {
	order := []AlignmentStatus{AlignMatchExact, AlignMatchFuzzy, AlignMatchLesser, AlignMatchGreater, AlignMatchNone}
	for i := 1; i < len(order); i++ {
		assert.Less(t, order[i-1].rank(), order[i].rank())
	}
}
