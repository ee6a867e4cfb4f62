package groundex

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AlignmentStatus describes how well an extraction's text matches the
// span of source text it was anchored to.
type AlignmentStatus string

const (
	// AlignMatchExact means the extraction text occurs verbatim at the interval.
	AlignMatchExact AlignmentStatus = "match_exact"
	// AlignMatchFuzzy means the interval was found by similarity search.
	AlignMatchFuzzy AlignmentStatus = "match_fuzzy"
	// AlignMatchLesser means the matched span is shorter than the extraction text.
	AlignMatchLesser AlignmentStatus = "match_lesser"
	// AlignMatchGreater means the matched span is longer than the extraction text.
	AlignMatchGreater AlignmentStatus = "match_greater"
	// AlignMatchNone means no acceptable span was found; the interval is nil.
	AlignMatchNone AlignmentStatus = "match_none"
)

// rank orders statuses from best to worst for dedup tiebreaking.
func (s AlignmentStatus) rank() int {
	switch s {
	case AlignMatchExact:
		return 0
	case AlignMatchFuzzy:
		return 1
	case AlignMatchLesser:
		return 2
	case AlignMatchGreater:
		return 3
	default:
		return 4
	}
}

// CharInterval is a half-open [StartPos, EndPos) character range.
// Positions count Unicode code points in the original document, never
// bytes.
type CharInterval struct {
	StartPos int `json:"start_pos" yaml:"start_pos"`
	EndPos   int `json:"end_pos" yaml:"end_pos"`
}

// Len returns the number of characters covered by the interval.
func (ci CharInterval) Len() int { return ci.EndPos - ci.StartPos }

// Overlaps reports whether two intervals share at least one position.
func (ci CharInterval) Overlaps(other CharInterval) bool {
	return ci.StartPos < other.EndPos && other.StartPos < ci.EndPos
}

func (ci CharInterval) String() string {
	return fmt.Sprintf("[%d,%d)", ci.StartPos, ci.EndPos)
}

// Extraction is a single typed finding anchored (when alignment
// succeeded) to a character interval in the source document.
type Extraction struct {
	// Class is the caller-defined label, e.g. "person" or "price".
	Class string `json:"extraction_class" yaml:"class"`
	// Text is the surface form the model produced.
	Text string `json:"extraction_text" yaml:"text"`
	// Interval anchors the text in document coordinates; nil when
	// alignment failed.
	Interval *CharInterval `json:"char_interval,omitempty" yaml:"interval,omitempty"`
	// Status records the alignment outcome.
	Status AlignmentStatus `json:"alignment_status,omitempty" yaml:"alignment_status,omitempty"`
	// Attributes holds caller or coercion metadata. Alignment never
	// touches it.
	Attributes map[string]any `json:"attributes,omitempty" yaml:"attributes,omitempty"`
	// GroupIndex is the extraction's position in the model's output
	// for its chunk, a stable dedup tiebreaker.
	GroupIndex int `json:"group_index" yaml:"group_index,omitempty"`

	// chunkIndex is the producing chunk, used to order unaligned
	// extractions deterministically.
	chunkIndex int
}

// NewExtraction creates an extraction with just a class and text.
func NewExtraction(class, text string) Extraction {
	return Extraction{Class: class, Text: text, Status: AlignMatchNone}
}

// SetAttribute stores a metadata value, allocating the map on first use.
func (e *Extraction) SetAttribute(key string, value any) {
	if e.Attributes == nil {
		e.Attributes = make(map[string]any)
	}
	e.Attributes[key] = value
}

// Attribute returns a metadata value and whether it was present.
func (e *Extraction) Attribute(key string) (any, bool) {
	v, ok := e.Attributes[key]
	return v, ok
}

// Document is a unit of input text.
type Document struct {
	Text              string `json:"text"`
	AdditionalContext string `json:"additional_context,omitempty"`

	id string
}

// NewDocument wraps raw text in a Document.
func NewDocument(text string) *Document {
	return &Document{Text: text}
}

// ID returns the document id, generating a doc_ prefixed one on first
// use. Repeated calls return the same id.
func (d *Document) ID() string {
	if d.id == "" {
		d.id = newDocumentID()
	}
	return d.id
}

// SetID pins an explicit document id.
func (d *Document) SetID(id string) { d.id = id }

func newDocumentID() string {
	return "doc_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// AnnotatedDocument is the result of a single extraction call.
type AnnotatedDocument struct {
	Text        string         `json:"text"`
	DocumentID  string         `json:"document_id"`
	Extractions []Extraction   `json:"extractions"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ExtractionCount returns the number of extractions in the document.
func (d *AnnotatedDocument) ExtractionCount() int { return len(d.Extractions) }

// ExtractionsByClass returns the extractions carrying the given class,
// in document order.
func (d *AnnotatedDocument) ExtractionsByClass(class string) []Extraction {
	var out []Extraction
	for _, e := range d.Extractions {
		if e.Class == class {
			out = append(out, e)
		}
	}
	return out
}

func (d *AnnotatedDocument) setMeta(key string, value any) {
	if d.Metadata == nil {
		d.Metadata = make(map[string]any)
	}
	d.Metadata[key] = value
}

// ExampleData is one few-shot example: a text plus the extractions the
// model should produce for it. Example extractions carry no intervals.
type ExampleData struct {
	Text        string       `json:"text" yaml:"text"`
	Extractions []Extraction `json:"extractions" yaml:"extractions"`
}

// NewExample builds an example from a text and its expected extractions.
func NewExample(text string, extractions ...Extraction) ExampleData {
	return ExampleData{Text: text, Extractions: extractions}
}

// Classes returns the distinct extraction classes used by the example,
// in first-appearance order.
func (ex ExampleData) Classes() []string {
	seen := make(map[string]struct{}, len(ex.Extractions))
	var out []string
	for _, e := range ex.Extractions {
		if _, ok := seen[e.Class]; ok {
			continue
		}
		seen[e.Class] = struct{}{}
		out = append(out, e.Class)
	}
	return out
}

// FormatType selects the structured output format requested from the
// model and expected by the resolver.
type FormatType string

const (
	FormatJSON FormatType = "json"
	FormatYAML FormatType = "yaml"
)

// ParseFormatType converts a string such as "json" or "YAML".
func ParseFormatType(s string) (FormatType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return FormatJSON, nil
	case "yaml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: format type %q", ErrConfiguration, s)
	}
}

// Chunk is a contiguous slice of the source document. Content equals
// the source characters [Offset, Offset+Length).
type Chunk struct {
	Content string `json:"content"`
	// Offset is the starting character index in the original document.
	Offset int `json:"offset"`
	// Length is the chunk length in characters.
	Length int `json:"length"`
	// Index is the chunk's ordinal position.
	Index int `json:"index"`
}

// Interval returns the chunk's span in document coordinates.
func (c Chunk) Interval() CharInterval {
	return CharInterval{StartPos: c.Offset, EndPos: c.Offset + c.Length}
}
