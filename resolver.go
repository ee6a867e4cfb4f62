package groundex

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Resolver converts raw model output for one chunk into an ordered
// list of extractions. It tolerates the usual LLM packaging: code
// fences, prose around the payload, wrapper objects, and a YAML body
// when JSON parsing fails.
type Resolver struct {
	format FormatType
	log    *slog.Logger
}

// NewResolver returns a resolver expecting the given output format.
func NewResolver(format FormatType, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{format: format, log: log}
}

// Resolve parses a raw model response into extractions. The returned
// extractions carry class, text, attributes, and a group index equal
// to their position in the flattened output; intervals are assigned
// later by the aligner.
func (r *Resolver) Resolve(raw string) ([]Extraction, error) {
	body := stripFences(raw)
	if strings.TrimSpace(body) == "" {
		return nil, parseError(raw)
	}

	if value, err := decodeJSON(body); err == nil {
		return r.flatten(value)
	}

	// When YAML output was requested, prefer the YAML parse over
	// hunting for embedded JSON.
	if r.format == FormatYAML {
		if exts, ok := r.tryYAML(body); ok {
			return exts, nil
		}
	}

	// Locate the first balanced JSON value embedded in surrounding
	// prose.
	if embedded, ok := firstBalancedJSON(body); ok {
		if value, err := decodeJSON(embedded); err == nil {
			return r.flatten(value)
		}
	}

	// YAML accepts a superset of JSON, so this also rescues relaxed
	// JSON bodies.
	if exts, ok := r.tryYAML(body); ok {
		return exts, nil
	}

	r.log.Debug("resolver could not parse model output", "length", len(raw))
	return nil, parseError(raw)
}

// tryYAML parses the body as YAML and lowers it when it produced
// extractions.
func (r *Resolver) tryYAML(body string) ([]Extraction, bool) {
	var yval any
	if err := yaml.Unmarshal([]byte(body), &yval); err != nil {
		return nil, false
	}
	exts, err := r.flatten(yval)
	if err != nil || len(exts) == 0 {
		return nil, false
	}
	return exts, true
}

// stripFences removes leading/trailing markdown code fences.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```yaml", "```"} {
		if strings.HasPrefix(s, prefix) {
			s = strings.TrimPrefix(s, prefix)
			break
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// decodeJSON unmarshals keeping numbers as json.Number so "30" does
// not come back as "30.000000".
func decodeJSON(s string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	switch v.(type) {
	case map[string]any, []any:
		return v, nil
	}
	return nil, fmt.Errorf("top-level JSON value is not an object or array")
}

// firstBalancedJSON scans for the first '{' or '[' and returns the
// substring up to its balancing close bracket, honoring strings and
// escapes.
func firstBalancedJSON(s string) (string, bool) {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// flatten lowers any accepted response shape to a flat ordered list of
// extractions and stamps group indexes.
func (r *Resolver) flatten(value any) ([]Extraction, error) {
	var out []Extraction

	switch v := value.(type) {
	case []any:
		for _, item := range v {
			out = append(out, r.flattenItem(item)...)
		}
	case map[string]any:
		if inner, ok := unwrap(v); ok {
			for _, item := range inner {
				out = append(out, r.flattenItem(item)...)
			}
		} else {
			out = append(out, r.flattenItem(v)...)
		}
	default:
		return nil, fmt.Errorf("unsupported response shape %T", value)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("response contained no extractions")
	}
	for i := range out {
		out[i].GroupIndex = i
	}
	return out, nil
}

// unwrap peels {"extractions": […]} / {"data": […]} / {"results": […]}.
func unwrap(obj map[string]any) ([]any, bool) {
	for _, key := range []string{"extractions", "data", "results"} {
		if inner, ok := obj[key].([]any); ok {
			return inner, true
		}
	}
	return nil, false
}

// flattenItem lowers one list element or the flat top-level object.
func (r *Resolver) flattenItem(item any) []Extraction {
	switch v := item.(type) {
	case map[string]any:
		return flattenObject(v)
	case string:
		return []Extraction{NewExtraction("text", v)}
	default:
		if s := scalarText(v); s != "" {
			return []Extraction{NewExtraction("text", s)}
		}
		return nil
	}
}

// flattenObject turns {class: value, …} into extractions, with sorted
// key order for determinism.
func flattenObject(obj map[string]any) []Extraction {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []Extraction
	for _, class := range keys {
		value := obj[class]
		switch v := value.(type) {
		case nil:
			continue
		case []any:
			// One class with multiple values.
			for _, el := range v {
				if text := scalarText(el); text != "" {
					out = append(out, NewExtraction(class, text))
				}
			}
		case map[string]any:
			if e, ok := extractionFromObject(class, v); ok {
				out = append(out, e)
				continue
			}
			// No recognizable text field: keep the serialized object.
			if b, err := json.Marshal(v); err == nil {
				out = append(out, NewExtraction(class, string(b)))
			}
		default:
			if text := scalarText(v); text != "" {
				out = append(out, NewExtraction(class, text))
			}
		}
	}
	return out
}

// extractionFromObject handles {class: {text: …, attributes: {…}}}.
func extractionFromObject(class string, obj map[string]any) (Extraction, bool) {
	var text string
	for _, key := range []string{"text", "extraction_text", "value"} {
		if raw, ok := obj[key]; ok {
			text = scalarText(raw)
			break
		}
	}
	if text == "" {
		return Extraction{}, false
	}
	e := NewExtraction(class, text)
	if attrs, ok := obj["attributes"].(map[string]any); ok {
		for k, v := range attrs {
			e.SetAttribute(k, v)
		}
	}
	return e, true
}

// scalarText renders a scalar JSON/YAML value the way the model wrote
// it.
func scalarText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	case int:
		return fmt.Sprintf("%d", t)
	case int64:
		return fmt.Sprintf("%d", t)
	case float64:
		s := fmt.Sprintf("%g", t)
		return s
	default:
		return ""
	}
}
