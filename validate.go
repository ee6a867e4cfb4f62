package groundex

import (
	"fmt"
	"log/slog"
	"strings"
)

// ValidationWarning is a non-fatal schema finding recorded in document
// metadata.
type ValidationWarning struct {
	Class   string `json:"class,omitempty"`
	Message string `json:"message"`
}

// Validator runs schema-level checks and regex-driven type coercion on
// a final extraction list. It never drops or rewrites extraction text;
// coercion results land in attributes.
type Validator struct {
	cfg     *ValidationConfig
	coercer *Coercer
	log     *slog.Logger
}

// NewValidator builds a validator for the given configuration. A nil
// config yields a validator that does nothing.
func NewValidator(cfg *ValidationConfig, log *slog.Logger) *Validator {
	if log == nil {
		log = slog.Default()
	}
	return &Validator{cfg: cfg, coercer: NewCoercer(), log: log}
}

// Validate checks and coerces the extractions in place and returns the
// accumulated warnings.
func (v *Validator) Validate(extractions []Extraction) []ValidationWarning {
	if v.cfg == nil {
		return nil
	}

	var warnings []ValidationWarning

	if v.cfg.EnableSchemaValidation {
		warnings = append(warnings, v.schemaWarnings(extractions)...)
	}

	if v.cfg.EnableTypeCoercion {
		for i := range extractions {
			co, ok := v.coercer.Coerce(extractions[i].Text)
			if !ok {
				continue
			}
			extractions[i].SetAttribute("coerced_value", co.Value)
			extractions[i].SetAttribute("coerced_type", co.Type)
			for k, val := range co.Extras {
				extractions[i].SetAttribute(k, val)
			}
		}
	}

	return warnings
}

func (v *Validator) schemaWarnings(extractions []Extraction) []ValidationWarning {
	var warnings []ValidationWarning

	for _, e := range extractions {
		if e.Class == "" {
			warnings = append(warnings, ValidationWarning{
				Message: "extraction with empty class",
			})
		}
		n := len([]rune(strings.TrimSpace(e.Text)))
		if n == 0 {
			warnings = append(warnings, ValidationWarning{
				Class:   e.Class,
				Message: "empty extraction text",
			})
			continue
		}
		if v.cfg.MinExtractionTextLength > 0 && n < v.cfg.MinExtractionTextLength {
			warnings = append(warnings, ValidationWarning{
				Class:   e.Class,
				Message: fmt.Sprintf("extraction text shorter than %d chars", v.cfg.MinExtractionTextLength),
			})
		}
		if v.cfg.MaxExtractionTextLength > 0 && n > v.cfg.MaxExtractionTextLength {
			warnings = append(warnings, ValidationWarning{
				Class:   e.Class,
				Message: fmt.Sprintf("extraction text longer than %d chars", v.cfg.MaxExtractionTextLength),
			})
		}
	}

	if v.cfg.ValidateRequiredFields && len(v.cfg.RequiredClasses) > 0 {
		present := make(map[string]struct{}, len(extractions))
		for _, e := range extractions {
			present[e.Class] = struct{}{}
		}
		for _, class := range v.cfg.RequiredClasses {
			if _, ok := present[class]; !ok {
				warnings = append(warnings, ValidationWarning{
					Class:   class,
					Message: fmt.Sprintf("required class %q missing from output", class),
				})
			}
		}
	}

	return warnings
}
