package groundex

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Coercer attaches typed representations to extraction text using a
// fixed sequence of regex recognizers. The first recognizer that
// matches wins, and the original text is never modified.
type Coercer struct {
	currency   *regexp.Regexp
	percentage *regexp.Regexp
	integer    *regexp.Regexp
	float      *regexp.Regexp
	boolean    *regexp.Regexp
	email      *regexp.Regexp
	phone      *regexp.Regexp
	urlPat     *regexp.Regexp
	isoDate    *regexp.Regexp
	slashDate  *regexp.Regexp
}

// Coercion is the outcome of a successful recognition.
type Coercion struct {
	// Type names the recognizer that matched, e.g. "currency".
	Type string
	// Value is the typed representation, e.g. float64(1234.56).
	Value any
	// Extras are recognizer-specific attributes such as "currency" or
	// "domain".
	Extras map[string]any
}

// NewCoercer compiles the recognizer patterns.
func NewCoercer() *Coercer {
	return &Coercer{
		currency:   regexp.MustCompile(`^[$€£]?\s?-?\d{1,3}(,\d{3})*(\.\d+)?$`),
		percentage: regexp.MustCompile(`^-?\d+(\.\d+)?\s?%$`),
		integer:    regexp.MustCompile(`^-?\d+$`),
		float:      regexp.MustCompile(`^-?\d+\.\d+$`),
		boolean:    regexp.MustCompile(`(?i)^(true|false|yes|no|1|0)$`),
		email:      regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`),
		phone:      regexp.MustCompile(`^\+?1?[-. ]?\(?\d{3}\)?[-. ]?\d{3}[-. ]?\d{4}$`),
		urlPat:     regexp.MustCompile(`^https?://\S+$`),
		isoDate:    regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`),
		slashDate:  regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`),
	}
}

// currencyOf maps a leading currency symbol to its ISO code.
func currencyOf(s string) (string, bool) {
	switch {
	case strings.HasPrefix(s, "$"):
		return "USD", true
	case strings.HasPrefix(s, "€"):
		return "EUR", true
	case strings.HasPrefix(s, "£"):
		return "GBP", true
	}
	return "", false
}

// Coerce runs the recognizers in order against the trimmed text.
// Recognition order is currency, percentage, integer, float, boolean,
// email, phone, url, date.
func (c *Coercer) Coerce(text string) (Coercion, bool) {
	s := strings.TrimSpace(text)
	if s == "" {
		return Coercion{}, false
	}

	// Currency requires a symbol or thousands grouping; a bare small
	// integer falls through to the integer recognizer.
	if c.currency.MatchString(s) {
		code, hasSymbol := currencyOf(s)
		if hasSymbol || strings.Contains(s, ",") {
			cleaned := strings.NewReplacer("$", "", "€", "", "£", "", ",", "", " ", "").Replace(s)
			if v, err := strconv.ParseFloat(cleaned, 64); err == nil {
				extras := map[string]any{}
				if hasSymbol {
					extras["currency"] = code
				}
				return Coercion{Type: "currency", Value: v, Extras: extras}, true
			}
		}
	}

	if c.percentage.MatchString(s) {
		num := strings.TrimSpace(strings.TrimSuffix(s, "%"))
		if v, err := strconv.ParseFloat(num, 64); err == nil {
			return Coercion{Type: "percentage", Value: v / 100}, true
		}
	}

	if c.integer.MatchString(s) {
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			return Coercion{Type: "integer", Value: v}, true
		}
	}

	if c.float.MatchString(s) {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return Coercion{Type: "float", Value: v}, true
		}
	}

	if c.boolean.MatchString(s) {
		switch strings.ToLower(s) {
		case "true", "yes", "1":
			return Coercion{Type: "boolean", Value: true}, true
		default:
			return Coercion{Type: "boolean", Value: false}, true
		}
	}

	if c.email.MatchString(s) {
		at := strings.LastIndexByte(s, '@')
		return Coercion{
			Type:   "email",
			Value:  s,
			Extras: map[string]any{"domain": s[at+1:]},
		}, true
	}

	if c.phone.MatchString(s) {
		digits := strings.Map(func(r rune) rune {
			if r >= '0' && r <= '9' {
				return r
			}
			return -1
		}, s)
		return Coercion{Type: "phone", Value: digits}, true
	}

	if c.urlPat.MatchString(s) {
		u, err := url.Parse(s)
		if err == nil {
			return Coercion{
				Type:   "url",
				Value:  s,
				Extras: map[string]any{"scheme": u.Scheme, "host": u.Host},
			}, true
		}
	}

	if iso, ok := c.normalizeDate(s); ok {
		return Coercion{Type: "date", Value: iso}, true
	}

	return Coercion{}, false
}

// normalizeDate accepts ISO-8601, M/D/YYYY, and "Month DD, YYYY" and
// returns the ISO-8601 form.
func (c *Coercer) normalizeDate(s string) (string, bool) {
	if c.isoDate.MatchString(s) {
		if _, err := time.Parse("2006-01-02", s); err == nil {
			return s, true
		}
		return "", false
	}
	if m := c.slashDate.FindStringSubmatch(s); m != nil {
		t, err := time.Parse("1/2/2006", s)
		if err != nil {
			return "", false
		}
		return t.Format("2006-01-02"), true
	}
	if t, err := time.Parse("January 2, 2006", s); err == nil {
		return t.Format("2006-01-02"), true
	}
	if t, err := time.Parse("Jan 2, 2006", s); err == nil {
		return t.Format("2006-01-02"), true
	}
	return "", false
}
