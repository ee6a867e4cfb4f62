package groundex

import (
	"strings"
	"unicode"
)

// Aligner maps extracted strings to character intervals in the source
// text, trying exact matching first and falling back to a fuzzy
// sliding-window search over word tokens.
//
// All positions are Unicode code point indexes. Intervals returned
// from Align are in document coordinates: the chunk offset is added to
// every chunk-local position.
type Aligner struct {
	cfg AlignmentConfig
}

// NewAligner returns an aligner with the given configuration.
func NewAligner(cfg AlignmentConfig) *Aligner {
	if cfg.FuzzyThreshold <= 0 {
		cfg.FuzzyThreshold = DefaultAlignmentConfig().FuzzyThreshold
	}
	if cfg.MaxSearchWindow <= 0 {
		cfg.MaxSearchWindow = DefaultAlignmentConfig().MaxSearchWindow
	}
	return &Aligner{cfg: cfg}
}

// Align locates extractionText inside chunkText and returns the
// interval in document coordinates plus the match status. A nil
// interval means no acceptable match was found.
func (a *Aligner) Align(extractionText, chunkText string, chunkOffset int) (*CharInterval, AlignmentStatus) {
	if extractionText == "" || chunkText == "" {
		return nil, AlignMatchNone
	}

	needle := extractionText
	haystack := chunkText
	if !a.cfg.CaseSensitive {
		needle = strings.ToLower(needle)
		haystack = strings.ToLower(haystack)
	}

	needleRunes := []rune(needle)
	haystackRunes := []rune(haystack)

	// Exact scan.
	if pos := runeIndex(haystackRunes, needleRunes); pos >= 0 {
		return &CharInterval{
			StartPos: chunkOffset + pos,
			EndPos:   chunkOffset + pos + len(needleRunes),
		}, AlignMatchExact
	}

	if a.cfg.EnableFuzzy {
		if iv, status, ok := a.fuzzyMatch(needleRunes, haystackRunes); ok {
			iv.StartPos += chunkOffset
			iv.EndPos += chunkOffset
			return &iv, status
		}
	}

	// Last resort before giving up: anchor the extraction's first and
	// last words close together, accepting a shorter-than-exact span.
	if a.cfg.AcceptMatchLesser {
		if iv, ok := a.partialAnchor(needleRunes, haystackRunes); ok {
			iv.StartPos += chunkOffset
			iv.EndPos += chunkOffset
			return &iv, AlignMatchLesser
		}
	}

	return nil, AlignMatchNone
}

// AlignExtractions aligns every extraction in place against the chunk
// text and returns how many received a non-nil interval.
func (a *Aligner) AlignExtractions(extractions []Extraction, chunkText string, chunkOffset int) int {
	aligned := 0
	for i := range extractions {
		iv, status := a.Align(extractions[i].Text, chunkText, chunkOffset)
		extractions[i].Interval = iv
		extractions[i].Status = status
		if iv != nil {
			aligned++
		}
	}
	return aligned
}

// partialAnchor implements the lesser-match heuristic: the first and
// the last word of the extraction both occur, in order, within a span
// shorter than twice the extraction length.
func (a *Aligner) partialAnchor(needle, haystack []rune) (CharInterval, bool) {
	words := splitWords(needle)
	if len(words) < 2 {
		return CharInterval{}, false
	}
	first := []rune(words[0].text)
	last := []rune(words[len(words)-1].text)

	firstPos := runeIndex(haystack, first)
	if firstPos < 0 {
		return CharInterval{}, false
	}
	rest := haystack[firstPos:]
	lastRel := runeIndex(rest, last)
	if lastRel < 0 {
		return CharInterval{}, false
	}
	end := firstPos + lastRel + len(last)
	if end-firstPos >= 2*len(needle) {
		return CharInterval{}, false
	}
	return CharInterval{StartPos: firstPos, EndPos: end}, true
}

// fuzzyMatch slides word windows over the haystack and scores each by
// Jaccard similarity over normalized word tokens. The smallest window
// size producing an acceptable score wins; within a size the best
// score wins.
func (a *Aligner) fuzzyMatch(needle, haystack []rune) (CharInterval, AlignmentStatus, bool) {
	needleWords := splitWords(needle)
	sourceWords := splitWords(haystack)
	if len(needleWords) == 0 || len(sourceWords) == 0 {
		return CharInterval{}, AlignMatchNone, false
	}

	needleSet := wordKeySet(needleWords)

	maxWindow := min(len(sourceWords), a.cfg.MaxSearchWindow)
	minWindow := min(len(needleWords), maxWindow)

	for size := minWindow; size <= maxWindow; size++ {
		bestScore := 0.0
		bestStart := -1
		covered := false
		for start := 0; start+size <= len(sourceWords); start++ {
			window := sourceWords[start : start+size]
			score, full := jaccard(needleSet, window)
			if score >= a.cfg.FuzzyThreshold && score > bestScore {
				bestScore = score
				bestStart = start
				covered = full
			}
		}
		if bestStart >= 0 {
			iv := CharInterval{
				StartPos: sourceWords[bestStart].start,
				EndPos:   sourceWords[bestStart+size-1].end,
			}
			status := AlignMatchFuzzy
			// A window wider than the extraction that still contains
			// every extraction word is a containing match.
			if covered && size > len(needleWords) {
				status = AlignMatchGreater
			}
			return iv, status, true
		}
	}
	return CharInterval{}, AlignMatchNone, false
}

// jaccard computes |A∩B| / |A∪B| over normalized word keys and reports
// whether every needle key occurred in the window.
func jaccard(needleSet map[string]struct{}, window []wordSpan) (float64, bool) {
	windowSet := wordKeySet(window)
	inter := 0
	for k := range needleSet {
		if _, ok := windowSet[k]; ok {
			inter++
		}
	}
	union := len(needleSet) + len(windowSet) - inter
	if union == 0 {
		return 1, true
	}
	return float64(inter) / float64(union), inter == len(needleSet)
}

// wordSpan is a whitespace-delimited token plus its rune offsets.
type wordSpan struct {
	text       string
	start, end int
}

// key normalizes a token for similarity comparison: lowercase with
// punctuation trimmed from both edges.
func (w wordSpan) key() string {
	return strings.ToLower(strings.TrimFunc(w.text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}))
}

func wordKeySet(words []wordSpan) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		if k := w.key(); k != "" {
			set[k] = struct{}{}
		}
	}
	return set
}

// splitWords tokenizes on whitespace, keeping rune offsets.
func splitWords(runes []rune) []wordSpan {
	var words []wordSpan
	i := 0
	for i < len(runes) {
		for i < len(runes) && unicode.IsSpace(runes[i]) {
			i++
		}
		start := i
		for i < len(runes) && !unicode.IsSpace(runes[i]) {
			i++
		}
		if i > start {
			words = append(words, wordSpan{text: string(runes[start:i]), start: start, end: i})
		}
	}
	return words
}

// runeIndex returns the first rune position of needle in haystack, or
// -1. Haystacks are chunk-sized, so the naive scan is fine.
func runeIndex(haystack, needle []rune) int {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return -1
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// AlignmentStats aggregates alignment outcomes for a document.
type AlignmentStats struct {
	Total     int `json:"total"`
	Exact     int `json:"exact"`
	Fuzzy     int `json:"fuzzy"`
	Lesser    int `json:"lesser"`
	Greater   int `json:"greater"`
	Unaligned int `json:"unaligned"`
}

// Stats counts extractions by alignment status.
func (a *Aligner) Stats(extractions []Extraction) AlignmentStats {
	stats := AlignmentStats{Total: len(extractions)}
	for _, e := range extractions {
		switch e.Status {
		case AlignMatchExact:
			stats.Exact++
		case AlignMatchFuzzy:
			stats.Fuzzy++
		case AlignMatchLesser:
			stats.Lesser++
		case AlignMatchGreater:
			stats.Greater++
		default:
			stats.Unaligned++
		}
	}
	return stats
}

// SuccessRate is the fraction of extractions with any alignment.
func (s AlignmentStats) SuccessRate() float64 {
	if s.Total == 0 {
		return 1
	}
	return float64(s.Total-s.Unaligned) / float64(s.Total)
}

// ExactRate is the fraction of extractions aligned exactly.
func (s AlignmentStats) ExactRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Exact) / float64(s.Total)
}
