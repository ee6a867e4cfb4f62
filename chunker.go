package groundex

import (
	"strings"
	"unicode"
)

// abbreviations that suppress a sentence break after a trailing period.
// Lowercase, without the final dot.
var abbreviations = map[string]struct{}{
	"dr": {}, "mr": {}, "mrs": {}, "ms": {}, "st": {}, "vs": {},
	"etc": {}, "e.g": {}, "i.e": {}, "no": {}, "jr": {}, "sr": {},
	"prof": {}, "inc": {}, "ltd": {}, "fig": {}, "al": {},
}

// Chunker splits documents into size-bounded chunks at sentence
// boundaries while preserving absolute character offsets.
//
// A chunk closes at the last boundary that keeps it within the size
// target, preferring paragraph breaks, then sentence-end punctuation,
// then line breaks, then plain whitespace. Only a single token longer
// than the target becomes an oversized chunk; tokens are never split.
// Offsets and lengths count Unicode code points.
type Chunker struct {
	maxSize int
}

// NewChunker returns a chunker with the given size target in characters.
func NewChunker(maxSize int) *Chunker {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Chunker{maxSize: maxSize}
}

// Chunk splits text into chunks. Concatenating the contents in offset
// order reconstructs text exactly; empty text yields an empty slice.
func (c *Chunker) Chunk(text string) []Chunk {
	if text == "" {
		return nil
	}

	runes := []rune(text)
	segments := segmentSentences(runes)

	// A sentence that alone exceeds the size target is re-tiled at
	// whitespace so the packer can still honor the bound.
	var tiled []segment
	for _, seg := range segments {
		if seg.end-seg.start > c.maxSize {
			tiled = append(tiled, splitAtWhitespace(runes, seg)...)
		} else {
			tiled = append(tiled, seg)
		}
	}
	segments = tiled

	var chunks []Chunk
	start := 0
	end := 0
	flush := func() {
		if end > start {
			chunks = append(chunks, Chunk{
				Content: string(runes[start:end]),
				Offset:  start,
				Length:  end - start,
				Index:   len(chunks),
			})
		}
		start = end
	}

	for _, seg := range segments {
		if end > start && seg.end-start > c.maxSize {
			flush()
		}
		end = seg.end
	}
	flush()

	return chunks
}

// segment is a half-open rune range ending at a preferred boundary.
type segment struct {
	start, end int
}

// segmentSentences tiles the rune slice into contiguous sentence-level
// segments. Boundaries are placed, in order of preference, after
// paragraph breaks, after sentence-end punctuation plus its trailing
// whitespace (with an abbreviation guard), and after line breaks. Text
// with no such boundary is a single segment.
func segmentSentences(runes []rune) []segment {
	var segs []segment
	n := len(runes)
	start := 0
	i := 0
	for i < n {
		r := runes[i]
		switch {
		case r == '\n':
			// Consume the full newline run; a double newline is a
			// paragraph break, a single one a line break. Both end the
			// segment.
			j := i + 1
			for j < n && (runes[j] == '\n' || runes[j] == '\r') {
				j++
			}
			segs = append(segs, segment{start, j})
			start, i = j, j
		case isSentenceEnd(r):
			// Consume the punctuation run, then require whitespace.
			j := i + 1
			for j < n && isSentenceEnd(runes[j]) {
				j++
			}
			if j < n && unicode.IsSpace(runes[j]) && !endsWithAbbreviation(runes[start:j]) {
				for j < n && unicode.IsSpace(runes[j]) && runes[j] != '\n' {
					j++
				}
				segs = append(segs, segment{start, j})
				start, i = j, j
			} else {
				i = j
			}
		default:
			i++
		}
	}
	if start < n {
		segs = append(segs, segment{start, n})
	}
	return segs
}

// splitAtWhitespace re-tiles a segment into word-level sub-segments,
// each a token plus its trailing whitespace run. A token longer than
// any size target stays whole; mid-word breaks are never produced.
func splitAtWhitespace(runes []rune, seg segment) []segment {
	var segs []segment
	start := seg.start
	i := seg.start
	for i < seg.end {
		for i < seg.end && unicode.IsSpace(runes[i]) {
			i++
		}
		for i < seg.end && !unicode.IsSpace(runes[i]) {
			i++
		}
		for i < seg.end && unicode.IsSpace(runes[i]) {
			i++
		}
		segs = append(segs, segment{start, i})
		start = i
	}
	return segs
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// endsWithAbbreviation reports whether the segment's final word (with
// its trailing periods removed) is a known abbreviation.
func endsWithAbbreviation(seg []rune) bool {
	s := strings.TrimRight(string(seg), ".!?")
	if s == "" {
		return false
	}
	idx := strings.LastIndexFunc(s, unicode.IsSpace)
	word := strings.ToLower(s[idx+1:])
	// A single letter before the dot is an initial, e.g. "John D. Smith".
	if len([]rune(word)) == 1 {
		return true
	}
	_, ok := abbreviations[word]
	return ok
}
