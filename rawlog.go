package groundex

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RawRecord is one captured model exchange, written before any parsing
// so a failed parse never loses data.
type RawRecord struct {
	Prompt      string    `json:"prompt"`
	RawResponse string    `json:"raw_response"`
	Timestamp   time.Time `json:"timestamp"`
	StepID      string    `json:"step_id,omitempty"`
	ChunkIndex  int       `json:"chunk_index"`
}

// RawSink receives raw model outputs for audit. Implementations must
// be safe for concurrent use; the annotator writes from worker
// goroutines.
type RawSink interface {
	Save(rec RawRecord) error
}

// DiscardSink drops every record. It is the default sink.
type DiscardSink struct{}

func (DiscardSink) Save(RawRecord) error { return nil }

// DirSink writes each record as its own JSON file under a directory.
// Filenames combine a timestamp, step id, chunk index, and a uuid
// fragment, so concurrent writers never collide and need no lock.
type DirSink struct {
	dir string
}

// NewDirSink creates the directory if needed and returns a sink
// writing into it.
func NewDirSink(dir string) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create raw output dir: %w", err)
	}
	return &DirSink{dir: dir}, nil
}

func (s *DirSink) Save(rec RawRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	name := rec.Timestamp.Format("20060102T150405.000Z0700")
	if rec.StepID != "" {
		name += "_" + sanitizeFilename(rec.StepID)
	}
	name += fmt.Sprintf("_%d_%s.json", rec.ChunkIndex, uuid.NewString()[:8])

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal raw record: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return fmt.Errorf("write raw record: %w", err)
	}
	return nil
}

func sanitizeFilename(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}

// BufferSink keeps records in memory so tests can observe raw outputs
// without filesystem access.
type BufferSink struct {
	mu      sync.Mutex
	records []RawRecord
}

func (s *BufferSink) Save(rec RawRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// Records returns a copy of everything saved so far.
func (s *BufferSink) Records() []RawRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RawRecord, len(s.records))
	copy(out, s.records)
	return out
}
