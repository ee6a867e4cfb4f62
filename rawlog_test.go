package groundex

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirSinkWritesUniqueFiles(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewDirSink(dir)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, sink.Save(RawRecord{
			Prompt:      "p",
			RawResponse: "r",
			StepID:      "step one",
			ChunkIndex:  i,
		}))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
	for _, entry := range entries {
		assert.True(t, strings.HasSuffix(entry.Name(), ".json"))
		assert.Contains(t, entry.Name(), "step_one", "step id is sanitized into the name")
	}
}

func TestDirSinkRecordRoundTrip(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewDirSink(dir)
	require.NoError(t, err)

	require.NoError(t, sink.Save(RawRecord{Prompt: "ask", RawResponse: "answer", ChunkIndex: 7}))

	entries, _ := os.ReadDir(dir)
	require.Len(t, entries, 1)
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)

	var rec RawRecord
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, "ask", rec.Prompt)
	assert.Equal(t, "answer", rec.RawResponse)
	assert.Equal(t, 7, rec.ChunkIndex)
	assert.False(t, rec.Timestamp.IsZero())
}

func TestBufferSinkCollects(t *testing.T) {
	sink := &BufferSink{}
	require.NoError(t, sink.Save(RawRecord{RawResponse: "a"}))
	require.NoError(t, sink.Save(RawRecord{RawResponse: "b"}))

	records := sink.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].RawResponse)
	assert.Equal(t, "b", records[1].RawResponse)
}

func TestDiscardSink(t *testing.T) {
	assert.NoError(t, DiscardSink{}.Save(RawRecord{RawResponse: "gone"}))
}
