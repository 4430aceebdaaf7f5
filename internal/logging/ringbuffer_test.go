package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func logRecord(component, msg, session string) string {
	return fmt.Sprintf(`{"component":%q,"msg":%q,"session":%q}`+"\n", component, msg, session)
}

func TestRingBufferKeepsRecentRecords(t *testing.T) {
	rb := NewRingBuffer(1024)

	a := logRecord(CompListener, "notification_received", "sess-1")
	b := logRecord(CompState, "phase_change", "sess-1")

	n, err := rb.Write([]byte(a))
	require.NoError(t, err)
	assert.Equal(t, len(a), n)
	_, err = rb.Write([]byte(b))
	require.NoError(t, err)

	assert.Equal(t, a+b, string(rb.Bytes()))
	assert.Equal(t, len(a)+len(b), rb.Len())
}

func TestRingBufferEvictsOldestWholeRecords(t *testing.T) {
	records := []string{
		logRecord(CompListener, "notification_received", "sess-1"),
		logRecord(CompTranscript, "transcript_change", "sess-2"),
		logRecord(CompState, "phase_change", "sess-2"),
	}
	// Room for the last two records but not all three.
	rb := NewRingBuffer(len(records[1]) + len(records[2]))

	for _, r := range records {
		_, err := rb.Write([]byte(r))
		require.NoError(t, err)
	}

	got := string(rb.Bytes())
	assert.Equal(t, records[1]+records[2], got)
	// Eviction drops whole records, so a dump always opens on a record boundary.
	assert.True(t, strings.HasPrefix(got, `{"component"`))
}

func TestRingBufferOversizedRecordKeepsTail(t *testing.T) {
	rb := NewRingBuffer(8)

	_, err := rb.Write([]byte("0123456789abcdef"))
	require.NoError(t, err)

	assert.Equal(t, "89abcdef", string(rb.Bytes()))
	assert.Equal(t, 8, rb.Len())
}

func TestRingBufferDumpToFile(t *testing.T) {
	rb := NewRingBuffer(1024)
	rec := logRecord(CompWatcher, "transcript_change", "sess-7")
	_, err := rb.Write([]byte(rec))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "crash.log")
	require.NoError(t, rb.DumpToFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, rec, string(data))
}

func TestRingBufferConcurrentWrites(t *testing.T) {
	rb := NewRingBuffer(64 * 1024)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			rec := logRecord(CompListener, "notification_received", fmt.Sprintf("sess-%d", id))
			for range 50 {
				_, _ = rb.Write([]byte(rec))
			}
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimRight(string(rb.Bytes()), "\n"), "\n")
	assert.Len(t, lines, 8*50)
}
