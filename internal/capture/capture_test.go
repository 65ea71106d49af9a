package capture

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/canusb/internal/can"
)

func readCaptures(t *testing.T, dir string) [][][]string {
	t.Helper()
	paths, err := filepath.Glob(filepath.Join(dir, "canusb_*.csv"))
	require.NoError(t, err)
	sort.Strings(paths)

	var out [][][]string
	for _, p := range paths {
		f, err := os.Open(p)
		require.NoError(t, err)
		rows, err := csv.NewReader(f).ReadAll()
		f.Close()
		require.NoError(t, err)
		out = append(out, rows)
	}
	return out
}

func TestRecordWritesRows(t *testing.T) {
	dir := t.TempDir()
	r := New(Config{Enabled: true, Path: dir})
	defer r.Close()

	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	r.Record(ts, []can.Message{
		{ID: 0x222, Length: 2, Payload: [8]byte{0xAA, 0xBB}},
		{ID: 0x1ABCDEFF, Extended: true, RemoteRequest: true, Length: 8},
	})
	r.Close()

	files := readCaptures(t, dir)
	require.Len(t, files, 1)
	rows := files[0]
	require.Len(t, rows, 3)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, []string{"2025-03-01T12:00:00Z", "222", "0", "0", "2", "aabb"}, rows[1])
	assert.Equal(t, []string{"2025-03-01T12:00:00Z", "1ABCDEFF", "1", "1", "8", ""}, rows[2])
}

func TestRecordDisabled(t *testing.T) {
	dir := t.TempDir()
	r := New(Config{Enabled: false, Path: dir})
	r.Record(time.Now(), []can.Message{{ID: 1}})
	r.Close()
	assert.Empty(t, readCaptures(t, dir))
	assert.False(t, r.IsEnabled())
}

func TestRecordRotates(t *testing.T) {
	dir := t.TempDir()
	r := New(Config{Enabled: true, Path: dir, MaxRows: 2})

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		r.Record(base.Add(time.Duration(i)*time.Millisecond), []can.Message{{ID: uint32(i)}})
	}
	r.Close()

	files := readCaptures(t, dir)
	require.Len(t, files, 3)
	assert.Len(t, files[0], 3)
	assert.Len(t, files[1], 3)
	assert.Len(t, files[2], 2)
}

func TestSetEnabledToggles(t *testing.T) {
	dir := t.TempDir()
	r := New(Config{Path: dir})
	r.SetEnabled(true)
	assert.True(t, r.IsEnabled())
	r.Record(time.Now(), []can.Message{{ID: 7}})
	r.SetEnabled(false)
	r.Record(time.Now(), []can.Message{{ID: 8}})

	files := readCaptures(t, dir)
	require.Len(t, files, 1)
	assert.Len(t, files[0], 2)
}
