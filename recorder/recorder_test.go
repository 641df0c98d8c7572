package recorder

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qseries/q2150ctl/ringbuffer"
	"github.com/qseries/q2150ctl/wire"
)

func reading(sensorID string, v float64) wire.Reading {
	return wire.Reading{Timestamp: time.Now(), SensorID: sensorID, Mode: wire.ModeFreerun, Value: v}
}

// scenario d: chunk rotation is atomic and produces several chunks, no
// leftover .tmp files, and a manifest that matches what's on disk.
func TestRotationAtomicityAndManifestAccuracy(t *testing.T) {
	dir := t.TempDir()
	buf := ringbuffer.New(1000)

	rec, err := Start(buf, Options{
		SessionID:    "sess-rotation",
		ChunkDir:     dir,
		Mission:      "bench",
		RateHz:       50,
		RollInterval: 40 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	for i := 0; i < 40; i++ {
		buf.Append(reading("S1", float64(i)))
		time.Sleep(5 * time.Millisecond)
	}

	session := rec.Stop()
	require.GreaterOrEqual(t, len(session.Chunks), 3)

	sessionDir := filepath.Join(dir, "sess-rotation")
	entries, err := os.ReadDir(sessionDir)
	require.NoError(t, err)

	onDisk := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		assert.NotContains(t, name, ".tmp", "no temp files should survive Stop")
		if name != "manifest.json" {
			onDisk[name] = true
		}
	}
	assert.Len(t, onDisk, len(session.Chunks))

	var manifest Session
	data, err := os.ReadFile(filepath.Join(sessionDir, "manifest.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &manifest))
	require.Len(t, manifest.Chunks, len(session.Chunks))

	seenTimestamps := map[string]bool{}
	totalRows := 0
	var prevEnd time.Time
	for i, rec := range session.Chunks {
		assert.Equal(t, i, rec.Index)
		assert.True(t, onDisk[rec.Name])

		path := filepath.Join(sessionDir, rec.Name)
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, rec.ByteSize, info.Size())

		sum := sha256File(t, path)
		assert.Equal(t, rec.SHA256Hex, sum)

		rows := readCSVRows(t, path)
		assert.Equal(t, rec.RowCount, len(rows))
		totalRows += len(rows)

		for _, row := range rows {
			ts := row[0]
			assert.False(t, seenTimestamps[ts], "duplicate timestamp %s across chunks", ts)
			seenTimestamps[ts] = true
		}

		assert.False(t, rec.StartTS.After(rec.EndTS))
		if i > 0 {
			assert.False(t, rec.StartTS.Before(prevEnd), "chunk %d starts before previous chunk ended", i)
		}
		prevEnd = rec.EndTS
	}
	assert.Equal(t, totalRows, len(seenTimestamps))
}

func TestReconcileFindsOrphanChunk(t *testing.T) {
	dir := t.TempDir()
	buf := ringbuffer.New(10)
	rec, err := Start(buf, Options{
		SessionID:    "sess-orphan",
		ChunkDir:     dir,
		RollInterval: time.Hour,
		PollInterval: 5 * time.Millisecond,
	})
	require.NoError(t, err)
	buf.Append(reading("S1", 1))
	time.Sleep(30 * time.Millisecond)
	rec.Stop()

	sessionDir := filepath.Join(dir, "sess-orphan")
	orphanPath := filepath.Join(sessionDir, "chunk_00099.csv")
	require.NoError(t, os.WriteFile(orphanPath, []byte("timestamp,sensor_id,mode,value,TempC,Vin\n"), 0o644))

	orphans, err := Reconcile(sessionDir)
	require.NoError(t, err)
	assert.Contains(t, orphans, "chunk_00099.csv")
}

func TestStartRejectsNonEmptyDir(t *testing.T) {
	base := t.TempDir()
	sessionDir := filepath.Join(base, "taken")
	require.NoError(t, os.MkdirAll(sessionDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sessionDir, "stray"), []byte("x"), 0o644))

	buf := ringbuffer.New(10)
	_, err := Start(buf, Options{SessionID: "taken", ChunkDir: base})
	require.Error(t, err)
	var ioErr StorageIoError
	require.ErrorAs(t, err, &ioErr)
}

func sha256File(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func readCSVRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	r := csv.NewReader(f)
	all, err := r.ReadAll()
	require.NoError(t, err)
	require.NotEmpty(t, all)
	return all[1:] // drop header
}
