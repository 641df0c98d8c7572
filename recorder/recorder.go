package recorder

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/qseries/q2150ctl/q2150log"
	"github.com/qseries/q2150ctl/ringbuffer"
	"github.com/qseries/q2150ctl/wire"
)

const csvHeader = "timestamp,sensor_id,mode,value,TempC,Vin"

// chunkState is the recorder's open-chunk bookkeeping. It is touched
// only by the drain goroutine; no lock protects it.
type chunkState struct {
	f         *os.File
	cw        *csv.Writer
	tmpPath   string
	finalName string
	index     int
	rows      int
	bytes     int64
	startTS   time.Time
	endTS     time.Time
}

// Recorder drains a ring buffer into chunked CSV files under a session
// directory, with a manifest rewritten atomically on every rotation.
type Recorder struct {
	buf          *ringbuffer.Buffer
	dir          string
	rollInterval time.Duration
	pollInterval time.Duration

	mu      sync.Mutex // guards session, status fields, and state below
	session Session
	state   string // "running", "stopped", "failed"
	rows    int
	bytes   int64

	// curStart is the open chunk's first-row timestamp, zero when none.
	curStart time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup

	lastSeen  time.Time
	nextIndex int
	current   *chunkState

	log *logrus.Entry
}

// Start creates a new, empty session directory named by the session ID
// under opts.ChunkDir and begins draining buf into it.
func Start(buf *ringbuffer.Buffer, opts Options) (*Recorder, error) {
	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	dir := filepath.Join(opts.ChunkDir, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, StorageIoError{Op: "mkdir", Path: dir, Err: err}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, StorageIoError{Op: "readdir", Path: dir, Err: err}
	}
	if len(entries) != 0 {
		return nil, StorageIoError{Op: "mkdir", Path: dir, Err: fmt.Errorf("directory not empty")}
	}

	roll := opts.RollInterval
	if roll <= 0 {
		roll = 60 * time.Second
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = 1 * time.Second
	}

	r := &Recorder{
		buf:          buf,
		dir:          dir,
		rollInterval: roll,
		pollInterval: poll,
		state:        "running",
		stopCh:       make(chan struct{}),
		log:          q2150log.For("recorder"),
		session: Session{
			SessionID:     sessionID,
			Mission:       opts.Mission,
			SchemaVersion: opts.SchemaVersion,
			RateHz:        opts.RateHz,
			StartedAt:     time.Now(),
			RollIntervalS: roll.Seconds(),
			ChunkDir:      dir,
			Chunks:        []ChunkRecord{},
		},
	}
	if err := r.writeManifest(); err != nil {
		return nil, err
	}

	r.wg.Add(1)
	go r.drainLoop()
	return r, nil
}

// Status returns the recorder's current live counters.
func (r *Recorder) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	age := 0.0
	if !r.curStart.IsZero() {
		age = time.Since(r.curStart).Seconds()
	}
	return Status{
		State:            r.state,
		Rows:             r.rows,
		Bytes:            r.bytes,
		Chunks:           len(r.session.Chunks),
		CurrentChunkAgeS: age,
	}
}

// Snapshots returns the finalized chunk records so far.
func (r *Recorder) Snapshots() []ChunkRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ChunkRecord, len(r.session.Chunks))
	copy(out, r.session.Chunks)
	return out
}

// Stop signals the drain loop to finish, waits for it to finalize the
// current chunk and write a final manifest, and returns the terminal
// session descriptor.
func (r *Recorder) Stop() Session {
	close(r.stopCh)
	r.wg.Wait()
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

func (r *Recorder) drainLoop() {
	defer r.wg.Done()
	for {
		r.drainOnce()
		select {
		case <-r.stopCh:
			r.drainOnce() // final catch-up pass before finalizing
			r.finalizeAndStop()
			return
		case <-time.After(r.pollInterval):
		}
	}
}

func (r *Recorder) drainOnce() {
	all := r.buf.Snapshot()
	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.Before(all[j].Timestamp) })

	for _, reading := range all {
		if !reading.Timestamp.After(r.lastSeen) {
			continue
		}
		if err := r.appendRow(reading); err != nil {
			r.log.WithError(err).Error("chunk append failed, recorder entering failed state")
			r.mu.Lock()
			r.state = "failed"
			r.mu.Unlock()
			return
		}
		r.lastSeen = reading.Timestamp
	}
	if r.current != nil && time.Since(r.current.startTS) > r.rollInterval {
		if err := r.rotate(); err != nil {
			r.log.WithError(err).Error("chunk rotation failed, recorder entering failed state")
			r.mu.Lock()
			r.state = "failed"
			r.mu.Unlock()
		}
	}
}

func (r *Recorder) appendRow(reading wire.Reading) error {
	if r.current == nil {
		if err := r.openChunk(); err != nil {
			return err
		}
	}
	row := []string{
		reading.Timestamp.Format(time.RFC3339Nano),
		reading.SensorID,
		reading.Mode.String(),
		formatFloat(reading.Value),
		optFloat(reading.TempC),
		optFloat(reading.Vin),
	}
	if err := r.current.cw.Write(row); err != nil {
		return StorageIoError{Op: "write", Path: r.current.tmpPath, Err: err}
	}
	r.current.cw.Flush()
	if err := r.current.cw.Error(); err != nil {
		return StorageIoError{Op: "flush", Path: r.current.tmpPath, Err: err}
	}
	info, err := r.current.f.Stat()
	if err != nil {
		return StorageIoError{Op: "stat", Path: r.current.tmpPath, Err: err}
	}
	r.current.bytes = info.Size()
	r.current.rows++
	if r.current.rows == 1 {
		r.current.startTS = reading.Timestamp
	}
	r.current.endTS = reading.Timestamp

	r.mu.Lock()
	r.rows++
	r.bytes = r.current.bytes
	r.curStart = r.current.startTS
	r.mu.Unlock()
	return nil
}

func (r *Recorder) openChunk() error {
	idx := r.nextIndex
	r.nextIndex++
	name := fmt.Sprintf("chunk_%05d.csv", idx)
	tmpPath := filepath.Join(r.dir, name+".tmp")
	f, err := os.Create(tmpPath)
	if err != nil {
		return StorageIoError{Op: "create", Path: tmpPath, Err: err}
	}
	cw := csv.NewWriter(f)
	cw.UseCRLF = false
	if err := cw.Write(splitHeader()); err != nil {
		f.Close()
		return StorageIoError{Op: "write header", Path: tmpPath, Err: err}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		f.Close()
		return StorageIoError{Op: "flush header", Path: tmpPath, Err: err}
	}
	r.current = &chunkState{f: f, cw: cw, tmpPath: tmpPath, finalName: name, index: idx}
	return nil
}

func splitHeader() []string {
	return strings.Split(csvHeader, ",")
}

// rotate implements the mandatory clear-before-close ordering: locals
// are snapshotted and the recorder's current chunk is cleared before
// the file handle is flushed and closed, so a concurrent opener never
// observes a non-null but already-closed handle.
func (r *Recorder) rotate() error {
	cur := r.current
	if cur == nil {
		return nil
	}
	r.current = nil
	r.mu.Lock()
	r.curStart = time.Time{}
	r.mu.Unlock()

	cur.cw.Flush()
	if err := cur.cw.Error(); err != nil {
		return StorageIoError{Op: "flush", Path: cur.tmpPath, Err: err}
	}
	if err := cur.f.Sync(); err != nil {
		return StorageIoError{Op: "fsync", Path: cur.tmpPath, Err: err}
	}
	if err := cur.f.Close(); err != nil {
		return StorageIoError{Op: "close", Path: cur.tmpPath, Err: err}
	}

	sum, err := hashFile(cur.tmpPath)
	if err != nil {
		return err
	}
	finalPath := filepath.Join(r.dir, cur.finalName)
	if err := os.Rename(cur.tmpPath, finalPath); err != nil {
		return StorageIoError{Op: "rename", Path: finalPath, Err: err}
	}

	rec := ChunkRecord{
		Index:       cur.index,
		Name:        cur.finalName,
		ByteSize:    cur.bytes,
		RowCount:    cur.rows,
		SHA256Hex:   sum,
		StartTS:     cur.startTS,
		EndTS:       cur.endTS,
		FinalizedAt: time.Now(),
	}
	r.mu.Lock()
	r.session.Chunks = append(r.session.Chunks, rec)
	r.mu.Unlock()
	return r.writeManifest()
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", StorageIoError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()
	h := sha256.New()
	buf := make([]byte, 64*1024)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err != nil {
			break
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (r *Recorder) finalizeAndStop() {
	if err := r.rotate(); err != nil {
		r.log.WithError(err).Error("final rotation failed")
	}
	now := time.Now()
	r.mu.Lock()
	r.session.StoppedAt = &now
	if r.state == "running" {
		r.state = "stopped"
	}
	r.mu.Unlock()
	if err := r.writeManifest(); err != nil {
		r.log.WithError(err).Error("final manifest write failed")
	}
}

// writeManifest rewrites manifest.json via write-temp, fsync, rename.
func (r *Recorder) writeManifest() error {
	r.mu.Lock()
	snap := r.session
	snap.Chunks = append([]ChunkRecord(nil), r.session.Chunks...)
	r.mu.Unlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return StorageIoError{Op: "marshal", Path: "manifest.json", Err: err}
	}
	tmpPath := filepath.Join(r.dir, "manifest.json.tmp")
	finalPath := filepath.Join(r.dir, "manifest.json")
	f, err := os.Create(tmpPath)
	if err != nil {
		return StorageIoError{Op: "create", Path: tmpPath, Err: err}
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return StorageIoError{Op: "write", Path: tmpPath, Err: err}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return StorageIoError{Op: "fsync", Path: tmpPath, Err: err}
	}
	if err := f.Close(); err != nil {
		return StorageIoError{Op: "close", Path: tmpPath, Err: err}
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return StorageIoError{Op: "rename", Path: finalPath, Err: err}
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func optFloat(p *float64) string {
	if p == nil {
		return ""
	}
	return formatFloat(*p)
}
