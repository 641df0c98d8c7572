// Package recorder drains a ring buffer into a directory of chunked CSV
// files plus a JSON manifest, rotating chunks on a wall-clock interval
// with atomic, crash-safe publication.
package recorder

import "time"

// ChunkRecord describes one finalized chunk file. Immutable once
// appended to a Session.
type ChunkRecord struct {
	Index       int       `json:"index"`
	Name        string    `json:"name"`
	ByteSize    int64     `json:"byte_size"`
	RowCount    int       `json:"row_count"`
	SHA256Hex   string    `json:"sha256_hex"`
	StartTS     time.Time `json:"start_ts"`
	EndTS       time.Time `json:"end_ts"`
	FinalizedAt time.Time `json:"finalized_at"`
}

// Session describes one recorder run: its identity, parameters, and the
// ordered list of chunks finalized so far.
type Session struct {
	SessionID     string        `json:"session_id"`
	Mission       string        `json:"mission"`
	SchemaVersion string        `json:"schema_version"`
	RateHz        float64       `json:"rate_hz"`
	StartedAt     time.Time     `json:"started_at"`
	StoppedAt     *time.Time    `json:"stopped_at,omitempty"`
	RollIntervalS float64       `json:"roll_interval_s"`
	ChunkDir      string        `json:"-"`
	Chunks        []ChunkRecord `json:"chunks"`
}

// Options configures a recorder Start.
type Options struct {
	SessionID     string // optional; a uuid is generated when empty
	ChunkDir      string
	Mission       string
	SchemaVersion string
	RateHz        float64
	RollInterval  time.Duration
	PollInterval  time.Duration
}

// Status is the recorder's live state, safe to poll concurrently with
// the drain goroutine.
type Status struct {
	State            string
	Rows             int
	Bytes            int64
	Chunks           int
	CurrentChunkAgeS float64
}
