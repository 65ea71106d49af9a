// Package capture records received CAN frames to rotating CSV files.
package capture

import (
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/shaunagostinho/canusb/internal/can"
)

// Recorder writes received CAN frames to CSV files with automatic rotation.
type Recorder struct {
	mu      sync.Mutex
	dir     string
	maxRows int
	enabled bool

	file   *os.File
	writer *csv.Writer
	rows   int
	seq    int // rotation counter, keeps names unique within a second
}

// Config holds recorder configuration.
type Config struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	MaxRows int    `yaml:"max_rows" json:"maxRows"` // rotate after this many frames
}

const (
	defaultDir     = "/var/log/canusb"
	defaultMaxRows = 100_000
)

var csvHeader = []string{"timestamp", "id", "extended", "remote", "length", "data"}

// New creates a new Recorder.
func New(cfg Config) *Recorder {
	if cfg.Path == "" {
		cfg.Path = defaultDir
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = defaultMaxRows
	}
	return &Recorder{
		dir:     cfg.Path,
		maxRows: cfg.MaxRows,
		enabled: cfg.Enabled,
	}
}

// SetEnabled allows toggling capture at runtime.
func (r *Recorder) SetEnabled(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = on
	if !on && r.file != nil {
		r.closeFile()
	}
}

// IsEnabled returns whether capture is active.
func (r *Recorder) IsEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

// Record appends frames, all stamped with ts.
func (r *Recorder) Record(ts time.Time, frames []can.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.enabled || len(frames) == 0 {
		return
	}

	for _, m := range frames {
		if r.writer == nil || r.rows >= r.maxRows {
			if err := r.rotateFile(ts); err != nil {
				log.Printf("[capture] rotate failed: %v", err)
				return
			}
		}
		if err := r.writer.Write(buildRow(ts, m)); err != nil {
			log.Printf("[capture] write failed: %v", err)
			return
		}
		r.rows++
	}
	r.writer.Flush()
}

// Close flushes and closes the current capture file.
func (r *Recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeFile()
}

func (r *Recorder) rotateFile(now time.Time) error {
	r.closeFile()

	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", r.dir, err)
	}

	filename := fmt.Sprintf("canusb_%s_%04d.csv", now.Format("2006-01-02_150405"), r.seq)
	r.seq++
	path := filepath.Join(r.dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	r.file = f
	r.writer = csv.NewWriter(f)
	r.rows = 0

	if err := r.writer.Write(csvHeader); err != nil {
		return err
	}
	r.writer.Flush()

	log.Printf("[capture] opened %s", path)
	return nil
}

func (r *Recorder) closeFile() {
	if r.writer != nil {
		r.writer.Flush()
		r.writer = nil
	}
	if r.file != nil {
		r.file.Close()
		r.file = nil
	}
}

func buildRow(ts time.Time, m can.Message) []string {
	id := fmt.Sprintf("%03X", m.ID)
	if m.Extended {
		id = fmt.Sprintf("%08X", m.ID)
	}
	return []string{
		ts.Format(time.RFC3339Nano),
		id,
		boolStr(m.Extended),
		boolStr(m.RemoteRequest),
		strconv.Itoa(int(m.Length)),
		hex.EncodeToString(m.Data()),
	}
}

func boolStr(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
