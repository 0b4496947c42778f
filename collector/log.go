package collector

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vxikit/vxidash/model"
)

// maxReadings bounds the on-disk log so it cannot grow without limit.
const maxReadings = 10000

const readingsFileName = "readings.json"

// readingLog is the bounded, file-backed reading store. The whole log is held
// in memory and rewritten on every append, trading write amplification for a
// humanly inspectable JSON file.
type readingLog struct {
	path     string
	mu       sync.Mutex
	readings []model.Reading
}

func openReadingLog(dataDir string) (*readingLog, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %q: %w", dataDir, err)
	}

	rlog := &readingLog{path: filepath.Join(dataDir, readingsFileName)}

	data, err := os.ReadFile(rlog.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := rlog.flushLocked(); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("read readings log: %w", err)
	default:
		// a corrupt log starts over empty rather than blocking startup
		if err := json.Unmarshal(data, &rlog.readings); err != nil {
			rlog.readings = nil
		}
	}

	return rlog, nil
}

func (l *readingLog) append(reading model.Reading) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.readings = append(l.readings, reading)
	if len(l.readings) > maxReadings {
		l.readings = l.readings[len(l.readings)-maxReadings:]
	}

	return l.flushLocked()
}

func (l *readingLog) flushLocked() error {
	readings := l.readings
	if readings == nil {
		readings = []model.Reading{}
	}

	data, err := json.MarshalIndent(readings, "", "  ")
	if err != nil {
		return fmt.Errorf("encode readings log: %w", err)
	}

	if err := os.WriteFile(l.path, data, 0o644); err != nil {
		return fmt.Errorf("write readings log: %w", err)
	}

	return nil
}

func (l *readingLog) latest(limit int) []model.Reading {
	l.mu.Lock()
	defer l.mu.Unlock()

	return tail(l.readings, limit)
}

func (l *readingLog) forSetup(setupID int64, limit int) []model.Reading {
	l.mu.Lock()
	defer l.mu.Unlock()

	var matched []model.Reading
	for _, r := range l.readings {
		if r.SetupID == setupID {
			matched = append(matched, r)
		}
	}

	return tail(matched, limit)
}

func (l *readingLog) byTimeRange(start, end time.Time) []model.Reading {
	l.mu.Lock()
	defer l.mu.Unlock()

	matched := []model.Reading{}
	for _, r := range l.readings {
		if !r.Timestamp.Before(start) && !r.Timestamp.After(end) {
			matched = append(matched, r)
		}
	}

	return matched
}

func (l *readingLog) removeSetup(setupID int64) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.readings[:0]
	removed := 0
	for _, r := range l.readings {
		if r.SetupID == setupID {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	l.readings = kept

	if removed > 0 {
		if err := l.flushLocked(); err != nil {
			return removed
		}
	}

	return removed
}

func tail(readings []model.Reading, limit int) []model.Reading {
	if limit <= 0 || limit > len(readings) {
		limit = len(readings)
	}

	out := make([]model.Reading, limit)
	copy(out, readings[len(readings)-limit:])

	return out
}
