// Package batch materializes gap lists into durable units of work. A batch
// file survives process restart, so an interrupted run's remainder is picked
// up by the next invocation, with store existence checks keeping replays
// idempotent.
package batch

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/excessus1/openweather-pub/internal/timekey"
)

// ErrNoWork signals an empty gap list: there is nothing to materialize and
// the run ends cleanly.
var ErrNoWork = errors.New("batch: no missing keys")

// ErrMalformed marks batch file content that is not an array of this
// pipeline's key form. It is a configuration error and aborts the run
// before any remote call.
var ErrMalformed = errors.New("batch: malformed batch file")

// Materializer writes and reads the batch files of one call type. Hourly
// files hold integer epoch seconds, daily files hold YYYY-MM-DD strings.
type Materializer struct {
	Dir         string
	Granularity timekey.Granularity
	Limit       int

	// Now stamps new batch file names. Nil means time.Now.
	Now func() time.Time
}

// Create persists the newest Limit keys of an ascending gap list, newest
// first, and returns the file path. The recency bias keeps a sustained
// backlog from starving fresh data.
func (m Materializer) Create(keys []timekey.Key) (string, error) {
	if len(keys) == 0 {
		return "", ErrNoWork
	}
	limit := m.Limit
	if limit <= 0 || limit > len(keys) {
		limit = len(keys)
	}
	selected := make([]timekey.Key, 0, limit)
	for i := len(keys) - 1; i >= 0 && len(selected) < limit; i-- {
		selected = append(selected, keys[i])
	}

	data, err := json.Marshal(m.encode(selected))
	if err != nil {
		return "", fmt.Errorf("encode batch: %w", err)
	}
	if err := os.MkdirAll(m.Dir, 0o750); err != nil {
		return "", fmt.Errorf("create batch dir: %w", err)
	}

	path, err := m.nextPath()
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write batch file: %w", err)
	}
	return path, nil
}

// Load reads a batch file back into keys in file order. Content that is not
// an array of the expected element form fails with ErrMalformed.
func (m Materializer) Load(path string) ([]timekey.Key, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read batch file: %w", err)
	}
	return m.decode(data)
}

// Archive marks a fully consumed batch file done by renaming it, so the
// next run materializes a fresh one instead of replaying this one.
func (m Materializer) Archive(path string) error {
	if err := os.Rename(path, path+".done"); err != nil {
		return fmt.Errorf("archive batch file: %w", err)
	}
	return nil
}

func (m Materializer) encode(keys []timekey.Key) any {
	if m.Granularity == timekey.Daily {
		out := make([]string, len(keys))
		for i, k := range keys {
			out[i] = k.Date()
		}
		return out
	}
	out := make([]int64, len(keys))
	for i, k := range keys {
		out[i] = int64(k)
	}
	return out
}

func (m Materializer) decode(data []byte) ([]timekey.Key, error) {
	if m.Granularity == timekey.Daily {
		var dates []string
		if err := json.Unmarshal(data, &dates); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		keys := make([]timekey.Key, len(dates))
		for i, d := range dates {
			k, err := timekey.ParseDate(d)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
			}
			keys[i] = k
		}
		return keys, nil
	}

	var epochs []int64
	if err := json.Unmarshal(data, &epochs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	keys := make([]timekey.Key, len(epochs))
	for i, e := range epochs {
		keys[i] = timekey.Key(e)
	}
	return keys, nil
}

// nextPath picks batch_YYYYMMDD_HHMMSS.json, suffixing a counter when two
// batches land within the same second.
func (m Materializer) nextPath() (string, error) {
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	base := "batch_" + now().Format("20060102_150405")

	path := filepath.Join(m.Dir, base+".json")
	for i := 2; ; i++ {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return path, nil
		} else if err != nil {
			return "", fmt.Errorf("probe batch file: %w", err)
		}
		path = filepath.Join(m.Dir, fmt.Sprintf("%s_%d.json", base, i))
	}
}
