package timekey

import (
	"errors"
	"fmt"
	"time"
)

// Granularity selects the stride of a pipeline's time buckets.
type Granularity string

const (
	Hourly Granularity = "hourly"
	Daily  Granularity = "daily"
)

// Stride returns the spacing between consecutive keys.
func (g Granularity) Stride() time.Duration {
	if g == Daily {
		return 24 * time.Hour
	}
	return time.Hour
}

func (g Granularity) Valid() bool { return g == Hourly || g == Daily }

// Key is one expected observation bucket, held as UTC epoch seconds.
// Keys are ordered and unique per (location, granularity).
type Key int64

func FromTime(t time.Time) Key { return Key(t.Unix()) }

func (k Key) Time() time.Time { return time.Unix(int64(k), 0).UTC() }

func (k Key) String() string { return k.Time().Format("2006-01-02 15:04") }

// Date renders the key as a calendar date, the form daily batch files carry.
func (k Key) Date() string { return k.Time().Format("2006-01-02") }

// ParseDate converts a calendar-date string to the key of that date's
// midnight UTC bucket.
func ParseDate(s string) (Key, error) {
	t, err := time.ParseInLocation("2006-01-02", s, time.UTC)
	if err != nil {
		return 0, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return FromTime(t), nil
}

// ErrWindow marks a backwards history window. It is a configuration error:
// the run must abort before any work starts.
var ErrWindow = errors.New("history window start must be more recent than stop")

// Window is an inclusive [Stop, Start] range with Stop chronologically
// before Start. Keys are generated from Stop in Granularity strides, so the
// stop boundary fixes the bucket alignment for the whole window.
type Window struct {
	Stop  time.Time
	Start time.Time
}

func (w Window) Validate() error {
	if !w.Start.After(w.Stop) {
		return fmt.Errorf("%w: start=%s stop=%s", ErrWindow,
			w.Start.Format(time.DateTime), w.Stop.Format(time.DateTime))
	}
	return nil
}

// Sequence returns every key of the regular g-strided series inside the
// window, ascending. The series begins at Stop and ends at the last stride
// not after Start.
func (w Window) Sequence(g Granularity) []Key {
	if !w.Start.After(w.Stop) {
		return nil
	}
	stride := g.Stride()
	n := int(w.Start.Sub(w.Stop)/stride) + 1
	keys := make([]Key, 0, n)
	for t := w.Stop; !t.After(w.Start); t = t.Add(stride) {
		keys = append(keys, FromTime(t))
	}
	return keys
}

// Contains reports whether k falls inside the window bounds.
func (w Window) Contains(k Key) bool {
	t := k.Time()
	return !t.Before(w.Stop) && !t.After(w.Start)
}

// RecentStart is the config value that resolves the window start to
// "yesterday at 23:00" so repeated runs keep catching up to now.
const RecentStart = "recent"

// ResolveStart parses a configured window start. The special value "recent"
// resolves against now; anything else must be a "2006-01-02 15:04:05"
// timestamp.
func ResolveStart(value string, now time.Time) (time.Time, error) {
	if value == RecentStart {
		y := now.AddDate(0, 0, -1)
		return time.Date(y.Year(), y.Month(), y.Day(), 23, 0, 0, 0, now.Location()), nil
	}
	t, err := time.ParseInLocation(time.DateTime, value, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid history start %q: %w", value, err)
	}
	return t, nil
}

// ParseStop parses a configured window stop timestamp.
func ParseStop(value string) (time.Time, error) {
	t, err := time.ParseInLocation(time.DateTime, value, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid history stop %q: %w", value, err)
	}
	return t, nil
}
