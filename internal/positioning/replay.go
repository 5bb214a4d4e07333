package positioning

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/campusride/livelocation/pkg/core"
)

// ReplayRecord is one line of a replay file.
type ReplayRecord struct {
	Lat      float64  `json:"lat"`
	Lng      float64  `json:"lng"`
	Accuracy float64  `json:"accuracy"`
	Speed    *float64 `json:"speed,omitempty"`
	Heading  *float64 `json:"heading,omitempty"`
}

// Replay plays back recorded positions as if they came from a device,
// stamping each with the current time and pacing them at the watch's
// fastest interval.
type Replay struct {
	records []ReplayRecord
	loop    bool
	now     func() time.Time

	mu      sync.Mutex
	cursor  int
	cancels map[ProviderWatchID]context.CancelFunc
	nextID  int
}

// NewReplay creates a provider over records. With loop set playback restarts at the end.
func NewReplay(records []ReplayRecord, loop bool) *Replay {
	return &Replay{
		records: records,
		loop:    loop,
		now:     time.Now,
		cancels: make(map[ProviderWatchID]context.CancelFunc),
	}
}

// LoadReplay reads a JSON-lines replay file.
func LoadReplay(path string, loop bool) (*Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay file: %w", err)
	}
	defer f.Close()

	records, err := ReadReplay(f)
	if err != nil {
		return nil, fmt.Errorf("read replay file %s: %w", path, err)
	}
	return NewReplay(records, loop), nil
}

// ReadReplay parses JSON-lines replay records, skipping blank lines.
func ReadReplay(r io.Reader) ([]ReplayRecord, error) {
	var records []ReplayRecord
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var rec ReplayRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (r *Replay) Available() bool { return len(r.records) > 0 }

func (r *Replay) Permission(context.Context) (core.PermissionState, error) {
	return core.PermissionGranted, nil
}

func (r *Replay) RequestPermission(context.Context) (core.PermissionState, error) {
	return core.PermissionGranted, nil
}

// next returns the next record; ok is false when playback is exhausted.
func (r *Replay) next() (core.PositionSample, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cursor >= len(r.records) {
		if !r.loop || len(r.records) == 0 {
			return core.PositionSample{}, false
		}
		r.cursor = 0
	}
	rec := r.records[r.cursor]
	r.cursor++
	return core.PositionSample{
		Latitude:  rec.Lat,
		Longitude: rec.Lng,
		Accuracy:  rec.Accuracy,
		Speed:     rec.Speed,
		Heading:   rec.Heading,
		Timestamp: r.now().UnixMilli(),
	}, true
}

func (r *Replay) Current(ctx context.Context, _ core.TrackingOptions) (core.PositionSample, error) {
	if err := ctx.Err(); err != nil {
		return core.PositionSample{}, err
	}
	s, ok := r.next()
	if !ok {
		return core.PositionSample{}, core.NewPositionError(core.ErrorPositionUnavailable, "replay exhausted")
	}
	return s, nil
}

func (r *Replay) Watch(opts core.TrackingOptions, onSample SampleFunc, onError ErrorFunc) (ProviderWatchID, error) {
	if !r.Available() {
		return "", core.NewPositionError(core.ErrorUnsupported, "replay has no records")
	}
	interval := opts.FastestInterval
	if interval <= 0 {
		interval = opts.Interval
	}
	if interval <= 0 {
		interval = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.nextID++
	id := ProviderWatchID(fmt.Sprintf("replay-%d", r.nextID))
	r.cancels[id] = cancel
	r.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s, ok := r.next()
				if !ok {
					onError(core.NewPositionError(core.ErrorPositionUnavailable, "replay exhausted"))
					return
				}
				onSample(s)
			}
		}
	}()
	return id, nil
}

func (r *Replay) Clear(id ProviderWatchID) {
	r.mu.Lock()
	cancel, ok := r.cancels[id]
	delete(r.cancels, id)
	r.mu.Unlock()
	if ok {
		cancel()
	}
}
