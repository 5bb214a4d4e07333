package positioning

import (
	"context"
	"fmt"
	"sync"

	"github.com/campusride/livelocation/pkg/core"
)

// Scripted is an in-process Provider driven by explicit Emit/Fail calls.
// It backs the simulator and tests; it also satisfies BackgroundProvider.
type Scripted struct {
	mu         sync.Mutex
	available  bool
	permission core.PermissionState
	bgGranted  bool
	current    *core.PositionSample
	currentErr error
	watchers   map[ProviderWatchID]scriptedWatcher
	nextID     int
}

type scriptedWatcher struct {
	onSample   SampleFunc
	onError    ErrorFunc
	background bool
}

// NewScripted creates an available provider with permission granted.
func NewScripted() *Scripted {
	return &Scripted{
		available:  true,
		permission: core.PermissionGranted,
		bgGranted:  true,
		watchers:   make(map[ProviderWatchID]scriptedWatcher),
	}
}

// SetAvailable toggles availability.
func (s *Scripted) SetAvailable(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.available = v
}

// SetPermission sets the foreground permission state.
func (s *Scripted) SetPermission(p core.PermissionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.permission = p
}

// SetBackgroundGranted controls whether background watchers are authorized.
func (s *Scripted) SetBackgroundGranted(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bgGranted = v
}

// SetCurrent sets what Current returns.
func (s *Scripted) SetCurrent(sample core.PositionSample, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = &sample
	s.currentErr = err
}

func (s *Scripted) Available() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available
}

func (s *Scripted) Permission(context.Context) (core.PermissionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permission, nil
}

func (s *Scripted) RequestPermission(context.Context) (core.PermissionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.permission == core.PermissionPrompt {
		s.permission = core.PermissionGranted
	}
	return s.permission, nil
}

func (s *Scripted) Current(ctx context.Context, _ core.TrackingOptions) (core.PositionSample, error) {
	s.mu.Lock()
	cur, err := s.current, s.currentErr
	s.mu.Unlock()
	if err != nil {
		return core.PositionSample{}, err
	}
	if cur == nil {
		// nothing scripted: behave like a fix that never arrives
		<-ctx.Done()
		return core.PositionSample{}, ctx.Err()
	}
	return *cur, nil
}

func (s *Scripted) Watch(_ core.TrackingOptions, onSample SampleFunc, onError ErrorFunc) (ProviderWatchID, error) {
	return s.add(onSample, onError, false)
}

func (s *Scripted) Clear(id ProviderWatchID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.watchers, id)
}

// Supported reports background support.
func (s *Scripted) Supported() bool { return true }

// AddWatcher registers a background watcher; it fails with PermissionDenied
// when background access is not granted.
func (s *Scripted) AddWatcher(_ core.TrackingOptions, onSample SampleFunc, onError ErrorFunc) (ProviderWatchID, error) {
	s.mu.Lock()
	granted := s.bgGranted
	s.mu.Unlock()
	if !granted {
		return "", core.NewPositionError(core.ErrorPermissionDenied, "background location not authorized")
	}
	return s.add(onSample, onError, true)
}

func (s *Scripted) RemoveWatcher(id ProviderWatchID) {
	s.Clear(id)
}

func (s *Scripted) add(onSample SampleFunc, onError ErrorFunc, background bool) (ProviderWatchID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.available {
		return "", core.NewPositionError(core.ErrorUnsupported, "geolocation not available")
	}
	if !background && s.permission == core.PermissionDenied {
		return "", core.NewPositionError(core.ErrorPermissionDenied, "permission denied")
	}
	s.nextID++
	id := ProviderWatchID(fmt.Sprintf("w%d", s.nextID))
	s.watchers[id] = scriptedWatcher{onSample: onSample, onError: onError, background: background}
	return id, nil
}

func (s *Scripted) snapshot(background *bool) []scriptedWatcher {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]scriptedWatcher, 0, len(s.watchers))
	for _, w := range s.watchers {
		if background != nil && w.background != *background {
			continue
		}
		out = append(out, w)
	}
	return out
}

// Emit delivers a sample to every active watcher synchronously.
func (s *Scripted) Emit(sample core.PositionSample) {
	for _, w := range s.snapshot(nil) {
		w.onSample(sample)
	}
}

// Fail delivers err to every active watcher synchronously.
func (s *Scripted) Fail(err error) {
	for _, w := range s.snapshot(nil) {
		w.onError(err)
	}
}

// FailBackground delivers err only to background watchers.
func (s *Scripted) FailBackground(err error) {
	bg := true
	for _, w := range s.snapshot(&bg) {
		w.onError(err)
	}
}

// Active returns the number of registered watchers.
func (s *Scripted) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watchers)
}

// ActiveBackground returns the number of registered background watchers.
func (s *Scripted) ActiveBackground() int {
	bg := true
	return len(s.snapshot(&bg))
}
