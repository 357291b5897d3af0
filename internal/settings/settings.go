// Package settings holds the user-adjustable detection display parameters.
//
// The playback loop reads a Snapshot once per frame, so a change made from the
// settings panel takes effect on the next frame of a running pass.
package settings

import (
	"sync"

	"github.com/bryanchriswhite/DetectStreamer/internal/logger"
)

// Settings are the values exposed by the settings panel.
type Settings struct {
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	ShowBoxes           bool    `json:"show_boxes"`
}

// Default returns threshold 0.97 with boxes shown.
func Default() Settings {
	return Settings{ConfidenceThreshold: 0.97, ShowBoxes: true}
}

// Patch is a partial update; nil fields are left unchanged.
type Patch struct {
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
	ShowBoxes           *bool    `json:"show_boxes,omitempty"`
}

// Store is a concurrency-safe holder for the current Settings.
type Store struct {
	mu        sync.RWMutex
	current   Settings
	listeners []chan Settings
}

// NewStore returns a store seeded with initial, clamped to valid ranges.
func NewStore(initial Settings) *Store {
	initial.ConfidenceThreshold = clamp(initial.ConfidenceThreshold)
	return &Store{current: initial}
}

// Snapshot returns the current values.
func (s *Store) Snapshot() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Apply merges p into the current settings and returns the result.
func (s *Store) Apply(p Patch) Settings {
	s.mu.Lock()
	if p.ConfidenceThreshold != nil {
		s.current.ConfidenceThreshold = clamp(*p.ConfidenceThreshold)
	}
	if p.ShowBoxes != nil {
		s.current.ShowBoxes = *p.ShowBoxes
	}
	updated := s.current
	s.mu.Unlock()

	logger.WithComponent("settings").Debug().
		Float64("confidence_threshold", updated.ConfidenceThreshold).
		Bool("show_boxes", updated.ShowBoxes).
		Msg("Settings updated")

	s.notifyListeners(updated)
	return updated
}

// Subscribe adds a listener for settings changes
func (s *Store) Subscribe() chan Settings {
	ch := make(chan Settings, 10)
	s.mu.Lock()
	s.listeners = append(s.listeners, ch)
	s.mu.Unlock()
	return ch
}

// Unsubscribe removes a listener and closes its channel
func (s *Store) Unsubscribe(ch chan Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, listener := range s.listeners {
		if listener == ch {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			close(ch)
			break
		}
	}
}

func (s *Store) notifyListeners(v Settings) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, listener := range s.listeners {
		select {
		case listener <- v:
		default:
			// Slow listener, drop
		}
	}
}

// clamp limits t to [0,1]; NaN becomes 0.
func clamp(t float64) float64 {
	if !(t > 0) {
		return 0
	}
	if t > 1 {
		return 1
	}
	return t
}
