// Package broadcast fans playback state out to external observers: the
// remote-control server, media-key integrations, rich presence and the like.
// Observers are registered by name and receive coalesced snapshots, so a
// 200ms position tick does not translate into a notification flood.
package broadcast

import (
	"fmt"
	"log/slog"
	"sync"

	"finch/internal/queue"
)

// Position drift smaller than this is treated as normal playback progress;
// anything larger counts as a seek worth reporting.
const seekToleranceMS = 1200

// Snapshot is the externally visible playback state at one instant.
type Snapshot struct {
	Song       *queue.Song `json:"song"`
	PositionMS int         `json:"positionMs"`
	Status     string      `json:"status"`
}

// Observer consumes playback snapshots. Notify must not block; observers
// that talk to slow peers buffer or drop internally.
type Observer interface {
	Name() string
	Notify(snapshot Snapshot) error
}

// Controller is the command surface observers use to drive playback.
type Controller interface {
	Play() error
	Pause() error
	TogglePlayback() error
	Stop() error
	Next() error
	Previous() error
	SeekMS(positionMS int) error
	SetVolume(volume int) error
	SetShuffle(enabled bool) error
	SetRepeatMode(mode string) error
}

// Synchronizer coalesces the playback tick stream per observer: a snapshot
// is delivered only when the track, the status, or the position (beyond the
// seek tolerance) changed since that observer last heard from us.
type Synchronizer struct {
	mu        sync.Mutex
	log       *slog.Logger
	observers []Observer
	history   map[string]*observerHistory
}

// observerHistory separates the two baselines coalescing needs: delivered is
// the last snapshot the observer actually received (track and status changes
// compare against it), while seen is the last snapshot offered at all, so
// the 200ms tick cadence reads as smooth progress rather than an
// ever-growing position delta.
type observerHistory struct {
	delivered Snapshot
	seen      Snapshot
	any       bool
}

func NewSynchronizer(log *slog.Logger) *Synchronizer {
	return &Synchronizer{
		log:     log.With("component", "broadcast"),
		history: make(map[string]*observerHistory),
	}
}

func (s *Synchronizer) Register(observer Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, observer)
}

// Publish offers a snapshot to every observer that has not yet seen an
// equivalent one. A failing or panicking observer is logged and skipped; it
// never blocks delivery to the others.
func (s *Synchronizer) Publish(snapshot Snapshot) {
	s.mu.Lock()
	observers := make([]Observer, len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	for _, observer := range observers {
		name := observer.Name()

		s.mu.Lock()
		hist, ok := s.history[name]
		if !ok {
			hist = &observerHistory{}
			s.history[name] = hist
		}
		due := !hist.any || notable(hist, snapshot)
		hist.seen = snapshot
		hist.any = true
		s.mu.Unlock()

		if !due {
			continue
		}

		if err := s.deliver(observer, snapshot); err != nil {
			s.log.Warn("notify observer", "observer", name, "error", err)
			continue
		}

		s.mu.Lock()
		hist.delivered = snapshot
		s.mu.Unlock()
	}
}

func (s *Synchronizer) deliver(observer Observer, snapshot Snapshot) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("observer panicked: %v", r)
		}
	}()
	return observer.Notify(snapshot)
}

func notable(hist *observerHistory, next Snapshot) bool {
	if snapshotSongID(hist.delivered) != snapshotSongID(next) {
		return true
	}
	if hist.delivered.Status != next.Status {
		return true
	}

	// A seek shows up as a tick-to-tick position jump; ordinary playback
	// advances by one tick interval at a time.
	drift := next.PositionMS - hist.seen.PositionMS
	if drift < 0 {
		drift = -drift
	}
	return drift > seekToleranceMS
}

func snapshotSongID(snapshot Snapshot) string {
	if snapshot.Song == nil {
		return ""
	}
	return snapshot.Song.UniqueID
}
