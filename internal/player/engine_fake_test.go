package player

import (
	"context"
	"errors"
	"sync"
)

// fakeEngine is an in-memory Engine with a settable playback position, so
// tests drive the transition clock directly.
type fakeEngine struct {
	mu       sync.Mutex
	loaded   string
	playing  bool
	volume   float64
	position int
	failURL  string
	onEnded  func()
	onError  func(error)
}

var errFakeLoad = errors.New("stream unavailable")

func (e *fakeEngine) Load(_ context.Context, streamURL string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.failURL != "" && e.failURL == streamURL {
		return errFakeLoad
	}
	e.loaded = streamURL
	e.playing = false
	e.position = 0
	return nil
}

func (e *fakeEngine) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.playing = true
	return nil
}

func (e *fakeEngine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.playing = false
	return nil
}

func (e *fakeEngine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.playing = false
	e.loaded = ""
	e.position = 0
	return nil
}

func (e *fakeEngine) SeekMS(positionMS int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.position = positionMS
	return nil
}

func (e *fakeEngine) SetVolume(volume float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.volume = volume
	return nil
}

func (e *fakeEngine) PositionMS() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.position, nil
}

func (e *fakeEngine) SetOnEnded(callback func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onEnded = callback
}

func (e *fakeEngine) SetOnError(callback func(error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onError = callback
}

func (e *fakeEngine) Close() error {
	return e.Stop()
}

func (e *fakeEngine) setPosition(positionMS int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.position = positionMS
}

func (e *fakeEngine) snapshot() (loaded string, playing bool, volume float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loaded, e.playing, e.volume
}

func (e *fakeEngine) endOfFile() {
	e.mu.Lock()
	callback := e.onEnded
	e.mu.Unlock()

	if callback != nil {
		callback()
	}
}
