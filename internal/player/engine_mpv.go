//go:build libmpv

package player

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	mpv "github.com/gen2brain/go-mpv"
)

const (
	mpvPauseProperty    = "pause"
	mpvVolumeProperty   = "volume"
	mpvPositionProperty = "time-pos"
)

type mpvEngine struct {
	mu          sync.Mutex
	client      *mpv.Mpv
	onEnded     func()
	onError     func(err error)
	closeOnce   sync.Once
	closed      chan struct{}
	eventLoopWG sync.WaitGroup
}

// NewEngine allocates one audio engine instance. Each slot gets its own
// libmpv handle so both can decode independently during a crossfade.
func NewEngine() (Engine, error) {
	client := mpv.New()
	if client == nil {
		return nil, errors.New("create libmpv instance")
	}

	setOptionString(client, "terminal", "no")
	setOptionString(client, "video", "no")
	setOptionString(client, "audio-display", "no")
	setOptionString(client, "keep-open", "no")

	if err := client.Initialize(); err != nil {
		client.TerminateDestroy()
		return nil, fmt.Errorf("initialize libmpv: %w", err)
	}

	engine := &mpvEngine{
		client: client,
		closed: make(chan struct{}),
	}

	_ = client.RequestEvent(mpv.EventEnd, true)

	engine.eventLoopWG.Add(1)
	go engine.eventLoop()

	return engine, nil
}

func (e *mpvEngine) Load(ctx context.Context, streamURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.client.SetPropertyString(mpvPauseProperty, "yes"); err != nil {
		return fmt.Errorf("set pause before load: %w", err)
	}

	if err := e.client.Command([]string{"loadfile", streamURL, "replace"}); err != nil {
		return fmt.Errorf("load %q: %w", streamURL, err)
	}

	return nil
}

func (e *mpvEngine) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.client.SetPropertyString(mpvPauseProperty, "no"); err != nil {
		return fmt.Errorf("resume playback: %w", err)
	}

	return nil
}

func (e *mpvEngine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.client.SetPropertyString(mpvPauseProperty, "yes"); err != nil {
		return fmt.Errorf("pause playback: %w", err)
	}

	return nil
}

func (e *mpvEngine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.client.Command([]string{"stop"}); err != nil {
		return fmt.Errorf("stop playback: %w", err)
	}

	return nil
}

func (e *mpvEngine) SeekMS(positionMS int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	seconds := float64(positionMS) / 1000.0
	if err := e.client.SetProperty(mpvPositionProperty, mpv.FormatDouble, seconds); err != nil {
		return fmt.Errorf("seek playback: %w", err)
	}

	return nil
}

func (e *mpvEngine) SetVolume(volume float64) error {
	if volume < 0 {
		volume = 0
	}
	if volume > 1 {
		volume = 1
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.client.SetProperty(mpvVolumeProperty, mpv.FormatDouble, volume*100); err != nil {
		return fmt.Errorf("set volume: %w", err)
	}

	return nil
}

func (e *mpvEngine) PositionMS() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	value, err := e.client.GetProperty(mpvPositionProperty, mpv.FormatDouble)
	if err != nil {
		if errors.Is(err, mpv.ErrPropertyUnavailable) || errors.Is(err, mpv.ErrPropertyNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("read %s: %w", mpvPositionProperty, err)
	}

	seconds, ok := asFloat64(value)
	if !ok || math.IsNaN(seconds) || seconds < 0 {
		return 0, nil
	}

	return int(math.Round(seconds * 1000)), nil
}

func (e *mpvEngine) SetOnEnded(callback func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onEnded = callback
}

func (e *mpvEngine) SetOnError(callback func(err error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onError = callback
}

func (e *mpvEngine) Close() error {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		client := e.client
		e.mu.Unlock()

		if client != nil {
			client.Wakeup()
			client.TerminateDestroy()
		}

		e.eventLoopWG.Wait()
		close(e.closed)
	})

	<-e.closed
	return nil
}

func (e *mpvEngine) eventLoop() {
	defer e.eventLoopWG.Done()

	for {
		event := e.client.WaitEvent(0.5)
		if event == nil {
			continue
		}

		switch event.EventID {
		case mpv.EventShutdown:
			return
		case mpv.EventEnd:
			end := event.EndFile()
			switch end.Reason {
			case mpv.EndFileEOF:
				e.mu.Lock()
				onEnded := e.onEnded
				e.mu.Unlock()
				if onEnded != nil {
					onEnded()
				}
			case mpv.EndFileError:
				e.mu.Lock()
				onError := e.onError
				e.mu.Unlock()
				if onError != nil {
					onError(fmt.Errorf("playback ended with error code %d", int(end.Error)))
				}
			}
		}
	}
}

func asFloat64(value any) (float64, bool) {
	switch cast := value.(type) {
	case float64:
		return cast, true
	case float32:
		return float64(cast), true
	case int:
		return float64(cast), true
	case int64:
		return float64(cast), true
	default:
		return 0, false
	}
}

func setOptionString(client *mpv.Mpv, name string, value string) {
	_ = client.SetOptionString(name, value)
}
