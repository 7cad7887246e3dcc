package player

import "context"

// Engine is the binding to one underlying audio engine instance. The core
// owns two of these, one per slot; it never decodes or outputs audio itself.
// Volume is the absolute output level for the instance, 0..1.
type Engine interface {
	Load(ctx context.Context, streamURL string) error
	Play() error
	Pause() error
	Stop() error
	SeekMS(positionMS int) error
	SetVolume(volume float64) error
	PositionMS() (int, error)
	SetOnEnded(callback func())
	SetOnError(callback func(err error))
	Close() error
}
