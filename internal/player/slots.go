package player

import (
	"context"
	"fmt"
	"sync"

	"finch/internal/queue"
)

// slot pairs one audio engine with the song it currently holds and its
// crossfade volume multiplier.
type slot struct {
	engine     Engine
	song       *queue.Song
	multiplier float64
}

// SlotManager owns the two interchangeable player slots. Exactly one slot is
// active (audible, driving the clock); the other holds the preloaded next
// song or sits idle. Swapping is an index flip, never pointer juggling.
type SlotManager struct {
	mu     sync.Mutex
	slots  [2]slot
	active int
}

func NewSlotManager(primary Engine, secondary Engine) *SlotManager {
	manager := &SlotManager{}
	manager.slots[0] = slot{engine: primary, multiplier: 1}
	manager.slots[1] = slot{engine: secondary}
	return manager
}

func (m *SlotManager) Engines() [2]Engine {
	m.mu.Lock()
	defer m.mu.Unlock()

	return [2]Engine{m.slots[0].engine, m.slots[1].engine}
}

func (m *SlotManager) ActiveEngine() Engine {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.slots[m.active].engine
}

func (m *SlotManager) InactiveEngine() Engine {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.slots[1-m.active].engine
}

func (m *SlotManager) IsActive(engine Engine) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.slots[m.active].engine == engine
}

func (m *SlotManager) ActiveSong() *queue.Song {
	m.mu.Lock()
	defer m.mu.Unlock()

	return copySong(m.slots[m.active].song)
}

// PreloadedSong returns the song assigned to the inactive slot, if any.
func (m *SlotManager) PreloadedSong() *queue.Song {
	m.mu.Lock()
	defer m.mu.Unlock()

	return copySong(m.slots[1-m.active].song)
}

// LoadInactive loads the song into the inactive slot's engine and records the
// assignment. On load failure the slot is left idle and the error is
// surfaced; slot bookkeeping never breaks on a bad stream.
func (m *SlotManager) LoadInactive(ctx context.Context, song queue.Song) error {
	m.mu.Lock()
	index := 1 - m.active
	engine := m.slots[index].engine
	m.mu.Unlock()

	if err := engine.Load(ctx, song.StreamURL); err != nil {
		m.mu.Lock()
		m.slots[index].song = nil
		m.slots[index].multiplier = 0
		m.mu.Unlock()
		return fmt.Errorf("load stream for %q: %w", song.Title, err)
	}

	m.mu.Lock()
	m.slots[index].song = &song
	m.slots[index].multiplier = 0
	m.mu.Unlock()

	return nil
}

// ClearPreload stops the inactive slot's engine and drops its assignment.
func (m *SlotManager) ClearPreload() {
	m.mu.Lock()
	index := 1 - m.active
	engine := m.slots[index].engine
	m.slots[index].song = nil
	m.slots[index].multiplier = 0
	m.mu.Unlock()

	_ = engine.Stop()
}

// Promote flips the active index: the preloaded slot becomes authoritative at
// full multiplier and the demoted slot is cleared. The demoted engine is
// returned so the caller can stop it; starting the promoted engine is also
// the caller's job.
func (m *SlotManager) Promote() Engine {
	m.mu.Lock()
	demoted := m.active
	m.active = 1 - m.active
	m.slots[m.active].multiplier = 1
	m.slots[demoted].song = nil
	m.slots[demoted].multiplier = 0
	engine := m.slots[demoted].engine
	m.mu.Unlock()

	return engine
}

// SetRamp applies crossfade multipliers: outgoing to the active slot,
// incoming to the inactive one. Engine volumes are scaled by master.
func (m *SlotManager) SetRamp(master float64, outgoing float64, incoming float64) {
	m.mu.Lock()
	m.slots[m.active].multiplier = outgoing
	m.slots[1-m.active].multiplier = incoming
	activeEngine := m.slots[m.active].engine
	inactiveEngine := m.slots[1-m.active].engine
	m.mu.Unlock()

	_ = activeEngine.SetVolume(master * outgoing)
	_ = inactiveEngine.SetVolume(master * incoming)
}

// ApplyVolume reapplies the master volume through each slot's multiplier.
func (m *SlotManager) ApplyVolume(master float64) {
	m.mu.Lock()
	activeEngine := m.slots[m.active].engine
	activeMultiplier := m.slots[m.active].multiplier
	inactiveEngine := m.slots[1-m.active].engine
	inactiveMultiplier := m.slots[1-m.active].multiplier
	m.mu.Unlock()

	_ = activeEngine.SetVolume(master * activeMultiplier)
	_ = inactiveEngine.SetVolume(master * inactiveMultiplier)
}

// Multipliers reports the active and inactive slot multipliers.
func (m *SlotManager) Multipliers() (float64, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.slots[m.active].multiplier, m.slots[1-m.active].multiplier
}

func (m *SlotManager) StopAll() {
	for _, engine := range m.Engines() {
		_ = engine.Stop()
	}
}

// ClearAll stops both engines and drops their assignments. Used on full
// stops: a stopped engine holds no file, so the slot must not keep claiming
// its song.
func (m *SlotManager) ClearAll() {
	m.mu.Lock()
	m.slots[0].song = nil
	m.slots[1].song = nil
	m.slots[m.active].multiplier = 1
	m.slots[1-m.active].multiplier = 0
	m.mu.Unlock()

	m.StopAll()
}

func (m *SlotManager) Close() {
	for _, engine := range m.Engines() {
		_ = engine.Close()
	}
}

func copySong(song *queue.Song) *queue.Song {
	if song == nil {
		return nil
	}

	value := *song
	return &value
}
