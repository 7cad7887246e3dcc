package player

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"finch/internal/broadcast"
	"finch/internal/config"
	"finch/internal/queue"
	"finch/internal/transition"
)

const (
	EventStateChanged = "player:state"

	tickInterval = 200 * time.Millisecond

	// Previous restarts the current track instead of moving the cursor when
	// playback is past this position.
	previousRestartThresholdMS = 3000
)

type Status string

const (
	StatusStopped Status = "stopped"
	StatusPaused  Status = "paused"
	StatusPlaying Status = "playing"
)

type State struct {
	Status     Status      `json:"status"`
	Song       *queue.Song `json:"song"`
	PositionMS int         `json:"positionMs"`
	DurationMS int         `json:"durationMs"`
	Volume     int         `json:"volume"`
	Transition string      `json:"transition"`
}

// Notifier receives playback incidents worth surfacing to the user.
type Notifier interface {
	LoadFailed(song queue.Song, err error)
	TrackChanged(song queue.Song)
}

type Emitter func(eventName string, payload any)

// Service owns the two engine slots and drives playback of the queue's
// current song, handing off between slots per the configured transition
// style. All public operations take the service lock; engine loads happen on
// worker goroutines serialized by loadMu so the lock is never held across
// network or file I/O.
type Service struct {
	mu    sync.Mutex
	db    *sql.DB
	log   *slog.Logger
	queue *queue.Service
	slots *SlotManager
	sched *transition.Scheduler

	style   transition.Style
	curve   transition.Curve
	fadeMS  int
	notify  bool
	status  Status
	volume  int
	posMS   int
	loadGen int

	// loadMu serializes engine loads across activation and preloading.
	loadMu sync.Mutex

	tickStop chan struct{}
	tickDone chan struct{}

	emit     Emitter
	sync     *broadcast.Synchronizer
	notifier Notifier

	// lastPlannedUniqueID gates re-planning so cosmetic queue edits during a
	// ramp do not reset the schedule for the track already playing.
	lastPlannedUniqueID string
}

func NewService(db *sql.DB, q *queue.Service, primary, secondary Engine, settings config.Settings, log *slog.Logger) *Service {
	s := &Service{
		db:     db,
		log:    log.With("component", "player"),
		queue:  q,
		slots:  NewSlotManager(primary, secondary),
		status: StatusStopped,
		volume: loadVolume(db, log),
	}
	s.sched = transition.NewScheduler(&hostAdapter{s: s}, log)
	s.ApplySettings(settings)

	for _, e := range s.slots.Engines() {
		e := e
		e.SetOnEnded(func() { s.onEngineEnded(e) })
		e.SetOnError(func(err error) { s.onEngineError(e, err) })
	}
	s.slots.ApplyVolume(masterGain(s.volume))

	q.SetOnChange(s.onQueueChanged)
	return s
}

func (s *Service) SetEmitter(emit Emitter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emit = emit
}

func (s *Service) SetSynchronizer(sync *broadcast.Synchronizer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sync = sync
}

func (s *Service) SetNotifier(n Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifier = n
}

// ApplySettings adopts the transition configuration and re-plans the current
// track's handoff. An in-flight transition is canceled; the preload is
// rebuilt for the new plan.
func (s *Service) ApplySettings(settings config.Settings) {
	s.cancelTransition()

	s.mu.Lock()
	s.style = styleFromSettings(settings)
	s.curve = curveFromSettings(settings)
	s.fadeMS = settings.CrossfadeDurationMS
	s.notify = settings.NotifyOnTrackChange
	s.lastPlannedUniqueID = ""
	s.mu.Unlock()

	if song := s.queue.CurrentSong(); song != nil {
		s.planFor(*song)
		go s.refreshPreload()
	}
}

func (s *Service) GetState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Service) Play() (State, error) {
	s.mu.Lock()
	if s.queue.GetState().Total == 0 {
		s.mu.Unlock()
		return State{}, queue.ErrEmptyQueue
	}
	if s.queue.CurrentSong() == nil {
		s.status = StatusPlaying
		s.mu.Unlock()
		// Moving the cursor triggers onQueueChanged, which activates and
		// starts the song because status is already playing.
		s.queue.Advance(queue.DirectionNext, false)
		return s.GetState(), nil
	}

	engine := s.slots.ActiveEngine()
	active := s.slots.ActiveSong()
	current := s.queue.CurrentSong()
	needsActivation := active == nil || active.UniqueID != current.UniqueID
	s.status = StatusPlaying
	gen := s.bumpGenLocked()
	s.ensureTickerLocked()
	s.mu.Unlock()

	if needsActivation {
		go s.activateSong(gen, *current, true)
		return s.GetState(), nil
	}
	if err := engine.Play(); err != nil {
		return State{}, err
	}
	// Pausing drops the preload; resuming has to rebuild it or the next
	// boundary falls back to a cold load.
	go s.refreshPreload()
	s.publish()
	return s.GetState(), nil
}

func (s *Service) Pause() (State, error) {
	s.cancelTransition()

	s.mu.Lock()
	engine := s.slots.ActiveEngine()
	s.status = StatusPaused
	s.stopTickerLocked()
	s.mu.Unlock()

	if err := engine.Pause(); err != nil {
		return State{}, err
	}
	s.publish()
	return s.GetState(), nil
}

func (s *Service) TogglePlayback() (State, error) {
	s.mu.Lock()
	playing := s.status == StatusPlaying
	s.mu.Unlock()

	if playing {
		return s.Pause()
	}
	return s.Play()
}

func (s *Service) Stop() (State, error) {
	s.cancelTransition()

	s.mu.Lock()
	s.status = StatusStopped
	s.posMS = 0
	s.bumpGenLocked()
	s.stopTickerLocked()
	s.mu.Unlock()

	s.slots.ClearAll()
	s.publish()
	return s.GetState(), nil
}

// Next moves to the following track. A manual skip always advances even when
// repeat-one is active; repeat-one only captures automatic track boundaries.
func (s *Service) Next() (State, error) {
	s.cancelTransition()

	// When the cursor falls off the end without repeat, it clears and
	// onQueueChanged stops playback; either way the new state is the answer.
	s.queue.Advance(queue.DirectionNext, false)
	return s.GetState(), nil
}

// Previous restarts the current track when more than three seconds in,
// otherwise steps back. At the head of the queue it restarts as well.
func (s *Service) Previous() (State, error) {
	s.mu.Lock()
	pos := s.posMS
	s.mu.Unlock()

	if pos > previousRestartThresholdMS {
		return s.SeekMS(0)
	}

	s.cancelTransition()
	if _, moved := s.queue.Advance(queue.DirectionPrevious, false); !moved {
		return s.SeekMS(0)
	}
	return s.GetState(), nil
}

func (s *Service) SeekMS(positionMS int) (State, error) {
	if positionMS < 0 {
		positionMS = 0
	}
	s.cancelTransition()

	s.mu.Lock()
	engine := s.slots.ActiveEngine()
	s.posMS = positionMS
	s.mu.Unlock()

	if err := engine.SeekMS(positionMS); err != nil {
		return State{}, err
	}
	go s.refreshPreload()
	s.publish()
	return s.GetState(), nil
}

func (s *Service) SetVolume(volume int) (State, error) {
	if volume < 0 {
		volume = 0
	}
	if volume > 100 {
		volume = 100
	}

	s.mu.Lock()
	s.volume = volume
	s.mu.Unlock()

	s.slots.ApplyVolume(masterGain(volume))
	s.persistVolume(volume)
	s.publish()
	return s.GetState(), nil
}

func (s *Service) Volume() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// Controller exposes the service to observers that only need commands.
func (s *Service) Controller() broadcast.Controller {
	return &controllerAdapter{s: s}
}

func (s *Service) Close() {
	s.mu.Lock()
	s.stopTickerLocked()
	s.bumpGenLocked()
	s.mu.Unlock()
	s.slots.Close()
}

// onQueueChanged reacts to every queue mutation. Three cases: the cursor
// cleared (stop), the active slot already plays the current song (cosmetic
// edit or a handoff this service initiated), or the current song changed
// externally (load it cold).
func (s *Service) onQueueChanged(qs queue.State) {
	if qs.CurrentSong == nil {
		s.cancelTransition()
		s.mu.Lock()
		s.status = StatusStopped
		s.posMS = 0
		s.bumpGenLocked()
		s.stopTickerLocked()
		s.mu.Unlock()
		s.slots.ClearAll()
		s.publish()
		return
	}

	active := s.slots.ActiveSong()
	if active != nil && active.UniqueID == qs.CurrentSong.UniqueID {
		s.planFor(*qs.CurrentSong)
		go s.refreshPreload()
		s.publish()
		return
	}

	s.cancelTransition()
	s.mu.Lock()
	s.posMS = 0
	gen := s.bumpGenLocked()
	startPlaying := s.status == StatusPlaying
	s.mu.Unlock()

	go s.activateSong(gen, *qs.CurrentSong, startPlaying)
}

// activateSong loads song into the inactive slot and promotes it. gen guards
// against the queue moving on while the load was in flight.
func (s *Service) activateSong(gen int, song queue.Song, startPlaying bool) {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	if s.stale(gen) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.slots.LoadInactive(ctx, song); err != nil {
		s.handleLoadFailure(song, err)
		return
	}

	current := s.queue.CurrentSong()
	if s.stale(gen) || current == nil || current.UniqueID != song.UniqueID {
		s.slots.ClearPreload()
		return
	}

	demoted := s.slots.Promote()
	if err := demoted.Stop(); err != nil {
		s.log.Warn("stop demoted slot", "error", err)
	}
	s.slots.ApplyVolume(masterGain(s.Volume()))

	s.mu.Lock()
	s.posMS = 0
	notify := s.notify
	s.mu.Unlock()

	if startPlaying {
		if err := s.slots.ActiveEngine().Play(); err != nil {
			s.handleLoadFailure(song, err)
			return
		}
		s.mu.Lock()
		s.ensureTickerLocked()
		s.mu.Unlock()
	}

	s.planFor(song)
	if notify && s.notifier != nil && startPlaying {
		s.notifier.TrackChanged(song)
	}
	go s.refreshPreload()
	s.publish()
}

// refreshPreload keeps the inactive slot holding the queue's lookahead song.
func (s *Service) refreshPreload() {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	next := s.queue.Lookahead()
	if next == nil {
		s.slots.ClearPreload()
		return
	}
	if loaded := s.slots.PreloadedSong(); loaded != nil && loaded.UniqueID == next.UniqueID {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.slots.LoadInactive(ctx, *next); err != nil {
		s.log.Warn("preload next song", "title", next.Title, "error", err)
	}
}

// handleLoadFailure reports the broken song and skips past it. The advance is
// non-automatic so repeat-one cannot pin playback to an unloadable track.
func (s *Service) handleLoadFailure(song queue.Song, err error) {
	s.log.Error("load song", "title", song.Title, "error", err)
	if s.notifier != nil {
		s.notifier.LoadFailed(song, err)
	}
	s.queue.Advance(queue.DirectionNext, false)
}

func (s *Service) onEngineEnded(e Engine) {
	if !s.slots.IsActive(e) {
		return
	}
	s.mu.Lock()
	playing := s.status == StatusPlaying
	s.mu.Unlock()
	if !playing {
		return
	}
	s.sched.OnEnded()
}

func (s *Service) onEngineError(e Engine, err error) {
	if s.slots.IsActive(e) {
		song := s.slots.ActiveSong()
		if song == nil {
			s.log.Error("engine error with no active song", "error", err)
			return
		}
		s.handleLoadFailure(*song, err)
		return
	}
	s.log.Warn("preload slot engine error", "error", err)
	s.slots.ClearPreload()
}

// planFor installs the transition schedule for song unless it is already the
// planned track, so queue edits mid-ramp do not restart the schedule.
func (s *Service) planFor(song queue.Song) {
	s.mu.Lock()
	if s.lastPlannedUniqueID == song.UniqueID {
		s.mu.Unlock()
		return
	}
	s.lastPlannedUniqueID = song.UniqueID
	plan := transition.ComputePlan(song.DurationMS, s.style, s.curve, s.fadeMS)
	s.mu.Unlock()

	s.sched.SetPlan(plan)
}

// cancelTransition abandons any pending or in-flight handoff. The inactive
// slot is stopped and its preload dropped: after a partial ramp its playback
// position is mid-track, so it must be reloaded before it can serve again.
// The active slot's multiplier goes back to full so a track interrupted
// mid-fade does not keep playing at the partial level.
func (s *Service) cancelTransition() {
	s.sched.Cancel()
	s.slots.ClearPreload()
	s.slots.SetRamp(masterGain(s.Volume()), 1, 0)
}

func (s *Service) tickLoop(stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Service) tick() {
	s.mu.Lock()
	if s.status != StatusPlaying {
		s.mu.Unlock()
		return
	}
	engine := s.slots.ActiveEngine()
	s.mu.Unlock()

	pos, err := engine.PositionMS()
	if err != nil {
		return
	}

	s.mu.Lock()
	s.posMS = pos
	s.mu.Unlock()

	// The scheduler may call back into queue and slots; the service lock
	// must not be held here.
	s.sched.OnTick(pos)
	s.publish()
}

func (s *Service) ensureTickerLocked() {
	if s.tickStop != nil {
		return
	}
	s.tickStop = make(chan struct{})
	s.tickDone = make(chan struct{})
	go s.tickLoop(s.tickStop, s.tickDone)
}

func (s *Service) stopTickerLocked() {
	if s.tickStop == nil {
		return
	}
	close(s.tickStop)
	s.tickStop = nil
	s.tickDone = nil
}

func (s *Service) bumpGenLocked() int {
	s.loadGen++
	return s.loadGen
}

func (s *Service) stale(gen int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen != s.loadGen
}

func (s *Service) snapshotLocked() State {
	song := s.queue.CurrentSong()
	duration := 0
	if song != nil {
		duration = song.DurationMS
	}
	return State{
		Status:     s.status,
		Song:       song,
		PositionMS: s.posMS,
		DurationMS: duration,
		Volume:     s.volume,
		Transition: string(s.style),
	}
}

func (s *Service) publish() {
	s.mu.Lock()
	state := s.snapshotLocked()
	emit := s.emit
	syncer := s.sync
	s.mu.Unlock()

	if emit != nil {
		emit(EventStateChanged, state)
	}
	if syncer != nil {
		syncer.Publish(broadcast.Snapshot{
			Song:       state.Song,
			PositionMS: state.PositionMS,
			Status:     string(state.Status),
		})
	}
}

func (s *Service) persistVolume(volume int) {
	_, err := s.db.Exec(`
		INSERT INTO playback_state (id, volume, updated_at)
		VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET volume = excluded.volume, updated_at = excluded.updated_at`,
		volume, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		s.log.Warn("persist volume", "error", err)
	}
}

func loadVolume(db *sql.DB, log *slog.Logger) int {
	var volume int
	err := db.QueryRow(`SELECT volume FROM playback_state WHERE id = 1`).Scan(&volume)
	if err != nil {
		if err != sql.ErrNoRows {
			log.Warn("load volume", "error", err)
		}
		return 80
	}
	if volume < 0 || volume > 100 {
		return 80
	}
	return volume
}

func masterGain(volume int) float64 {
	return float64(volume) / 100
}

func styleFromSettings(settings config.Settings) transition.Style {
	switch settings.PlaybackStyle {
	case config.PlaybackStyleCrossfade:
		return transition.StyleCrossfade
	case config.PlaybackStyleGapless:
		return transition.StyleGapless
	default:
		return transition.StyleNone
	}
}

func curveFromSettings(settings config.Settings) transition.Curve {
	if settings.CrossfadeCurve == config.CrossfadeCurveLinear {
		return transition.CurveLinear
	}
	return transition.CurveEqualPower
}

// hostAdapter lets the transition scheduler drive slot and queue changes
// without holding the service lock.
type hostAdapter struct {
	s *Service
}

func (h *hostAdapter) StartNext(silent bool) bool {
	s := h.s
	if s.slots.PreloadedSong() == nil {
		return false
	}

	gain := masterGain(s.Volume())
	if silent {
		active, _ := s.slots.Multipliers()
		s.slots.SetRamp(gain, active, 0)
	} else {
		s.slots.SetRamp(gain, 1, 1)
	}
	if err := s.slots.InactiveEngine().Play(); err != nil {
		s.log.Warn("start preloaded slot", "error", err)
		return false
	}
	return true
}

func (h *hostAdapter) SetRamp(outgoing, incoming float64) {
	s := h.s
	s.slots.SetRamp(masterGain(s.Volume()), outgoing, incoming)
}

// CompleteHandoff promotes the preloaded slot and advances the queue cursor
// as an automatic boundary, so repeat-one is honored.
func (h *hostAdapter) CompleteHandoff() {
	s := h.s

	demoted := s.slots.Promote()
	if err := demoted.Stop(); err != nil {
		s.log.Warn("stop faded-out slot", "error", err)
	}
	s.slots.ApplyVolume(masterGain(s.Volume()))

	s.mu.Lock()
	s.posMS = 0
	notify := s.notify
	s.mu.Unlock()

	if song := s.slots.ActiveSong(); song != nil {
		s.mu.Lock()
		s.lastPlannedUniqueID = song.UniqueID
		plan := transition.ComputePlan(song.DurationMS, s.style, s.curve, s.fadeMS)
		s.mu.Unlock()
		s.sched.SetPlan(plan)
		if notify && s.notifier != nil {
			s.notifier.TrackChanged(*song)
		}
	}

	// The cursor move triggers onQueueChanged, which sees the active slot
	// already playing the new current song and only refreshes the preload.
	s.queue.Advance(queue.DirectionNext, true)
	s.publish()
}

// HardCut is the no-overlap boundary: promote a ready preload immediately at
// full volume, or fall back to advancing the queue and loading cold.
func (h *hostAdapter) HardCut() {
	s := h.s

	if s.slots.PreloadedSong() != nil {
		s.slots.SetRamp(masterGain(s.Volume()), 0, 1)
		if err := s.slots.InactiveEngine().Play(); err == nil {
			h.CompleteHandoff()
			return
		}
	}

	s.queue.Advance(queue.DirectionNext, true)
}

type controllerAdapter struct {
	s *Service
}

func (c *controllerAdapter) Play() error               { _, err := c.s.Play(); return err }
func (c *controllerAdapter) Pause() error              { _, err := c.s.Pause(); return err }
func (c *controllerAdapter) TogglePlayback() error     { _, err := c.s.TogglePlayback(); return err }
func (c *controllerAdapter) Stop() error               { _, err := c.s.Stop(); return err }
func (c *controllerAdapter) Next() error               { _, err := c.s.Next(); return err }
func (c *controllerAdapter) Previous() error           { _, err := c.s.Previous(); return err }
func (c *controllerAdapter) SeekMS(positionMS int) error {
	_, err := c.s.SeekMS(positionMS)
	return err
}
func (c *controllerAdapter) SetVolume(volume int) error {
	_, err := c.s.SetVolume(volume)
	return err
}

func (c *controllerAdapter) SetShuffle(enabled bool) error {
	c.s.queue.SetShuffle(enabled)
	return nil
}

func (c *controllerAdapter) SetRepeatMode(mode string) error {
	_, err := c.s.queue.SetRepeatMode(mode)
	return err
}
