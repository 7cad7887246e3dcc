package transition

import (
	"log/slog"
	"sync"
)

type Phase int

const (
	// PhaseSteady: active slot playing, handoff not yet due.
	PhaseSteady Phase = iota
	// PhaseArmed: the trigger position was crossed but the handoff is
	// deferred to the engine's end-of-file callback (no usable preload, or
	// gapless start failed).
	PhaseArmed
	// PhaseTransitioning: a crossfade ramp is in flight; both slots audible.
	PhaseTransitioning
)

// Host is the playback side the scheduler drives. The scheduler owns phase
// bookkeeping only; every slot or queue mutation happens behind these
// operations so the two sides can never disagree about what is current.
type Host interface {
	// StartNext begins playback of the preloaded slot, silent (volume 0)
	// when a ramp will bring it in. Reports false when no preload is ready.
	StartNext(silent bool) bool
	// SetRamp applies multipliers to the outgoing (active) and incoming
	// (inactive) slots.
	SetRamp(outgoing float64, incoming float64)
	// CompleteHandoff swaps the active slot, advances the queue cursor with
	// an auto-triggered advance and requests the next preload.
	CompleteHandoff()
	// HardCut performs an immediate no-overlap handoff at end of track,
	// loading on demand when nothing was preloaded.
	HardCut()
}

// Scheduler decides when and how to hand off between the two player slots.
// It is driven by position ticks from the active slot's clock; ramp progress
// is keyed to playback position rather than wall time.
type Scheduler struct {
	mu          sync.Mutex
	log         *slog.Logger
	host        Host
	plan        Plan
	phase       Phase
	rampStartMS int
}

func NewScheduler(host Host, log *slog.Logger) *Scheduler {
	return &Scheduler{
		host: host,
		log:  log.With("component", "transition"),
	}
}

// SetPlan installs the handoff schedule for the track that just became
// current and returns the scheduler to steady state. Callers must Cancel any
// in-flight ramp before switching tracks manually.
func (s *Scheduler) SetPlan(plan Plan) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.plan = plan
	s.phase = PhaseSteady
	s.rampStartMS = 0
}

func (s *Scheduler) Plan() Plan {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.plan
}

func (s *Scheduler) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.phase
}

// OnTick advances the state machine with the active slot's playback position.
func (s *Scheduler) OnTick(positionMS int) {
	s.mu.Lock()
	plan := s.plan
	phase := s.phase

	switch phase {
	case PhaseSteady:
		if plan.Style == StyleNone || plan.DurationMS <= 0 || positionMS < plan.TriggerAtMS {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		s.beginHandoff(plan, positionMS)
	case PhaseTransitioning:
		rampStart := s.rampStartMS
		s.mu.Unlock()
		s.stepRamp(plan, rampStart, positionMS)
	default:
		s.mu.Unlock()
	}
}

// OnEnded handles the active engine reaching end of file. During a ramp the
// outgoing track running out early simply completes the handoff; otherwise
// this is the natural boundary for none-style playback or the fallback for a
// failed preload.
func (s *Scheduler) OnEnded() {
	s.mu.Lock()
	phase := s.phase
	s.phase = PhaseSteady
	s.rampStartMS = 0
	s.mu.Unlock()

	if phase == PhaseTransitioning {
		s.host.SetRamp(0, 1)
		s.host.CompleteHandoff()
		return
	}

	s.host.HardCut()
}

// Cancel synchronously abandons any in-flight or pending handoff. The host
// is responsible for silencing the no-longer-relevant slot; afterwards both
// slots are in a steady-equivalent resting state.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.phase = PhaseSteady
	s.rampStartMS = 0
}

func (s *Scheduler) beginHandoff(plan Plan, positionMS int) {
	switch plan.Style {
	case StyleCrossfade:
		if !s.host.StartNext(true) {
			s.log.Warn("crossfade armed without preload, deferring to hard cut")
			s.setPhase(PhaseArmed)
			return
		}
		s.mu.Lock()
		s.phase = PhaseTransitioning
		// Anchor the ramp at the planned trigger so a late tick does not
		// shorten the fade window.
		s.rampStartMS = plan.TriggerAtMS
		s.mu.Unlock()

		outgoing, incoming := rampValues(plan.Curve, rampProgress(plan, plan.TriggerAtMS, positionMS))
		s.host.SetRamp(outgoing, incoming)
	case StyleGapless:
		if !s.host.StartNext(false) {
			s.log.Warn("gapless boundary without preload, deferring to hard cut")
			s.setPhase(PhaseArmed)
			return
		}
		s.host.CompleteHandoff()
	}
}

func (s *Scheduler) stepRamp(plan Plan, rampStartMS int, positionMS int) {
	progress := rampProgress(plan, rampStartMS, positionMS)
	if progress >= 1 {
		s.mu.Lock()
		s.phase = PhaseSteady
		s.rampStartMS = 0
		s.mu.Unlock()

		s.host.SetRamp(0, 1)
		s.host.CompleteHandoff()
		return
	}

	outgoing, incoming := rampValues(plan.Curve, progress)
	s.host.SetRamp(outgoing, incoming)
}

func (s *Scheduler) setPhase(phase Phase) {
	s.mu.Lock()
	s.phase = phase
	s.mu.Unlock()
}

func rampProgress(plan Plan, rampStartMS int, positionMS int) float64 {
	if plan.FadeMS <= 0 {
		return 1
	}

	progress := float64(positionMS-rampStartMS) / float64(plan.FadeMS)
	if progress < 0 {
		return 0
	}

	return progress
}
