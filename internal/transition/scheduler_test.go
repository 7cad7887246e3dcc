package transition

import (
	"log/slog"
	"testing"
)

type fakeHost struct {
	startNextOK bool
	startCalls  []bool
	ramps       [][2]float64
	handoffs    int
	hardCuts    int
}

func (h *fakeHost) StartNext(silent bool) bool {
	h.startCalls = append(h.startCalls, silent)
	return h.startNextOK
}

func (h *fakeHost) SetRamp(outgoing, incoming float64) {
	h.ramps = append(h.ramps, [2]float64{outgoing, incoming})
}

func (h *fakeHost) CompleteHandoff() {
	h.handoffs++
}

func (h *fakeHost) HardCut() {
	h.hardCuts++
}

func TestCrossfadeArmsAtTriggerAndSwapsAfterRamp(t *testing.T) {
	t.Parallel()

	host := &fakeHost{startNextOK: true}
	sched := NewScheduler(host, slog.Default())
	sched.SetPlan(ComputePlan(100_000, StyleCrossfade, CurveLinear, 5_000))

	sched.OnTick(90_000)
	if len(host.startCalls) != 0 {
		t.Fatalf("expected no handoff before trigger")
	}

	sched.OnTick(95_000)
	if len(host.startCalls) != 1 || !host.startCalls[0] {
		t.Fatalf("expected silent start at trigger, got %v", host.startCalls)
	}
	if sched.Phase() != PhaseTransitioning {
		t.Fatalf("expected transitioning phase, got %v", sched.Phase())
	}
	if host.handoffs != 0 {
		t.Fatalf("expected swap only after the ramp completes")
	}

	sched.OnTick(97_500)
	lastRamp := host.ramps[len(host.ramps)-1]
	if lastRamp[0] != 0.5 || lastRamp[1] != 0.5 {
		t.Fatalf("expected midpoint multipliers, got %v", lastRamp)
	}

	sched.OnTick(100_000)
	if host.handoffs != 1 {
		t.Fatalf("expected handoff at ramp completion, got %d", host.handoffs)
	}
	lastRamp = host.ramps[len(host.ramps)-1]
	if lastRamp[0] != 0 || lastRamp[1] != 1 {
		t.Fatalf("expected final multipliers 0/1, got %v", lastRamp)
	}
	if sched.Phase() != PhaseSteady {
		t.Fatalf("expected steady phase after handoff, got %v", sched.Phase())
	}
}

func TestCrossfadeWithoutPreloadDefersToHardCut(t *testing.T) {
	t.Parallel()

	host := &fakeHost{startNextOK: false}
	sched := NewScheduler(host, slog.Default())
	sched.SetPlan(ComputePlan(100_000, StyleCrossfade, CurveLinear, 5_000))

	sched.OnTick(95_000)
	if sched.Phase() != PhaseArmed {
		t.Fatalf("expected armed phase without preload, got %v", sched.Phase())
	}

	// Further ticks must not retry the start while armed.
	sched.OnTick(96_000)
	if len(host.startCalls) != 1 {
		t.Fatalf("expected a single start attempt, got %d", len(host.startCalls))
	}

	sched.OnEnded()
	if host.hardCuts != 1 {
		t.Fatalf("expected hard cut at end of file, got %d", host.hardCuts)
	}
	if sched.Phase() != PhaseSteady {
		t.Fatalf("expected steady phase after hard cut, got %v", sched.Phase())
	}
}

func TestGaplessHandsOffImmediately(t *testing.T) {
	t.Parallel()

	host := &fakeHost{startNextOK: true}
	sched := NewScheduler(host, slog.Default())
	sched.SetPlan(ComputePlan(100_000, StyleGapless, CurveLinear, 0))

	sched.OnTick(99_990)
	if len(host.startCalls) != 1 || host.startCalls[0] {
		t.Fatalf("expected full-volume start for gapless, got %v", host.startCalls)
	}
	if host.handoffs != 1 {
		t.Fatalf("expected immediate handoff, got %d", host.handoffs)
	}
	if len(host.ramps) != 0 {
		t.Fatalf("expected no ramp for gapless, got %v", host.ramps)
	}
}

func TestNoneStyleWaitsForEndOfFile(t *testing.T) {
	t.Parallel()

	host := &fakeHost{}
	sched := NewScheduler(host, slog.Default())
	sched.SetPlan(ComputePlan(100_000, StyleNone, CurveLinear, 0))

	sched.OnTick(100_000)
	sched.OnTick(100_500)
	if len(host.startCalls) != 0 || host.handoffs != 0 {
		t.Fatalf("expected no position-based handoff for none style")
	}

	sched.OnEnded()
	if host.hardCuts != 1 {
		t.Fatalf("expected hard cut at end of file, got %d", host.hardCuts)
	}
}

func TestCancelMidRampReturnsToSteady(t *testing.T) {
	t.Parallel()

	host := &fakeHost{startNextOK: true}
	sched := NewScheduler(host, slog.Default())
	sched.SetPlan(ComputePlan(100_000, StyleCrossfade, CurveLinear, 5_000))

	sched.OnTick(95_000)
	sched.OnTick(96_000)
	if sched.Phase() != PhaseTransitioning {
		t.Fatalf("setup: expected in-flight ramp")
	}

	sched.Cancel()
	if sched.Phase() != PhaseSteady {
		t.Fatalf("expected steady phase after cancel, got %v", sched.Phase())
	}

	handoffsBefore := host.handoffs
	sched.OnTick(96_200)
	if host.handoffs != handoffsBefore {
		t.Fatalf("expected canceled ramp to never complete")
	}
	if len(host.startCalls) != 2 {
		// A tick past the trigger re-arms against the new plan; with the
		// same plan still installed the start is attempted again.
		t.Fatalf("expected re-arm after cancel, got %d starts", len(host.startCalls))
	}
}

func TestEarlyEndDuringRampCompletesHandoff(t *testing.T) {
	t.Parallel()

	host := &fakeHost{startNextOK: true}
	sched := NewScheduler(host, slog.Default())
	sched.SetPlan(ComputePlan(100_000, StyleCrossfade, CurveLinear, 5_000))

	sched.OnTick(95_000)
	sched.OnEnded()

	if host.handoffs != 1 {
		t.Fatalf("expected outgoing track ending early to complete the handoff, got %d", host.handoffs)
	}
	if host.hardCuts != 0 {
		t.Fatalf("expected no hard cut during ramp completion")
	}
	lastRamp := host.ramps[len(host.ramps)-1]
	if lastRamp[0] != 0 || lastRamp[1] != 1 {
		t.Fatalf("expected clean final multipliers, got %v", lastRamp)
	}
}

func TestSetPlanResetsInFlightState(t *testing.T) {
	t.Parallel()

	host := &fakeHost{startNextOK: true}
	sched := NewScheduler(host, slog.Default())
	sched.SetPlan(ComputePlan(100_000, StyleCrossfade, CurveLinear, 5_000))

	sched.OnTick(95_000)
	sched.SetPlan(ComputePlan(200_000, StyleCrossfade, CurveLinear, 5_000))

	if sched.Phase() != PhaseSteady {
		t.Fatalf("expected new plan to settle the scheduler, got %v", sched.Phase())
	}

	sched.OnTick(100_000)
	if host.handoffs != 0 {
		t.Fatalf("expected no handoff before the new trigger")
	}
}
