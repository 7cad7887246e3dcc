package transition

import (
	"math"
	"testing"
)

func TestComputePlanCrossfade(t *testing.T) {
	t.Parallel()

	plan := ComputePlan(180_000, StyleCrossfade, CurveEqualPower, 5_000)
	if plan.Style != StyleCrossfade {
		t.Fatalf("expected crossfade plan, got %q", plan.Style)
	}
	if plan.TriggerAtMS != 175_000 {
		t.Fatalf("expected trigger at duration minus fade, got %d", plan.TriggerAtMS)
	}
	if plan.FadeMS != 5_000 {
		t.Fatalf("expected fade preserved, got %d", plan.FadeMS)
	}
}

func TestComputePlanClampsOverlongFade(t *testing.T) {
	t.Parallel()

	plan := ComputePlan(4_000, StyleCrossfade, CurveLinear, 10_000)
	if plan.FadeMS != 4_000 {
		t.Fatalf("expected fade clamped to duration, got %d", plan.FadeMS)
	}
	if plan.TriggerAtMS != 0 {
		t.Fatalf("expected ramp to start at track start, got %d", plan.TriggerAtMS)
	}
}

func TestComputePlanZeroFadeFallsBackToHardCut(t *testing.T) {
	t.Parallel()

	plan := ComputePlan(180_000, StyleCrossfade, CurveLinear, 0)
	if plan.Style != StyleNone {
		t.Fatalf("expected zero fade to disable crossfade, got %q", plan.Style)
	}
	if plan.TriggerAtMS != 180_000 {
		t.Fatalf("expected trigger at track end, got %d", plan.TriggerAtMS)
	}
}

func TestComputePlanGapless(t *testing.T) {
	t.Parallel()

	plan := ComputePlan(180_000, StyleGapless, CurveLinear, 0)
	if plan.Style != StyleGapless {
		t.Fatalf("expected gapless plan, got %q", plan.Style)
	}
	if plan.TriggerAtMS >= 180_000 || plan.TriggerAtMS < 179_000 {
		t.Fatalf("expected trigger just before track end, got %d", plan.TriggerAtMS)
	}
}

func TestComputePlanUnknownDuration(t *testing.T) {
	t.Parallel()

	plan := ComputePlan(0, StyleCrossfade, CurveLinear, 5_000)
	if plan.Style != StyleNone {
		t.Fatalf("expected unknown duration to disable position arming, got %q", plan.Style)
	}
}

func TestRampValuesEndpoints(t *testing.T) {
	t.Parallel()

	for _, curve := range []Curve{CurveLinear, CurveEqualPower} {
		out, in := rampValues(curve, 0)
		if out != 1 || in != 0 {
			t.Fatalf("%s: expected full outgoing at start, got out=%v in=%v", curve, out, in)
		}

		out, in = rampValues(curve, 1)
		if math.Abs(out) > 1e-9 || math.Abs(in-1) > 1e-9 {
			t.Fatalf("%s: expected full incoming at end, got out=%v in=%v", curve, out, in)
		}

		out, in = rampValues(curve, 2)
		if math.Abs(out) > 1e-9 || math.Abs(in-1) > 1e-9 {
			t.Fatalf("%s: expected progress clamped past 1, got out=%v in=%v", curve, out, in)
		}
	}
}

func TestRampValuesEqualPowerMidpoint(t *testing.T) {
	t.Parallel()

	out, in := rampValues(CurveEqualPower, 0.5)
	if math.Abs(out-in) > 1e-9 {
		t.Fatalf("expected symmetric multipliers at midpoint, got out=%v in=%v", out, in)
	}
	if math.Abs(out*out+in*in-1) > 1e-9 {
		t.Fatalf("expected constant power through the ramp, got %v", out*out+in*in)
	}
}
