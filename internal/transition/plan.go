package transition

import "math"

// Style selects how the handoff between the ending and the starting track is
// performed.
type Style string

const (
	StyleNone      Style = "none"
	StyleGapless   Style = "gapless"
	StyleCrossfade Style = "crossfade"
)

type Curve string

const (
	CurveLinear     Curve = "linear"
	CurveEqualPower Curve = "equal_power"
)

// Tracks ending within this window of their duration count as "at the
// boundary" for gapless handoffs.
const gaplessEpsilonMS = 25

// Plan is the per-track handoff schedule: when the handoff must begin and how
// volume ramps during it. It is recomputed whenever the current track or the
// playback settings change.
type Plan struct {
	Style       Style
	Curve       Curve
	FadeMS      int
	DurationMS  int
	TriggerAtMS int
}

// ComputePlan derives the handoff schedule for a track. A crossfade longer
// than the track itself is clamped so the ramp starts at track start, never
// with a negative window. Unknown durations disable position-based arming;
// the engine's end-of-file callback handles the boundary instead.
func ComputePlan(durationMS int, style Style, curve Curve, fadeMS int) Plan {
	plan := Plan{Style: style, Curve: curve, DurationMS: durationMS}

	if durationMS <= 0 {
		plan.Style = StyleNone
		return plan
	}

	switch style {
	case StyleCrossfade:
		if fadeMS <= 0 {
			plan.Style = StyleNone
			plan.TriggerAtMS = durationMS
			return plan
		}
		if fadeMS > durationMS {
			fadeMS = durationMS
		}
		plan.FadeMS = fadeMS
		plan.TriggerAtMS = durationMS - fadeMS
	case StyleGapless:
		plan.TriggerAtMS = durationMS - gaplessEpsilonMS
		if plan.TriggerAtMS < 0 {
			plan.TriggerAtMS = 0
		}
	default:
		plan.Style = StyleNone
		plan.TriggerAtMS = durationMS
	}

	return plan
}

// rampValues evaluates the outgoing and incoming multipliers at ramp progress
// t in [0,1]. Equal-power uses a sine/cosine taper so perceived loudness
// stays constant through the overlap.
func rampValues(curve Curve, t float64) (float64, float64) {
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}

	switch curve {
	case CurveEqualPower:
		return math.Cos(t * math.Pi / 2), math.Sin(t * math.Pi / 2)
	default:
		return 1 - t, t
	}
}
