// Package kinematics computes deterministic travel, lift, and sink times
// for a transporter moving between two stations.
//
// The travel-time model is a standard trapezoidal/triangular velocity
// profile (spec.md §4.1). The lift/sink model follows
// original_source/transporter_physics.py's three-zone decomposition: a
// slow zone near the liquid surface, a fast zone in open air/liquid, and
// (on lift only) a second slow zone right at the top of the stroke. All
// results are rounded up to the next integer second — the only source of
// conservatism in the model, and the only one that needs auditing.
package kinematics

import (
	"math"

	"platingsched/internal/types"
)

// TravelTimeS returns the ceil-seconds travel time for a transporter to
// cover distance d (mm) along the x-axis, using a trapezoidal profile when
// the transporter reaches v_max, or a triangular profile otherwise.
func TravelTimeS(distanceMM float64, vMax, aAccel, aDecel float64) int {
	if distanceMM <= 0 {
		return 0
	}
	dAccel := 0.5 * vMax * vMax / aAccel
	dDecel := 0.5 * vMax * vMax / aDecel

	var t float64
	if distanceMM >= dAccel+dDecel {
		// Trapezoidal: full v_max reached.
		t = vMax/aAccel + vMax/aDecel + (distanceMM-dAccel-dDecel)/vMax
	} else {
		// Triangular: solve for the peak velocity v_p such that
		// v_p^2/(2*aAccel) + v_p^2/(2*aDecel) = distanceMM.
		vPeak := math.Sqrt(2 * distanceMM / (1/aAccel + 1/aDecel))
		t = vPeak/aAccel + vPeak/aDecel
	}
	return ceilSeconds(t)
}

// TransferTimeS is the horizontal travel time between two station
// x-coordinates for the given transporter.
func TransferTimeS(fromXMM, toXMM int, t types.Transporter) int {
	d := math.Abs(float64(toXMM - fromXMM))
	return TravelTimeS(d, t.VMaxMMS, t.AAccel, t.ADecel)
}

// LiftTimeS computes the time to raise a batch out of a station, following
// the dry-slow / fast / top-slow three-zone decomposition.
func LiftTimeS(p types.LiftSinkParams) int {
	zSlowDry := clamp(p.ZSlowDryMM, 0, p.ZTotalMM)
	zSlowEnd := clamp(p.ZSlowEndMM, 0, p.ZTotalMM-zSlowDry)
	fastDist := maxInt(0, p.ZTotalMM-zSlowDry-zSlowEnd)

	slowSpeed := nonZero(p.ZSlowSpeedMMS)
	fastSpeed := nonZero(p.ZFastSpeedMMS)

	t := p.DeviceDelayS +
		float64(zSlowDry)/slowSpeed +
		float64(fastDist)/fastSpeed +
		float64(zSlowEnd)/slowSpeed +
		p.DroppingTimeS
	return ceilSeconds(t)
}

// SinkTimeS computes the time to lower a batch into a station, following
// the fast / wet-slow two-zone decomposition.
func SinkTimeS(p types.LiftSinkParams) int {
	zSlowWet := clamp(p.ZSlowWetMM, 0, p.ZTotalMM)
	fastDist := maxInt(0, p.ZTotalMM-zSlowWet)

	slowSpeed := nonZero(p.ZSlowSpeedMMS)
	fastSpeed := nonZero(p.ZFastSpeedMMS)

	t := p.DeviceDelayS +
		float64(fastDist)/fastSpeed +
		float64(zSlowWet)/slowSpeed
	return ceilSeconds(t)
}

// BuildTransferPair assembles the full (lift, transfer, sink) tuple for one
// (from, to, transporter) move. Lift and sink times both derive from the
// transporter's own parameters, since spec.md §3 parameterizes lift/sink
// per transporter, not per station.
func BuildTransferPair(from, to types.Station, t types.Transporter) types.TransferPair {
	return types.TransferPair{
		From:          from.ID,
		To:            to.ID,
		Transporter:   t.ID,
		LiftTimeS:     LiftTimeS(t.Lift),
		TransferTimeS: TransferTimeS(from.XMM, to.XMM, t),
		SinkTimeS:     SinkTimeS(t.Sink),
	}
}

func ceilSeconds(t float64) int {
	if t <= 0 {
		return 0
	}
	return int(math.Ceil(t))
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func nonZero(v float64) float64 {
	if v <= 0 {
		return 1e-6
	}
	return v
}
