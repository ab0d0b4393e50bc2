// Package types defines the shared data model for the plating-line
// transport scheduler: stations, transporters, recipes, batches, transfer
// tasks, and the assignments the solver phases produce.
package types

import "math"

// Horizon is the "infinity-equivalent" upper bound used for stage-0's
// max_time and any other unbounded window in the model.
const Horizon = math.MaxInt32 / 2

// StationID identifies a physical processing position.
type StationID string

// GroupID identifies a set of functionally interchangeable stations.
type GroupID string

// TransporterID identifies an overhead transporter.
type TransporterID string

// RecipeID identifies a recipe (an ordered sequence of stages).
type RecipeID string

// BatchID identifies a single physical work unit traversing the line.
type BatchID string

// Station is a physical position with capacity 1.
type Station struct {
	ID      StationID
	GroupID GroupID
	XMM     int
}

// LiftSinkParams parameterizes the Z-axis slow/fast zone model shared by
// lift and sink motions (see internal/kinematics).
type LiftSinkParams struct {
	ZTotalMM      int     // total vertical travel distance
	ZSlowDryMM    int     // slow zone length at the start of a lift, leaving the liquid
	ZSlowWetMM    int     // slow zone length near the liquid surface
	ZSlowEndMM    int     // slow zone length at the very top of a lift
	ZSlowSpeedMMS float64 // speed within a slow zone
	ZFastSpeedMMS float64 // speed within the fast zone
	DeviceDelayS  float64 // fixed device latency added to every lift/sink
	DroppingTimeS float64 // additional settle time added to lift only
}

// Transporter is an overhead mover carrying one batch at a time over a
// contiguous x-interval.
type Transporter struct {
	ID           TransporterID
	XMinMM       int
	XMaxMM       int
	AAccel       float64 // mm/s^2
	ADecel       float64 // mm/s^2
	VMaxMMS      float64 // mm/s
	Lift         LiftSinkParams
	Sink         LiftSinkParams
	AvoidLimitMM int // >0: dynamic avoid-margin term applies only to overlaps wider than this; 0: no limit
	StartStation StationID
}

// InRange reports whether an x coordinate falls within the transporter's
// operating interval.
func (t Transporter) InRange(x int) bool {
	return x >= t.XMinMM && x <= t.XMaxMM
}

// RecipeStage is one step of a recipe: a station interval and a duration
// window. Stage 0 is the mandatory virtual entry stage.
type RecipeStage struct {
	StageIdx   int
	MinStation StationID
	MaxStation StationID
	MinTimeS   int
	MaxTimeS   int
	// SkipRule is an optional expr predicate over `batch` and its `attrs`
	// (see rules.ShouldSkip); when it evaluates to true the stage is
	// skipped for that batch. Supplements
	// spec.md per SPEC_FULL.md §2 (internal/rules).
	SkipRule string
}

// Recipe is an ordered, immutable sequence of stages.
type Recipe struct {
	ID     RecipeID
	Stages []RecipeStage
}

// Signature returns a value equal for two recipes that are interchangeable
// for symmetry-breaking: stage-tuple equality on
// (min_station, max_station, min_time, max_time).
func (r Recipe) Signature() string {
	var buf []byte
	for _, s := range r.Stages {
		buf = append(buf, s.MinStation...)
		buf = append(buf, '|')
		buf = append(buf, s.MaxStation...)
		buf = append(buf, '|')
		buf = appendInt(buf, s.MinTimeS)
		buf = append(buf, '|')
		buf = appendInt(buf, s.MaxTimeS)
		buf = append(buf, ';')
	}
	return string(buf)
}

func appendInt(buf []byte, v int) []byte {
	if v == 0 {
		return append(buf, '0')
	}
	neg := v < 0
	if neg {
		v = -v
	}
	start := len(buf)
	for v > 0 {
		buf = append(buf, byte('0'+v%10))
		v /= 10
	}
	if neg {
		buf = append(buf, '-')
	}
	for i, j := start, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return buf
}

// Batch is a physical work unit traversing the line.
type Batch struct {
	ID         BatchID
	RecipeID   RecipeID
	InputOrder int
	// Attrs holds arbitrary batch attributes consulted by RecipeStage.SkipRule.
	Attrs map[string]interface{}
}

// TransferPair describes one (from, to, transporter) move.
type TransferPair struct {
	From          StationID
	To            StationID
	Transporter   TransporterID
	LiftTimeS     int
	TransferTimeS int
	SinkTimeS     int
}

// TotalTaskTimeS is lift + transfer + sink, the full duration of the task.
func (p TransferPair) TotalTaskTimeS() int {
	return p.LiftTimeS + p.TransferTimeS + p.SinkTimeS
}

// StageAssignment is the outcome of a solve phase for one (batch, stage).
type StageAssignment struct {
	BatchID     BatchID
	StageIdx    int
	StationID   StationID
	Transporter TransporterID
	Entry       int
	Exit        int
}

// Task is a single transporter move of one batch between two stations.
type Task struct {
	TransporterID TransporterID
	BatchID       BatchID
	FromStageIdx  int
	FromStation   StationID
	ToStation     StationID
	Start         int
	End           int
}

// Duration returns End - Start.
func (t Task) Duration() int { return t.End - t.Start }
