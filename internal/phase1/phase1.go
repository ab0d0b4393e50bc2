// Package phase1 implements the Station Optimizer (spec.md §4.3): it
// assigns a station and an averaged-transfer entry/exit window to every
// (batch, stage), fixes a batch processing order, and picks an implicit
// transporter per inter-stage move.
//
// No CP-SAT-equivalent constraint solver exists anywhere in the
// reference corpus this module was grown from, so the assignment+packing
// problem Phase-1 describes is solved here as event-driven list
// scheduling: batches are walked in a fixed priority order and each stage
// claims the earliest-available station in its allowed set. This is the
// idiomatic-Go substitute grounded on the teacher's
// container/heap-based priority queue, generalized from "highest-priority
// product first" to "earliest feasible entry time first".
package phase1

import (
	"context"
	"sort"
	"strconv"

	"platingsched/internal/config"
	"platingsched/internal/preprocess"
	"platingsched/internal/rules"
	"platingsched/internal/types"
)

// Key identifies one (batch, stage) pair.
type Key struct {
	Batch types.BatchID
	Stage int
}

// MoveKey identifies one inter-stage move of a batch.
type MoveKey struct {
	Batch        types.BatchID
	FromStageIdx int
}

// Result is Phase-1's complete output snapshot.
type Result struct {
	Assignments       map[Key]types.StageAssignment
	BatchOrder        []types.BatchID
	TransporterChoice map[MoveKey]types.TransporterID
	MakespanS         int
}

// stationState tracks, per physical station, the time it next becomes
// available. The round-robin cursor lives in Solve's roundRobin map.
type stationState struct {
	nextFree int
}

// Solve runs the greedy station assignment described above.
func Solve(ctx context.Context, m *preprocess.Model, cfg config.SolverConfig) (*Result, error) {
	transitionTime := ceilInt(m.AverageTaskTimeS)

	order := globalBatchOrder(m)

	stations := make(map[types.StationID]*stationState, len(m.Stations))
	for id := range m.Stations {
		stations[id] = &stationState{}
	}

	// roundRobin tracks, per recipe signature, the index of the next
	// station to pick among tied candidates (supplemented from
	// original_source/config.py's get_cpsat_phase1_round_robin).
	roundRobin := make(map[types.GroupID]int)

	// groupFloor enforces the symmetry constraint: for batches i ≺ j of
	// identical recipe identity, entry(i,1) <= entry(j,1).
	groupFloor := make(map[string]int)

	assignments := make(map[Key]types.StageAssignment)
	transporterChoice := make(map[MoveKey]types.TransporterID)
	makespan := 0

	for _, b := range order {
		select {
		case <-ctx.Done():
			return nil, &types.CancelledError{HadIncumbent: false}
		default:
		}

		recipe := m.Recipes[b.RecipeID]
		sig := recipe.Signature()
		prevExit := 0
		prevStageIdx := 0
		anchored := false

		for _, stage := range recipe.Stages {
			if stage.StageIdx != 0 {
				skip, err := rules.ShouldSkip(stage.SkipRule, &b)
				if err != nil {
					return nil, err
				}
				if skip {
					continue
				}
			}

			allowed, err := allowedStations(m, stage, cfg.Phase1GroupConstraintEnabled)
			if err != nil {
				return nil, err
			}

			var entry int
			if stage.StageIdx == 0 {
				entry = 0
			} else {
				entry = prevExit + transitionTime
				if !anchored {
					if floor, ok := groupFloor[sig]; ok && floor > entry {
						entry = floor
					}
				}
			}

			stationID := pickStation(allowed, stations, entry, stage.StageIdx, sig, roundRobin, cfg.Phase1RoundRobinGroups)

			if stage.StageIdx != 0 {
				if st := stations[stationID]; st.nextFree > entry {
					entry = st.nextFree
				}
			}

			exit := entry + stage.MinTimeS

			if stage.StageIdx != 0 {
				stations[stationID].nextFree = exit + m.ChangeTimeS
			}
			if stage.StageIdx != 0 && !anchored {
				groupFloor[sig] = entry
				anchored = true
			}

			transporterID := types.TransporterID("")
			if stage.StageIdx > 0 {
				fromStation := assignments[Key{Batch: b.ID, Stage: prevStageIdx}].StationID
				tID, err := ChooseTransporter(m, fromStation, stationID)
				if err != nil {
					return nil, err
				}
				transporterID = tID
				transporterChoice[MoveKey{Batch: b.ID, FromStageIdx: prevStageIdx}] = tID
			}

			assignments[Key{Batch: b.ID, Stage: stage.StageIdx}] = types.StageAssignment{
				BatchID:     b.ID,
				StageIdx:    stage.StageIdx,
				StationID:   stationID,
				Transporter: transporterID,
				Entry:       entry,
				Exit:        exit,
			}
			prevExit = exit
			prevStageIdx = stage.StageIdx
		}

		if prevExit > makespan {
			makespan = prevExit
		}
	}

	return &Result{
		Assignments:       assignments,
		BatchOrder:        batchIDs(order),
		TransporterChoice: transporterChoice,
		MakespanS:         makespan,
	}, nil
}

// globalBatchOrder orders all batches by InputOrder. Because
// recipe-identity groups are themselves subsequences of InputOrder, this
// single global order both fixes Phase-1's processing sequence and
// satisfies the per-group symmetry constraint by construction.
func globalBatchOrder(m *preprocess.Model) []types.Batch {
	out := make([]types.Batch, len(m.Batches))
	copy(out, m.Batches)
	sort.Slice(out, func(i, j int) bool { return out[i].InputOrder < out[j].InputOrder })
	return out
}

func batchIDs(batches []types.Batch) []types.BatchID {
	out := make([]types.BatchID, len(batches))
	for i, b := range batches {
		out[i] = b.ID
	}
	return out
}

// allowedStations returns the candidate stations for a stage: those
// within [min_station, max_station] sharing the stage's group, per
// spec.md §4.3's group-coherence constraint.
func allowedStations(m *preprocess.Model, stage types.RecipeStage, groupConstraintEnabled bool) ([]types.StationID, error) {
	minStation, ok := m.Stations[stage.MinStation]
	if !ok {
		return nil, &types.ConfigMissingError{Key: "station(" + string(stage.MinStation) + ")"}
	}
	var out []types.StationID
	for id, s := range m.Stations {
		if !stationBetween(id, stage.MinStation, stage.MaxStation) {
			continue
		}
		if groupConstraintEnabled && s.GroupID != minStation.GroupID {
			continue
		}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return stationLess(out[i], out[j]) })
	if len(out) == 0 {
		return nil, &types.ConfigMissingError{Key: "allowed_stations(" + string(stage.MinStation) + ".." + string(stage.MaxStation) + ")"}
	}
	return out, nil
}

// pickStation chooses the earliest-available candidate for entry no, at
// the given time, tie-breaking by round-robin or smallest id.
func pickStation(
	candidates []types.StationID,
	stations map[types.StationID]*stationState,
	entry int,
	stageIdx int,
	sig string,
	roundRobin map[types.GroupID]int,
	useRoundRobin bool,
) types.StationID {
	if stageIdx == 0 {
		return candidates[0]
	}
	best := candidates[0]
	bestFree := stations[best].nextFree
	var tied []types.StationID
	for _, c := range candidates {
		free := stations[c].nextFree
		if free < bestFree {
			best = c
			bestFree = free
			tied = []types.StationID{c}
		} else if free == bestFree {
			tied = append(tied, c)
		}
	}
	if len(tied) <= 1 || !useRoundRobin {
		return best
	}
	group := types.GroupID(sig) // round-robin cursor keyed by recipe signature group is sufficient: within one group ties only arise among the same candidate set
	idx := roundRobin[group] % len(tied)
	roundRobin[group] = idx + 1
	return tied[idx]
}

// ChooseTransporter implements spec.md §4.3's implicit transporter
// selection: the single transporter whose operating interval contains
// both x-coordinates; smallest id breaks ties.
func ChooseTransporter(m *preprocess.Model, from, to types.StationID) (types.TransporterID, error) {
	fromStation, ok := m.Stations[from]
	if !ok {
		return "", &types.ConfigMissingError{Key: "station(" + string(from) + ")"}
	}
	toStation, ok := m.Stations[to]
	if !ok {
		return "", &types.ConfigMissingError{Key: "station(" + string(to) + ")"}
	}
	var ids []types.TransporterID
	for id, t := range m.Transporters {
		if t.InRange(fromStation.XMM) && t.InRange(toStation.XMM) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return "", &types.ConfigMissingError{Key: "transporter_for(" + string(from) + "->" + string(to) + ")"}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids[0], nil
}

func stationBetween(id, lo, hi types.StationID) bool {
	return !stationLess(id, lo) && !stationLess(hi, id)
}

func stationLess(a, b types.StationID) bool {
	ai, aerr := strconv.Atoi(string(a))
	bi, berr := strconv.Atoi(string(b))
	if aerr == nil && berr == nil {
		return ai < bi
	}
	return a < b
}

func ceilInt(v float64) int {
	i := int(v)
	if float64(i) < v {
		i++
	}
	return i
}
