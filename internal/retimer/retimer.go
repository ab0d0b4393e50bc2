// Package retimer implements the post-solve replay validator (spec.md
// §4.5): it recomputes entry/exit times independently of Phase-2's
// construction and emits a conflict record for every discrepancy. A
// schedule with any emitted conflict is rejected outright.
//
// Grounded on the teacher's internal/fsm transition-table FSM (here
// driving the Task lifecycle unplanned -> scheduled -> committed ->
// executed|rejected) and the teacher's WAL.Recover scan-and-reconcile
// pattern, adapted from "replay a durable log" to "replay a schedule in
// (transporter, start) order and reconcile recomputed vs assigned times".
package retimer

import (
	"sort"
	"strconv"

	"platingsched/internal/config"
	"platingsched/internal/fsm"
	"platingsched/internal/phase1"
	"platingsched/internal/phase2"
	"platingsched/internal/preprocess"
	"platingsched/internal/rules"
	"platingsched/internal/types"
)

// Report is the outcome of one replay pass.
type Report struct {
	Conflicts []types.Conflict
	TaskFSMs  map[string]*fsm.FSM // keyed by "batch:fromStageIdx", final state reflects the verdict
}

// Accepted reports whether the schedule has no conflicts and may be
// committed.
func (r *Report) Accepted() bool { return len(r.Conflicts) == 0 }

// Validate replays p2's tasks and stage assignments against m's exact
// transfer table and emits every invariant violation it finds.
func Validate(m *preprocess.Model, p2 *phase2.Result, cfg config.SolverConfig) *Report {
	var conflicts []types.Conflict

	conflicts = append(conflicts, checkTransporterSequencing(m, p2.Tasks)...)
	conflicts = append(conflicts, checkStationExclusivity(m, p2.Assignments)...)
	conflicts = append(conflicts, checkTimingWindows(m, p2.Assignments)...)
	conflicts = append(conflicts, checkAvoidance(m, p2.Tasks, cfg)...)

	// Each task must deliver its batch exactly at the entry of the next
	// assigned stage of that batch.
	for _, t := range p2.Tasks {
		to := -1
		for key := range p2.Assignments {
			if key.Batch == t.BatchID && key.Stage > t.FromStageIdx && (to < 0 || key.Stage < to) {
				to = key.Stage
			}
		}
		if a, ok := p2.Assignments[phase1.Key{Batch: t.BatchID, Stage: to}]; ok && a.Entry != t.End {
			conflicts = append(conflicts, types.Conflict{
				Kind: types.ConflictTimingMismatch, Batches: []types.BatchID{t.BatchID}, Stages: []int{to},
				Transporters: []types.TransporterID{t.TransporterID}, ObservedGapS: a.Entry - t.End,
				Detail: "stage entry does not equal the end of the task that delivers the batch",
			})
		}
	}

	report := &Report{Conflicts: conflicts, TaskFSMs: make(map[string]*fsm.FSM)}
	report.driveTaskFSMs(p2.Tasks, conflicts)
	return report
}

// checkTransporterSequencing replays each transporter's tasks in start
// order, recomputing deadhead and task duration, per invariants 4 and 5.
func checkTransporterSequencing(m *preprocess.Model, tasks []types.Task) []types.Conflict {
	var conflicts []types.Conflict

	byTransporter := make(map[types.TransporterID][]types.Task)
	for _, t := range tasks {
		byTransporter[t.TransporterID] = append(byTransporter[t.TransporterID], t)
	}

	for transporterID, list := range byTransporter {
		sort.Slice(list, func(i, j int) bool { return list[i].Start < list[j].Start })

		var prev *types.Task
		for i := range list {
			t := list[i]

			pair, err := m.Transfer(t.FromStation, t.ToStation, transporterID)
			if err != nil {
				conflicts = append(conflicts, types.Conflict{
					Kind:         types.ConflictTimingMismatch,
					Batches:      []types.BatchID{t.BatchID},
					Transporters: []types.TransporterID{transporterID},
					Detail:       err.Error(),
				})
			} else if t.End-t.Start != pair.TotalTaskTimeS() {
				conflicts = append(conflicts, types.Conflict{
					Kind:         types.ConflictTimingMismatch,
					Batches:      []types.BatchID{t.BatchID},
					Transporters: []types.TransporterID{transporterID},
					ObservedGapS: t.End - t.Start,
					RequiredGapS: pair.TotalTaskTimeS(),
					Detail:       "task duration does not match exact total_task_time",
				})
			}

			if prev != nil {
				deadhead := 0
				if prev.ToStation != t.FromStation {
					if dp, err := m.Transfer(prev.ToStation, t.FromStation, transporterID); err == nil {
						deadhead = dp.TransferTimeS
					}
				}
				requiredStart := prev.End + deadhead
				if t.Start < requiredStart {
					conflicts = append(conflicts, types.Conflict{
						Kind:         types.ConflictDeadheadShort,
						Batches:      []types.BatchID{prev.BatchID, t.BatchID},
						Transporters: []types.TransporterID{transporterID},
						ObservedGapS: t.Start - prev.End,
						RequiredGapS: deadhead,
						Detail:       "consecutive tasks violate deadhead separation",
					})
				}
				if t.Start < prev.End {
					conflicts = append(conflicts, types.Conflict{
						Kind:         types.ConflictTransporterOverlap,
						Batches:      []types.BatchID{prev.BatchID, t.BatchID},
						Transporters: []types.TransporterID{transporterID},
						ObservedGapS: t.Start - prev.End,
						Detail:       "consecutive tasks of the same transporter overlap in time",
					})
				}
			}
			tt := t
			prev = &tt
		}
	}
	return conflicts
}

// checkStationExclusivity enforces invariant 3: different batches on the
// same station must satisfy entry_B >= exit_A + change_time.
func checkStationExclusivity(m *preprocess.Model, assignments map[phase1.Key]types.StageAssignment) []types.Conflict {
	var conflicts []types.Conflict

	byStation := make(map[types.StationID][]types.StageAssignment)
	for key, a := range assignments {
		if key.Stage == 0 {
			continue // virtual stage: no exclusivity
		}
		byStation[a.StationID] = append(byStation[a.StationID], a)
	}

	for stationID, list := range byStation {
		sort.Slice(list, func(i, j int) bool { return list[i].Exit < list[j].Exit })
		for i := 1; i < len(list); i++ {
			prev, cur := list[i-1], list[i]
			if prev.BatchID == cur.BatchID {
				continue
			}
			required := prev.Exit + m.ChangeTimeS
			if cur.Entry < prev.Exit {
				conflicts = append(conflicts, types.Conflict{
					Kind:         types.ConflictStationDoubleBook,
					Batches:      []types.BatchID{prev.BatchID, cur.BatchID},
					Stations:     []types.StationID{stationID},
					ObservedGapS: cur.Entry - prev.Exit,
					Detail:       "two batches occupy the same station at overlapping times",
				})
			} else if cur.Entry < required {
				conflicts = append(conflicts, types.Conflict{
					Kind:         types.ConflictChangeTimeViolation,
					Batches:      []types.BatchID{prev.BatchID, cur.BatchID},
					Stations:     []types.StationID{stationID},
					ObservedGapS: cur.Entry - prev.Exit,
					RequiredGapS: m.ChangeTimeS,
					Detail:       "station re-entry gap is shorter than change_time",
				})
			}
		}
	}
	return conflicts
}

// checkTimingWindows enforces invariant 1: exit - entry must fall within
// [min_time, max_time] for every stage assignment.
func checkTimingWindows(m *preprocess.Model, assignments map[phase1.Key]types.StageAssignment) []types.Conflict {
	var conflicts []types.Conflict
	for key, a := range assignments {
		recipe, ok := findRecipeForBatch(m, a.BatchID)
		if !ok || key.Stage >= len(recipe.Stages) {
			continue
		}
		stage := recipe.Stages[key.Stage]
		dur := a.Exit - a.Entry
		if a.Entry > a.Exit || dur < stage.MinTimeS || dur > stage.MaxTimeS {
			conflicts = append(conflicts, types.Conflict{
				Kind:         types.ConflictTimingMismatch,
				Batches:      []types.BatchID{a.BatchID},
				Stages:       []int{key.Stage},
				ObservedGapS: dur,
				RequiredGapS: stage.MinTimeS,
				Detail:       "stage duration outside [min_time, max_time]",
			})
		}
	}
	return conflicts
}

func findRecipeForBatch(m *preprocess.Model, batchID types.BatchID) (types.Recipe, bool) {
	for _, b := range m.Batches {
		if b.ID == batchID {
			r, ok := m.Recipes[b.RecipeID]
			return r, ok
		}
	}
	return types.Recipe{}, false
}

// checkAvoidance re-runs the cross-transporter spatial/temporal check
// against the final task list (invariant 6).
func checkAvoidance(m *preprocess.Model, tasks []types.Task, cfg config.SolverConfig) []types.Conflict {
	var conflicts []types.Conflict
	for i := 0; i < len(tasks); i++ {
		for j := i + 1; j < len(tasks); j++ {
			a, b := tasks[i], tasks[j]
			if a.TransporterID == b.TransporterID {
				continue
			}
			if cfg.Phase2DecomposeEnabled && temporallyDecomposed(a, b, cfg.Phase2DecomposeGuardS) {
				continue
			}
			aLo, aHi := xSpan(m, a)
			bLo, bHi := xSpan(m, b)
			lo, hi := maxInt(aLo, bLo), minInt(aHi, bHi)
			if lo > hi {
				continue
			}
			span := hi - lo
			margin := cfg.Phase2AvoidBaseMarginS
			if cfg.Phase2AvoidDynamicEnabled && dynamicMarginApplies(m, a, b, span) {
				margin += ceilDiv(cfg.Phase2AvoidDynamicPerMMS * float64(span))
			}
			earlier, later := a, b
			if later.Start < earlier.Start {
				earlier, later = later, earlier
			}
			if later.Start-earlier.End < margin {
				conflicts = append(conflicts, types.Conflict{
					Kind:         types.ConflictAvoidViolation,
					Batches:      []types.BatchID{a.BatchID, b.BatchID},
					Transporters: []types.TransporterID{a.TransporterID, b.TransporterID},
					ObservedGapS: later.Start - earlier.End,
					RequiredGapS: margin,
					Detail:       "cross-transporter spatial overlap without sufficient temporal separation",
				})
			}
		}
	}
	return conflicts
}

// VerifyPhase1 implements spec.md §4.4's verification-mode fallback: it
// fixes every task's end time to Phase-1's own entry time for the
// following stage and checks sequencing/conflicts only, never retiming
// Phase-1's output.
func VerifyPhase1(m *preprocess.Model, p1 *phase1.Result, cfg config.SolverConfig) *Report {
	var tasks []types.Task
	byID := make(map[types.BatchID]types.Batch, len(m.Batches))
	for _, b := range m.Batches {
		byID[b.ID] = b
	}

	var ruleConflicts []types.Conflict
	for _, batchID := range p1.BatchOrder {
		batch := byID[batchID]
		recipe := m.Recipes[batch.RecipeID]
		prevStageIdx := 0
		for _, stage := range recipe.Stages {
			if stage.StageIdx == 0 {
				continue
			}
			skip, err := rules.ShouldSkip(stage.SkipRule, &batch)
			if err != nil {
				ruleConflicts = append(ruleConflicts, types.Conflict{
					Kind:    types.ConflictTimingMismatch,
					Batches: []types.BatchID{batchID},
					Stages:  []int{stage.StageIdx},
					Detail:  err.Error(),
				})
				continue
			}
			if skip {
				continue
			}
			moveKey := phase1.MoveKey{Batch: batchID, FromStageIdx: prevStageIdx}
			from := p1.Assignments[phase1.Key{Batch: batchID, Stage: prevStageIdx}]
			to := p1.Assignments[phase1.Key{Batch: batchID, Stage: stage.StageIdx}]
			tasks = append(tasks, types.Task{
				TransporterID: p1.TransporterChoice[moveKey],
				BatchID:       batchID,
				FromStageIdx:  prevStageIdx,
				FromStation:   from.StationID,
				ToStation:     to.StationID,
				Start:         from.Exit,
				End:           to.Entry,
			})
			prevStageIdx = stage.StageIdx
		}
	}

	conflicts := append([]types.Conflict{}, ruleConflicts...)
	conflicts = append(conflicts, checkTransporterSequencing(m, tasks)...)
	conflicts = append(conflicts, checkStationExclusivity(m, p1.Assignments)...)
	conflicts = append(conflicts, checkAvoidance(m, tasks, cfg)...)

	report := &Report{Conflicts: conflicts, TaskFSMs: make(map[string]*fsm.FSM)}
	report.driveTaskFSMs(tasks, conflicts)
	return report
}

// driveTaskFSMs threads each task through its lifecycle transitions,
// landing on executed when no conflict named that batch, or rejected
// otherwise.
func (r *Report) driveTaskFSMs(tasks []types.Task, conflicts []types.Conflict) {
	conflicted := make(map[types.BatchID]bool)
	for _, c := range conflicts {
		for _, b := range c.Batches {
			conflicted[b] = true
		}
	}
	for _, t := range tasks {
		id := string(t.BatchID) + ":" + strconv.Itoa(t.FromStageIdx)
		f := fsm.New(id)
		_ = f.Fire(fsm.EventPlan)
		_ = f.Fire(fsm.EventCommit)
		if conflicted[t.BatchID] {
			_ = f.Fire(fsm.EventReject)
		} else {
			_ = f.Fire(fsm.EventValidate)
		}
		r.TaskFSMs[id] = f
	}
}

// temporallyDecomposed mirrors internal/phase2's independent-component
// pruning so the replay validator agrees with Phase-2's avoidance check.
func temporallyDecomposed(a, b types.Task, guardS int) bool {
	if a.Start >= b.End {
		return a.Start-b.End > guardS
	}
	if b.Start >= a.End {
		return b.Start-a.End > guardS
	}
	return false
}

// dynamicMarginApplies mirrors internal/phase2's gate on AvoidLimitMM so
// the replay validator's avoidance check agrees with Phase-2's.
func dynamicMarginApplies(m *preprocess.Model, a, b types.Task, overlapSpan int) bool {
	ta := m.Transporters[a.TransporterID]
	tb := m.Transporters[b.TransporterID]
	if ta.AvoidLimitMM <= 0 && tb.AvoidLimitMM <= 0 {
		return true
	}
	limit := maxInt(ta.AvoidLimitMM, tb.AvoidLimitMM)
	return overlapSpan > limit
}

func xSpan(m *preprocess.Model, t types.Task) (int, int) {
	from := m.Stations[t.FromStation].XMM
	to := m.Stations[t.ToStation].XMM
	return minInt(from, to), maxInt(from, to)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func ceilDiv(v float64) int {
	i := int(v)
	if float64(i) < v {
		i++
	}
	return i
}

