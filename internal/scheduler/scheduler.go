// Package scheduler exposes the core's single entry point: Solve runs
// Preprocessor -> Phase-1 -> Phase-2 -> Retimer over one immutable input
// snapshot and returns a validated schedule or a structured error.
//
// Grounded on the teacher's internal/engine/scheduler.go and
// cmd/orchestrator/main.go wiring order (config -> event bus -> engine ->
// scheduler -> recover -> start), generalized from "dispatch Products to
// a WorkflowEngine" to "run the four phases of one Solve call". The
// teacher's worker pool exists to bound concurrent *product* processing;
// this core has no such fan-out (spec.md §5: "externally behaves as a
// single logical task per pipeline invocation"), so Scheduler carries the
// same collaborators (event bus, metrics, journal, structured logger)
// without the goroutine pool — phase1_workers/phase2_workers are resolved
// and logged for operational visibility but do not branch the
// construction algorithm, which is deterministic by design (see
// DESIGN.md).
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"platingsched/internal/config"
	"platingsched/internal/event"
	"platingsched/internal/journal"
	"platingsched/internal/metrics"
	"platingsched/internal/phase1"
	"platingsched/internal/phase2"
	"platingsched/internal/preprocess"
	"platingsched/internal/retimer"
	"platingsched/internal/types"
	"platingsched/internal/util"
)

// Phase1Row is one row of the Phase-1 schedule (spec.md §6).
type Phase1Row struct {
	TransporterID types.TransporterID
	BatchID       types.BatchID
	RecipeID      types.RecipeID
	Stage         int
	StationID     types.StationID
	EntryTimeS    int
	ExitTimeS     int
}

// Phase2Row is one row of the Phase-2 hoist schedule (spec.md §6).
type Phase2Row struct {
	TransporterID types.TransporterID
	BatchID       types.BatchID
	FromStation   types.StationID
	ToStation     types.StationID
	TaskStartS    int
	TaskEndS      int
	DurationS     int
	EntryTimeToS  int
}

// Solution is the complete external interface surface of one Solve call.
type Solution struct {
	Phase1Schedule []Phase1Row
	Phase2Schedule []Phase2Row

	// CalcTimes is CalcTime(b,s) = exit_2(b,s) - entry_2(b,s) for s > 0.
	CalcTimes map[phase1.Key]int
	// BatchStart is Start_optimized(b) = exit_2(b, 0).
	BatchStart map[types.BatchID]int

	MakespanS      int
	DeadheadTotalS int
	StretchTotalS  int

	// SuboptimalTimeLimited is non-nil when Phase-2's time limit expired
	// before the avoidance search converged to a proven result.
	SuboptimalTimeLimited *types.SuboptimalTimeLimited
}

// Input bundles the immutable reference data a Solve call consumes
// (spec.md §6's external interface).
type Input struct {
	Stations     []types.Station
	Transporters []types.Transporter
	Recipes      []types.Recipe
	Batches      []types.Batch
}

// Scheduler wires the four phases to the ambient stack: metrics,
// progress journal, and phase-transition events.
type Scheduler struct {
	cfg     config.SolverConfig
	bus     *event.Bus
	journal *journal.Journal
	logger  *slog.Logger
}

// New constructs a Scheduler. bus and jr may be nil; a nil journal
// discards all entries.
func New(cfg config.SolverConfig, bus *event.Bus, jr *journal.Journal, logger *slog.Logger) *Scheduler {
	if bus == nil {
		bus = event.NewBus()
	}
	if jr == nil {
		jr = journal.New(nil, false)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{cfg: cfg, bus: bus, journal: jr, logger: logger.With("component", "scheduler")}
}

// Solve runs the full pipeline once, returning a validated Solution or a
// structured error from internal/types (ConfigMissing, ConfigInvalid,
// Infeasible, Cancelled, ValidationRejected).
func (s *Scheduler) Solve(ctx context.Context, in Input) (*Solution, error) {
	runID := util.NewTraceID()
	ctx = util.ContextWithTraceID(ctx, runID)
	logger := s.logger.With("run_id", runID)

	logger.Info("solve started", "batches", len(in.Batches), "stations", len(in.Stations), "transporters", len(in.Transporters))

	m, err := preprocess.Build(in.Stations, in.Transporters, in.Recipes, in.Batches)
	if err != nil {
		logger.Error("preprocess failed", "error", err)
		return nil, err
	}

	p1Workers := config.ResolvedWorkers(s.cfg.Phase1Workers)
	p2Workers := config.ResolvedWorkers(s.cfg.Phase2Workers)
	logger.Info("resolved worker counts", "phase1_workers", p1Workers, "phase2_workers", p2Workers)

	p1, err := s.runPhase1(ctx, m, logger)
	if err != nil {
		return nil, err
	}

	p2, err := s.runPhase2(ctx, m, p1, logger)
	if err != nil {
		return nil, err
	}

	report := retimer.Validate(m, p2, s.cfg)
	for _, c := range report.Conflicts {
		metrics.ConflictsTotal.WithLabelValues(string(c.Kind)).Inc()
		s.bus.Publish(event.Event{Type: event.ConflictDetected, RunID: runID, Phase: "retimer", Conflict: &c})
	}
	if !report.Accepted() {
		logger.Error("validation rejected", "conflicts", len(report.Conflicts))
		metrics.SolvesTotal.WithLabelValues("validation_rejected").Inc()
		return nil, &types.ValidationRejectedError{Conflicts: report.Conflicts}
	}

	solution := buildSolution(m, p2)

	if p2.TimeLimited {
		w := types.SuboptimalTimeLimited{Phase: "phase2"}
		solution.SuboptimalTimeLimited = &w
		metrics.SolvesTotal.WithLabelValues("suboptimal_time_limited").Inc()
		logger.Warn(w.String())
	} else {
		metrics.SolvesTotal.WithLabelValues("feasible").Inc()
	}
	metrics.MakespanSeconds.Observe(float64(solution.MakespanS))

	logger.Info("solve completed", "makespan_s", solution.MakespanS, "deadhead_s", solution.DeadheadTotalS, "stretch_s", solution.StretchTotalS)
	return solution, nil
}

func (s *Scheduler) runPhase1(ctx context.Context, m *preprocess.Model, logger *slog.Logger) (*phase1.Result, error) {
	s.journal.Append(journal.Entry{Type: journal.EntryPhaseStarted, Phase: "phase1"})
	s.bus.Publish(event.Event{Type: event.PhaseStarted, Phase: "phase1"})

	phaseCtx := ctx
	if s.cfg.Phase1TimeLimitS > 0 {
		var cancel context.CancelFunc
		phaseCtx, cancel = context.WithTimeout(ctx, time.Duration(s.cfg.Phase1TimeLimitS)*time.Second)
		defer cancel()
	}

	start := time.Now()
	result, err := phase1.Solve(phaseCtx, m, s.cfg)
	metrics.PhaseDuration.WithLabelValues("phase1").Observe(time.Since(start).Seconds())

	if err != nil {
		logger.Error("phase1 failed", "error", err)
		s.bus.Publish(event.Event{Type: event.PhaseFailed, Phase: "phase1", Err: err})
		s.journal.Append(journal.Entry{Type: journal.EntryPhaseCompleted, Phase: "phase1", Note: err.Error()})
		return nil, err
	}

	s.journal.Append(journal.Entry{Type: journal.EntryPhaseCompleted, Phase: "phase1", Value: result.MakespanS})
	s.bus.Publish(event.Event{Type: event.PhaseCompleted, Phase: "phase1"})
	logger.Info("phase1 completed", "makespan_s", result.MakespanS)
	return result, nil
}

func (s *Scheduler) runPhase2(ctx context.Context, m *preprocess.Model, p1 *phase1.Result, logger *slog.Logger) (*phase2.Result, error) {
	s.journal.Append(journal.Entry{Type: journal.EntryPhaseStarted, Phase: "phase2"})
	s.bus.Publish(event.Event{Type: event.PhaseStarted, Phase: "phase2"})

	phaseCtx := ctx
	if s.cfg.Phase2TimeLimitS > 0 {
		var cancel context.CancelFunc
		phaseCtx, cancel = context.WithTimeout(ctx, time.Duration(s.cfg.Phase2TimeLimitS)*time.Second)
		defer cancel()
	}

	start := time.Now()
	result, err := phase2.Solve(phaseCtx, m, p1, s.cfg)
	metrics.PhaseDuration.WithLabelValues("phase2").Observe(time.Since(start).Seconds())

	if err != nil {
		logger.Error("phase2 failed", "error", err)
		s.bus.Publish(event.Event{Type: event.PhaseFailed, Phase: "phase2", Err: err})
		s.journal.Append(journal.Entry{Type: journal.EntryPhaseCompleted, Phase: "phase2", Note: err.Error()})
		return nil, err
	}

	s.journal.Append(journal.Entry{Type: journal.EntryPhaseCompleted, Phase: "phase2", Value: result.MakespanS})
	s.bus.Publish(event.Event{Type: event.PhaseCompleted, Phase: "phase2"})
	logger.Info("phase2 completed", "makespan_s", result.MakespanS, "iterations", result.Iterations)
	return result, nil
}

func buildSolution(m *preprocess.Model, p2 *phase2.Result) *Solution {
	sol := &Solution{
		CalcTimes:      make(map[phase1.Key]int),
		BatchStart:     make(map[types.BatchID]int),
		MakespanS:      p2.MakespanS,
		DeadheadTotalS: p2.DeadheadTotalS,
		StretchTotalS:  p2.StretchTotalS,
	}

	for key, a := range p2.Assignments {
		if key.Stage == 0 {
			sol.BatchStart[key.Batch] = a.Exit
			continue
		}
		sol.CalcTimes[key] = a.Exit - a.Entry
		recipe := m.Recipes[findRecipeID(m, key.Batch)]
		sol.Phase1Schedule = append(sol.Phase1Schedule, Phase1Row{
			TransporterID: a.Transporter,
			BatchID:       key.Batch,
			RecipeID:      recipe.ID,
			Stage:         key.Stage,
			StationID:     a.StationID,
			EntryTimeS:    a.Entry,
			ExitTimeS:     a.Exit,
		})
	}
	sort.Slice(sol.Phase1Schedule, func(i, j int) bool {
		a, b := sol.Phase1Schedule[i], sol.Phase1Schedule[j]
		if a.TransporterID != b.TransporterID {
			return a.TransporterID < b.TransporterID
		}
		return a.ExitTimeS < b.ExitTimeS
	})

	for _, t := range p2.Tasks {
		toStage := t.FromStageIdx + 1
		for n := len(m.Recipes[findRecipeID(m, t.BatchID)].Stages); toStage < n; toStage++ {
			if _, ok := p2.Assignments[phase1.Key{Batch: t.BatchID, Stage: toStage}]; ok {
				break
			}
		}
		entryTo := p2.Assignments[phase1.Key{Batch: t.BatchID, Stage: toStage}].Entry
		sol.Phase2Schedule = append(sol.Phase2Schedule, Phase2Row{
			TransporterID: t.TransporterID,
			BatchID:       t.BatchID,
			FromStation:   t.FromStation,
			ToStation:     t.ToStation,
			TaskStartS:    t.Start,
			TaskEndS:      t.End,
			DurationS:     t.Duration(),
			EntryTimeToS:  entryTo,
		})
	}
	sort.Slice(sol.Phase2Schedule, func(i, j int) bool {
		a, b := sol.Phase2Schedule[i], sol.Phase2Schedule[j]
		if a.TransporterID != b.TransporterID {
			return a.TransporterID < b.TransporterID
		}
		return a.TaskStartS < b.TaskStartS
	})

	return sol
}

func findRecipeID(m *preprocess.Model, batchID types.BatchID) types.RecipeID {
	for _, b := range m.Batches {
		if b.ID == batchID {
			return b.RecipeID
		}
	}
	return ""
}
