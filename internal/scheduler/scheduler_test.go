package scheduler

import (
	"context"
	"testing"

	"platingsched/internal/config"
	"platingsched/internal/types"
)

func threeStationLine(numBatches int) Input {
	stations := []types.Station{
		{ID: "301", GroupID: "G301", XMM: 1000},
		{ID: "302", GroupID: "G302", XMM: 2000},
		{ID: "303", GroupID: "G303", XMM: 3000},
	}
	transporters := []types.Transporter{
		{
			ID: "T1", XMinMM: 0, XMaxMM: 5000, VMaxMMS: 300, AAccel: 500, ADecel: 500,
			Lift: types.LiftSinkParams{ZTotalMM: 300, ZSlowDryMM: 50, ZSlowEndMM: 20, ZSlowSpeedMMS: 20, ZFastSpeedMMS: 100},
			Sink: types.LiftSinkParams{ZTotalMM: 300, ZSlowWetMM: 50, ZSlowSpeedMMS: 20, ZFastSpeedMMS: 100},
		},
	}
	recipes := []types.Recipe{
		{ID: "R1", Stages: []types.RecipeStage{
			{StageIdx: 0, MinStation: "301", MaxStation: "301", MinTimeS: 0, MaxTimeS: types.Horizon},
			{StageIdx: 1, MinStation: "302", MaxStation: "302", MinTimeS: 600, MaxTimeS: 720},
			{StageIdx: 2, MinStation: "303", MaxStation: "303", MinTimeS: 0, MaxTimeS: 720},
		}},
	}
	var batches []types.Batch
	for i := 0; i < numBatches; i++ {
		batches = append(batches, types.Batch{ID: types.BatchID(string(rune('A' + i))), RecipeID: "R1", InputOrder: i})
	}
	return Input{Stations: stations, Transporters: transporters, Recipes: recipes, Batches: batches}
}

func TestSolve_EndToEnd_ProducesConsistentSchedule(t *testing.T) {
	s := New(config.Defaults(), nil, nil, nil)
	sol, err := s.Solve(context.Background(), threeStationLine(2))
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}

	if sol.MakespanS <= 0 {
		t.Fatalf("expected a positive makespan, got %d", sol.MakespanS)
	}
	if len(sol.Phase1Schedule) == 0 {
		t.Fatalf("expected a non-empty phase1 schedule")
	}
	if len(sol.Phase2Schedule) == 0 {
		t.Fatalf("expected a non-empty phase2 schedule")
	}
	for _, row := range sol.Phase1Schedule {
		if row.EntryTimeS > row.ExitTimeS {
			t.Fatalf("phase1 row has entry > exit: %+v", row)
		}
	}
	for _, row := range sol.Phase2Schedule {
		if row.TaskStartS > row.TaskEndS {
			t.Fatalf("phase2 row has start > end: %+v", row)
		}
		if row.DurationS != row.TaskEndS-row.TaskStartS {
			t.Fatalf("phase2 row duration mismatch: %+v", row)
		}
	}
	if sol.SuboptimalTimeLimited != nil {
		t.Fatalf("expected a fully converged solve with no time limits configured, got %+v", sol.SuboptimalTimeLimited)
	}
}

func TestSolve_UnreachableStationIsConfigMissing(t *testing.T) {
	in := threeStationLine(1)
	// Shrink the only transporter's range so station 303 is unreachable.
	in.Transporters[0].XMaxMM = 2500

	s := New(config.Defaults(), nil, nil, nil)
	_, err := s.Solve(context.Background(), in)
	if err == nil {
		t.Fatalf("expected an error when a recipe stage's station is unreachable")
	}
	if _, ok := err.(*types.ConfigMissingError); !ok {
		t.Fatalf("expected *types.ConfigMissingError, got %T: %v", err, err)
	}
}

func TestSolve_InvalidTransporterRangeIsConfigInvalid(t *testing.T) {
	in := threeStationLine(1)
	in.Transporters[0].XMinMM = 9000
	in.Transporters[0].XMaxMM = 1000

	s := New(config.Defaults(), nil, nil, nil)
	_, err := s.Solve(context.Background(), in)
	if err == nil {
		t.Fatalf("expected an error for an invalid transporter range")
	}
	if _, ok := err.(*types.ConfigInvalidError); !ok {
		t.Fatalf("expected *types.ConfigInvalidError, got %T: %v", err, err)
	}
}
