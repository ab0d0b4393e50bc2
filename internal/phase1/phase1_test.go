package phase1

import (
	"context"
	"testing"

	"platingsched/internal/config"
	"platingsched/internal/preprocess"
	"platingsched/internal/types"
)

func threeStationLine(numBatches int) ([]types.Station, []types.Transporter, []types.Recipe, []types.Batch) {
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
	return stations, transporters, recipes, batches
}

func TestSolve_OneBatch_Precedence(t *testing.T) {
	stations, transporters, recipes, batches := threeStationLine(1)
	m, err := preprocess.Build(stations, transporters, recipes, batches)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	result, err := Solve(context.Background(), m, config.Defaults())
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}

	a0 := result.Assignments[Key{Batch: "A", Stage: 0}]
	a1 := result.Assignments[Key{Batch: "A", Stage: 1}]
	a2 := result.Assignments[Key{Batch: "A", Stage: 2}]

	if a1.Entry < a0.Exit {
		t.Fatalf("stage1 entry %d must be >= stage0 exit %d", a1.Entry, a0.Exit)
	}
	if a2.Entry < a1.Exit {
		t.Fatalf("stage2 entry %d must be >= stage1 exit %d", a2.Entry, a1.Exit)
	}
	if dur := a1.Exit - a1.Entry; dur != 600 {
		t.Fatalf("stage1 duration = %d, want min_time 600 (Phase-1 uses minimum processing times)", dur)
	}
	if result.MakespanS != a2.Exit {
		t.Fatalf("makespan %d should equal last stage exit %d", result.MakespanS, a2.Exit)
	}
}

func TestSolve_SymmetryConstraint(t *testing.T) {
	stations, transporters, recipes, batches := threeStationLine(2)
	m, err := preprocess.Build(stations, transporters, recipes, batches)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	result, err := Solve(context.Background(), m, config.Defaults())
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}

	entryA1 := result.Assignments[Key{Batch: "A", Stage: 1}].Entry
	entryB1 := result.Assignments[Key{Batch: "B", Stage: 1}].Entry
	if entryB1 < entryA1 {
		t.Fatalf("symmetry violated: entry(B,1)=%d < entry(A,1)=%d for identical-recipe batches with A preceding B", entryB1, entryA1)
	}
}

func TestSolve_StationExclusivityWithChangeGap(t *testing.T) {
	stations, transporters, recipes, batches := threeStationLine(2)
	m, err := preprocess.Build(stations, transporters, recipes, batches)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	result, err := Solve(context.Background(), m, config.Defaults())
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}

	for stage := 1; stage <= 2; stage++ {
		a := result.Assignments[Key{Batch: "A", Stage: stage}]
		b := result.Assignments[Key{Batch: "B", Stage: stage}]
		if a.StationID != b.StationID {
			continue
		}
		first, second := a, b
		if b.Exit < a.Exit {
			first, second = b, a
		}
		if second.Entry < first.Exit+m.ChangeTimeS {
			t.Fatalf("stage %d: change-time violated between batches on station %s: second.Entry=%d, required>=%d",
				stage, a.StationID, second.Entry, first.Exit+m.ChangeTimeS)
		}
	}
}

func TestSolve_SkipRuleBypassesStage(t *testing.T) {
	stations, transporters, recipes, batches := threeStationLine(1)
	recipes[0].Stages[1].SkipRule = `attrs["proto"] == true`
	batches[0].Attrs = map[string]interface{}{"proto": true}

	m, err := preprocess.Build(stations, transporters, recipes, batches)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	result, err := Solve(context.Background(), m, config.Defaults())
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}

	if _, ok := result.Assignments[Key{Batch: "A", Stage: 1}]; ok {
		t.Fatalf("stage 1 should have been skipped for a prototype batch, but an assignment was recorded")
	}
	a0 := result.Assignments[Key{Batch: "A", Stage: 0}]
	a2 := result.Assignments[Key{Batch: "A", Stage: 2}]
	if a2.Entry < a0.Exit {
		t.Fatalf("stage2 entry %d must follow stage0 exit %d directly once stage1 is skipped", a2.Entry, a0.Exit)
	}
	if result.MakespanS != a2.Exit {
		t.Fatalf("makespan %d should equal stage2 exit %d", result.MakespanS, a2.Exit)
	}

	moveKey := MoveKey{Batch: "A", FromStageIdx: 0}
	if _, ok := result.TransporterChoice[moveKey]; !ok {
		t.Fatalf("expected a transporter choice for the 0->2 move bypassing the skipped stage 1")
	}
}

func TestChooseTransporter_MissingRange(t *testing.T) {
	stations, transporters, recipes, batches := threeStationLine(1)
	transporters[0].XMaxMM = 1500
	m, err := preprocess.Build(stations, transporters, recipes, batches)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	_, err = ChooseTransporter(m, "301", "303")
	if err == nil {
		t.Fatalf("expected an error when no transporter covers both stations")
	}
	if _, ok := err.(*types.ConfigMissingError); !ok {
		t.Fatalf("expected *types.ConfigMissingError, got %T", err)
	}
}
