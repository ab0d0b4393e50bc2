package retimer

import (
	"context"
	"testing"

	"platingsched/internal/config"
	"platingsched/internal/fsm"
	"platingsched/internal/phase1"
	"platingsched/internal/phase2"
	"platingsched/internal/preprocess"
	"platingsched/internal/types"
)

func twoStationModel() *preprocess.Model {
	stations := map[types.StationID]types.Station{
		"301": {ID: "301", GroupID: "G301", XMM: 1000},
		"302": {ID: "302", GroupID: "G302", XMM: 2000},
	}
	transporters := map[types.TransporterID]types.Transporter{
		"T1": {ID: "T1", XMinMM: 0, XMaxMM: 5000, VMaxMMS: 300, AAccel: 500, ADecel: 500},
	}
	recipes := map[types.RecipeID]types.Recipe{
		"R1": {ID: "R1", Stages: []types.RecipeStage{
			{StageIdx: 0, MinStation: "301", MaxStation: "301", MinTimeS: 0, MaxTimeS: types.Horizon},
			{StageIdx: 1, MinStation: "302", MaxStation: "302", MinTimeS: 100, MaxTimeS: 200},
		}},
	}
	table := map[preprocess.TransferKey]types.TransferPair{
		{From: "301", To: "301", Transporter: "T1"}: {From: "301", To: "301", Transporter: "T1", LiftTimeS: 5, SinkTimeS: 5},
		{From: "302", To: "302", Transporter: "T1"}: {From: "302", To: "302", Transporter: "T1", LiftTimeS: 5, SinkTimeS: 5},
		{From: "301", To: "302", Transporter: "T1"}: {From: "301", To: "302", Transporter: "T1", LiftTimeS: 5, TransferTimeS: 2, SinkTimeS: 5},
		{From: "302", To: "301", Transporter: "T1"}: {From: "302", To: "301", Transporter: "T1", LiftTimeS: 5, TransferTimeS: 2, SinkTimeS: 5},
	}
	batches := []types.Batch{{ID: "B1", RecipeID: "R1", InputOrder: 0}}
	return &preprocess.Model{
		Stations: stations, Transporters: transporters, Recipes: recipes, Batches: batches,
		TransferTable: table, AverageTaskTimeS: 12, ChangeTimeS: 24,
		RecipeGroups: map[string][]types.Batch{},
	}
}

func cleanSolve(t *testing.T, m *preprocess.Model) *phase2.Result {
	t.Helper()
	p1, err := phase1.Solve(context.Background(), m, config.Defaults())
	if err != nil {
		t.Fatalf("phase1.Solve: %v", err)
	}
	p2, err := phase2.Solve(context.Background(), m, p1, config.Defaults())
	if err != nil {
		t.Fatalf("phase2.Solve: %v", err)
	}
	return p2
}

func TestValidate_CleanScheduleAccepted(t *testing.T) {
	m := twoStationModel()
	p2 := cleanSolve(t, m)

	report := Validate(m, p2, config.Defaults())
	if !report.Accepted() {
		t.Fatalf("expected a clean schedule to be accepted, got conflicts: %+v", report.Conflicts)
	}
	for id, f := range report.TaskFSMs {
		if f.Current != fsm.StateExecuted {
			t.Fatalf("task %s should reach executed, got %s", id, f.Current)
		}
	}
}

func TestValidate_DetectsChangeTimeViolation(t *testing.T) {
	m := twoStationModel()
	p2 := cleanSolve(t, m)

	a := p2.Assignments[phase1.Key{Batch: "B1", Stage: 1}]

	// Inject a second batch's assignment on the same station with an
	// entry that overlaps the change-time window.
	p2.Assignments[phase1.Key{Batch: "B2", Stage: 1}] = types.StageAssignment{
		BatchID: "B2", StageIdx: 1, StationID: a.StationID,
		Entry: a.Exit + 1, Exit: a.Exit + 50,
	}

	report := Validate(m, p2, config.Defaults())
	if report.Accepted() {
		t.Fatalf("expected change-time violation to be detected")
	}
	foundChangeTime := false
	for _, c := range report.Conflicts {
		if c.Kind == types.ConflictChangeTimeViolation {
			foundChangeTime = true
		}
	}
	if !foundChangeTime {
		t.Fatalf("expected a ConflictChangeTimeViolation among %+v", report.Conflicts)
	}
	if f := report.TaskFSMs["B1:0"]; f != nil && f.Current != fsm.StateRejected {
		t.Fatalf("B1's task should be rejected once its batch is implicated, got %s", f.Current)
	}
}

func TestValidate_DetectsTimingMismatch(t *testing.T) {
	m := twoStationModel()
	p2 := cleanSolve(t, m)

	key := phase1.Key{Batch: "B1", Stage: 1}
	a := p2.Assignments[key]
	a.Exit = a.Entry + 1 // shorter than min_time (100)
	p2.Assignments[key] = a

	report := Validate(m, p2, config.Defaults())
	if report.Accepted() {
		t.Fatalf("expected a timing window violation to be detected")
	}
	found := false
	for _, c := range report.Conflicts {
		if c.Kind == types.ConflictTimingMismatch {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a ConflictTimingMismatch among %+v", report.Conflicts)
	}
}

func TestValidate_DetectsTransporterOverlap(t *testing.T) {
	m := twoStationModel()
	p2 := cleanSolve(t, m)

	if len(p2.Tasks) == 0 {
		t.Fatalf("expected at least one task")
	}
	injected := p2.Tasks[0]
	injected.BatchID = "B2"
	p2.Tasks = append(p2.Tasks, injected)

	report := Validate(m, p2, config.Defaults())
	if report.Accepted() {
		t.Fatalf("expected overlapping same-transporter tasks to be rejected")
	}
	found := false
	for _, c := range report.Conflicts {
		if c.Kind == types.ConflictTransporterOverlap {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a ConflictTransporterOverlap among %+v", report.Conflicts)
	}
}

func TestVerifyPhase1_CleanScheduleAccepted(t *testing.T) {
	m := twoStationModel()
	p1, err := phase1.Solve(context.Background(), m, config.Defaults())
	if err != nil {
		t.Fatalf("phase1.Solve: %v", err)
	}
	report := VerifyPhase1(m, p1, config.Defaults())
	if !report.Accepted() {
		t.Fatalf("expected Phase-1's own schedule to verify clean, got: %+v", report.Conflicts)
	}
}
