// Package preprocess normalizes raw input into the immutable snapshot the
// solver phases consume: a full transfer table, the derived change time,
// and batches grouped by canonical recipe signature for symmetry
// breaking. Grounded on the teacher's config-loading/normalization style
// and original_source/data_loader.py's station-pair enumeration.
package preprocess

import (
	"fmt"
	"sort"

	"platingsched/internal/kinematics"
	"platingsched/internal/types"
)

// TransferKey identifies one transfer-table entry.
type TransferKey struct {
	From        types.StationID
	To          types.StationID
	Transporter types.TransporterID
}

// Model is the immutable snapshot every solve phase reads from.
type Model struct {
	Stations     map[types.StationID]types.Station
	Transporters map[types.TransporterID]types.Transporter
	Recipes      map[types.RecipeID]types.Recipe
	Batches      []types.Batch

	TransferTable map[TransferKey]types.TransferPair

	AverageTaskTimeS float64
	ChangeTimeS      int

	// RecipeGroups maps a canonical recipe signature to its batches,
	// ordered by InputOrder, for Phase-1's symmetry-breaking constraint.
	RecipeGroups map[string][]types.Batch
}

// Build assembles a Model from raw reference data. It is the only place
// that enumerates every (from, to, transporter) triple and is therefore
// the sole owner of ConfigMissing detection for the transfer table.
func Build(
	stations []types.Station,
	transporters []types.Transporter,
	recipes []types.Recipe,
	batches []types.Batch,
) (*Model, error) {
	m := &Model{
		Stations:      make(map[types.StationID]types.Station, len(stations)),
		Transporters:  make(map[types.TransporterID]types.Transporter, len(transporters)),
		Recipes:       make(map[types.RecipeID]types.Recipe, len(recipes)),
		Batches:       batches,
		TransferTable: make(map[TransferKey]types.TransferPair),
		RecipeGroups:  make(map[string][]types.Batch),
	}

	for _, s := range stations {
		m.Stations[s.ID] = s
	}
	for _, t := range transporters {
		if t.XMinMM > t.XMaxMM {
			return nil, &types.ConfigInvalidError{Field: fmt.Sprintf("transporter(%s).x_range", t.ID), Reason: "x_min > x_max"}
		}
		if t.VMaxMMS <= 0 || t.AAccel <= 0 || t.ADecel <= 0 {
			return nil, &types.ConfigInvalidError{Field: fmt.Sprintf("transporter(%s).kinematics", t.ID), Reason: "v_max, a_accel, a_decel must be > 0"}
		}
		m.Transporters[t.ID] = t
	}
	for _, r := range recipes {
		if err := validateRecipe(r); err != nil {
			return nil, err
		}
		m.Recipes[r.ID] = r
	}

	if err := m.buildTransferTable(); err != nil {
		return nil, err
	}
	m.computeAverages()
	m.groupByRecipeSignature()

	return m, nil
}

func validateRecipe(r types.Recipe) error {
	for i, s := range r.Stages {
		if s.StageIdx != i {
			return &types.ConfigInvalidError{Field: fmt.Sprintf("recipe(%s).stage[%d]", r.ID, i), Reason: "stages must be numbered 0..N-1 in order"}
		}
		if s.MinStation > s.MaxStation {
			return &types.ConfigInvalidError{Field: fmt.Sprintf("recipe(%s).stage[%d].station_range", r.ID, i), Reason: "min_station > max_station"}
		}
		if s.MinTimeS < 0 || s.MinTimeS > s.MaxTimeS {
			return &types.ConfigInvalidError{Field: fmt.Sprintf("recipe(%s).stage[%d].time_window", r.ID, i), Reason: "0 <= min_time <= max_time required"}
		}
	}
	return nil
}

// buildTransferTable enumerates, for every transporter, every ordered
// pair of stations (including identity pairs) both within that
// transporter's operating interval.
func (m *Model) buildTransferTable() error {
	ids := make([]types.StationID, 0, len(m.Stations))
	for id := range m.Stations {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, t := range m.Transporters {
		for _, fromID := range ids {
			from := m.Stations[fromID]
			if !t.InRange(from.XMM) {
				continue
			}
			for _, toID := range ids {
				to := m.Stations[toID]
				if !t.InRange(to.XMM) {
					continue
				}
				key := TransferKey{From: fromID, To: toID, Transporter: t.ID}
				m.TransferTable[key] = kinematics.BuildTransferPair(from, to, t)
			}
		}
	}
	return nil
}

// Transfer looks up one transfer-table entry, failing with ConfigMissing
// per spec.md §4.1's contract when the pair is undefined for that
// transporter (either station outside its operating interval).
func (m *Model) Transfer(from, to types.StationID, transporter types.TransporterID) (types.TransferPair, error) {
	p, ok := m.TransferTable[TransferKey{From: from, To: to, Transporter: transporter}]
	if !ok {
		return types.TransferPair{}, &types.ConfigMissingError{Key: fmt.Sprintf("transfer(%s,%s,%s)", from, to, transporter)}
	}
	return p, nil
}

func (m *Model) computeAverages() {
	if len(m.TransferTable) == 0 {
		m.AverageTaskTimeS = 0
		m.ChangeTimeS = 0
		return
	}
	sum := 0
	for _, p := range m.TransferTable {
		sum += p.TotalTaskTimeS()
	}
	m.AverageTaskTimeS = float64(sum) / float64(len(m.TransferTable))
	m.ChangeTimeS = ceilInt(2 * m.AverageTaskTimeS)
}

func ceilInt(v float64) int {
	i := int(v)
	if float64(i) < v {
		i++
	}
	return i
}

// groupByRecipeSignature buckets batches by their recipe's canonical
// signature (spec.md §4.2), preserving InputOrder within each bucket —
// the tie-break Phase-1's symmetry constraint consumes.
func (m *Model) groupByRecipeSignature() {
	for _, b := range m.Batches {
		recipe := m.Recipes[b.RecipeID]
		sig := recipe.Signature()
		m.RecipeGroups[sig] = append(m.RecipeGroups[sig], b)
	}
	for sig := range m.RecipeGroups {
		group := m.RecipeGroups[sig]
		sort.Slice(group, func(i, j int) bool { return group[i].InputOrder < group[j].InputOrder })
		m.RecipeGroups[sig] = group
	}
}
