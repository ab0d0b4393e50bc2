package types

import "fmt"

// ConfigMissingError reports a required transfer pair or station/transporter
// attribute that is absent from the input. Fatal: the phase that hit it
// aborts with no partial output.
type ConfigMissingError struct {
	Key string // e.g. "transfer(301,302,T1)"
}

func (e *ConfigMissingError) Error() string {
	return fmt.Sprintf("config missing: %s", e.Key)
}

// ConfigInvalidError reports a kinematic or temporal parameter out of
// domain (negative, min > max, ...). Fatal.
type ConfigInvalidError struct {
	Field  string
	Reason string
}

func (e *ConfigInvalidError) Error() string {
	return fmt.Sprintf("config invalid: %s: %s", e.Field, e.Reason)
}

// ConflictKind enumerates the ways a replayed schedule can fail validation.
type ConflictKind string

const (
	ConflictStationDoubleBook    ConflictKind = "station_double_book"
	ConflictChangeTimeViolation  ConflictKind = "change_time_violation"
	ConflictTransporterOverlap   ConflictKind = "transporter_overlap"
	ConflictDeadheadShort        ConflictKind = "deadhead_short"
	ConflictAvoidViolation       ConflictKind = "avoid_violation"
	ConflictTimingMismatch       ConflictKind = "timing_mismatch"
)

// Conflict is one offending record in a rejected schedule.
type Conflict struct {
	Kind           ConflictKind
	Batches        []BatchID
	Stages         []int
	Stations       []StationID
	Transporters   []TransporterID
	ObservedGapS   int
	RequiredGapS   int
	Detail         string
}

// InfeasibleError reports that the solver proved infeasibility. Non-fatal
// to the overall process; carries a heuristic conflict list seeded by the
// most-constrained batches.
type InfeasibleError struct {
	Conflicts []Conflict
}

func (e *InfeasibleError) Error() string {
	return fmt.Sprintf("infeasible: %d seed conflict(s)", len(e.Conflicts))
}

// CancelledError reports caller-requested cancellation. HadIncumbent
// reports whether a feasible result existed when cancellation was
// observed; the error itself carries no result.
type CancelledError struct {
	HadIncumbent bool
}

func (e *CancelledError) Error() string {
	if e.HadIncumbent {
		return "cancelled: returning best incumbent"
	}
	return "cancelled: no incumbent found"
}

// ValidationRejectedError reports that replay detected an inconsistency.
// The schedule is rejected; no persistent artifacts are produced.
type ValidationRejectedError struct {
	Conflicts []Conflict
}

func (e *ValidationRejectedError) Error() string {
	return fmt.Sprintf("validation rejected: %d conflict(s)", len(e.Conflicts))
}

// SuboptimalTimeLimited is not an error: it is a warning value returned
// alongside a feasible solution that was not proved optimal before its
// phase's time limit elapsed. Callers decide whether to accept it.
type SuboptimalTimeLimited struct {
	Phase string
}

func (w SuboptimalTimeLimited) String() string {
	return fmt.Sprintf("%s: feasible solution returned, optimality not proved (time limit)", w.Phase)
}
