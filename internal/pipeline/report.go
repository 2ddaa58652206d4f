package pipeline

import (
	"time"

	"annotprop/internal/reconcile"
	"annotprop/pkg/domain"
)

// State is a step of the per-aspect run state machine.
type State string

const (
	StateFetchBase    State = "FETCH_BASE"
	StateLoadSnapshot State = "LOAD_SNAPSHOT"
	StateDerive       State = "DERIVE"
	StateReconcile    State = "RECONCILE_EACH_LEVEL"
	StateSweep        State = "SWEEP_ORPHANS"
	StateReport       State = "REPORT"
)

// Counter names shared by the report dump and the archive.
const (
	CounterBase           = "base annotations"
	CounterInitial        = "IN RGD INITIAL ANNOTATION COUNT"
	CounterDeleted        = "total annotations deleted"
	CounterFinal          = "FINAL ANNOTATION COUNT"
	CounterWarnings       = "distinct warnings"
	CounterDuplicateDrops = "duplicate derived annotations collapsed"
)

func levelCounter(level, what string) string { return level + " annotations " + what }

func relationCounter(level, what string) string { return level + " relation: " + what }

// Report is the outcome of one chain/aspect run.
type Report struct {
	RunID      string             `json:"run_id"`
	Chain      string             `json:"chain"`
	Aspect     domain.Aspect      `json:"aspect"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	State      State              `json:"state"`
	Counts     map[string]int     `json:"counts"`
	Inserted   int                `json:"inserted"`
	Updated    int                `json:"updated"`
	UpToDate   int                `json:"up_to_date"`
	Deleted    int                `json:"deleted"`
	Error      string             `json:"error,omitempty"`
	Changes    []reconcile.Change `json:"-"`
}

// Elapsed returns the run's wall time.
func (r Report) Elapsed() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }
