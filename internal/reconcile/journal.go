package reconcile

import (
	"time"

	"annotprop/pkg/domain"
)

// Action is a store mutation recorded in the journal.
type Action string

const (
	ActionInsert Action = "insert"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Change is one journaled mutation.
type Change struct {
	Action     Action               `json:"action"`
	Level      string               `json:"level,omitempty"`
	Annotation domain.Annotation    `json:"annotation"`
	Fields     []domain.FieldChange `json:"fields,omitempty"`
	At         time.Time            `json:"at"`
}

// Journal accumulates the mutations of one aspect run. Touch-only refreshes are not journaled.
type Journal struct {
	changes []Change
}

func (j *Journal) record(c Change) {
	if j == nil {
		return
	}
	j.changes = append(j.changes, c)
}

// Changes returns the recorded mutations in the order they were applied.
func (j *Journal) Changes() []Change {
	if j == nil {
		return nil
	}
	out := make([]Change, len(j.changes))
	copy(out, j.changes)
	return out
}

// Count returns how many changes of action were recorded.
func (j *Journal) Count(action Action) int {
	if j == nil {
		return 0
	}
	n := 0
	for _, c := range j.changes {
		if c.Action == action {
			n++
		}
	}
	return n
}
