// Package board partitions a project's tasks into status columns and computes
// the position updates produced by drag-and-drop moves.
//
// Everything here is pure: functions take a Board and return a new one, and
// callers own persistence of the resulting ChangeSet.
package board

import (
	"fmt"
	"sort"

	"taskboard/internal/domain"
)

const (
	// PositionStep is the gap between consecutive positions after a renumber.
	PositionStep = 1000
	// MaxPosition caps renumbered positions.
	MaxPosition = 1_000_000
)

// Column is an ordered run of tasks sharing one status.
type Column []domain.Task

// Board holds one column per status. Every status is always present.
type Board struct {
	columns [domain.StatusCount]Column
}

// Location is one end of a drag: a column and an index inside it.
type Location struct {
	Status domain.Status `json:"status"`
	Index  int           `json:"index"`
}

// Change instructs the store to overwrite a task's status and position.
type Change struct {
	ID       string        `json:"id"`
	Status   domain.Status `json:"status"`
	Position int           `json:"position"`
}

// ChangeSet is ordered: moved task, destination diffs, then source diffs.
type ChangeSet []Change

// Ingest builds a Board from a flat task list. Tasks keep input order within a
// column until a stable sort by position. A task whose status is not a known
// column is rejected.
func Ingest(tasks []domain.Task) (Board, error) {
	var b Board
	for _, s := range domain.Statuses() {
		b.columns[s] = Column{}
	}
	for _, t := range tasks {
		if !t.Status.Valid() {
			return Board{}, fmt.Errorf("ingest task %s: %w: %d", t.ID, domain.ErrUnknownStatus, int(t.Status))
		}
		b.columns[t.Status] = append(b.columns[t.Status], t)
	}
	for _, s := range domain.Statuses() {
		col := b.columns[s]
		sort.SliceStable(col, func(i, j int) bool { return col[i].Position < col[j].Position })
	}
	return b, nil
}

// Column returns a copy of the column for status s.
func (b Board) Column(s domain.Status) Column {
	if !s.Valid() {
		return nil
	}
	out := make(Column, len(b.columns[s]))
	copy(out, b.columns[s])
	return out
}

// Len is the number of tasks in column s.
func (b Board) Len(s domain.Status) int {
	if !s.Valid() {
		return 0
	}
	return len(b.columns[s])
}

// Tasks flattens the board in column order.
func (b Board) Tasks() []domain.Task {
	var out []domain.Task
	for _, s := range domain.Statuses() {
		out = append(out, b.columns[s]...)
	}
	return out
}

// Count is the total number of tasks on the board.
func (b Board) Count() int {
	n := 0
	for _, col := range b.columns {
		n += len(col)
	}
	return n
}

// Counts returns the per-column task counts keyed by status.
func (b Board) Counts() map[domain.Status]int {
	out := make(map[domain.Status]int, domain.StatusCount)
	for _, s := range domain.Statuses() {
		out[s] = len(b.columns[s])
	}
	return out
}

// PositionAt returns the renumbered position for sequence index i.
func PositionAt(i int) int {
	return min((i+1)*PositionStep, MaxPosition)
}

// Move applies a drag from src to dst. A nil dst is a cancelled drag and a src
// index outside its column is stale; both return b unchanged with no changes.
// The destination index is clamped into the column. The moved task's change is
// always emitted first, even when its position did not change.
func Move(b Board, src Location, dst *Location) (Board, ChangeSet) {
	if dst == nil {
		return b, nil
	}
	if !src.Status.Valid() || !dst.Status.Valid() {
		return b, nil
	}
	source := b.columns[src.Status]
	if src.Index < 0 || src.Index >= len(source) {
		return b, nil
	}

	next := b
	moved := source[src.Index]
	remaining := make(Column, 0, len(source)-1)
	remaining = append(remaining, source[:src.Index]...)
	remaining = append(remaining, source[src.Index+1:]...)
	next.columns[src.Status] = remaining
	moved.Status = dst.Status

	dest := next.columns[dst.Status]
	at := max(0, min(dst.Index, len(dest)))
	inserted := make(Column, 0, len(dest)+1)
	inserted = append(inserted, dest[:at]...)
	inserted = append(inserted, moved)
	inserted = append(inserted, dest[at:]...)

	changes := ChangeSet{{ID: moved.ID, Status: dst.Status, Position: PositionAt(at)}}
	var destDiff ChangeSet
	next.columns[dst.Status], destDiff = renumber(inserted, dst.Status, moved.ID)
	changes = append(changes, destDiff...)

	if src.Status != dst.Status {
		var srcDiff ChangeSet
		next.columns[src.Status], srcDiff = renumber(next.columns[src.Status], src.Status, "")
		changes = append(changes, srcDiff...)
	}
	return next, changes
}

// renumber assigns spaced positions in sequence order and reports every task
// whose stored position changed. The task with id skip is renumbered but not
// reported.
func renumber(col Column, status domain.Status, skip string) (Column, ChangeSet) {
	var diff ChangeSet
	for i := range col {
		pos := PositionAt(i)
		if col[i].ID != skip && col[i].Position != pos {
			diff = append(diff, Change{ID: col[i].ID, Status: status, Position: pos})
		}
		col[i].Position = pos
	}
	return col, diff
}

// Apply overwrites status and position of tasks named in cs, in order. The
// input slice is not modified. Applying the same set twice is a no-op.
func Apply(tasks []domain.Task, cs ChangeSet) []domain.Task {
	out := make([]domain.Task, len(tasks))
	copy(out, tasks)
	idx := make(map[string]int, len(out))
	for i, t := range out {
		idx[t.ID] = i
	}
	for _, c := range cs {
		i, ok := idx[c.ID]
		if !ok {
			continue
		}
		out[i].Status = c.Status
		out[i].Position = c.Position
	}
	return out
}
