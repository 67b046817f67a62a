// Package types provides the data structures for the local task store.
//
// The local store is a tagged collection of tasks. Each tag owns an
// independent id space: task ids are unique only within (tag, id), never
// globally. Subtasks live inside their parent task and are addressed by the
// compound key "<parentId>.<subId>".
package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Status values for tasks and subtasks.
const (
	StatusPending    = "pending"
	StatusInProgress = "in-progress"
	StatusDone       = "done"
	StatusCancelled  = "cancelled"
	StatusDeferred   = "deferred"
	StatusReview     = "review"
	StatusBlocked    = "blocked"
)

// Priority values for tasks and subtasks.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// DepID is a dependency reference. In the task document it may appear as a
// bare number (a sibling or top-level task id) or as a string, including the
// compound "<parentId>.<subId>" form. Both decode to the same type.
type DepID string

// UnmarshalJSON accepts either a JSON number or a JSON string.
func (d *DepID) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*d = ""
		return nil
	}
	if len(s) > 0 && s[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*d = DepID(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("dependency must be a number or string: %w", err)
	}
	*d = DepID(n.String())
	return nil
}

// MarshalJSON emits the string form. Compound ids have no numeric
// representation, so everything round-trips as a string.
func (d DepID) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(d))
}

// String returns the reference as written in the task document.
func (d DepID) String() string { return string(d) }

// IsCompound reports whether the reference is a "<parentId>.<subId>" key.
func (d DepID) IsCompound() bool { return strings.Contains(string(d), ".") }

// Num returns the reference as a bare integer id. ok is false for compound
// or non-numeric references.
func (d DepID) Num() (int, bool) {
	n, err := strconv.Atoi(string(d))
	if err != nil {
		return 0, false
	}
	return n, true
}

// Subtask is a child work item inside a Task. It has the same shape as Task
// minus nested subtasks. Its durable identity is "<parentId>.<subId>".
type Subtask struct {
	ID           *int    `json:"id"`
	Title        string  `json:"title"`
	Description  string  `json:"description,omitempty"`
	Details      string  `json:"details,omitempty"`
	TestStrategy string  `json:"testStrategy,omitempty"`
	Status       string  `json:"status,omitempty"`
	Priority     string  `json:"priority,omitempty"`
	Dependencies []DepID `json:"dependencies,omitempty"`
}

// Task is a top-level work item within a tag.
//
// A task's id is stable for its lifetime; identity survives edits but not
// tag changes. Moving a task between tags is modeled as delete+add and
// reconciled downstream by move detection.
type Task struct {
	ID           int       `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	Details      string    `json:"details,omitempty"`
	TestStrategy string    `json:"testStrategy,omitempty"`
	Status       string    `json:"status,omitempty"`
	Priority     string    `json:"priority,omitempty"`
	Dependencies []DepID   `json:"dependencies,omitempty"`
	Subtasks     []Subtask `json:"subtasks,omitempty"`
}

// TagData is one tag's slice of the task document.
type TagData struct {
	Tasks []Task `json:"tasks"`
	// Metadata is carried through untouched; the mirror never interprets it.
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// Snapshot is one complete reading of the local store: tag name to tasks.
type Snapshot map[string]TagData

// Tags returns the tag names present in the snapshot, in no defined order.
func (s Snapshot) Tags() []string {
	out := make([]string, 0, len(s))
	for tag := range s {
		out = append(out, tag)
	}
	return out
}

// CompoundID builds the durable subtask key "<parentId>.<subId>".
func CompoundID(parentID, subID int) string {
	return fmt.Sprintf("%d.%d", parentID, subID)
}

// SplitCompoundID splits "<parentId>.<subId>" into its parts.
// ok is false when id is not a compound key of two integers.
func SplitCompoundID(id string) (parent, sub int, ok bool) {
	dot := strings.IndexByte(id, '.')
	if dot <= 0 || dot == len(id)-1 {
		return 0, 0, false
	}
	p, err := strconv.Atoi(id[:dot])
	if err != nil {
		return 0, 0, false
	}
	s, err := strconv.Atoi(id[dot+1:])
	if err != nil {
		return 0, 0, false
	}
	return p, s, true
}
