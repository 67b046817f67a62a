package mirror

import (
	"strconv"

	"github.com/taskmirror/taskmirror/internal/types"
)

// Flat is the normalized, flattened form of a task or subtask. Nested
// subtask objects are rewritten to an ordered list of compound id strings
// (a back-reference list, not an ownership relation), and dependency
// references are rewritten to their durable string form.
type Flat struct {
	Title        string
	Description  string
	Details      string
	TestStrategy string
	Status       string
	Priority     string
	Dependencies []string
	Subtasks     []string
	// ParentID is the compound key's parent half for subtasks, "" for
	// top-level tasks.
	ParentID string
}

// Entity is one flattened task or subtask, uniquely addressed within a tag
// by its scalar or compound id.
type Entity struct {
	ID   string
	Tag  string
	Task Flat
}

// Flatten normalizes a tag's task tree into a flat, ordered entity list.
//
// Rules:
//  1. Subtasks with a missing id are skipped entirely - they cannot be
//     addressed remotely.
//  2. A subtask dependency equal to a sibling subtask's bare numeric id is
//     rewritten to "<parentId>.<dep>". Dependencies already compound or
//     referring to foreign tasks are left untouched.
//  3. A subtask with no priority of its own inherits the parent task's.
//  4. The parent task's own record replaces its subtasks array with the
//     ordered list of compound child ids.
//
// Subtasks are emitted before their parent, in source order. The transform
// is pure and permissive: missing slices mean empty, never an error.
func Flatten(tasks []types.Task, tag string) []Entity {
	var out []Entity

	for i := range tasks {
		task := &tasks[i]

		siblings := make(map[int]bool, len(task.Subtasks))
		for _, st := range task.Subtasks {
			if st.ID != nil {
				siblings[*st.ID] = true
			}
		}

		var childIDs []string
		for j := range task.Subtasks {
			st := &task.Subtasks[j]
			if st.ID == nil {
				continue
			}
			id := types.CompoundID(task.ID, *st.ID)
			childIDs = append(childIDs, id)

			priority := st.Priority
			if priority == "" {
				priority = task.Priority
			}

			out = append(out, Entity{
				ID:  id,
				Tag: tag,
				Task: Flat{
					Title:        st.Title,
					Description:  st.Description,
					Details:      st.Details,
					TestStrategy: st.TestStrategy,
					Status:       st.Status,
					Priority:     priority,
					Dependencies: rewriteDeps(st.Dependencies, task.ID, siblings),
					ParentID:     strconv.Itoa(task.ID),
				},
			})
		}

		out = append(out, Entity{
			ID:  strconv.Itoa(task.ID),
			Tag: tag,
			Task: Flat{
				Title:        task.Title,
				Description:  task.Description,
				Details:      task.Details,
				TestStrategy: task.TestStrategy,
				Status:       task.Status,
				Priority:     task.Priority,
				Dependencies: depStrings(task.Dependencies),
				Subtasks:     childIDs,
			},
		})
	}

	return out
}

// FlattenToMap flattens a tag's task tree into an id-keyed map.
func FlattenToMap(tasks []types.Task, tag string) map[string]Flat {
	entities := Flatten(tasks, tag)
	out := make(map[string]Flat, len(entities))
	for _, e := range entities {
		out[e.ID] = e.Task
	}
	return out
}

// rewriteDeps rewrites bare numeric sibling references to compound form.
func rewriteDeps(deps []types.DepID, parentID int, siblings map[int]bool) []string {
	if len(deps) == 0 {
		return nil
	}
	out := make([]string, 0, len(deps))
	for _, dep := range deps {
		if n, ok := dep.Num(); ok && siblings[n] {
			out = append(out, types.CompoundID(parentID, n))
			continue
		}
		out = append(out, dep.String())
	}
	return out
}

func depStrings(deps []types.DepID) []string {
	if len(deps) == 0 {
		return nil
	}
	out := make([]string, 0, len(deps))
	for _, dep := range deps {
		out = append(out, dep.String())
	}
	return out
}
