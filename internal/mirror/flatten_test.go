package mirror

import (
	"slices"
	"testing"

	"github.com/taskmirror/taskmirror/internal/types"
)

func intp(n int) *int { return &n }

func TestFlattenOrderAndIDs(t *testing.T) {
	tasks := []types.Task{
		{
			ID:    5,
			Title: "Parent",
			Subtasks: []types.Subtask{
				{ID: intp(1), Title: "First child"},
				{ID: intp(2), Title: "Second child"},
			},
		},
	}

	entities := Flatten(tasks, "master")
	if len(entities) != 3 {
		t.Fatalf("got %d entities, want 3", len(entities))
	}

	// Subtasks come before their parent, in source order.
	wantIDs := []string{"5.1", "5.2", "5"}
	for i, want := range wantIDs {
		if entities[i].ID != want {
			t.Errorf("entities[%d].ID = %q, want %q", i, entities[i].ID, want)
		}
		if entities[i].Tag != "master" {
			t.Errorf("entities[%d].Tag = %q, want master", i, entities[i].Tag)
		}
	}

	parent := entities[2].Task
	if !slices.Equal(parent.Subtasks, []string{"5.1", "5.2"}) {
		t.Errorf("parent subtask refs = %v, want [5.1 5.2]", parent.Subtasks)
	}
	if entities[0].Task.ParentID != "5" {
		t.Errorf("subtask ParentID = %q, want 5", entities[0].Task.ParentID)
	}
	if parent.ParentID != "" {
		t.Errorf("top-level ParentID = %q, want empty", parent.ParentID)
	}
}

func TestFlattenSkipsSubtasksWithoutID(t *testing.T) {
	tasks := []types.Task{
		{
			ID: 1,
			Subtasks: []types.Subtask{
				{Title: "unaddressable"},
				{ID: intp(3), Title: "ok"},
			},
		},
	}

	entities := Flatten(tasks, "master")
	if len(entities) != 2 {
		t.Fatalf("got %d entities, want 2", len(entities))
	}
	if entities[0].ID != "1.3" {
		t.Errorf("entities[0].ID = %q, want 1.3", entities[0].ID)
	}
	if !slices.Equal(entities[1].Task.Subtasks, []string{"1.3"}) {
		t.Errorf("parent subtask refs = %v, want [1.3]", entities[1].Task.Subtasks)
	}
}

func TestFlattenRewritesSiblingDeps(t *testing.T) {
	tasks := []types.Task{
		{
			ID: 5,
			Subtasks: []types.Subtask{
				{ID: intp(1), Title: "a"},
				{ID: intp(2), Title: "b", Dependencies: []types.DepID{"1"}},
			},
		},
	}

	entities := Flatten(tasks, "master")
	var sub2 *Flat
	for i := range entities {
		if entities[i].ID == "5.2" {
			sub2 = &entities[i].Task
		}
	}
	if sub2 == nil {
		t.Fatal("entity 5.2 not found")
	}
	if !slices.Equal(sub2.Dependencies, []string{"5.1"}) {
		t.Errorf("dependencies = %v, want [5.1]", sub2.Dependencies)
	}
}

func TestFlattenLeavesForeignDepsAlone(t *testing.T) {
	tasks := []types.Task{
		{
			ID: 5,
			Subtasks: []types.Subtask{
				// 1 is not a sibling here: no subtask with id 1 exists, so
				// the reference must pass through untouched.
				{ID: intp(2), Title: "b", Dependencies: []types.DepID{"1", "3.4"}},
			},
		},
	}

	entities := Flatten(tasks, "master")
	deps := entities[0].Task.Dependencies
	if !slices.Equal(deps, []string{"1", "3.4"}) {
		t.Errorf("dependencies = %v, want [1 3.4]", deps)
	}
}

func TestFlattenPriorityInheritance(t *testing.T) {
	tasks := []types.Task{
		{
			ID:       1,
			Priority: types.PriorityHigh,
			Subtasks: []types.Subtask{
				{ID: intp(1), Title: "inherits"},
				{ID: intp(2), Title: "own", Priority: types.PriorityLow},
			},
		},
	}

	m := FlattenToMap(tasks, "master")
	if m["1.1"].Priority != types.PriorityHigh {
		t.Errorf("subtask 1.1 priority = %q, want high", m["1.1"].Priority)
	}
	if m["1.2"].Priority != types.PriorityLow {
		t.Errorf("subtask 1.2 priority = %q, want low", m["1.2"].Priority)
	}
}

func TestFlattenEmpty(t *testing.T) {
	if got := Flatten(nil, "master"); len(got) != 0 {
		t.Errorf("Flatten(nil) = %v, want empty", got)
	}
}
