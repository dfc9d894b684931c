package progress

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"loopz/internal/domain"
)

func tasks(done ...bool) []domain.Task {
	out := make([]domain.Task, 0, len(done))
	for _, d := range done {
		out = append(out, domain.Task{IsCompleted: d})
	}
	return out
}

func TestPercentCompleteBoundaries(t *testing.T) {
	cases := []struct {
		name string
		in   []domain.Task
		want int
	}{
		{"empty", nil, 0},
		{"single done", tasks(true), 100},
		{"single pending", tasks(false), 0},
		{"one of three", tasks(true, false, false), 33},
		{"two of three", tasks(true, true, false), 67},
		{"half", tasks(true, false), 50},
		{"one of eight rounds half up", tasks(true, false, false, false, false, false, false, false), 13},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := PercentComplete(tc.in); got != tc.want {
				t.Fatalf("PercentComplete=%d, want %d", got, tc.want)
			}
		})
	}
}

func TestForLoopCountsNestedTasks(t *testing.T) {
	l := domain.LoopWithTasks{Tasks: []domain.Task{
		{ID: "a", IsCompleted: true, Microsteps: []domain.Task{
			{ID: "a1", IsCompleted: false},
			{ID: "a2", IsCompleted: true},
		}},
		{ID: "b"},
	}}
	if got := ForLoop(l); got != 50 {
		t.Fatalf("ForLoop=%d, want 50", got)
	}
	var ids []string
	for _, tk := range Flatten(l.Tasks) {
		ids = append(ids, tk.ID)
	}
	if diff := cmp.Diff([]string{"a", "a1", "a2", "b"}, ids); diff != "" {
		t.Fatalf("flatten order (-want +got):\n%s", diff)
	}
}
