// Package progress reduces task sets to completion percentages.
package progress

import "loopz/internal/domain"

// PercentComplete returns the share of completed tasks as an integer in
// [0,100], rounded half up. An empty set is 0.
func PercentComplete(tasks []domain.Task) int {
	total := len(tasks)
	if total == 0 {
		return 0
	}
	done := 0
	for _, t := range tasks {
		if t.IsCompleted {
			done++
		}
	}
	// floor(100*done/total + 1/2) without floats
	return (200*done + total) / (2 * total)
}

// Flatten walks a task tree depth-first, parents before their microsteps.
func Flatten(tasks []domain.Task) []domain.Task {
	var out []domain.Task
	var walk func([]domain.Task)
	walk = func(items []domain.Task) {
		for _, t := range items {
			out = append(out, t)
			walk(t.Microsteps)
		}
	}
	walk(tasks)
	return out
}

// ForLoop counts every task of the loop at every depth.
func ForLoop(l domain.LoopWithTasks) int {
	return PercentComplete(Flatten(l.Tasks))
}
