package schedule

// CriticalPath returns the tasks with zero slack against the project end:
// those whose EarliestEnd equals the largest EarliestEnd in the set. Input
// order is preserved.
//
// It only filters. The tasks must already carry offsets from Propagate.
func CriticalPath(tasks []Task) []Task {
	if len(tasks) == 0 {
		return nil
	}
	maxEnd := maxEarliestEnd(tasks)
	var out []Task
	for _, t := range tasks {
		if maxEnd-t.EarliestEnd == 0 {
			out = append(out, t.Clone())
		}
	}
	return out
}

// Slack returns, per task id, how many days the task ends before the
// project does.
func Slack(tasks []Task) map[string]int {
	maxEnd := maxEarliestEnd(tasks)
	m := make(map[string]int, len(tasks))
	for _, t := range tasks {
		m[t.ID] = maxEnd - t.EarliestEnd
	}
	return m
}

func maxEarliestEnd(tasks []Task) int {
	maxEnd := 0
	for i, t := range tasks {
		if i == 0 || t.EarliestEnd > maxEnd {
			maxEnd = t.EarliestEnd
		}
	}
	return maxEnd
}
