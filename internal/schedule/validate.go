package schedule

// WouldCreateCycle reports whether making taskID depend on dependencyID
// would introduce a dependency cycle.
//
// The check runs the sequencer over a hypothetical copy of tasks with the
// extra edge; tasks itself is left untouched. Ids that are not in the set add
// no real constraint, except that a task depending on itself is always a
// cycle. Any failure other than a cycle (for example a malformed task set)
// is also reported as true, since the answer gates a write.
func WouldCreateCycle(tasks []Task, taskID, dependencyID string) bool {
	if taskID == dependencyID {
		return true
	}
	hypo := make([]Task, len(tasks))
	for i, t := range tasks {
		if t.ID == taskID {
			t = t.Clone()
			t.Dependencies = append(t.Dependencies, dependencyID)
		}
		hypo[i] = t
	}
	idx, err := newIndex(hypo)
	if err != nil {
		return true
	}
	_, err = sequence(hypo, idx)
	return err != nil
}

// CanAddDependency is the negation of WouldCreateCycle.
func CanAddDependency(tasks []Task, taskID, dependencyID string) bool {
	return !WouldCreateCycle(tasks, taskID, dependencyID)
}
