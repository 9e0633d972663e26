package schedule

// Sort returns the tasks in an order where every task comes after all of
// its dependencies that are present in the set.
//
// The traversal is a depth-first search with three marks per task
// (unvisited, on the current path, finished). Top-level tasks are taken in
// input order and dependencies in declared order, so the result is
// deterministic for a fixed input. Reaching a task that is still on the
// current path fails with a *CycleError. Dependencies whose id is not in the
// set are skipped.
//
// The returned tasks are copies; the input is never modified.
func Sort(tasks []Task) ([]Task, error) {
	idx, err := newIndex(tasks)
	if err != nil {
		return nil, err
	}
	order, err := sequence(tasks, idx)
	if err != nil {
		return nil, err
	}
	out := make([]Task, len(order))
	for i, pos := range order {
		out[i] = tasks[pos].Clone()
	}
	return out, nil
}

type mark uint8

const (
	unvisited mark = iota
	onPath
	finished
)

// frame is one entry of the explicit DFS stack: the task position and the
// next dependency to look at.
type frame struct {
	pos  int
	next int
}

// sequence computes the topological order as positions into tasks.
// It keeps its own stack instead of recursing so that deep dependency
// chains cannot exhaust the goroutine stack.
func sequence(tasks []Task, idx index) ([]int, error) {
	marks := make([]mark, len(tasks))
	order := make([]int, 0, len(tasks))
	var stack []frame

	for root := range tasks {
		if marks[root] != unvisited {
			continue
		}
		marks[root] = onPath
		stack = append(stack[:0], frame{pos: root})

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			deps := tasks[top.pos].Dependencies

			if top.next < len(deps) {
				depID := deps[top.next]
				top.next++

				dep, ok := idx[depID]
				if !ok {
					continue
				}
				switch marks[dep] {
				case onPath:
					return nil, cycleAt(tasks, stack, dep)
				case finished:
					continue
				}
				marks[dep] = onPath
				stack = append(stack, frame{pos: dep})
				continue
			}

			marks[top.pos] = finished
			order = append(order, top.pos)
			stack = stack[:len(stack)-1]
		}
	}
	return order, nil
}

// cycleAt builds the cycle path from the stack segment starting at the
// task that was reached again.
func cycleAt(tasks []Task, stack []frame, pos int) *CycleError {
	start := 0
	for i := range stack {
		if stack[i].pos == pos {
			start = i
			break
		}
	}
	path := make([]string, 0, len(stack)-start+1)
	for _, f := range stack[start:] {
		path = append(path, tasks[f.pos].ID)
	}
	path = append(path, tasks[pos].ID)
	return &CycleError{TaskID: tasks[pos].ID, Path: path}
}
