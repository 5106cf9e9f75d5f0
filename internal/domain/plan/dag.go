package plan

// ReadySteps returns the IDs of steps not yet in executed whose every
// dependency is in executed, in plan order.
func ReadySteps(steps []Step, executed map[string]bool) []string {
	var ready []string
	for i := range steps {
		if executed[steps[i].ID] {
			continue
		}
		allDepsDone := true
		for _, dep := range steps[i].Dependencies {
			if !executed[dep] {
				allDepsDone = false
				break
			}
		}
		if allDepsDone {
			ready = append(ready, steps[i].ID)
		}
	}
	return ready
}

// Remaining returns the number of steps not yet in executed.
func Remaining(steps []Step, executed map[string]bool) int {
	n := 0
	for i := range steps {
		if !executed[steps[i].ID] {
			n++
		}
	}
	return n
}

// CountStatus returns how many steps are in the given status.
func CountStatus(steps []Step, status StepStatus) int {
	n := 0
	for i := range steps {
		if steps[i].Status == status {
			n++
		}
	}
	return n
}

// HasCycle reports whether the dependency graph contains a cycle.
func HasCycle(steps []Step) bool {
	return len(FindCycle(steps)) > 0
}

// FindCycle returns the IDs of one dependency cycle, or nil if the graph is
// acyclic. Dependencies on unknown IDs are ignored. The traversal uses an
// explicit stack so very deep chains cannot overflow the goroutine stack.
func FindCycle(steps []Step) []string {
	const (
		white = iota // unvisited
		gray         // on the current path
		black        // fully explored
	)

	index := make(map[string]int, len(steps))
	for i := range steps {
		index[steps[i].ID] = i
	}

	color := make([]int, len(steps))

	type frame struct {
		node int
		next int // position in the node's dependency list
	}

	for root := range steps {
		if color[root] != white {
			continue
		}

		stack := []frame{{node: root}}
		color[root] = gray

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			deps := steps[top.node].Dependencies

			if top.next >= len(deps) {
				color[top.node] = black
				stack = stack[:len(stack)-1]
				continue
			}

			dep := deps[top.next]
			top.next++

			child, ok := index[dep]
			if !ok {
				continue
			}

			switch color[child] {
			case white:
				color[child] = gray
				stack = append(stack, frame{node: child})
			case gray:
				// Back-edge: the cycle is the stack suffix starting at child.
				var cycle []string
				for i := len(stack) - 1; i >= 0; i-- {
					cycle = append(cycle, steps[stack[i].node].ID)
					if stack[i].node == child {
						break
					}
				}
				return cycle
			}
		}
	}
	return nil
}

// DanglingDependencies returns, per step ID, the dependency IDs that do not
// reference a step in the list.
func DanglingDependencies(steps []Step) map[string][]string {
	ids := make(map[string]bool, len(steps))
	for i := range steps {
		ids[steps[i].ID] = true
	}
	out := make(map[string][]string)
	for i := range steps {
		for _, dep := range steps[i].Dependencies {
			if !ids[dep] {
				out[steps[i].ID] = append(out[steps[i].ID], dep)
			}
		}
	}
	return out
}

// StripDanglingDependencies drops every dependency ID not present in the
// step list. It rewrites the slice in place.
func StripDanglingDependencies(steps []Step) {
	ids := make(map[string]bool, len(steps))
	for i := range steps {
		ids[steps[i].ID] = true
	}
	for i := range steps {
		kept := steps[i].Dependencies[:0]
		for _, dep := range steps[i].Dependencies {
			if ids[dep] {
				kept = append(kept, dep)
			}
		}
		steps[i].Dependencies = kept
	}
}
