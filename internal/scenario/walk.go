package scenario

// Walk visits t and every task below it in document order.
func (t *Task) Walk(fn func(*Task)) {
	fn(t)
	switch t.Kind {
	case KindSerial:
		for _, child := range t.Serial.Tasks {
			child.Walk(fn)
		}
	case KindParallel:
		for _, child := range t.Parallel.Tasks {
			child.Walk(fn)
		}
	}
}

// Contains reports whether the subtree holds a task of the given kind.
func (t *Task) Contains(kind Kind) bool {
	found := false
	t.Walk(func(task *Task) {
		if task.Kind == kind {
			found = true
		}
	})
	return found
}
