package tree

// actionStack holds compensating actions of a transaction. Actions are
// run in reverse order of registration, so that the most recent change
// is undone first.
type actionStack struct {
	actions []func()
}

func (s *actionStack) push(action func()) {
	s.actions = append(s.actions, action)
}

func (s *actionStack) len() int {
	return len(s.actions)
}

// runAll pops and runs all actions on the stack.
func (s *actionStack) runAll() {
	for len(s.actions) > 0 {
		action := s.actions[len(s.actions)-1]
		s.actions = s.actions[:len(s.actions)-1]
		action()
	}
}
