package vm

// Stack is the operand stack. The stack pointer mirrors the length of the
// backing slice and is kept in lockstep on every push and pop.
type Stack struct {
	values []Value
	sp     int
}

// Push appends v and advances the stack pointer.
func (s *Stack) Push(v Value) {
	s.values = append(s.values, v)
	s.sp++
}

// Pop removes and returns the top value. Popping an empty stack returns
// ErrStackUnderflow and leaves the stack untouched.
func (s *Stack) Pop() (Value, error) {
	if s.sp == 0 {
		return None(), ErrStackUnderflow
	}
	top := s.values[len(s.values)-1]
	s.values[len(s.values)-1] = Value{}
	s.values = s.values[:len(s.values)-1]
	s.sp--
	return top, nil
}

// Peek returns the top value without removing it.
func (s *Stack) Peek() (Value, bool) {
	if s.sp == 0 {
		return None(), false
	}
	return s.values[len(s.values)-1], true
}

// Len returns the number of values on the stack.
func (s *Stack) Len() int {
	return len(s.values)
}

// SP returns the stack pointer.
func (s *Stack) SP() int {
	return s.sp
}

// Values returns a copy of the stack contents, bottom first.
func (s *Stack) Values() []Value {
	out := make([]Value, len(s.values))
	copy(out, s.values)
	return out
}

// Reset empties the stack.
func (s *Stack) Reset() {
	s.values = nil
	s.sp = 0
}
