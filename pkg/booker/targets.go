package booker

// Direction moves a target one position towards the front (Up) or back (Down).
type Direction int

const (
	Up Direction = iota
	Down
)

// TargetSet is an ordered list of targets; earlier entries have higher
// priority. A TargetSet is not safe for concurrent use.
type TargetSet []SlotTarget

// Add appends a target. Duplicates are kept.
func (s *TargetSet) Add(date, label string) SlotTarget {
	t := SlotTarget{Date: date, Label: label}
	*s = append(*s, t)
	return t
}

// RemoveAt removes the target at index i.
func (s *TargetSet) RemoveAt(i int) (SlotTarget, bool) {
	if i < 0 || i >= len(*s) {
		return SlotTarget{}, false
	}
	t := (*s)[i]
	*s = append((*s)[:i:i], (*s)[i+1:]...)
	return t, true
}

// Remove removes the first target equal to t.
func (s *TargetSet) Remove(t SlotTarget) bool {
	for i, cur := range *s {
		if cur == t {
			s.RemoveAt(i)
			return true
		}
	}
	return false
}

// Move swaps the target at index i with its neighbour in the given direction.
func (s *TargetSet) Move(i int, dir Direction) bool {
	j := i - 1
	if dir == Down {
		j = i + 1
	}
	if i < 0 || i >= len(*s) || j < 0 || j >= len(*s) {
		return false
	}
	(*s)[i], (*s)[j] = (*s)[j], (*s)[i]
	return true
}

// Clear removes every target.
func (s *TargetSet) Clear() {
	*s = nil
}

// Len returns the number of targets.
func (s TargetSet) Len() int {
	return len(s)
}

// Clone returns a copy that shares no backing storage with s.
func (s TargetSet) Clone() TargetSet {
	if len(s) == 0 {
		return nil
	}
	out := make(TargetSet, len(s))
	copy(out, s)
	return out
}
