package eventmodel

import "github.com/sarchlab/tracesim/taskmodel"

// A Location identifies one execution location (a traced thread) of the
// event stream.
type Location struct {
	Ref  int
	Name string
}

// A ParallelRegion is one open parallel region on a location.
type ParallelRegion struct {
	ID      uint64
	Creator taskmodel.TaskID
}

// A RegionStack tracks the parallel regions currently open on one location.
// Begin/end events for nested parallel regions interleave per location, so
// the innermost open region is always the top of the stack.
type RegionStack struct {
	regions []ParallelRegion
}

// Push records entry into a parallel region.
func (s *RegionStack) Push(r ParallelRegion) {
	s.regions = append(s.regions, r)
}

// Pop records exit from the innermost open parallel region.
func (s *RegionStack) Pop() (ParallelRegion, bool) {
	if len(s.regions) == 0 {
		return ParallelRegion{}, false
	}

	r := s.regions[len(s.regions)-1]
	s.regions = s.regions[:len(s.regions)-1]

	return r, true
}

// Top returns the innermost open parallel region.
func (s *RegionStack) Top() (ParallelRegion, bool) {
	if len(s.regions) == 0 {
		return ParallelRegion{}, false
	}

	return s.regions[len(s.regions)-1], true
}

// Depth returns the number of open parallel regions.
func (s *RegionStack) Depth() int {
	return len(s.regions)
}
