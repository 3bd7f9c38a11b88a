package taskmodel

import "fmt"

// A TaskSchedulingState is the interval between two consecutive recorded
// actions of one task. The scheduling states of a task partition its lifetime
// with no gaps or overlaps.
type TaskSchedulingState struct {
	Task          TaskID
	ActionStart   TaskAction
	ActionEnd     TaskAction
	StartLocation SourceLocation
	EndLocation   SourceLocation
	StartTS       Timestamp
	EndTS         Timestamp
}

// Duration returns the length of the interval.
func (s TaskSchedulingState) Duration() Timestamp {
	return s.EndTS - s.StartTS
}

// IsActive tells if the task is executing during this interval.
func (s TaskSchedulingState) IsActive() bool {
	return s.ActionStart == ActionStart || s.ActionStart == ActionResume
}

func (s TaskSchedulingState) String() string {
	return fmt.Sprintf("TaskSchedulingState(task=%d, %v:%v at %d -> %v:%v at %d)",
		s.Task,
		s.ActionStart, s.StartLocation, s.StartTS,
		s.ActionEnd, s.EndLocation, s.EndTS)
}

// Timings is the idealized re-execution result for one task.
type Timings struct {
	Task     TaskID
	StartTS  Timestamp
	Duration Timestamp
	EndTS    Timestamp
}

// EndsAfter tells if t finishes later than other. Ties are broken towards the
// earlier-created task so that comparisons stay deterministic.
func (t Timings) EndsAfter(other Timings) bool {
	if t.EndTS != other.EndTS {
		return t.EndTS > other.EndTS
	}

	return t.Task < other.Task
}
