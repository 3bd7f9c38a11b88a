// Package idealsim replays an extracted task hierarchy on a hypothetical
// machine with unlimited execution resources. Tasks wait only for their own
// dependencies, never for a processor, which makes the simulated timeline a
// lower bound on the program's runtime and identifies the critical child or
// descendant of every synchronization barrier.
package idealsim

import "github.com/sarchlab/tracesim/taskmodel"

// A TraceReader answers the queries the simulator needs about the persisted
// task hierarchy and per-task scheduling-state history.
type TraceReader interface {
	// RootTask returns the trace's root task.
	RootTask() (taskmodel.TaskID, error)

	// ChildrenOf returns the direct children of a task in ascending ID
	// order.
	ChildrenOf(task taskmodel.TaskID) ([]taskmodel.TaskID, error)

	// Task returns one task's attributes.
	Task(id taskmodel.TaskID) (taskmodel.Task, error)

	// Tasks returns the attributes of several tasks, in the order given.
	Tasks(ids []taskmodel.TaskID) ([]taskmodel.Task, error)

	// SchedulingStates returns the ordered scheduling-state intervals of a
	// task.
	SchedulingStates(task taskmodel.TaskID) (
		[]taskmodel.TaskSchedulingState, error)

	// SuspendMeta returns the synchronization mode of each of a task's
	// suspend points, keyed by suspend timestamp.
	SuspendMeta(task taskmodel.TaskID) (
		map[taskmodel.Timestamp]taskmodel.TaskSyncMode, error)

	// ChildrenCreatedBetween returns the children a task created in the
	// half-open interval (start, end], in creation order.
	ChildrenCreatedBetween(
		task taskmodel.TaskID,
		start, end taskmodel.Timestamp,
	) ([]taskmodel.TaskID, error)
}

// A CriticalTaskSink collects, per barrier, the child or descendant that
// determined the barrier's length. Barriers are sequence-numbered per task.
type CriticalTaskSink interface {
	AddCriticalTask(
		task taskmodel.TaskID,
		sequence int,
		critical taskmodel.TaskID,
	) error
}
