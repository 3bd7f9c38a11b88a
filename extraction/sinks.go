// Package extraction runs the single-pass lifecycle extraction over a trace
// event stream, dispatching task metadata, task actions and suspend metadata
// to narrow sink interfaces so that any storage engine can collect them.
package extraction

import "github.com/sarchlab/tracesim/taskmodel"

// A TaskActionRecord is one lifecycle action dispatched to the action sink.
type TaskActionRecord struct {
	Task     taskmodel.TaskID
	Action   taskmodel.TaskAction
	Time     taskmodel.Timestamp
	Location taskmodel.SourceLocation

	// LocationRef and LocationCount identify the position of the originating
	// event within its execution location's event sequence.
	LocationRef   int
	LocationCount uint64

	// CPU and Thread are the processor and thread that performed the action,
	// or -1 when the event does not carry them.
	CPU    int
	Thread int
}

// A TaskMetaSink collects task registration records. A parent of NullTaskID
// means the task has no parent.
type TaskMetaSink interface {
	AddTaskMetadata(
		task taskmodel.TaskID,
		parent taskmodel.TaskID,
		label string,
	) error
}

// A TaskActionSink collects task lifecycle actions.
type TaskActionSink interface {
	AddTaskAction(record TaskActionRecord) error
}

// A TaskSuspendMetaSink collects the synchronization mode of each suspend
// point.
type TaskSuspendMetaSink interface {
	AddTaskSuspendMeta(
		task taskmodel.TaskID,
		time taskmodel.Timestamp,
		mode taskmodel.TaskSyncMode,
	) error
}
