package eventmodel

import (
	"errors"
	"fmt"

	"github.com/sarchlab/tracesim/taskmodel"
)

// ErrMalformedEvent reports an event that matched a lifecycle query but does
// not carry the attributes that query requires. Classification errors are
// fatal for the trace being processed.
var ErrMalformedEvent = errors.New("malformed trace event")

// TaskRegisterData is the registration record extracted from a
// task-introducing event.
type TaskRegisterData struct {
	ID             taskmodel.TaskID
	Parent         taskmodel.TaskID // NullTaskID when absent
	Label          string
	CreateTS       taskmodel.Timestamp
	CreateLocation taskmodel.SourceLocation
}

// A Classifier answers, for one trace event, which lifecycle action the
// event represents and for which task. Implementations are pure functions of
// the event plus the per-location region stack threaded through by the
// caller; they hold no mutable cross-event state of their own.
type Classifier interface {
	// UpdateRegionState applies the structural bookkeeping an event implies
	// for its location (entering or leaving a parallel region). It must be
	// called once per event, before the lifecycle queries.
	UpdateRegionState(e Event, regions *RegionStack)

	// IsTaskRegisterEvent tells if the event introduces a new task.
	IsTaskRegisterEvent(e Event) bool

	// TaskRegisterData extracts the registration record of a task-register
	// event.
	TaskRegisterData(e Event, regions *RegionStack) (TaskRegisterData, error)

	// IsTaskStartEvent tells if the event marks a task beginning or resuming
	// execution.
	IsTaskStartEvent(e Event) bool

	// TaskEntered returns the task that begins or resumes execution.
	TaskEntered(e Event) (taskmodel.TaskID, error)

	// IsTaskCompleteEvent tells if the event marks a task ending execution
	// permanently.
	IsTaskCompleteEvent(e Event) bool

	// TaskCompleted returns the task that ends.
	TaskCompleted(e Event) (taskmodel.TaskID, error)

	// IsTaskSuspendEvent tells if the event marks a task pausing at a
	// synchronization point.
	IsTaskSuspendEvent(e Event) bool

	// IsTaskResumeEvent tells if the event marks a task resuming after a
	// synchronization point.
	IsTaskResumeEvent(e Event) bool

	// SuspendedTask returns the task that pauses at a suspend event.
	SuspendedTask(e Event) (taskmodel.TaskID, error)

	// ResumedTask returns the task that resumes at a resume event.
	ResumedTask(e Event) (taskmodel.TaskID, error)

	// SyncMode returns the synchronization mode of a suspend event.
	SyncMode(e Event) (taskmodel.TaskSyncMode, error)

	// SourceLocation returns the code location associated with the event.
	SourceLocation(e Event) taskmodel.SourceLocation
}

// A Model names one of the supported event-model variants. The trace itself
// declares which model produced it.
type Model string

// The supported event models.
const (
	ModelForkJoin  Model = "OMP"
	ModelTaskGraph Model = "TASKGRAPH"
)

// New returns the classifier for the declared event model. The set of
// variants is closed; there is no runtime registry.
func New(model Model) (Classifier, error) {
	switch model {
	case ModelForkJoin:
		return ForkJoinClassifier{}, nil
	case ModelTaskGraph:
		return TaskGraphClassifier{}, nil
	}

	return nil, fmt.Errorf("unknown event model %q", model)
}

// syncModeOf derives the synchronization mode from a suspend event's
// attributes. An explicit sync_mode attribute wins; otherwise the legacy
// sync_descendant_tasks flag selects between children and descendants.
func syncModeOf(e Event) (taskmodel.TaskSyncMode, error) {
	if mode, ok := e.IntAttr(AttrSyncMode); ok {
		switch m := taskmodel.TaskSyncMode(mode); m {
		case taskmodel.SyncChildren, taskmodel.SyncDescendants, taskmodel.SyncYield:
			return m, nil
		default:
			return 0, fmt.Errorf("%w: invalid sync mode %d on %v",
				ErrMalformedEvent, mode, e)
		}
	}

	if descendants, ok := e.BoolAttr(AttrSyncDescendants); ok && descendants {
		return taskmodel.SyncDescendants, nil
	}

	return taskmodel.SyncChildren, nil
}
