package eventmodel

import (
	"fmt"

	"github.com/sarchlab/tracesim/taskmodel"
)

// TaskGraphClassifier interprets flat task-graph traces, where every task is
// explicitly annotated: task-create, task-enter and task-leave events map
// directly onto CREATE/START/END, and sync-begin/sync-end events suspend and
// resume the task that encounters them. The root task (ID 0) is created
// implicitly by the tracing runtime and is excluded from registration since
// it has no parent.
type TaskGraphClassifier struct{}

// UpdateRegionState is a no-op. Task-graph traces carry no parallel-region
// structure.
func (TaskGraphClassifier) UpdateRegionState(Event, *RegionStack) {}

// IsTaskRegisterEvent is true for task-create events, except the root task's.
func (TaskGraphClassifier) IsTaskRegisterEvent(e Event) bool {
	if e.Kind != KindTaskCreate {
		return false
	}

	id, ok := e.TaskAttr(AttrUniqueID)

	return ok && id != taskmodel.RootTaskID
}

// TaskRegisterData extracts the registration record of a task-create event.
// The creating (encountering) task is the parent.
func (TaskGraphClassifier) TaskRegisterData(
	e Event,
	_ *RegionStack,
) (TaskRegisterData, error) {
	id, ok := e.TaskAttr(AttrUniqueID)
	if !ok {
		return TaskRegisterData{}, fmt.Errorf(
			"%w: task-create event without unique_id: %v", ErrMalformedEvent, e)
	}

	parent, ok := e.TaskAttr(AttrEncounteringTask)
	if !ok {
		return TaskRegisterData{}, fmt.Errorf(
			"%w: task-create event without encountering task: %v",
			ErrMalformedEvent, e)
	}

	data := TaskRegisterData{
		ID:             id,
		Parent:         parent,
		CreateTS:       e.Time,
		CreateLocation: e.SourceLocation(),
	}

	if label, ok := e.StringAttr(AttrTaskLabel); ok {
		data.Label = label
	}

	return data, nil
}

// IsTaskStartEvent is true for task-enter events.
func (TaskGraphClassifier) IsTaskStartEvent(e Event) bool {
	return e.Kind == KindTaskEnter
}

// TaskEntered returns the encountering task of a task-enter event.
func (TaskGraphClassifier) TaskEntered(e Event) (taskmodel.TaskID, error) {
	if id, ok := e.TaskAttr(AttrEncounteringTask); ok {
		return id, nil
	}

	return taskmodel.NullTaskID, fmt.Errorf(
		"%w: task-enter event without encountering task: %v",
		ErrMalformedEvent, e)
}

// IsTaskCompleteEvent is true for task-leave events.
func (TaskGraphClassifier) IsTaskCompleteEvent(e Event) bool {
	return e.Kind == KindTaskLeave
}

// TaskCompleted returns the encountering task of a task-leave event.
func (TaskGraphClassifier) TaskCompleted(e Event) (taskmodel.TaskID, error) {
	if id, ok := e.TaskAttr(AttrEncounteringTask); ok {
		return id, nil
	}

	return taskmodel.NullTaskID, fmt.Errorf(
		"%w: task-leave event without encountering task: %v",
		ErrMalformedEvent, e)
}

// IsTaskSuspendEvent is true for sync-begin events. The suspended task is the
// creating task itself, never a switched-to task.
func (TaskGraphClassifier) IsTaskSuspendEvent(e Event) bool {
	return e.Kind == KindSyncBegin
}

// IsTaskResumeEvent is true for sync-end events.
func (TaskGraphClassifier) IsTaskResumeEvent(e Event) bool {
	return e.Kind == KindSyncEnd
}

// SuspendedTask returns the encountering task of a sync-begin event.
func (TaskGraphClassifier) SuspendedTask(e Event) (taskmodel.TaskID, error) {
	if id, ok := e.TaskAttr(AttrEncounteringTask); ok {
		return id, nil
	}

	return taskmodel.NullTaskID, fmt.Errorf(
		"%w: sync-begin event without encountering task: %v",
		ErrMalformedEvent, e)
}

// ResumedTask returns the encountering task of a sync-end event.
func (TaskGraphClassifier) ResumedTask(e Event) (taskmodel.TaskID, error) {
	if id, ok := e.TaskAttr(AttrEncounteringTask); ok {
		return id, nil
	}

	return taskmodel.NullTaskID, fmt.Errorf(
		"%w: sync-end event without encountering task: %v",
		ErrMalformedEvent, e)
}

// SyncMode resolves the synchronization constraint from the event's sync
// attributes.
func (TaskGraphClassifier) SyncMode(e Event) (taskmodel.TaskSyncMode, error) {
	return syncModeOf(e)
}

// SourceLocation returns the code location carried by the event.
func (TaskGraphClassifier) SourceLocation(e Event) taskmodel.SourceLocation {
	return e.SourceLocation()
}
