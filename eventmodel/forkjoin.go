package eventmodel

import (
	"fmt"

	"github.com/sarchlab/tracesim/taskmodel"
)

// ForkJoinClassifier interprets traces recorded from fork-join/worksharing
// runtimes. Tasks are multiplexed onto threads, so lifecycle transitions are
// spread across region-typed enter/leave events and task-switch events:
//
//   - task-create and task-enter events (for initial and implicit tasks)
//     register new tasks;
//   - a task-switch whose prior task completed is an END for the prior task,
//     while any other task-switch starts or resumes the next task;
//   - sync-begin/sync-end events suspend and resume the encountering task;
//   - a task-switch whose prior task yielded suspends the prior task with no
//     synchronization constraint.
//
// Parallel-region begin/end events maintain the per-location region stack so
// that implicit tasks can be attributed to the task that opened their
// parallel region.
type ForkJoinClassifier struct{}

// UpdateRegionState pushes and pops the location's parallel-region stack.
func (ForkJoinClassifier) UpdateRegionState(e Event, regions *RegionStack) {
	switch e.Kind {
	case KindParallelBegin:
		id, _ := e.TaskAttr(AttrUniqueID)
		creator, ok := e.TaskAttr(AttrEncounteringTask)
		if !ok {
			creator = taskmodel.RootTaskID
		}

		regions.Push(ParallelRegion{ID: uint64(id), Creator: creator})
	case KindParallelEnd:
		regions.Pop()
	}
}

// IsTaskRegisterEvent is true for task-create events and for enter events of
// implicitly-created tasks (initial and implicit task regions).
func (ForkJoinClassifier) IsTaskRegisterEvent(e Event) bool {
	if e.Kind == KindTaskCreate {
		return true
	}

	return e.Kind == KindTaskEnter &&
		(e.Region == RegionInitialTask || e.Region == RegionImplicitTask)
}

// TaskRegisterData extracts the registration record. Implicit tasks are
// parented to the task that opened the location's current parallel region;
// initial tasks have no parent.
func (c ForkJoinClassifier) TaskRegisterData(
	e Event,
	regions *RegionStack,
) (TaskRegisterData, error) {
	id, ok := e.TaskAttr(AttrUniqueID)
	if !ok {
		return TaskRegisterData{}, fmt.Errorf(
			"%w: task-register event without unique_id: %v",
			ErrMalformedEvent, e)
	}

	data := TaskRegisterData{
		ID:             id,
		Parent:         taskmodel.NullTaskID,
		CreateTS:       e.Time,
		CreateLocation: e.SourceLocation(),
	}

	if label, ok := e.StringAttr(AttrTaskLabel); ok {
		data.Label = label
	}

	switch {
	case e.Kind == KindTaskCreate:
		parent, ok := e.TaskAttr(AttrEncounteringTask)
		if !ok {
			return TaskRegisterData{}, fmt.Errorf(
				"%w: task-create event without encountering task: %v",
				ErrMalformedEvent, e)
		}

		data.Parent = parent
	case e.Region == RegionImplicitTask:
		region, ok := regions.Top()
		if !ok {
			return TaskRegisterData{}, fmt.Errorf(
				"%w: implicit-task enter outside any parallel region: %v",
				ErrMalformedEvent, e)
		}

		data.Parent = region.Creator
	case e.Region == RegionInitialTask:
		// The initial task has no parent.
	}

	return data, nil
}

// IsTaskStartEvent is true for task-enter events and for task-switch events
// whose prior task did not complete.
func (c ForkJoinClassifier) IsTaskStartEvent(e Event) bool {
	if e.Kind == KindTaskEnter {
		return true
	}

	return e.Kind == KindTaskSwitch && !c.IsTaskCompleteEvent(e)
}

// TaskEntered returns the task that begins or resumes execution.
func (ForkJoinClassifier) TaskEntered(e Event) (taskmodel.TaskID, error) {
	switch e.Kind {
	case KindTaskEnter:
		if id, ok := e.TaskAttr(AttrUniqueID); ok {
			return id, nil
		}
	case KindTaskSwitch:
		if id, ok := e.TaskAttr(AttrNextTask); ok {
			return id, nil
		}
	}

	return taskmodel.NullTaskID, fmt.Errorf(
		"%w: cannot resolve entered task of %v", ErrMalformedEvent, e)
}

// IsTaskCompleteEvent is true for task-leave events and for task-switch
// events whose prior task completed or was cancelled.
func (ForkJoinClassifier) IsTaskCompleteEvent(e Event) bool {
	if e.Kind == KindTaskLeave {
		return true
	}

	if e.Kind != KindTaskSwitch {
		return false
	}

	status, ok := e.PriorTaskStatus()

	return ok && (status == StatusComplete || status == StatusCancel)
}

// TaskCompleted returns the task that ends.
func (ForkJoinClassifier) TaskCompleted(e Event) (taskmodel.TaskID, error) {
	switch e.Kind {
	case KindTaskLeave:
		if id, ok := e.TaskAttr(AttrUniqueID); ok {
			return id, nil
		}
	case KindTaskSwitch:
		if id, ok := e.TaskAttr(AttrEncounteringTask); ok {
			return id, nil
		}
	}

	return taskmodel.NullTaskID, fmt.Errorf(
		"%w: cannot resolve completed task of %v", ErrMalformedEvent, e)
}

// IsTaskSuspendEvent is true for sync-begin events and for task-switch
// events whose prior task yielded.
func (ForkJoinClassifier) IsTaskSuspendEvent(e Event) bool {
	if e.Kind == KindSyncBegin {
		return true
	}

	if e.Kind != KindTaskSwitch {
		return false
	}

	status, ok := e.PriorTaskStatus()

	return ok && status == StatusYield
}

// IsTaskResumeEvent is true for sync-end events.
func (ForkJoinClassifier) IsTaskResumeEvent(e Event) bool {
	return e.Kind == KindSyncEnd
}

// SuspendedTask returns the encountering task, which is the task paused by
// both sync-begin and yielding task-switch events.
func (ForkJoinClassifier) SuspendedTask(e Event) (taskmodel.TaskID, error) {
	if id, ok := e.TaskAttr(AttrEncounteringTask); ok {
		return id, nil
	}

	return taskmodel.NullTaskID, fmt.Errorf(
		"%w: suspend event without encountering task: %v", ErrMalformedEvent, e)
}

// ResumedTask returns the encountering task of a sync-end event.
func (ForkJoinClassifier) ResumedTask(e Event) (taskmodel.TaskID, error) {
	if id, ok := e.TaskAttr(AttrEncounteringTask); ok {
		return id, nil
	}

	return taskmodel.NullTaskID, fmt.Errorf(
		"%w: resume event without encountering task: %v", ErrMalformedEvent, e)
}

// SyncMode resolves the synchronization constraint of a suspend event. A
// yielding task-switch imposes none. Taskgroup regions synchronize the full
// descendant set; taskwait and barrier regions synchronize direct children,
// unless the event carries explicit sync attributes.
func (ForkJoinClassifier) SyncMode(e Event) (taskmodel.TaskSyncMode, error) {
	if e.Kind == KindTaskSwitch {
		return taskmodel.SyncYield, nil
	}

	if _, ok := e.Lookup(AttrSyncMode); ok {
		return syncModeOf(e)
	}

	if _, ok := e.Lookup(AttrSyncDescendants); ok {
		return syncModeOf(e)
	}

	if e.Region == RegionTaskgroup {
		return taskmodel.SyncDescendants, nil
	}

	return taskmodel.SyncChildren, nil
}

// SourceLocation returns the code location carried by the event.
func (ForkJoinClassifier) SourceLocation(e Event) taskmodel.SourceLocation {
	return e.SourceLocation()
}
