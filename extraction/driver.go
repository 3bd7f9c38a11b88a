package extraction

import (
	"errors"
	"fmt"

	"github.com/sarchlab/tracesim/eventmodel"
	"github.com/sarchlab/tracesim/taskmodel"
)

// ErrUnregisteredTask reports an action that references a task that was
// never registered. The action history would be inconsistent, so extraction
// of the trace aborts.
var ErrUnregisteredTask = errors.New("action references unregistered task")

// ErrDuplicateTask reports a second registration of an already-known task.
var ErrDuplicateTask = errors.New("task registered twice")

// A StreamItem is one element of the globally ordered event stream: the
// originating execution location, the per-location monotonic event count,
// and the event itself.
type StreamItem struct {
	Location      eventmodel.Location
	LocationCount uint64
	Event         eventmodel.Event
}

// An EventSource yields trace events in global arrival order. Next reports
// ok=false once the stream is exhausted. I/O errors are returned unchanged.
type EventSource interface {
	Next() (item StreamItem, ok bool, err error)
}

// A Driver iterates an event stream exactly once and forwards the lifecycle
// data the classifier extracts to the three sinks. It owns the per-location
// parallel-region stacks and the registered/started bookkeeping for one
// trace; a Driver must not be reused across traces.
type Driver struct {
	classifier  eventmodel.Classifier
	meta        TaskMetaSink
	actions     TaskActionSink
	suspendMeta TaskSuspendMetaSink

	progressInterval uint64
	progress         func(total uint64)

	regions    map[int]*eventmodel.RegionStack
	registered map[taskmodel.TaskID]struct{}
	started    map[taskmodel.TaskID]struct{}
}

// NewDriver creates a driver that dispatches to the given sinks.
func NewDriver(
	classifier eventmodel.Classifier,
	meta TaskMetaSink,
	actions TaskActionSink,
	suspendMeta TaskSuspendMetaSink,
) *Driver {
	if classifier == nil {
		panic("classifier must not be nil")
	}

	if meta == nil || actions == nil || suspendMeta == nil {
		panic("all sinks must be set")
	}

	return &Driver{
		classifier:  classifier,
		meta:        meta,
		actions:     actions,
		suspendMeta: suspendMeta,
		regions:     make(map[int]*eventmodel.RegionStack),
		registered:  make(map[taskmodel.TaskID]struct{}),
		started:     make(map[taskmodel.TaskID]struct{}),
	}
}

// WithProgress makes the driver invoke fn with the running event total every
// interval processed events. It does not alter the extracted output.
func (d *Driver) WithProgress(interval uint64, fn func(total uint64)) *Driver {
	d.progressInterval = interval
	d.progress = fn

	return d
}

// Run consumes the complete stream and returns the number of events
// processed. Classification errors and sink errors abort the run; a partial
// action history is never a valid result, so the caller must discard
// whatever the sinks collected when Run fails.
func (d *Driver) Run(src EventSource) (uint64, error) {
	var total uint64

	for {
		item, ok, err := src.Next()
		if err != nil {
			return total, err
		}

		if !ok {
			return total, nil
		}

		if err := d.processEvent(item); err != nil {
			return total, err
		}

		total++
		if d.progress != nil && d.progressInterval > 0 &&
			total%d.progressInterval == 0 {
			d.progress(total)
		}
	}
}

func (d *Driver) processEvent(item StreamItem) error {
	e := item.Event
	cl := d.classifier

	cl.UpdateRegionState(e, d.regionStack(item.Location.Ref))

	if cl.IsTaskRegisterEvent(e) {
		if err := d.registerTask(item); err != nil {
			return err
		}
	}

	// One event can carry two transitions: a yielding task-switch suspends
	// the prior task and starts the next. The prior task's action is
	// recorded first.
	if cl.IsTaskCompleteEvent(e) {
		if err := d.recordEnd(item); err != nil {
			return err
		}
	}

	if cl.IsTaskSuspendEvent(e) {
		if err := d.recordSuspend(item); err != nil {
			return err
		}
	}

	if cl.IsTaskResumeEvent(e) {
		if err := d.recordResume(item); err != nil {
			return err
		}
	}

	if cl.IsTaskStartEvent(e) {
		return d.recordStart(item)
	}

	return nil
}

func (d *Driver) regionStack(locationRef int) *eventmodel.RegionStack {
	stack, ok := d.regions[locationRef]
	if !ok {
		stack = &eventmodel.RegionStack{}
		d.regions[locationRef] = stack
	}

	return stack
}

func (d *Driver) registerTask(item StreamItem) error {
	data, err := d.classifier.TaskRegisterData(
		item.Event, d.regionStack(item.Location.Ref))
	if err != nil {
		return err
	}

	if _, dup := d.registered[data.ID]; dup {
		return fmt.Errorf("%w: task %d", ErrDuplicateTask, data.ID)
	}

	d.registered[data.ID] = struct{}{}

	if err := d.meta.AddTaskMetadata(data.ID, data.Parent, data.Label); err != nil {
		return err
	}

	return d.actions.AddTaskAction(d.newRecord(
		item, data.ID, taskmodel.ActionCreate, data.CreateLocation))
}

func (d *Driver) recordStart(item StreamItem) error {
	task, err := d.classifier.TaskEntered(item.Event)
	if err != nil {
		return err
	}

	if err := d.taskMustBeKnown(task); err != nil {
		return err
	}

	// The first switch-in of a task starts it. Later switch-ins resume it.
	action := taskmodel.ActionStart
	if _, seen := d.started[task]; seen {
		action = taskmodel.ActionResume
	}

	d.started[task] = struct{}{}

	return d.actions.AddTaskAction(d.newRecord(
		item, task, action, d.classifier.SourceLocation(item.Event)))
}

func (d *Driver) recordEnd(item StreamItem) error {
	task, err := d.classifier.TaskCompleted(item.Event)
	if err != nil {
		return err
	}

	if err := d.taskMustBeKnown(task); err != nil {
		return err
	}

	return d.actions.AddTaskAction(d.newRecord(
		item, task, taskmodel.ActionEnd, d.classifier.SourceLocation(item.Event)))
}

func (d *Driver) recordSuspend(item StreamItem) error {
	task, err := d.classifier.SuspendedTask(item.Event)
	if err != nil {
		return err
	}

	if err := d.taskMustBeKnown(task); err != nil {
		return err
	}

	mode, err := d.classifier.SyncMode(item.Event)
	if err != nil {
		return err
	}

	err = d.actions.AddTaskAction(d.newRecord(
		item, task, taskmodel.ActionSuspend,
		d.classifier.SourceLocation(item.Event)))
	if err != nil {
		return err
	}

	return d.suspendMeta.AddTaskSuspendMeta(task, item.Event.Time, mode)
}

func (d *Driver) recordResume(item StreamItem) error {
	task, err := d.classifier.ResumedTask(item.Event)
	if err != nil {
		return err
	}

	if err := d.taskMustBeKnown(task); err != nil {
		return err
	}

	return d.actions.AddTaskAction(d.newRecord(
		item, task, taskmodel.ActionResume,
		d.classifier.SourceLocation(item.Event)))
}

// taskMustBeKnown enforces the consistency invariant that every action
// references an already-registered task. The root task is implicitly
// present.
func (d *Driver) taskMustBeKnown(task taskmodel.TaskID) error {
	if task == taskmodel.RootTaskID {
		return nil
	}

	if _, ok := d.registered[task]; !ok {
		return fmt.Errorf("%w: task %d", ErrUnregisteredTask, task)
	}

	return nil
}

func (d *Driver) newRecord(
	item StreamItem,
	task taskmodel.TaskID,
	action taskmodel.TaskAction,
	location taskmodel.SourceLocation,
) TaskActionRecord {
	record := TaskActionRecord{
		Task:          task,
		Action:        action,
		Time:          item.Event.Time,
		Location:      location,
		LocationRef:   item.Location.Ref,
		LocationCount: item.LocationCount,
		CPU:           -1,
		Thread:        -1,
	}

	if cpu, ok := item.Event.IntAttr(eventmodel.AttrCPU); ok {
		record.CPU = cpu
	}

	if tid, ok := item.Event.IntAttr(eventmodel.AttrThread); ok {
		record.Thread = tid
	}

	return record
}
