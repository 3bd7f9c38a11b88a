// Package eventmodel classifies raw trace events into task lifecycle
// actions. Two event-model variants are supported: the fork-join/worksharing
// model produced by OpenMP-style runtimes, and the flat task-graph model
// produced by annotation-based tracing.
package eventmodel

import (
	"fmt"

	"github.com/sarchlab/tracesim/taskmodel"
)

// An EventKind discriminates the type of a trace event.
type EventKind int

// The event kinds that can appear in a trace.
const (
	KindUnknown EventKind = iota
	KindThreadBegin
	KindThreadEnd
	KindParallelBegin
	KindParallelEnd
	KindWorkshareBegin
	KindWorkshareEnd
	KindSyncBegin
	KindSyncEnd
	KindTaskCreate
	KindTaskEnter
	KindTaskLeave
	KindTaskSwitch
	KindMasterBegin
	KindMasterEnd
	KindPhaseBegin
	KindPhaseEnd
)

var eventKindNames = map[EventKind]string{
	KindThreadBegin:    "thread_begin",
	KindThreadEnd:      "thread_end",
	KindParallelBegin:  "parallel_begin",
	KindParallelEnd:    "parallel_end",
	KindWorkshareBegin: "workshare_begin",
	KindWorkshareEnd:   "workshare_end",
	KindSyncBegin:      "sync_begin",
	KindSyncEnd:        "sync_end",
	KindTaskCreate:     "task_create",
	KindTaskEnter:      "task_enter",
	KindTaskLeave:      "task_leave",
	KindTaskSwitch:     "task_switch",
	KindMasterBegin:    "master_begin",
	KindMasterEnd:      "master_end",
	KindPhaseBegin:     "phase_begin",
	KindPhaseEnd:       "phase_end",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}

	return fmt.Sprintf("EventKind(%d)", int(k))
}

// EventKindFromName parses the wire name of an event kind.
func EventKindFromName(name string) (EventKind, bool) {
	for kind, n := range eventKindNames {
		if n == name {
			return kind, true
		}
	}

	return KindUnknown, false
}

// A RegionKind is the optional region type attached to region-scoped events.
type RegionKind int

// The region kinds that matter to classification. Region kinds not listed
// here are mapped to RegionOther and take the default dispatch path.
const (
	RegionNone RegionKind = iota
	RegionParallel
	RegionWorkshare
	RegionSingleExecutor
	RegionMaster
	RegionInitialTask
	RegionImplicitTask
	RegionExplicitTask
	RegionTaskwait
	RegionTaskgroup
	RegionBarrier
	RegionPhase
	RegionOther
)

var regionKindNames = map[RegionKind]string{
	RegionParallel:       "parallel",
	RegionWorkshare:      "workshare",
	RegionSingleExecutor: "single_executor",
	RegionMaster:         "master",
	RegionInitialTask:    "initial_task",
	RegionImplicitTask:   "implicit_task",
	RegionExplicitTask:   "explicit_task",
	RegionTaskwait:       "taskwait",
	RegionTaskgroup:      "taskgroup",
	RegionBarrier:        "barrier",
	RegionPhase:          "generic_phase",
}

func (r RegionKind) String() string {
	if name, ok := regionKindNames[r]; ok {
		return name
	}

	if r == RegionNone {
		return "none"
	}

	return fmt.Sprintf("RegionKind(%d)", int(r))
}

// RegionKindFromName parses the wire name of a region kind. Unrecognized
// names map to RegionOther.
func RegionKindFromName(name string) RegionKind {
	if name == "" {
		return RegionNone
	}

	for kind, n := range regionKindNames {
		if n == name {
			return kind
		}
	}

	return RegionOther
}

// TaskStatus is the scheduling status of the prior task on a task-switch
// event.
type TaskStatus string

// The prior-task statuses that matter to classification.
const (
	StatusComplete TaskStatus = "complete"
	StatusYield    TaskStatus = "yield"
	StatusCancel   TaskStatus = "cancel"
	StatusSwitch   TaskStatus = "switch"
	StatusDetach   TaskStatus = "detach"
)

// An Attr names one event attribute.
type Attr string

// The attributes an event may carry. A given event type carries only a
// subset; absence is distinguishable from a zero value through the ok result
// of the lookup methods.
const (
	AttrUniqueID         Attr = "unique_id"
	AttrEncounteringTask Attr = "encountering_task_id"
	AttrParentTask       Attr = "parent_task_id"
	AttrNextTask         Attr = "next_task_id"
	AttrPriorTaskStatus  Attr = "prior_task_status"
	AttrTaskLabel        Attr = "task_label"
	AttrSourceFile       Attr = "source_file"
	AttrSourceFunc       Attr = "source_func"
	AttrSourceLine       Attr = "source_line"
	AttrSyncDescendants  Attr = "sync_descendant_tasks"
	AttrSyncMode         Attr = "sync_mode"
	AttrCPU              Attr = "cpu"
	AttrThread           Attr = "tid"
)

// An Event is one record of the globally ordered trace event stream.
type Event struct {
	Kind   EventKind
	Region RegionKind
	Time   taskmodel.Timestamp

	attrs map[Attr]any
}

// NewEvent creates an event with the given attribute set. The attribute map
// is retained by the event and must not be mutated afterwards.
func NewEvent(
	kind EventKind,
	region RegionKind,
	time taskmodel.Timestamp,
	attrs map[Attr]any,
) Event {
	return Event{Kind: kind, Region: region, Time: time, attrs: attrs}
}

// Lookup returns the raw value of an attribute. The second result reports
// whether the attribute is present on this event at all.
func (e Event) Lookup(name Attr) (any, bool) {
	v, ok := e.attrs[name]
	return v, ok
}

// TaskAttr returns a task-identifier attribute.
func (e Event) TaskAttr(name Attr) (taskmodel.TaskID, bool) {
	v, ok := e.attrs[name]
	if !ok {
		return taskmodel.NullTaskID, false
	}

	switch id := v.(type) {
	case taskmodel.TaskID:
		return id, true
	case uint64:
		return taskmodel.TaskID(id), true
	case int:
		return taskmodel.TaskID(id), true
	case int64:
		return taskmodel.TaskID(id), true
	case float64:
		return taskmodel.TaskID(id), true
	}

	return taskmodel.NullTaskID, false
}

// IntAttr returns an integer attribute.
func (e Event) IntAttr(name Attr) (int, bool) {
	v, ok := e.attrs[name]
	if !ok {
		return 0, false
	}

	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		return int(n), true
	}

	return 0, false
}

// StringAttr returns a string attribute.
func (e Event) StringAttr(name Attr) (string, bool) {
	v, ok := e.attrs[name]
	if !ok {
		return "", false
	}

	s, ok := v.(string)

	return s, ok
}

// BoolAttr returns a boolean attribute.
func (e Event) BoolAttr(name Attr) (bool, bool) {
	v, ok := e.attrs[name]
	if !ok {
		return false, false
	}

	switch b := v.(type) {
	case bool:
		return b, true
	case int:
		return b != 0, true
	case int64:
		return b != 0, true
	case uint64:
		return b != 0, true
	case float64:
		return b != 0, true
	}

	return false, false
}

// PriorTaskStatus returns the prior-task status of a task-switch event.
func (e Event) PriorTaskStatus() (TaskStatus, bool) {
	s, ok := e.StringAttr(AttrPriorTaskStatus)
	if !ok {
		return "", false
	}

	return TaskStatus(s), true
}

// SourceLocation assembles the source location carried by this event,
// falling back to the unknown sentinel for missing pieces.
func (e Event) SourceLocation() taskmodel.SourceLocation {
	loc := taskmodel.UnknownLocation

	if file, ok := e.StringAttr(AttrSourceFile); ok {
		loc.File = file
	}

	if fn, ok := e.StringAttr(AttrSourceFunc); ok {
		loc.Func = fn
	}

	if line, ok := e.IntAttr(AttrSourceLine); ok {
		loc.Line = line
	}

	return loc
}

func (e Event) String() string {
	return fmt.Sprintf("Event(%v, region=%v, time=%d)", e.Kind, e.Region, e.Time)
}
