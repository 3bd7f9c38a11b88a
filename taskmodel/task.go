// Package taskmodel defines the shared value types that describe tasks
// reconstructed from a trace: identifiers, lifecycle actions, synchronization
// modes, and the derived scheduling-state intervals.
package taskmodel

import "fmt"

// A TaskID identifies one task instance within a trace. ID 0 is the program's
// implicit root task. IDs are unique for the lifetime of one trace.
type TaskID uint64

// RootTaskID is the ID of the implicit root task.
const RootTaskID TaskID = 0

// NullTaskID marks an absent task reference in event attributes.
const NullTaskID TaskID = ^TaskID(0)

// A Timestamp is a trace time in nanoseconds.
type Timestamp int64

// A TaskAction is one step in a task's lifecycle. The actions recorded for
// any task must form a prefix of CREATE, START, (SUSPEND, RESUME)*, END.
type TaskAction int

// The possible task actions.
const (
	ActionCreate TaskAction = iota + 1
	ActionStart
	ActionEnd
	ActionSuspend
	ActionResume
)

func (a TaskAction) String() string {
	switch a {
	case ActionCreate:
		return "CREATE"
	case ActionStart:
		return "START"
	case ActionEnd:
		return "END"
	case ActionSuspend:
		return "SUSPEND"
	case ActionResume:
		return "RESUME"
	}

	return fmt.Sprintf("TaskAction(%d)", int(a))
}

// CanFollow tells if action a may directly follow action prev in one task's
// recorded history.
func (a TaskAction) CanFollow(prev TaskAction) bool {
	switch a {
	case ActionStart:
		return prev == ActionCreate
	case ActionSuspend:
		return prev == ActionStart || prev == ActionResume
	case ActionResume:
		return prev == ActionSuspend
	case ActionEnd:
		return prev == ActionStart || prev == ActionResume
	default:
		return false
	}
}

// A TaskSyncMode describes the synchronization constraint of one suspend
// point.
type TaskSyncMode int

// The possible synchronization modes.
const (
	// SyncChildren waits only for the direct children created since the last
	// synchronization point.
	SyncChildren TaskSyncMode = iota

	// SyncDescendants waits for the full transitive descendant set.
	SyncDescendants

	// SyncYield imposes no constraint. The task may resume immediately.
	SyncYield
)

func (m TaskSyncMode) String() string {
	switch m {
	case SyncChildren:
		return "children"
	case SyncDescendants:
		return "descendants"
	case SyncYield:
		return "yield"
	}

	return fmt.Sprintf("TaskSyncMode(%d)", int(m))
}
