package idealsim

import (
	"errors"
	"fmt"
	"sort"

	"github.com/sarchlab/tracesim/extraction"
	"github.com/sarchlab/tracesim/taskmodel"
)

// Consistency errors. Each indicates that the extracted action history is
// corrupt; simulation of the trace aborts rather than producing a partial
// result.
var (
	ErrChildCountMismatch = errors.New(
		"descended child count does not match recorded child count")
	ErrCorruptHistory = errors.New("corrupt task action history")
	ErrDepthExceeded  = errors.New("task nesting exceeds the depth limit")
)

// DefaultMaxDepth bounds the simulator's recursion. Task programs nested
// deeper than this would risk exhausting the call stack.
const DefaultMaxDepth = 100000

type timingMap map[taskmodel.TaskID]taskmodel.Timings

// A Scheduler simulates the idealized re-execution of one extracted trace.
// It is a single-threaded depth-first traversal of the task tree; a
// Scheduler must not be shared across goroutines.
type Scheduler struct {
	reader      TraceReader
	critical    CriticalTaskSink
	actions     extraction.TaskActionSink
	suspendMeta extraction.TaskSuspendMetaSink

	maxDepth int
}

// NewScheduler creates a scheduler that reads the task hierarchy from reader
// and writes the simulated timeline and critical-path markers to the given
// sinks.
func NewScheduler(
	reader TraceReader,
	critical CriticalTaskSink,
	actions extraction.TaskActionSink,
	suspendMeta extraction.TaskSuspendMetaSink,
) *Scheduler {
	if reader == nil {
		panic("reader must not be nil")
	}

	if critical == nil || actions == nil || suspendMeta == nil {
		panic("all sinks must be set")
	}

	return &Scheduler{
		reader:      reader,
		critical:    critical,
		actions:     actions,
		suspendMeta: suspendMeta,
		maxDepth:    DefaultMaxDepth,
	}
}

// WithMaxDepth overrides the recursion depth limit.
func (s *Scheduler) WithMaxDepth(depth int) *Scheduler {
	s.maxDepth = depth

	return s
}

// Run simulates every phase task of the trace in ascending ID order. Each
// phase starts at the previous phase's simulated end time; tasks within a
// phase overlap freely.
func (s *Scheduler) Run() error {
	root, err := s.reader.RootTask()
	if err != nil {
		return err
	}

	phases, err := s.reader.ChildrenOf(root)
	if err != nil {
		return err
	}

	sort.Slice(phases, func(i, j int) bool { return phases[i] < phases[j] })

	globalTS := taskmodel.Timestamp(0)
	for _, phase := range phases {
		globalTS, err = s.simulatePhase(globalTS, phase)
		if err != nil {
			return fmt.Errorf("simulating phase %d: %w", phase, err)
		}
	}

	return nil
}

// simulatePhase replays one top-level phase task. Children created during an
// active interval of the phase are all assumed to start at the phase's
// current simulated time.
func (s *Scheduler) simulatePhase(
	globalTS taskmodel.Timestamp,
	phaseID taskmodel.TaskID,
) (taskmodel.Timestamp, error) {
	phase, err := s.reader.Task(phaseID)
	if err != nil {
		return 0, err
	}

	suspendMode, err := s.reader.SuspendMeta(phaseID)
	if err != nil {
		return 0, err
	}

	states, err := s.reader.SchedulingStates(phaseID)
	if err != nil {
		return 0, err
	}

	barrierSeq := 0
	childrenVisited := 0

	for _, state := range states {
		if !state.IsActive() {
			// Intervals opened by CREATE or SUSPEND carry no work.
			continue
		}

		children, err := s.reader.ChildrenCreatedBetween(
			phaseID, state.StartTS, state.EndTS)
		if err != nil {
			return 0, err
		}

		timings := make(timingMap)

		tasks, err := s.reader.Tasks(children)
		if err != nil {
			return 0, err
		}

		for _, child := range tasks {
			if _, err := s.descend(child, 0, globalTS, timings); err != nil {
				return 0, err
			}

			childrenVisited++
		}

		switch state.ActionEnd {
		case taskmodel.ActionSuspend:
			globalTS, err = s.resolvePhaseBarrier(
				phase, state, suspendMode, children, timings,
				globalTS, &barrierSeq)
			if err != nil {
				return 0, err
			}
		case taskmodel.ActionEnd:
			if len(children) != 0 {
				return 0, fmt.Errorf(
					"%w: unsynchronized children at the end of phase %d",
					ErrCorruptHistory, phaseID)
			}
		default:
			return 0, fmt.Errorf(
				"%w: active interval of phase %d ends with %v (%v -> %v)",
				ErrCorruptHistory, phaseID, state.ActionEnd,
				state.StartLocation, state.EndLocation)
		}
	}

	if childrenVisited != phase.Children {
		return 0, fmt.Errorf("%w: phase %d visited %d of %d children",
			ErrChildCountMismatch, phaseID, childrenVisited, phase.Children)
	}

	return globalTS, nil
}

func (s *Scheduler) resolvePhaseBarrier(
	phase taskmodel.Task,
	state taskmodel.TaskSchedulingState,
	suspendMode map[taskmodel.Timestamp]taskmodel.TaskSyncMode,
	children []taskmodel.TaskID,
	timings timingMap,
	globalTS taskmodel.Timestamp,
	barrierSeq *int,
) (taskmodel.Timestamp, error) {
	mode, ok := suspendMode[state.EndTS]
	if !ok {
		return 0, fmt.Errorf(
			"%w: no suspend metadata for phase %d at %d",
			ErrCorruptHistory, phase.ID, state.EndTS)
	}

	err := s.suspendMeta.AddTaskSuspendMeta(phase.ID, globalTS, mode)
	if err != nil {
		return 0, err
	}

	if len(children) == 0 || mode == taskmodel.SyncYield {
		if len(children) == 0 && mode != taskmodel.SyncYield {
			// Nothing to wait for. The barrier keeps its native length.
			globalTS += state.Duration()
		}

		return globalTS, nil
	}

	syncSet := children
	if mode == taskmodel.SyncDescendants {
		syncSet = make([]taskmodel.TaskID, 0, len(timings))
		for id := range timings {
			syncSet = append(syncSet, id)
		}
	}

	latest, err := latestOf(timings, syncSet, mode)
	if err != nil {
		return 0, err
	}

	if latest.EndTS > globalTS {
		globalTS = latest.EndTS
	}

	err = s.critical.AddCriticalTask(phase.ID, *barrierSeq, latest.Task)
	if err != nil {
		return 0, err
	}

	*barrierSeq++

	return globalTS, nil
}

// descend simulates one task subtree starting at startTS and records its
// simulated timings into the accumulator. It returns the task's idealized
// duration.
func (s *Scheduler) descend(
	task taskmodel.Task,
	depth int,
	startTS taskmodel.Timestamp,
	timings timingMap,
) (taskmodel.Timestamp, error) {
	if depth > s.maxDepth {
		return 0, fmt.Errorf("%w: task %d at depth %d",
			ErrDepthExceeded, task.ID, depth)
	}

	err := s.emitAction(
		task.ID, taskmodel.ActionCreate, startTS, task.Attr.CreateLocation)
	if err != nil {
		return 0, err
	}

	err = s.emitAction(
		task.ID, taskmodel.ActionStart, startTS, task.Attr.StartLocation)
	if err != nil {
		return 0, err
	}

	var duration taskmodel.Timestamp
	if task.Children > 0 {
		duration, err = s.branchTask(task, depth, startTS, timings)
	} else {
		duration = s.leafTask(task)
	}

	if err != nil {
		return 0, err
	}

	timings[task.ID] = taskmodel.Timings{
		Task:     task.ID,
		StartTS:  startTS,
		Duration: duration,
		EndTS:    startTS + duration,
	}

	err = s.emitAction(
		task.ID, taskmodel.ActionEnd, startTS+duration, task.Attr.EndLocation)
	if err != nil {
		return 0, err
	}

	return duration, nil
}

// branchTask returns the taskwait-inclusive duration of a task with
// children: the native execution time recorded in the trace plus the
// idealized time spent suspended at barriers. The suspended duration as
// recorded depends on how many tasks the real machine could run at once; on
// the infinite machine it is just the latest synchronized child's or
// descendant's simulated end.
func (s *Scheduler) branchTask(
	task taskmodel.Task,
	depth int,
	startTS taskmodel.Timestamp,
	timings timingMap,
) (taskmodel.Timestamp, error) {
	states, err := s.reader.SchedulingStates(task.ID)
	if err != nil {
		return 0, err
	}

	suspendMode, err := s.reader.SuspendMeta(task.ID)
	if err != nil {
		return 0, err
	}

	var execNative, suspendedIdeal taskmodel.Timestamp

	globalTS := startTS
	barrierSeq := 0
	childrenVisited := 0
	childrenPending := []taskmodel.TaskID{}
	descendants := make(timingMap)

	for _, state := range states {
		switch {
		case state.IsActive():
			visited, err := s.simulateActiveInterval(
				task, state, depth, globalTS, descendants, &childrenPending)
			if err != nil {
				return 0, err
			}

			childrenVisited += visited
			execNative += state.Duration()
			globalTS += state.Duration()

		case state.ActionStart == taskmodel.ActionSuspend:
			mode, ok := suspendMode[state.StartTS]
			if !ok {
				return 0, fmt.Errorf(
					"%w: no suspend metadata for task %d at %d",
					ErrCorruptHistory, task.ID, state.StartTS)
			}

			barrier, err := s.resolveBarrier(
				task.ID, mode, descendants, &childrenPending,
				globalTS, &barrierSeq)
			if err != nil {
				return 0, err
			}

			err = s.suspendMeta.AddTaskSuspendMeta(task.ID, globalTS, mode)
			if err != nil {
				return 0, err
			}

			err = s.emitAction(task.ID, taskmodel.ActionSuspend,
				globalTS, state.StartLocation)
			if err != nil {
				return 0, err
			}

			err = s.emitAction(task.ID, taskmodel.ActionResume,
				globalTS+barrier, state.EndLocation)
			if err != nil {
				return 0, err
			}

			globalTS += barrier
			suspendedIdeal += barrier

		case state.ActionStart == taskmodel.ActionCreate:
			// Created but not yet started.

		default:
			return 0, fmt.Errorf("%w: unhandled state of task %d: %v",
				ErrCorruptHistory, task.ID, state)
		}
	}

	// Merge the subtree's timings into the caller's accumulator. They stay
	// visible to later descendant barriers of the ancestors.
	for id, t := range descendants {
		timings[id] = t
	}

	if childrenVisited != task.Children {
		return 0, fmt.Errorf("%w: task %d visited %d of %d children",
			ErrChildCountMismatch, task.ID, childrenVisited, task.Children)
	}

	return execNative + suspendedIdeal, nil
}

// simulateActiveInterval descends into every child created during an active
// interval. Each child's simulated start is offset by its native
// creation-to-interval-start delay, so sibling subtrees are simulated
// without resource contention.
func (s *Scheduler) simulateActiveInterval(
	task taskmodel.Task,
	state taskmodel.TaskSchedulingState,
	depth int,
	globalTS taskmodel.Timestamp,
	descendants timingMap,
	childrenPending *[]taskmodel.TaskID,
) (int, error) {
	created, err := s.reader.ChildrenCreatedBetween(
		task.ID, state.StartTS, state.EndTS)
	if err != nil {
		return 0, err
	}

	*childrenPending = append(*childrenPending, created...)

	tasks, err := s.reader.Tasks(created)
	if err != nil {
		return 0, err
	}

	visited := 0
	for _, child := range tasks {
		offset := child.CreateTS - state.StartTS
		if offset < 0 {
			return 0, fmt.Errorf(
				"%w: child %d created before its parent interval",
				ErrCorruptHistory, child.ID)
		}

		local := make(timingMap)
		if _, err := s.descend(child, depth+1, globalTS+offset, local); err != nil {
			return 0, err
		}

		visited++

		for id, t := range local {
			descendants[id] = t
		}
	}

	return visited, nil
}

// resolveBarrier computes the idealized delay of one suspend interval and
// records the critical task that determined it.
func (s *Scheduler) resolveBarrier(
	task taskmodel.TaskID,
	mode taskmodel.TaskSyncMode,
	descendants timingMap,
	childrenPending *[]taskmodel.TaskID,
	globalTS taskmodel.Timestamp,
	barrierSeq *int,
) (taskmodel.Timestamp, error) {
	if mode == taskmodel.SyncYield {
		// No synchronization constraint. The task resumes immediately and
		// its pending children stay pending.
		return 0, nil
	}

	var syncSet []taskmodel.TaskID

	switch mode {
	case taskmodel.SyncChildren:
		syncSet = *childrenPending
	case taskmodel.SyncDescendants:
		syncSet = make([]taskmodel.TaskID, 0, len(descendants))
		for id := range descendants {
			syncSet = append(syncSet, id)
		}
	}

	*childrenPending = (*childrenPending)[:0]

	if len(syncSet) == 0 {
		return 0, nil
	}

	latest, err := latestOf(descendants, syncSet, mode)
	if err != nil {
		return 0, err
	}

	err = s.critical.AddCriticalTask(task, *barrierSeq, latest.Task)
	if err != nil {
		return 0, err
	}

	*barrierSeq++

	if latest.EndTS > globalTS {
		return latest.EndTS - globalTS, nil
	}

	return 0, nil
}

// latestOf finds the latest-finishing member of the synchronized set. Ties
// resolve towards the earliest-created task, so the selection is
// deterministic regardless of map iteration order.
func latestOf(
	timings timingMap,
	syncSet []taskmodel.TaskID,
	mode taskmodel.TaskSyncMode,
) (taskmodel.Timings, error) {
	var latest taskmodel.Timings

	found := false
	for _, id := range syncSet {
		t, ok := timings[id]
		if !ok {
			return taskmodel.Timings{}, fmt.Errorf(
				"%w: no simulated timings for synchronized task %d (%v barrier)",
				ErrCorruptHistory, id, mode)
		}

		if !found || t.EndsAfter(latest) {
			latest = t
			found = true
		}
	}

	return latest, nil
}

// leafTask returns the observed duration of a childless task. Leaves execute
// without suspension, so their ideal and native durations coincide.
func (s *Scheduler) leafTask(task taskmodel.Task) taskmodel.Timestamp {
	return task.EndTS - task.StartTS
}

func (s *Scheduler) emitAction(
	task taskmodel.TaskID,
	action taskmodel.TaskAction,
	time taskmodel.Timestamp,
	location taskmodel.SourceLocation,
) error {
	return s.actions.AddTaskAction(extraction.TaskActionRecord{
		Task:     task,
		Action:   action,
		Time:     time,
		Location: location,
	})
}
