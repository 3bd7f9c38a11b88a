package idealsim

import (
	"fmt"
	"sort"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/tracesim/extraction"
	"github.com/sarchlab/tracesim/taskmodel"
)

// memTrace is an in-memory TraceReader for building small task hierarchies in
// tests.
type memTrace struct {
	root     taskmodel.TaskID
	tasks    map[taskmodel.TaskID]taskmodel.Task
	children map[taskmodel.TaskID][]taskmodel.TaskID
	states   map[taskmodel.TaskID][]taskmodel.TaskSchedulingState
	suspend  map[taskmodel.TaskID]map[taskmodel.Timestamp]taskmodel.TaskSyncMode
}

func newMemTrace() *memTrace {
	return &memTrace{
		root:     taskmodel.RootTaskID,
		tasks:    make(map[taskmodel.TaskID]taskmodel.Task),
		children: make(map[taskmodel.TaskID][]taskmodel.TaskID),
		states:   make(map[taskmodel.TaskID][]taskmodel.TaskSchedulingState),
		suspend: make(
			map[taskmodel.TaskID]map[taskmodel.Timestamp]taskmodel.TaskSyncMode),
	}
}

func (m *memTrace) addTask(
	id, parent taskmodel.TaskID,
	createTS, startTS, endTS taskmodel.Timestamp,
) {
	m.tasks[id] = taskmodel.Task{
		ID:       id,
		Parent:   parent,
		CreateTS: createTS,
		StartTS:  startTS,
		EndTS:    endTS,
	}
	m.children[parent] = append(m.children[parent], id)

	task := m.tasks[parent]
	task.Children++
	m.tasks[parent] = task
}

// addHistory records a task's action history as (action, timestamp) pairs and
// derives the scheduling states from consecutive pairs.
func (m *memTrace) addHistory(
	id taskmodel.TaskID,
	history ...any,
) {
	for i := 2; i < len(history); i += 2 {
		m.states[id] = append(m.states[id], taskmodel.TaskSchedulingState{
			Task:        id,
			ActionStart: history[i-2].(taskmodel.TaskAction),
			StartTS:     history[i-1].(taskmodel.Timestamp),
			ActionEnd:   history[i].(taskmodel.TaskAction),
			EndTS:       history[i+1].(taskmodel.Timestamp),
		})
	}
}

func (m *memTrace) addSuspend(
	id taskmodel.TaskID,
	at taskmodel.Timestamp,
	mode taskmodel.TaskSyncMode,
) {
	if m.suspend[id] == nil {
		m.suspend[id] = make(map[taskmodel.Timestamp]taskmodel.TaskSyncMode)
	}

	m.suspend[id][at] = mode
}

func (m *memTrace) RootTask() (taskmodel.TaskID, error) {
	return m.root, nil
}

func (m *memTrace) ChildrenOf(
	task taskmodel.TaskID,
) ([]taskmodel.TaskID, error) {
	children := append([]taskmodel.TaskID{}, m.children[task]...)
	sort.Slice(children, func(i, j int) bool {
		return children[i] < children[j]
	})

	return children, nil
}

func (m *memTrace) Task(id taskmodel.TaskID) (taskmodel.Task, error) {
	task, ok := m.tasks[id]
	if !ok {
		return taskmodel.Task{}, fmt.Errorf("task %d not found", id)
	}

	return task, nil
}

func (m *memTrace) Tasks(ids []taskmodel.TaskID) ([]taskmodel.Task, error) {
	tasks := make([]taskmodel.Task, 0, len(ids))
	for _, id := range ids {
		task, err := m.Task(id)
		if err != nil {
			return nil, err
		}

		tasks = append(tasks, task)
	}

	return tasks, nil
}

func (m *memTrace) SchedulingStates(
	task taskmodel.TaskID,
) ([]taskmodel.TaskSchedulingState, error) {
	return m.states[task], nil
}

func (m *memTrace) SuspendMeta(
	task taskmodel.TaskID,
) (map[taskmodel.Timestamp]taskmodel.TaskSyncMode, error) {
	return m.suspend[task], nil
}

func (m *memTrace) ChildrenCreatedBetween(
	task taskmodel.TaskID,
	start, end taskmodel.Timestamp,
) ([]taskmodel.TaskID, error) {
	var created []taskmodel.TaskID
	for _, child := range m.children[task] {
		ts := m.tasks[child].CreateTS
		if ts > start && ts <= end {
			created = append(created, child)
		}
	}

	sort.Slice(created, func(i, j int) bool {
		return m.tasks[created[i]].CreateTS < m.tasks[created[j]].CreateTS
	})

	return created, nil
}

type suspendRecord struct {
	task taskmodel.TaskID
	time taskmodel.Timestamp
	mode taskmodel.TaskSyncMode
}

type criticalRecord struct {
	task     taskmodel.TaskID
	sequence int
	critical taskmodel.TaskID
}

// recordingSinks collects everything the scheduler emits.
type recordingSinks struct {
	actions  []extraction.TaskActionRecord
	suspends []suspendRecord
	critical []criticalRecord
}

func (r *recordingSinks) AddTaskAction(
	record extraction.TaskActionRecord,
) error {
	r.actions = append(r.actions, record)
	return nil
}

func (r *recordingSinks) AddTaskSuspendMeta(
	task taskmodel.TaskID,
	time taskmodel.Timestamp,
	mode taskmodel.TaskSyncMode,
) error {
	r.suspends = append(r.suspends, suspendRecord{task, time, mode})
	return nil
}

func (r *recordingSinks) AddCriticalTask(
	task taskmodel.TaskID,
	sequence int,
	critical taskmodel.TaskID,
) error {
	r.critical = append(r.critical, criticalRecord{task, sequence, critical})
	return nil
}

// actionOf returns the time at which one action of one task was simulated.
func (r *recordingSinks) actionOf(
	task taskmodel.TaskID,
	action taskmodel.TaskAction,
) taskmodel.Timestamp {
	for _, rec := range r.actions {
		if rec.Task == task && rec.Action == action {
			return rec.Time
		}
	}

	ginkgoFail(fmt.Sprintf("no %v action recorded for task %d", action, task))

	return 0
}

func ginkgoFail(message string) {
	Fail(message, 1)
}

var _ = Describe("Scheduler", func() {
	var (
		trace *memTrace
		sinks *recordingSinks
	)

	const (
		create  = taskmodel.ActionCreate
		start   = taskmodel.ActionStart
		end     = taskmodel.ActionEnd
		suspend = taskmodel.ActionSuspend
		resume  = taskmodel.ActionResume
	)

	ts := func(v int64) taskmodel.Timestamp { return taskmodel.Timestamp(v) }

	run := func() error {
		return NewScheduler(trace, sinks, sinks, sinks).Run()
	}

	BeforeEach(func() {
		trace = newMemTrace()
		sinks = &recordingSinks{}
	})

	It("should shift leaf children to the barrier start", func() {
		// Phase 1 runs two leaves and waits for them at a child barrier.
		trace.addTask(1, 0, 0, 10, 200)
		trace.addHistory(1,
			create, ts(0), start, ts(10), suspend, ts(100),
			resume, ts(150), end, ts(200))
		trace.addSuspend(1, 100, taskmodel.SyncChildren)

		trace.addTask(2, 1, 20, 30, 90) // duration 60
		trace.addTask(3, 1, 40, 95, 145) // duration 50

		Expect(run()).To(Succeed())

		// Both leaves start the moment the phase starts simulating.
		Expect(sinks.actionOf(2, create)).To(Equal(ts(0)))
		Expect(sinks.actionOf(2, start)).To(Equal(ts(0)))
		Expect(sinks.actionOf(2, end)).To(Equal(ts(60)))
		Expect(sinks.actionOf(3, end)).To(Equal(ts(50)))

		// The longer leaf determines the barrier.
		Expect(sinks.critical).To(Equal([]criticalRecord{{1, 0, 2}}))
		Expect(sinks.suspends).To(Equal([]suspendRecord{
			{1, 0, taskmodel.SyncChildren},
		}))
	})

	It("should break end-time ties towards the lowest task id", func() {
		trace.addTask(1, 0, 0, 10, 200)
		trace.addHistory(1,
			create, ts(0), start, ts(10), suspend, ts(100),
			resume, ts(150), end, ts(200))
		trace.addSuspend(1, 100, taskmodel.SyncChildren)

		// Both leaves have duration 60, so both end at 60.
		trace.addTask(2, 1, 20, 30, 90)
		trace.addTask(3, 1, 40, 95, 155)

		Expect(run()).To(Succeed())

		Expect(sinks.critical).To(Equal([]criticalRecord{{1, 0, 2}}))
	})

	It("should run phases sequentially in ascending id order", func() {
		trace.addTask(1, 0, 0, 10, 200)
		trace.addHistory(1,
			create, ts(0), start, ts(10), suspend, ts(100),
			resume, ts(150), end, ts(200))
		trace.addSuspend(1, 100, taskmodel.SyncChildren)
		trace.addTask(2, 1, 20, 30, 90) // duration 60

		trace.addTask(5, 0, 200, 210, 400)
		trace.addHistory(5,
			create, ts(200), start, ts(210), suspend, ts(300),
			resume, ts(350), end, ts(400))
		trace.addSuspend(5, 300, taskmodel.SyncChildren)
		trace.addTask(6, 5, 220, 230, 250) // duration 20

		Expect(run()).To(Succeed())

		// Phase 5 starts where phase 1's barrier ended.
		Expect(sinks.actionOf(2, end)).To(Equal(ts(60)))
		Expect(sinks.actionOf(6, create)).To(Equal(ts(60)))
		Expect(sinks.actionOf(6, end)).To(Equal(ts(80)))
	})

	It("should add idealized barrier delay to a branch task", func() {
		trace.addTask(1, 0, 0, 5, 330)
		trace.addHistory(1,
			create, ts(0), start, ts(5), suspend, ts(300),
			resume, ts(320), end, ts(330))
		trace.addSuspend(1, 300, taskmodel.SyncChildren)

		// Task 2 executes 120 natively and waits for its children.
		trace.addTask(2, 1, 10, 20, 280)
		trace.addHistory(2,
			create, ts(10), start, ts(20), suspend, ts(120),
			resume, ts(260), end, ts(280))
		trace.addSuspend(2, 120, taskmodel.SyncChildren)

		trace.addTask(3, 2, 50, 130, 210) // duration 80
		trace.addTask(4, 2, 60, 125, 155) // duration 30

		Expect(run()).To(Succeed())

		// Children keep their native creation offsets within the interval.
		Expect(sinks.actionOf(3, start)).To(Equal(ts(30)))
		Expect(sinks.actionOf(3, end)).To(Equal(ts(110)))
		Expect(sinks.actionOf(4, start)).To(Equal(ts(40)))

		// Task 2 suspends after 100 of native execution and waits 10 more
		// for task 3, so its ideal duration is 120 + 10.
		Expect(sinks.actionOf(2, suspend)).To(Equal(ts(100)))
		Expect(sinks.actionOf(2, resume)).To(Equal(ts(110)))
		Expect(sinks.actionOf(2, end)).To(Equal(ts(130)))

		Expect(sinks.critical).To(Equal([]criticalRecord{
			{2, 0, 3},
			{1, 0, 2},
		}))
	})

	It("should wait for grandchildren at a descendant barrier", func() {
		trace.addTask(1, 0, 0, 5, 500)
		trace.addHistory(1,
			create, ts(0), start, ts(5), suspend, ts(450),
			resume, ts(470), end, ts(500))
		trace.addSuspend(1, 450, taskmodel.SyncChildren)

		trace.addTask(2, 1, 10, 10, 420)
		trace.addHistory(2,
			create, ts(10), start, ts(10), suspend, ts(100),
			resume, ts(400), end, ts(420))
		trace.addSuspend(2, 100, taskmodel.SyncDescendants)

		// Child 3 ends quickly but its own child 4 runs long past it.
		trace.addTask(3, 2, 20, 30, 90)
		trace.addHistory(3,
			create, ts(20), start, ts(30), end, ts(90))
		trace.addTask(4, 3, 40, 50, 250) // duration 200

		Expect(run()).To(Succeed())

		// The grandchild, not the child, is the critical task.
		Expect(sinks.critical[0]).To(Equal(criticalRecord{2, 0, 4}))

		// Task 2: 90 native before the barrier, the barrier stretches to the
		// grandchild's end at 220, then 20 native after.
		Expect(sinks.actionOf(4, end)).To(Equal(ts(220)))
		Expect(sinks.actionOf(2, suspend)).To(Equal(ts(90)))
		Expect(sinks.actionOf(2, resume)).To(Equal(ts(220)))
		Expect(sinks.actionOf(2, end)).To(Equal(ts(240)))
	})

	It("should only wait for direct children at a child barrier", func() {
		trace.addTask(1, 0, 0, 5, 500)
		trace.addHistory(1,
			create, ts(0), start, ts(5), suspend, ts(450),
			resume, ts(470), end, ts(500))
		trace.addSuspend(1, 450, taskmodel.SyncChildren)

		trace.addTask(2, 1, 10, 10, 420)
		trace.addHistory(2,
			create, ts(10), start, ts(10), suspend, ts(100),
			resume, ts(400), end, ts(420))
		trace.addSuspend(2, 100, taskmodel.SyncChildren)

		trace.addTask(3, 2, 20, 30, 90)
		trace.addHistory(3,
			create, ts(20), start, ts(30), end, ts(90))
		trace.addTask(4, 3, 40, 50, 250)

		Expect(run()).To(Succeed())

		// The long-running grandchild does not hold the barrier.
		Expect(sinks.critical[0]).To(Equal(criticalRecord{2, 0, 3}))
		Expect(sinks.actionOf(2, suspend)).To(Equal(ts(90)))
		Expect(sinks.actionOf(2, resume)).To(Equal(ts(90)))
	})

	It("should resume immediately after a yield", func() {
		trace.addTask(1, 0, 0, 5, 400)
		trace.addHistory(1,
			create, ts(0), start, ts(5), suspend, ts(350),
			resume, ts(370), end, ts(400))
		trace.addSuspend(1, 350, taskmodel.SyncChildren)

		trace.addTask(2, 1, 8, 10, 310)
		trace.addHistory(2,
			create, ts(8), start, ts(10), suspend, ts(50),
			resume, ts(60), suspend, ts(100),
			resume, ts(300), end, ts(310))
		trace.addSuspend(2, 50, taskmodel.SyncYield)
		trace.addSuspend(2, 100, taskmodel.SyncChildren)

		trace.addTask(3, 2, 20, 25, 65) // created before the yield
		trace.addTask(4, 2, 70, 75, 95) // created after the yield

		Expect(run()).To(Succeed())

		// The yield suspends and resumes at the same instant and names no
		// critical task.
		Expect(sinks.suspends[0]).To(Equal(suspendRecord{
			2, 40, taskmodel.SyncYield,
		}))
		Expect(sinks.actionOf(2, suspend)).To(Equal(ts(40)))
		Expect(sinks.actionOf(2, resume)).To(Equal(ts(40)))

		// The later child barrier still covers the child created before the
		// yield.
		Expect(sinks.critical).To(HaveLen(2))
		Expect(sinks.critical[0]).To(Equal(criticalRecord{2, 0, 4}))
	})

	It("should fail when the visited children do not match the record", func() {
		trace.addTask(1, 0, 0, 10, 200)
		trace.addHistory(1,
			create, ts(0), start, ts(10), suspend, ts(100),
			resume, ts(150), end, ts(200))
		trace.addSuspend(1, 100, taskmodel.SyncChildren)

		// Created outside every active interval of the phase.
		trace.addTask(2, 1, 150, 160, 180)

		Expect(run()).To(MatchError(ErrChildCountMismatch))
	})

	It("should fail when a phase ends with unsynchronized children", func() {
		trace.addTask(1, 0, 0, 10, 200)
		trace.addHistory(1,
			create, ts(0), start, ts(10), end, ts(200))

		trace.addTask(2, 1, 20, 30, 90)

		Expect(run()).To(MatchError(ErrCorruptHistory))
	})

	It("should fail when suspend metadata is missing", func() {
		trace.addTask(1, 0, 0, 10, 200)
		trace.addHistory(1,
			create, ts(0), start, ts(10), suspend, ts(100),
			resume, ts(150), end, ts(200))

		trace.addTask(2, 1, 20, 30, 90)

		Expect(run()).To(MatchError(ErrCorruptHistory))
	})

	It("should fail when nesting exceeds the depth limit", func() {
		trace.addTask(1, 0, 0, 5, 330)
		trace.addHistory(1,
			create, ts(0), start, ts(5), suspend, ts(300),
			resume, ts(320), end, ts(330))
		trace.addSuspend(1, 300, taskmodel.SyncChildren)

		trace.addTask(2, 1, 10, 20, 280)
		trace.addHistory(2,
			create, ts(10), start, ts(20), suspend, ts(120),
			resume, ts(260), end, ts(280))
		trace.addSuspend(2, 120, taskmodel.SyncChildren)

		trace.addTask(3, 2, 50, 130, 210)

		err := NewScheduler(trace, sinks, sinks, sinks).
			WithMaxDepth(0).
			Run()

		Expect(err).To(MatchError(ErrDepthExceeded))
	})
})
