package eventmodel

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/tracesim/taskmodel"
)

var _ = Describe("TaskGraphClassifier", func() {
	var c TaskGraphClassifier

	It("should register created tasks with the creator as parent", func() {
		e := NewEvent(KindTaskCreate, RegionNone, 100, map[Attr]any{
			AttrUniqueID:         uint64(4),
			AttrEncounteringTask: uint64(1),
			AttrTaskLabel:        "step",
		})

		Expect(c.IsTaskRegisterEvent(e)).To(BeTrue())

		data, err := c.TaskRegisterData(e, nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(data.ID).To(Equal(taskmodel.TaskID(4)))
		Expect(data.Parent).To(Equal(taskmodel.TaskID(1)))
		Expect(data.Label).To(Equal("step"))
	})

	It("should not register the implicit root task", func() {
		e := NewEvent(KindTaskCreate, RegionNone, 0, map[Attr]any{
			AttrUniqueID:         uint64(0),
			AttrEncounteringTask: uint64(0),
		})

		Expect(c.IsTaskRegisterEvent(e)).To(BeFalse())
	})

	It("should start and complete the encountering task", func() {
		enter := NewEvent(KindTaskEnter, RegionNone, 100, map[Attr]any{
			AttrEncounteringTask: uint64(4),
		})
		leave := NewEvent(KindTaskLeave, RegionNone, 200, map[Attr]any{
			AttrEncounteringTask: uint64(4),
		})

		Expect(c.IsTaskStartEvent(enter)).To(BeTrue())
		Expect(c.IsTaskCompleteEvent(leave)).To(BeTrue())

		started, err := c.TaskEntered(enter)
		Expect(err).ToNot(HaveOccurred())
		Expect(started).To(Equal(taskmodel.TaskID(4)))

		completed, err := c.TaskCompleted(leave)
		Expect(err).ToNot(HaveOccurred())
		Expect(completed).To(Equal(taskmodel.TaskID(4)))
	})

	It("should suspend and resume at sync points", func() {
		begin := NewEvent(KindSyncBegin, RegionNone, 150, map[Attr]any{
			AttrEncounteringTask: uint64(4),
			AttrSyncMode:         int(taskmodel.SyncDescendants),
		})
		end := NewEvent(KindSyncEnd, RegionNone, 180, map[Attr]any{
			AttrEncounteringTask: uint64(4),
		})

		Expect(c.IsTaskSuspendEvent(begin)).To(BeTrue())
		Expect(c.IsTaskResumeEvent(end)).To(BeTrue())

		mode, err := c.SyncMode(begin)
		Expect(err).ToNot(HaveOccurred())
		Expect(mode).To(Equal(taskmodel.SyncDescendants))
	})

	It("should default to child synchronization", func() {
		begin := NewEvent(KindSyncBegin, RegionNone, 150, map[Attr]any{
			AttrEncounteringTask: uint64(4),
		})

		mode, err := c.SyncMode(begin)
		Expect(err).ToNot(HaveOccurred())
		Expect(mode).To(Equal(taskmodel.SyncChildren))
	})

	It("should fail lifecycle queries without the encountering task", func() {
		e := NewEvent(KindTaskEnter, RegionNone, 100, nil)

		_, err := c.TaskEntered(e)

		Expect(err).To(MatchError(ErrMalformedEvent))
	})
})

var _ = Describe("New", func() {
	It("should build the classifier the trace declares", func() {
		forkJoin, err := New(ModelForkJoin)
		Expect(err).ToNot(HaveOccurred())
		Expect(forkJoin).To(BeAssignableToTypeOf(ForkJoinClassifier{}))

		taskGraph, err := New(ModelTaskGraph)
		Expect(err).ToNot(HaveOccurred())
		Expect(taskGraph).To(BeAssignableToTypeOf(TaskGraphClassifier{}))
	})

	It("should reject unknown models", func() {
		_, err := New("DOT")

		Expect(err).To(HaveOccurred())
	})
})
