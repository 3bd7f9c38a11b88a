package extraction

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	gomock "go.uber.org/mock/gomock"

	"github.com/sarchlab/tracesim/eventmodel"
	"github.com/sarchlab/tracesim/taskmodel"
)

type sliceSource struct {
	items []StreamItem
	next  int
}

func (s *sliceSource) Next() (StreamItem, bool, error) {
	if s.next >= len(s.items) {
		return StreamItem{}, false, nil
	}

	item := s.items[s.next]
	s.next++

	return item, true, nil
}

var _ = Describe("Driver", func() {
	var (
		mockCtrl    *gomock.Controller
		meta        *MockTaskMetaSink
		actions     *MockTaskActionSink
		suspendMeta *MockTaskSuspendMetaSink
		driver      *Driver

		records []TaskActionRecord
		loc     eventmodel.Location
	)

	item := func(e eventmodel.Event, count uint64) StreamItem {
		return StreamItem{Location: loc, LocationCount: count, Event: e}
	}

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		meta = NewMockTaskMetaSink(mockCtrl)
		actions = NewMockTaskActionSink(mockCtrl)
		suspendMeta = NewMockTaskSuspendMetaSink(mockCtrl)

		records = nil
		actions.EXPECT().
			AddTaskAction(gomock.Any()).
			DoAndReturn(func(r TaskActionRecord) error {
				records = append(records, r)
				return nil
			}).
			AnyTimes()

		driver = NewDriver(eventmodel.ForkJoinClassifier{},
			meta, actions, suspendMeta)
		loc = eventmodel.Location{Ref: 1, Name: "thread 1"}
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should extract a complete task lifecycle", func() {
		meta.EXPECT().
			AddTaskMetadata(taskmodel.TaskID(2), taskmodel.RootTaskID, "worker").
			Return(nil)
		suspendMeta.EXPECT().
			AddTaskSuspendMeta(
				taskmodel.TaskID(2), taskmodel.Timestamp(150),
				taskmodel.SyncChildren).
			Return(nil)

		src := &sliceSource{items: []StreamItem{
			item(eventmodel.NewEvent(
				eventmodel.KindTaskCreate, eventmodel.RegionExplicitTask, 100,
				map[eventmodel.Attr]any{
					eventmodel.AttrUniqueID:         uint64(2),
					eventmodel.AttrEncounteringTask: uint64(0),
					eventmodel.AttrTaskLabel:        "worker",
				}), 1),
			item(eventmodel.NewEvent(
				eventmodel.KindTaskEnter, eventmodel.RegionExplicitTask, 110,
				map[eventmodel.Attr]any{
					eventmodel.AttrUniqueID: uint64(2),
				}), 2),
			item(eventmodel.NewEvent(
				eventmodel.KindSyncBegin, eventmodel.RegionTaskwait, 150,
				map[eventmodel.Attr]any{
					eventmodel.AttrEncounteringTask: uint64(2),
				}), 3),
			item(eventmodel.NewEvent(
				eventmodel.KindSyncEnd, eventmodel.RegionTaskwait, 160,
				map[eventmodel.Attr]any{
					eventmodel.AttrEncounteringTask: uint64(2),
				}), 4),
			item(eventmodel.NewEvent(
				eventmodel.KindTaskLeave, eventmodel.RegionExplicitTask, 200,
				map[eventmodel.Attr]any{
					eventmodel.AttrUniqueID: uint64(2),
				}), 5),
		}}

		total, err := driver.Run(src)

		Expect(err).ToNot(HaveOccurred())
		Expect(total).To(Equal(uint64(5)))
		Expect(records).To(HaveLen(5))

		Expect(records[0].Action).To(Equal(taskmodel.ActionCreate))
		Expect(records[1].Action).To(Equal(taskmodel.ActionStart))
		Expect(records[2].Action).To(Equal(taskmodel.ActionSuspend))
		Expect(records[3].Action).To(Equal(taskmodel.ActionResume))
		Expect(records[4].Action).To(Equal(taskmodel.ActionEnd))

		for _, r := range records {
			Expect(r.Task).To(Equal(taskmodel.TaskID(2)))
			Expect(r.LocationRef).To(Equal(1))
		}

		Expect(records[0].Time).To(Equal(taskmodel.Timestamp(100)))
		Expect(records[4].Time).To(Equal(taskmodel.Timestamp(200)))
		Expect(records[4].LocationCount).To(Equal(uint64(5)))
	})

	It("should resume a task on its second switch-in", func() {
		meta.EXPECT().
			AddTaskMetadata(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil).
			Times(2)
		suspendMeta.EXPECT().
			AddTaskSuspendMeta(
				taskmodel.TaskID(2), taskmodel.Timestamp(120),
				taskmodel.SyncYield).
			Return(nil)

		src := &sliceSource{items: []StreamItem{
			item(eventmodel.NewEvent(
				eventmodel.KindTaskCreate, eventmodel.RegionExplicitTask, 100,
				map[eventmodel.Attr]any{
					eventmodel.AttrUniqueID:         uint64(2),
					eventmodel.AttrEncounteringTask: uint64(0),
				}), 1),
			item(eventmodel.NewEvent(
				eventmodel.KindTaskCreate, eventmodel.RegionExplicitTask, 105,
				map[eventmodel.Attr]any{
					eventmodel.AttrUniqueID:         uint64(3),
					eventmodel.AttrEncounteringTask: uint64(0),
				}), 2),
			item(eventmodel.NewEvent(
				eventmodel.KindTaskEnter, eventmodel.RegionExplicitTask, 110,
				map[eventmodel.Attr]any{
					eventmodel.AttrUniqueID: uint64(2),
				}), 3),
			// Task 2 yields to task 3, then switches back in.
			item(eventmodel.NewEvent(
				eventmodel.KindTaskSwitch, eventmodel.RegionNone, 120,
				map[eventmodel.Attr]any{
					eventmodel.AttrEncounteringTask: uint64(2),
					eventmodel.AttrNextTask:         uint64(3),
					eventmodel.AttrPriorTaskStatus:  "yield",
				}), 4),
			item(eventmodel.NewEvent(
				eventmodel.KindTaskSwitch, eventmodel.RegionNone, 140,
				map[eventmodel.Attr]any{
					eventmodel.AttrEncounteringTask: uint64(3),
					eventmodel.AttrNextTask:         uint64(2),
					eventmodel.AttrPriorTaskStatus:  "switch",
				}), 5),
		}}

		_, err := driver.Run(src)

		Expect(err).ToNot(HaveOccurred())

		var lifecycle []taskmodel.TaskAction
		for _, r := range records {
			lifecycle = append(lifecycle, r.Action)
		}

		Expect(lifecycle).To(Equal([]taskmodel.TaskAction{
			taskmodel.ActionCreate,  // task 2
			taskmodel.ActionCreate,  // task 3
			taskmodel.ActionStart,   // task 2 first switch-in
			taskmodel.ActionSuspend, // task 2 yields
			taskmodel.ActionStart,   // task 3 first switch-in
			taskmodel.ActionResume,  // task 2 second switch-in
		}))

		Expect(records[3].Task).To(Equal(taskmodel.TaskID(2)))
		Expect(records[4].Task).To(Equal(taskmodel.TaskID(3)))
		Expect(records[5].Task).To(Equal(taskmodel.TaskID(2)))
	})

	It("should abort on an action for an unregistered task", func() {
		src := &sliceSource{items: []StreamItem{
			item(eventmodel.NewEvent(
				eventmodel.KindTaskEnter, eventmodel.RegionExplicitTask, 110,
				map[eventmodel.Attr]any{
					eventmodel.AttrUniqueID: uint64(9),
				}), 1),
		}}

		_, err := driver.Run(src)

		Expect(err).To(MatchError(ErrUnregisteredTask))
	})

	It("should abort on a duplicate registration", func() {
		meta.EXPECT().
			AddTaskMetadata(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil)

		create := eventmodel.NewEvent(
			eventmodel.KindTaskCreate, eventmodel.RegionExplicitTask, 100,
			map[eventmodel.Attr]any{
				eventmodel.AttrUniqueID:         uint64(2),
				eventmodel.AttrEncounteringTask: uint64(0),
			})

		src := &sliceSource{items: []StreamItem{
			item(create, 1), item(create, 2),
		}}

		_, err := driver.Run(src)

		Expect(err).To(MatchError(ErrDuplicateTask))
	})

	It("should report progress at the configured interval", func() {
		meta.EXPECT().
			AddTaskMetadata(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil).
			AnyTimes()

		var reported []uint64
		driver.WithProgress(2, func(total uint64) {
			reported = append(reported, total)
		})

		var items []StreamItem
		for i := 0; i < 5; i++ {
			items = append(items, item(eventmodel.NewEvent(
				eventmodel.KindTaskCreate, eventmodel.RegionExplicitTask,
				taskmodel.Timestamp(100+i),
				map[eventmodel.Attr]any{
					eventmodel.AttrUniqueID:         uint64(10 + i),
					eventmodel.AttrEncounteringTask: uint64(0),
				}), uint64(i+1)))
		}

		total, err := driver.Run(&sliceSource{items: items})

		Expect(err).ToNot(HaveOccurred())
		Expect(total).To(Equal(uint64(5)))
		Expect(reported).To(Equal([]uint64{2, 4}))
	})

	It("should record CPU and thread attributes when present", func() {
		meta.EXPECT().
			AddTaskMetadata(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil)

		src := &sliceSource{items: []StreamItem{
			item(eventmodel.NewEvent(
				eventmodel.KindTaskCreate, eventmodel.RegionExplicitTask, 100,
				map[eventmodel.Attr]any{
					eventmodel.AttrUniqueID:         uint64(2),
					eventmodel.AttrEncounteringTask: uint64(0),
					eventmodel.AttrCPU:              3,
					eventmodel.AttrThread:           7,
				}), 1),
		}}

		_, err := driver.Run(src)

		Expect(err).ToNot(HaveOccurred())
		Expect(records[0].CPU).To(Equal(3))
		Expect(records[0].Thread).To(Equal(7))
	})
})
