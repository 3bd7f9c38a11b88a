package taskdb

import (
	"github.com/sarchlab/tracesim/extraction"
	"github.com/sarchlab/tracesim/taskmodel"
)

// A TraceWriter collects the lifecycle data emitted by the extraction driver
// into a new task database. It implements the extraction sink interfaces.
type TraceWriter struct {
	rec    *recorder
	intern *internTable

	// Registration metadata arrives just before the matching CREATE action.
	// It is held here until the CREATE action completes the task row.
	pendingMeta map[taskmodel.TaskID]pendingTaskMeta

	closed bool
}

type pendingTaskMeta struct {
	parent taskmodel.TaskID
	label  string
}

// NewTraceWriter creates a task database at path. An empty path generates a
// unique file name.
func NewTraceWriter(path string) (*TraceWriter, error) {
	rec, err := newRecorder(path)
	if err != nil {
		return nil, err
	}

	rec.CreateTable(tableString, stringRow{})
	rec.CreateTable(tableSourceLocation, sourceLocationRow{})
	rec.CreateTable(tableTask, taskRow{})
	rec.CreateTable(tableTaskRelation, taskRelationRow{})
	rec.CreateTable(tableTaskHistory, taskHistoryRow{})
	rec.CreateTable(tableTaskSuspendMeta, taskSuspendMetaRow{})

	return &TraceWriter{
		rec:         rec,
		intern:      newInternTable(rec),
		pendingMeta: make(map[taskmodel.TaskID]pendingTaskMeta),
	}, nil
}

// Path returns the database file path.
func (w *TraceWriter) Path() string {
	return w.rec.dbPath
}

// AddTaskMetadata records a task registration. The task row itself is
// completed by the CREATE action that follows.
func (w *TraceWriter) AddTaskMetadata(
	task taskmodel.TaskID,
	parent taskmodel.TaskID,
	label string,
) error {
	w.pendingMeta[task] = pendingTaskMeta{parent: parent, label: label}

	if parent != taskmodel.NullTaskID {
		w.rec.InsertData(tableTaskRelation, taskRelationRow{
			ParentID: uint64(parent),
			ChildID:  uint64(task),
		})
	}

	return nil
}

// AddTaskAction records one lifecycle action into the task history. A CREATE
// action additionally completes the task row opened by AddTaskMetadata.
func (w *TraceWriter) AddTaskAction(record extraction.TaskActionRecord) error {
	locID := w.intern.locationID(record.Location)

	w.rec.InsertData(tableTaskHistory, taskHistoryRow{
		TaskID:        uint64(record.Task),
		Action:        int(record.Action),
		Time:          int64(record.Time),
		LocationID:    locID,
		LocationRef:   record.LocationRef,
		LocationCount: record.LocationCount,
		CPU:           record.CPU,
		Thread:        record.Thread,
	})

	if record.Action == taskmodel.ActionCreate {
		w.insertTaskRow(record, locID)
	}

	return nil
}

func (w *TraceWriter) insertTaskRow(
	record extraction.TaskActionRecord,
	locID int64,
) {
	row := taskRow{
		ID:          uint64(record.Task),
		ParentID:    noParent,
		CreateTS:    int64(record.Time),
		CreateLocID: locID,
		StartLocID:  locID,
		EndLocID:    locID,
	}

	meta, ok := w.pendingMeta[record.Task]
	if ok {
		delete(w.pendingMeta, record.Task)

		if meta.parent != taskmodel.NullTaskID {
			row.ParentID = int64(meta.parent)
		}

		row.LabelID = w.intern.stringID(meta.label)
	} else {
		row.LabelID = w.intern.stringID("")
	}

	w.rec.InsertData(tableTask, row)
}

// AddTaskSuspendMeta records the synchronization mode of one suspend point.
func (w *TraceWriter) AddTaskSuspendMeta(
	task taskmodel.TaskID,
	time taskmodel.Timestamp,
	mode taskmodel.TaskSyncMode,
) error {
	w.rec.InsertData(tableTaskSuspendMeta, taskSuspendMetaRow{
		TaskID:   uint64(task),
		Time:     int64(time),
		SyncMode: int(mode),
	})

	return nil
}

// Finalize flushes all buffered rows and derives the per-task aggregates
// (start/end timestamps and locations, child counts) from the recorded
// action history. Call it once after extraction completes.
func (w *TraceWriter) Finalize() error {
	if err := w.rec.Flush(); err != nil {
		return err
	}

	finalizeSQL := `
		UPDATE ` + tableTask + ` SET
			StartTS = COALESCE((
				SELECT MIN(h.Time) FROM ` + tableTaskHistory + ` h
				WHERE h.TaskID = task.ID AND h.Action = 2), CreateTS),
			EndTS = COALESCE((
				SELECT MAX(h.Time) FROM ` + tableTaskHistory + ` h
				WHERE h.TaskID = task.ID AND h.Action = 3), CreateTS),
			StartLocID = COALESCE((
				SELECT h.LocationID FROM ` + tableTaskHistory + ` h
				WHERE h.TaskID = task.ID AND h.Action = 2
				ORDER BY h.Time LIMIT 1), CreateLocID),
			EndLocID = COALESCE((
				SELECT h.LocationID FROM ` + tableTaskHistory + ` h
				WHERE h.TaskID = task.ID AND h.Action = 3
				ORDER BY h.Time DESC LIMIT 1), CreateLocID),
			Children = (
				SELECT COUNT(*) FROM ` + tableTaskRelation + ` r
				WHERE r.ParentID = task.ID);

		CREATE INDEX IF NOT EXISTS idx_task_history_task
			ON ` + tableTaskHistory + ` (TaskID, Time);
		CREATE INDEX IF NOT EXISTS idx_task_relation_parent
			ON ` + tableTaskRelation + ` (ParentID);
	`

	_, err := w.rec.Exec(finalizeSQL)

	return err
}

// Close flushes and closes the database.
func (w *TraceWriter) Close() error {
	if w.closed {
		return errRecorderClosed
	}

	w.closed = true

	return w.rec.Close()
}
