package taskdb

import (
	"database/sql"
	"time"

	"github.com/rs/xid"

	"github.com/sarchlab/tracesim/extraction"
	"github.com/sarchlab/tracesim/taskmodel"
)

// A SimWriter appends one simulation's output (simulated action history,
// simulated suspend metadata and critical-task records) to an existing task
// database. It implements the simulator's sink interfaces. One task database
// can hold several simulations, distinguished by simulation id.
type SimWriter struct {
	rec    *recorder
	intern *internTable

	simID  int
	closed bool
}

// NewSimWriter opens the task database at path and allocates the next
// simulation id.
func NewSimWriter(path string) (*SimWriter, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	rec := newRecorderWithDB(db)
	rec.ownsDB = true
	rec.dbPath = path

	rec.CreateTable(tableSim, simRow{})
	rec.CreateTable(tableSimHistory, simHistoryRow{})
	rec.CreateTable(tableSimSuspendMeta, simSuspendMetaRow{})
	rec.CreateTable(tableCriticalTask, criticalTaskRow{})

	intern := newInternTable(rec)
	if err := intern.load(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	simID, err := nextSimID(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	w := &SimWriter{rec: rec, intern: intern, simID: simID}

	rec.InsertData(tableSim, simRow{
		SimID:     simID,
		RunID:     xid.New().String(),
		CreatedTS: time.Now().UnixNano(),
	})

	return w, nil
}

func nextSimID(db *sql.DB) (int, error) {
	var maxID sql.NullInt64

	err := db.QueryRow("SELECT MAX(SimID) FROM " + tableSim).Scan(&maxID)
	if err != nil {
		return 0, err
	}

	return int(maxID.Int64) + 1, nil
}

// SimID returns the id under which this simulation's rows are stored.
func (w *SimWriter) SimID() int {
	return w.simID
}

// AddTaskAction records one simulated lifecycle action.
func (w *SimWriter) AddTaskAction(record extraction.TaskActionRecord) error {
	w.rec.InsertData(tableSimHistory, simHistoryRow{
		SimID:      w.simID,
		TaskID:     uint64(record.Task),
		Action:     int(record.Action),
		Time:       int64(record.Time),
		LocationID: w.intern.locationID(record.Location),
	})

	return nil
}

// AddTaskSuspendMeta records the synchronization mode of one simulated
// suspend point.
func (w *SimWriter) AddTaskSuspendMeta(
	task taskmodel.TaskID,
	time taskmodel.Timestamp,
	mode taskmodel.TaskSyncMode,
) error {
	w.rec.InsertData(tableSimSuspendMeta, simSuspendMetaRow{
		SimID:    w.simID,
		TaskID:   uint64(task),
		Time:     int64(time),
		SyncMode: int(mode),
	})

	return nil
}

// AddCriticalTask records the child or descendant that determined one
// barrier's length.
func (w *SimWriter) AddCriticalTask(
	task taskmodel.TaskID,
	sequence int,
	critical taskmodel.TaskID,
) error {
	w.rec.InsertData(tableCriticalTask, criticalTaskRow{
		SimID:         w.simID,
		TaskID:        uint64(task),
		Sequence:      sequence,
		CriticalChild: uint64(critical),
	})

	return nil
}

// Close flushes and closes the database.
func (w *SimWriter) Close() error {
	if w.closed {
		return errRecorderClosed
	}

	w.closed = true

	return w.rec.Close()
}
