package taskdb

import (
	"database/sql"

	"github.com/sarchlab/tracesim/taskmodel"
)

// Row types define the database schema. Column names are the field names.

type taskRow struct {
	ID          uint64
	ParentID    int64 // -1 when the task has no parent
	Children    int
	CreateTS    int64
	StartTS     int64
	EndTS       int64
	LabelID     int64
	CreateLocID int64
	StartLocID  int64
	EndLocID    int64
}

type taskRelationRow struct {
	ParentID uint64
	ChildID  uint64
}

type taskHistoryRow struct {
	TaskID        uint64
	Action        int
	Time          int64
	LocationID    int64
	LocationRef   int
	LocationCount uint64
	CPU           int
	Thread        int
}

type taskSuspendMetaRow struct {
	TaskID   uint64
	Time     int64
	SyncMode int
}

type stringRow struct {
	ID   int64
	Text string
}

type sourceLocationRow struct {
	ID     int64
	FileID int64
	FuncID int64
	Line   int
}

type simRow struct {
	SimID     int
	RunID     string
	CreatedTS int64
}

type simHistoryRow struct {
	SimID      int
	TaskID     uint64
	Action     int
	Time       int64
	LocationID int64
}

type simSuspendMetaRow struct {
	SimID    int
	TaskID   uint64
	Time     int64
	SyncMode int
}

type criticalTaskRow struct {
	SimID         int
	TaskID        uint64
	Sequence      int
	CriticalChild uint64
}

const (
	tableTask            = "task"
	tableTaskRelation    = "task_relation"
	tableTaskHistory     = "task_history"
	tableTaskSuspendMeta = "task_suspend_meta"
	tableString          = "string"
	tableSourceLocation  = "source_location"
	tableSim             = "sim"
	tableSimHistory      = "sim_task_history"
	tableSimSuspendMeta  = "sim_task_suspend_meta"
	tableCriticalTask    = "critical_task"
)

const noParent int64 = -1

// An internTable deduplicates strings and source locations into dictionary
// tables, handing out stable integer ids.
type internTable struct {
	rec *recorder

	strings   map[string]int64
	locations map[taskmodel.SourceLocation]int64

	nextStringID   int64
	nextLocationID int64
}

func newInternTable(rec *recorder) *internTable {
	return &internTable{
		rec:            rec,
		strings:        make(map[string]int64),
		locations:      make(map[taskmodel.SourceLocation]int64),
		nextStringID:   1,
		nextLocationID: 1,
	}
}

func (t *internTable) stringID(text string) int64 {
	if id, ok := t.strings[text]; ok {
		return id
	}

	id := t.nextStringID
	t.nextStringID++
	t.strings[text] = id
	t.rec.InsertData(tableString, stringRow{ID: id, Text: text})

	return id
}

func (t *internTable) locationID(loc taskmodel.SourceLocation) int64 {
	if id, ok := t.locations[loc]; ok {
		return id
	}

	id := t.nextLocationID
	t.nextLocationID++
	t.locations[loc] = id
	t.rec.InsertData(tableSourceLocation, sourceLocationRow{
		ID:     id,
		FileID: t.stringID(loc.File),
		FuncID: t.stringID(loc.Func),
		Line:   loc.Line,
	})

	return id
}

// load primes the intern maps from the dictionaries already present in a
// reopened database, so new entries continue the id sequences.
func (t *internTable) load(db *sql.DB) error {
	rows, err := db.Query("SELECT ID, Text FROM " + tableString)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var r stringRow
		if err := rows.Scan(&r.ID, &r.Text); err != nil {
			return err
		}

		t.strings[r.Text] = r.ID
		if r.ID >= t.nextStringID {
			t.nextStringID = r.ID + 1
		}
	}

	if err := rows.Err(); err != nil {
		return err
	}

	locRows, err := db.Query(`
		SELECT l.ID, f.Text, fn.Text, l.Line
		FROM ` + tableSourceLocation + ` l
		JOIN ` + tableString + ` f ON l.FileID = f.ID
		JOIN ` + tableString + ` fn ON l.FuncID = fn.ID`)
	if err != nil {
		return err
	}
	defer locRows.Close()

	for locRows.Next() {
		var (
			id  int64
			loc taskmodel.SourceLocation
		)

		if err := locRows.Scan(&id, &loc.File, &loc.Func, &loc.Line); err != nil {
			return err
		}

		t.locations[loc] = id
		if id >= t.nextLocationID {
			t.nextLocationID = id + 1
		}
	}

	return locRows.Err()
}
