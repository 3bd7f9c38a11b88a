package taskdb

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	// SQLite driver
	_ "github.com/mattn/go-sqlite3"

	"github.com/sarchlab/tracesim/taskmodel"
)

// ErrActionOrder reports a task whose recorded actions do not form a prefix
// of CREATE, START, (SUSPEND, RESUME)*, END. The history is unusable for
// simulation.
var ErrActionOrder = errors.New(
	"task action history violates lifecycle ordering")

// A Reader answers queries over a task database: the task hierarchy, the
// reconstructed scheduling-state intervals, suspend metadata, simulation
// output and summary counts.
type Reader struct {
	db   *sql.DB
	path string

	strCache map[int64]string
	locCache map[int64]taskmodel.SourceLocation
}

// NewReader opens the task database at path.
func NewReader(path string) (*Reader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	return &Reader{
		db:       db,
		path:     path,
		strCache: make(map[int64]string),
		locCache: make(map[int64]taskmodel.SourceLocation),
	}, nil
}

// Close closes the database.
func (r *Reader) Close() error {
	return r.db.Close()
}

// Path returns the database file path.
func (r *Reader) Path() string {
	return r.path
}

// RootTask returns the task with no recorded parent, or the implicit root
// (ID 0) when every recorded task has a parent.
func (r *Reader) RootTask() (taskmodel.TaskID, error) {
	var id uint64

	err := r.db.QueryRow(
		"SELECT ID FROM " + tableTask + " WHERE ParentID < 0 LIMIT 1").
		Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return taskmodel.RootTaskID, nil
	}

	if err != nil {
		return 0, err
	}

	return taskmodel.TaskID(id), nil
}

// ChildrenOf returns the direct children of a task in ascending ID order.
func (r *Reader) ChildrenOf(task taskmodel.TaskID) ([]taskmodel.TaskID, error) {
	rows, err := r.db.Query(
		"SELECT ChildID FROM "+tableTaskRelation+
			" WHERE ParentID = ? ORDER BY ChildID", uint64(task))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTaskIDs(rows)
}

// Task returns one task's attributes.
func (r *Reader) Task(id taskmodel.TaskID) (taskmodel.Task, error) {
	tasks, err := r.Tasks([]taskmodel.TaskID{id})
	if err != nil {
		return taskmodel.Task{}, err
	}

	if len(tasks) == 0 {
		return taskmodel.Task{}, fmt.Errorf("task %d not found", id)
	}

	return tasks[0], nil
}

// Tasks returns the attributes of several tasks in the order given.
func (r *Reader) Tasks(ids []taskmodel.TaskID) ([]taskmodel.Task, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = uint64(id)
	}

	query := `
		SELECT ID, ParentID, Children, CreateTS, StartTS, EndTS,
			LabelID, CreateLocID, StartLocID, EndLocID
		FROM ` + tableTask + `
		WHERE ID IN (` + strings.Join(placeholders, ", ") + `)`

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[taskmodel.TaskID]taskmodel.Task, len(ids))
	for rows.Next() {
		task, err := r.scanTask(rows)
		if err != nil {
			return nil, err
		}

		byID[task.ID] = task
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	tasks := make([]taskmodel.Task, 0, len(ids))
	for _, id := range ids {
		task, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("task %d not found", id)
		}

		tasks = append(tasks, task)
	}

	return tasks, nil
}

func (r *Reader) scanTask(rows *sql.Rows) (taskmodel.Task, error) {
	var (
		row  taskRow
		task taskmodel.Task
	)

	err := rows.Scan(&row.ID, &row.ParentID, &row.Children,
		&row.CreateTS, &row.StartTS, &row.EndTS,
		&row.LabelID, &row.CreateLocID, &row.StartLocID, &row.EndLocID)
	if err != nil {
		return taskmodel.Task{}, err
	}

	task.ID = taskmodel.TaskID(row.ID)
	task.Parent = taskmodel.NullTaskID
	if row.ParentID >= 0 {
		task.Parent = taskmodel.TaskID(row.ParentID)
	}

	task.Children = row.Children
	task.CreateTS = taskmodel.Timestamp(row.CreateTS)
	task.StartTS = taskmodel.Timestamp(row.StartTS)
	task.EndTS = taskmodel.Timestamp(row.EndTS)

	if task.Attr.Label, err = r.internedString(row.LabelID); err != nil {
		return taskmodel.Task{}, err
	}

	if task.Attr.CreateLocation, err = r.sourceLocation(row.CreateLocID); err != nil {
		return taskmodel.Task{}, err
	}

	if task.Attr.StartLocation, err = r.sourceLocation(row.StartLocID); err != nil {
		return taskmodel.Task{}, err
	}

	if task.Attr.EndLocation, err = r.sourceLocation(row.EndLocID); err != nil {
		return taskmodel.Task{}, err
	}

	return task, nil
}

// SchedulingStates reconstructs the ordered scheduling-state intervals of a
// task from its recorded action history. Consecutive actions must obey the
// lifecycle ordering invariant; the intervals tile the task's lifetime with
// no gaps or overlaps.
func (r *Reader) SchedulingStates(task taskmodel.TaskID) (
	[]taskmodel.TaskSchedulingState, error,
) {
	rows, err := r.db.Query(
		"SELECT Action, Time, LocationID FROM "+tableTaskHistory+
			" WHERE TaskID = ? ORDER BY Time, rowid", uint64(task))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type actionRecord struct {
		action taskmodel.TaskAction
		time   taskmodel.Timestamp
		loc    taskmodel.SourceLocation
	}

	var history []actionRecord

	for rows.Next() {
		var (
			action int
			ts     int64
			locID  int64
		)

		if err := rows.Scan(&action, &ts, &locID); err != nil {
			return nil, err
		}

		loc, err := r.sourceLocation(locID)
		if err != nil {
			return nil, err
		}

		history = append(history, actionRecord{
			action: taskmodel.TaskAction(action),
			time:   taskmodel.Timestamp(ts),
			loc:    loc,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(history) == 0 {
		return nil, nil
	}

	if history[0].action != taskmodel.ActionCreate {
		return nil, fmt.Errorf("%w: task %d history starts with %v",
			ErrActionOrder, task, history[0].action)
	}

	states := make([]taskmodel.TaskSchedulingState, 0, len(history)-1)
	for i := 1; i < len(history); i++ {
		prev, next := history[i-1], history[i]

		if !next.action.CanFollow(prev.action) {
			return nil, fmt.Errorf("%w: task %d records %v after %v",
				ErrActionOrder, task, next.action, prev.action)
		}

		states = append(states, taskmodel.TaskSchedulingState{
			Task:          task,
			ActionStart:   prev.action,
			ActionEnd:     next.action,
			StartLocation: prev.loc,
			EndLocation:   next.loc,
			StartTS:       prev.time,
			EndTS:         next.time,
		})
	}

	return states, nil
}

// SuspendMeta returns the synchronization mode of each suspend point of a
// task, keyed by suspend timestamp.
func (r *Reader) SuspendMeta(task taskmodel.TaskID) (
	map[taskmodel.Timestamp]taskmodel.TaskSyncMode, error,
) {
	rows, err := r.db.Query(
		"SELECT Time, SyncMode FROM "+tableTaskSuspendMeta+
			" WHERE TaskID = ?", uint64(task))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	meta := make(map[taskmodel.Timestamp]taskmodel.TaskSyncMode)
	for rows.Next() {
		var (
			ts   int64
			mode int
		)

		if err := rows.Scan(&ts, &mode); err != nil {
			return nil, err
		}

		meta[taskmodel.Timestamp(ts)] = taskmodel.TaskSyncMode(mode)
	}

	return meta, rows.Err()
}

// ChildrenCreatedBetween returns the children a task created in the
// half-open interval (start, end], in creation order.
func (r *Reader) ChildrenCreatedBetween(
	task taskmodel.TaskID,
	start, end taskmodel.Timestamp,
) ([]taskmodel.TaskID, error) {
	rows, err := r.db.Query(`
		SELECT h.TaskID
		FROM `+tableTaskHistory+` h
		JOIN `+tableTaskRelation+` r ON h.TaskID = r.ChildID
		WHERE r.ParentID = ? AND h.Action = ? AND h.Time > ? AND h.Time <= ?
		ORDER BY h.Time, h.rowid`,
		uint64(task), int(taskmodel.ActionCreate), int64(start), int64(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTaskIDs(rows)
}

func scanTaskIDs(rows *sql.Rows) ([]taskmodel.TaskID, error) {
	var ids []taskmodel.TaskID

	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}

		ids = append(ids, taskmodel.TaskID(id))
	}

	return ids, rows.Err()
}

func (r *Reader) internedString(id int64) (string, error) {
	if s, ok := r.strCache[id]; ok {
		return s, nil
	}

	var s string

	err := r.db.QueryRow(
		"SELECT Text FROM "+tableString+" WHERE ID = ?", id).Scan(&s)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}

	if err != nil {
		return "", err
	}

	r.strCache[id] = s

	return s, nil
}

func (r *Reader) sourceLocation(id int64) (taskmodel.SourceLocation, error) {
	if loc, ok := r.locCache[id]; ok {
		return loc, nil
	}

	var (
		fileID, funcID int64
		line           int
	)

	err := r.db.QueryRow(
		"SELECT FileID, FuncID, Line FROM "+tableSourceLocation+
			" WHERE ID = ?", id).Scan(&fileID, &funcID, &line)
	if errors.Is(err, sql.ErrNoRows) {
		return taskmodel.UnknownLocation, nil
	}

	if err != nil {
		return taskmodel.SourceLocation{}, err
	}

	loc := taskmodel.SourceLocation{Line: line}

	if loc.File, err = r.internedString(fileID); err != nil {
		return taskmodel.SourceLocation{}, err
	}

	if loc.Func, err = r.internedString(funcID); err != nil {
		return taskmodel.SourceLocation{}, err
	}

	r.locCache[id] = loc

	return loc, nil
}
