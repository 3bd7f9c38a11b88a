package taskdb

import (
	"database/sql"

	"github.com/sarchlab/tracesim/taskmodel"
)

// A TableCount pairs a table name with its row count.
type TableCount struct {
	Table string `json:"table"`
	Rows  int    `json:"rows"`
}

// A SimulationInfo describes one simulation stored in the database.
type SimulationInfo struct {
	SimID     int    `json:"sim_id"`
	RunID     string `json:"run_id"`
	CreatedTS int64  `json:"created_ts"`
}

// A CriticalTaskRecord names the child or descendant that determined the
// length of one barrier of a task, in barrier order.
type CriticalTaskRecord struct {
	Task     taskmodel.TaskID `json:"task"`
	Sequence int              `json:"sequence"`
	Critical taskmodel.TaskID `json:"critical"`
}

// A SimActionRecord is one simulated lifecycle action read back from the
// database.
type SimActionRecord struct {
	Task     taskmodel.TaskID     `json:"task"`
	Action   taskmodel.TaskAction `json:"action"`
	Time     taskmodel.Timestamp  `json:"time"`
	Location string               `json:"location"`
}

// CountRows returns the row count of every table in the database.
func (r *Reader) CountRows() ([]TableCount, error) {
	rows, err := r.db.Query(`
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}

		names = append(names, name)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	counts := make([]TableCount, 0, len(names))
	for _, name := range names {
		var n int
		err := r.db.QueryRow("SELECT COUNT(*) FROM " + name).Scan(&n)
		if err != nil {
			return nil, err
		}

		counts = append(counts, TableCount{Table: name, Rows: n})
	}

	return counts, nil
}

// CountTasks returns the number of tasks recorded in the database.
func (r *Reader) CountTasks() (int, error) {
	var n int

	err := r.db.QueryRow("SELECT COUNT(*) FROM " + tableTask).Scan(&n)

	return n, err
}

// CountSimulations returns the number of simulations stored in the database.
// A database that has never been simulated has zero.
func (r *Reader) CountSimulations() (int, error) {
	exists, err := r.tableExists(tableSim)
	if err != nil || !exists {
		return 0, err
	}

	var n int

	err = r.db.QueryRow("SELECT COUNT(*) FROM " + tableSim).Scan(&n)

	return n, err
}

// Simulations lists the simulations stored in the database, oldest first.
func (r *Reader) Simulations() ([]SimulationInfo, error) {
	exists, err := r.tableExists(tableSim)
	if err != nil || !exists {
		return nil, err
	}

	rows, err := r.db.Query(
		"SELECT SimID, RunID, CreatedTS FROM " + tableSim + " ORDER BY SimID")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sims []SimulationInfo
	for rows.Next() {
		var s SimulationInfo
		if err := rows.Scan(&s.SimID, &s.RunID, &s.CreatedTS); err != nil {
			return nil, err
		}

		sims = append(sims, s)
	}

	return sims, rows.Err()
}

// CriticalTasks returns one simulation's critical-task records, ordered by
// task then barrier sequence.
func (r *Reader) CriticalTasks(simID int) ([]CriticalTaskRecord, error) {
	rows, err := r.db.Query(
		"SELECT TaskID, Sequence, CriticalChild FROM "+tableCriticalTask+
			" WHERE SimID = ? ORDER BY TaskID, Sequence", simID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []CriticalTaskRecord
	for rows.Next() {
		var (
			rec      CriticalTaskRecord
			task     uint64
			critical uint64
		)

		if err := rows.Scan(&task, &rec.Sequence, &critical); err != nil {
			return nil, err
		}

		rec.Task = taskmodel.TaskID(task)
		rec.Critical = taskmodel.TaskID(critical)
		records = append(records, rec)
	}

	return records, rows.Err()
}

// SimHistory returns one simulation's action records in simulated time order.
func (r *Reader) SimHistory(simID int) ([]SimActionRecord, error) {
	rows, err := r.db.Query(
		"SELECT TaskID, Action, Time, LocationID FROM "+tableSimHistory+
			" WHERE SimID = ? ORDER BY Time, rowid", simID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []SimActionRecord
	for rows.Next() {
		var (
			task   uint64
			action int
			ts     int64
			locID  int64
		)

		if err := rows.Scan(&task, &action, &ts, &locID); err != nil {
			return nil, err
		}

		loc, err := r.sourceLocation(locID)
		if err != nil {
			return nil, err
		}

		records = append(records, SimActionRecord{
			Task:     taskmodel.TaskID(task),
			Action:   taskmodel.TaskAction(action),
			Time:     taskmodel.Timestamp(ts),
			Location: loc.String(),
		})
	}

	return records, rows.Err()
}

func (r *Reader) tableExists(name string) (bool, error) {
	var found string

	err := r.db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
		name).Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	return true, nil
}
