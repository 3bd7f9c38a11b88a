// Package taskdb persists extracted task lifecycle data into a SQLite
// database and reads it back for simulation and inspection. It implements
// the extraction sinks, the simulator sinks and the simulator's trace-query
// interface, so the rest of the system stays format-agnostic.
package taskdb

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"reflect"
	"strings"

	"github.com/fatih/structs"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// A recorder buffers typed rows per table and writes them to SQLite in
// batched transactions. Table schemas are derived from the row struct's
// field names.
type recorder struct {
	*sql.DB

	dbPath     string
	ownsDB     bool
	tables     map[string]*table
	tableOrder []string
	batchSize  int
	entryCount int
}

type table struct {
	structType reflect.Type
	entries    []any
}

// newRecorder creates a recorder backed by a new database file. An empty
// path generates a unique file name.
func newRecorder(path string) (*recorder, error) {
	if path == "" {
		path = "tracesim_" + xid.New().String() + ".sqlite3"
	}

	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("file %s already exists", path)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	fmt.Fprintf(os.Stderr, "Task database created: %s\n", path)

	r := &recorder{
		DB:        db,
		dbPath:    path,
		ownsDB:    true,
		batchSize: 100000,
		tables:    make(map[string]*table),
	}

	r.registerAtExitFlush()

	return r, nil
}

// newRecorderWithDB creates a recorder over an already-open database.
func newRecorderWithDB(db *sql.DB) *recorder {
	r := &recorder{
		DB:        db,
		batchSize: 100000,
		tables:    make(map[string]*table),
	}

	r.registerAtExitFlush()

	return r
}

func (r *recorder) registerAtExitFlush() {
	atexit.Register(func() {
		if err := r.Flush(); err != nil {
			log.Printf("flushing task database: %v", err)
		}
	})
}

func isAllowedFieldKind(kind reflect.Kind) bool {
	switch kind {
	case
		reflect.Bool,
		reflect.Int,
		reflect.Int8,
		reflect.Int16,
		reflect.Int32,
		reflect.Int64,
		reflect.Uint,
		reflect.Uint8,
		reflect.Uint16,
		reflect.Uint32,
		reflect.Uint64,
		reflect.Float32,
		reflect.Float64,
		reflect.String:
		return true
	default:
		return false
	}
}

func checkStructFields(entry any) error {
	types := reflect.TypeOf(entry)

	for i := 0; i < types.NumField(); i++ {
		field := types.Field(i)

		if !isAllowedFieldKind(field.Type.Kind()) {
			return fmt.Errorf("field %s has unsupported type %v",
				field.Name, field.Type)
		}
	}

	return nil
}

// CreateTable declares a table whose columns are the field names of the
// sample row struct. Creating a table that already exists in the database is
// a no-op, so reopened databases can be extended with new tables.
func (r *recorder) CreateTable(tableName string, sampleEntry any) {
	if err := checkStructFields(sampleEntry); err != nil {
		panic(err)
	}

	if _, exists := r.tables[tableName]; exists {
		panic(fmt.Sprintf("table %s declared twice", tableName))
	}

	n := structs.Names(sampleEntry)
	fields := strings.Join(n, ", \n\t")

	createTableSQL := `CREATE TABLE IF NOT EXISTS ` + tableName +
		` (` + "\n\t" + fields + "\n" + `);`
	r.mustExecute(createTableSQL)

	r.tables[tableName] = &table{
		structType: reflect.TypeOf(sampleEntry),
		entries:    []any{},
	}
	r.tableOrder = append(r.tableOrder, tableName)
}

// InsertData buffers one row for a declared table.
func (r *recorder) InsertData(tableName string, entry any) {
	t, exists := r.tables[tableName]
	if !exists {
		panic(fmt.Sprintf("table %s does not exist", tableName))
	}

	if reflect.TypeOf(entry) != t.structType {
		panic(fmt.Sprintf("entry type %T does not match table %s",
			entry, tableName))
	}

	t.entries = append(t.entries, entry)

	r.entryCount++
	if r.entryCount >= r.batchSize {
		if err := r.Flush(); err != nil {
			panic(err)
		}
	}
}

// ListTables returns the names of all declared tables.
func (r *recorder) ListTables() []string {
	tables := make([]string, len(r.tableOrder))
	copy(tables, r.tableOrder)

	return tables
}

// Flush writes all buffered rows in one transaction.
func (r *recorder) Flush() error {
	if r.entryCount == 0 {
		return nil
	}

	tx, err := r.Begin()
	if err != nil {
		return err
	}

	for _, tableName := range r.tableOrder {
		if err := r.flushTable(tx, tableName); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	r.entryCount = 0

	return nil
}

func (r *recorder) flushTable(tx *sql.Tx, tableName string) error {
	t := r.tables[tableName]
	if len(t.entries) == 0 {
		return nil
	}

	stmt, err := tx.Prepare(insertSQL(tableName, t.entries[0]))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, entry := range t.entries {
		v := []any{}

		values := reflect.ValueOf(entry)
		for i := 0; i < values.NumField(); i++ {
			v = append(v, values.Field(i).Interface())
		}

		if _, err := stmt.Exec(v...); err != nil {
			return err
		}
	}

	t.entries = nil

	return nil
}

func insertSQL(tableName string, sampleEntry any) string {
	n := structs.Names(sampleEntry)
	for i := range n {
		n[i] = "?"
	}

	return "INSERT INTO " + tableName + " VALUES (" + strings.Join(n, ", ") + ")"
}

func (r *recorder) mustExecute(query string) sql.Result {
	res, err := r.Exec(query)
	if err != nil {
		fmt.Printf("Failed to execute: %s\n", query)
		panic(err)
	}

	return res
}

// Close flushes and, if the recorder owns the connection, closes it.
func (r *recorder) Close() error {
	flushErr := r.Flush()

	if r.ownsDB {
		if err := r.DB.Close(); err != nil && flushErr == nil {
			flushErr = err
		}
	}

	return flushErr
}

var errRecorderClosed = errors.New("task database already closed")
