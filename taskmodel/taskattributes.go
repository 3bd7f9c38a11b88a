package taskmodel

// TaskAttributes are the invariant attributes of a task, fixed when the task
// is created.
type TaskAttributes struct {
	Label          string
	CreateLocation SourceLocation
	StartLocation  SourceLocation
	EndLocation    SourceLocation
}

// A Task is one row of the reconstructed task table.
type Task struct {
	ID       TaskID
	Parent   TaskID
	Children int
	CreateTS Timestamp
	StartTS  Timestamp
	EndTS    Timestamp
	Attr     TaskAttributes
}
