package taskmodel

import "fmt"

// A SourceLocation identifies where a lifecycle event occurred in the traced
// program.
type SourceLocation struct {
	File string `json:"file"`
	Func string `json:"func"`
	Line int    `json:"line"`
}

// UnknownLocation is the sentinel used when an event carries no source
// information.
var UnknownLocation = SourceLocation{File: "?", Func: "?", Line: 0}

func (l SourceLocation) String() string {
	return fmt.Sprintf("%s:%d in %s", l.File, l.Line, l.Func)
}

// IsUnknown tells if the location is the unknown sentinel.
func (l SourceLocation) IsUnknown() bool {
	return l == UnknownLocation || l == SourceLocation{}
}
