// Package traceio reads and writes trace files. A trace file is JSON Lines:
// the first line is a header declaring the event model that produced the
// trace, and every following line is one event in global arrival order.
package traceio

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sarchlab/tracesim/eventmodel"
	"github.com/sarchlab/tracesim/extraction"
	"github.com/sarchlab/tracesim/taskmodel"
)

// The trace file format identifier and the newest version this package
// understands.
const (
	FormatName    = "tracesim-events"
	FormatVersion = 1
)

// ErrBadHeader reports a trace file whose first line is not a valid header.
var ErrBadHeader = errors.New("invalid trace header")

// ErrBadEvent reports a trace line that cannot be decoded into an event.
var ErrBadEvent = errors.New("invalid trace event")

type header struct {
	Format     string `json:"format"`
	Version    int    `json:"version"`
	EventModel string `json:"event_model"`
}

type eventLine struct {
	LocationRef  int            `json:"location_ref"`
	LocationName string         `json:"location_name,omitempty"`
	Event        string         `json:"event"`
	Region       string         `json:"region,omitempty"`
	Time         int64          `json:"time"`
	Attr         map[string]any `json:"attr,omitempty"`
}

// A Source streams the events of one trace file in file order, maintaining
// the per-location monotonic event counts. It implements the extraction
// driver's event source interface.
type Source struct {
	file    *os.File
	scanner *bufio.Scanner

	model  eventmodel.Model
	line   int
	counts map[int]uint64
	names  map[int]string
}

// Open opens a trace file and parses its header.
func Open(path string) (*Source, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	src := &Source{
		file:    file,
		scanner: scanner,
		counts:  make(map[int]uint64),
		names:   make(map[int]string),
	}

	if err := src.readHeader(); err != nil {
		_ = file.Close()
		return nil, err
	}

	return src, nil
}

func (s *Source) readHeader() error {
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return err
		}

		return fmt.Errorf("%w: empty file", ErrBadHeader)
	}

	s.line++

	var h header
	if err := json.Unmarshal(s.scanner.Bytes(), &h); err != nil {
		return fmt.Errorf("%w: %v", ErrBadHeader, err)
	}

	if h.Format != FormatName {
		return fmt.Errorf("%w: format %q", ErrBadHeader, h.Format)
	}

	if h.Version > FormatVersion {
		return fmt.Errorf("%w: version %d is newer than supported %d",
			ErrBadHeader, h.Version, FormatVersion)
	}

	if _, err := eventmodel.New(eventmodel.Model(h.EventModel)); err != nil {
		return fmt.Errorf("%w: %v", ErrBadHeader, err)
	}

	s.model = eventmodel.Model(h.EventModel)

	return nil
}

// Model returns the event model the trace declares in its header.
func (s *Source) Model() eventmodel.Model {
	return s.model
}

// Next returns the next event of the stream. ok is false at end of file.
func (s *Source) Next() (extraction.StreamItem, bool, error) {
	for s.scanner.Scan() {
		s.line++

		raw := s.scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		item, err := s.decodeLine(raw)
		if err != nil {
			return extraction.StreamItem{}, false, err
		}

		return item, true, nil
	}

	if err := s.scanner.Err(); err != nil {
		return extraction.StreamItem{}, false, err
	}

	return extraction.StreamItem{}, false, nil
}

func (s *Source) decodeLine(raw []byte) (extraction.StreamItem, error) {
	var line eventLine
	if err := json.Unmarshal(raw, &line); err != nil {
		return extraction.StreamItem{},
			fmt.Errorf("%w: line %d: %v", ErrBadEvent, s.line, err)
	}

	kind, ok := eventmodel.EventKindFromName(line.Event)
	if !ok {
		return extraction.StreamItem{},
			fmt.Errorf("%w: line %d: unknown event %q",
				ErrBadEvent, s.line, line.Event)
	}

	attrs := make(map[eventmodel.Attr]any, len(line.Attr))
	for name, value := range line.Attr {
		attrs[eventmodel.Attr(name)] = value
	}

	if line.LocationName != "" {
		s.names[line.LocationRef] = line.LocationName
	}

	s.counts[line.LocationRef]++

	return extraction.StreamItem{
		Location: eventmodel.Location{
			Ref:  line.LocationRef,
			Name: s.names[line.LocationRef],
		},
		LocationCount: s.counts[line.LocationRef],
		Event: eventmodel.NewEvent(
			kind,
			eventmodel.RegionKindFromName(line.Region),
			taskmodel.Timestamp(line.Time),
			attrs,
		),
	}, nil
}

// Close closes the underlying file.
func (s *Source) Close() error {
	return s.file.Close()
}

// A Writer emits a trace file in the format Source reads.
type Writer struct {
	out io.Writer
	enc *json.Encoder
}

// NewWriter creates a writer that declares the given event model in the
// header it writes immediately.
func NewWriter(out io.Writer, model eventmodel.Model) (*Writer, error) {
	if _, err := eventmodel.New(model); err != nil {
		return nil, err
	}

	w := &Writer{out: out, enc: json.NewEncoder(out)}

	err := w.enc.Encode(header{
		Format:     FormatName,
		Version:    FormatVersion,
		EventModel: string(model),
	})
	if err != nil {
		return nil, err
	}

	return w, nil
}

// WriteEvent appends one event line.
func (w *Writer) WriteEvent(
	locationRef int,
	locationName string,
	kind eventmodel.EventKind,
	region eventmodel.RegionKind,
	time taskmodel.Timestamp,
	attr map[string]any,
) error {
	line := eventLine{
		LocationRef:  locationRef,
		LocationName: locationName,
		Event:        kind.String(),
		Time:         int64(time),
		Attr:         attr,
	}

	if region != eventmodel.RegionNone {
		line.Region = region.String()
	}

	return w.enc.Encode(line)
}
