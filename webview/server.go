// Package webview serves a read-only web view over a task database. It
// exposes the task hierarchy, the reconstructed scheduling states, and the
// simulation results over a JSON API, plus resource and profiling endpoints
// for inspecting the server process itself.
package webview

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"time"

	// Enable profiling
	_ "net/http/pprof"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/shirou/gopsutil/process"

	"github.com/sarchlab/tracesim/taskdb"
	"github.com/sarchlab/tracesim/taskmodel"
)

// A Server serves one task database over HTTP.
type Server struct {
	reader *taskdb.Reader

	portNumber  int
	openBrowser bool
}

// NewServer creates a server over an open task database reader.
func NewServer(reader *taskdb.Reader) *Server {
	if reader == nil {
		panic("reader must not be nil")
	}

	return &Server{reader: reader}
}

// WithPortNumber sets the port to listen on. Port 0 picks a random port.
func (s *Server) WithPortNumber(portNumber int) *Server {
	if portNumber != 0 && portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the web view server, "+
				"which is not allowed. Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	s.portNumber = portNumber

	return s
}

// WithBrowser makes StartServer open the served page in the default browser.
func (s *Server) WithBrowser() *Server {
	s.openBrowser = true

	return s
}

// StartServer starts serving in a background goroutine and returns the URL
// the server listens on.
func (s *Server) StartServer() string {
	r := mux.NewRouter()

	r.HandleFunc("/api/summary", s.summary)
	r.HandleFunc("/api/tasks/{id}", s.task)
	r.HandleFunc("/api/tasks/{id}/children", s.taskChildren)
	r.HandleFunc("/api/tasks/{id}/states", s.taskStates)
	r.HandleFunc("/api/simulations", s.simulations)
	r.HandleFunc("/api/simulations/{id}/history", s.simHistory)
	r.HandleFunc("/api/simulations/{id}/critical", s.simCritical)
	r.HandleFunc("/api/resource", s.listResources)
	r.HandleFunc("/api/profile", s.collectProfile)
	http.Handle("/", r)

	actualPort := ":0"
	if s.portNumber >= 1000 {
		actualPort = ":" + strconv.Itoa(s.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)
	fmt.Fprintf(os.Stderr, "Serving task database at %s\n", url)

	go func() {
		err = http.Serve(listener, nil)
		dieOnErr(err)
	}()

	if s.openBrowser {
		if err := browser.OpenURL(url); err != nil {
			fmt.Fprintf(os.Stderr, "Cannot open browser: %v\n", err)
		}
	}

	return url
}

type summaryRsp struct {
	Path        string             `json:"path"`
	Tasks       int                `json:"tasks"`
	Simulations int                `json:"simulations"`
	Tables      []taskdb.TableCount `json:"tables"`
}

func (s *Server) summary(w http.ResponseWriter, _ *http.Request) {
	tasks, err := s.reader.CountTasks()
	if s.fail(w, err) {
		return
	}

	sims, err := s.reader.CountSimulations()
	if s.fail(w, err) {
		return
	}

	tables, err := s.reader.CountRows()
	if s.fail(w, err) {
		return
	}

	s.writeJSON(w, summaryRsp{
		Path:        s.reader.Path(),
		Tasks:       tasks,
		Simulations: sims,
		Tables:      tables,
	})
}

func (s *Server) task(w http.ResponseWriter, r *http.Request) {
	id, ok := s.taskIDOr404(w, r)
	if !ok {
		return
	}

	task, err := s.reader.Task(id)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, "Task not found: %v", err)
		return
	}

	s.writeJSON(w, taskRsp{
		ID:             task.ID,
		Parent:         parentOrNil(task.Parent),
		Children:       task.Children,
		CreateTS:       task.CreateTS,
		StartTS:        task.StartTS,
		EndTS:          task.EndTS,
		Label:          task.Attr.Label,
		CreateLocation: task.Attr.CreateLocation.String(),
		StartLocation:  task.Attr.StartLocation.String(),
		EndLocation:    task.Attr.EndLocation.String(),
	})
}

type taskRsp struct {
	ID             taskmodel.TaskID    `json:"id"`
	Parent         *taskmodel.TaskID   `json:"parent"`
	Children       int                 `json:"children"`
	CreateTS       taskmodel.Timestamp `json:"create_ts"`
	StartTS        taskmodel.Timestamp `json:"start_ts"`
	EndTS          taskmodel.Timestamp `json:"end_ts"`
	Label          string              `json:"label"`
	CreateLocation string              `json:"create_location"`
	StartLocation  string              `json:"start_location"`
	EndLocation    string              `json:"end_location"`
}

func parentOrNil(parent taskmodel.TaskID) *taskmodel.TaskID {
	if parent == taskmodel.NullTaskID {
		return nil
	}

	return &parent
}

func (s *Server) taskChildren(w http.ResponseWriter, r *http.Request) {
	id, ok := s.taskIDOr404(w, r)
	if !ok {
		return
	}

	children, err := s.reader.ChildrenOf(id)
	if s.fail(w, err) {
		return
	}

	if children == nil {
		children = []taskmodel.TaskID{}
	}

	s.writeJSON(w, children)
}

type stateRsp struct {
	ActionStart   string              `json:"action_start"`
	ActionEnd     string              `json:"action_end"`
	StartTS       taskmodel.Timestamp `json:"start_ts"`
	EndTS         taskmodel.Timestamp `json:"end_ts"`
	StartLocation string              `json:"start_location"`
	EndLocation   string              `json:"end_location"`
	Active        bool                `json:"active"`
}

func (s *Server) taskStates(w http.ResponseWriter, r *http.Request) {
	id, ok := s.taskIDOr404(w, r)
	if !ok {
		return
	}

	states, err := s.reader.SchedulingStates(id)
	if s.fail(w, err) {
		return
	}

	rsp := make([]stateRsp, 0, len(states))
	for _, state := range states {
		rsp = append(rsp, stateRsp{
			ActionStart:   state.ActionStart.String(),
			ActionEnd:     state.ActionEnd.String(),
			StartTS:       state.StartTS,
			EndTS:         state.EndTS,
			StartLocation: state.StartLocation.String(),
			EndLocation:   state.EndLocation.String(),
			Active:        state.IsActive(),
		})
	}

	s.writeJSON(w, rsp)
}

func (s *Server) simulations(w http.ResponseWriter, _ *http.Request) {
	sims, err := s.reader.Simulations()
	if s.fail(w, err) {
		return
	}

	if sims == nil {
		sims = []taskdb.SimulationInfo{}
	}

	s.writeJSON(w, sims)
}

func (s *Server) simHistory(w http.ResponseWriter, r *http.Request) {
	simID, ok := s.intVarOr404(w, r, "id")
	if !ok {
		return
	}

	records, err := s.reader.SimHistory(simID)
	if s.fail(w, err) {
		return
	}

	s.writeJSON(w, records)
}

func (s *Server) simCritical(w http.ResponseWriter, r *http.Request) {
	simID, ok := s.intVarOr404(w, r, "id")
	if !ok {
		return
	}

	records, err := s.reader.CriticalTasks(simID)
	if s.fail(w, err) {
		return
	}

	s.writeJSON(w, records)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (s *Server) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	proc, err := process.NewProcess(int32(pid))
	if s.fail(w, err) {
		return
	}

	cpuPercent, err := proc.CPUPercent()
	if s.fail(w, err) {
		return
	}

	memoryInfo, err := proc.MemoryInfo()
	if s.fail(w, err) {
		return
	}

	s.writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memoryInfo.RSS,
	})
}

func (s *Server) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	if s.fail(w, err) {
		return
	}

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	if s.fail(w, err) {
		return
	}

	s.writeJSON(w, prof)
}

func (s *Server) taskIDOr404(
	w http.ResponseWriter,
	r *http.Request,
) (taskmodel.TaskID, bool) {
	idString := mux.Vars(r)["id"]

	id, err := strconv.ParseUint(idString, 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, "Invalid task id %q", idString)
		return 0, false
	}

	return taskmodel.TaskID(id), true
}

func (s *Server) intVarOr404(
	w http.ResponseWriter,
	r *http.Request,
	name string,
) (int, bool) {
	v, err := strconv.Atoi(mux.Vars(r)[name])
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, "Invalid %s %q", name, mux.Vars(r)[name])
		return 0, false
	}

	return v, true
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")

	data, err := json.Marshal(v)
	dieOnErr(err)

	_, err = w.Write(data)
	dieOnErr(err)
}

func (s *Server) fail(w http.ResponseWriter, err error) bool {
	if err == nil {
		return false
	}

	w.WriteHeader(http.StatusInternalServerError)
	fmt.Fprintf(w, "Error: %v", err)

	return true
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
