package batch

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/batchforge/batchengine/store"
)

// Phase is a Batch Status lifecycle phase.
type Phase string

const (
	PhaseNotStarted Phase = "NOT_STARTED"
	PhaseInjecting  Phase = "INJECTING"
	PhaseDraining   Phase = "DRAINING"
	PhaseFinishedOK Phase = "FINISHED_OK"
	PhaseFinished   Phase = "FINISHED_ERR"
)

// Status is the in-memory, durably-checkpointed run metadata a Batch Job
// owns for its lifetime. All counter mutation goes through its methods so
// that every persisted snapshot is written by a single atomic multi-key
// write (spec §4.5).
type Status struct {
	mu sync.Mutex

	Name          string
	ExecType      store.ExecType
	Phase         Phase
	LoadedRecords int
	FailedRecords int
	LastLoadedID  string
	StartTime     time.Time
	EndTime       time.Time

	// RunDir is the run directory this status was checkpointed under,
	// so a caller of Run/Retry can locate it (e.g. to pass as priorRunDir
	// to a later Retry) without re-deriving it.
	RunDir string
}

// NewStatus returns a fresh NOT_STARTED status for name/execType.
func NewStatus(name string, execType store.ExecType) *Status {
	return &Status{Name: name, ExecType: execType, Phase: PhaseNotStarted}
}

// Start transitions to the given phase and stamps the start time.
func (s *Status) Start(phase Phase, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Phase = phase
	s.StartTime = now
}

// SetPhase transitions the status to a new phase.
func (s *Status) SetPhase(phase Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Phase = phase
}

// RecordLoaded increments the loaded-record counter and updates the
// last-loaded-id pointer.
func (s *Status) RecordLoaded(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LoadedRecords++
	s.LastLoadedID = id
}

// RecordLoadedN increments the loaded-record counter by n, used by retry
// which injects whole SER snapshots at once.
func (s *Status) RecordLoadedN(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LoadedRecords += n
}

// RecordFailed increments the failed-record counter by n.
func (s *Status) RecordFailed(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FailedRecords += n
}

// Finish sets the terminal phase based on whether any record failed, and
// stamps the end time.
func (s *Status) Finish(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.EndTime = now
	if s.FailedRecords == 0 {
		s.Phase = PhaseFinishedOK
	} else {
		s.Phase = PhaseFinished
	}
}

// CurrentPhase returns the current phase under lock.
func (s *Status) CurrentPhase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Phase
}

// Failed reports whether the run has finished with any failed records.
func (s *Status) Failed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FailedRecords > 0
}

// Persist writes every field as a single atomic multi-key status write.
func (s *Status) Persist(ctx context.Context, pc *store.Context) error {
	s.mu.Lock()
	kvs := map[string][]byte{
		"name":           []byte(s.Name),
		"exec_type":      []byte(s.ExecType),
		"phase":          []byte(s.Phase),
		"loaded_records": []byte(strconv.Itoa(s.LoadedRecords)),
		"failed_records": []byte(strconv.Itoa(s.FailedRecords)),
		"last_loaded_id": []byte(s.LastLoadedID),
		"start_time":     []byte(formatTime(s.StartTime)),
		"end_time":       []byte(formatTime(s.EndTime)),
	}
	s.mu.Unlock()

	if err := pc.PutManyStatus(ctx, kvs); err != nil {
		return PersistenceError("put_many_status", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
