package models

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Run status values.
const (
	StatusRunning     = "running"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
	StatusInterrupted = "interrupted"
)

// Run is the live state of one migration: its log and running tallies.
// The migration writes to it; the status server reads snapshots.
type Run struct {
	ID         string
	DryRun     bool
	StartedAt  time.Time
	mu         sync.Mutex
	status     string
	finishedAt *time.Time
	err        string
	output     []string
	entities   map[Kind]*EntitySummary
}

// NewRun creates a running Run with a fresh UUID.
func NewRun(dryRun bool) *Run {
	return &Run{
		ID:        uuid.New().String(),
		DryRun:    dryRun,
		StartedAt: time.Now(),
		status:    StatusRunning,
		output:    []string{},
		entities:  make(map[Kind]*EntitySummary),
	}
}

// Write appends encoded log output, one line per entry, so a Run can mirror
// a logger.
func (r *Run) Write(p []byte) (int, error) {
	text := strings.TrimRight(string(p), "\n")
	if text == "" {
		return len(p), nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.output = append(r.output, strings.Split(text, "\n")...)
	return len(p), nil
}

// LogsSince returns log lines starting from the given index.
func (r *Run) LogsSince(offset int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if offset >= len(r.output) {
		return nil
	}
	lines := make([]string, len(r.output)-offset)
	copy(lines, r.output[offset:])
	return lines
}

// Begin registers an entity type so it appears in summaries even when it
// produces no records.
func (r *Run) Begin(k Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entity(k)
}

// Counts are the running tallies for one kind.
type Counts struct {
	Processed int
	Created   int
	Skipped   int
	Failed    int
}

// Record folds one result into the tallies and returns the updated counts
// for its kind.
func (r *Run) Record(res Result) Counts {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.entity(res.Kind)
	s.Add(res)
	return Counts{Processed: s.Processed, Created: s.Created, Skipped: s.Skipped, Failed: s.Failed}
}

// SetEntityError marks an entity type whose listing stopped early.
func (r *Run) SetEntityError(k Kind, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entity(k).Error = err.Error()
}

func (r *Run) entity(k Kind) *EntitySummary {
	s, ok := r.entities[k]
	if !ok {
		s = &EntitySummary{Kind: k}
		r.entities[k] = s
	}
	return s
}

// Complete marks the run as completed.
func (r *Run) Complete() {
	r.finish(StatusCompleted, "")
}

// Fail marks the run as failed with an error message.
func (r *Run) Fail(err string) {
	r.finish(StatusFailed, err)
}

// Interrupt marks the run as stopped by the operator.
func (r *Run) Interrupt() {
	r.finish(StatusInterrupted, "interrupted")
}

func (r *Run) finish(status, err string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = status
	r.err = err
	now := time.Now()
	r.finishedAt = &now
}

// Status returns the current run status.
func (r *Run) Status() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Done reports whether the run has finished, successfully or not.
func (r *Run) Done() bool {
	return r.Status() != StatusRunning
}

// Summary returns a copy of the tallies in run order.
func (r *Run) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Summary{
		RunID:       r.ID,
		DryRun:      r.DryRun,
		Interrupted: r.status == StatusInterrupted,
		Entities:    make([]EntitySummary, 0, len(r.entities)),
	}
	if r.status == StatusFailed {
		s.Error = r.err
	}
	for _, k := range Kinds {
		if e, ok := r.entities[k]; ok {
			s.Entities = append(s.Entities, copySummary(e))
		}
	}
	return s
}

// RunSnapshot is the JSON view served by the status API.
type RunSnapshot struct {
	ID         string     `json:"id"`
	Status     string     `json:"status"`
	DryRun     bool       `json:"dry_run"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
	LogLines   int        `json:"log_lines"`
	Summary    Summary    `json:"summary"`
}

// Snapshot returns a consistent copy of the run for serialization.
func (r *Run) Snapshot() RunSnapshot {
	summary := r.Summary()
	r.mu.Lock()
	defer r.mu.Unlock()
	return RunSnapshot{
		ID:         r.ID,
		Status:     r.status,
		DryRun:     r.DryRun,
		StartedAt:  r.StartedAt,
		FinishedAt: r.finishedAt,
		Error:      r.err,
		LogLines:   len(r.output),
		Summary:    summary,
	}
}

func copySummary(s *EntitySummary) EntitySummary {
	out := *s
	if s.SkipReasons != nil {
		out.SkipReasons = make(map[string]int, len(s.SkipReasons))
		for k, v := range s.SkipReasons {
			out.SkipReasons[k] = v
		}
	}
	out.Failures = append([]Result(nil), s.Failures...)
	return out
}
