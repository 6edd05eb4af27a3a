package jobs

import (
	"sync"
)

// DefaultMaxJobs is the table capacity used when none is configured.
const DefaultMaxJobs = 64

type State int

const (
	Running State = iota
	Stopped
	Done
)

func (s State) String() string {
	switch s {
	case Running:
		return "Running"
	case Stopped:
		return "Stopped"
	case Done:
		return "Done"
	default:
		return "Unknown"
	}
}

// Job is a tracked process group.
type Job struct {
	ID      int
	PGID    int
	Command string
	State   State
}

// Table holds the jobs of one interpreter session in insertion order.
//
// It is shared by the main loop and the reaper goroutine; every method takes
// the table lock, so callers only ever see whole records.
type Table struct {
	mu     sync.Mutex
	jobs   []*Job
	nextID int
	max    int
}

func NewTable(max int) *Table {
	if max <= 0 {
		max = DefaultMaxJobs
	}
	return &Table{nextID: 1, max: max}
}

// Create registers a process group and returns its job id.
//
// A full table refuses the job and reports ok == false. If a live job already
// owns pgid, that job is reused.
func (t *Table) Create(pgid int, command string, state State) (id int, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if job := t.liveByGroup(pgid); job != nil {
		job.State = state
		return job.ID, true
	}

	if len(t.jobs) >= t.max {
		return 0, false
	}

	job := &Job{
		ID:      t.nextID,
		PGID:    pgid,
		Command: command,
		State:   state,
	}
	t.jobs = append(t.jobs, job)
	t.nextID++
	return job.ID, true
}

func (t *Table) FindByID(id int) (Job, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if job := t.byID(id); job != nil {
		return *job, true
	}
	return Job{}, false
}

// FindByGroup looks a job up by process group, preferring live jobs over
// finished ones that happen to carry a recycled group id.
func (t *Table) FindByGroup(pgid int) (Job, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if job := t.liveByGroup(pgid); job != nil {
		return *job, true
	}
	for _, job := range t.jobs {
		if job.PGID == pgid {
			return *job, true
		}
	}
	return Job{}, false
}

// SetState moves a job to state. Done jobs never change again.
func (t *Table) SetState(id int, state State) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return transition(t.byID(id), state)
}

func (t *Table) SetStateByGroup(pgid int, state State) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return transition(t.liveByGroup(pgid), state)
}

// Compact drops every Done job and returns the dropped ones. Survivors keep
// their order and ids.
func (t *Table) Compact() []Job {
	t.mu.Lock()
	defer t.mu.Unlock()

	var removed []Job
	kept := t.jobs[:0]
	for _, job := range t.jobs {
		if job.State == Done {
			removed = append(removed, *job)
			continue
		}
		kept = append(kept, job)
	}
	for i := len(kept); i < len(t.jobs); i++ {
		t.jobs[i] = nil
	}
	t.jobs = kept
	return removed
}

// List returns a copy of all jobs in insertion order.
func (t *Table) List() []Job {
	t.mu.Lock()
	defer t.mu.Unlock()

	result := make([]Job, len(t.jobs))
	for i, job := range t.jobs {
		result[i] = *job
	}
	return result
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.jobs)
}

func (t *Table) byID(id int) *Job {
	for _, job := range t.jobs {
		if job.ID == id {
			return job
		}
	}
	return nil
}

func (t *Table) liveByGroup(pgid int) *Job {
	for _, job := range t.jobs {
		if job.PGID == pgid && job.State != Done {
			return job
		}
	}
	return nil
}

func transition(job *Job, state State) bool {
	if job == nil {
		return false
	}
	if job.State == Done {
		return state == Done
	}
	job.State = state
	return true
}
