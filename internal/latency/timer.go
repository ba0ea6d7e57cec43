// Package latency measures where time goes in one pipeline or agent round
// trip and renders the result for operators.
package latency

import (
	"sync"
	"time"
)

// Checkpoint names a moment relative to the timer start
type Checkpoint struct {
	Name        string
	Description string
	Elapsed     time.Duration
}

// Timer records named checkpoints. It is safe for concurrent use.
type Timer struct {
	name string
	now  func() time.Time

	mu          sync.Mutex
	start       time.Time
	checkpoints []Checkpoint
	index       map[string]int
}

func NewTimer(name string) *Timer {
	return &Timer{
		name:  name,
		now:   time.Now,
		index: make(map[string]int),
	}
}

// Start resets the timer
func (t *Timer) Start() *Timer {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.start = t.now()
	t.checkpoints = nil
	t.index = make(map[string]int)
	return t
}

// Checkpoint records name at the current elapsed time. Recording a name
// again overwrites its time but keeps its position.
func (t *Timer) Checkpoint(name, description string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.start.IsZero() {
		return 0
	}
	cp := Checkpoint{Name: name, Description: description, Elapsed: t.now().Sub(t.start)}
	if i, ok := t.index[name]; ok {
		t.checkpoints[i] = cp
	} else {
		t.index[name] = len(t.checkpoints)
		t.checkpoints = append(t.checkpoints, cp)
	}
	return cp.Elapsed
}

// Once records name only the first time it is seen
func (t *Timer) Once(name, description string) bool {
	if t.Has(name) {
		return false
	}
	t.Checkpoint(name, description)
	return true
}

func (t *Timer) Has(name string) bool {
	_, ok := t.Get(name)
	return ok
}

func (t *Timer) Get(name string) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i, ok := t.index[name]
	if !ok {
		return 0, false
	}
	return t.checkpoints[i].Elapsed, true
}

// Elapsed returns the time since Start
func (t *Timer) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.start.IsZero() {
		return 0
	}
	return t.now().Sub(t.start)
}

func (t *Timer) Checkpoints() []Checkpoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Checkpoint(nil), t.checkpoints...)
}

// Report snapshots the timer
func (t *Timer) Report() Report {
	return Report{
		Title:       t.name,
		Checkpoints: t.Checkpoints(),
		Total:       t.Elapsed(),
	}
}
