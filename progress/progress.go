package progress

import (
	"sync"
	"time"

	"github.com/viant/overseer/model/task"
)

// Delta represents one lifecycle movement. An empty From means the task was
// just created.
type Delta struct {
	From task.Status
	To   task.Status
}

// Progress keeps aggregated task counters. It is safe for concurrent use.
type Progress struct {
	StartedAt time.Time
	Created   int
	Counts    map[task.Status]int

	sync.Mutex
	onChange func(Progress)
}

// Update applies the supplied delta to the tracker. The onChange callback is
// invoked with a copy outside the critical section.
func (p *Progress) Update(d Delta) {
	if p == nil {
		return
	}

	p.Lock()
	if p.Counts == nil {
		p.Counts = map[task.Status]int{}
	}
	if d.From == "" {
		p.Created++
	} else if p.Counts[d.From] > 0 {
		p.Counts[d.From]--
	}
	if d.To != "" {
		p.Counts[d.To]++
	}
	snapshot := p.copyLocked()
	cb := p.onChange
	p.Unlock()

	if cb != nil {
		cb(snapshot)
	}
}

// Reset replaces all counters, used after loading tasks from storage.
func (p *Progress) Reset(counts map[task.Status]int) {
	if p == nil {
		return
	}
	p.Lock()
	p.Counts = map[task.Status]int{}
	p.Created = 0
	for status, n := range counts {
		p.Counts[status] = n
		p.Created += n
	}
	p.Unlock()
}

// Snapshot returns a copy of the tracker suitable for read-only inspection.
func (p *Progress) Snapshot() Progress {
	if p == nil {
		return Progress{}
	}
	p.Lock()
	defer p.Unlock()
	return p.copyLocked()
}

// Count returns the current counter of one state.
func (p *Progress) Count(status task.Status) int {
	if p == nil {
		return 0
	}
	p.Lock()
	defer p.Unlock()
	return p.Counts[status]
}

// OnChange registers a callback that is invoked after every Update. Only one
// callback can be active.
func (p *Progress) OnChange(cb func(Progress)) {
	if p == nil {
		return
	}
	p.Lock()
	p.onChange = cb
	p.Unlock()
}

func (p *Progress) copyLocked() Progress {
	counts := make(map[task.Status]int, len(p.Counts))
	for k, v := range p.Counts {
		counts[k] = v
	}
	return Progress{StartedAt: p.StartedAt, Created: p.Created, Counts: counts}
}

// New creates an empty tracker.
func New() *Progress {
	return &Progress{StartedAt: time.Now(), Counts: map[task.Status]int{}}
}
