package progress

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/viant/overseer/model/task"
)

func TestProgress_Update(t *testing.T) {
	p := New()
	var last Progress
	p.OnChange(func(snapshot Progress) { last = snapshot })

	p.Update(Delta{To: task.StatusInbox})
	p.Update(Delta{To: task.StatusInbox})
	p.Update(Delta{From: task.StatusInbox, To: task.StatusNeedsAction})

	assert.Equal(t, 2, p.Created)
	assert.Equal(t, 1, p.Count(task.StatusInbox))
	assert.Equal(t, 1, p.Count(task.StatusNeedsAction))
	assert.Equal(t, 1, last.Counts[task.StatusNeedsAction])

	last.Counts[task.StatusInbox] = 99
	assert.Equal(t, 1, p.Count(task.StatusInbox), "snapshots are copies")
}

func TestProgress_Concurrent(t *testing.T) {
	p := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Update(Delta{To: task.StatusInbox})
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, p.Snapshot().Counts[task.StatusInbox])
}

func TestProgress_Reset(t *testing.T) {
	p := New()
	p.Update(Delta{To: task.StatusInbox})
	p.Reset(map[task.Status]int{task.StatusDone: 3, task.StatusFailed: 1})
	assert.Equal(t, 4, p.Created)
	assert.Equal(t, 0, p.Count(task.StatusInbox))
	assert.Equal(t, 3, p.Count(task.StatusDone))
}
