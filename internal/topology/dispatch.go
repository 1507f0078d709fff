package topology

import (
	"fmt"
	"sync"
)

// job is one callback invocation queued by a Manager operation.
type job struct {
	kind   string // "admin" or "delivery"
	target string
	run    func() error
}

// dispatcher runs queued callbacks in FIFO order outside the Manager lock.
// Only one goroutine drains at a time; a callback that calls back into the
// Manager enqueues its own work and returns, and the active drainer picks it
// up after the current job.
type dispatcher struct {
	mu       sync.Mutex
	queue    []job
	draining bool
	done     func(j job, err error)
}

func (d *dispatcher) push(jobs ...job) {
	d.mu.Lock()
	d.queue = append(d.queue, jobs...)
	d.mu.Unlock()
}

func (d *dispatcher) drain() {
	d.mu.Lock()
	if d.draining {
		d.mu.Unlock()
		return
	}
	d.draining = true

	for len(d.queue) > 0 {
		j := d.queue[0]
		d.queue[0] = job{}
		d.queue = d.queue[1:]
		d.mu.Unlock()

		err := d.call(j)
		if d.done != nil {
			d.done(j, err)
		}

		d.mu.Lock()
	}
	d.queue = nil
	d.draining = false
	d.mu.Unlock()
}

func (d *dispatcher) call(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s callback: %v", j.kind, r)
		}
	}()
	return j.run()
}
