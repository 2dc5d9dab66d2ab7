package bot

import (
	"hash/fnv"
	"log"
	"runtime/debug"
	"sync"
)

// Dispatcher runs gateway events on a fixed set of lanes. Events with the
// same key always land on the same lane and run in arrival order; different
// keys may run concurrently. Dispatch never blocks the gateway goroutine.
type Dispatcher struct {
	lanes []*lane
	wg    sync.WaitGroup
}

// lane is an unbounded FIFO drained by one worker.
type lane struct {
	mu      sync.Mutex
	cond    *sync.Cond
	jobs    []func()
	stopped bool
}

func NewDispatcher(workers int) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}

	d := &Dispatcher{lanes: make([]*lane, workers)}
	for i := range d.lanes {
		l := &lane{}
		l.cond = sync.NewCond(&l.mu)
		d.lanes[i] = l
		d.wg.Add(1)
		go d.worker(i, l)
	}
	return d
}

func (d *Dispatcher) worker(id int, l *lane) {
	defer d.wg.Done()
	for {
		l.mu.Lock()
		for len(l.jobs) == 0 && !l.stopped {
			l.cond.Wait()
		}
		if len(l.jobs) == 0 {
			l.mu.Unlock()
			return
		}
		job := l.jobs[0]
		l.jobs[0] = nil
		l.jobs = l.jobs[1:]
		l.mu.Unlock()

		d.run(id, job)
	}
}

func (d *Dispatcher) run(id int, job func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic in dispatch lane %d: %v\n%s", id, r, debug.Stack())
		}
	}()
	job()
}

// Dispatch queues job on the lane for key and returns immediately. It
// reports false once the dispatcher is stopped.
func (d *Dispatcher) Dispatch(key string, job func()) bool {
	l := d.lanes[d.lane(key)]
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return false
	}
	l.jobs = append(l.jobs, job)
	l.cond.Signal()
	return true
}

func (d *Dispatcher) lane(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(d.lanes)))
}

// Stop rejects new jobs, lets queued jobs finish and waits for the workers.
func (d *Dispatcher) Stop() {
	for _, l := range d.lanes {
		l.mu.Lock()
		l.stopped = true
		l.cond.Broadcast()
		l.mu.Unlock()
	}
	d.wg.Wait()
}
