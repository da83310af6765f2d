package worker

import "sync"

// Task is a unit of work run by a pool worker.
type Task func()

// Pool runs submitted tasks on a fixed number of goroutines.
type Pool struct {
	tasks chan Task
	stop  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

// NewPool starts size workers. size < 1 is treated as 1.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		tasks: make(chan Task),
		stop:  make(chan struct{}),
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.work()
	}
	return p
}

func (p *Pool) work() {
	defer p.wg.Done()
	for {
		select {
		case task := <-p.tasks:
			task()
		case <-p.stop:
			return
		}
	}
}

// Submit blocks until a worker takes the task. It returns false when the
// pool has been stopped and the task was not run.
func (p *Pool) Submit(task Task) bool {
	select {
	case <-p.stop:
		return false
	default:
	}
	select {
	case p.tasks <- task:
		return true
	case <-p.stop:
		return false
	}
}

// Stop waits for running tasks to finish. Safe to call more than once.
func (p *Pool) Stop() {
	p.once.Do(func() { close(p.stop) })
	p.wg.Wait()
}
