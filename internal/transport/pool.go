package transport

import (
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// job is one unit of work handed to the pool: a single inbound UDP
// datagram or TCP read, already copied out of the reader's scratch
// buffer so the worker goroutine owns it exclusively.
type job struct {
	conn    net.PacketConn
	addr    net.Addr
	data    []byte
	arrived time.Time
}

// workerPool is a bounded pool of goroutines that block waiting for
// work on their own channel rather than being spawned per packet,
// following the same shape the teacher names its pool fields after
// (WorkerFunc / MaxWorkersCount / Logger) — idle workers fall out of the
// ready stack and exit after maxIdleWorkerDuration.
type workerPool struct {
	WorkerFunc      func(*job)
	MaxWorkersCount int
	Logger          *zap.Logger

	lock         sync.Mutex
	ready        []*workerChan
	mustStop     bool
	stopCh       chan struct{}
	workersCount int

	once sync.Once
}

type workerChan struct {
	lastUseTime time.Time
	ch          chan *job
}

const maxIdleWorkerDuration = 10 * time.Second

func (wp *workerPool) Start() {
	wp.once.Do(func() {
		wp.stopCh = make(chan struct{})
		stopCh := wp.stopCh
		go func() {
			var scratch []*workerChan
			for {
				wp.cleanIdleWorkers(&scratch)
				select {
				case <-stopCh:
					return
				case <-time.After(maxIdleWorkerDuration):
				}
			}
		}()
	})
}

func (wp *workerPool) Stop() {
	wp.lock.Lock()
	ready := wp.ready
	wp.ready = nil
	wp.mustStop = true
	stopCh := wp.stopCh
	wp.lock.Unlock()

	if stopCh != nil {
		close(stopCh)
	}
	for _, w := range ready {
		close(w.ch)
	}
}

func (wp *workerPool) cleanIdleWorkers(scratch *[]*workerChan) {
	cutoff := time.Now().Add(-maxIdleWorkerDuration)
	wp.lock.Lock()
	ready := wp.ready
	n := len(ready)
	i := 0
	for i < n && ready[i].lastUseTime.Before(cutoff) {
		i++
	}
	*scratch = append((*scratch)[:0], ready[:i]...)
	if i > 0 {
		m := copy(ready, ready[i:])
		wp.ready = ready[:m]
	}
	wp.lock.Unlock()

	for _, w := range *scratch {
		w.ch <- nil
	}
}

// Serve enqueues j with an idle worker, starting a fresh one if none is
// idle and the pool has room. It returns false if the pool is at
// capacity and the caller (the read loop) should back off.
func (wp *workerPool) Serve(j *job) bool {
	w := wp.getWorker()
	if w == nil {
		return false
	}
	w.ch <- j
	return true
}

func (wp *workerPool) getWorker() *workerChan {
	var w *workerChan
	createWorker := false

	wp.lock.Lock()
	if wp.mustStop {
		wp.lock.Unlock()
		return nil
	}
	n := len(wp.ready)
	if n == 0 {
		if wp.workersCount < wp.MaxWorkersCount {
			createWorker = true
			wp.workersCount++
		}
	} else {
		w = wp.ready[n-1]
		wp.ready = wp.ready[:n-1]
	}
	wp.lock.Unlock()

	if w != nil {
		return w
	}
	if !createWorker {
		return nil
	}

	w = &workerChan{ch: make(chan *job, workerChanCap)}
	go wp.workerLoop(w)
	return w
}

// workerChanCap is buffered (not 0) so a worker finishing one job and
// immediately going idle doesn't race the pool handing it a second job
// before it reaches the channel receive in workerLoop.
const workerChanCap = 1

func (wp *workerPool) workerLoop(w *workerChan) {
	for j := range w.ch {
		if j == nil {
			break
		}
		wp.WorkerFunc(j)
		if !wp.release(w) {
			break
		}
	}
	wp.lock.Lock()
	wp.workersCount--
	wp.lock.Unlock()
}

func (wp *workerPool) release(w *workerChan) bool {
	w.lastUseTime = time.Now()
	wp.lock.Lock()
	if wp.mustStop {
		wp.lock.Unlock()
		return false
	}
	wp.ready = append(wp.ready, w)
	wp.lock.Unlock()
	return true
}
