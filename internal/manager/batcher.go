package manager

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"tensord/internal/backend"
)

// batcher queues a model's requests and forms batches for idle instances.
// With max_batch_size > 0 requests are merged until their rows reach it, the
// queue runs dry (no delay configured) or max_queue_delay expires. A request
// that would overflow the batch starts the next one. Without batching every
// request runs alone.
type batcher struct {
	model    string
	maxBatch int
	delay    time.Duration
	queue    chan *hostRequest
	idle     chan *worker
	quit     chan struct{}
	done     chan struct{}
	inflight sync.WaitGroup
	// mu orders admissions against stop: once stopped is set no request
	// enters the queue.
	mu          sync.RWMutex
	stopped     bool
	outstanding atomic.Int64
	onBatch     func(w *worker, batch []*hostRequest, err error)
	log         zerolog.Logger
}

func newBatcher(model string, cfg backend.ModelConfig, workers []*worker, depth int, onBatch func(*worker, []*hostRequest, error), log zerolog.Logger) *batcher {
	b := &batcher{
		model:    model,
		maxBatch: cfg.MaxBatchSize,
		queue:    make(chan *hostRequest, depth),
		idle:     make(chan *worker, len(workers)),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		onBatch:  onBatch,
		log:      log.With().Str("model", model).Logger(),
	}
	if cfg.DynamicBatching != nil && cfg.DynamicBatching.MaxQueueDelayMicroseconds > 0 {
		b.delay = time.Duration(cfg.DynamicBatching.MaxQueueDelayMicroseconds) * time.Microsecond
	}
	for _, w := range workers {
		b.idle <- w
	}
	go b.run()
	return b
}

// pending counts admitted requests that have not received a result.
func (b *batcher) pending() int64 { return b.outstanding.Load() }

func (b *batcher) queueLen() int { return len(b.queue) }

func (b *batcher) run() {
	defer close(b.done)
	var carry *hostRequest
	for {
		first := carry
		carry = nil
		for first == nil {
			select {
			case r := <-b.queue:
				if b.take(r) {
					first = r
				}
			case <-b.quit:
				return
			}
		}
		var batch []*hostRequest
		batch, carry = b.collect(first)

		var w *worker
		select {
		case w = <-b.idle:
		case <-b.quit:
			b.fail(batch)
			if carry != nil {
				b.fail([]*hostRequest{carry})
			}
			return
		}
		b.inflight.Add(1)
		go b.execute(w, batch)
	}
}

// take drops requests whose caller already gave up.
func (b *batcher) take(r *hostRequest) bool {
	if r.abandoned() {
		r.finish(hostResult{err: r.ctx.Err()})
		return false
	}
	return true
}

func (b *batcher) collect(first *hostRequest) (batch []*hostRequest, carry *hostRequest) {
	batch = []*hostRequest{first}
	if b.maxBatch == 0 {
		return batch, nil
	}
	rows := first.rows
	var timeout <-chan time.Time
	if b.delay > 0 {
		t := time.NewTimer(b.delay)
		defer t.Stop()
		timeout = t.C
	}
	for rows < b.maxBatch {
		var r *hostRequest
		if timeout == nil {
			select {
			case r = <-b.queue:
			default:
				return batch, nil
			}
		} else {
			select {
			case r = <-b.queue:
			case <-timeout:
				return batch, nil
			case <-b.quit:
				return batch, nil
			}
		}
		if !b.take(r) {
			continue
		}
		if rows+r.rows > b.maxBatch {
			return batch, r
		}
		batch = append(batch, r)
		rows += r.rows
	}
	return batch, nil
}

func (b *batcher) execute(w *worker, batch []*hostRequest) {
	defer b.inflight.Done()
	reqs := make([]backend.Request, len(batch))
	for i, r := range batch {
		reqs[i] = r
	}
	w.busy.Store(true)
	err := w.inst.Execute(reqs)
	w.busy.Store(false)
	w.executions.Add(1)
	w.lastPad.Store(int64(w.inst.Pad()))
	if b.onBatch != nil {
		b.onBatch(w, batch, err)
	}
	b.idle <- w
}

func (b *batcher) fail(batch []*hostRequest) {
	err := ErrDependencyUnavailable("model " + b.model + " is unloading")
	for _, r := range batch {
		r.finish(hostResult{err: err})
	}
}

// stop rejects new admissions, waits for running executions and fails
// whatever is still queued.
func (b *batcher) stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	b.mu.Unlock()
	close(b.quit)
	<-b.done
	b.inflight.Wait()
	for {
		select {
		case r := <-b.queue:
			b.fail([]*hostRequest{r})
		default:
			return
		}
	}
}
