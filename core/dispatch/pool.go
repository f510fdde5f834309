package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/enermesh/telemetrix/core/logger"
	"github.com/enermesh/telemetrix/core/metrics"
)

type job struct {
	topic   string
	payload []byte
}

// Pool runs Dispatch calls on a fixed set of workers behind a bounded
// queue. When the queue is full the newest message is dropped so the
// broker callback never blocks.
type Pool struct {
	dispatcher *Dispatcher
	queue      chan job
	metrics    metrics.Sink
	log        logger.Logger
	grace      time.Duration

	wg      sync.WaitGroup
	closeMu sync.Mutex
	closed  bool
}

// NewPool starts cfg.Workers workers draining the queue until Close.
func NewPool(ctx context.Context, cfg Config, d *Dispatcher, m metrics.Sink, log logger.Logger) *Pool {
	cfg.SetDefaults()
	if m == nil {
		m = metrics.NopSink{}
	}
	p := &Pool{
		dispatcher: d,
		queue:      make(chan job, cfg.QueueSize),
		metrics:    m,
		log:        log,
		grace:      time.Duration(cfg.DrainGraceS) * time.Second,
	}
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	return p
}

// Enqueue hands a message to the pool without blocking. Returns false
// when the queue is full and the message was dropped.
func (p *Pool) Enqueue(topic string, payload []byte) bool {
	// Callbacks hand us a buffer the client may reuse.
	body := make([]byte, len(payload))
	copy(body, payload)

	// The send happens under the same lock Close holds while closing
	// the channel, so it can never hit a closed queue.
	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	if p.closed {
		return false
	}
	select {
	case p.queue <- job{topic: topic, payload: body}:
		p.metrics.SetQueueDepth(len(p.queue))
		return true
	default:
		p.metrics.RecordQueueDrop()
		p.log.Warnf("worker queue full, dropping message on %s", topic)
		return false
	}
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for j := range p.queue {
		p.metrics.SetQueueDepth(len(p.queue))
		if _, err := p.dispatcher.Dispatch(ctx, j.topic, j.payload); err != nil {
			p.log.Errorf("dispatch %s: %v", j.topic, err)
		}
	}
}

// Close stops accepting messages and waits up to the drain grace
// period for in-flight work to finish.
func (p *Pool) Close() {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.closeMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(p.grace):
		p.log.Warnf("worker pool shutdown grace period elapsed with work pending")
	}
}
