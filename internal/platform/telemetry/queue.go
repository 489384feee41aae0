package telemetry

import (
	"context"
	"sync"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// queueItem is either an ended span or a flush marker.
type queueItem struct {
	span    sdktrace.ReadOnlySpan
	flushed chan struct{}
}

// queueProcessor decouples span.End from export. OnEnd never blocks: when the
// queue is full the span is dropped and counted. A single goroutine feeds the
// wrapped processor in arrival order.
type queueProcessor struct {
	next    sdktrace.SpanProcessor
	queue   chan queueItem
	done    chan struct{}
	metrics *Metrics

	mu     sync.RWMutex
	closed bool
}

var _ sdktrace.SpanProcessor = (*queueProcessor)(nil)

func newQueueProcessor(next sdktrace.SpanProcessor, size int, m *Metrics) *queueProcessor {
	p := &queueProcessor{
		next:    next,
		queue:   make(chan queueItem, size),
		done:    make(chan struct{}),
		metrics: m,
	}
	go p.run()
	return p
}

func (p *queueProcessor) run() {
	defer close(p.done)
	for item := range p.queue {
		if item.flushed != nil {
			close(item.flushed)
			continue
		}
		p.next.OnEnd(item.span)
	}
}

func (p *queueProcessor) OnStart(parent context.Context, s sdktrace.ReadWriteSpan) {
	p.next.OnStart(parent, s)
}

func (p *queueProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.metrics.SpansDropped(dropShutdown, 1)
		return
	}
	select {
	case p.queue <- queueItem{span: s}:
	default:
		p.metrics.SpansDropped(dropQueueFull, 1)
	}
}

// ForceFlush waits until every span queued before the call reached the
// wrapped processor, then flushes it.
func (p *queueProcessor) ForceFlush(ctx context.Context) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil
	}
	marker := make(chan struct{})
	select {
	case p.queue <- queueItem{flushed: marker}:
		p.mu.RUnlock()
	case <-ctx.Done():
		p.mu.RUnlock()
		return ctx.Err()
	}
	select {
	case <-marker:
	case <-ctx.Done():
		return ctx.Err()
	}
	return p.next.ForceFlush(ctx)
}

// Shutdown drains the queue into the wrapped processor and shuts it down.
func (p *queueProcessor) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	select {
	case <-p.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return p.next.Shutdown(ctx)
}
