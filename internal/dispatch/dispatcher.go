// Package dispatch runs inbound chat events on a fixed set of workers.
// Every chat is pinned to one worker, so its events are handled in arrival order.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/GlebRadaev/vpnshop/internal/bot"
)

var ErrClosed = errors.New("dispatcher is closed")

const queueSize = 64

type Handler interface {
	Dispatch(ctx context.Context, ev bot.Event) error
}

type Recorder interface {
	Event(kind string)
	HandlerFailed(reason string)
}

type traceKey struct{}

// TraceID returns the id assigned to the event being handled, if any.
func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}

type Dispatcher struct {
	handler Handler
	metrics Recorder
	shards  []chan job

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

type job struct {
	ctx context.Context
	ev  bot.Event
}

func New(size int, handler Handler, metrics Recorder) *Dispatcher {
	if size < 1 {
		size = 1
	}
	d := &Dispatcher{
		handler: handler,
		metrics: metrics,
		shards:  make([]chan job, size),
	}
	for i := range d.shards {
		d.shards[i] = make(chan job, queueSize)
		d.wg.Add(1)
		go d.worker(d.shards[i])
	}
	return d
}

func (d *Dispatcher) worker(queue <-chan job) {
	defer d.wg.Done()
	for j := range queue {
		d.handle(j.ctx, j.ev)
	}
}

func (d *Dispatcher) handle(ctx context.Context, ev bot.Event) {
	logger := zap.L().With(
		zap.String("trace", TraceID(ctx)),
		zap.Int64("chatID", ev.ChatID),
		zap.Int64("userID", ev.UserID),
	)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Event handler panicked", zap.Any("panic", r))
			d.failed("panic")
		}
	}()

	if err := d.handler.Dispatch(ctx, ev); err != nil {
		logger.Error("Event handling failed", zap.Error(err))
		d.failed("error")
	}
}

func (d *Dispatcher) failed(reason string) {
	if d.metrics != nil {
		d.metrics.HandlerFailed(reason)
	}
}

func (d *Dispatcher) shard(chatID int64) chan job {
	n := int64(len(d.shards))
	idx := chatID % n
	if idx < 0 {
		idx += n
	}
	return d.shards[idx]
}

// Submit queues ev on its chat's worker. It blocks while that worker's queue is full.
func (d *Dispatcher) Submit(ctx context.Context, ev bot.Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}

	kind := "message"
	if ev.IsCallback() {
		kind = "callback"
	}
	if d.metrics != nil {
		d.metrics.Event(kind)
	}

	// Handlers may be waiting on a remote command, which runs to completion
	// or its own timeout, so jobs do not inherit the feed's cancellation.
	traced := context.WithValue(context.WithoutCancel(ctx), traceKey{}, uuid.NewString())
	select {
	case <-ctx.Done():
		return ctx.Err()
	case d.shard(ev.ChatID) <- job{ctx: traced, ev: ev}:
		return nil
	}
}

// Run feeds events to the workers until the channel closes or ctx is done.
func (d *Dispatcher) Run(ctx context.Context, events <-chan bot.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := d.Submit(ctx, ev); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return fmt.Errorf("submit event: %w", err)
			}
		}
	}
}

// Close stops accepting events and waits for queued ones to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, q := range d.shards {
		close(q)
	}
	d.mu.Unlock()
	d.wg.Wait()
}
