// Package dispatch runs the side effects of a completed item outside the
// transaction that completed it.
package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kiwari-pos/kds/internal/enum"
	"github.com/kiwari-pos/kds/internal/fulfillment"
	"github.com/kiwari-pos/kds/internal/logger"
	"github.com/kiwari-pos/kds/internal/notify"
)

const (
	defaultWorkers   = 2
	defaultQueueSize = 256
	effectTimeout    = 10 * time.Second
)

// DeliveryEvaluator is asked whether a home-delivery order can leave once
// one of its items is ready.
type DeliveryEvaluator interface {
	EvaluateDeliveryEligibility(ctx context.Context, orderID uuid.UUID) error
}

// CompletionLog records completions for downstream consumers.
type CompletionLog interface {
	Append(ctx context.Context, c fulfillment.Completion) error
}

// NoopDeliveryEvaluator is used when no delivery backend is configured.
type NoopDeliveryEvaluator struct{}

func (NoopDeliveryEvaluator) EvaluateDeliveryEligibility(context.Context, uuid.UUID) error {
	return nil
}

// Dispatcher implements fulfillment.CompletionSink. Completions are queued
// and handled by a fixed set of workers; failures are logged and dropped.
type Dispatcher struct {
	queue    chan fulfillment.Completion
	workers  int
	events   notify.Publisher
	delivery DeliveryEvaluator
	logs     []CompletionLog
	log      *zap.Logger

	dropped atomic.Int64
}

var _ fulfillment.CompletionSink = (*Dispatcher)(nil)

type Option func(*Dispatcher)

func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan fulfillment.Completion, n)
		}
	}
}

func WithDeliveryEvaluator(e DeliveryEvaluator) Option {
	return func(d *Dispatcher) { d.delivery = e }
}

func WithCompletionLog(l CompletionLog) Option {
	return func(d *Dispatcher) { d.logs = append(d.logs, l) }
}

func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

func New(events notify.Publisher, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		queue:    make(chan fulfillment.Completion, defaultQueueSize),
		workers:  defaultWorkers,
		events:   events,
		delivery: NoopDeliveryEvaluator{},
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.log == nil {
		d.log = logger.L()
	}
	return d
}

// ItemCompleted enqueues c without blocking. A full queue drops c.
func (d *Dispatcher) ItemCompleted(c fulfillment.Completion) {
	select {
	case d.queue <- c:
	default:
		d.dropped.Add(1)
		d.log.Warn("completion queue full, dropping side effects",
			zap.String("item_id", c.ItemID.String()),
			zap.String("order_id", c.OrderID.String()),
		)
	}
}

// Dropped returns how many completions were discarded on a full queue.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Run starts the workers and blocks until ctx is cancelled. Completions
// still queued at that point are handled before Run returns.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case c := <-d.queue:
					d.handle(c)
				}
			}
		}()
	}
	wg.Wait()

	for {
		select {
		case c := <-d.queue:
			d.handle(c)
		default:
			return
		}
	}
}

func (d *Dispatcher) handle(c fulfillment.Completion) {
	ctx, cancel := context.WithTimeout(context.Background(), effectTimeout)
	defer cancel()

	log := d.log.With(
		zap.String("item_id", c.ItemID.String()),
		zap.String("order_id", c.OrderID.String()),
	)

	d.notifyWaiter(c, log)

	if c.DeliveryType == enum.DeliveryHome {
		if err := d.delivery.EvaluateDeliveryEligibility(ctx, c.OrderID); err != nil {
			log.Warn("delivery eligibility trigger failed", zap.Error(err))
		}
	}

	for _, l := range d.logs {
		if err := l.Append(ctx, c); err != nil {
			log.Warn("append completion log", zap.Error(err))
		}
	}
}

func (d *Dispatcher) notifyWaiter(c fulfillment.Completion, log *zap.Logger) {
	e, err := notify.NewEvent(notify.TypeItemReady, notify.ItemReady{
		Kind:        c.Kind,
		OrderID:     c.OrderID,
		OrderCode:   c.OrderCode,
		ItemName:    c.ItemName,
		CompletedAt: c.CompletedAt,
	})
	if err != nil {
		log.Warn("encode item ready event", zap.Error(err))
		return
	}
	e.WaiterID = c.WaiterID
	e.Kind = c.Kind
	d.events.Publish(e)
}
