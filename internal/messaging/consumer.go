package messaging

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cashflow/platform/internal/replication"
	"github.com/cashflow/platform/internal/sharding"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Consumer drives one durable pull consumer. A single loop fetches at most
// Prefetch deliveries in flight and hands them to Workers goroutines chosen
// by shard, so deliveries for one entity are handled one at a time per
// process.
type Consumer struct {
	Name        string
	Fetcher     Fetcher
	Handler     replication.Handler
	DeadLetters DeadLetters
	Prefetch    int
	Workers     int
	// ParkRetryDelay re-queues a delivery whose dead-lettering failed.
	ParkRetryDelay time.Duration
	Log            *log.Entry
}

func (c *Consumer) logger() *log.Entry {
	if c.Log != nil {
		return c.Log.WithField("consumer", c.Name)
	}
	return log.WithField("consumer", c.Name)
}

func (c *Consumer) limits() (prefetch, workers int) {
	prefetch = c.Prefetch
	if prefetch <= 0 {
		prefetch = DefaultPrefetch
	}
	workers = c.Workers
	if workers <= 0 || workers > prefetch {
		workers = prefetch
	}
	return prefetch, workers
}

// Run fetches until ctx is cancelled, then waits for in-flight deliveries.
func (c *Consumer) Run(ctx context.Context) error {
	prefetch, workers := c.limits()
	slots := make(chan struct{}, prefetch)
	queues := make([]chan Delivery, workers)
	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan Delivery, prefetch)
		wg.Add(1)
		go func(queue <-chan Delivery) {
			defer wg.Done()
			for d := range queue {
				c.process(ctx, d)
				<-slots
			}
		}(queues[i])
	}
	defer func() {
		for _, queue := range queues {
			close(queue)
		}
		wg.Wait()
	}()

	c.logger().WithField("prefetch", prefetch).WithField("workers", workers).Info("consumer started")
	for {
		// Block for one free slot, then take whatever else is free.
		select {
		case <-ctx.Done():
			return nil
		case slots <- struct{}{}:
		}
		free := 1
	fill:
		for free < prefetch {
			select {
			case slots <- struct{}{}:
				free++
			default:
				break fill
			}
		}

		batch, err := c.Fetcher.Fetch(ctx, free)
		for i := len(batch); i < free; i++ {
			<-slots
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger().WithError(err).Error("fetch failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}
		for _, d := range batch {
			queues[sharding.Worker(d.Subject(), workers)] <- d
		}
	}
}

func (c *Consumer) process(ctx context.Context, d Delivery) {
	start := time.Now()
	gauge := inflight.WithLabelValues(c.Name)
	gauge.Inc()
	defer gauge.Dec()

	// In-flight deliveries finish even when shutdown has begun.
	handleCtx := context.WithoutCancel(ctx)
	out := c.Handler.Handle(handleCtx, replication.Message{
		Subject: d.Subject(),
		Data:    d.Data(),
		Attempt: d.Attempt(),
	})
	c.settle(handleCtx, d, out)

	messagesTotal.WithLabelValues(c.Name, out.Kind.String(), replication.Classify(out.Reason)).Inc()
	handleSeconds.WithLabelValues(c.Name).ObserveSince(start)
}

// settle acknowledges only after the handler returned, i.e. after persistence.
func (c *Consumer) settle(ctx context.Context, d Delivery, out replication.Outcome) {
	var err error
	switch out.Kind {
	case replication.Applied:
		err = d.Ack()
	case replication.Dropped:
		if errors.Is(out.Reason, replication.ErrPoisonMessage) {
			err = d.Term()
		} else {
			err = d.Ack()
		}
	case replication.Redelivered:
		err = d.NakWithDelay(out.Delay)
	case replication.DeadLettered:
		err = c.park(ctx, d, out.Reason)
	}
	if err != nil {
		c.logger().WithError(err).WithField("subject", d.Subject()).Error("failed to settle delivery")
	}
}

func (c *Consumer) park(ctx context.Context, d Delivery, reason error) error {
	if c.DeadLetters == nil {
		return d.Term()
	}
	if err := c.DeadLetters.Park(ctx, c.Name, d, reason); err != nil {
		delay := c.ParkRetryDelay
		if delay <= 0 {
			delay = replication.DefaultDelay
		}
		c.logger().WithError(err).Error("dead-letter publish failed, redelivering")
		return d.NakWithDelay(delay)
	}
	deadLetters.WithLabelValues(c.Name).Inc()
	c.logger().WithError(reason).WithFields(log.Fields{
		"subject":  d.Subject(),
		"attempts": d.Attempt(),
	}).Error(replication.ErrRetriesExhausted.Error())
	return d.Term()
}

// RunAll runs consumers until ctx is cancelled or one of them fails.
func RunAll(ctx context.Context, consumers ...*Consumer) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, consumer := range consumers {
		g.Go(func() error { return consumer.Run(gctx) })
	}
	return g.Wait()
}
