package messaging

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
)

// Delivery is one message handed out by a pull consumer.
type Delivery interface {
	Subject() string
	Data() []byte
	// Attempt is 1 on first delivery.
	Attempt() int
	Sequence() uint64
	Ack() error
	NakWithDelay(delay time.Duration) error
	Term() error
}

// Fetcher pulls up to batch deliveries, waiting at most until ctx is done.
type Fetcher interface {
	Fetch(ctx context.Context, batch int) ([]Delivery, error)
}

type natsDelivery struct {
	msg *nats.Msg
}

func (d natsDelivery) Subject() string { return d.msg.Subject }
func (d natsDelivery) Data() []byte    { return d.msg.Data }

func (d natsDelivery) Attempt() int {
	meta, err := d.msg.Metadata()
	if err != nil || meta.NumDelivered == 0 {
		return 1
	}
	return int(meta.NumDelivered)
}

func (d natsDelivery) Sequence() uint64 {
	meta, err := d.msg.Metadata()
	if err != nil {
		return 0
	}
	return meta.Sequence.Stream
}

func (d natsDelivery) Ack() error { return d.msg.Ack() }

func (d natsDelivery) NakWithDelay(delay time.Duration) error {
	return d.msg.NakWithDelay(delay)
}

func (d natsDelivery) Term() error { return d.msg.Term() }

// PullFetcher adapts a JetStream pull subscription.
type PullFetcher struct {
	Sub     *nats.Subscription
	MaxWait time.Duration
}

func (f PullFetcher) Fetch(ctx context.Context, batch int) ([]Delivery, error) {
	wait := f.MaxWait
	if wait <= 0 {
		wait = DefaultFetchWait
	}
	fetchCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	msgs, err := f.Sub.Fetch(batch, nats.Context(fetchCtx))
	if err != nil && len(msgs) == 0 {
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]Delivery, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, natsDelivery{msg: msg})
	}
	return out, nil
}

// DeadLetters parks deliveries that exhausted their redelivery policy.
type DeadLetters interface {
	Park(ctx context.Context, durable string, d Delivery, reason error) error
}

type JetStreamDeadLetters struct {
	JS nats.JetStreamContext
}

func (p JetStreamDeadLetters) Park(ctx context.Context, durable string, d Delivery, reason error) error {
	msg := nats.NewMsg(DeadLetterSubject(durable))
	msg.Data = d.Data()
	msg.Header.Set(HeaderSubject, d.Subject())
	msg.Header.Set(HeaderAttempts, strconv.Itoa(d.Attempt()))
	if reason != nil {
		msg.Header.Set(HeaderReason, reason.Error())
	}
	msg.Header.Set(nats.MsgIdHdr, fmt.Sprintf("%s:%d", durable, d.Sequence()))
	_, err := p.JS.PublishMsg(msg, nats.Context(ctx))
	return err
}
