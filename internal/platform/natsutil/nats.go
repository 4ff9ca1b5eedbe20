package natsutil

import (
	"context"
	"fmt"
	"time"

	"github.com/cashflow/platform/internal/messaging"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

const (
	retryInterval  = 500 * time.Millisecond
	publishTimeout = 5 * time.Second
)

// Client is a NATS connection with the replication streams in place.
type Client struct {
	Conn *nats.Conn
	JS   nats.JetStreamContext
}

type Options struct {
	URL     string
	Name    string
	Timeout time.Duration
	Log     *log.Entry
}

func connectOnce(opts Options) (*Client, error) {
	natsOpts := []nats.Option{nats.Name(opts.Name), nats.MaxReconnects(-1)}
	if opts.Log != nil {
		logger := opts.Log
		natsOpts = append(natsOpts,
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				logger.WithError(err).Warn("nats disconnected")
			}),
			nats.ReconnectHandler(func(conn *nats.Conn) {
				logger.WithField("url", conn.ConnectedUrlRedacted()).Info("nats reconnected")
			}),
		)
	}
	conn, err := nats.Connect(opts.URL, natsOpts...)
	if err != nil {
		return nil, err
	}
	js, err := conn.JetStream()
	if err == nil {
		err = messaging.EnsureStreams(js)
	}
	if err != nil {
		_ = conn.Drain()
		conn.Close()
		return nil, err
	}
	return &Client{Conn: conn, JS: js}, nil
}

// Connect retries until the server accepts the connection and the streams
// exist, the timeout passes or ctx ends.
func Connect(ctx context.Context, opts Options) (*Client, error) {
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()
	for attempt := 1; ; attempt++ {
		client, err := connectOnce(opts)
		if err == nil {
			return client, nil
		}
		if opts.Log != nil {
			opts.Log.WithError(err).WithField("attempt", attempt).Debug("nats not ready")
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connect jetstream timeout after %s: %w", opts.Timeout, err)
		case <-ticker.C:
		}
	}
}

func (c *Client) Connected() bool {
	return c != nil && c.Conn != nil && c.Conn.Status() == nats.CONNECTED
}

func (c *Client) Close() {
	if c == nil || c.Conn == nil {
		return
	}
	_ = c.Conn.Drain()
	c.Conn.Close()
}

// JetStreamPublisher publishes with a Nats-Msg-Id so the stream drops
// repeated publishes of the same event.
type JetStreamPublisher struct {
	JS nats.JetStreamContext
}

func (p JetStreamPublisher) Publish(ctx context.Context, subject, msgID string, payload []byte) error {
	msg := nats.NewMsg(subject)
	msg.Data = payload
	if msgID != "" {
		msg.Header.Set(nats.MsgIdHdr, msgID)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, publishTimeout)
		defer cancel()
	}
	_, err := p.JS.PublishMsg(msg, nats.Context(ctx))
	return err
}
