package replication

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cashflow/platform/internal/contracts"
	"github.com/cashflow/platform/internal/platform/metrics"
	"github.com/cashflow/platform/internal/sharding"
	"github.com/cashflow/platform/internal/store"
	log "github.com/sirupsen/logrus"
)

var publishFailures = metrics.NewCounterVec(metrics.Opts{
	Name: "replication_publish_failures_total",
	Help: "Events that could not be handed to the bus.",
}, []string{"event_type"})

func init() {
	metrics.Default.MustRegister(publishFailures)
}

// Bus hands a payload to the event stream. msgID lets the broker discard
// duplicate publishes.
type Bus interface {
	Publish(ctx context.Context, subject, msgID string, payload []byte) error
}

// Emitter publishes on the sharded subject of the entity an event is about.
// Failures are logged and swallowed: a committed write is never failed by
// bus unavailability.
type Emitter struct {
	Bus Bus
	Log *log.Entry
}

func (e Emitter) Emit(ctx context.Context, eventType, publicID, msgID string, payload any) bool {
	entry := defaultLogger(e.Log).WithFields(log.Fields{
		"event_type": eventType,
		"public_id":  publicID,
		"msg_id":     msgID,
	})
	if e.Bus == nil {
		publishFailures.WithLabelValues(eventType).Inc()
		entry.Error("event bus is not configured, event not published")
		return false
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		publishFailures.WithLabelValues(eventType).Inc()
		entry.WithError(err).Error("failed to encode event")
		return false
	}
	if err := e.Bus.Publish(ctx, sharding.EventSubject(eventType, publicID), msgID, raw); err != nil {
		publishFailures.WithLabelValues(eventType).Inc()
		entry.WithError(err).Error("failed to publish event")
		return false
	}
	entry.Debug("event published")
	return true
}

// MsgID identifies one version of one entity.
func MsgID(eventType, publicID string, version int64) string {
	return fmt.Sprintf("%s:%s:%d", eventType, publicID, version)
}

// Publisher turns committed owned records into snapshot events. Version 0 is
// the creation event, every later version an update.
type Publisher[T any, E contracts.Event] struct {
	Emitter Emitter
	Created string
	Updated string
	Project func(store.Record[T]) E
}

func (p *Publisher[T, E]) EventType(rec store.Record[T]) string {
	if rec.Meta.Version == 0 {
		return p.Created
	}
	return p.Updated
}

func (p *Publisher[T, E]) Publish(ctx context.Context, rec store.Record[T]) bool {
	eventType := p.EventType(rec)
	return p.Emitter.Emit(ctx, eventType, rec.Meta.PublicID,
		MsgID(eventType, rec.Meta.PublicID, rec.Meta.Version),
		p.Project(rec))
}

// After adapts Publish to the post-apply hook signature.
func (p *Publisher[T, E]) After(ctx context.Context, rec store.Record[T]) error {
	p.Publish(ctx, rec)
	return nil
}
