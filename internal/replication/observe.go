package replication

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName = "github.com/cashflow/platform/internal/replication"
	SpanName   = "replication.handle"
)

func defaultTracer(t trace.Tracer) trace.Tracer {
	if t != nil {
		return t
	}
	return otel.Tracer(tracerName)
}

func defaultLogger(l *log.Entry) *log.Entry {
	if l != nil {
		return l
	}
	return log.NewEntry(log.StandardLogger())
}

// observation collects what a handler learned about a delivery so that a
// single log line and span describe it.
type observation struct {
	fields log.Fields
	span   trace.Span
}

func startObservation(ctx context.Context, tracer trace.Tracer, eventType string, msg Message) (context.Context, *observation) {
	ctx, span := tracer.Start(ctx, SpanName, trace.WithAttributes(
		attribute.String("event.type", eventType),
		attribute.Int("delivery.attempt", msg.Attempt),
		attribute.String("messaging.subject", msg.Subject),
	))
	return ctx, &observation{
		fields: log.Fields{
			"event_type": eventType,
			"attempt":    msg.Attempt,
		},
		span: span,
	}
}

func (o *observation) entity(publicID string, version int64) {
	o.fields["public_id"] = publicID
	o.fields["version"] = version
	o.span.SetAttributes(
		attribute.String("entity.public_id", publicID),
		attribute.Int64("event.version", version),
	)
}

func (o *observation) local(version int64) {
	o.fields["local_version"] = version
}

func (o *observation) finish(logger *log.Entry, out Outcome) {
	defer o.span.End()

	o.span.SetAttributes(
		attribute.String("replication.outcome", out.Kind.String()),
		attribute.String("replication.reason", Classify(out.Reason)),
	)
	if out.Kind == Redelivered || out.Kind == DeadLettered {
		o.span.RecordError(out.Reason)
		o.span.SetStatus(codes.Error, out.Reason.Error())
	}

	entry := logger.WithFields(o.fields).WithField("outcome", out.Kind.String())
	if out.Reason != nil {
		entry = entry.WithError(out.Reason).WithField("reason", Classify(out.Reason))
	}
	if out.Kind == Redelivered {
		entry = entry.WithField("redelivery_delay", out.Delay.String())
	}

	switch {
	case out.Kind == Applied:
		entry.Debug("event applied")
	case out.Kind == DeadLettered:
		entry.Error("redelivery exhausted, dead-lettering event")
	case errors.Is(out.Reason, ErrPoisonMessage):
		entry.Error("dropping malformed event")
	case errors.Is(out.Reason, ErrDuplicate):
		entry.Info("dropping duplicate event")
	case errors.Is(out.Reason, ErrNotYetKnown):
		entry.Warn("entity not yet known, redelivering")
	case errors.Is(out.Reason, ErrPersistence):
		entry.WithField("fatal", true).Error("persistence failure, redelivering")
	case errors.Is(out.Reason, ErrOutOfOrder):
		entry.Error("event version mismatch, redelivering")
	default:
		entry.Warn("redelivering event")
	}
}
