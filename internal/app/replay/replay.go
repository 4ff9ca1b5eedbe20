// Package replay generates a versioned user history and republishes it
// shuffled and partially duplicated, to drill replica convergence.
package replay

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/cashflow/platform/internal/contracts"
	"github.com/cashflow/platform/internal/entity"
	"github.com/cashflow/platform/internal/platform/metrics"
	"github.com/cashflow/platform/internal/replication"
	log "github.com/sirupsen/logrus"
)

var (
	eventsTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "replay_events_total",
		Help: "Events handed to the bus by the replay drill.",
	}, []string{"event_type", "outcome"})

	pending atomic.Int64

	pendingGauge = metrics.NewGaugeFunc(metrics.Opts{
		Name: "replay_pending_events",
		Help: "Events of the current drill not yet published.",
	}, func() float64 { return float64(pending.Load()) })
)

func init() {
	metrics.Default.MustRegister(eventsTotal, pendingGauge)
}

// Delivery is one publish of the drill. Copy is zero for the original and
// counts up for duplicates.
type Delivery struct {
	Event contracts.UserEvent
	Copy  int
}

func (d Delivery) EventType() string {
	if d.Event.Version == 0 {
		return contracts.UserCreated
	}
	return contracts.UserUpdated
}

func (d Delivery) MsgID() string {
	id := replication.MsgID(d.EventType(), d.Event.PublicID, d.Event.Version)
	if d.Copy > 0 {
		// Distinct ids get duplicates past broker-side deduplication.
		id = fmt.Sprintf("%s:copy-%d", id, d.Copy)
	}
	return id
}

// History returns versions 0..versions-1 for each synthetic user, in order.
func History(runID string, users, versions int, start time.Time) []contracts.UserEvent {
	out := make([]contracts.UserEvent, 0, users*versions)
	for u := 0; u < users; u++ {
		meta := entity.Meta{
			PublicID:        fmt.Sprintf("replay-%s-%d", runID, u),
			CreatedAt:       start,
			CreatedByUserID: entity.SystemUserID,
		}
		for v := 0; v < versions; v++ {
			meta.Version = int64(v)
			if v > 0 {
				at := start.Add(time.Duration(v) * time.Second)
				by := entity.SystemUserID
				meta.LastUpdatedAt, meta.LastUpdatedByUserID = &at, &by
			}
			out = append(out, contracts.UserEvent{
				Header:    contracts.NewHeader(meta),
				Email:     fmt.Sprintf("%s@replay.invalid", meta.PublicID),
				UserName:  fmt.Sprintf("replay-%d-v%d", u, v),
				RoleID:    1,
				IsActive:  true,
				Firstname: fmt.Sprintf("v%d", v),
			})
		}
	}
	return out
}

// Scramble shuffles history and adds a duplicate for roughly dupRatio of
// the events.
func Scramble(history []contracts.UserEvent, dupRatio float64, rng *rand.Rand) []Delivery {
	out := make([]Delivery, 0, len(history))
	for _, ev := range history {
		out = append(out, Delivery{Event: ev})
		if rng.Float64() < dupRatio {
			out = append(out, Delivery{Event: ev, Copy: 1})
		}
	}
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// Publish emits deliveries, at most rate per second when rate is positive.
func Publish(ctx context.Context, emitter replication.Emitter, deliveries []Delivery, rate float64, logger *log.Entry) (published, failed int) {
	var tick <-chan time.Time
	if rate > 0 {
		ticker := time.NewTicker(time.Duration(float64(time.Second) / rate))
		defer ticker.Stop()
		tick = ticker.C
	}

	pending.Store(int64(len(deliveries)))
	defer pending.Store(0)
	for i, d := range deliveries {
		if tick != nil {
			select {
			case <-ctx.Done():
				return published, failed
			case <-tick:
			}
		} else if ctx.Err() != nil {
			return published, failed
		}

		if emitter.Emit(ctx, d.EventType(), d.Event.PublicID, d.MsgID(), d.Event) {
			published++
			eventsTotal.WithLabelValues(d.EventType(), "published").Inc()
		} else {
			failed++
			eventsTotal.WithLabelValues(d.EventType(), "failed").Inc()
		}
		pending.Add(-1)
		if logger != nil && (i+1)%1000 == 0 {
			logger.WithFields(log.Fields{"published": published, "failed": failed}).Info("replay progress")
		}
	}
	return published, failed
}
