package tasks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cashflow/platform/internal/app/replicas"
	"github.com/cashflow/platform/internal/contracts"
	"github.com/cashflow/platform/internal/entity"
	"github.com/cashflow/platform/internal/replication"
)

// Routes returns the event handlers this service subscribes.
func (s *Service) Routes() []replication.Route {
	routes := replicas.UserRoutes(s.Users, s.Policy, s.Log)
	for _, r := range replicas.TransactionRoutes(s.Transactions, s.Policy, s.Log) {
		r.Handler = replication.Then(r.Handler, s.Policy, s.Log, s.settleFromMessage)
		routes = append(routes, r)
	}

	approved := replication.NewIntentHandler(replication.IntentBinding[contracts.TaskApprovedEvent, Task]{
		EventType: contracts.TaskApprovalRequested,
		Done: func(_ contracts.TaskApprovedEvent, t Task) bool {
			return t.TaskStatus != contracts.TaskOpen
		},
		Apply: func(ev contracts.TaskApprovedEvent, t *Task) {
			at := ev.ApprovedAt
			if at.IsZero() {
				at = time.Now().UTC()
			}
			t.TaskStatus = contracts.TaskApproved
			t.ApprovedAt = &at
		},
		Actor: func(ev contracts.TaskApprovedEvent) entity.Actor {
			return entity.Actor{UserID: ev.ModeratorID}
		},
	}, s.Tasks, s.Policy, s.Log)
	approved.After = s.Publisher.After

	return append(routes, replication.Route{EventType: contracts.TaskApprovalRequested, Handler: approved})
}

func (s *Service) settleFromMessage(ctx context.Context, msg replication.Message) error {
	var h contracts.Header
	if err := json.Unmarshal(msg.Data, &h); err != nil {
		return nil
	}
	return s.settle(ctx, h.PublicID)
}
