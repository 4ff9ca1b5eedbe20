package money

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cashflow/platform/internal/app/replicas"
	"github.com/cashflow/platform/internal/contracts"
	"github.com/cashflow/platform/internal/entity"
	"github.com/cashflow/platform/internal/replication"
	log "github.com/sirupsen/logrus"
)

// Routes returns the event handlers this service subscribes. Task snapshots
// additionally open the payout once the task is approved.
func (s *Service) Routes() []replication.Route {
	routes := replicas.UserRoutes(s.Users, s.Policy, s.Log)
	for _, r := range replicas.TaskRoutes(s.Tasks, s.Policy, s.Log) {
		r.Handler = replication.Then(r.Handler, s.Policy, s.Log, s.payoutOnApproval)
		routes = append(routes, r)
	}
	return routes
}

func (s *Service) payoutOnApproval(ctx context.Context, msg replication.Message) error {
	var h contracts.Header
	if err := json.Unmarshal(msg.Data, &h); err != nil {
		return nil
	}
	_, err := s.PayoutTask(ctx, entity.SystemActor, h.PublicID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrTaskNotApproved), errors.Is(err, ErrAlreadyPaid):
		return nil
	case errors.Is(err, ErrUserDisabled):
		s.Log.WithFields(log.Fields{"task_id": h.PublicID}).Warn("approved task not paid out, author cannot receive money")
		return nil
	case errors.Is(err, ErrUserUnknown), errors.Is(err, ErrTaskUnknown):
		return fmt.Errorf("%w: payout for %s: %v", replication.ErrNotYetKnown, h.PublicID, err)
	default:
		return replication.Persistence(err)
	}
}
