package accounts

import (
	"github.com/cashflow/platform/internal/contracts"
	"github.com/cashflow/platform/internal/entity"
	"github.com/cashflow/platform/internal/replication"
)

// Routes returns the event handlers this service subscribes.
func (s *Service) Routes() []replication.Route {
	banned := replication.NewIntentHandler(replication.IntentBinding[contracts.UserBannedEvent, User]{
		EventType: contracts.UserBanned,
		Done:      func(_ contracts.UserBannedEvent, u User) bool { return u.IsBanned },
		Apply:     func(_ contracts.UserBannedEvent, u *User) { u.IsBanned = true },
		Actor: func(ev contracts.UserBannedEvent) entity.Actor {
			return entity.Actor{UserID: ev.ModeratorID}
		},
	}, s.Users, s.Policy, s.Log)
	banned.After = s.Publisher.After

	return []replication.Route{
		{EventType: contracts.UserBanned, Handler: banned},
	}
}
