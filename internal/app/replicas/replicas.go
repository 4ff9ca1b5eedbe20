// Package replicas holds the local copies services keep of entities owned
// elsewhere, and the synchronizer routes that maintain them.
package replicas

import (
	"time"

	"github.com/cashflow/platform/internal/contracts"
	"github.com/cashflow/platform/internal/entity"
	"github.com/cashflow/platform/internal/replication"
	"github.com/cashflow/platform/internal/store"
	log "github.com/sirupsen/logrus"
)

type User struct {
	UserName string `json:"user_name"`
	Email    string `json:"email"`
	RoleID   int    `json:"role_id"`
	IsActive bool   `json:"is_active"`
	IsBanned bool   `json:"is_banned"`
}

// CanAct reports whether the user may still create work or receive money.
func (u User) CanAct() bool {
	return u.IsActive && !u.IsBanned
}

func ProjectUser(ev contracts.UserEvent) User {
	return User{
		UserName: ev.UserName,
		Email:    ev.Email,
		RoleID:   ev.RoleID,
		IsActive: ev.IsActive,
		IsBanned: ev.IsBanned,
	}
}

type Task struct {
	Title       string     `json:"title"`
	TaskStatus  string     `json:"task_status"`
	RewardPrice int64      `json:"reward_price"`
	AuthorID    string     `json:"author_id"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
}

func ProjectTask(ev contracts.TaskEvent) Task {
	return Task{
		Title:       ev.Title,
		TaskStatus:  ev.TaskStatus,
		RewardPrice: ev.RewardPrice,
		AuthorID:    ev.AuthorID,
		ApprovedAt:  ev.ApprovedAt,
	}
}

type Transaction struct {
	Amount            int64  `json:"amount"`
	TransactionStatus string `json:"transaction_status"`
	TransactionType   string `json:"transaction_type"`
	UserID            string `json:"user_id"`
	TaskID            string `json:"task_id"`
}

func ProjectTransaction(ev contracts.TransactionEvent) Transaction {
	return Transaction{
		Amount:            ev.Amount,
		TransactionStatus: ev.TransactionStatus,
		TransactionType:   ev.TransactionType,
		UserID:            ev.UserID,
		TaskID:            ev.TaskID,
	}
}

// Routes builds the creation and update synchronizers for one replica.
func Routes[E contracts.Event, T any](
	repo *store.Repository[T, entity.Replica],
	created, updated string,
	project func(E) T,
	policy replication.Policy,
	logger *log.Entry,
) []replication.Route {
	routes := make([]replication.Route, 0, 2)
	for _, b := range []replication.Binding[E, T]{
		{EventType: created, Creates: true, Project: project},
		{EventType: updated, Project: project},
	} {
		routes = append(routes, replication.Route{
			EventType: b.EventType,
			Handler:   replication.NewSynchronizer(b, repo, policy, logger),
		})
	}
	return routes
}

func UserRoutes(repo *store.Repository[User, entity.Replica], policy replication.Policy, logger *log.Entry) []replication.Route {
	return Routes(repo, contracts.UserCreated, contracts.UserUpdated, ProjectUser, policy, logger)
}

func TaskRoutes(repo *store.Repository[Task, entity.Replica], policy replication.Policy, logger *log.Entry) []replication.Route {
	return Routes(repo, contracts.TaskCreated, contracts.TaskUpdated, ProjectTask, policy, logger)
}

func TransactionRoutes(repo *store.Repository[Transaction, entity.Replica], policy replication.Policy, logger *log.Entry) []replication.Route {
	return Routes(repo, contracts.TransactionCreated, contracts.TransactionUpdated, ProjectTransaction, policy, logger)
}
