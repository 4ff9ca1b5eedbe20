package money

import (
	"context"
	"errors"
	"strings"

	"github.com/cashflow/platform/internal/app/replicas"
	"github.com/cashflow/platform/internal/contracts"
	"github.com/cashflow/platform/internal/entity"
	"github.com/cashflow/platform/internal/platform/auth"
	"github.com/cashflow/platform/internal/replication"
	"github.com/cashflow/platform/internal/store"
	"github.com/nats-io/nuid"
	log "github.com/sirupsen/logrus"
)

const ServiceName = "money"

var (
	ErrInvalidAmount   = errors.New("amount must be positive")
	ErrTaskUnknown     = errors.New("task is not known yet")
	ErrTaskNotApproved = errors.New("task is not approved")
	ErrUserUnknown     = errors.New("user is not known yet")
	ErrUserDisabled    = errors.New("user is banned or deactivated")
	ErrAlreadyPaid     = errors.New("task already has a payout")
	ErrNotPending      = errors.New("transaction is not pending")
	ErrNotFound        = errors.New("transaction not found")
)

// Transaction is owned by this service. Amount is in minor units.
type Transaction struct {
	Amount            int64  `json:"amount"`
	Description       string `json:"description"`
	TransactionStatus string `json:"transaction_status"`
	TransactionType   string `json:"transaction_type"`
	UserID            string `json:"user_id"`
	TaskID            string `json:"task_id,omitempty"`
}

func transactionEvent(rec store.Record[Transaction]) contracts.TransactionEvent {
	t := rec.State
	return contracts.TransactionEvent{
		Header:            contracts.NewHeader(rec.Meta),
		Amount:            t.Amount,
		Description:       t.Description,
		TransactionStatus: t.TransactionStatus,
		TransactionType:   t.TransactionType,
		UserID:            t.UserID,
		TaskID:            t.TaskID,
	}
}

// PayoutID is the public id of the single payout a task can have.
func PayoutID(taskID string) string {
	return "payout-" + taskID
}

type Deps struct {
	Transactions store.Backend[Transaction]
	Users        store.Backend[replicas.User]
	Tasks        store.Backend[replicas.Task]
	Bus          replication.Bus
	Tokens       auth.Manager
	Policy       replication.Policy
	Log          *log.Entry
}

type Service struct {
	Transactions *store.Repository[Transaction, entity.Owned]
	Users        *store.Repository[replicas.User, entity.Replica]
	Tasks        *store.Repository[replicas.Task, entity.Replica]
	Publisher    *replication.Publisher[Transaction, contracts.TransactionEvent]
	Tokens       auth.Manager
	Policy       replication.Policy
	Log          *log.Entry
	NewID        func() string
}

func NewService(deps Deps) *Service {
	return &Service{
		Transactions: store.NewRepository[Transaction, entity.Owned](deps.Transactions),
		Users:        store.NewRepository[replicas.User, entity.Replica](deps.Users),
		Tasks:        store.NewRepository[replicas.Task, entity.Replica](deps.Tasks),
		Publisher: &replication.Publisher[Transaction, contracts.TransactionEvent]{
			Emitter: replication.Emitter{Bus: deps.Bus, Log: deps.Log},
			Created: contracts.TransactionCreated,
			Updated: contracts.TransactionUpdated,
			Project: transactionEvent,
		},
		Tokens: deps.Tokens,
		Policy: deps.Policy,
		Log:    deps.Log,
		NewID:  func() string { return "tx-" + nuid.Next() },
	}
}

func (s *Service) activeUser(ctx context.Context, id string) error {
	user, err := s.Users.Find(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrMissingID):
		return ErrUserUnknown
	case err != nil:
		return err
	case !user.State.CanAct():
		return ErrUserDisabled
	}
	return nil
}

// PayoutTask opens the reward payout for an approved task. A task is paid out
// at most once: the payout id is derived from the task id. Asking again
// re-publishes the stored payout, so a replica that missed its latest
// event catches up; the stream drops the copy when nothing was lost.
func (s *Service) PayoutTask(ctx context.Context, actor entity.Actor, taskID string) (store.Record[Transaction], error) {
	task, err := s.Tasks.Find(ctx, taskID)
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrMissingID):
		return store.Record[Transaction]{}, ErrTaskUnknown
	case err != nil:
		return store.Record[Transaction]{}, err
	case task.State.TaskStatus != contracts.TaskApproved:
		return store.Record[Transaction]{}, ErrTaskNotApproved
	}
	if err := s.activeUser(ctx, task.State.AuthorID); err != nil {
		return store.Record[Transaction]{}, err
	}

	rec, err := s.Transactions.Create(ctx, actor, store.Record[Transaction]{
		Meta: entity.Meta{PublicID: PayoutID(taskID)},
		State: Transaction{
			Amount:            task.State.RewardPrice,
			Description:       "Reward for " + task.State.Title,
			TransactionStatus: contracts.TransactionPending,
			TransactionType:   contracts.TransactionTaskPayout,
			UserID:            task.State.AuthorID,
			TaskID:            taskID,
		},
	})
	if errors.Is(err, store.ErrConflict) {
		existing, findErr := s.Transactions.Find(ctx, PayoutID(taskID))
		if findErr != nil {
			return store.Record[Transaction]{}, findErr
		}
		s.Publisher.Publish(ctx, existing)
		return existing, ErrAlreadyPaid
	}
	if err != nil {
		return store.Record[Transaction]{}, err
	}
	s.Publisher.Publish(ctx, rec)
	return rec, nil
}

type DepositRequest struct {
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

// Deposit records money paid in by actor.
func (s *Service) Deposit(ctx context.Context, actor entity.Actor, req DepositRequest) (store.Record[Transaction], error) {
	if req.Amount <= 0 {
		return store.Record[Transaction]{}, ErrInvalidAmount
	}
	if err := s.activeUser(ctx, actor.UserID); err != nil {
		return store.Record[Transaction]{}, err
	}
	rec, err := s.Transactions.Create(ctx, actor, store.Record[Transaction]{
		Meta: entity.Meta{PublicID: s.NewID()},
		State: Transaction{
			Amount:            req.Amount,
			Description:       strings.TrimSpace(req.Description),
			TransactionStatus: contracts.TransactionPending,
			TransactionType:   contracts.TransactionDeposit,
			UserID:            actor.UserID,
		},
	})
	if err != nil {
		return store.Record[Transaction]{}, err
	}
	s.Publisher.Publish(ctx, rec)
	return rec, nil
}

// CompleteTransaction settles a pending transaction.
func (s *Service) CompleteTransaction(ctx context.Context, actor entity.Actor, id string) (store.Record[Transaction], error) {
	return s.finish(ctx, actor, id, contracts.TransactionCompleted)
}

// FailTransaction marks a pending transaction as failed.
func (s *Service) FailTransaction(ctx context.Context, actor entity.Actor, id string) (store.Record[Transaction], error) {
	return s.finish(ctx, actor, id, contracts.TransactionFailed)
}

func (s *Service) finish(ctx context.Context, actor entity.Actor, id, status string) (store.Record[Transaction], error) {
	rec, err := s.Transactions.Update(ctx, actor, id, func(rec *store.Record[Transaction]) error {
		if rec.State.TransactionStatus != contracts.TransactionPending {
			return ErrNotPending
		}
		rec.State.TransactionStatus = status
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Record[Transaction]{}, ErrNotFound
		}
		return store.Record[Transaction]{}, err
	}
	s.Publisher.Publish(ctx, rec)
	return rec, nil
}

func (s *Service) Get(ctx context.Context, id string) (store.Record[Transaction], error) {
	rec, err := s.Transactions.Find(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.Record[Transaction]{}, ErrNotFound
	}
	return rec, err
}
