package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cashflow/platform/internal/app/replicas"
	"github.com/cashflow/platform/internal/contracts"
	"github.com/cashflow/platform/internal/entity"
	"github.com/cashflow/platform/internal/platform/auth"
	"github.com/cashflow/platform/internal/replication"
	"github.com/cashflow/platform/internal/store"
	"github.com/nats-io/nuid"
	log "github.com/sirupsen/logrus"
)

const ServiceName = "tasks"

var (
	ErrInvalidTitle   = errors.New("title is required")
	ErrInvalidReward  = errors.New("reward_price must be positive")
	ErrAuthorUnknown  = errors.New("author is not known yet")
	ErrAuthorDisabled = errors.New("author is banned or deactivated")
	ErrForbidden      = errors.New("only the author may change this task")
	ErrTaskLocked     = errors.New("task is no longer open")
	ErrNotFound       = errors.New("task not found")
)

// Task is owned by this service.
type Task struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	TaskStatus  string     `json:"task_status"`
	RewardPrice int64      `json:"reward_price"`
	AuthorID    string     `json:"author_id"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
}

func taskEvent(rec store.Record[Task]) contracts.TaskEvent {
	t := rec.State
	return contracts.TaskEvent{
		Header:      contracts.NewHeader(rec.Meta),
		Title:       t.Title,
		Description: t.Description,
		TaskStatus:  t.TaskStatus,
		RewardPrice: t.RewardPrice,
		AuthorID:    t.AuthorID,
		ApprovedAt:  t.ApprovedAt,
	}
}

type Deps struct {
	Tasks        store.Backend[Task]
	Users        store.Backend[replicas.User]
	Transactions store.Backend[replicas.Transaction]
	Bus          replication.Bus
	Tokens       auth.Manager
	Policy       replication.Policy
	Log          *log.Entry
}

type Service struct {
	Tasks        *store.Repository[Task, entity.Owned]
	Users        *store.Repository[replicas.User, entity.Replica]
	Transactions *store.Repository[replicas.Transaction, entity.Replica]
	Publisher    *replication.Publisher[Task, contracts.TaskEvent]
	Tokens       auth.Manager
	Policy       replication.Policy
	Log          *log.Entry
	NewID        func() string
}

func NewService(deps Deps) *Service {
	return &Service{
		Tasks:        store.NewRepository[Task, entity.Owned](deps.Tasks),
		Users:        store.NewRepository[replicas.User, entity.Replica](deps.Users),
		Transactions: store.NewRepository[replicas.Transaction, entity.Replica](deps.Transactions),
		Publisher: &replication.Publisher[Task, contracts.TaskEvent]{
			Emitter: replication.Emitter{Bus: deps.Bus, Log: deps.Log},
			Created: contracts.TaskCreated,
			Updated: contracts.TaskUpdated,
			Project: taskEvent,
		},
		Tokens: deps.Tokens,
		Policy: deps.Policy,
		Log:    deps.Log,
		NewID:  func() string { return "task-" + nuid.Next() },
	}
}

type CreateTaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	RewardPrice int64  `json:"reward_price"`
}

// CreateTask opens a task authored by actor. The author must already be
// replicated here and allowed to act.
func (s *Service) CreateTask(ctx context.Context, actor entity.Actor, req CreateTaskRequest) (store.Record[Task], error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return store.Record[Task]{}, ErrInvalidTitle
	}
	if req.RewardPrice <= 0 {
		return store.Record[Task]{}, ErrInvalidReward
	}
	author, err := s.Users.Find(ctx, actor.UserID)
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrMissingID):
		return store.Record[Task]{}, ErrAuthorUnknown
	case err != nil:
		return store.Record[Task]{}, err
	case !author.State.CanAct():
		return store.Record[Task]{}, ErrAuthorDisabled
	}

	rec, err := s.Tasks.Create(ctx, actor, store.Record[Task]{
		Meta: entity.Meta{PublicID: s.NewID()},
		State: Task{
			Title:       title,
			Description: strings.TrimSpace(req.Description),
			TaskStatus:  contracts.TaskOpen,
			RewardPrice: req.RewardPrice,
			AuthorID:    actor.UserID,
		},
	})
	if err != nil {
		return store.Record[Task]{}, err
	}
	s.Publisher.Publish(ctx, rec)
	return rec, nil
}

type TaskUpdate struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	RewardPrice *int64  `json:"reward_price"`
}

// UpdateTask edits an open task. Only its author may do so.
func (s *Service) UpdateTask(ctx context.Context, actor entity.Actor, id string, upd TaskUpdate) (store.Record[Task], error) {
	return s.update(ctx, actor, id, func(t *Task) error {
		if t.AuthorID != actor.UserID {
			return ErrForbidden
		}
		if t.TaskStatus != contracts.TaskOpen {
			return ErrTaskLocked
		}
		if upd.Title != nil {
			title := strings.TrimSpace(*upd.Title)
			if title == "" {
				return ErrInvalidTitle
			}
			t.Title = title
		}
		if upd.Description != nil {
			t.Description = strings.TrimSpace(*upd.Description)
		}
		if upd.RewardPrice != nil {
			if *upd.RewardPrice <= 0 {
				return ErrInvalidReward
			}
			t.RewardPrice = *upd.RewardPrice
		}
		return nil
	})
}

// CloseTask withdraws an open task.
func (s *Service) CloseTask(ctx context.Context, actor entity.Actor, id string) (store.Record[Task], error) {
	return s.update(ctx, actor, id, func(t *Task) error {
		if t.AuthorID != actor.UserID {
			return ErrForbidden
		}
		if t.TaskStatus != contracts.TaskOpen {
			return ErrTaskLocked
		}
		t.TaskStatus = contracts.TaskClosed
		return nil
	})
}

func (s *Service) Get(ctx context.Context, id string) (store.Record[Task], error) {
	rec, err := s.Tasks.Find(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.Record[Task]{}, ErrNotFound
	}
	return rec, err
}

func (s *Service) update(ctx context.Context, actor entity.Actor, id string, fn func(*Task) error) (store.Record[Task], error) {
	rec, err := s.Tasks.Update(ctx, actor, id, func(rec *store.Record[Task]) error {
		return fn(&rec.State)
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Record[Task]{}, ErrNotFound
		}
		return store.Record[Task]{}, err
	}
	s.Publisher.Publish(ctx, rec)
	return rec, nil
}

var errAlreadyPaid = errors.New("task already paid")

// settle marks a task Paid once its payout transaction has completed.
func (s *Service) settle(ctx context.Context, txID string) error {
	tx, err := s.Transactions.Find(ctx, txID)
	if err != nil {
		return replication.Persistence(err)
	}
	t := tx.State
	if t.TransactionType != contracts.TransactionTaskPayout ||
		t.TransactionStatus != contracts.TransactionCompleted ||
		t.TaskID == "" {
		return nil
	}

	rec, err := s.Tasks.Update(ctx, entity.SystemActor, t.TaskID, func(rec *store.Record[Task]) error {
		if rec.State.TaskStatus == contracts.TaskPaid {
			return errAlreadyPaid
		}
		rec.State.TaskStatus = contracts.TaskPaid
		return nil
	})
	switch {
	case errors.Is(err, errAlreadyPaid):
		return nil
	case errors.Is(err, store.ErrNotFound):
		s.Log.WithFields(log.Fields{"task_id": t.TaskID, "transaction_id": txID}).Error("payout references an unknown task")
		return nil
	case err != nil:
		return replication.Persistence(fmt.Errorf("settle task %s: %w", t.TaskID, err))
	}
	s.Publisher.Publish(ctx, rec)
	return nil
}
