package moderation

import (
	"context"
	"errors"
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

const ServiceName = "moderation"

const (
	KindBan     = "ban"
	KindWarning = "warning"
)

var (
	ErrReasonRequired  = errors.New("reason is required")
	ErrUserUnknown     = errors.New("user is not known yet")
	ErrAlreadyBanned   = errors.New("user is already banned")
	ErrTaskUnknown     = errors.New("task is not known yet")
	ErrTaskNotOpen     = errors.New("task is not open")
	ErrAlreadyApproved = errors.New("task is already approved")
	ErrNotFound        = errors.New("sanction not found")
)

// Sanction is owned by this service.
type Sanction struct {
	UserID      string `json:"user_id"`
	Kind        string `json:"kind"`
	Reason      string `json:"reason"`
	ModeratorID string `json:"moderator_id"`
}

// Approval records the moderator decision on a task. Its public id is derived
// from the task id so a task is approved at most once.
type Approval struct {
	TaskID      string    `json:"task_id"`
	ModeratorID string    `json:"moderator_id"`
	ApprovedAt  time.Time `json:"approved_at"`
}

func ApprovalID(taskID string) string {
	return "approval-" + taskID
}

type Deps struct {
	Sanctions store.Backend[Sanction]
	Approvals store.Backend[Approval]
	Users     store.Backend[replicas.User]
	Tasks     store.Backend[replicas.Task]
	Bus       replication.Bus
	Tokens    auth.Manager
	Policy    replication.Policy
	Log       *log.Entry
}

type Service struct {
	Sanctions *store.Repository[Sanction, entity.Owned]
	Approvals *store.Repository[Approval, entity.Owned]
	Users     *store.Repository[replicas.User, entity.Replica]
	Tasks     *store.Repository[replicas.Task, entity.Replica]
	Intents   replication.Emitter
	Tokens    auth.Manager
	Policy    replication.Policy
	Log       *log.Entry
	NewID     func() string
	Now       func() time.Time
}

func NewService(deps Deps) *Service {
	return &Service{
		Sanctions: store.NewRepository[Sanction, entity.Owned](deps.Sanctions),
		Approvals: store.NewRepository[Approval, entity.Owned](deps.Approvals),
		Users:     store.NewRepository[replicas.User, entity.Replica](deps.Users),
		Tasks:     store.NewRepository[replicas.Task, entity.Replica](deps.Tasks),
		Intents:   replication.Emitter{Bus: deps.Bus, Log: deps.Log},
		Tokens:    deps.Tokens,
		Policy:    deps.Policy,
		Log:       deps.Log,
		NewID:     func() string { return "sanction-" + nuid.Next() },
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

func intentMsgID(eventType, intentID string) string {
	return eventType + ":" + intentID
}

func (s *Service) user(ctx context.Context, id string) (store.Record[replicas.User], error) {
	rec, err := s.Users.Find(ctx, id)
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrMissingID) {
		return rec, ErrUserUnknown
	}
	return rec, err
}

func (s *Service) sanction(ctx context.Context, actor entity.Actor, userID, kind, reason string) (store.Record[Sanction], error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return store.Record[Sanction]{}, ErrReasonRequired
	}
	return s.Sanctions.Create(ctx, actor, store.Record[Sanction]{
		Meta: entity.Meta{PublicID: s.NewID()},
		State: Sanction{
			UserID:      userID,
			Kind:        kind,
			Reason:      reason,
			ModeratorID: actor.UserID,
		},
	})
}

// BanUser records a ban and asks accounts to apply it.
func (s *Service) BanUser(ctx context.Context, actor entity.Actor, userID, reason string) (store.Record[Sanction], error) {
	target, err := s.user(ctx, userID)
	if err != nil {
		return store.Record[Sanction]{}, err
	}
	if target.State.IsBanned {
		return store.Record[Sanction]{}, ErrAlreadyBanned
	}
	rec, err := s.sanction(ctx, actor, userID, KindBan, reason)
	if err != nil {
		return store.Record[Sanction]{}, err
	}
	s.Intents.Emit(ctx, contracts.UserBanned, userID,
		intentMsgID(contracts.UserBanned, rec.Meta.PublicID),
		contracts.UserBannedEvent{
			SanctionID:  rec.Meta.PublicID,
			UserID:      userID,
			ModeratorID: actor.UserID,
			Reason:      rec.State.Reason,
			BannedAt:    rec.Meta.CreatedAt,
		})
	return rec, nil
}

// WarnUser records a warning. Warnings stay local.
func (s *Service) WarnUser(ctx context.Context, actor entity.Actor, userID, reason string) (store.Record[Sanction], error) {
	if _, err := s.user(ctx, userID); err != nil {
		return store.Record[Sanction]{}, err
	}
	return s.sanction(ctx, actor, userID, KindWarning, reason)
}

// ApproveTask records the approval and asks tasks to apply it. Approving a
// task whose approval has not reached tasks yet re-emits the intent.
func (s *Service) ApproveTask(ctx context.Context, actor entity.Actor, taskID string) (store.Record[Approval], error) {
	task, err := s.Tasks.Find(ctx, taskID)
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrMissingID):
		return store.Record[Approval]{}, ErrTaskUnknown
	case err != nil:
		return store.Record[Approval]{}, err
	case task.State.TaskStatus != contracts.TaskOpen:
		if task.State.TaskStatus == contracts.TaskApproved || task.State.TaskStatus == contracts.TaskPaid {
			return store.Record[Approval]{}, ErrAlreadyApproved
		}
		return store.Record[Approval]{}, ErrTaskNotOpen
	}

	rec, err := s.Approvals.Create(ctx, actor, store.Record[Approval]{
		Meta: entity.Meta{PublicID: ApprovalID(taskID)},
		State: Approval{
			TaskID:      taskID,
			ModeratorID: actor.UserID,
			ApprovedAt:  s.Now(),
		},
	})
	if errors.Is(err, store.ErrConflict) {
		rec, err = s.Approvals.Find(ctx, ApprovalID(taskID))
	}
	if err != nil {
		return store.Record[Approval]{}, err
	}
	s.Intents.Emit(ctx, contracts.TaskApprovalRequested, taskID,
		intentMsgID(contracts.TaskApprovalRequested, rec.Meta.PublicID),
		contracts.TaskApprovedEvent{
			ApprovalID:  rec.Meta.PublicID,
			TaskID:      taskID,
			ModeratorID: rec.State.ModeratorID,
			ApprovedAt:  rec.State.ApprovedAt,
		})
	return rec, nil
}

func (s *Service) Sanction(ctx context.Context, id string) (store.Record[Sanction], error) {
	rec, err := s.Sanctions.Find(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.Record[Sanction]{}, ErrNotFound
	}
	return rec, err
}

// Routes returns the event handlers this service subscribes.
func (s *Service) Routes() []replication.Route {
	return append(
		replicas.UserRoutes(s.Users, s.Policy, s.Log),
		replicas.TaskRoutes(s.Tasks, s.Policy, s.Log)...,
	)
}
