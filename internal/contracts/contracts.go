package contracts

import (
	"errors"
	"time"

	"github.com/cashflow/platform/internal/entity"
)

// Event types. Each maps to the subject family app.event.<type>.<shard>.
const (
	UserCreated           = "user.created"
	UserUpdated           = "user.updated"
	TaskCreated           = "task.created"
	TaskUpdated           = "task.updated"
	TransactionCreated    = "transaction.created"
	TransactionUpdated    = "transaction.updated"
	UserBanned            = "moderation.user-banned"
	TaskApprovalRequested = "moderation.task-approved"
)

// Task statuses.
const (
	TaskOpen     = "Open"
	TaskApproved = "Approved"
	TaskPaid     = "Paid"
	TaskClosed   = "Closed"
)

// Transaction statuses and types.
const (
	TransactionPending   = "Pending"
	TransactionCompleted = "Completed"
	TransactionFailed    = "Failed"

	TransactionTaskPayout = "TaskPayout"
	TransactionDeposit    = "Deposit"
)

var ErrInvalidEvent = errors.New("invalid event payload")

// Header is the versioned part shared by every replicated entity event.
// Field names are the cross-service contract and only ever grow.
type Header struct {
	PublicID            string     `json:"PublicId"`
	Version             int64      `json:"Version"`
	CreatedAt           time.Time  `json:"CreatedAt"`
	CreatedByUserID     string     `json:"CreatedByUserId"`
	LastUpdatedAt       *time.Time `json:"LastUpdatedAt"`
	LastUpdatedByUserID *string    `json:"LastUpdatedByUserId"`
}

// Event is a full post-mutation snapshot of an entity.
type Event interface {
	EventHeader() Header
}

func (h Header) EventHeader() Header { return h }

// Validate rejects headers that can never become applicable.
func (h Header) Validate() error {
	if h.PublicID == "" {
		return errors.Join(ErrInvalidEvent, errors.New("PublicId is required"))
	}
	if h.Version < 0 {
		return errors.Join(ErrInvalidEvent, errors.New("Version must be non-negative"))
	}
	return nil
}

func (h Header) Meta() entity.Meta {
	return entity.Meta{
		PublicID:            h.PublicID,
		Version:             h.Version,
		CreatedAt:           h.CreatedAt,
		CreatedByUserID:     h.CreatedByUserID,
		LastUpdatedAt:       h.LastUpdatedAt,
		LastUpdatedByUserID: h.LastUpdatedByUserID,
	}
}

func NewHeader(m entity.Meta) Header {
	return Header{
		PublicID:            m.PublicID,
		Version:             m.Version,
		CreatedAt:           m.CreatedAt,
		CreatedByUserID:     m.CreatedByUserID,
		LastUpdatedAt:       m.LastUpdatedAt,
		LastUpdatedByUserID: m.LastUpdatedByUserID,
	}
}

// UserEvent is published by accounts on user.created and user.updated.
type UserEvent struct {
	Header
	Email     string `json:"Email"`
	UserName  string `json:"UserName"`
	Firstname string `json:"Firstname"`
	Lastname  string `json:"Lastname"`
	Gender    string `json:"Gender"`
	RoleID    int    `json:"RoleId"`
	IsActive  bool   `json:"IsActive"`
	IsBanned  bool   `json:"IsBanned"`
}

// TaskEvent is published by tasks on task.created and task.updated.
type TaskEvent struct {
	Header
	Title       string     `json:"Title"`
	Description string     `json:"Description"`
	TaskStatus  string     `json:"TaskStatus"`
	RewardPrice int64      `json:"RewardPrice"`
	AuthorID    string     `json:"AuthorId"`
	ApprovedAt  *time.Time `json:"ApprovedAt"`
}

// TransactionEvent is published by money on transaction.created and
// transaction.updated. Amount is in minor units.
type TransactionEvent struct {
	Header
	Amount            int64  `json:"Amount"`
	Description       string `json:"Description"`
	TransactionStatus string `json:"TransactionStatus"`
	TransactionType   string `json:"TransactionType"`
	UserID            string `json:"UserId"`
	TaskID            string `json:"TaskId"`
}

// Intent events ask the owning service to mutate its own entity. They carry no
// version: the owner applies them and publishes the resulting snapshot.

type UserBannedEvent struct {
	SanctionID  string    `json:"SanctionId"`
	UserID      string    `json:"UserId"`
	ModeratorID string    `json:"ModeratorId"`
	Reason      string    `json:"Reason"`
	BannedAt    time.Time `json:"BannedAt"`
}

func (e UserBannedEvent) TargetID() string { return e.UserID }
func (e UserBannedEvent) IntentID() string { return e.SanctionID }

func (e UserBannedEvent) Validate() error {
	if e.SanctionID == "" || e.UserID == "" {
		return errors.Join(ErrInvalidEvent, errors.New("SanctionId and UserId are required"))
	}
	return nil
}

type TaskApprovedEvent struct {
	ApprovalID  string    `json:"ApprovalId"`
	TaskID      string    `json:"TaskId"`
	ModeratorID string    `json:"ModeratorId"`
	ApprovedAt  time.Time `json:"ApprovedAt"`
}

func (e TaskApprovedEvent) TargetID() string { return e.TaskID }
func (e TaskApprovedEvent) IntentID() string { return e.ApprovalID }

func (e TaskApprovedEvent) Validate() error {
	if e.ApprovalID == "" || e.TaskID == "" {
		return errors.Join(ErrInvalidEvent, errors.New("ApprovalId and TaskId are required"))
	}
	return nil
}
