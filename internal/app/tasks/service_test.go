package tasks

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/cashflow/platform/internal/app/replicas"
	"github.com/cashflow/platform/internal/contracts"
	"github.com/cashflow/platform/internal/entity"
	"github.com/cashflow/platform/internal/platform/auth"
	"github.com/cashflow/platform/internal/platform/logging"
	"github.com/cashflow/platform/internal/replication"
	"github.com/cashflow/platform/internal/replication/replicationtest"
	"github.com/cashflow/platform/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var alice = entity.Actor{UserID: "user-1"}

type fixture struct {
	svc    *Service
	bus    *replicationtest.Bus
	routes map[string]replication.Handler
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	bus := &replicationtest.Bus{}
	svc := NewService(Deps{
		Tasks:        store.NewMemory[Task](),
		Users:        store.NewMemory[replicas.User](),
		Transactions: store.NewMemory[replicas.Transaction](),
		Bus:          bus,
		Tokens:       auth.NewManager("test-secret", time.Hour),
		Policy:       replication.DefaultPolicy(),
		Log:          logging.Discard(),
	})
	svc.NewID = func() string { return "task-1" }
	routes := map[string]replication.Handler{}
	for _, r := range svc.Routes() {
		routes[r.EventType] = r.Handler
	}
	return fixture{svc: svc, bus: bus, routes: routes}
}

func (f fixture) deliver(t *testing.T, eventType string, ev any) replication.Outcome {
	t.Helper()
	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	h, ok := f.routes[eventType]
	require.True(t, ok, "no route for %s", eventType)
	return h.Handle(context.Background(), replication.Message{Data: raw, Attempt: 1})
}

func (f fixture) seedUser(t *testing.T, id string, version int64, banned bool) {
	t.Helper()
	eventType := contracts.UserUpdated
	if version == 0 {
		eventType = contracts.UserCreated
	}
	out := f.deliver(t, eventType, contracts.UserEvent{
		Header:   contracts.Header{PublicID: id, Version: version, CreatedByUserID: id},
		UserName: id,
		IsActive: true,
		IsBanned: banned,
	})
	require.Equal(t, replication.Applied, out.Kind)
}

func (f fixture) createTask(t *testing.T) store.Record[Task] {
	t.Helper()
	rec, err := f.svc.CreateTask(context.Background(), alice, CreateTaskRequest{Title: " Fix roof ", RewardPrice: 500})
	require.NoError(t, err)
	return rec
}

func TestCreateTaskRequiresKnownActiveAuthor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateTask(ctx, alice, CreateTaskRequest{Title: "Fix roof", RewardPrice: 500})
	assert.ErrorIs(t, err, ErrAuthorUnknown)

	f.seedUser(t, "user-1", 0, false)
	_, err = f.svc.CreateTask(ctx, alice, CreateTaskRequest{Title: " ", RewardPrice: 500})
	assert.ErrorIs(t, err, ErrInvalidTitle)
	_, err = f.svc.CreateTask(ctx, alice, CreateTaskRequest{Title: "Fix roof"})
	assert.ErrorIs(t, err, ErrInvalidReward)

	rec := f.createTask(t)
	assert.Equal(t, "Fix roof", rec.State.Title)
	assert.Equal(t, contracts.TaskOpen, rec.State.TaskStatus)
	assert.Equal(t, "user-1", rec.State.AuthorID)

	created := f.bus.OfType(contracts.TaskCreated)
	require.Len(t, created, 1)
	assert.Equal(t, "task.created:task-1:0", created[0].MsgID)

	f.seedUser(t, "user-1", 1, true)
	_, err = f.svc.CreateTask(ctx, alice, CreateTaskRequest{Title: "Another", RewardPrice: 1})
	assert.ErrorIs(t, err, ErrAuthorDisabled)
}

func TestUpdateTaskOnlyByAuthorWhileOpen(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "user-1", 0, false)
	f.createTask(t)
	ctx := context.Background()
	reward := int64(750)

	_, err := f.svc.UpdateTask(ctx, entity.Actor{UserID: "user-2"}, "task-1", TaskUpdate{RewardPrice: &reward})
	assert.ErrorIs(t, err, ErrForbidden)

	rec, err := f.svc.UpdateTask(ctx, alice, "task-1", TaskUpdate{RewardPrice: &reward})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Meta.Version)
	assert.Equal(t, int64(750), rec.State.RewardPrice)

	_, err = f.svc.CloseTask(ctx, alice, "task-1")
	require.NoError(t, err)
	_, err = f.svc.UpdateTask(ctx, alice, "task-1", TaskUpdate{RewardPrice: &reward})
	assert.ErrorIs(t, err, ErrTaskLocked)

	_, err = f.svc.UpdateTask(ctx, alice, "task-404", TaskUpdate{})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Len(t, f.bus.OfType(contracts.TaskUpdated), 2)
}

func TestApprovalIntent(t *testing.T) {
	f := newFixture(t)
	approvedAt := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	intent := contracts.TaskApprovedEvent{ApprovalID: "approval-task-1", TaskID: "task-1", ModeratorID: "mod-1", ApprovedAt: approvedAt}

	out := f.deliver(t, contracts.TaskApprovalRequested, intent)
	assert.Equal(t, replication.Redelivered, out.Kind)
	assert.ErrorIs(t, out.Reason, replication.ErrNotYetKnown)

	f.seedUser(t, "user-1", 0, false)
	f.createTask(t)
	out = f.deliver(t, contracts.TaskApprovalRequested, intent)
	require.Equal(t, replication.Applied, out.Kind)
	out = f.deliver(t, contracts.TaskApprovalRequested, intent)
	assert.ErrorIs(t, out.Reason, replication.ErrDuplicate)

	rec, err := f.svc.Get(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, contracts.TaskApproved, rec.State.TaskStatus)
	assert.Equal(t, approvedAt, *rec.State.ApprovedAt)
	assert.Equal(t, "mod-1", *rec.Meta.LastUpdatedByUserID)

	updated := f.bus.OfType(contracts.TaskUpdated)
	require.Len(t, updated, 1)
	ev := replicationtest.Decode[contracts.TaskEvent](t, updated[0])
	assert.Equal(t, contracts.TaskApproved, ev.TaskStatus)
	assert.Equal(t, int64(1), ev.Version)
}

func payout(version int64, status string) contracts.TransactionEvent {
	return contracts.TransactionEvent{
		Header:            contracts.Header{PublicID: "payout-task-1", Version: version, CreatedByUserID: entity.SystemUserID},
		Amount:            500,
		TransactionStatus: status,
		TransactionType:   contracts.TransactionTaskPayout,
		UserID:            "user-1",
		TaskID:            "task-1",
	}
}

func TestCompletedPayoutMarksTaskPaidOnce(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "user-1", 0, false)
	f.createTask(t)

	assert.Equal(t, replication.Applied, f.deliver(t, contracts.TransactionCreated, payout(0, contracts.TransactionPending)).Kind)
	rec, err := f.svc.Get(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, contracts.TaskOpen, rec.State.TaskStatus)

	assert.Equal(t, replication.Applied, f.deliver(t, contracts.TransactionUpdated, payout(1, contracts.TransactionCompleted)).Kind)
	out := f.deliver(t, contracts.TransactionUpdated, payout(1, contracts.TransactionCompleted))
	assert.Equal(t, replication.Dropped, out.Kind)

	rec, err = f.svc.Get(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, contracts.TaskPaid, rec.State.TaskStatus)
	assert.Equal(t, int64(1), rec.Meta.Version)
	assert.Len(t, f.bus.OfType(contracts.TaskUpdated), 1)
}
