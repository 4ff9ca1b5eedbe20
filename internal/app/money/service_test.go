package money

import (
	"context"
	"encoding/json"
	"errors"
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

var admin = entity.Actor{UserID: "admin-1"}

type fixture struct {
	svc    *Service
	bus    *replicationtest.Bus
	routes map[string]replication.Handler
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	bus := &replicationtest.Bus{}
	svc := NewService(Deps{
		Transactions: store.NewMemory[Transaction](),
		Users:        store.NewMemory[replicas.User](),
		Tasks:        store.NewMemory[replicas.Task](),
		Bus:          bus,
		Tokens:       auth.NewManager("test-secret", time.Hour),
		Policy:       replication.DefaultPolicy(),
		Log:          logging.Discard(),
	})
	svc.NewID = func() string { return "tx-1" }
	routes := map[string]replication.Handler{}
	for _, r := range svc.Routes() {
		routes[r.EventType] = r.Handler
	}
	return fixture{svc: svc, bus: bus, routes: routes}
}

func (f fixture) deliver(t *testing.T, eventType string, ev any, attempt int) replication.Outcome {
	t.Helper()
	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	return f.routes[eventType].Handle(context.Background(), replication.Message{Data: raw, Attempt: attempt})
}

func user(version int64, banned bool) contracts.UserEvent {
	return contracts.UserEvent{
		Header:   contracts.Header{PublicID: "user-1", Version: version, CreatedByUserID: "user-1"},
		UserName: "alice",
		IsActive: true,
		IsBanned: banned,
	}
}

func task(version int64, status string) contracts.TaskEvent {
	return contracts.TaskEvent{
		Header:      contracts.Header{PublicID: "task-1", Version: version, CreatedByUserID: "user-1"},
		Title:       "Fix roof",
		TaskStatus:  status,
		RewardPrice: 500,
		AuthorID:    "user-1",
	}
}

func TestApprovedTaskOpensSinglePayout(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, replication.Applied, f.deliver(t, contracts.UserCreated, user(0, false), 1).Kind)
	require.Equal(t, replication.Applied, f.deliver(t, contracts.TaskCreated, task(0, contracts.TaskOpen), 1).Kind)
	assert.Empty(t, f.bus.Messages())

	require.Equal(t, replication.Applied, f.deliver(t, contracts.TaskUpdated, task(1, contracts.TaskApproved), 1).Kind)
	created := f.bus.OfType(contracts.TransactionCreated)
	require.Len(t, created, 1)
	assert.Equal(t, "transaction.created:payout-task-1:0", created[0].MsgID)
	ev := replicationtest.Decode[contracts.TransactionEvent](t, created[0])
	assert.Equal(t, int64(500), ev.Amount)
	assert.Equal(t, contracts.TransactionTaskPayout, ev.TransactionType)
	assert.Equal(t, "user-1", ev.UserID)
	assert.Equal(t, entity.SystemUserID, ev.CreatedByUserID)

	out := f.deliver(t, contracts.TaskUpdated, task(1, contracts.TaskApproved), 2)
	assert.Equal(t, replication.Dropped, out.Kind)
	_, err := f.svc.PayoutTask(context.Background(), admin, "task-1")
	assert.ErrorIs(t, err, ErrAlreadyPaid)

	// Repeats carry the same message id, so the stream keeps one copy.
	for _, msg := range f.bus.OfType(contracts.TransactionCreated) {
		assert.Equal(t, "transaction.created:payout-task-1:0", msg.MsgID)
	}
	assert.Len(t, f.svc.Transactions.Backend.(*store.Memory[Transaction]).All(), 1)
}

func TestRepeatedPayoutRepublishesLostEvent(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, replication.Applied, f.deliver(t, contracts.UserCreated, user(0, false), 1).Kind)
	require.Equal(t, replication.Applied, f.deliver(t, contracts.TaskCreated, task(0, contracts.TaskOpen), 1).Kind)

	f.bus.Err = errors.New("nats unavailable")
	require.Equal(t, replication.Applied, f.deliver(t, contracts.TaskUpdated, task(1, contracts.TaskApproved), 1).Kind)
	require.Empty(t, f.bus.Messages())

	f.bus.Err = nil
	out := f.deliver(t, contracts.TaskUpdated, task(1, contracts.TaskApproved), 1)
	assert.Equal(t, replication.Dropped, out.Kind)
	assert.ErrorIs(t, out.Reason, replication.ErrDuplicate)

	created := f.bus.OfType(contracts.TransactionCreated)
	require.Len(t, created, 1)
	ev := replicationtest.Decode[contracts.TransactionEvent](t, created[0])
	assert.Equal(t, "payout-task-1", ev.PublicID)
	assert.Equal(t, int64(0), ev.Version)
	assert.Equal(t, contracts.TransactionPending, ev.TransactionStatus)
}

func TestPayoutWaitsForAuthorReplica(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, replication.Applied, f.deliver(t, contracts.TaskCreated, task(0, contracts.TaskOpen), 1).Kind)

	out := f.deliver(t, contracts.TaskUpdated, task(1, contracts.TaskApproved), 1)
	assert.Equal(t, replication.Redelivered, out.Kind)
	assert.ErrorIs(t, out.Reason, replication.ErrNotYetKnown)

	require.Equal(t, replication.Applied, f.deliver(t, contracts.UserCreated, user(0, false), 1).Kind)
	out = f.deliver(t, contracts.TaskUpdated, task(1, contracts.TaskApproved), 2)
	assert.Equal(t, replication.Dropped, out.Kind)
	assert.ErrorIs(t, out.Reason, replication.ErrDuplicate)
	assert.Len(t, f.bus.OfType(contracts.TransactionCreated), 1)
}

func TestPayoutRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.PayoutTask(ctx, admin, "task-1")
	assert.ErrorIs(t, err, ErrTaskUnknown)

	f.deliver(t, contracts.UserCreated, user(0, false), 1)
	f.deliver(t, contracts.TaskCreated, task(0, contracts.TaskOpen), 1)
	_, err = f.svc.PayoutTask(ctx, admin, "task-1")
	assert.ErrorIs(t, err, ErrTaskNotApproved)

	f.deliver(t, contracts.UserUpdated, user(1, true), 1)
	out := f.deliver(t, contracts.TaskUpdated, task(1, contracts.TaskApproved), 1)
	assert.Equal(t, replication.Applied, out.Kind)
	assert.Empty(t, f.bus.OfType(contracts.TransactionCreated))

	_, err = f.svc.PayoutTask(ctx, admin, "task-1")
	assert.ErrorIs(t, err, ErrUserDisabled)
}

func TestDepositAndCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := entity.Actor{UserID: "user-1"}

	_, err := f.svc.Deposit(ctx, alice, DepositRequest{Amount: 100})
	assert.ErrorIs(t, err, ErrUserUnknown)
	f.deliver(t, contracts.UserCreated, user(0, false), 1)
	_, err = f.svc.Deposit(ctx, alice, DepositRequest{Amount: 0})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	rec, err := f.svc.Deposit(ctx, alice, DepositRequest{Amount: 100, Description: " top up "})
	require.NoError(t, err)
	assert.Equal(t, "top up", rec.State.Description)
	assert.Equal(t, contracts.TransactionPending, rec.State.TransactionStatus)

	rec, err = f.svc.CompleteTransaction(ctx, admin, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Meta.Version)
	assert.Equal(t, contracts.TransactionCompleted, rec.State.TransactionStatus)

	_, err = f.svc.FailTransaction(ctx, admin, "tx-1")
	assert.ErrorIs(t, err, ErrNotPending)
	_, err = f.svc.CompleteTransaction(ctx, admin, "tx-404")
	assert.ErrorIs(t, err, ErrNotFound)

	updated := f.bus.OfType(contracts.TransactionUpdated)
	require.Len(t, updated, 1)
	assert.Equal(t, "transaction.updated:tx-1:1", updated[0].MsgID)
}
