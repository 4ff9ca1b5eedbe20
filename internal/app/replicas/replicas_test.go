package replicas

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/cashflow/platform/internal/contracts"
	"github.com/cashflow/platform/internal/entity"
	"github.com/cashflow/platform/internal/platform/logging"
	"github.com/cashflow/platform/internal/replication"
	"github.com/cashflow/platform/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func userPayload(t *testing.T, version int64, banned bool) []byte {
	t.Helper()
	raw, err := json.Marshal(contracts.UserEvent{
		Header: contracts.Header{
			PublicID:        "user-1",
			Version:         version,
			CreatedAt:       time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
			CreatedByUserID: "user-1",
		},
		UserName: "alice",
		IsActive: true,
		IsBanned: banned,
	})
	require.NoError(t, err)
	return raw
}

func TestUserRoutesMaintainReplica(t *testing.T) {
	repo := store.NewRepository[User, entity.Replica](store.NewMemory[User]())
	routes := UserRoutes(repo, replication.DefaultPolicy(), logging.Discard())
	require.Len(t, routes, 2)
	created, updated := routes[0], routes[1]
	assert.Equal(t, contracts.UserCreated, created.EventType)
	assert.Equal(t, contracts.UserUpdated, updated.EventType)
	ctx := context.Background()

	out := updated.Handler.Handle(ctx, replication.Message{Data: userPayload(t, 1, true), Attempt: 1})
	assert.Equal(t, replication.Redelivered, out.Kind)
	assert.ErrorIs(t, out.Reason, replication.ErrNotYetKnown)

	out = created.Handler.Handle(ctx, replication.Message{Data: userPayload(t, 0, false), Attempt: 1})
	assert.Equal(t, replication.Applied, out.Kind)
	out = updated.Handler.Handle(ctx, replication.Message{Data: userPayload(t, 1, true), Attempt: 2})
	assert.Equal(t, replication.Applied, out.Kind)

	rec, err := repo.Find(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Meta.Version)
	assert.True(t, rec.State.IsBanned)
	assert.False(t, rec.State.CanAct())
}

func TestProjections(t *testing.T) {
	approved := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	task := ProjectTask(contracts.TaskEvent{
		Title: "Paint", TaskStatus: contracts.TaskApproved, RewardPrice: 500, AuthorID: "user-1", ApprovedAt: &approved,
	})
	assert.Equal(t, Task{Title: "Paint", TaskStatus: contracts.TaskApproved, RewardPrice: 500, AuthorID: "user-1", ApprovedAt: &approved}, task)

	tx := ProjectTransaction(contracts.TransactionEvent{
		Amount: 500, TransactionStatus: contracts.TransactionCompleted, TransactionType: contracts.TransactionTaskPayout,
		UserID: "user-1", TaskID: "task-1", Description: "ignored",
	})
	assert.Equal(t, "task-1", tx.TaskID)
	assert.Equal(t, contracts.TransactionCompleted, tx.TransactionStatus)
}
