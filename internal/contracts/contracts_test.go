package contracts

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskEventWireShape(t *testing.T) {
	created := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	ev := TaskEvent{
		Header:     Header{PublicID: "task-42", Version: 3, CreatedAt: created, CreatedByUserID: "u-1"},
		Title:      "Paint fence",
		TaskStatus: "Open",
	}

	raw, err := json.Marshal(ev)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	for _, key := range []string{"PublicId", "Version", "CreatedAt", "CreatedByUserId", "LastUpdatedAt", "LastUpdatedByUserId", "Title", "TaskStatus"} {
		assert.Contains(t, fields, key)
	}
	assert.Nil(t, fields["LastUpdatedAt"])
	assert.Equal(t, float64(3), fields["Version"])
}

func TestHeaderValidate(t *testing.T) {
	assert.ErrorIs(t, Header{}.Validate(), ErrInvalidEvent)
	assert.ErrorIs(t, Header{PublicID: "x", Version: -1}.Validate(), ErrInvalidEvent)
	assert.NoError(t, Header{PublicID: "x"}.Validate())
}

func TestHeaderMetaRoundTrip(t *testing.T) {
	at := time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC)
	by := "u-2"
	h := Header{PublicID: "p", Version: 9, CreatedAt: at, CreatedByUserID: "u-1", LastUpdatedAt: &at, LastUpdatedByUserID: &by}
	assert.Equal(t, h, NewHeader(h.Meta()))
}

func TestIntentValidate(t *testing.T) {
	assert.ErrorIs(t, UserBannedEvent{UserID: "u"}.Validate(), ErrInvalidEvent)
	assert.NoError(t, UserBannedEvent{SanctionID: "s", UserID: "u"}.Validate())
	assert.ErrorIs(t, TaskApprovedEvent{ApprovalID: "a"}.Validate(), ErrInvalidEvent)
	assert.NoError(t, TaskApprovedEvent{ApprovalID: "a", TaskID: "t"}.Validate())
}

func TestApprovalIntentTypeIsNotTaskStatus(t *testing.T) {
	assert.Equal(t, "moderation.task-approved", TaskApprovalRequested)
	assert.Equal(t, "Approved", TaskApproved)
	assert.NotEqual(t, TaskApprovalRequested, TaskApproved)
}
