package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOwnedStampCreateResetsMeta(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	by := "old"
	m := Meta{PublicID: "u-1", Version: 7, LastUpdatedAt: &now, LastUpdatedByUserID: &by}

	Owned{}.StampCreate(&m, Actor{UserID: "alice"}, now)

	assert.Equal(t, int64(0), m.Version)
	assert.Equal(t, now, m.CreatedAt)
	assert.Equal(t, "alice", m.CreatedByUserID)
	assert.Nil(t, m.LastUpdatedAt)
	assert.Nil(t, m.LastUpdatedByUserID)
}

func TestOwnedStampUpdateIncrementsByOne(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	m := Meta{PublicID: "u-1", Version: 4}

	expected := Owned{}.StampUpdate(&m, Actor{UserID: "bob"}, now)

	assert.Equal(t, int64(4), expected)
	assert.Equal(t, int64(5), m.Version)
	require.NotNil(t, m.LastUpdatedAt)
	require.NotNil(t, m.LastUpdatedByUserID)
	assert.Equal(t, now, *m.LastUpdatedAt)
	assert.Equal(t, "bob", *m.LastUpdatedByUserID)
}

func TestReplicaNeverTouchesMeta(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := Meta{PublicID: "t-1", Version: 6, CreatedAt: created, CreatedByUserID: "owner"}
	before := m

	Replica{}.StampCreate(&m, SystemActor, time.Now())
	expected := Replica{}.StampUpdate(&m, SystemActor, time.Now())

	assert.Equal(t, before, m)
	assert.Equal(t, int64(5), expected)
}
