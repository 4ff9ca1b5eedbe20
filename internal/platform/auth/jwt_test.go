package auth

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedManager(ttl time.Duration, now time.Time) Manager {
	m := NewManager("secret", ttl)
	m.Now = func() time.Time { return now }
	return m
}

func TestSignAndParseCarriesRole(t *testing.T) {
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	m := fixedManager(time.Hour, now)

	tok, err := m.Sign("u1", "alice", RoleModerator)
	require.NoError(t, err)

	claims, err := m.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, RoleModerator, claims.Role)
	assert.Equal(t, Issuer, claims.Issuer)
	assert.Equal(t, now.Unix(), claims.IssuedAt)
	assert.True(t, claims.HasRole(RoleAdmin, RoleModerator))
	assert.False(t, claims.HasRole(RoleAdmin))
}

func TestSignDefaultsToUserRole(t *testing.T) {
	m := NewManager("secret", time.Hour)
	tok, err := m.Sign("u1", "alice", "")
	require.NoError(t, err)

	claims, err := m.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, RoleUser, claims.Role)
}

func TestParseExpired(t *testing.T) {
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	m := fixedManager(time.Second, now)
	tok, err := m.Sign("u1", "alice", "")
	require.NoError(t, err)

	m.Now = func() time.Time { return now.Add(2 * time.Second) }
	_, err = m.Parse(tok)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestParseRejectsForeignSecret(t *testing.T) {
	tok, err := NewManager("secret", time.Hour).Sign("u1", "alice", RoleUser)
	require.NoError(t, err)

	_, err = NewManager("other-secret", time.Hour).Parse(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsMalformed(t *testing.T) {
	m := NewManager("secret", time.Hour)
	tok, err := m.Sign("u1", "alice", RoleUser)
	require.NoError(t, err)
	parts := strings.Split(tok, ".")

	unsigned := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	for name, token := range map[string]string{
		"empty":       "",
		"two parts":   parts[0] + "." + parts[1],
		"bad sig":     parts[0] + "." + parts[1] + ".!!",
		"alg swapped": unsigned + "." + parts[1] + "." + parts[2],
	} {
		_, err := m.Parse(token)
		assert.ErrorIs(t, err, ErrInvalidToken, name)
	}
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "abc", BearerToken("bearer  abc "))
	assert.Empty(t, BearerToken("Basic abc"))
	assert.Empty(t, BearerToken("Bearer"))
	assert.Empty(t, BearerToken(""))
}
