package moderation

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cashflow/platform/internal/platform/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPRequiresModerator(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	h := NewHandler(f.svc, "").Router()

	do := func(role, path, body string) *httptest.ResponseRecorder {
		tok, err := f.svc.Tokens.Sign("mod-1", "mod", role)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
		req.Header.Set("Authorization", "Bearer "+tok)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusForbidden, do(auth.RoleUser, "/api/v1/users/user-1/ban", `{"reason":"spam"}`).Code)
	rec := do(auth.RoleModerator, "/api/v1/users/user-1/ban", `{"reason":"spam"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"kind":"ban"`)

	assert.Equal(t, http.StatusBadRequest, do(auth.RoleAdmin, "/api/v1/users/user-1/warn", `{"reason":""}`).Code)
	assert.Equal(t, http.StatusNotFound, do(auth.RoleAdmin, "/api/v1/users/user-9/warn", `{"reason":"x"}`).Code)
	assert.Equal(t, http.StatusAccepted, do(auth.RoleModerator, "/api/v1/tasks/task-1/approve", ``).Code)
}
