package audit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentilytics/sentilytics/internal/auth"
)

type stubLister struct {
	owner  string
	params ListParams
	logs   []AuditLog
	err    error
}

func (s *stubLister) ListByOwner(_ context.Context, owner string, params ListParams) ([]AuditLog, int64, error) {
	s.owner = owner
	s.params = params
	return s.logs, int64(len(s.logs)), s.err
}

func request(target string, id *auth.Identity) *http.Request {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if id != nil {
		req = req.WithContext(auth.WithIdentity(req.Context(), id))
	}
	return req
}

func TestHandler_List(t *testing.T) {
	repo := &stubLister{logs: []AuditLog{{OwnerUserID: "u1", EventType: "credits_deducted", Severity: "info"}}}
	h := NewHandler(repo)

	rec := httptest.NewRecorder()
	h.List(rec, request("/api/v1/audit?page=2&page_size=5&severity=critical&from=2026-01-01T00:00:00Z", &auth.Identity{UserID: "u1"}))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", repo.owner)
	assert.Equal(t, 2, repo.params.Page)
	assert.Equal(t, 5, repo.params.PageSize)
	assert.Equal(t, "critical", repo.params.Severity)
	require.NotNil(t, repo.params.From)
	assert.Nil(t, repo.params.To)

	var body struct {
		Data       []AuditLog `json:"data"`
		TotalCount int64      `json:"total_count"`
		Page       int        `json:"page"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Data, 1)
	assert.Equal(t, int64(1), body.TotalCount)
	assert.Equal(t, 2, body.Page)
}

func TestHandler_ListErrors(t *testing.T) {
	t.Run("unauthenticated", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NewHandler(&stubLister{}).List(rec, request("/api/v1/audit", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("bad timestamp", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NewHandler(&stubLister{}).List(rec, request("/api/v1/audit?to=yesterday", &auth.Identity{UserID: "u1"}))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("repository failure", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NewHandler(&stubLister{err: errors.New("db down")}).List(rec, request("/api/v1/audit", &auth.Identity{UserID: "u1"}))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}
