package audit

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/sentilytics/sentilytics/internal/api"
	"github.com/sentilytics/sentilytics/internal/auth"
)

// Lister reads audit logs. *Repository satisfies it.
type Lister interface {
	ListByOwner(ctx context.Context, ownerUserID string, params ListParams) ([]AuditLog, int64, error)
}

type Handler struct {
	repo Lister
}

func NewHandler(repo Lister) *Handler {
	return &Handler{repo: repo}
}

// List returns the caller's ledger audit trail, newest first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	id := auth.GetIdentity(r.Context())
	if id == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	q := r.URL.Query()
	params := DefaultListParams()
	if p := q.Get("page"); p != "" {
		if page, err := strconv.Atoi(p); err == nil && page > 0 {
			params.Page = page
		}
	}
	if ps := q.Get("page_size"); ps != "" {
		if pageSize, err := strconv.Atoi(ps); err == nil && pageSize > 0 && pageSize <= 100 {
			params.PageSize = pageSize
		}
	}
	params.EventType = q.Get("event_type")
	params.Severity = q.Get("severity")

	for _, f := range []struct {
		name string
		dest **time.Time
	}{{"from", &params.From}, {"to", &params.To}} {
		raw := q.Get(f.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			api.HandleError(w, api.NewBadRequestError(f.name+" must be an RFC3339 timestamp"))
			return
		}
		*f.dest = &t
	}

	logs, totalCount, err := h.repo.ListByOwner(r.Context(), id.UserID, params)
	if err != nil {
		slog.Error("listing audit logs", "error", err, "user_id", id.UserID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSONPaginated(w, http.StatusOK, logs, totalCount, params.Page, params.PageSize)
}
