package quota

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/sentilytics/sentilytics/internal/api"
	"github.com/sentilytics/sentilytics/internal/auth"
	"github.com/sentilytics/sentilytics/internal/ledger"
	"github.com/sentilytics/sentilytics/internal/metering"
	inats "github.com/sentilytics/sentilytics/internal/nats"
)

// purchaseListLimit caps the purchase history returned to a user.
const purchaseListLimit = 50

// recordTimeout bounds purchase bookkeeping that must finish after the
// billing caller has gone away.
const recordTimeout = 5 * time.Second

type Handler struct {
	ledger    *ledger.Ledger
	purchases Purchases
	events    metering.EventPublisher
	validate  *validator.Validate
}

// Option configures a Handler.
type Option func(*Handler)

// WithPublisher emits a credits_granted audit event for every grant.
func WithPublisher(p metering.EventPublisher) Option {
	return func(h *Handler) { h.events = p }
}

// NewHandler creates the quota handlers. Grants carrying a reference are
// recorded in purchases and applied at most once.
func NewHandler(l *ledger.Ledger, purchases Purchases, opts ...Option) *Handler {
	h := &Handler{
		ledger:    l,
		purchases: purchases,
		validate:  validator.New(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Status provisions the caller on first visit and returns the quota view.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	id := auth.GetIdentity(r.Context())
	if id == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	if _, err := h.ledger.Provision(r.Context(), id.UserID); err != nil {
		slog.Error("provisioning quota", "error", err, "user_id", id.UserID)
		api.HandleError(w, api.ErrServiceUnavailable)
		return
	}

	st, err := h.ledger.Status(r.Context(), id.UserID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			api.HandleError(w, api.ErrQuotaNotFound)
			return
		}
		slog.Error("reading quota status", "error", err, "user_id", id.UserID)
		api.HandleError(w, api.ErrServiceUnavailable)
		return
	}

	recs := make(map[string]string, len(st.Affordability))
	for kind, n := range st.Affordability {
		if n > 0 {
			recs[kind] = "available"
		} else {
			recs[kind] = "insufficient_quota"
		}
	}

	api.JSON(w, http.StatusOK, StatusResponse{
		Status:          st,
		UsagePercentage: UsagePercentage(st.RequestsUsed, st.MaxRequests),
		Level:           Level(st.Remaining),
		Recommendations: recs,
	})
}

// APIKey returns the caller's API key, provisioning a record if needed.
func (h *Handler) APIKey(w http.ResponseWriter, r *http.Request) {
	id := auth.GetIdentity(r.Context())
	if id == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	rec, err := h.ledger.Provision(r.Context(), id.UserID)
	if err != nil {
		slog.Error("provisioning quota", "error", err, "user_id", id.UserID)
		api.HandleError(w, api.ErrServiceUnavailable)
		return
	}

	api.JSON(w, http.StatusOK, APIKeyResponse{APIKey: rec.SecretKey})
}

// Grant applies purchased credits. Only reachable behind the internal token.
func (h *Handler) Grant(w http.ResponseWriter, r *http.Request) {
	var req GrantRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	credits := req.Credits
	switch {
	case req.Plan != "" && req.Credits != 0:
		api.HandleError(w, api.NewValidationError("set either credits or plan, not both"))
		return
	case req.Plan != "":
		c, err := PlanCredits(req.Plan)
		if err != nil {
			api.HandleError(w, api.NewValidationError(err.Error()))
			return
		}
		credits = c
	case credits == 0:
		api.HandleError(w, api.NewValidationError("credits or plan is required"))
		return
	}

	mode := ledger.GrantStack
	if req.Mode != "" {
		mode = ledger.GrantMode(req.Mode)
	}

	if req.Reference != "" {
		p := &Purchase{
			Reference:      req.Reference,
			UserID:         req.UserID,
			PlanType:       strings.ToLower(strings.TrimSpace(req.Plan)),
			CreditsGranted: credits,
			Mode:           string(mode),
			Amount:         req.Amount,
			Currency:       strings.ToLower(req.Currency),
		}
		state, err := h.purchases.Begin(r.Context(), p)
		switch {
		case errors.Is(err, ErrReferenceMismatch):
			api.HandleError(w, api.NewError(http.StatusConflict, err.Error(), nil))
			return
		case err != nil:
			slog.Error("recording purchase", "error", err, "reference", req.Reference)
			api.HandleError(w, api.ErrServiceUnavailable)
			return
		case state == PurchaseCompleted:
			slog.Info("duplicate grant ignored", "reference", req.Reference, "user_id", req.UserID)
			api.JSONMessage(w, http.StatusOK, "grant already applied")
			return
		case state == PurchasePending:
			api.HandleError(w, api.NewError(http.StatusConflict, "grant in progress, retry later", map[string]any{
				"reference": req.Reference,
			}))
			return
		}
	}

	rec, err := h.ledger.Grant(r.Context(), req.UserID, credits, mode)

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), recordTimeout)
	defer cancel()

	if err != nil {
		if req.Reference != "" {
			if abErr := h.purchases.Abandon(recordCtx, req.Reference); abErr != nil {
				slog.Error("abandoning purchase", "error", abErr, "reference", req.Reference)
			}
		}
		if errors.Is(err, ledger.ErrInvalidGrant) {
			api.HandleError(w, api.NewValidationError(err.Error()))
			return
		}
		slog.Error("granting credits", "error", err, "user_id", req.UserID)
		api.HandleError(w, api.ErrServiceUnavailable)
		return
	}

	if req.Reference != "" {
		if err := h.purchases.Complete(recordCtx, req.Reference); err != nil {
			slog.Error("completing purchase",
				"error", err, "reference", req.Reference, "user_id", req.UserID, "reconciliation_required", true)
		}
	}
	h.publishGrant(recordCtx, req, credits, mode, rec)

	api.JSON(w, http.StatusOK, GrantResponse{
		UserID:       rec.UserID,
		Credited:     credits,
		Mode:         string(mode),
		MaxRequests:  rec.MaxRequests,
		RequestsUsed: rec.RequestsUsed,
		Remaining:    rec.Remaining(),
		ResetDate:    rec.ResetDate,
	})
}

func (h *Handler) publishGrant(ctx context.Context, req GrantRequest, credits int, mode ledger.GrantMode, rec *ledger.Record) {
	if h.events == nil {
		return
	}
	resourceID := req.Reference
	if resourceID == "" {
		resourceID = uuid.NewString()
	}
	event := inats.AuditEvent{
		OwnerUserID:  req.UserID,
		EventType:    metering.EventCreditsGranted,
		Severity:     inats.SeverityInfo,
		ResourceType: "purchase",
		ResourceID:   resourceID,
		Details: map[string]any{
			"credits":      credits,
			"mode":         string(mode),
			"plan":         req.Plan,
			"max_requests": rec.MaxRequests,
			"remaining":    rec.Remaining(),
		},
		Timestamp: time.Now().UTC(),
	}
	if err := h.events.PublishAuditEvent(ctx, event); err != nil {
		slog.Warn("publishing audit event", "event_type", event.EventType, "error", err)
	}
}

// Purchases lists the caller's recorded billing grants.
func (h *Handler) Purchases(w http.ResponseWriter, r *http.Request) {
	id := auth.GetIdentity(r.Context())
	if id == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	purchases, err := h.purchases.ListByUser(r.Context(), id.UserID, purchaseListLimit)
	if err != nil {
		slog.Error("listing purchases", "error", err, "user_id", id.UserID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	api.JSON(w, http.StatusOK, purchases)
}
