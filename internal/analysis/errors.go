package analysis

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/sentilytics/sentilytics/internal/api"
	"github.com/sentilytics/sentilytics/internal/inference"
	"github.com/sentilytics/sentilytics/internal/ledger"
	"github.com/sentilytics/sentilytics/internal/metering"
	"github.com/sentilytics/sentilytics/internal/video"
)

// meteringError maps a Meter.Run failure onto the HTTP error taxonomy.
// Every collaborator failure states whether the charge was reversed.
func meteringError(err error) *api.AppError {
	var qe *metering.QuotaExceededError
	if errors.As(err, &qe) {
		return api.NewError(http.StatusTooManyRequests, "insufficient quota", map[string]any{
			"type":      "quota_exceeded",
			"remaining": qe.Remaining,
			"required":  qe.Required,
		})
	}

	var ce *metering.CallError
	if errors.As(err, &ce) {
		details := map[string]any{
			"refunded":        ce.Refunded,
			"refunded_amount": ce.RefundedAmount,
		}
		switch {
		case ce.RefundErr != nil:
			details["reconciliation_required"] = true
			return api.NewError(http.StatusInternalServerError, "analysis failed and the charge could not be reversed", details)
		case ce.TimedOut:
			return api.NewError(http.StatusGatewayTimeout, "analysis timed out", details)
		case errors.Is(ce.Err, inference.ErrUnavailable):
			return api.NewError(http.StatusServiceUnavailable, "analysis service unavailable", details)
		default:
			return api.NewError(http.StatusBadGateway, "analysis failed", details)
		}
	}

	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return api.ErrQuotaNotFound
	case errors.Is(err, ledger.ErrStoreUnavailable):
		return api.ErrServiceUnavailable
	}

	slog.Error("unexpected metering error", "error", err)
	return api.ErrInternalServer
}

// claimError maps a video file claim failure. Nothing has been charged yet.
func claimError(err error) *api.AppError {
	switch {
	case errors.Is(err, video.ErrNotFound):
		return api.NewError(http.StatusNotFound, "video file not found", nil)
	case errors.Is(err, video.ErrNotOwner):
		return api.ErrForbidden
	case errors.Is(err, video.ErrAlreadyAnalyzed):
		return api.NewBadRequestError("video file already analyzed")
	case errors.Is(err, video.ErrInProgress):
		return api.NewError(http.StatusConflict, "video file analysis in progress", nil)
	}
	slog.Error("claiming video file", "error", err)
	return api.ErrServiceUnavailable
}
