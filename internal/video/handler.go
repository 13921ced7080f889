package video

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/sentilytics/sentilytics/internal/api"
	"github.com/sentilytics/sentilytics/internal/auth"
)

// Registrar records uploads. *Repository satisfies it.
type Registrar interface {
	Register(ctx context.Context, f *File) error
}

type Handler struct {
	repo     Registrar
	validate *validator.Validate
}

func NewHandler(repo Registrar) *Handler {
	return &Handler{repo: repo, validate: validator.New()}
}

// Register reserves a storage key for the caller's next upload. Only keys
// registered here can be sent for sentiment analysis, and only by their owner.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	id := auth.GetIdentity(r.Context())
	if id == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	var req RegisterRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<12)).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	req.FileType = strings.ToLower(req.FileType)
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError("invalid file type, only .mp4, .mov and .avi are supported"))
		return
	}

	f := &File{
		Key:    KeyPrefix + uuid.NewString() + req.FileType,
		UserID: id.UserID,
	}
	if err := h.repo.Register(r.Context(), f); err != nil {
		slog.Error("registering video file", "error", err, "user_id", id.UserID)
		api.HandleError(w, api.ErrServiceUnavailable)
		return
	}

	slog.Info("video file registered", "key", f.Key, "user_id", id.UserID)
	api.JSON(w, http.StatusCreated, RegisterResponse{Key: f.Key, FileType: req.FileType, Status: f.Status})
}
