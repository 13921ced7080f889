package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/sentilytics/sentilytics/internal/api"
	"github.com/sentilytics/sentilytics/internal/auth"
	"github.com/sentilytics/sentilytics/internal/inference"
	"github.com/sentilytics/sentilytics/internal/ledger"
	"github.com/sentilytics/sentilytics/internal/metering"
	"github.com/sentilytics/sentilytics/internal/video"
)

// MaxVideoSize caps live detection uploads.
const MaxVideoSize = 100 << 20

// videoUpdateTimeout bounds the video_files write after an analysis finishes.
const videoUpdateTimeout = 5 * time.Second

// multipartMemory is how much of a form is buffered in memory before spilling to disk.
const multipartMemory = 32 << 20

type SentimentAnalyzer interface {
	Analyze(ctx context.Context, key string) (json.RawMessage, error)
}

type DocumentAnalyzer interface {
	Health(ctx context.Context) (*inference.Health, error)
	Ready(ctx context.Context) (*inference.Health, error)
	Analyze(ctx context.Context, filename string, doc io.Reader, analysisType string) (json.RawMessage, error)
}

// VideoFiles guards sentiment analysis so a stored video is analyzed once,
// by its owner. *video.Repository satisfies it.
type VideoFiles interface {
	Claim(ctx context.Context, key, userID string) error
	Complete(ctx context.Context, key string) error
	Release(ctx context.Context, key string) error
}

type LiveAnalyzer interface {
	Process(ctx context.Context, req inference.LiveRequest) (json.RawMessage, error)
}

var (
	_ SentimentAnalyzer = (*inference.SentimentClient)(nil)
	_ DocumentAnalyzer  = (*inference.PDFClient)(nil)
	_ LiveAnalyzer      = (*inference.LiveProcessor)(nil)
	_ VideoFiles        = (*video.Repository)(nil)
)

type Handler struct {
	meter     *metering.Meter
	sentiment SentimentAnalyzer
	videos    VideoFiles
	documents DocumentAnalyzer
	live      LiveAnalyzer
	timeout   time.Duration
	validate  *validator.Validate
}

func NewHandler(meter *metering.Meter, sentiment SentimentAnalyzer, videos VideoFiles, documents DocumentAnalyzer, live LiveAnalyzer, timeout time.Duration) *Handler {
	return &Handler{
		meter:     meter,
		sentiment: sentiment,
		videos:    videos,
		documents: documents,
		live:      live,
		timeout:   timeout,
		validate:  validator.New(),
	}
}

// Sentiment analyzes an uploaded video by its storage key. The key must have
// been registered by the caller and not analyzed yet.
func (h *Handler) Sentiment(w http.ResponseWriter, r *http.Request) {
	id := auth.GetIdentity(r.Context())
	if id == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	var req SentimentRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	if err := h.videos.Claim(r.Context(), req.Key, id.UserID); err != nil {
		api.HandleError(w, claimError(err))
		return
	}

	var result json.RawMessage
	out, err := h.meter.Run(r.Context(), id.UserID, ledger.KindSentimentAnalysis, h.timeout, func(ctx context.Context) error {
		var err error
		result, err = h.sentiment.Analyze(ctx, req.Key)
		return err
	})

	fileCtx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), videoUpdateTimeout)
	defer cancel()
	if err != nil {
		if relErr := h.videos.Release(fileCtx, req.Key); relErr != nil {
			slog.Error("releasing video file", "error", relErr, "key", req.Key, "user_id", id.UserID)
		}
	} else if compErr := h.videos.Complete(fileCtx, req.Key); compErr != nil {
		slog.Error("marking video file analyzed", "error", compErr, "key", req.Key, "user_id", id.UserID)
	}
	h.respond(w, out, result, err)
}

// Live runs emotion detection on a recorded clip.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	id := auth.GetIdentity(r.Context())
	if id == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxVideoSize+1<<20)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		h.formError(w, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, _, err := r.FormFile("video")
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("video file is required"))
		return
	}
	defer file.Close()

	clip, err := io.ReadAll(file)
	if err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if len(clip) == 0 {
		api.HandleError(w, api.NewBadRequestError("video file is empty"))
		return
	}

	cost, err := h.meter.Cost(ledger.KindLiveDetection)
	if err != nil {
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	var result json.RawMessage
	out, err := h.meter.Run(r.Context(), id.UserID, ledger.KindLiveDetection, h.timeout, func(ctx context.Context) error {
		var err error
		result, err = h.live.Process(ctx, inference.LiveRequest{
			UserID:    id.UserID,
			Duration:  r.FormValue("duration"),
			Video:     clip,
			QuotaUsed: cost,
		})
		return err
	})
	h.respond(w, out, result, err)
}

// PDF analyzes a PDF or spreadsheet. The upload is validated and the
// analyzer's readiness confirmed before any credits are touched.
func (h *Handler) PDF(w http.ResponseWriter, r *http.Request) {
	id := auth.GetIdentity(r.Context())
	if id == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, inference.MaxDocumentSize+1<<20)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		h.formError(w, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("file is required"))
		return
	}
	defer file.Close()

	if !inference.ValidDocumentName(header.Filename) {
		api.HandleError(w, api.NewValidationError("file must be a PDF or Excel file (.pdf, .xlsx, .xls)"))
		return
	}
	if header.Size > inference.MaxDocumentSize {
		api.HandleError(w, api.NewError(http.StatusRequestEntityTooLarge, "file size must be less than 50MB", nil))
		return
	}

	analysisType := r.FormValue("analysisType")
	if analysisType == "" {
		analysisType = r.FormValue("analysis_type")
	}
	if analysisType == "" {
		analysisType = inference.AnalysisBoth
	}
	if !inference.ValidAnalysisType(analysisType) {
		api.HandleError(w, api.NewValidationError("analysisType must be individual, combined or both"))
		return
	}

	if _, err := h.documents.Ready(r.Context()); err != nil {
		slog.Warn("document analyzer not ready", "error", err)
		api.HandleError(w, api.NewError(http.StatusServiceUnavailable, "PDF analyzer service unavailable", map[string]any{
			"refunded":        false,
			"refunded_amount": 0,
		}))
		return
	}

	var result json.RawMessage
	out, err := h.meter.Run(r.Context(), id.UserID, ledger.KindPDFAnalysis, h.timeout, func(ctx context.Context) error {
		var err error
		result, err = h.documents.Analyze(ctx, header.Filename, file, analysisType)
		return err
	})
	h.respond(w, out, result, err)
}

// PDFStatus reports whether the document analyzer can take work. Not metered.
func (h *Handler) PDFStatus(w http.ResponseWriter, r *http.Request) {
	health, err := h.documents.Health(r.Context())
	if err != nil {
		slog.Warn("document analyzer health check failed", "error", err)
		api.HandleError(w, api.NewError(http.StatusServiceUnavailable, "PDF analyzer service unavailable", map[string]any{
			"available": false,
		}))
		return
	}

	api.JSON(w, http.StatusOK, ServiceStatus{
		Available:      health.AllModelsReady,
		AllModelsReady: health.AllModelsReady,
		ModelsLoaded:   health.ModelsLoaded,
	})
}

func (h *Handler) respond(w http.ResponseWriter, out *metering.Outcome, result json.RawMessage, err error) {
	if err != nil {
		api.HandleError(w, meteringError(err))
		return
	}
	api.JSON(w, http.StatusOK, Response{
		OperationID: out.OperationID,
		Kind:        out.Kind,
		Result:      result,
		QuotaUsed:   out.Cost,
		Remaining:   out.Remaining,
	})
}

func (h *Handler) formError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		api.HandleError(w, api.ErrRequestTooLarge)
		return
	}
	api.HandleError(w, api.NewBadRequestError("expected a multipart form"))
}
