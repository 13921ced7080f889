package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"
)

// MaxDocumentSize is the largest document the analyzer accepts.
const MaxDocumentSize = 50 << 20

// Analysis types understood by the document analyzer.
const (
	AnalysisIndividual = "individual"
	AnalysisCombined   = "combined"
	AnalysisBoth       = "both"
)

var documentExtensions = map[string]bool{".pdf": true, ".xlsx": true, ".xls": true}

// ValidDocumentName reports whether filename has a supported extension.
func ValidDocumentName(filename string) bool {
	return documentExtensions[strings.ToLower(filepath.Ext(filename))]
}

// ValidAnalysisType reports whether t is a known analysis type.
func ValidAnalysisType(t string) bool {
	switch t {
	case AnalysisIndividual, AnalysisCombined, AnalysisBoth:
		return true
	}
	return false
}

// Health is the analyzer's model readiness report.
type Health struct {
	Status         string          `json:"status"`
	ModelsLoaded   map[string]bool `json:"models_loaded"`
	AllModelsReady bool            `json:"all_models_ready"`
}

// PDFClient talks to the document analyzer service.
type PDFClient struct {
	baseURL       string
	healthTimeout time.Duration
	http          *http.Client
}

// NewPDFClient creates a PDFClient.
func NewPDFClient(baseURL string, healthTimeout time.Duration, hc *http.Client) *PDFClient {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &PDFClient{
		baseURL:       strings.TrimRight(baseURL, "/"),
		healthTimeout: healthTimeout,
		http:          hc,
	}
}

// Health queries the analyzer. Any transport or status failure is reported as
// ErrUnavailable.
func (c *PDFClient) Health(ctx context.Context) (*Health, error) {
	if c.healthTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.healthTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("building health request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: health returned %d", ErrUnavailable, resp.StatusCode)
	}

	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, fmt.Errorf("%w: decoding health: %w", ErrUnavailable, err)
	}
	return &h, nil
}

// Ready reports whether the analyzer can take work right now.
func (c *PDFClient) Ready(ctx context.Context) (*Health, error) {
	h, err := c.Health(ctx)
	if err != nil {
		return nil, err
	}
	if !h.AllModelsReady {
		return h, fmt.Errorf("%w: models not ready", ErrUnavailable)
	}
	return h, nil
}

// Analyze uploads a document for analysis.
func (c *PDFClient) Analyze(ctx context.Context, filename string, doc io.Reader, analysisType string) (json.RawMessage, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, doc); err != nil {
		return nil, fmt.Errorf("copying document: %w", err)
	}
	if err := mw.WriteField("analysis_type", analysisType); err != nil {
		return nil, fmt.Errorf("writing analysis type: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze-document", &buf)
	if err != nil {
		return nil, fmt.Errorf("building analyze request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("calling document analyzer: %w", ctx.Err())
		}
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	return readObject(resp)
}
