package analysis

import (
	"encoding/json"

	"github.com/sentilytics/sentilytics/internal/ledger"
)

type SentimentRequest struct {
	Key string `json:"key" validate:"required,max=1024"`
}

// Response wraps a collaborator result with the ledger outcome.
type Response struct {
	OperationID string          `json:"operation_id"`
	Kind        ledger.Kind     `json:"kind"`
	Result      json.RawMessage `json:"result"`
	QuotaUsed   int             `json:"quota_used"`
	Remaining   int             `json:"remaining"`
}

type ServiceStatus struct {
	Available      bool            `json:"available"`
	AllModelsReady bool            `json:"all_models_ready"`
	ModelsLoaded   map[string]bool `json:"models_loaded,omitempty"`
}
