package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// SentimentClient calls the video sentiment model endpoint.
type SentimentClient struct {
	endpoint string
	bucket   string
	http     *http.Client
}

// NewSentimentClient creates a SentimentClient. Video keys are resolved
// against bucket.
func NewSentimentClient(endpoint, bucket string, hc *http.Client) *SentimentClient {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &SentimentClient{endpoint: endpoint, bucket: bucket, http: hc}
}

// Analyze runs sentiment analysis on the uploaded video stored under key.
func (c *SentimentClient) Analyze(ctx context.Context, key string) (json.RawMessage, error) {
	payload, err := json.Marshal(map[string]string{
		"video_path": fmt.Sprintf("s3://%s/%s", c.bucket, key),
	})
	if err != nil {
		return nil, fmt.Errorf("encoding sentiment request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building sentiment request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("calling sentiment endpoint: %w", ctx.Err())
		}
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	return readObject(resp)
}
