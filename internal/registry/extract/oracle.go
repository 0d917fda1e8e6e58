// Package extract talks to the vision extraction oracle and normalizes
// its loosely typed output into the canonical extracted-company shape.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Document is one uploaded registry extract (scan or photo).
type Document struct {
	Filename string `json:"filename"`
	MIMEType string `json:"mime_type"`
	Content  []byte `json:"content"`
}

// TokenUsage reports the oracle's token consumption for one extraction.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Extraction is the raw oracle result: an untyped key/value tree plus
// usage metadata. Nothing here is trusted until normalized.
type Extraction struct {
	Data  map[string]any `json:"data"`
	Usage TokenUsage     `json:"usage"`
}

// Oracle produces structured candidate data from a document image.
type Oracle interface {
	Extract(ctx context.Context, doc Document) (*Extraction, error)
}

// HTTPOracle calls a vision extraction endpoint over HTTP. Transient
// failures are retried with exponential backoff; the caller bounds the
// whole call with its context deadline.
type HTTPOracle struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
	retries  uint64
}

// NewHTTPOracle constructs an HTTPOracle for the given endpoint.
func NewHTTPOracle(endpoint string, logger *zap.Logger) *HTTPOracle {
	return &HTTPOracle{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 60 * time.Second},
		logger:   logger.Named("extraction_oracle"),
		retries:  3,
	}
}

// Extract posts the document and decodes the structured result.
func (o *HTTPOracle) Extract(ctx context.Context, doc Document) (*Extraction, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}

	var out Extraction
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := o.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("oracle returned %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("oracle returned %d", resp.StatusCode))
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode oracle response: %w", err))
		}
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), o.retries), ctx)
	if err := backoff.Retry(operation, b); err != nil {
		o.logger.Error("Extraction call failed", zap.Error(err), zap.String("filename", doc.Filename))
		return nil, err
	}

	o.logger.Info("Extraction completed",
		zap.String("filename", doc.Filename),
		zap.Int("prompt_tokens", out.Usage.PromptTokens),
		zap.Int("completion_tokens", out.Usage.CompletionTokens),
	)
	return &out, nil
}
