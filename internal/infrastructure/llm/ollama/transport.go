package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const maxResponseBytes = 32 << 20

// ollamaEnvelope is the error shape Ollama uses for both failed and
// half-successful replies.
type ollamaEnvelope struct {
	Error string `json:"error"`
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, out any, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama %s request: %w", operation, err)
	}
	defer resp.Body.Close()
	slog.Debug("ollama_call",
		"operation", operation,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read %s response: %w", operation, err)
	}
	if resp.StatusCode >= 300 {
		return newHTTPStatusError(operation, resp, raw)
	}

	var envelope ollamaEnvelope
	if json.Unmarshal(raw, &envelope) == nil && strings.TrimSpace(envelope.Error) != "" {
		return newHTTPStatusError(operation, resp, raw)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

// newHTTPStatusError prefers the "error" field of a JSON reply over the raw body.
func newHTTPStatusError(operation string, resp *http.Response, raw []byte) error {
	message := strings.TrimSpace(string(raw))
	var envelope ollamaEnvelope
	if json.Unmarshal(raw, &envelope) == nil && strings.TrimSpace(envelope.Error) != "" {
		message = envelope.Error
	}
	if len(message) > 2048 {
		message = message[:2048]
	}
	return &HTTPStatusError{
		Operation:  operation,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       message,
	}
}
