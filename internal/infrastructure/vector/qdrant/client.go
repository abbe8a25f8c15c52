package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/smart-notes/internal/core/domain"
	"github.com/kirillkom/smart-notes/internal/infrastructure/resilience"
)

type Options struct {
	Timeout    time.Duration
	Resilience resilience.Config
}

// Client is the REST transport shared by the note and tag collections.
type Client struct {
	baseURL    string
	httpClient *http.Client
	exec       *resilience.Executor
}

func New(baseURL string, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		exec:       resilience.NewExecutor(opts.Resilience),
	}
}

type StatusError struct {
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Sprintf("qdrant %s status: %s", e.Operation, e.Status)
	}
	return fmt.Sprintf("qdrant %s status: %s: %s", e.Operation, e.Status, strings.TrimSpace(e.Body))
}

func statusCodeOf(err error) (int, bool) {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode, true
	}
	return 0, false
}

func isNotFound(err error) bool {
	code, ok := statusCodeOf(err)
	return ok && code == http.StatusNotFound
}

func classifyQdrantError(err error) resilience.ErrorClassification {
	return resilience.ClassifyTransport(err, statusCodeOf)
}

func wrapTemporaryIfNeeded(operation string, err error) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if classifyQdrantError(err).Retryable || resilience.IsCircuitOpen(err) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, payload any, out any, operation string) error {
	err := c.exec.Execute(ctx, "qdrant."+operation, func(ctx context.Context) error {
		return c.roundTrip(ctx, method, path, payload, out, operation)
	}, classifyQdrantError)
	return wrapTemporaryIfNeeded("qdrant "+operation, err)
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload any, out any, operation string) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s body: %w", operation, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &StatusError{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(msg),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

// collection creates itself lazily on first write, once per vector size.
type collection struct {
	client *Client
	name   string

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int
}

func (col *collection) path(suffix string) string {
	return "/collections/" + col.name + suffix
}

func (col *collection) ensure(ctx context.Context, vectorSize int) error {
	col.ensureMu.Lock()
	if col.ensuredCollection && col.ensuredVectorSize == vectorSize {
		col.ensureMu.Unlock()
		return nil
	}
	col.ensureMu.Unlock()

	reqBody := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	}
	err := col.client.do(ctx, http.MethodPut, col.path(""), reqBody, nil, "ensure collection")
	// 409 if the collection already exists.
	if code, ok := statusCodeOf(err); ok && code == http.StatusConflict {
		err = nil
	}
	if err != nil {
		return err
	}

	col.ensureMu.Lock()
	defer col.ensureMu.Unlock()
	col.ensuredCollection = true
	col.ensuredVectorSize = vectorSize
	return nil
}

type point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

func (col *collection) upsert(ctx context.Context, p point) error {
	if len(p.Vector) == 0 {
		return fmt.Errorf("qdrant upsert %s: empty vector", p.ID)
	}
	if err := col.ensure(ctx, len(p.Vector)); err != nil {
		return err
	}
	reqBody := map[string]any{"points": []point{p}}
	return col.client.do(ctx, http.MethodPut, col.path("/points?wait=true"), reqBody, nil, "upsert")
}

type scoredPoint struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

func (col *collection) search(ctx context.Context, vector []float32, limit int, filter map[string]any) ([]scoredPoint, error) {
	reqBody := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	if filter != nil {
		reqBody["filter"] = filter
	}
	var resp struct {
		Result []scoredPoint `json:"result"`
	}
	err := col.client.do(ctx, http.MethodPost, col.path("/points/search"), reqBody, &resp, "search")
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// pointID maps an arbitrary key onto the UUID space Qdrant accepts.
// scroll returns one page of a string payload field. The cursor is Qdrant's
// next_page_offset; a missing collection reads as empty.
func (col *collection) scroll(ctx context.Context, payloadKey, cursor string, limit int) ([]string, string, error) {
	reqBody := map[string]any{
		"limit":        limit,
		"with_payload": []string{payloadKey},
		"with_vector":  false,
	}
	if cursor != "" {
		reqBody["offset"] = cursor
	}

	var resp struct {
		Result struct {
			Points []struct {
				ID      any            `json:"id"`
				Payload map[string]any `json:"payload"`
			} `json:"points"`
			NextPageOffset any `json:"next_page_offset"`
		} `json:"result"`
	}
	err := col.client.do(ctx, http.MethodPost, col.path("/points/scroll"), reqBody, &resp, "scroll")
	if isNotFound(err) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}

	values := make([]string, 0, len(resp.Result.Points))
	for _, p := range resp.Result.Points {
		if v := getStringPayload(p.Payload, payloadKey); v != "" {
			values = append(values, v)
		}
	}
	next := ""
	if resp.Result.NextPageOffset != nil {
		next = fmt.Sprintf("%v", resp.Result.NextPageOffset)
	}
	return values, next, nil
}

func pointID(key string) string {
	if parsed, err := uuid.Parse(key); err == nil {
		return parsed.String()
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func getStringsPayload(payload map[string]any, key string) []string {
	raw, ok := payload[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
