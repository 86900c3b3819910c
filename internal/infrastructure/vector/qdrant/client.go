package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/tenant-rag/internal/core/domain"
	"github.com/kirillkom/tenant-rag/internal/infrastructure/resilience"
)

const (
	payloadText     = "text"
	payloadPointKey = "point_key"
)

// pointNamespace derives stable point ids from section point keys so
// re-indexing the same corpus overwrites instead of duplicating.
var pointNamespace = uuid.MustParse("6f1d6c2e-3b8a-5d4f-9a51-0e7c2b9f4a10")

// Client keeps one cosine collection per tenant, named {prefix}_{tenant}.
type Client struct {
	baseURL    string
	prefix     string
	httpClient *http.Client
	executor   *resilience.Executor

	ensureMu sync.Mutex
	ensured  map[string]int
}

func New(baseURL, prefix string, executor *resilience.Executor) *Client {
	if strings.TrimSpace(prefix) == "" {
		prefix = "documents"
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		prefix:     prefix,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		executor:   executor,
		ensured:    make(map[string]int),
	}
}

func (c *Client) CollectionName(tenantID string) string {
	return c.prefix + "_" + tenantID
}

func PointID(key string) string {
	return uuid.NewSHA1(pointNamespace, []byte(key)).String()
}

type point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

func (c *Client) Upsert(ctx context.Context, tenantID string, points []domain.VectorPoint) error {
	if len(points) == 0 {
		return nil
	}
	size := len(points[0].Vector)
	for _, p := range points {
		if len(p.Vector) != size {
			return domain.WrapError(domain.ErrInvalidInput, "qdrant upsert", fmt.Errorf("mixed vector sizes %d/%d", size, len(p.Vector)))
		}
	}
	collection := c.CollectionName(tenantID)
	if err := c.ensureCollection(ctx, collection, size); err != nil {
		return err
	}

	body := struct {
		Points []point `json:"points"`
	}{Points: make([]point, 0, len(points))}
	for _, p := range points {
		payload := make(map[string]any, len(p.Metadata)+2)
		for k, v := range p.Metadata {
			payload[k] = v
		}
		payload[payloadText] = p.Text
		payload[payloadPointKey] = p.ID
		body.Points = append(body.Points, point{ID: PointID(p.ID), Vector: p.Vector, Payload: payload})
	}

	url := fmt.Sprintf("%s/collections/%s/points?wait=true", c.baseURL, collection)
	return c.execute(ctx, "qdrant.upsert", func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodPut, url, body, nil, "upsert")
	})
}

// Query returns the k nearest points. Qdrant reports cosine similarity, which
// is converted to distance = 1 - similarity. A missing collection yields no
// matches.
func (c *Client) Query(ctx context.Context, tenantID string, vector []float32, k int) ([]domain.VectorMatch, error) {
	if k <= 0 || len(vector) == 0 {
		return []domain.VectorMatch{}, nil
	}
	reqBody := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
	}

	var searchResp struct {
		Result []struct {
			ID      any            `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, c.CollectionName(tenantID))
	err := c.execute(ctx, "qdrant.search", func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodPost, url, reqBody, &searchResp, "search")
	})
	if isNotFound(err) {
		return []domain.VectorMatch{}, nil
	}
	if err != nil {
		return nil, err
	}

	out := make([]domain.VectorMatch, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		metadata := make(map[string]string, len(r.Payload))
		for key := range r.Payload {
			if key == payloadText || key == payloadPointKey {
				continue
			}
			metadata[key] = getStringPayload(r.Payload, key)
		}
		out = append(out, domain.VectorMatch{
			ID:       getStringPayload(r.Payload, payloadPointKey),
			Text:     getStringPayload(r.Payload, payloadText),
			Metadata: metadata,
			Distance: 1 - r.Score,
		})
	}
	return out, nil
}

// DeleteCollection drops the tenant collection. Dropping a missing
// collection succeeds.
func (c *Client) DeleteCollection(ctx context.Context, tenantID string) error {
	collection := c.CollectionName(tenantID)
	url := fmt.Sprintf("%s/collections/%s", c.baseURL, collection)
	err := c.execute(ctx, "qdrant.delete_collection", func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodDelete, url, nil, nil, "delete collection")
	})
	if err != nil && !isNotFound(err) {
		return err
	}

	c.ensureMu.Lock()
	delete(c.ensured, collection)
	c.ensureMu.Unlock()
	return nil
}

func (c *Client) ensureCollection(ctx context.Context, collection string, vectorSize int) error {
	c.ensureMu.Lock()
	if size, ok := c.ensured[collection]; ok && size == vectorSize {
		c.ensureMu.Unlock()
		return nil
	}
	c.ensureMu.Unlock()

	reqBody := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	}
	url := fmt.Sprintf("%s/collections/%s", c.baseURL, collection)
	err := c.execute(ctx, "qdrant.ensure_collection", func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodPut, url, reqBody, nil, "ensure collection")
	})
	// 409 when the collection already exists.
	if err != nil && !isConflict(err) {
		return err
	}

	c.ensureMu.Lock()
	c.ensured[collection] = vectorSize
	c.ensureMu.Unlock()
	return nil
}

func (c *Client) execute(ctx context.Context, operation string, fn func(context.Context) error) error {
	if c.executor == nil {
		return fn(ctx)
	}
	return c.executor.Execute(ctx, operation, fn, classifyQdrantError)
}

func (c *Client) doJSON(ctx context.Context, method, url string, payload any, out any, operation string) error {
	var reader io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s body: %w", operation, err)
		}
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
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
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &StatusError{Operation: operation, StatusCode: resp.StatusCode, Status: resp.Status, Body: strings.TrimSpace(string(body))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
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
