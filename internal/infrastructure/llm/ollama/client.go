package ollama

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/kirillkom/tenant-rag/internal/core/domain"
	"github.com/kirillkom/tenant-rag/internal/infrastructure/resilience"
)

const catalogTimeout = 5 * time.Second

type Client struct {
	baseURL    string
	embedModel string
	httpClient *http.Client
	executor   *resilience.Executor
}

// New builds a client without a global HTTP timeout. Generation budgets come
// from the caller's context; catalog and embedding calls set their own.
func New(baseURL, embedModel string, executor *resilience.Executor) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		embedModel: embedModel,
		httpClient: &http.Client{},
		executor:   executor,
	}
}

type Embedder struct {
	client  *Client
	timeout time.Duration
}

func NewEmbedder(client *Client, timeout time.Duration) *Embedder {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Embedder{client: client, timeout: timeout}
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	request := embedRequest{Model: e.client.embedModel, Input: texts}
	response, err := resilience.Call(ctx, e.client.executor, "ollama.embed", func(ctx context.Context) (embedResponse, error) {
		var out embedResponse
		err := e.client.postJSON(ctx, "/api/embed", request, &out, "embed")
		return out, err
	}, classifyOllamaError)
	if err != nil {
		return nil, wrapBackendError("ollama embed", err)
	}
	if len(response.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed returned %d vectors for %d inputs", len(response.Embeddings), len(texts))
	}
	return response.Embeddings, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	return vectors[0], nil
}

// Generator runs single blocking completions with per-tier options.
type Generator struct {
	client *Client
}

func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

func (g *Generator) Generate(ctx context.Context, req domain.GenerationRequest) (string, error) {
	if strings.TrimSpace(req.Model) == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "ollama generate", fmt.Errorf("model is required"))
	}
	payload := generateRequest{
		Model:  req.Model,
		Prompt: req.Prompt,
		System: req.System,
		Stream: false,
		Options: generateOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
			Stop:        req.Stop,
		},
	}

	response, err := resilience.Call(ctx, g.client.executor, "ollama.generate."+req.Model, func(ctx context.Context) (generateResponse, error) {
		var out generateResponse
		err := g.client.postJSON(ctx, "/api/generate", payload, &out, "generate")
		return out, err
	}, classifyGenerationError)
	if err != nil {
		return "", wrapBackendError("ollama generate "+req.Model, err)
	}
	return strings.TrimSpace(response.Response), nil
}

// Catalog lists models installed at the server.
type Catalog struct {
	client *Client
}

func NewCatalog(client *Client) *Catalog {
	return &Catalog{client: client}
}

func (c *Catalog) AvailableModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, catalogTimeout)
	defer cancel()

	response, err := resilience.Call(ctx, c.client.executor, "ollama.tags", func(ctx context.Context) (tagsResponse, error) {
		var out tagsResponse
		err := c.client.getJSON(ctx, "/api/tags", &out, "tags")
		return out, err
	}, classifyOllamaError)
	if err != nil {
		return nil, wrapBackendError("ollama tags", err)
	}

	models := make([]string, 0, len(response.Models))
	for _, m := range response.Models {
		name := m.Name
		if name == "" {
			name = m.Model
		}
		if name != "" {
			models = append(models, name)
		}
	}
	sort.Strings(models)
	return models, nil
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

type generateOptions struct {
	Temperature float64  `json:"temperature"`
	NumPredict  int      `json:"num_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	System  string          `json:"system,omitempty"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

type tagsResponse struct {
	Models []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	} `json:"models"`
}
