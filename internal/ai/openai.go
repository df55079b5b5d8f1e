package ai

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "text-embedding-3-small"
	openAITimeout        = 20 * time.Second
)

// Known output sizes of the hosted models. Anything else is probed.
var openAIModelDims = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// ErrMissingAPIKey is returned when the hosted OpenAI API is used without a key.
var ErrMissingAPIKey = errors.New("api key is required for the hosted OpenAI API")

// APIError is a non-200 answer from an embeddings endpoint.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("embeddings request failed: %s", e.Status)
	}
	return fmt.Sprintf("embeddings request failed: %s: %s", e.Status, e.Message)
}

type embeddingRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	EncodingFormat string `json:"encoding_format"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// OpenAIClient talks to the OpenAI embeddings endpoint or any server that
// implements the same API (vLLM, text-embeddings-inference, Ollama).
type OpenAIClient struct {
	config *ClientConfig
	hosted bool
	http   *http.Client
}

func NewOpenAIClient(config *ClientConfig) *OpenAIClient {
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.BaseURL == "" {
		config.BaseURL = defaultOpenAIBaseURL
	}
	hosted := config.BaseURL == defaultOpenAIBaseURL

	if config.EmbedModel == "" {
		config.EmbedModel = defaultOpenAIModel
	}
	if config.Dim == 0 {
		if d, ok := openAIModelDims[config.EmbedModel]; ok {
			config.Dim = d
		} else if hosted {
			config.Dim = openAIModelDims[defaultOpenAIModel]
		}
	}

	return &OpenAIClient{
		config: config,
		hosted: hosted,
		http:   newHTTPClient(),
	}
}

// newHTTPClient honours CODEINDEX_SKIP_TLS_VERIFY for servers behind
// intercepting proxies or with self-signed certificates.
func newHTTPClient() *http.Client {
	transport := &http.Transport{Proxy: http.ProxyFromEnvironment}
	if skip, _ := strconv.ParseBool(os.Getenv("CODEINDEX_SKIP_TLS_VERIFY")); skip {
		log.Warn().Msg("TLS certificate verification disabled for embedding requests")
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &http.Client{Timeout: openAITimeout, Transport: transport}
}

func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.hosted && c.config.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	body, err := json.Marshal(embeddingRequest{
		Model:          c.config.EmbedModel,
		Input:          text,
		EncodingFormat: "float",
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	var out embeddingResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	for _, d := range out.Data {
		if d.Index == 0 && len(d.Embedding) > 0 {
			return d.Embedding, nil
		}
	}
	return nil, errors.New("no embedding in response")
}

// do sends req and decodes a 200 body into out.
func (c *OpenAIClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close response body")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode, Status: resp.Status}
		var e struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&e) == nil {
			apiErr.Message = e.Error.Message
		}
		return apiErr
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *OpenAIClient) Dim() int {
	return c.config.Dim
}

func (c *OpenAIClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	// Project-scoped keys need the project header to reach the right quota.
	if strings.HasPrefix(c.config.APIKey, "sk-proj-") && c.config.ProjectID != "" {
		req.Header.Set("OpenAI-Project", c.config.ProjectID)
	}
}
