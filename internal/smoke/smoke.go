// Package smoke checks that an OpenAI-compatible inference server (such as
// vLLM) answers its health, model listing and completion endpoints.
package smoke

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog/log"
)

const (
	DefaultURL    = "http://localhost:8000"
	DefaultAPIKey = "dummy-key"
	DefaultModel  = "deepseek-coder-6.7b-instruct"

	healthTimeout     = 5 * time.Second
	modelsTimeout     = 10 * time.Second
	completionTimeout = 30 * time.Second
)

// Result is the outcome of one check.
type Result struct {
	Name   string
	Passed bool
}

// Tester runs the checks against one server and writes a report to Out.
type Tester struct {
	BaseURL string
	Model   string
	Out     io.Writer

	client openai.Client
	http   *http.Client
}

// New returns a Tester for the server at baseURL (without the /v1 suffix).
func New(baseURL, apiKey, model string, out io.Writer) *Tester {
	baseURL = strings.TrimRight(baseURL, "/")
	if apiKey == "" {
		apiKey = DefaultAPIKey
	}
	if model == "" {
		model = DefaultModel
	}
	return &Tester{
		BaseURL: baseURL,
		Model:   model,
		Out:     out,
		client: openai.NewClient(
			option.WithBaseURL(baseURL+"/v1/"),
			option.WithAPIKey(apiKey),
			option.WithMaxRetries(0),
		),
		http: &http.Client{Timeout: healthTimeout},
	}
}

func (t *Tester) printf(format string, args ...any) {
	fmt.Fprintf(t.Out, format, args...)
}

// Health checks GET /health for a 200 response.
func (t *Tester) Health(ctx context.Context) error {
	t.printf("Testing /health endpoint...\n")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.BaseURL+"/health", nil)
	if err != nil {
		return t.fail("Health check", err)
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return t.fail("Health check", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return t.fail("Health check", fmt.Errorf("status %d", resp.StatusCode))
	}
	t.printf("✓ Health check passed\n")
	return nil
}

// Models lists the models served under /v1/models.
func (t *Tester) Models(ctx context.Context) error {
	t.printf("\nTesting /v1/models endpoint...\n")
	page, err := t.client.Models.List(ctx, option.WithRequestTimeout(modelsTimeout))
	if err != nil {
		return t.fail("Models endpoint", err)
	}
	t.printf("✓ Models endpoint working\n")
	t.printf("  Available models: %d\n", len(page.Data))
	for _, m := range page.Data {
		t.printf("    - %s\n", m.ID)
	}
	return nil
}

// Completion asks /v1/completions to continue a function signature.
func (t *Tester) Completion(ctx context.Context) error {
	t.printf("\nTesting /v1/completions endpoint...\n")
	const prompt = "def fibonacci(n):"
	res, err := t.client.Completions.New(ctx, openai.CompletionNewParams{
		Model:       openai.CompletionNewParamsModel(t.Model),
		Prompt:      openai.CompletionNewParamsPromptUnion{OfString: openai.String(prompt)},
		MaxTokens:   openai.Int(100),
		Temperature: openai.Float(0.2),
		Stop:        openai.CompletionNewParamsStopUnion{OfStringArray: []string{"\n\n"}},
	}, option.WithRequestTimeout(completionTimeout))
	if err != nil {
		return t.fail("Completion endpoint", err)
	}
	if len(res.Choices) == 0 {
		return t.fail("Completion endpoint", fmt.Errorf("no choices in response"))
	}
	t.printf("✓ Completion endpoint working\n")
	t.printf("  Prompt: %s\n", prompt)
	t.printf("  Completion: %s...\n", truncate(res.Choices[0].Text, 100))
	return nil
}

// Chat sends a system and a user message to /v1/chat/completions.
func (t *Tester) Chat(ctx context.Context) error {
	t.printf("\nTesting /v1/chat/completions endpoint...\n")
	const question = "Write a Python function to check if a number is prime."
	res, err := t.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(t.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage("You are a helpful coding assistant."),
			openai.UserMessage(question),
		},
		MaxTokens:   openai.Int(200),
		Temperature: openai.Float(0.2),
	}, option.WithRequestTimeout(completionTimeout))
	if err != nil {
		return t.fail("Chat completion endpoint", err)
	}
	if len(res.Choices) == 0 {
		return t.fail("Chat completion endpoint", fmt.Errorf("no choices in response"))
	}
	t.printf("✓ Chat completion endpoint working\n")
	t.printf("  Question: %s\n", question)
	t.printf("  Answer: %s...\n", truncate(res.Choices[0].Message.Content, 150))
	return nil
}

func (t *Tester) fail(check string, err error) error {
	log.Debug().Err(err).Str("check", check).Str("url", t.BaseURL).Msg("smoke check failed")
	t.printf("✗ %s failed: %v\n", check, err)
	return fmt.Errorf("%s: %w", strings.ToLower(check), err)
}

// RunAll runs every check in order and prints a summary. It reports whether
// all of them passed.
func (t *Tester) RunAll(ctx context.Context) ([]Result, bool) {
	rule := strings.Repeat("=", 60)
	t.printf("%s\nvLLM API Test Suite\n%s\nBase URL: %s\n\n", rule, rule, t.BaseURL)

	checks := []struct {
		name string
		run  func(context.Context) error
	}{
		{"Health Check", t.Health},
		{"Models Endpoint", t.Models},
		{"Completion Endpoint", t.Completion},
		{"Chat Completion Endpoint", t.Chat},
	}

	results := make([]Result, 0, len(checks))
	passed := 0
	for _, c := range checks {
		ok := c.run(ctx) == nil
		if ok {
			passed++
		}
		results = append(results, Result{Name: c.name, Passed: ok})
	}

	t.printf("\n%s\nTest Results Summary\n%s\n", rule, rule)
	for _, r := range results {
		status := "✗ FAIL"
		if r.Passed {
			status = "✓ PASS"
		}
		t.printf("%s - %s\n", status, r.Name)
	}
	t.printf("\nTotal: %d/%d tests passed\n", passed, len(results))
	return results, passed == len(results)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
