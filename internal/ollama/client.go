// Package ollama talks to a local Ollama-compatible text-generation server.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/perch/internal/errors"
	"github.com/hpungsan/perch/internal/logging"
)

const (
	DefaultBaseURL = "http://127.0.0.1:11434"
	DefaultModel   = "gemma3:4b"

	defaultRequestTimeout = 180 * time.Second
	defaultHealthTimeout  = 2 * time.Second
	defaultPullTimeout    = 10 * time.Minute

	// maxLineBytes bounds one JSONL line of a streaming response.
	maxLineBytes = 4 << 20
)

// CommandRunner runs an external command and returns its stdout.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Options configures a Client. Zero values fall back to defaults.
type Options struct {
	BaseURL        string
	Model          string
	RequestTimeout time.Duration
	HealthTimeout  time.Duration
	PullTimeout    time.Duration
	HTTPClient     *http.Client
	// Run executes the ollama CLI fallbacks. Defaults to os/exec.
	Run    CommandRunner
	Logger *zap.Logger
}

// Client is an Ollama HTTP client with CLI fallbacks for health and pull.
type Client struct {
	baseURL        string
	model          string
	requestTimeout time.Duration
	healthTimeout  time.Duration
	pullTimeout    time.Duration
	http           *http.Client
	run            CommandRunner
	logger         *zap.Logger
}

// Request is one generation call. Images are base64 encoded.
type Request struct {
	Prompt string
	Images []string
}

type generateRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Stream bool     `json:"stream"`
	Images []string `json:"images,omitempty"`
}

type generateResponse struct {
	Response *string `json:"response"`
	Done     bool    `json:"done"`
	Error    string  `json:"error,omitempty"`
}

// New returns a Client.
func New(opts Options) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		model:          opts.Model,
		requestTimeout: opts.RequestTimeout,
		healthTimeout:  opts.HealthTimeout,
		pullTimeout:    opts.PullTimeout,
		http:           opts.HTTPClient,
		run:            opts.Run,
		logger:         logging.OrNop(opts.Logger).Named("ollama"),
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.model == "" {
		c.model = DefaultModel
	}
	if c.requestTimeout <= 0 {
		c.requestTimeout = defaultRequestTimeout
	}
	if c.healthTimeout <= 0 {
		c.healthTimeout = defaultHealthTimeout
	}
	if c.pullTimeout <= 0 {
		c.pullTimeout = defaultPullTimeout
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.run == nil {
		c.run = execRunner
	}
	return c
}

// Model returns the model used for generation.
func (c *Client) Model() string {
	return c.model
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return out, fmt.Errorf("%w: %s", err, msg)
		}
		return out, err
	}
	return out, nil
}

// FormatPrompt renders an action and its input as a single prompt.
func FormatPrompt(action, input string) string {
	return fmt.Sprintf("Action: %s\n\n%s", strings.TrimSpace(action), strings.TrimSpace(input))
}

// Health checks GET /api/version and falls back to the ollama CLI.
func (c *Client) Health(ctx context.Context) (string, error) {
	msg, err := c.versionCheck(ctx)
	if err == nil {
		return msg, nil
	}
	c.logger.Debug("version check failed", zap.Error(err))

	cliCtx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()
	_, cliErr := c.run(cliCtx, "ollama", "version")
	if cliErr == nil {
		return "Ollama CLI available, server may not be running", nil
	}
	c.logger.Debug("ollama CLI check failed", zap.Error(cliErr))

	return "", errors.NewServiceUnavailable(
		"Ollama not available. Ensure Ollama is installed and the server is running (ollama serve).", err)
}

func (c *Client) versionCheck(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/version", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("/api/version returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Sprintf("Ollama reachable (failed to read version: %v)", err), nil
	}
	var v struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(body, &v); err != nil || v.Version == "" {
		return "Ollama reachable (version unavailable)", nil
	}
	return fmt.Sprintf("Ollama v%s reachable", v.Version), nil
}

// Generate sends a non-streaming request and returns the response text. When the
// body has no response field the raw body is returned.
func (c *Client) Generate(ctx context.Context, r Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	resp, err := c.postGenerate(ctx, r, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.NewServiceError("failed to read generate response", err)
	}

	var out generateResponse
	if err := json.Unmarshal(body, &out); err == nil {
		if out.Error != "" {
			return "", errors.NewServiceError("generate failed", fmt.Errorf("%s", out.Error))
		}
		if out.Response != nil {
			return *out.Response, nil
		}
	}
	return string(body), nil
}

// GenerateStream sends a streaming request and calls onChunk with every non-empty
// response fragment. It stops at done:true or end of stream and returns the
// concatenated text.
func (c *Client) GenerateStream(ctx context.Context, r Request, onChunk func(string)) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	resp, err := c.postGenerate(ctx, r, true)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var full strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk generateResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			c.logger.Debug("skipping undecodable stream line", zap.Error(err))
			continue
		}
		if chunk.Error != "" {
			return full.String(), errors.NewServiceError("generate stream failed", fmt.Errorf("%s", chunk.Error))
		}
		if chunk.Response != nil && *chunk.Response != "" {
			full.WriteString(*chunk.Response)
			if onChunk != nil {
				onChunk(*chunk.Response)
			}
		}
		if chunk.Done {
			return full.String(), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return full.String(), errors.NewServiceError("generate stream interrupted", err)
	}
	return full.String(), nil
}

func (c *Client) postGenerate(ctx context.Context, r Request, stream bool) (*http.Response, error) {
	body, err := json.Marshal(generateRequest{
		Model:  c.model,
		Prompt: r.Prompt,
		Stream: stream,
		Images: r.Images,
	})
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug("sending generate request",
		zap.Bool("stream", stream),
		zap.Int("prompt_bytes", len(r.Prompt)),
		zap.Int("images", len(r.Images)))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.NewServiceUnavailable("ollama request failed", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, errors.NewServiceError(
			fmt.Sprintf("ollama returned status %d", resp.StatusCode),
			fmt.Errorf("%s", strings.TrimSpace(string(msg))))
	}
	return resp, nil
}

// Pull downloads model through POST /api/pull, falling back to `ollama pull`
// when the server cannot be reached.
func (c *Client) Pull(ctx context.Context, model string) (string, error) {
	if strings.TrimSpace(model) == "" {
		model = c.model
	}
	ctx, cancel := context.WithTimeout(ctx, c.pullTimeout)
	defer cancel()

	body, _ := json.Marshal(map[string]any{"model": model, "stream": false})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return "", errors.NewInternal(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug("pulling model via REST", zap.String("model", model))
	resp, err := c.http.Do(req)
	if err == nil {
		defer resp.Body.Close()
		txt, _ := io.ReadAll(resp.Body)
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return "", errors.NewServiceError(
				fmt.Sprintf("ollama pull returned status %d", resp.StatusCode),
				fmt.Errorf("%s", strings.TrimSpace(string(txt))))
		}
		return fmt.Sprintf("pull via REST completed with status %s\n%s", resp.Status, txt), nil
	}
	c.logger.Warn("REST pull failed, falling back to CLI", zap.Error(err))

	out, cliErr := c.run(ctx, "ollama", "pull", model)
	if cliErr != nil {
		return "", errors.NewServiceError("ollama pull failed", cliErr)
	}
	return string(out), nil
}
