// Package ollama is the streaming transport client for an Ollama-style
// local generation server.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	ghostline "github.com/hollowbyte/ghostline"
)

// maxLineBytes bounds one streamed JSON line.
const maxLineBytes = 1 << 20

// Client issues generation requests against a local model server. The wire
// format is a JSON body {model, prompt, stream:true, raw:true, options} and
// a newline-delimited JSON response stream {response?, done?, error?}.
type Client struct {
	endpoint    string
	model       string
	maxTokens   int
	temperature float64
	stop        []string
	timeout     time.Duration
	client      *http.Client
}

// NewClient creates a client from config, honoring env overrides for the
// endpoint and model.
func NewClient(cfg *ghostline.Config) *Client {
	timeout := time.Duration(cfg.Server.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint:    ghostline.ResolveEndpoint(cfg),
		model:       ghostline.ResolveModel(cfg),
		maxTokens:   cfg.Generation.MaxTokens,
		temperature: cfg.Generation.Temperature,
		stop:        cfg.Generation.Stop,
		timeout:     timeout,
		client:      &http.Client{},
	}
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Raw     bool            `json:"raw"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	NumPredict  int      `json:"num_predict,omitempty"`
	Temperature float64  `json:"temperature,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type generateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

// Generate streams a completion for the prompt, invoking onToken for each
// incremental response fragment in arrival order. It returns nil once the
// stream reports done, and an error for connection failures, timeouts,
// malformed stream lines, or server-reported generation errors. Cancelling
// ctx aborts the request.
func (c *Client) Generate(ctx context.Context, prompt string, onToken func(string)) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	reqBody := generateRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: true,
		Raw:    true,
		Options: generateOptions{
			NumPredict:  c.maxTokens,
			Temperature: c.temperature,
			Stop:        c.stop,
		},
	}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.endpoint+"/api/generate", bytes.NewReader(data))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxLineBytes))
		return fmt.Errorf("generate API error (status %d): %s", resp.StatusCode, string(body))
	}

	// Frame the stream strictly: split on newlines, parse each complete
	// line as one JSON object. A trailing partial line surfaces as a parse
	// failure on a dropped connection, never as guessed object boundaries.
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk generateChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return fmt.Errorf("malformed stream line: %w", err)
		}
		if chunk.Error != "" {
			return fmt.Errorf("generation error: %s", chunk.Error)
		}
		if chunk.Response != "" {
			onToken(chunk.Response)
		}
		if chunk.Done {
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return fmt.Errorf("stream ended without done")
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// ListModels returns the model names known to the server.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", c.endpoint+"/api/tags", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("tags API error (status %d): %s", resp.StatusCode, string(body))
	}

	var tags tagsResponse
	if err := json.Unmarshal(body, &tags); err != nil {
		return nil, fmt.Errorf("failed to parse tags response: %w", err)
	}

	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// Health checks that the server is reachable.
func (c *Client) Health(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", c.endpoint+"/", nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode != 200 {
		return fmt.Errorf("server unhealthy (status %d)", resp.StatusCode)
	}
	return nil
}
