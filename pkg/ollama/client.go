package ollama

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/pkg/errors"
)

// DefaultURL is the chat endpoint of a local Ollama server
const DefaultURL = "http://localhost:11434/api/chat"

// Client wraps the Ollama API client
type Client struct {
	client *api.Client
}

// NewClient creates a new Ollama client
func NewClient(ollamaURL string, hc *http.Client) (*Client, error) {
	if ollamaURL == "" {
		ollamaURL = DefaultURL
	}
	parsedURL, err := url.Parse(ollamaURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid URL")
	}
	if parsedURL.Host == "" {
		return nil, errors.Errorf("invalid URL: %s has no host", ollamaURL)
	}

	// Create base URL from the provided URL (removing path like /api/chat)
	baseURL := &url.URL{
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Host,
	}
	if hc == nil {
		hc = http.DefaultClient
	}

	// Create client with the specified URL, ignoring environment
	return &Client{client: api.NewClient(baseURL, hc)}, nil
}

// SimpleQuery sends a prompt with one image and returns the model's text answer
func (c *Client) SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	// vision models on CPU are slow; bound calls that came without a deadline
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 300*time.Second)
		defer cancel()
	}

	msg := api.Message{Role: "user", Content: prompt}
	if imgB64 != "" {
		imgBytes, err := base64.StdEncoding.DecodeString(imgB64)
		if err != nil {
			return "", errors.Wrap(err, "failed to decode base64 image")
		}
		msg.Images = []api.ImageData{api.ImageData(imgBytes)}
	}

	streamFalse := false
	req := &api.ChatRequest{
		Model:    model,
		Messages: []api.Message{msg},
		Stream:   &streamFalse,
		Options:  modelOptions(model),
	}

	var responseContent string
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		responseContent += resp.Message.Content
		return nil
	})
	if err != nil {
		return "", errors.Wrap(err, "ollama chat error")
	}
	if responseContent == "" {
		return "", errors.New("empty response from ollama")
	}
	return responseContent, nil
}

// modelOptions returns sampling options tuned for known vision models
func modelOptions(model string) map[string]any {
	options := map[string]any{"temperature": 0.2}
	modelLower := strings.ToLower(model)
	if strings.Contains(modelLower, "minicpm-v4") ||
		strings.Contains(modelLower, "minicpm-v-4") ||
		strings.Contains(modelLower, "minicpmv4") {
		options["top_p"] = 0.8
		options["num_ctx"] = 4096
	}
	return options
}
