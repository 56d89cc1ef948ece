// Package llamacpp queries a vision model served by llama.cpp's OpenAI-compatible
// chat completions endpoint.
package llamacpp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultURL is the address of a local llama.cpp server
const DefaultURL = "http://localhost:8080"

const completionsPath = "/v1/chat/completions"

// maxErrorBody bounds how much of a failed response ends up in the error
const maxErrorBody = 512

// Client asks a llama.cpp server about one image at a time
type Client struct {
	endpoint string
	hc       *http.Client
	log      logrus.FieldLogger
}

// NewClient returns a client for the server at serverURL. A nil hc uses
// http.DefaultClient; the caller owns its timeout.
func NewClient(serverURL string, hc *http.Client, log logrus.FieldLogger) (*Client, error) {
	if serverURL == "" {
		serverURL = DefaultURL
	}
	u, err := url.Parse(strings.TrimSuffix(serverURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "invalid URL")
	}
	if u.Host == "" {
		return nil, errors.Errorf("invalid URL: %s has no host", serverURL)
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Client{endpoint: u.String() + completionsPath, hc: hc, log: log}, nil
}

type part struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type message struct {
	Role    string `json:"role"`
	Content []part `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type completionRequest struct {
	Model          string          `json:"model"`
	Messages       []message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens"`
	Stream         bool            `json:"stream"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// SimpleQuery sends prompt and an optional base64 JPEG and returns the model's answer.
// The server is asked for a JSON object; detection parsing still tolerates prose.
func (c *Client) SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	content := []part{{Type: "text", Text: prompt}}
	if imgB64 != "" {
		content = append(content, part{
			Type:     "image_url",
			ImageURL: &imageURL{URL: "data:image/jpeg;base64," + imgB64},
		})
	}
	body, err := json.Marshal(completionRequest{
		Model:          model,
		Messages:       []message{{Role: "user", Content: content}},
		Temperature:    0.1,
		MaxTokens:      2048,
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return "", errors.Wrap(err, "encode request")
	}

	requestID := uuid.NewString()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	log := c.log.WithFields(logrus.Fields{"request_id": requestID, "model": model})
	log.Debug("querying llama.cpp")

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "llama.cpp request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", errors.Errorf("llama.cpp returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", errors.Wrap(err, "decode response")
	}
	if len(out.Choices) == 0 {
		return "", errors.New("llama.cpp returned no choices")
	}
	choice := out.Choices[0]
	text := textOf(choice.Message.Content)
	if text == "" {
		return "", errors.Errorf("llama.cpp returned no text (finish reason %q)", choice.FinishReason)
	}
	log.WithField("finish_reason", choice.FinishReason).Debug("llama.cpp answered")
	return text, nil
}

// textOf reads message content that is either a plain string or a list of parts
func textOf(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []part
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	var b strings.Builder
	for _, p := range parts {
		if p.Type == "text" {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}
