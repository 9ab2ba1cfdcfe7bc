package diagnostics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"log/slog"

	"github.com/tidwall/gjson"
)

const (
	defaultModel   = "gemini-1.5-flash"
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	pingPrompt    = "Respond with a single word: ok"
	maxTextBody    = 500
	maxReadBytes   = 1 << 20
)

var keyPattern = regexp.MustCompile(`^AIza[0-9A-Za-z_-]{10,}$`)

// GeminiConfig describes how to reach the Gemini API.
type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// Gemini checks the configured Gemini model with a tiny request.
type Gemini struct {
	cfg    GeminiConfig
	client *http.Client
	logger *slog.Logger
}

// NewGemini constructs a checker. A nil client uses a 15 second timeout.
func NewGemini(cfg GeminiConfig, client *http.Client, logger *slog.Logger) *Gemini {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	return &Gemini{cfg: cfg, client: client, logger: logger}
}

// Report is the debug endpoint payload.
type Report struct {
	KeyPresent     bool     `json:"keyPresent"`
	Message        string   `json:"message,omitempty"`
	KeyFormatValid *bool    `json:"keyFormatValid,omitempty"`
	TestModel      string   `json:"testModel,omitempty"`
	Attempt        *Attempt `json:"attempt,omitempty"`
}

// Attempt records the outcome of the check request.
type Attempt struct {
	HTTPStatus int    `json:"httpStatus,omitempty"`
	OK         *bool  `json:"ok,omitempty"`
	Body       any    `json:"body,omitempty"`
	Reply      string `json:"reply,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Check checks the key format and sends a single-word prompt. Upstream
// failures are reported in the attempt, never returned as errors.
func (g *Gemini) Check(ctx context.Context) Report {
	key := g.cfg.APIKey
	if key == "" {
		return Report{KeyPresent: false, Message: "GEMINI_API_KEY not set in env"}
	}
	valid := keyPattern.MatchString(key)
	report := Report{KeyPresent: true, KeyFormatValid: &valid, TestModel: g.cfg.Model}
	report.Attempt = g.attempt(ctx, key)
	return report
}

func (g *Gemini) attempt(ctx context.Context, key string) *Attempt {
	endpoint := fmt.Sprintf("%s/v1/models/%s:generateContent?key=%s", g.cfg.BaseURL, url.PathEscape(g.cfg.Model), url.QueryEscape(key))
	payload, err := json.Marshal(map[string]any{
		"contents": []map[string]any{{
			"role":  "user",
			"parts": []map[string]string{{"text": pingPrompt}},
		}},
		"generationConfig": map[string]any{"temperature": 0},
	})
	if err != nil {
		return &Attempt{Error: err.Error()}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return &Attempt{Error: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Warn("gemini check failed", "model", g.cfg.Model, "error", redact(err.Error(), key))
		return &Attempt{Error: redact(err.Error(), key)}
	}
	defer resp.Body.Close()

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	attempt := &Attempt{HTTPStatus: resp.StatusCode, OK: &ok}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	if err != nil {
		attempt.Error = err.Error()
		return attempt
	}
	if gjson.ValidBytes(raw) {
		attempt.Body = json.RawMessage(raw)
		attempt.Reply = strings.TrimSpace(gjson.GetBytes(raw, "candidates.0.content.parts.0.text").String())
	} else {
		attempt.Body = truncate(string(raw), maxTextBody)
	}
	g.logger.Info("gemini check", "model", g.cfg.Model, "status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())
	return attempt
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func redact(msg, key string) string {
	if key == "" {
		return msg
	}
	msg = strings.ReplaceAll(msg, url.QueryEscape(key), "REDACTED")
	return strings.ReplaceAll(msg, key, "REDACTED")
}
