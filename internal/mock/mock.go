// Package mock answers the OpenAI compatible endpoints the UI uses without an upstream.
package mock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	httpmiddleware "github.com/wolfeidau/api2web/internal/http"
)

const (
	defaultAnswer = "Default mock answer from mocked API"
	maxBody       = 1 << 20
	maxLines      = 500
	maxDelay      = 5 * time.Minute
)

var (
	ErrInvalidModels = errors.New("invalid models document")

	delayPattern = regexp.MustCompile(`d(\d+)`)
	linesPattern = regexp.MustCompile(`l(\d+)`)
)

var builtinModels = []byte(`{"object":"list","data":[` +
	`{"id":"mock-gpt-4o","object":"model","created":0,"owned_by":"api2web"},` +
	`{"id":"mock-gpt-4o-mini","object":"model","created":0,"owned_by":"api2web"}]}`)

type Config struct {
	// ModelsFile holds the JSON (or YAML) served from /v1/models, a built-in list is used when empty.
	ModelsFile string
}

// Upstream is an in-process stand in for an OpenAI compatible API.
type Upstream struct {
	models []byte
	mux    *http.ServeMux
	sleep  func(ctx context.Context, d time.Duration) error
}

func New(cfg Config) (*Upstream, error) {
	models := builtinModels
	if cfg.ModelsFile != "" {
		data, err := loadModels(cfg.ModelsFile)
		if err != nil {
			return nil, err
		}
		models = data
	}

	u := &Upstream{
		models: models,
		mux:    http.NewServeMux(),
		sleep:  sleepContext,
	}

	u.mux.HandleFunc("POST /v1/chat/completions", u.chatCompletions)
	u.mux.HandleFunc("POST /v1/responses", u.responses)
	u.mux.HandleFunc("GET /v1/models", u.listModels)
	u.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		httpmiddleware.WriteError(w, http.StatusNotFound, "not found", httpmiddleware.CodeNotFound)
	})

	return u, nil
}

// loadModels reads a models document, YAML files are converted to JSON.
func loadModels(name string) ([]byte, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read models file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidModels, name, err)
		}
		data, err = json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidModels, name, err)
		}
	default:
		if !json.Valid(data) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidModels, name)
		}
	}

	return data, nil
}

func (u *Upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	u.mux.ServeHTTP(w, r)
}

type chatMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type chatRequest struct {
	Messages []chatMessage `json:"messages"`
}

type chatChoice struct {
	Index        int          `json:"index"`
	FinishReason string       `json:"finish_reason"`
	Message      chatReplyMsg `json:"message"`
}

type chatReplyMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      int          `json:"id"`
	Choices []chatChoice `json:"choices"`
}

func (u *Upstream) chatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decode(w, r, &req); err != nil {
		httpmiddleware.WriteError(w, http.StatusBadRequest, "invalid JSON body", httpmiddleware.CodeInvalidRequest)
		return
	}
	if len(req.Messages) == 0 {
		httpmiddleware.WriteError(w, http.StatusBadRequest, "messages must not be empty", httpmiddleware.CodeInvalidRequest)
		return
	}

	answer, ok := u.answer(r.Context(), stringContent(req.Messages[len(req.Messages)-1].Content))
	if !ok {
		return
	}

	httpmiddleware.WriteJSON(w, http.StatusOK, chatResponse{
		Choices: []chatChoice{{
			FinishReason: "stop",
			Message:      chatReplyMsg{Role: "assistant", Content: answer},
		}},
	})
}

type responsesRequest struct {
	Model    string          `json:"model"`
	Input    json.RawMessage `json:"input"`
	Messages []chatMessage   `json:"messages"`
}

type outputContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type outputItem struct {
	Type    string          `json:"type"`
	Role    string          `json:"role"`
	Content []outputContent `json:"content"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type responsesResponse struct {
	ID     int          `json:"id"`
	Model  string       `json:"model"`
	Output []outputItem `json:"output"`
	Usage  usage        `json:"usage"`
}

func (u *Upstream) responses(w http.ResponseWriter, r *http.Request) {
	var req responsesRequest
	if err := decode(w, r, &req); err != nil {
		httpmiddleware.WriteError(w, http.StatusBadRequest, "invalid JSON body", httpmiddleware.CodeInvalidRequest)
		return
	}

	answer, ok := u.answer(r.Context(), req.instructions())
	if !ok {
		return
	}

	httpmiddleware.WriteJSON(w, http.StatusOK, responsesResponse{
		Model: req.Model,
		Output: []outputItem{{
			Type:    "message",
			Role:    "assistant",
			Content: []outputContent{{Type: "output_text", Text: answer}},
		}},
		Usage: usage{OutputTokens: 1, TotalTokens: 1},
	})
}

// instructions accepts both Responses style input and chat style messages.
func (req responsesRequest) instructions() string {
	var text string
	if err := json.Unmarshal(req.Input, &text); err == nil && text != "" {
		return text
	}

	var input []chatMessage
	if err := json.Unmarshal(req.Input, &input); err == nil && len(input) > 0 {
		return lastText(input[len(input)-1].Content)
	}

	if len(req.Messages) > 0 {
		return stringContent(req.Messages[len(req.Messages)-1].Content)
	}
	return ""
}

func (u *Upstream) listModels(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(u.models)
}

// answer applies the d<N> delay and l<N> lorem directives found in the prompt.
// It returns false when the client went away during the delay.
func (u *Upstream) answer(ctx context.Context, instructions string) (string, bool) {
	if delay := directive(delayPattern, instructions); delay > 0 {
		d := min(time.Duration(delay)*time.Second, maxDelay)
		if err := u.sleep(ctx, d); err != nil {
			zerolog.Ctx(ctx).Debug().Err(err).Msg("mock delay interrupted")
			return "", false
		}
	}

	if lines := directive(linesPattern, instructions); lines > 0 {
		return paragraph(min(lines, maxLines)), true
	}

	return defaultAnswer, true
}

func directive(pattern *regexp.Regexp, s string) int {
	m := pattern.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(v)
}

func stringContent(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// lastText reads a content field that is either a string or a list of {text} parts.
func lastText(raw json.RawMessage) string {
	if s := stringContent(raw); s != "" {
		return s
	}
	var parts []outputContent
	if err := json.Unmarshal(raw, &parts); err != nil || len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1].Text
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
