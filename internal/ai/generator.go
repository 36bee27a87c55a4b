package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

var (
	ErrGeneration   = errors.New("generation failed")
	ErrAuth         = errors.New("generation backend rejected credentials")
	ErrQuota        = errors.New("generation backend quota exhausted")
	ErrRateLimited  = errors.New("generation backend rate limited")
	ErrStopped      = errors.New("generation stopped by caller")
	ErrEmptyPrompt  = errors.New("prompt is empty")
	ErrNoGenerators = errors.New("no generation backend configured")
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type GenerateRequest struct {
	Messages  []ChatMessage
	MaxTokens int
}

// Generator streams text fragments to onFragment. Returning ErrStopped from
// onFragment ends the stream without an error.
type Generator interface {
	Stream(ctx context.Context, req GenerateRequest, onFragment func(string) error) error
	Model() string
	Provider() string
	Remote() bool
}

type GeneratorConfig struct {
	BaseURL  string
	APIKey   string
	Model    string
	Provider string
	Remote   bool
}

// OpenAIGenerator talks to any OpenAI-compatible chat endpoint: hosted
// providers and local servers (Ollama, llama.cpp, vLLM) alike.
type OpenAIGenerator struct {
	client *openai.Client
	cfg    GeneratorConfig
}

func NewOpenAIGenerator(cfg GeneratorConfig) *OpenAIGenerator {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &OpenAIGenerator{client: openai.NewClientWithConfig(clientCfg), cfg: cfg}
}

func (g *OpenAIGenerator) Model() string    { return g.cfg.Model }
func (g *OpenAIGenerator) Provider() string { return g.cfg.Provider }
func (g *OpenAIGenerator) Remote() bool     { return g.cfg.Remote }

func (g *OpenAIGenerator) Stream(ctx context.Context, req GenerateRequest, onFragment func(string) error) error {
	if len(req.Messages) == 0 {
		return ErrEmptyPrompt
	}
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	stream, err := g.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:     g.cfg.Model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
		Stream:    true,
	})
	if err != nil {
		return classify(err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return classify(err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		text := resp.Choices[0].Delta.Content
		if text == "" {
			continue
		}
		if err := onFragment(text); err != nil {
			if errors.Is(err, ErrStopped) {
				return nil
			}
			return err
		}
	}
}

// classify maps provider failures onto the distinct auth, quota and rate
// limit errors; everything else becomes ErrGeneration.
func classify(err error) error {
	status := 0
	code := ""
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
		code = apiErr.Type
		if s, ok := apiErr.Code.(string); ok && s != "" {
			code = s
		}
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %v", ErrAuth, err)
	case status == http.StatusPaymentRequired || strings.Contains(code, "quota"):
		return fmt.Errorf("%w: %v", ErrQuota, err)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrGeneration, err)
	}
}
