package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
	"triagecall/app/config"

	"github.com/tmc/langchaingo/callbacks"
	"github.com/tmc/langchaingo/llms"
	lcopenai "github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
)

type LangChain struct {
	llm     llms.Model
	timeout time.Duration
}

func NewLangChain(cfg config.Oracle) (*LangChain, error) {
	llm, err := lcopenai.New(
		lcopenai.WithToken(cfg.Token),
		lcopenai.WithBaseURL(cfg.BaseURL),
		lcopenai.WithModel(cfg.Model),
		lcopenai.WithHTTPClient(&http.Client{Timeout: cfg.Timeout + 5*time.Second}),
		lcopenai.WithCallback(LogCallbackHandler{}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create langchain llm: %w", err)
	}

	return &LangChain{
		llm:     llm,
		timeout: cfg.Timeout,
	}, nil
}

func (l *LangChain) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	text, err := llms.GenerateFromSinglePrompt(ctx, l.llm, prompt,
		llms.WithTemperature(defaultTemperature),
		llms.WithMaxTokens(maxCompletionTokens),
	)
	if err != nil {
		return "", fmt.Errorf("failed to generate completion: %w", err)
	}

	result := cleanCompletion(text)
	if result == "" {
		return "", ErrEmptyCompletion
	}

	return result, nil
}

var _ callbacks.Handler = (*LogCallbackHandler)(nil)

// LogCallbackHandler reports model traffic to slog. Only errors are logged above debug.
type LogCallbackHandler struct{}

func (l LogCallbackHandler) HandleText(context.Context, string) {}

func (l LogCallbackHandler) HandleLLMStart(ctx context.Context, prompts []string) {
	slog.DebugContext(ctx, "Oracle request", "prompts", len(prompts))
}

func (l LogCallbackHandler) HandleLLMGenerateContentStart(ctx context.Context, ms []llms.MessageContent) {
	slog.DebugContext(ctx, "Oracle generate start", "messages", len(ms))
}

func (l LogCallbackHandler) HandleLLMGenerateContentEnd(ctx context.Context, res *llms.ContentResponse) {
	if res == nil {
		return
	}

	slog.DebugContext(ctx, "Oracle generate end", "choices", len(res.Choices))
}

func (l LogCallbackHandler) HandleLLMError(ctx context.Context, err error) {
	slog.ErrorContext(ctx, "Oracle error", "error", err)
}

func (l LogCallbackHandler) HandleChainStart(context.Context, map[string]any) {}

func (l LogCallbackHandler) HandleChainEnd(context.Context, map[string]any) {}

func (l LogCallbackHandler) HandleChainError(ctx context.Context, err error) {
	slog.ErrorContext(ctx, "Oracle chain error", "error", err)
}

func (l LogCallbackHandler) HandleToolStart(context.Context, string) {}

func (l LogCallbackHandler) HandleToolEnd(context.Context, string) {}

func (l LogCallbackHandler) HandleToolError(ctx context.Context, err error) {
	slog.ErrorContext(ctx, "Oracle tool error", "error", err)
}

func (l LogCallbackHandler) HandleAgentAction(context.Context, schema.AgentAction) {}

func (l LogCallbackHandler) HandleAgentFinish(context.Context, schema.AgentFinish) {}

func (l LogCallbackHandler) HandleRetrieverStart(context.Context, string) {}

func (l LogCallbackHandler) HandleRetrieverEnd(context.Context, string, []schema.Document) {}

func (l LogCallbackHandler) HandleStreamingFunc(context.Context, []byte) {}
