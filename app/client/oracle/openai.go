package oracle

import (
	"context"
	"fmt"
	"net/http"
	"time"
	"triagecall/app/config"

	"github.com/sashabaranov/go-openai"
)

const (
	defaultTemperature  = 0.2
	maxCompletionTokens = 1000
)

type OpenAI struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

func NewOpenAI(cfg config.Oracle) *OpenAI {
	clientConfig := openai.DefaultConfig(cfg.Token)

	clientConfig.BaseURL = cfg.BaseURL
	clientConfig.HTTPClient = &http.Client{
		Timeout: cfg.Timeout + 5*time.Second,
	}

	return &OpenAI{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   cfg.Model,
		timeout: cfg.Timeout,
	}
}

func (o *OpenAI) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	aiResponse, err := o.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: o.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
			MaxCompletionTokens: maxCompletionTokens,
			Temperature:         defaultTemperature,
		},
	)
	if err != nil {
		return "", fmt.Errorf("failed to create chat completion: %w", err)
	}

	if len(aiResponse.Choices) == 0 {
		return "", ErrEmptyCompletion
	}

	result := cleanCompletion(aiResponse.Choices[0].Message.Content)
	if result == "" {
		return "", ErrEmptyCompletion
	}

	return result, nil
}
