// Package oracle is the single text-completion capability every model-backed
// task goes through: classification, extraction, summarization, rephrasing
// and translation all build a prompt and call Complete.
package oracle

import (
	"context"
	"errors"
	"strings"
	"triagecall/app/config"

	"github.com/samber/do"
	"github.com/samber/oops"
)

var ErrEmptyCompletion = errors.New("empty completion")

type Oracle interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Func adapts a plain function to Oracle.
type Func func(ctx context.Context, prompt string) (string, error)

func (f Func) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

func New(di *do.Injector) (Oracle, error) {
	cfg := do.MustInvoke[*config.Config](di)

	switch cfg.Oracle.Backend {
	case "openai":
		return NewOpenAI(cfg.Oracle), nil
	case "langchain":
		return NewLangChain(cfg.Oracle)
	default:
		return nil, oops.In("oracle").Errorf("unknown oracle backend %q", cfg.Oracle.Backend)
	}
}

// cleanCompletion strips markdown fences models like to wrap answers in.
func cleanCompletion(text string) string {
	text = strings.TrimSpace(text)
	text = strings.Trim(text, "`")
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "json\n")

	return strings.TrimSpace(text)
}
