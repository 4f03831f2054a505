package conversation

import (
	"context"
	"strings"
	"sync"
)

// scriptedOracle answers by prompt kind and records every prompt it saw.
type scriptedOracle struct {
	mu      sync.Mutex
	prompts []string

	interpret func(prompt string) (string, error)
	extract   func(prompt string) (string, error)
	summary   func(prompt string) (string, error)
	rephrase  func(prompt string) (string, error)
}

func (o *scriptedOracle) Complete(ctx context.Context, prompt string) (string, error) {
	o.mu.Lock()
	o.prompts = append(o.prompts, prompt)
	o.mu.Unlock()

	var fn func(string) (string, error)

	switch {
	case strings.Contains(prompt, "Interpret the response"):
		fn = o.interpret
	case strings.Contains(prompt, "Extract the following information"):
		fn = o.extract
	case strings.Contains(prompt, "bullet point summary"):
		fn = o.summary
	default:
		fn = o.rephrase
	}

	if fn == nil {
		return "", context.DeadlineExceeded
	}

	return fn(prompt)
}

func (o *scriptedOracle) promptsContaining(marker string) []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	var result []string
	for _, p := range o.prompts {
		if strings.Contains(p, marker) {
			result = append(result, p)
		}
	}

	return result
}

func reply(text string) func(string) (string, error) {
	return func(string) (string, error) {
		return text, nil
	}
}
