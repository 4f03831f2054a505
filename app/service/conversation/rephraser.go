package conversation

import (
	"context"
	"fmt"
	"strings"
	"triagecall/app/client/oracle"
	"triagecall/app/service/record"

	_ "embed"
)

//go:embed rephrase_prompt_template.txt
var rephrasePromptTemplate string

//go:embed rephrase_invalid_prompt_template.txt
var rephraseInvalidPromptTemplate string

// Rephraser personalizes tree questions with what is known about the caller.
type Rephraser struct {
	oracle oracle.Oracle
}

func NewRephraser(o oracle.Oracle) *Rephraser {
	return &Rephraser{oracle: o}
}

// Rephrase asks the oracle for a personalized version of question. With
// invalid set, the reply also tells the caller their answer did not fit.
// Any failure is reported as ErrRephrase; callers fall back to question.
func (r *Rephraser) Rephrase(ctx context.Context, question, utterance string, invalid bool, rec *record.Record) (string, error) {
	template := rephrasePromptTemplate
	if invalid {
		template = rephraseInvalidPromptTemplate
	}

	prompt := fillTemplate(template, map[string]any{
		"question":  question,
		"utterance": utterance,
		"history":   historyContext(rec),
	})

	raw, err := r.oracle.Complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRephrase, err)
	}

	text := strings.Trim(strings.TrimSpace(raw), "\"")
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrRephrase
	}

	return text, nil
}
