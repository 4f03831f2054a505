package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"triagecall/app/client/oracle"
	"triagecall/app/service/record"

	_ "embed"

	"github.com/elliotchance/pie/v2"
	"golang.org/x/sync/errgroup"
)

//go:embed extract_prompt_template.txt
var extractPromptTemplate string

//go:embed summary_prompt_template.txt
var summaryPromptTemplate string

// Accumulator turns every answer into profile facts and summary bullets on the
// caller's record.
type Accumulator struct {
	oracle oracle.Oracle
}

func NewAccumulator(o oracle.Oracle) *Accumulator {
	return &Accumulator{oracle: o}
}

// ExtractAndRecord runs extraction and summarization concurrently and applies
// both to rec. Failures degrade: the profile stays as it was and the pending
// buffer gets a fallback bullet, so the answer itself is never lost.
func (a *Accumulator) ExtractAndRecord(ctx context.Context, question, answer string, rec *record.Record) {
	var (
		facts      map[string]string
		bullets    []string
		extractErr error
		summaryErr error
	)

	var group errgroup.Group

	group.Go(func() error {
		facts, extractErr = a.extract(ctx, question, answer)
		return nil
	})
	group.Go(func() error {
		bullets, summaryErr = a.summarize(ctx, question, answer)
		return nil
	})

	_ = group.Wait()

	if extractErr != nil {
		slog.Warn("Failed to extract profile",
			"phone_number", rec.PhoneNumber,
			"error", extractErr,
		)
	}

	for _, key := range pie.Sort(pie.Keys(facts)) {
		if rec.Set(key, facts[key]) {
			slog.Debug("Updated profile",
				"phone_number", rec.PhoneNumber,
				"key", key,
			)
		}
	}

	if summaryErr != nil {
		slog.Warn("Failed to summarize answer",
			"phone_number", rec.PhoneNumber,
			"error", summaryErr,
		)
		bullets = []string{"Error processing: " + answer}
	}

	rec.AddPending(bullets...)
}

// Finalize commits the pending bullets of rec as a dated entry.
func (a *Accumulator) Finalize(rec *record.Record, now time.Time) bool {
	return rec.Finalize(now)
}

func (a *Accumulator) extract(ctx context.Context, question, answer string) (map[string]string, error) {
	prompt := fillTemplate(extractPromptTemplate, map[string]any{
		"question": question,
		"answer":   answer,
	})

	raw, err := a.oracle.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("oracle.Complete: %w", err)
	}

	return parseFacts(raw)
}

// parseFacts decodes the extraction object. Nulls are dropped, numbers keep
// their literal text and nested values are ignored.
func parseFacts(raw string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, "`")
	raw = strings.TrimPrefix(raw, "json")
	raw = strings.TrimSpace(raw)

	decoder := json.NewDecoder(bytes.NewReader([]byte(raw)))
	decoder.UseNumber()

	var doc map[string]any
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}

	facts := make(map[string]string, len(doc))
	for key, value := range doc {
		switch v := value.(type) {
		case string:
			facts[key] = v
		case json.Number:
			facts[key] = v.String()
		case bool:
			facts[key] = fmt.Sprint(v)
		}
	}

	return facts, nil
}

func (a *Accumulator) summarize(ctx context.Context, question, answer string) ([]string, error) {
	prompt := fillTemplate(summaryPromptTemplate, map[string]any{
		"question": question,
		"answer":   answer,
	})

	raw, err := a.oracle.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("oracle.Complete: %w", err)
	}

	bullets := splitBullets(raw)
	if len(bullets) == 0 {
		return nil, oracle.ErrEmptyCompletion
	}

	return bullets, nil
}

func splitBullets(text string) []string {
	lines := pie.Map(strings.Split(text, "\n"), strings.TrimSpace)

	return pie.Filter(lines, func(line string) bool {
		return line != ""
	})
}
