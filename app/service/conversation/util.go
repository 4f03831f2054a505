package conversation

import (
	"fmt"
	"strings"
	"triagecall/app/service/record"
)

// fillTemplate substitutes {key} placeholders in a single pass, so values
// that themselves contain braces are left alone.
func fillTemplate(template string, values map[string]any) string {
	pairs := make([]string, 0, len(values)*2)
	for key, value := range values {
		pairs = append(pairs, "{"+key+"}", fmt.Sprint(value))
	}

	return strings.NewReplacer(pairs...).Replace(template)
}

func orNotAvailable(value string) string {
	if value == "" {
		return record.NotAvailable
	}

	return value
}

// historyContext flattens a record into the bullet list the rephrase prompts
// personalize from.
func historyContext(rec *record.Record) string {
	var lines []string

	for _, entry := range rec.Entries {
		for _, bullet := range entry.Bullets {
			lines = append(lines, "- "+strings.TrimPrefix(bullet, "- "))
		}
	}

	for _, bullet := range rec.CurrentCall {
		lines = append(lines, "- Current Call: "+strings.TrimPrefix(bullet, "- "))
	}

	lines = append(lines,
		"- Age: "+orNotAvailable(rec.Age),
		"- Gender: "+orNotAvailable(rec.Gender),
		"- Name: "+orNotAvailable(rec.FullName()),
		"- Weight: "+orNotAvailable(rec.Weight),
		"- Height: "+orNotAvailable(rec.Height),
	)

	return strings.Join(lines, "\n")
}
