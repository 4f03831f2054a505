package conversation

import (
	"context"
	"log/slog"
	"strings"
	"triagecall/app/client/oracle"
	"triagecall/app/service/tree"

	_ "embed"

	"github.com/elliotchance/pie/v2"
)

//go:embed interpret_prompt_template.txt
var interpretPromptTemplate string

// Interpreter narrows a free-form answer to one outcome label of a node.
type Interpreter struct {
	oracle oracle.Oracle
}

func NewInterpreter(o oracle.Oracle) *Interpreter {
	return &Interpreter{oracle: o}
}

// Interpret returns one of node's labels or tree.InvalidLabel. It never fails:
// oracle errors count as an invalid answer.
func (i *Interpreter) Interpret(ctx context.Context, utterance string, node *tree.Node) string {
	labels := node.Labels()

	prompt := fillTemplate(interpretPromptTemplate, map[string]any{
		"utterance": utterance,
		"question":  node.Question,
		"options":   strings.Join(labels, ", "),
	})

	raw, err := i.oracle.Complete(ctx, prompt)
	if err != nil {
		slog.Warn("Failed to interpret response",
			"state", node.Key,
			"error", err,
		)
		return tree.InvalidLabel
	}

	label := normalizeLabel(raw, labels)

	slog.Debug("Interpreted response",
		"state", node.Key,
		"raw", raw,
		"label", label,
	)

	return label
}

func normalizeLabel(raw string, labels []string) string {
	text := cleanLabel(raw)
	if pie.Contains(labels, text) {
		return text
	}

	if first, _, found := strings.Cut(text, ","); found {
		first = cleanLabel(first)
		if pie.Contains(labels, first) {
			return first
		}
	}

	return tree.InvalidLabel
}

func cleanLabel(text string) string {
	return strings.ToLower(strings.Trim(text, " \t\r\n\"'`."))
}
