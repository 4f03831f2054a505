package conversation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"triagecall/app/service/tree"
)

func testNode() *tree.Node {
	return &tree.Node{
		Key:      "root",
		Question: "Are you experiencing any of the following symptoms: fever, cough, shortness of breath, or fatigue?",
		Outcomes: []tree.Outcome{
			{Label: "fever", Next: "fever"},
			{Label: "cough", Next: "cough"},
			{Label: "shortness_of_breath", Next: "shortness_of_breath"},
			{Label: "fatigue", Next: "fatigue"},
			{Label: "none", Next: "age"},
		},
	}
}

func TestInterpret(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{raw: "cough", want: "cough"},
		{raw: "  Cough\n", want: "cough"},
		{raw: "\"fever\"", want: "fever"},
		{raw: "`fatigue`.", want: "fatigue"},
		{raw: "'none'.", want: "none"},
		{raw: "fever, cough", want: "fever"},
		{raw: "headache, cough", want: tree.InvalidLabel},
		{raw: "invalid", want: tree.InvalidLabel},
		{raw: "", want: tree.InvalidLabel},
		{raw: "cough\nfever", want: tree.InvalidLabel},
		{raw: "fever cough shortness_of_breath fatigue none", want: tree.InvalidLabel},
		{raw: "The answer is cough", want: tree.InvalidLabel},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			i := NewInterpreter(&scriptedOracle{interpret: reply(tt.raw)})

			if got := i.Interpret(context.Background(), "whatever", testNode()); got != tt.want {
				t.Errorf("Interpret(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestInterpret_OracleFailure(t *testing.T) {
	o := &scriptedOracle{
		interpret: func(string) (string, error) {
			return "", errors.New("connection reset")
		},
	}

	if got := NewInterpreter(o).Interpret(context.Background(), "I have a cough", testNode()); got != tree.InvalidLabel {
		t.Errorf("expected invalid, got %q", got)
	}
}

func TestInterpret_Prompt(t *testing.T) {
	o := &scriptedOracle{interpret: reply("cough")}

	NewInterpreter(o).Interpret(context.Background(), "I have a bad cough", testNode())

	prompts := o.promptsContaining("Interpret the response")
	if len(prompts) != 1 {
		t.Fatalf("expected one prompt, got %d", len(prompts))
	}

	p := prompts[0]
	if !strings.Contains(p, `"I have a bad cough"`) {
		t.Error("prompt is missing the utterance")
	}
	if !strings.Contains(p, "fever, cough, shortness_of_breath, fatigue, none") {
		t.Errorf("prompt must list labels in authored order:\n%s", p)
	}
}

func TestInterpret_AlwaysInRange(t *testing.T) {
	node := testNode()
	outputs := []string{"yes", "NONE!", "fatigue,", ",cough", "shortness of breath", "💊", strings.Repeat("a", 4096)}

	for _, raw := range outputs {
		got := NewInterpreter(&scriptedOracle{interpret: reply(raw)}).Interpret(context.Background(), "x", node)

		if got != tree.InvalidLabel {
			if _, ok := node.Next(got); !ok {
				t.Errorf("Interpret(%q) returned foreign label %q", raw, got)
			}
		}
	}
}
