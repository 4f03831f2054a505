// Package tree holds the decision tree walked by a conversation: states with a
// question and labelled outcomes pointing at the next state. A state that is
// referenced by an outcome but has no node of its own is terminal and names a
// diagnosis.
package tree

import (
	"fmt"
	"os"
	"strings"
	"triagecall/app/config"

	_ "embed"

	"github.com/elliotchance/pie/v2"
	"github.com/go-playground/validator/v10"
	"github.com/samber/do"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// RootKey is the state every conversation starts in.
const RootKey = "root"

// InvalidLabel is what an interpreter answers when an utterance fits no
// outcome; no node may use it as a label.
const InvalidLabel = "invalid"

//go:embed tree.yaml
var defaultTable []byte

type Outcome struct {
	Label string `validate:"required"`
	Next  string `validate:"required"`
}

type Node struct {
	Key      string    `validate:"required"`
	Question string    `validate:"required"`
	Outcomes []Outcome `validate:"required,min=1,dive"`
}

// Labels returns outcome labels in authored order.
func (n *Node) Labels() []string {
	return pie.Map(n.Outcomes, func(o Outcome) string {
		return o.Label
	})
}

// Next returns the state an outcome label leads to.
func (n *Node) Next(label string) (string, bool) {
	for _, o := range n.Outcomes {
		if o.Label == label {
			return o.Next, true
		}
	}

	return "", false
}

// Tree is immutable once loaded and safe for concurrent use.
type Tree struct {
	nodes map[string]*Node
	order []string
}

func New(di *do.Injector) (*Tree, error) {
	cfg := do.MustInvoke[*config.Config](di)

	if cfg.Conversation.TreeFile == "" {
		return Default()
	}

	data, err := os.ReadFile(cfg.Conversation.TreeFile)
	if err != nil {
		return nil, oops.In("tree").Errorf("failed to read tree file: %w", err)
	}

	return Parse(data)
}

// Default returns the embedded symptom table.
func Default() (*Tree, error) {
	return Parse(defaultTable)
}

// Parse decodes and validates a YAML table. Duplicate state keys and duplicate
// labels are rejected instead of silently shadowing earlier definitions.
func Parse(data []byte) (*Tree, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, oops.In("tree").Errorf("failed to parse tree YAML: %w", err)
	}

	if len(doc.Content) == 0 {
		return nil, oops.In("tree").Errorf("tree is empty")
	}

	top := doc.Content[0]
	if top.Kind != yaml.MappingNode {
		return nil, oops.In("tree").Errorf("tree must be a mapping of states, line %d", top.Line)
	}

	t := &Tree{nodes: make(map[string]*Node)}
	validate := validator.New(validator.WithRequiredStructEnabled())

	for i := 0; i+1 < len(top.Content); i += 2 {
		keyNode, body := top.Content[i], top.Content[i+1]
		key := strings.TrimSpace(keyNode.Value)

		if _, exists := t.nodes[key]; exists {
			return nil, oops.In("tree").With("state", key).Errorf("duplicate state %q at line %d", key, keyNode.Line)
		}

		node, err := parseNode(key, body)
		if err != nil {
			return nil, err
		}

		if err = validate.Struct(node); err != nil {
			return nil, oops.In("tree").With("state", key).Errorf("invalid state %q: %w", key, err)
		}

		t.nodes[key] = node
		t.order = append(t.order, key)
	}

	if _, ok := t.nodes[RootKey]; !ok {
		return nil, oops.In("tree").Errorf("tree has no %q state", RootKey)
	}

	return t, nil
}

func parseNode(key string, body *yaml.Node) (*Node, error) {
	if body.Kind != yaml.MappingNode {
		return nil, oops.In("tree").With("state", key).Errorf("state %q must be a mapping, line %d", key, body.Line)
	}

	node := &Node{Key: key}

	for i := 0; i+1 < len(body.Content); i += 2 {
		field, value := body.Content[i], body.Content[i+1]

		switch field.Value {
		case "question":
			node.Question = strings.TrimSpace(value.Value)
		case "outcomes":
			if value.Kind != yaml.MappingNode {
				return nil, oops.In("tree").With("state", key).Errorf("outcomes of %q must be a mapping, line %d", key, value.Line)
			}

			seen := make(map[string]bool)
			for j := 0; j+1 < len(value.Content); j += 2 {
				label := strings.ToLower(strings.TrimSpace(value.Content[j].Value))
				if label == InvalidLabel {
					return nil, oops.In("tree").With("state", key).Errorf("outcome label %q is reserved, state %q, line %d", label, key, value.Content[j].Line)
				}
				if seen[label] {
					return nil, oops.In("tree").With("state", key).Errorf("duplicate outcome %q in state %q, line %d", label, key, value.Content[j].Line)
				}
				seen[label] = true

				node.Outcomes = append(node.Outcomes, Outcome{
					Label: label,
					Next:  strings.TrimSpace(value.Content[j+1].Value),
				})
			}
		default:
			return nil, oops.In("tree").With("state", key).Errorf("unknown field %q in state %q, line %d", field.Value, key, field.Line)
		}
	}

	return node, nil
}

func (t *Tree) Node(key string) (*Node, bool) {
	node, ok := t.nodes[key]
	return node, ok
}

func (t *Tree) Root() *Node {
	return t.nodes[RootKey]
}

// IsTerminal reports whether key names a diagnosis rather than a question.
func (t *Tree) IsTerminal(key string) bool {
	_, ok := t.nodes[key]
	return !ok
}

// Keys returns state keys in authored order.
func (t *Tree) Keys() []string {
	return append([]string(nil), t.order...)
}

// Terminals lists every diagnosis reachable through an outcome.
func (t *Tree) Terminals() []string {
	var result []string

	for _, key := range t.order {
		for _, o := range t.nodes[key].Outcomes {
			if t.IsTerminal(o.Next) && !pie.Contains(result, o.Next) {
				result = append(result, o.Next)
			}
		}
	}

	return result
}

func (t *Tree) String() string {
	return fmt.Sprintf("tree(%d states, %d diagnoses)", len(t.order), len(t.Terminals()))
}
