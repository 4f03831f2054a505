package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"triagecall/app/client/oracle"
	"triagecall/app/service/locale"
	"triagecall/app/service/record"
	"triagecall/app/service/tree"

	"github.com/samber/do"
)

// Service walks a caller through the decision tree one answer at a time.
// It keeps no conversation state of its own: the position lives on the
// caller's record, so any number of callers can be served at once.
type Service struct {
	tree        *tree.Tree
	interpreter *Interpreter
	accumulator *Accumulator
	rephraser   *Rephraser

	now func() time.Time
}

func New(di *do.Injector) (*Service, error) {
	return NewService(
		do.MustInvoke[*tree.Tree](di),
		do.MustInvoke[oracle.Oracle](di),
	), nil
}

func NewService(t *tree.Tree, o oracle.Oracle) *Service {
	return &Service{
		tree:        t,
		interpreter: NewInterpreter(o),
		accumulator: NewAccumulator(o),
		rephraser:   NewRephraser(o),
		now:         time.Now,
	}
}

func (s *Service) Tree() *tree.Tree {
	return s.tree
}

// Step handles one answer given in state. The record is updated in place
// but not saved. Oracle failures never fail a step; only an unknown state does.
func (s *Service) Step(ctx context.Context, state, utterance, lang string, rec *record.Record) (*Result, error) {
	node, ok := s.tree.Node(state)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownState, state)
	}

	phrases := locale.Get(lang)

	label := s.interpreter.Interpret(ctx, utterance, node)

	// Every answer carries information, valid or not.
	s.accumulator.ExtractAndRecord(ctx, node.Question, utterance, rec)

	if label == tree.InvalidLabel {
		return &Result{
			Reply: s.rephrase(ctx, node.Question, utterance, true, rec),
			State: state,
			Label: label,
		}, nil
	}

	next, ok := node.Next(label)
	if !ok {
		return &Result{
			Reply: phrases.CouldntUnderstand + " " + node.Question,
			State: state,
			Label: label,
		}, nil
	}

	if s.tree.IsTerminal(next) {
		s.accumulator.Finalize(rec, s.now())

		slog.Info("Reached diagnosis",
			"phone_number", rec.PhoneNumber,
			"diagnosis", next,
		)

		return &Result{
			Reply:        phrases.Diagnosis(next),
			State:        next,
			Label:        label,
			SessionEnded: true,
			Diagnosis:    next,
		}, nil
	}

	nextNode, _ := s.tree.Node(next)

	return &Result{
		Reply: s.rephrase(ctx, nextNode.Question, utterance, false, rec),
		State: next,
		Label: label,
	}, nil
}

// Question returns the personalized question of state, or its literal text
// when rephrasing fails.
func (s *Service) Question(ctx context.Context, state string, rec *record.Record) (string, error) {
	node, ok := s.tree.Node(state)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownState, state)
	}

	return s.rephrase(ctx, node.Question, "", false, rec), nil
}

// Finalize commits the pending bullets of rec.
func (s *Service) Finalize(rec *record.Record) bool {
	return s.accumulator.Finalize(rec, s.now())
}

func (s *Service) rephrase(ctx context.Context, question, utterance string, invalid bool, rec *record.Record) string {
	text, err := s.rephraser.Rephrase(ctx, question, utterance, invalid, rec)
	if err != nil {
		slog.Warn("Using literal question",
			"question", question,
			"error", err,
		)
		return question
	}

	return text
}
