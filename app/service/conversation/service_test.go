package conversation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"triagecall/app/client/oracle"
	"triagecall/app/service/record"
	"triagecall/app/service/tree"
)

func newTestService(t *testing.T, o oracle.Oracle) *Service {
	t.Helper()

	tr, err := tree.Default()
	if err != nil {
		t.Fatal(err)
	}

	s := NewService(tr, o)
	s.now = func() time.Time {
		return time.Date(2026, 10, 16, 14, 30, 0, 0, time.UTC)
	}

	return s
}

func TestStep_FreshCallerCough(t *testing.T) {
	o := &scriptedOracle{
		interpret: reply("cough"),
		extract:   reply(`{"fname": null, "lname": null, "age": null, "gender": null, "height": null, "weight": null}`),
		summary:   reply("- Reports a bad cough"),
		rephrase:  reply(`"Is that cough of yours a persistent one?"`),
	}
	s := newTestService(t, o)
	rec := record.New("+15551234567")

	res, err := s.Step(context.Background(), tree.RootKey, "I have a bad cough", "en", rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Label != "cough" || res.State != "cough" {
		t.Errorf("expected cough/cough, got %s/%s", res.Label, res.State)
	}
	if res.SessionEnded {
		t.Error("session must continue")
	}
	if res.Reply != "Is that cough of yours a persistent one?" {
		t.Errorf("unexpected reply %q", res.Reply)
	}

	rephrases := o.promptsContaining("You will rephrase a question")
	if len(rephrases) != 1 || !strings.Contains(rephrases[0], `Original Question: "Do you have a persistent cough?"`) {
		t.Errorf("expected a rephrase of the cough question, got %q", rephrases)
	}
	if !strings.Contains(rephrases[0], "- Current Call: Reports a bad cough") {
		t.Errorf("rephrase context misses the current call:\n%s", rephrases[0])
	}

	if len(rec.CurrentCall) != 1 || rec.FullName() != "" {
		t.Errorf("unexpected record %+v", rec)
	}
}

func TestStep_InvalidAnswerKeepsState(t *testing.T) {
	o := &scriptedOracle{
		interpret: reply("invalid"),
		extract:   reply("{}"),
		summary:   reply("- Said Tuesday when asked about fever"),
		rephrase:  reply("Sorry, 'Tuesday' is not a valid answer. Is your temperature above 38°C?"),
	}
	s := newTestService(t, o)
	rec := record.New("+15551234567")

	res, err := s.Step(context.Background(), "fever", "Tuesday", "en", rec)
	if err != nil {
		t.Fatal(err)
	}

	if res.State != "fever" || res.Label != tree.InvalidLabel || res.SessionEnded {
		t.Errorf("unexpected result %+v", res)
	}
	if !strings.Contains(res.Reply, "Tuesday") {
		t.Errorf("reply should reference the answer: %q", res.Reply)
	}

	prompts := o.promptsContaining("which was not understood or is invalid")
	if len(prompts) != 1 {
		t.Fatalf("expected one invalid rephrase, got %d", len(prompts))
	}
	if !strings.Contains(prompts[0], `Original Question: "Do you have a fever above 38°C (100.4°F)?"`) ||
		!strings.Contains(prompts[0], `Invalid Response: "Tuesday"`) {
		t.Errorf("unexpected invalid prompt:\n%s", prompts[0])
	}

	if len(rec.CurrentCall) != 1 {
		t.Errorf("invalid answers are still recorded, got %q", rec.CurrentCall)
	}
}

func TestStep_TerminalDiagnosis(t *testing.T) {
	o := &scriptedOracle{
		interpret: reply("yes"),
		extract:   reply("{}"),
		summary:   reply("- Has muscle aches"),
	}
	s := newTestService(t, o)
	rec := record.New("+15551234567")
	rec.AddPending("- Fever above 38°C")

	res, err := s.Step(context.Background(), "flu_like_symptoms", "yes, everything aches", "en", rec)
	if err != nil {
		t.Fatal(err)
	}

	if !res.SessionEnded || res.Diagnosis != "influenza" || res.State != "influenza" {
		t.Errorf("unexpected result %+v", res)
	}
	if !strings.Contains(res.Reply, "influenza") || !strings.Contains(res.Reply, "consult a medical professional") {
		t.Errorf("unexpected reply %q", res.Reply)
	}

	if len(rec.CurrentCall) != 0 {
		t.Errorf("pending buffer must be committed, got %q", rec.CurrentCall)
	}
	if len(rec.Entries) != 1 || rec.Entries[0].Timestamp != "10/16/2026 02:30PM" || len(rec.Entries[0].Bullets) != 2 {
		t.Errorf("unexpected entries %+v", rec.Entries)
	}
	if len(o.promptsContaining("rephrase")) != 0 {
		t.Error("terminal states are announced, not rephrased")
	}
}

func TestStep_DiagnosisHumanized(t *testing.T) {
	o := &scriptedOracle{interpret: reply("no"), extract: reply("{}"), summary: reply("- ok")}
	s := newTestService(t, o)

	res, err := s.Step(context.Background(), "high_fever", "no", "en", record.New("+1"))
	if err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(res.Reply, "you may have common cold.") {
		t.Errorf("unexpected reply %q", res.Reply)
	}
	if res.Diagnosis != "common_cold" {
		t.Errorf("diagnosis key must stay raw, got %q", res.Diagnosis)
	}
}

func TestStep_NullAgeKeepsStoredAge(t *testing.T) {
	ages := []string{`{"age": "45"}`, `{"age": null}`}
	calls := 0

	o := &scriptedOracle{
		interpret: reply("invalid"),
		extract: func(string) (string, error) {
			answer := ages[calls]
			calls++
			return answer, nil
		},
		summary:  reply("- noted"),
		rephrase: reply("Could you say that again?"),
	}
	s := newTestService(t, o)
	rec := record.New("+15551234567")

	for _, utterance := range []string{"I'm 45", "not sure"} {
		if _, err := s.Step(context.Background(), tree.RootKey, utterance, "en", rec); err != nil {
			t.Fatal(err)
		}
	}

	if rec.Age != "45" {
		t.Errorf("expected age 45, got %q", rec.Age)
	}
}

func TestStep_OracleTimeout(t *testing.T) {
	timeout := func(string) (string, error) {
		return "", context.DeadlineExceeded
	}
	o := &scriptedOracle{
		interpret: timeout,
		extract:   timeout,
		summary:   timeout,
		rephrase:  timeout,
	}
	s := newTestService(t, o)
	rec := record.New("+15551234567")

	res, err := s.Step(context.Background(), "fever", "hmm", "en", rec)
	if err != nil {
		t.Fatalf("oracle failures must not fail the turn: %v", err)
	}

	if res.Reply == "" {
		t.Fatal("expected a caller-facing reply")
	}
	if res.Reply != "Do you have a fever above 38°C (100.4°F)?" || res.State != "fever" {
		t.Errorf("expected literal question fallback, got %+v", res)
	}
	if len(rec.CurrentCall) != 1 || rec.CurrentCall[0] != "Error processing: hmm" {
		t.Errorf("unexpected buffer %q", rec.CurrentCall)
	}
}

func TestStep_InvalidRephraseFallsBack(t *testing.T) {
	o := &scriptedOracle{
		interpret: reply("invalid"),
		extract:   reply("{}"),
		summary:   reply("- ok"),
		rephrase:  reply(`""`),
	}
	s := newTestService(t, o)

	res, err := s.Step(context.Background(), "fever", "Tuesday", "en", record.New("+1"))
	if err != nil {
		t.Fatal(err)
	}

	if res.Reply != "Do you have a fever above 38°C (100.4°F)?" {
		t.Errorf("expected literal question, got %q", res.Reply)
	}
}

func TestStep_UnknownState(t *testing.T) {
	s := newTestService(t, &scriptedOracle{})

	_, err := s.Step(context.Background(), "influenza", "hello", "en", record.New("+1"))
	if !errors.Is(err, ErrUnknownState) {
		t.Errorf("expected ErrUnknownState, got %v", err)
	}
}

func TestStep_Localized(t *testing.T) {
	o := &scriptedOracle{interpret: reply("yes"), extract: reply("{}"), summary: reply("- ok")}
	s := newTestService(t, o)

	res, err := s.Step(context.Background(), "flu_like_symptoms", "हाँ", "hi", record.New("+1"))
	if err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(res.Reply, "influenza") || !strings.Contains(res.Reply, "चिकित्सा") {
		t.Errorf("expected hindi diagnosis, got %q", res.Reply)
	}
}

func TestQuestion(t *testing.T) {
	o := &scriptedOracle{rephrase: reply("Any fever, cough, breathlessness or tiredness today?")}
	s := newTestService(t, o)

	q, err := s.Question(context.Background(), tree.RootKey, record.New("+1"))
	if err != nil {
		t.Fatal(err)
	}
	if q != "Any fever, cough, breathlessness or tiredness today?" {
		t.Errorf("unexpected question %q", q)
	}

	if _, err = s.Question(context.Background(), "nope", record.New("+1")); !errors.Is(err, ErrUnknownState) {
		t.Errorf("expected ErrUnknownState, got %v", err)
	}
}

func TestHistoryContext(t *testing.T) {
	rec := record.New("+1")
	rec.FirstName = "Ada"
	rec.Age = "45"
	rec.AddEntry(time.Now(), []string{"- Had a cough in March"})
	rec.AddPending("- Fever since Monday")

	got := historyContext(rec)
	want := strings.Join([]string{
		"- Had a cough in March",
		"- Current Call: Fever since Monday",
		"- Age: 45",
		"- Gender: N/A",
		"- Name: Ada",
		"- Weight: N/A",
		"- Height: N/A",
	}, "\n")

	if got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestFillTemplate_SinglePass(t *testing.T) {
	got := fillTemplate("Q: {question} A: {answer}", map[string]any{
		"question": "why {answer}?",
		"answer":   42,
	})

	if got != "Q: why {answer}? A: 42" {
		t.Errorf("unexpected %q", got)
	}
}
