package conversation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"triagecall/app/service/record"
)

func TestExtractAndRecord(t *testing.T) {
	o := &scriptedOracle{
		extract: reply("```json\n{\"fname\": \"Ada\", \"lname\": null, \"age\": 45, \"gender\": \"female\", \"height\": null, \"weight\": \"N/A\"}\n```"),
		summary: reply("- Name is Ada\n\n  - 45 years old  \n"),
	}
	rec := record.New("+15551234567")

	NewAccumulator(o).ExtractAndRecord(context.Background(), "Who are you?", "I'm Ada, 45", rec)

	if rec.FirstName != "Ada" || rec.Age != "45" || rec.Gender != "female" {
		t.Errorf("unexpected profile %+v", rec.Profile)
	}
	if rec.LastName != "" || rec.Weight != "" {
		t.Errorf("nulls must not be stored: %+v", rec.Profile)
	}

	want := []string{"- Name is Ada", "- 45 years old"}
	if strings.Join(rec.CurrentCall, "|") != strings.Join(want, "|") {
		t.Errorf("got bullets %q, want %q", rec.CurrentCall, want)
	}
}

func TestExtractAndRecord_NullNeverOverwrites(t *testing.T) {
	answers := []string{`{"age": "45"}`, `{"age": null, "gender": "male"}`}
	calls := 0

	o := &scriptedOracle{
		extract: func(string) (string, error) {
			answer := answers[calls]
			calls++
			return answer, nil
		},
		summary: reply("- noted"),
	}

	acc := NewAccumulator(o)
	rec := record.New("+15551234567")

	acc.ExtractAndRecord(context.Background(), "How old are you?", "45", rec)
	acc.ExtractAndRecord(context.Background(), "Anything else?", "I'm a man", rec)

	if rec.Age != "45" {
		t.Errorf("age overwritten, got %q", rec.Age)
	}
	if rec.Gender != "male" {
		t.Errorf("expected gender male, got %q", rec.Gender)
	}
}

func TestExtractAndRecord_MalformedProfile(t *testing.T) {
	o := &scriptedOracle{
		extract: reply("Sure! The caller is 45."),
		summary: reply("- Caller is 45"),
	}
	rec := record.New("+1")
	rec.Set("age", "44")

	NewAccumulator(o).ExtractAndRecord(context.Background(), "q", "a", rec)

	if rec.Age != "44" {
		t.Errorf("profile changed on malformed output: %+v", rec.Profile)
	}
	if len(rec.CurrentCall) != 1 {
		t.Errorf("summary must still be recorded, got %q", rec.CurrentCall)
	}
}

func TestExtractAndRecord_SummaryFallback(t *testing.T) {
	tests := map[string]func(string) (string, error){
		"oracle error": func(string) (string, error) { return "", errors.New("boom") },
		"blank output": reply(" \n\n "),
	}

	for name, summary := range tests {
		t.Run(name, func(t *testing.T) {
			o := &scriptedOracle{extract: reply("{}"), summary: summary}
			rec := record.New("+1")

			NewAccumulator(o).ExtractAndRecord(context.Background(), "q", "my knee hurts", rec)

			if len(rec.CurrentCall) != 1 || rec.CurrentCall[0] != "Error processing: my knee hurts" {
				t.Errorf("unexpected fallback %q", rec.CurrentCall)
			}
		})
	}
}

func TestExtractAndRecord_OpenSchema(t *testing.T) {
	o := &scriptedOracle{
		extract: reply(`{"first_name": "Lee", "smoker": true, "allergies": "penicillin", "phone_number": "+999", "vitals": {"bp": "120/80"}}`),
		summary: reply("- ok"),
	}
	rec := record.New("+1")

	NewAccumulator(o).ExtractAndRecord(context.Background(), "q", "a", rec)

	if rec.FirstName != "Lee" {
		t.Errorf("alias not applied: %+v", rec.Profile)
	}
	if rec.Get("smoker") != "true" || rec.Get("allergies") != "penicillin" {
		t.Errorf("extra facts lost: %+v", rec.Extra)
	}
	if rec.PhoneNumber != "+1" {
		t.Errorf("reserved key overwritten: %q", rec.PhoneNumber)
	}
	if rec.Get("vitals") != "" {
		t.Errorf("nested values must be ignored, got %q", rec.Get("vitals"))
	}
}

func TestFinalize_Idempotent(t *testing.T) {
	acc := NewAccumulator(&scriptedOracle{})
	rec := record.New("+1")
	rec.AddPending("- a")
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

	if !acc.Finalize(rec, now) {
		t.Fatal("expected first finalize to commit")
	}
	if acc.Finalize(rec, now) {
		t.Error("expected second finalize to be a no-op")
	}
	if len(rec.Entries) != 1 {
		t.Errorf("unexpected entries %+v", rec.Entries)
	}
}

func TestParseFacts(t *testing.T) {
	facts, err := parseFacts("`json\n{\"age\": 45.5, \"height\": \"180cm\"}`")
	if err != nil {
		t.Fatal(err)
	}

	if facts["age"] != "45.5" || facts["height"] != "180cm" {
		t.Errorf("unexpected facts %v", facts)
	}

	if _, err = parseFacts("[1, 2]"); err == nil {
		t.Error("expected error for non-object output")
	}
}
