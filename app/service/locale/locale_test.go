package locale

import (
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		"en":  "en",
		"HI":  "hi",
		" ta": "ta",
		"fr":  "en",
		"":    "en",
	}

	for in, want := range tests {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGet_FallsBack(t *testing.T) {
	if Get("xx").Name != "English" {
		t.Error("expected english fallback")
	}

	hi := Get("hi")
	if hi.GatherLanguage != "hi-IN" {
		t.Errorf("unexpected gather language %s", hi.GatherLanguage)
	}
	if hi.ContinueByText == "" {
		t.Error("expected english continue-by-text fallback")
	}
}

func TestGreeting(t *testing.T) {
	en := Get("en")

	if got := en.Greeting(""); got != en.Welcome {
		t.Errorf("unexpected anonymous greeting %q", got)
	}
	if got := en.Greeting("Ada"); !strings.HasPrefix(got, "Hello Ada, welcome back") {
		t.Errorf("unexpected greeting %q", got)
	}
}

func TestDiagnosis(t *testing.T) {
	got := Get("en").Diagnosis("flu_like_symptoms")
	want := "Based on your answers, you may have flu like symptoms. Please consult a medical professional for proper diagnosis."

	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
