package emotion

import (
	"strings"
	"testing"
)

func TestClassify_HelpfulOutscoresTrailingQuestion(t *testing.T) {
	text := "That error usually comes from a stale cache. Let me help you clear it out. Here's what to do:\n" +
		"1. Quit the app.\n" +
		"2. Delete the cache folder.\n" +
		"3. Start the app again.\n" +
		"Did that fix it?"

	if got := Classify(text); got != Helpful {
		t.Errorf("Classify = %q, want %q (scores %v)", got, Helpful, Score(text))
	}
}

func TestClassify_TieGoesToFirstDeclared(t *testing.T) {
	// joy and fear both score 2.
	text := "I'm happy but also afraid."
	scores := Score(text)
	if scores[Joy] != scores[Fear] {
		t.Fatalf("expected a tie, got joy=%v fear=%v", scores[Joy], scores[Fear])
	}
	if got := Classify(text); got != Joy {
		t.Errorf("Classify = %q, want %q", got, Joy)
	}
}

func TestClassify_Deterministic(t *testing.T) {
	text := "Wow, that is unexpected! I wonder what happened next?"
	first := Classify(text)
	for i := 0; i < 10; i++ {
		if got := Classify(text); got != first {
			t.Fatalf("Classify changed between calls: %q then %q", first, got)
		}
	}
}

func TestClassify_Primary(t *testing.T) {
	tests := []struct {
		text string
		want Label
	}{
		{"That's wonderful, I'm so glad it worked out.", Joy},
		{"I understand, that sounds hard.", Empathetic},
		{"You've got this. Keep going!", Encouraging},
		{"Take a deep breath. There's no rush.", Calming},
		{"Ugh, that's gross.", Disgust},
		{"I'm curious, tell me more.", Curious},
	}
	for _, tt := range tests {
		if got := Classify(tt.text); got != tt.want {
			t.Errorf("Classify(%q) = %q, want %q (scores %v)", tt.text, got, tt.want, Score(tt.text))
		}
	}
}

func TestClassify_LowConfidenceUsesFallback(t *testing.T) {
	if got := Classify("The meeting is at noon."); got != Neutral {
		t.Errorf("Classify = %q, want %q", got, Neutral)
	}
	if got := Classify("I moved your meeting to noon."); got != Helpful {
		t.Errorf("Classify = %q, want %q", got, Helpful)
	}
}

func TestFallback(t *testing.T) {
	tests := []struct {
		text string
		want Label
	}{
		{"", Neutral},
		{"Okay.", Neutral},
		{"Is this yours", Helpful},
		{strings.Repeat("word ", 41), Helpful},
		{strings.Repeat("a", 200), Neutral},
	}
	for _, tt := range tests {
		if got := Fallback(tt.text); got != tt.want {
			t.Errorf("Fallback(%.20q...) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestLabelsComplete(t *testing.T) {
	if len(Labels) != 16 {
		t.Fatalf("len(Labels) = %d, want 16", len(Labels))
	}
	seen := make(map[Label]bool)
	for _, l := range Labels {
		if seen[l] {
			t.Errorf("duplicate label %q", l)
		}
		seen[l] = true
	}
	for l := range rules {
		if !seen[l] {
			t.Errorf("rule for undeclared label %q", l)
		}
	}
}
