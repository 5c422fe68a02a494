package facts

import (
	"reflect"
	"regexp"
	"strings"
	"testing"
)

func TestExtract_FamilyPossessive(t *testing.T) {
	got := NewExtractor().Extract("My mother's name is Diane West")

	want := []Fact{{
		Fact:  "User's mother's name is Diane West",
		Topic: "family",
		Tags:  []string{"family", "mother", "personal", "name"},
	}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Extract = %+v, want %+v", got, want)
	}
}

func TestExtract_Location(t *testing.T) {
	got := NewExtractor().Extract("I live in Austin, Texas")

	if len(got) != 1 {
		t.Fatalf("len = %d, want 1: %+v", len(got), got)
	}
	if !strings.HasPrefix(got[0].Fact, "User lives in Austin, Texas") {
		t.Errorf("Fact = %q, want prefix %q", got[0].Fact, "User lives in Austin, Texas")
	}
	if got[0].Topic != "location" {
		t.Errorf("Topic = %q, want location", got[0].Topic)
	}
}

func TestExtract_GroupSemanticsPerVariant(t *testing.T) {
	tests := []struct {
		msg  string
		want string
	}{
		{"My dad's name is Robert", "User's father's name is Robert"},
		{"my sister is called Maya", "User's sister's name is Maya"},
		{"Robert Hale is my dad.", "User's father's name is Robert Hale"},
		{"Honestly, Priya is my best friend", "User's best friend's name is Priya"},
		// Pronouns and demonstratives are not names.
		{"She is my sister.", ""},
		{"This is my mom, she is great.", ""},
		{"He is my brother", ""},
		{"That is my dad. His name is Tom.", ""},
	}
	e := NewExtractor()
	for _, tt := range tests {
		got := e.Extract(tt.msg)
		if tt.want == "" {
			if len(got) != 0 {
				t.Errorf("Extract(%q) = %+v, want no facts", tt.msg, got)
			}
			continue
		}
		if len(got) == 0 {
			t.Errorf("Extract(%q) returned nothing, want %q", tt.msg, tt.want)
			continue
		}
		if got[0].Fact != tt.want {
			t.Errorf("Extract(%q)[0] = %q, want %q", tt.msg, got[0].Fact, tt.want)
		}
	}
}

func TestExtract_DeduplicatesIdenticalFacts(t *testing.T) {
	msg := "My mom's name is Ann. Like I said, my mother's name is Ann."
	got := NewExtractor().Extract(msg)

	count := 0
	for _, f := range got {
		if f.Fact == "User's mother's name is Ann" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("fact emitted %d times, want 1: %+v", count, got)
	}
}

func TestExtract_Deterministic(t *testing.T) {
	msg := "My name is Sam. I'm 34 years old, I live in Portland and I have a cat named Miso."
	e := NewExtractor()

	first := e.Extract(msg)
	second := e.Extract(msg)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Extract not deterministic:\n%+v\n%+v", first, second)
	}
	if len(first) != 4 {
		t.Errorf("len = %d, want 4: %+v", len(first), first)
	}
}

func TestExtract_Categories(t *testing.T) {
	tests := []struct {
		msg   string
		fact  string
		topic string
	}{
		{"Call me Jo", "User's name is Jo", "identity"},
		{"I'm originally from Lagos", "User is from Lagos", "location"},
		{"I just moved to Denver last week", "User moved to Denver", "location"},
		{"I work as a nurse at the clinic", "User works as a nurse", "occupation"},
		{"I work as engineer", "User works as an engineer", "occupation"},
		{"I work for Acme Corp", "User works at Acme Corp", "occupation"},
		{"My birthday is March 3rd", "User's birthday is March 3rd", "birthday"},
		{"I am 7 years old", "User is 7 years old", "age"},
		{"I have a dog named Biscuit", "User has a dog named Biscuit", "pets"},
		{"My kitten is named Pepper", "User has a cat named Pepper", "pets"},
		{"My favorite color is green", "User's favorite color is green", "preferences"},
		{"I really love hiking in the rain", "User loves hiking in the rain", "preferences"},
		{"I hate cilantro", "User dislikes cilantro", "preferences"},
	}
	e := NewExtractor()
	for _, tt := range tests {
		got := e.Extract(tt.msg)
		found := false
		for _, f := range got {
			if f.Fact == tt.fact {
				found = true
				if f.Topic != tt.topic {
					t.Errorf("Extract(%q) topic = %q, want %q", tt.msg, f.Topic, tt.topic)
				}
			}
		}
		if !found {
			t.Errorf("Extract(%q) = %+v, want fact %q", tt.msg, got, tt.fact)
		}
	}
}

func TestExtract_LengthBound(t *testing.T) {
	long := strings.Repeat("extremely ", 10) + "long thing"
	got := NewExtractor().Extract("My favorite song is " + long)
	if len(got) != 0 {
		t.Errorf("over-long capture should be rejected, got %+v", got)
	}
}

func TestExtract_NoMatch(t *testing.T) {
	e := NewExtractor()
	for _, msg := range []string{"", "   ", "What's the weather like tomorrow?", "my mother is tired"} {
		if got := e.Extract(msg); len(got) != 0 {
			t.Errorf("Extract(%q) = %+v, want none", msg, got)
		}
	}
}

func TestExtract_CustomRule(t *testing.T) {
	rule := Rule{
		Name:     "team",
		Category: "work",
		Pattern:  regexp.MustCompile(`(?i:\bi\s+am\s+on\s+the\s+)([a-z]+)(?i:\s+team)`),
		Groups:   GroupMap{Value: 1},
		Build: func(_, value string) Fact {
			return Fact{Fact: "User is on the " + value + " team", Topic: "work", Tags: []string{"work"}}
		},
	}
	got := NewExtractor(rule).Extract("I am on the payments team")
	if len(got) != 1 || got[0].Fact != "User is on the payments team" {
		t.Errorf("Extract = %+v", got)
	}
}

func TestNormalizeRelation(t *testing.T) {
	tests := map[string]string{
		"Mom":          "mother",
		"DAD":          "father",
		"best  friend": "best friend",
		"grandpa":      "grandfather",
		"sister":       "sister",
	}
	for in, want := range tests {
		if got := normalizeRelation(in); got != want {
			t.Errorf("normalizeRelation(%q) = %q, want %q", in, got, want)
		}
	}
}
