package facts

import (
	"regexp"
	"strings"
)

// GroupMap records which capture group of a rule's pattern holds which
// piece of the fact. Zero means the rule has no such group.
type GroupMap struct {
	Relation int
	Value    int
}

// Rule is one pattern in the extraction battery.
type Rule struct {
	Name     string
	Category string
	Pattern  *regexp.Regexp
	Groups   GroupMap
	// MinLen and MaxLen bound the captured value. Zero means the
	// extractor default.
	MinLen int
	MaxLen int
	// Valid, when set, rejects captured values the pattern cannot rule out.
	Valid  func(value string) bool
	Build  func(relation, value string) Fact
}

const (
	relations = `best\s+friend|grandmother|grandfather|grandma|grandpa|granny|mother|mom|mum|mommy|mama|father|dad|daddy|papa|sister|brother|wife|husband|son|daughter|aunt|uncle|cousin|girlfriend|boyfriend|fiancee|fiance|partner|niece|nephew|stepmother|stepfather`
	pets      = `dog|puppy|cat|kitten|bird|parrot|rabbit|bunny|hamster|fish|horse|turtle|snake|lizard`
	months    = `jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?`

	// Names and places must start with a capital letter; the keyword
	// parts of each pattern are case-insensitive.
	name  = `([A-Z][a-zA-Z'-]+(?:\s+[A-Z][a-zA-Z'-]+){0,3})`
	place = `([A-Z][a-zA-Z'-]*(?:(?:\s+|,\s*)[A-Z][a-zA-Z'-]*){0,4})`
	org   = `([A-Z][a-zA-Z0-9&.'-]*(?:\s+[A-Z0-9][a-zA-Z0-9&.'-]*){0,4})`
	// phrase is free text up to the next clause break.
	phrase = `([^.,!?;\n]+)`
)

var canonicalRelation = map[string]string{
	"mom":     "mother",
	"mum":     "mother",
	"mommy":   "mother",
	"mama":    "mother",
	"dad":     "father",
	"daddy":   "father",
	"papa":    "father",
	"grandma": "grandmother",
	"granny":  "grandmother",
	"grandpa": "grandfather",
	"fiancee": "fiance",
	"puppy":   "dog",
	"kitten":  "cat",
	"bunny":   "rabbit",
}

var spaces = regexp.MustCompile(`\s+`)

// notNames are capitalized words that start sentences but never name a
// person.
var notNames = map[string]bool{
	"he": true, "she": true, "it": true, "they": true, "we": true, "you": true, "i": true,
	"this": true, "that": true, "these": true, "those": true, "there": true, "here": true,
	"who": true, "what": true, "which": true, "someone": true, "somebody": true,
	"everyone": true, "nobody": true, "one": true, "the": true, "a": true, "an": true,
	"him": true, "her": true, "them": true, "also": true, "now": true, "still": true,
}

// isName rejects values whose first word is a pronoun, determiner or
// similar sentence opener.
func isName(v string) bool {
	first, _, _ := strings.Cut(v, " ")
	return !notNames[strings.ToLower(first)]
}

// normalizeRelation lowercases r, collapses whitespace and maps informal
// forms to their canonical relation.
func normalizeRelation(r string) string {
	r = spaces.ReplaceAllString(strings.ToLower(strings.TrimSpace(r)), " ")
	if c, ok := canonicalRelation[r]; ok {
		return c
	}
	return r
}

func family(relation, value string) Fact {
	return Fact{
		Fact:  "User's " + relation + "'s name is " + value,
		Topic: "family",
		Tags:  []string{"family", relation, "personal", "name"},
	}
}

func located(verb string) func(string, string) Fact {
	return func(_, value string) Fact {
		return Fact{
			Fact:  "User " + verb + " " + value,
			Topic: "location",
			Tags:  []string{"location", "personal"},
		}
	}
}

func occupation(_, value string) Fact {
	return Fact{
		Fact:  "User works as " + withArticle(value),
		Topic: "occupation",
		Tags:  []string{"occupation", "work", "personal"},
	}
}

func withArticle(v string) string {
	lower := strings.ToLower(v)
	if strings.HasPrefix(lower, "a ") || strings.HasPrefix(lower, "an ") || strings.HasPrefix(lower, "the ") {
		return v
	}
	if strings.ContainsRune("aeiou", rune(lower[0])) {
		return "an " + v
	}
	return "a " + v
}

func pet(relation, value string) Fact {
	return Fact{
		Fact:  "User has a " + relation + " named " + value,
		Topic: "pets",
		Tags:  []string{"pet", relation, "personal", "name"},
	}
}

// DefaultRules returns the extraction battery in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:     "family-possessive-name",
			Category: "family",
			Pattern:  regexp.MustCompile(`(?i:\bmy\s+(` + relations + `)(?:'s|’s)\s+name\s+is\s+)` + name),
			Groups:   GroupMap{Relation: 1, Value: 2},
			Valid:    isName,
			Build:    family,
		},
		{
			Name:     "family-named",
			Category: "family",
			Pattern:  regexp.MustCompile(`(?i:\bmy\s+(` + relations + `)\s+is\s+(?:named\s+|called\s+)?)` + name),
			Groups:   GroupMap{Relation: 1, Value: 2},
			Valid:    isName,
			Build:    family,
		},
		{
			// "Diane is my mother": the name comes first.
			Name:     "family-name-first",
			Category: "family",
			Pattern:  regexp.MustCompile(`\b` + name + `(?i:\s+is\s+my\s+(` + relations + `))\b`),
			Groups:   GroupMap{Relation: 2, Value: 1},
			Valid:    isName,
			Build:    family,
		},
		{
			Name:     "self-name",
			Category: "identity",
			Pattern:  regexp.MustCompile(`(?i:\b(?:my\s+name\s+is|call\s+me|i\s+go\s+by)\s+)` + name),
			Groups:   GroupMap{Value: 1},
			Valid:    isName,
			Build: func(_, value string) Fact {
				return Fact{
					Fact:  "User's name is " + value,
					Topic: "identity",
					Tags:  []string{"identity", "personal", "name"},
				}
			},
		},
		{
			Name:     "location-live",
			Category: "location",
			Pattern:  regexp.MustCompile(`(?i:\bi\s+(?:currently\s+)?(?:live|reside)\s+in\s+)` + place),
			Groups:   GroupMap{Value: 1},
			Build:    located("lives in"),
		},
		{
			Name:     "location-from",
			Category: "location",
			Pattern:  regexp.MustCompile(`(?i:\bi(?:'m|’m|\s+am)\s+(?:originally\s+)?from\s+|\bi\s+grew\s+up\s+in\s+)` + place),
			Groups:   GroupMap{Value: 1},
			Build:    located("is from"),
		},
		{
			Name:     "location-based",
			Category: "location",
			Pattern:  regexp.MustCompile(`(?i:\bi(?:'m|’m|\s+am)\s+based\s+(?:in|out\s+of)\s+)` + place),
			Groups:   GroupMap{Value: 1},
			Build:    located("is based in"),
		},
		{
			Name:     "location-moved",
			Category: "location",
			Pattern:  regexp.MustCompile(`(?i:\bi\s+(?:just\s+|recently\s+)?moved\s+to\s+)` + place),
			Groups:   GroupMap{Value: 1},
			Build:    located("moved to"),
		},
		{
			Name:     "occupation-work-as",
			Category: "occupation",
			Pattern:  regexp.MustCompile(`(?i:\bi\s+work\s+as\s+)` + `([a-zA-Z][a-zA-Z -]*?)(?:\s+(?i:at|for|in)\b|[.,!?;\n]|$)`),
			Groups:   GroupMap{Value: 1},
			MaxLen:   40,
			Build:    occupation,
		},
		{
			Name:     "occupation-employer",
			Category: "occupation",
			Pattern:  regexp.MustCompile(`(?i:\bi\s+work\s+(?:at|for)\s+)` + org),
			Groups:   GroupMap{Value: 1},
			Build: func(_, value string) Fact {
				return Fact{
					Fact:  "User works at " + value,
					Topic: "occupation",
					Tags:  []string{"occupation", "employer", "personal"},
				}
			},
		},
		{
			Name:     "occupation-job",
			Category: "occupation",
			Pattern:  regexp.MustCompile(`(?i:\bmy\s+(?:job|profession|occupation)\s+is\s+)` + phrase),
			Groups:   GroupMap{Value: 1},
			MaxLen:   40,
			Build:    occupation,
		},
		{
			Name:     "birthday",
			Category: "birthday",
			Pattern: regexp.MustCompile(`(?i:\bmy\s+birthday\s+is\s+(?:on\s+)?((?:` + months + `)\.?\s+\d{1,2}(?:st|nd|rd|th)?|` +
				`\d{1,2}(?:st|nd|rd|th)?\s+(?:of\s+)?(?:` + months + `)|\d{1,2}[/-]\d{1,2}))`),
			Groups: GroupMap{Value: 1},
			Build: func(_, value string) Fact {
				return Fact{
					Fact:  "User's birthday is " + value,
					Topic: "birthday",
					Tags:  []string{"birthday", "personal", "date"},
				}
			},
		},
		{
			Name:     "age",
			Category: "birthday",
			Pattern:  regexp.MustCompile(`(?i:\bi(?:'m|’m|\s+am)\s+(\d{1,3})\s+years?\s+old\b)`),
			Groups:   GroupMap{Value: 1},
			MinLen:   1,
			MaxLen:   3,
			Build: func(_, value string) Fact {
				return Fact{
					Fact:  "User is " + value + " years old",
					Topic: "age",
					Tags:  []string{"age", "personal"},
				}
			},
		},
		{
			Name:     "pet-named",
			Category: "pet",
			Pattern:  regexp.MustCompile(`(?i:\bmy\s+(` + pets + `)(?:(?:'s|’s)\s+name\s+is|\s+is\s+(?:named|called))\s+)` + name),
			Groups:   GroupMap{Relation: 1, Value: 2},
			Build:    pet,
		},
		{
			Name:     "pet-have",
			Category: "pet",
			Pattern:  regexp.MustCompile(`(?i:\bi\s+have\s+an?\s+(` + pets + `)\s+(?:named|called)\s+)` + name),
			Groups:   GroupMap{Relation: 1, Value: 2},
			Build:    pet,
		},
		{
			Name:     "preference-favorite",
			Category: "preference",
			Pattern:  regexp.MustCompile(`(?i:\bmy\s+fav(?:ou?rite)\s+([a-z]+(?:\s+[a-z]+)?)\s+is\s+)` + phrase),
			Groups:   GroupMap{Relation: 1, Value: 2},
			Build: func(thing, value string) Fact {
				return Fact{
					Fact:  "User's favorite " + thing + " is " + value,
					Topic: "preferences",
					Tags:  []string{"preference", "favorite", thing, "personal"},
				}
			},
		},
		{
			Name:     "preference-like",
			Category: "preference",
			Pattern:  regexp.MustCompile(`(?i:\bi\s+(?:really\s+|absolutely\s+)?(love|enjoy|adore)\s+)` + phrase),
			Groups:   GroupMap{Relation: 1, Value: 2},
			Build: func(verb, value string) Fact {
				return Fact{
					Fact:  "User " + verb + "s " + value,
					Topic: "preferences",
					Tags:  []string{"preference", "likes", "personal"},
				}
			},
		},
		{
			Name:     "preference-dislike",
			Category: "preference",
			Pattern:  regexp.MustCompile(`(?i:\bi\s+(?:really\s+)?(hate|dislike|can't\s+stand)\s+)` + phrase),
			Groups:   GroupMap{Relation: 1, Value: 2},
			Build: func(_, value string) Fact {
				return Fact{
					Fact:  "User dislikes " + value,
					Topic: "preferences",
					Tags:  []string{"preference", "dislikes", "personal"},
				}
			},
		},
	}
}
