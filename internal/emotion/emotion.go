// Package emotion tags a completed response with one label from a closed set
// using weighted keyword scoring.
package emotion

import (
	"regexp"
	"unicode/utf8"
)

type Label string

const (
	Joy          Label = "joy"
	Trust        Label = "trust"
	Fear         Label = "fear"
	Surprise     Label = "surprise"
	Sadness      Label = "sadness"
	Anticipation Label = "anticipation"
	Anger        Label = "anger"
	Disgust      Label = "disgust"
	Neutral      Label = "neutral"
	Curious      Label = "curious"
	Helpful      Label = "helpful"
	Empathetic   Label = "empathetic"
	Thoughtful   Label = "thoughtful"
	Encouraging  Label = "encouraging"
	Calming      Label = "calming"
	Focused      Label = "focused"
)

// Labels lists every label in declaration order. Ties resolve to the
// earliest label in this list.
var Labels = []Label{
	Joy, Trust, Fear, Surprise, Sadness, Anticipation, Anger, Disgust,
	Neutral, Curious, Helpful, Empathetic, Thoughtful, Encouraging, Calming, Focused,
}

// LowConfidence is the minimum top score for the primary classification to
// stand. Anything lower goes through Fallback.
const LowConfidence = 1.0

// longText is the rune count above which Fallback treats a response as an
// explanation.
const longText = 200

type rule struct {
	pattern *regexp.Regexp
	weight  float64
}

var rules = map[Label][]rule{
	Joy: {
		{regexp.MustCompile(`(?i)\b(happy|glad|delighted|wonderful|awesome|yay|great news|thrilled)\b`), 2},
	},
	Trust: {
		{regexp.MustCompile(`(?i)\b(trust|rely on|count on|believe in you|honestly)\b`), 1.5},
	},
	Fear: {
		{regexp.MustCompile(`(?i)\b(afraid|scared|worried|anxious|nervous|frightening)\b`), 2},
	},
	Surprise: {
		{regexp.MustCompile(`(?i)\b(wow|whoa|surprising|unexpected|no way|can't believe)\b`), 2},
	},
	Sadness: {
		{regexp.MustCompile(`(?i)\b(sad|sorry to hear|unfortunately|heartbroken|grief|miss (?:you|them|her|him))\b`), 2},
	},
	Anticipation: {
		{regexp.MustCompile(`(?i)\b(can't wait|looking forward|upcoming|excited to)\b`), 1.5},
	},
	Anger: {
		{regexp.MustCompile(`(?i)\b(angry|furious|annoyed|frustrat\w*|unacceptable)\b`), 2},
	},
	Disgust: {
		{regexp.MustCompile(`(?i)\b(gross|disgusting|yuck|revolting)\b`), 2},
	},
	Curious: {
		{regexp.MustCompile(`\?`), 1},
		{regexp.MustCompile(`(?i)\b(i wonder|curious|tell me more|what do you think)\b`), 2},
	},
	Helpful: {
		{regexp.MustCompile(`(?i)\blet me help\b`), 3},
		{regexp.MustCompile(`(?m)^\s*\d+[.)]\s`), 1},
		{regexp.MustCompile(`(?i)\bhere(?:'s|’s| is)\b`), 1.5},
	},
	Empathetic: {
		{regexp.MustCompile(`(?i)\b(i understand|i hear you|that must be|that sounds (?:hard|difficult|tough|painful))\b`), 2},
	},
	Thoughtful: {
		{regexp.MustCompile(`(?i)\b(consider|perhaps|on the other hand|it depends|interesting question)\b`), 1.5},
	},
	Encouraging: {
		{regexp.MustCompile(`(?i)\b(you can do (?:it|this)|you've got this|keep going|proud of you|well done|great job)\b`), 2.5},
	},
	Calming: {
		{regexp.MustCompile(`(?i)\b(take a (?:deep )?breath|no rush|it's okay|relax|calm)\b`), 2},
	},
	Focused: {
		{regexp.MustCompile(`(?i)\b(first|next|finally|specifically|to summarize)\b`), 0.5},
	},
}

var secondPerson = regexp.MustCompile(`(?i)\b(you|your|yours|you're|yourself)\b`)

// Score returns the weighted match score of every label with at least one match.
func Score(text string) map[Label]float64 {
	scores := make(map[Label]float64)
	for _, l := range Labels {
		for _, r := range rules[l] {
			if n := len(r.pattern.FindAllStringIndex(text, -1)); n > 0 {
				scores[l] += float64(n) * r.weight
			}
		}
	}
	return scores
}

// Classify returns the highest scoring label. Below LowConfidence the
// result comes from Fallback instead.
func Classify(text string) Label {
	scores := Score(text)

	best, bestScore := Neutral, 0.0
	for _, l := range Labels {
		if s := scores[l]; s > bestScore {
			best, bestScore = l, s
		}
	}
	if bestScore < LowConfidence {
		return Fallback(text)
	}
	return best
}

// Fallback is the low-confidence heuristic: long answers and answers that
// address the listener directly read as helpful, everything else as neutral.
func Fallback(text string) Label {
	if utf8.RuneCountInString(text) > longText || secondPerson.MatchString(text) {
		return Helpful
	}
	return Neutral
}
