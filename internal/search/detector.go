// Package search decides when a model answer was a non-answer and grounds a
// second pass with web search results.
package search

import "strings"

// Verdict is the outcome of uncertainty detection on one answer.
type Verdict struct {
	Uncertain bool     `json:"uncertain"`
	Matches   []string `json:"matches,omitempty"`
}

// Detector classifies model output as confident or not. Implementations
// must be pure: the same content always yields the same verdict.
type Detector interface {
	Detect(content string) Verdict
}

// DefaultPhrases are the uncertainty markers matched by PhraseDetector.
var DefaultPhrases = []string{
	"i don't know",
	"i do not know",
	"i'm not sure",
	"i am not sure",
	"i cannot provide",
	"i can't provide",
	"i am unable to provide",
	"i'm unable to provide",
	"as an ai i cannot access real-time data",
	"as an ai, i cannot access real-time data",
	"i don't have real-time access",
	"i do not have real-time access",
	"i don't have access to real-time",
	"i do not have access to real-time",
	"i cannot browse the internet",
	"my knowledge cutoff",
	"我不知道",
	"我不确定",
	"无法提供",
	"无法访问实时",
	"没有实时",
	"无法获取最新",
}

// PhraseDetector matches content against a fixed phrase list,
// case-insensitively.
type PhraseDetector struct {
	phrases []string
}

// NewPhraseDetector creates a detector. With no phrases it uses
// DefaultPhrases.
func NewPhraseDetector(phrases ...string) *PhraseDetector {
	if len(phrases) == 0 {
		phrases = DefaultPhrases
	}
	normalized := make([]string, 0, len(phrases))
	for _, p := range phrases {
		p = normalize(p)
		if p != "" {
			normalized = append(normalized, p)
		}
	}
	return &PhraseDetector{phrases: normalized}
}

// Detect reports every phrase found in content, in phrase-list order.
func (d *PhraseDetector) Detect(content string) Verdict {
	text := normalize(content)
	if text == "" {
		return Verdict{}
	}

	var matches []string
	for _, p := range d.phrases {
		if strings.Contains(text, p) {
			matches = append(matches, p)
		}
	}
	return Verdict{Uncertain: len(matches) > 0, Matches: matches}
}

// Phrases returns the normalized phrase list.
func (d *PhraseDetector) Phrases() []string {
	out := make([]string, len(d.phrases))
	copy(out, d.phrases)
	return out
}

// normalize lowercases and folds typographic apostrophes so "I don’t know"
// matches "i don't know".
func normalize(s string) string {
	s = strings.ReplaceAll(s, "’", "'")
	s = strings.ReplaceAll(s, "‘", "'")
	return strings.ToLower(strings.TrimSpace(s))
}
