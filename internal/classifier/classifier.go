// Package classifier implements the Task Classifier (C5): a cheap
// heuristic layer with an LLM fallback that maps a raw user utterance
// to SIMPLE or COMPLEX (spec.md §4.5), grounded on the teacher's
// reasoning/strategy.go pattern of a fast heuristic before an LLM call.
package classifier

import (
	"context"
	"regexp"
	"strings"
	"unicode"

	"github.com/flowmind/orchestrator/internal/llm"
)

// Classification is the verdict returned for an utterance.
type Classification string

const (
	Simple  Classification = "SIMPLE"
	Complex Classification = "COMPLEX"
)

var greetingWords = []string{
	"hi", "hello", "hey", "thanks", "thank you", "bye", "goodbye",
	"привет", "здравствуй", "спасибо", "пока", "доброе утро", "добрый день",
}

var actionVerbs = []string{
	"create", "send", "schedule", "write", "delete", "update", "find",
	"search", "generate", "build", "compose", "draft", "report",
	"создай", "отправь", "составь", "запланируй", "найди", "удали",
	"обнови", "сформируй",
}

var sentenceTerminator = regexp.MustCompile(`[.!?]`)
var digitsOrColon = regexp.MustCompile(`[0-9:]`)

// Classifier maps utterances to Simple/Complex, falling back to a cheap
// LLM call when heuristics are inconclusive.
type Classifier struct {
	provider llm.Provider
}

// New builds a Classifier. provider may be nil, in which case an
// uncertain heuristic result conservatively defaults to Complex
// (spec.md §4.5 "On failure default to COMPLEX").
func New(provider llm.Provider) *Classifier {
	return &Classifier{provider: provider}
}

// Classify returns SIMPLE or COMPLEX for utterance.
func (c *Classifier) Classify(ctx context.Context, utterance string) Classification {
	if verdict, ok := heuristic(utterance); ok {
		return verdict
	}
	return c.llmFallback(ctx, utterance)
}

func heuristic(utterance string) (Classification, bool) {
	trimmed := strings.TrimSpace(utterance)
	if trimmed == "" {
		return Simple, true
	}

	if countTokens(trimmed) <= 3 {
		return Simple, true
	}

	lower := strings.ToLower(trimmed)
	// Greetings match whole words only, so "hi" does not fire inside
	// "this" or "think".
	words := " " + strings.Join(strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), " ") + " "
	for _, g := range greetingWords {
		if strings.Contains(words, " "+g+" ") {
			return Simple, true
		}
	}

	for _, v := range actionVerbs {
		if strings.Contains(lower, v) {
			return Complex, true
		}
	}
	if len(sentenceTerminator.FindAllString(trimmed, -1)) > 2 {
		return Complex, true
	}
	if digitsOrColon.MatchString(trimmed) {
		return Complex, true
	}

	return "", false
}

func countTokens(s string) int {
	return len(strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r)
	}))
}

func (c *Classifier) llmFallback(ctx context.Context, utterance string) Classification {
	if c.provider == nil {
		return Complex
	}

	resp, err := c.provider.Generate(ctx, llm.GenerateRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "Classify the following user message as exactly one word: SIMPLE or COMPLEX. SIMPLE means a greeting, small talk, or a trivial generative request. COMPLEX means it requires planning or tool use. Respond with only the single word."},
			{Role: llm.RoleUser, Content: utterance},
		},
		MaxTokens: 5,
	})
	if err != nil {
		return Complex
	}

	verdict := strings.ToUpper(strings.TrimSpace(resp.Message.Content))
	if strings.Contains(verdict, "SIMPLE") {
		return Simple
	}
	return Complex
}
