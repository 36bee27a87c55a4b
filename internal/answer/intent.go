package answer

import (
	"regexp"
	"strings"
	"unicode"
)

type Intent string

const (
	IntentGreeting     Intent = "greeting"
	IntentConfirmation Intent = "confirmation"
	IntentConversation Intent = "conversation"
	IntentChitchat     Intent = "chitchat"
	IntentFollowUp     Intent = "follow_up"
	IntentFactLookup   Intent = "fact_lookup"
)

// Conversational intents never need document evidence.
func (i Intent) Conversational() bool {
	switch i {
	case IntentGreeting, IntentConfirmation, IntentConversation, IntentChitchat:
		return true
	}
	return false
}

var (
	greetings = []string{
		"hi", "hello", "hey", "hai", "hola",
		"good morning", "good afternoon", "good evening",
	}
	confirmations = map[string]struct{}{
		"ok": {}, "okay": {}, "yes": {}, "yeah": {}, "yep": {}, "no": {}, "nah": {},
		"thanks": {}, "thank you": {}, "cool": {}, "fine": {},
	}
	followUpWords   = map[string]struct{}{"this": {}, "that": {}, "it": {}, "again": {}, "above": {}, "previous": {}, "same": {}, "earlier": {}}
	followUpPhrases = []string{"explain more", "tell more", "more detail", "detail about"}
	detailTriggers  = []string{"detail", "elaborate", "explain more", "in depth", "list all", "full list"}

	repeatedPunct = regexp.MustCompile(`[!?]{2,}`)
	clutter       = regexp.MustCompile(`[^\w\s?!.]`)
	spaces        = regexp.MustCompile(`\s{2,}`)
)

// Normalize lowercases and de-noises user text before intent rules run.
// "Hiiii!!!" becomes "hi!".
func Normalize(text string) string {
	text = strings.TrimSpace(strings.ToLower(text))
	text = collapseRuns(text)
	text = repeatedPunct.ReplaceAllStringFunc(text, func(m string) string { return m[:1] })
	text = clutter.ReplaceAllString(text, " ")
	text = spaces.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// collapseRuns turns any run of three or more identical runes into one.
func collapseRuns(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(runes); {
		j := i
		for j < len(runes) && runes[j] == runes[i] {
			j++
		}
		if j-i >= 3 {
			b.WriteRune(runes[i])
		} else {
			b.WriteString(string(runes[i:j]))
		}
		i = j
	}
	return b.String()
}

// RuleIntent catches trivially conversational input. ok is false when the
// text should go to the classifier; the rules never claim a document question.
func RuleIntent(normalized string) (Intent, bool) {
	text := strings.TrimRight(normalized, "?!. ")
	if text == "" {
		return "", false
	}
	for _, g := range greetings {
		if text == g {
			return IntentGreeting, true
		}
	}
	if _, ok := confirmations[text]; ok {
		return IntentConfirmation, true
	}

	tokens := strings.Fields(text)
	if len(tokens) <= 2 && !containsDigit(text) && len(text) < 4 {
		return IntentConversation, true
	}
	for _, g := range greetings {
		if strings.HasPrefix(text, g+" ") {
			return IntentGreeting, true
		}
	}
	return "", false
}

// Classify is the heuristic fallback: short questions pointing back at
// earlier context are follow-ups, everything else is a fact lookup.
func Classify(normalized string) Intent {
	tokens := strings.Fields(normalized)
	if len(tokens) == 0 || len(tokens) > 5 {
		return IntentFactLookup
	}
	for _, tok := range tokens {
		if _, ok := followUpWords[strings.Trim(tok, "?!.")]; ok {
			return IntentFollowUp
		}
	}
	for _, p := range followUpPhrases {
		if strings.Contains(normalized, p) {
			return IntentFollowUp
		}
	}
	return IntentFactLookup
}

// DetectIntent runs the rules first, then the classifier.
func DetectIntent(question string) Intent {
	normalized := Normalize(question)
	if intent, ok := RuleIntent(normalized); ok {
		return intent
	}
	return Classify(normalized)
}

// WantsDetail reports whether the question asks for an expanded answer,
// which widens retrieval.
func WantsDetail(question string) bool {
	q := Normalize(question)
	for _, t := range detailTriggers {
		if strings.Contains(q, t) {
			return true
		}
	}
	return false
}

func containsDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}
