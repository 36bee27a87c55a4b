package answer

import "strings"

var (
	vaguePhrases = map[string]struct{}{
		"explain more": {}, "tell more": {}, "tell me more": {}, "give more details": {},
		"more details": {}, "elaborate": {}, "explain in detail": {}, "explain this": {},
		"what about this": {}, "what about that": {},
	}
	uninformative = map[string]struct{}{
		"hi": {}, "hello": {}, "hey": {}, "ok": {}, "okay": {}, "yes": {}, "no": {},
		"thanks": {}, "thank you": {},
	}
)

func isVague(q string) bool {
	q = strings.ToLower(strings.TrimSpace(q))
	if _, ok := vaguePhrases[q]; ok {
		return true
	}
	return len(strings.Fields(q)) <= 3
}

// Rewrite makes a vague question explicit by pointing it at the last
// meaningful user question. recent is oldest first. It never chains vague
// questions and never grows the query twice.
func Rewrite(question string, recent []string) string {
	q := strings.TrimSpace(question)
	if q == "" || !isVague(q) || len(recent) == 0 {
		return q
	}

	base := ""
	for i := len(recent) - 1; i >= 0; i-- {
		msg := strings.TrimSpace(recent[i])
		if msg == "" {
			continue
		}
		if _, skip := uninformative[strings.ToLower(msg)]; skip {
			continue
		}
		if isVague(msg) {
			continue
		}
		base = msg
		break
	}
	if base == "" {
		return q
	}

	qLower, baseLower := strings.ToLower(q), strings.ToLower(base)
	switch {
	case strings.Contains(baseLower, qLower):
		return base
	case strings.Contains(qLower, baseLower):
		return q
	}
	return q + " about " + base
}
