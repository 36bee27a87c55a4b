package retrieval

import (
	"regexp"
	"strings"
)

var keywordPattern = regexp.MustCompile(`[a-zA-Z0-9\-\.]+`)

var stopTokens = map[string]struct{}{
	"the": {}, "what": {}, "which": {}, "when": {}, "where": {},
	"is": {}, "are": {}, "was": {}, "were": {},
	"of": {}, "in": {}, "for": {}, "to": {}, "and": {}, "or": {},
}

const minKeywordLen = 3

// ExtractKeywords returns lowercased, stopword-free tokens of at least three
// characters, deduplicated in first-seen order.
func ExtractKeywords(question string) []string {
	tokens := keywordPattern.FindAllString(strings.ToLower(question), -1)
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		tok = strings.Trim(tok, ".")
		if len(tok) < minKeywordLen {
			continue
		}
		if _, stop := stopTokens[tok]; stop {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}

// KeywordMatchScore is the fraction of keywords found in content.
func KeywordMatchScore(content string, keywords []string) float64 {
	if len(keywords) == 0 || content == "" {
		return 0
	}
	lower := strings.ToLower(content)
	hits := 0
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			hits++
		}
	}
	return float64(hits) / float64(len(keywords))
}
