package answer

import (
	"fmt"
	"strings"

	"docchat/internal/ai"
	"docchat/internal/retrieval"
)

const systemPrompt = `You are a senior engineering assistant answering questions about one uploaded document.

Answer only the question asked. Be concise, factual and precise.
Use only the provided document context. Do not use external knowledge and do not fabricate values.
If the document gives a range or several explicit values, report them briefly.
If the document does not contain the answer, say so briefly.
Cite the page and section of the passages you rely on.
If the information comes from a table, format the answer as a markdown table.`

const liteSystemPrompt = `You are a friendly assistant for a document question-answering tool. Reply in one short sentence.`

var stopMarkers = []string{
	"<|end|>",
	"<|system|>",
	"<|user|>",
	"<|assistant|>",
	"<|eot_id|>",
	"REFINED ANSWER:",
	"END OF RESPONSE",
}

// BuildPrompt assembles the grounded prompt. Every passage is annotated with
// its page and section so the answer can cite them.
func BuildPrompt(question string, chunks []retrieval.Chunk, detailed bool) []ai.ChatMessage {
	var ctx strings.Builder
	for i, c := range chunks {
		section := c.Section
		if section == "" {
			section = "General"
		}
		fmt.Fprintf(&ctx, "[%d] (page %d, section: %s)\n%s\n\n", i+1, c.Page, section, strings.TrimSpace(c.Content))
	}

	user := "DOCUMENT CONTEXT:\n" + strings.TrimSpace(ctx.String()) + "\n\nQUESTION: " + strings.TrimSpace(question)
	if detailed {
		user += "\n\nGive a complete answer covering every relevant value in the context."
	}
	return []ai.ChatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: user},
	}
}

func BuildLitePrompt(question string) []ai.ChatMessage {
	return []ai.ChatMessage{
		{Role: "system", Content: liteSystemPrompt},
		{Role: "user", Content: strings.TrimSpace(question)},
	}
}

// CleanOutput cuts the text at the first model stop marker.
func CleanOutput(text string) string {
	for _, m := range stopMarkers {
		if idx := strings.Index(text, m); idx >= 0 {
			text = text[:idx]
		}
	}
	return strings.TrimSpace(text)
}

// markerCutter tracks streamed text so fragments after a stop marker are
// never forwarded. A trailing piece that could start a marker is held until
// the next fragment decides it.
type markerCutter struct {
	pending string
	done    bool
}

// Feed returns the part of frag that is safe to forward, and whether the
// stream has hit a stop marker.
func (m *markerCutter) Feed(frag string) (string, bool) {
	if m.done {
		return "", true
	}
	buf := m.pending + frag
	m.pending = ""

	cut := -1
	for _, marker := range stopMarkers {
		if idx := strings.Index(buf, marker); idx >= 0 && (cut < 0 || idx < cut) {
			cut = idx
		}
	}
	if cut >= 0 {
		m.done = true
		return buf[:cut], true
	}

	hold := markerPrefixLen(buf)
	m.pending = buf[len(buf)-hold:]
	return buf[:len(buf)-hold], false
}

// Flush releases held text once the stream ended without a marker.
func (m *markerCutter) Flush() string {
	if m.done {
		return ""
	}
	out := m.pending
	m.pending = ""
	return out
}

// markerPrefixLen is the length of the longest suffix of s that is a proper
// prefix of some stop marker.
func markerPrefixLen(s string) int {
	longest := 0
	for _, marker := range stopMarkers {
		for n := min(len(marker)-1, len(s)); n > longest; n-- {
			if strings.HasSuffix(s, marker[:n]) {
				longest = n
				break
			}
		}
	}
	return longest
}

const generalSystemPrompt = `You are a concise engineering assistant. No document is loaded in this conversation. Answer briefly, and suggest uploading a PDF when the question needs document facts.`

func BuildGeneralPrompt(question string) []ai.ChatMessage {
	return []ai.ChatMessage{
		{Role: "system", Content: generalSystemPrompt},
		{Role: "user", Content: strings.TrimSpace(question)},
	}
}
