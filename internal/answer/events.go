package answer

import (
	"encoding/json"
	"strings"
)

// EventPrefix marks a line as a structured event; anything else on the
// stream is raw answer text.
const EventPrefix = "__UI_EVENT__"

type EventType string

const (
	EventSystemMessage     EventType = "SYSTEM_MESSAGE"
	EventRequestMetadata   EventType = "REQUEST_METADATA"
	EventMetadataConfirmed EventType = "METADATA_CONFIRMED"
	EventProgress          EventType = "PROGRESS"
	EventAnswerConfidence  EventType = "ANSWER_CONFIDENCE"
	EventModelStage        EventType = "MODEL_STAGE"
	EventError             EventType = "ERROR"
	EventNetRateLimited    EventType = "NET_RATE_LIMITED"
	EventSources           EventType = "SOURCES"
)

const defaultRetryAfterSec = 30

// Event is flat on the wire: {"type": ..., <fields>}.
type Event struct {
	Type   EventType
	Fields map[string]any
}

func (e Event) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Fields)+1)
	for k, v := range e.Fields {
		out[k] = v
	}
	out["type"] = e.Type
	return json.Marshal(out)
}

// Encode renders the event as one stream line.
func (e Event) Encode() string {
	raw, err := json.Marshal(e)
	if err != nil {
		raw, _ = json.Marshal(ErrorEvent("event encoding failed"))
	}
	return EventPrefix + string(raw) + "\n"
}

func SystemMessage(text string) Event {
	return Event{Type: EventSystemMessage, Fields: map[string]any{"text": text}}
}

type MetadataField struct {
	Key         string `json:"key"`
	Label       string `json:"label"`
	Placeholder string `json:"placeholder"`
	Reason      string `json:"reason"`
}

// FieldsForKeys builds prompts for missing metadata keys.
func FieldsForKeys(keys []string) []MetadataField {
	out := make([]MetadataField, 0, len(keys))
	for _, k := range keys {
		label := humanize(k)
		out = append(out, MetadataField{
			Key:         k,
			Label:       label,
			Placeholder: "Enter " + label,
			Reason:      "Missing or low confidence",
		})
	}
	return out
}

func RequestMetadata(fields []MetadataField) Event {
	if fields == nil {
		fields = []MetadataField{}
	}
	return Event{Type: EventRequestMetadata, Fields: map[string]any{"fields": fields}}
}

func MetadataConfirmed(message string) Event {
	if message == "" {
		message = "Metadata updated successfully."
	}
	return Event{Type: EventMetadataConfirmed, Fields: map[string]any{"message": message}}
}

func Progress(value int, label string) Event {
	value = max(0, min(100, value))
	return Event{Type: EventProgress, Fields: map[string]any{"value": value, "label": label}}
}

func AnswerConfidence(score float64, level string) Event {
	return Event{Type: EventAnswerConfidence, Fields: map[string]any{"confidence": score, "level": level}}
}

func ModelStage(stage, message, model string) Event {
	return Event{Type: EventModelStage, Fields: map[string]any{"stage": stage, "message": message, "model": model}}
}

func ErrorEvent(message string) Event {
	return Event{Type: EventError, Fields: map[string]any{"message": message}}
}

func NetRateLimited(retryAfterSec int, provider string) Event {
	if retryAfterSec < 1 {
		retryAfterSec = defaultRetryAfterSec
	}
	return Event{Type: EventNetRateLimited, Fields: map[string]any{"retryAfterSec": retryAfterSec, "provider": provider}}
}

type Source struct {
	ID         string  `json:"id"`
	Page       int     `json:"page"`
	Section    string  `json:"section"`
	ChunkType  string  `json:"chunk_type"`
	Score      float64 `json:"score"`
	BBox       string  `json:"bbox,omitempty"`
	SourceFile string  `json:"source_file,omitempty"`
}

func Sources(data []Source) Event {
	if data == nil {
		data = []Source{}
	}
	return Event{Type: EventSources, Fields: map[string]any{"data": data}}
}

// IsEvent reports whether a stream line is a structured event.
func IsEvent(line string) bool {
	return strings.HasPrefix(line, EventPrefix)
}

func humanize(key string) string {
	words := strings.Fields(strings.ReplaceAll(key, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
