package pipeline

import "encoding/base64"

// EventType names an outbound event variant
type EventType string

const (
	EventStatus        EventType = "status"
	EventTranscription EventType = "transcription"
	EventToken         EventType = "token"
	EventAgentResponse EventType = "agent_response"
	EventTTSStart      EventType = "tts_start"
	EventTTSChunk      EventType = "tts_chunk"
	EventDone          EventType = "done"
	EventError         EventType = "error"
)

// Event is one message sent to the caller. Only the fields of the
// variant named by Type are set.
type Event struct {
	Type        EventType `json:"type"`
	Message     string    `json:"message,omitempty"`
	Text        string    `json:"text,omitempty"`
	Content     string    `json:"content,omitempty"`
	SampleRate  int       `json:"sample_rate,omitempty"`
	AudioBase64 string    `json:"audio_base64,omitempty"`
}

// Terminal reports whether the event ends a run
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

func StatusEvent(message string) Event {
	return Event{Type: EventStatus, Message: message}
}

func TranscriptionEvent(text string) Event {
	return Event{Type: EventTranscription, Text: text}
}

func TokenEvent(content string) Event {
	return Event{Type: EventToken, Content: content}
}

func AgentResponseEvent(text string) Event {
	return Event{Type: EventAgentResponse, Text: text}
}

func TTSStartEvent(sampleRate int) Event {
	return Event{Type: EventTTSStart, SampleRate: sampleRate}
}

// TTSChunkEvent base64-encodes one synthesized audio chunk
func TTSChunkEvent(chunk []byte) Event {
	return Event{Type: EventTTSChunk, AudioBase64: base64.StdEncoding.EncodeToString(chunk)}
}

func DoneEvent() Event {
	return Event{Type: EventDone}
}

func ErrorEvent(message string) Event {
	return Event{Type: EventError, Message: message}
}

// Caller-facing texts
const (
	MsgConnected       = "متصل بالخادم"
	MsgRecognizing     = "جاري التعرف على الصوت..."
	MsgThinking        = "جاري التفكير..."
	MsgEmptyTranscript = "لم يتم التعرف على أي نص"
	MsgEmptyResponse   = "لم يتم الحصول على رد من الوكيل"
)
