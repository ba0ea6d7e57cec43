package hamsa

import "encoding/json"

// Frame is one message read from the realtime stream
type Frame struct {
	Binary bool
	Data   []byte
}

// Message types sent by the realtime endpoint
const (
	typeTranscription = "transcription"
	typeAck           = "ack"
	typeEnd           = "end"
	typeError         = "error"
)

// controlMessage is a JSON text frame
type controlMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type controlPayload struct {
	Text    string `json:"text"`
	Message string `json:"message"`
}

func (m controlMessage) payload() controlPayload {
	var p controlPayload
	if len(m.Payload) > 0 {
		_ = json.Unmarshal(m.Payload, &p)
	}
	return p
}

// parseControl decodes a text frame. ok is false when the frame is not a JSON object.
func parseControl(data []byte) (controlMessage, bool) {
	var m controlMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return controlMessage{}, false
	}
	return m, true
}

type request struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type sttPayload struct {
	AudioBase64  string  `json:"audioBase64"`
	Language     string  `json:"language"`
	IsEosEnabled bool    `json:"isEosEnabled"`
	EosThreshold float64 `json:"eosThreshold"`
}

type ttsPayload struct {
	Text       string `json:"text"`
	Speaker    string `json:"speaker"`
	Dialect    string `json:"dialect"`
	LanguageID string `json:"languageId"`
	Mulaw      bool   `json:"mulaw"`
}

// restTTSBody is the body of the one-shot REST synthesis endpoint
type restTTSBody struct {
	Text    string `json:"text"`
	Speaker string `json:"speaker"`
	Dialect string `json:"dialect"`
	Mulaw   bool   `json:"mulaw"`
}
