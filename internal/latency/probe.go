package latency

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http/httptrace"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/besmart/voice-agent/internal/agent"
	"github.com/besmart/voice-agent/internal/pipeline"
)

// DefaultAudioBase64 is an empty 8 kHz WAV file, enough to exercise the
// pipeline up to the recognizer.
const DefaultAudioBase64 = "UklGRiQAAABXQVZFZm10IBAAAAABAAEAQB8AAEAfAAABAAgAZGF0YQAAAAA="

// EventFunc observes every event received by a probe
type EventFunc func(ev pipeline.Event)

// PipelineResult summarizes one probed pipeline run
type PipelineResult struct {
	Transcript string
	Response   string
	Tokens     int
	Chunks     int
	AudioBytes int
	Error      string // message of the error event, if the run failed
	Report     Report
}

// ProbePipeline connects to a running server as a caller, sends one audio
// payload and times every stage until done or error.
func ProbePipeline(ctx context.Context, url, audioBase64 string, onEvent EventFunc) (*PipelineResult, error) {
	if audioBase64 == "" {
		audioBase64 = DefaultAudioBase64
	}
	timer := NewTimer("WebSocket pipeline").Start()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("error connecting to %s: %w", url, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	timer.Checkpoint("ws_connected", "WebSocket connected")

	if err := conn.WriteJSON(map[string]string{"audio_base64": audioBase64}); err != nil {
		return nil, fmt.Errorf("error sending audio: %w", err)
	}
	timer.Checkpoint("audio_sent", "Audio sent to server")

	res := &PipelineResult{}
	for {
		var ev pipeline.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("error reading event: %w", err)
		}
		if onEvent != nil {
			onEvent(ev)
		}

		switch ev.Type {
		case pipeline.EventTranscription:
			res.Transcript = ev.Text
			timer.Checkpoint("stt_complete", fmt.Sprintf("STT: %q", ev.Text))
		case pipeline.EventToken:
			res.Tokens++
			timer.Once("agent_first_token", "Agent first token")
		case pipeline.EventAgentResponse:
			res.Response = ev.Text
			timer.Checkpoint("agent_complete", "Agent response complete")
		case pipeline.EventTTSStart:
			timer.Checkpoint("tts_start", "TTS started")
		case pipeline.EventTTSChunk:
			res.Chunks++
			if chunk, err := base64.StdEncoding.DecodeString(ev.AudioBase64); err == nil {
				res.AudioBytes += len(chunk)
			}
			timer.Once("tts_first_chunk", "First TTS audio chunk")
		case pipeline.EventDone:
			timer.Checkpoint("pipeline_complete", fmt.Sprintf("Pipeline done (%d audio chunks)", res.Chunks))
			res.Report = timer.Report()
			return res, nil
		case pipeline.EventError:
			res.Error = ev.Message
			timer.Checkpoint("pipeline_error", ev.Message)
			res.Report = timer.Report()
			return res, nil
		}
	}
}

// Streamer is the part of the agent client a probe needs
type Streamer interface {
	Stream(ctx context.Context, req agent.Request, handler agent.FragmentHandler) error
}

// AgentResult summarizes one probed agent stream
type AgentResult struct {
	Response  string
	Tokens    int
	Streaming time.Duration // first token to last fragment
	Report    Report
}

// ProbeAgent streams one reply straight from the agent and times the
// response headers, the first token of producer and the end of the stream.
func ProbeAgent(ctx context.Context, streamer Streamer, req agent.Request, producer, finalProducer string, onToken func(string)) (*AgentResult, error) {
	timer := NewTimer(fmt.Sprintf("Agent: %q", req.Text)).Start()

	ctx = httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
		GotFirstResponseByte: func() {
			timer.Once("ttfb", "Time to first byte")
		},
	})
	timer.Checkpoint("connection_start", "HTTP request started")

	res := &AgentResult{}
	var response strings.Builder
	err := streamer.Stream(ctx, req, func(f agent.Fragment) error {
		if f.Type != "item" || f.Content == "" {
			return nil
		}
		switch f.NodeName {
		case producer:
			timer.Once("first_token", fmt.Sprintf("First token: %q", f.Content))
			res.Tokens++
			response.WriteString(f.Content)
			if onToken != nil {
				onToken(f.Content)
			}
		case finalProducer:
			if output, ok := agent.FinalOutput(f.Content); ok {
				response.Reset()
				response.WriteString(output)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	complete := timer.Checkpoint("complete", fmt.Sprintf("Response complete (%d tokens)", res.Tokens))
	if first, ok := timer.Get("first_token"); ok {
		res.Streaming = complete - first
	}
	res.Response = response.String()
	res.Report = timer.Report()
	return res, nil
}
