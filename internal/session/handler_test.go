package session

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/besmart/voice-agent/internal/apperr"
	"github.com/besmart/voice-agent/internal/pipeline"
)

// fakeRunner answers every request with a transcription carrying the
// session ID, followed by done
type fakeRunner struct {
	mu       sync.Mutex
	requests []pipeline.Request
	block    chan struct{}
	active   int
	overlap  bool
}

func (f *fakeRunner) Run(ctx context.Context, req pipeline.Request, emitter pipeline.Emitter) (*pipeline.Result, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.active++
	if f.active > 1 {
		f.overlap = true
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	_ = emitter.Emit(ctx, pipeline.TranscriptionEvent(req.SessionID))
	_ = emitter.Emit(ctx, pipeline.DoneEvent())
	return &pipeline.Result{RunID: "run", State: pipeline.StateDone}, nil
}

func (f *fakeRunner) seen() []pipeline.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pipeline.Request(nil), f.requests...)
}

func startServer(t *testing.T, runner Runner) string {
	t.Helper()
	mux := http.NewServeMux()
	h := NewHandler(runner, Config{WriteTimeout: time.Second})
	mux.Handle("/ws/agent/{session_id}/", h)
	mux.Handle("/ws/agent/", h)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) pipeline.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev pipeline.Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func audioMessage(b []byte) map[string]string {
	return map[string]string{"audio_base64": base64.StdEncoding.EncodeToString(b)}
}

func TestParseInbound(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantMsg string
		bytes   int
	}{
		{"valid", `{"audio_base64":"AAECAw=="}`, "", 4},
		{"invalid json", `{"audio_base64":`, msgInvalidJSON, 0},
		{"not an object", `[1,2]`, msgInvalidJSON, 0},
		{"missing field", `{"audio":"AAEC"}`, msgAudioRequired, 0},
		{"empty field", `{"audio_base64":""}`, msgAudioRequired, 0},
		{"bad base64", `{"audio_base64":"@@@"}`, msgAudioNotBase64, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, decoded, err := parseInbound("s1", []byte(tt.data))
			if tt.wantMsg != "" {
				require.Error(t, err)
				assert.Equal(t, apperr.KindInput, apperr.KindOf(err))
				assert.Equal(t, tt.wantMsg, apperr.UserMessage(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "s1", req.SessionID)
			assert.Equal(t, tt.bytes, req.AudioBytes)
			assert.Len(t, decoded, tt.bytes)
		})
	}
}

func TestHandler_ConnectAndRun(t *testing.T) {
	runner := &fakeRunner{}
	conn := dial(t, startServer(t, runner)+"/ws/agent/abc123/")

	ev := readEvent(t, conn)
	assert.Equal(t, pipeline.StatusEvent(pipeline.MsgConnected), ev)

	require.NoError(t, conn.WriteJSON(audioMessage([]byte{1, 2, 3})))

	assert.Equal(t, pipeline.TranscriptionEvent("abc123"), readEvent(t, conn))
	assert.Equal(t, pipeline.DoneEvent(), readEvent(t, conn))

	reqs := runner.seen()
	require.Len(t, reqs, 1)
	assert.Equal(t, 3, reqs[0].AudioBytes)
}

func TestHandler_GeneratesSessionID(t *testing.T) {
	runner := &fakeRunner{}
	conn := dial(t, startServer(t, runner)+"/ws/agent/")
	readEvent(t, conn)

	require.NoError(t, conn.WriteJSON(audioMessage([]byte{1})))
	ev := readEvent(t, conn)
	assert.Equal(t, pipeline.EventTranscription, ev.Type)
	assert.Len(t, ev.Text, 36, "uuid session id")
}

func TestHandler_InvalidInputDoesNotRun(t *testing.T) {
	runner := &fakeRunner{}
	conn := dial(t, startServer(t, runner)+"/ws/agent/s/")
	readEvent(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{nope")))
	assert.Equal(t, pipeline.ErrorEvent(msgInvalidJSON), readEvent(t, conn))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{}`)))
	assert.Equal(t, pipeline.ErrorEvent(msgAudioRequired), readEvent(t, conn))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"audio_base64":"***"}`)))
	assert.Equal(t, pipeline.ErrorEvent(msgAudioNotBase64), readEvent(t, conn))

	// binary frames are ignored; the next valid payload still runs
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}))
	require.NoError(t, conn.WriteJSON(audioMessage([]byte{9})))
	assert.Equal(t, pipeline.EventTranscription, readEvent(t, conn).Type)

	assert.Len(t, runner.seen(), 1)
}

func TestHandler_InputErrorWaitsForActiveRun(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	conn := dial(t, startServer(t, runner)+"/ws/agent/s/")
	readEvent(t, conn)

	require.NoError(t, conn.WriteJSON(audioMessage([]byte{1})))
	require.Eventually(t, func() bool { return len(runner.seen()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{nope")))
	close(runner.block)

	assert.Equal(t, pipeline.TranscriptionEvent("s"), readEvent(t, conn))
	assert.Equal(t, pipeline.DoneEvent(), readEvent(t, conn))
	assert.Equal(t, pipeline.ErrorEvent(msgInvalidJSON), readEvent(t, conn))
	assert.Len(t, runner.seen(), 1)
}

func TestHandler_RunsSequentially(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	conn := dial(t, startServer(t, runner)+"/ws/agent/s/")
	readEvent(t, conn)

	require.NoError(t, conn.WriteJSON(audioMessage([]byte{1})))
	require.NoError(t, conn.WriteJSON(audioMessage([]byte{1, 2})))

	require.Eventually(t, func() bool { return len(runner.seen()) == 1 }, time.Second, 5*time.Millisecond)
	close(runner.block)

	var done int
	for done < 2 {
		if readEvent(t, conn).Type == pipeline.EventDone {
			done++
		}
	}

	reqs := runner.seen()
	require.Len(t, reqs, 2)
	assert.Equal(t, 1, reqs[0].AudioBytes)
	assert.Equal(t, 2, reqs[1].AudioBytes)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.False(t, runner.overlap)
}

func TestHandler_DisconnectCancelsRun(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	conn := dial(t, startServer(t, runner)+"/ws/agent/s/")
	readEvent(t, conn)

	require.NoError(t, conn.WriteJSON(audioMessage([]byte{1})))
	require.Eventually(t, func() bool { return len(runner.seen()) == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool {
		runner.mu.Lock()
		defer runner.mu.Unlock()
		return runner.active == 0
	}, 2*time.Second, 5*time.Millisecond)
}
