package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/besmart/voice-agent/internal/agent"
)

type fakeRecognizer struct {
	text string
	err  error
}

func (f *fakeRecognizer) Transcribe(ctx context.Context, audioBase64 string) (string, error) {
	return f.text, f.err
}

// fakeSynth returns chunksPer chunks per call, each labelled "<text>#<i>".
// Calls for texts listed in fail return an error after their first chunk;
// texts listed in reject fail before producing any audio.
type fakeSynth struct {
	chunksPer int
	fail      map[string]bool
	reject    map[string]bool

	mu    sync.Mutex
	calls []string
}

func (f *fakeSynth) Synthesize(ctx context.Context, text string, onChunk func([]byte) error) error {
	f.mu.Lock()
	f.calls = append(f.calls, text)
	f.mu.Unlock()

	if f.reject[text] {
		return errors.New("synthesizer rejected text")
	}
	for i := 0; i < f.chunksPer; i++ {
		if err := onChunk([]byte(fmt.Sprintf("%s#%d", text, i))); err != nil {
			return err
		}
		if f.fail[text] {
			return errors.New("synthesizer error")
		}
	}
	return nil
}

func (f *fakeSynth) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeAgent struct {
	fragments []agent.Fragment
	err       error
	called    bool
	got       agent.Request
}

func (f *fakeAgent) Stream(ctx context.Context, req agent.Request, handler agent.FragmentHandler) error {
	f.called = true
	f.got = req
	for _, frag := range f.fragments {
		if err := handler(frag); err != nil {
			return err
		}
	}
	return f.err
}

func tokens(node string, parts ...string) []agent.Fragment {
	out := make([]agent.Fragment, 0, len(parts))
	for _, p := range parts {
		out = append(out, agent.Fragment{NodeName: node, Type: "item", Content: p})
	}
	return out
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Emit(ctx context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) types() []EventType {
	var out []EventType
	for _, ev := range r.all() {
		out = append(out, ev.Type)
	}
	return out
}

func (r *recorder) ofType(t EventType) []Event {
	var out []Event
	for _, ev := range r.all() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// chunkLabels decodes every tts_chunk in emission order
func (r *recorder) chunkLabels() []string {
	var out []string
	for _, ev := range r.ofType(EventTTSChunk) {
		b, _ := base64.StdEncoding.DecodeString(ev.AudioBase64)
		out = append(out, string(b))
	}
	return out
}

type flushingRecorder struct {
	recorder
	flushes int
}

func (f *flushingRecorder) Flush(ctx context.Context) error {
	f.mu.Lock()
	f.flushes++
	f.mu.Unlock()
	return nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.DoneGrace = time.Millisecond
	return cfg
}
