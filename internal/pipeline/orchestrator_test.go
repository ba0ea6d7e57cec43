package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/besmart/voice-agent/internal/agent"
	"github.com/besmart/voice-agent/internal/apperr"
)

const producer = "Conversation Agent"

// assertOrdering checks the event ordering every run must respect
func assertOrdering(t *testing.T, events []Event) {
	t.Helper()
	require.NotEmpty(t, events)

	firstStream := -1
	ttsStart := -1
	terminals := 0
	for i, ev := range events {
		switch ev.Type {
		case EventToken, EventAgentResponse:
			if firstStream < 0 {
				firstStream = i
			}
		case EventStatus, EventTranscription:
			if firstStream >= 0 {
				t.Errorf("event %d (%s) after agent output started at %d", i, ev.Type, firstStream)
			}
		case EventTTSStart:
			assert.Equal(t, -1, ttsStart, "tts_start emitted twice")
			ttsStart = i
		case EventTTSChunk:
			if ttsStart < 0 || ttsStart > i {
				t.Errorf("tts_chunk at %d before tts_start", i)
			}
		}
		if ev.Terminal() {
			terminals++
		}
	}
	assert.Equal(t, 1, terminals, "exactly one terminal event")
	assert.True(t, events[len(events)-1].Terminal(), "terminal event must be last")
}

func TestRun_HappyPath(t *testing.T) {
	rec := &recorder{}
	synth := &fakeSynth{chunksPer: 2}
	ag := &fakeAgent{fragments: tokens(producer, "مرحبا بك في خدمة العملاء.", " كيف أساعدك اليوم؟")}

	o := New(&fakeRecognizer{text: "السلام عليكم"}, synth, ag, testConfig())
	res, err := o.Run(context.Background(), Request{SessionID: "s-1", AudioBase64: "AAAA"}, rec)
	require.NoError(t, err)

	events := rec.all()
	assertOrdering(t, events)

	assert.Equal(t, StatusEvent(MsgRecognizing), events[0])
	assert.Equal(t, TranscriptionEvent("السلام عليكم"), events[1])
	assert.Equal(t, StatusEvent(MsgThinking), events[2])
	assert.Equal(t, EventDone, events[len(events)-1].Type)

	assert.Equal(t, agent.Request{Text: "السلام عليكم", SessionID: "s-1"}, ag.got)
	assert.Equal(t, []string{"مرحبا بك في خدمة العملاء.", "كيف أساعدك اليوم؟"}, synth.texts())

	responses := rec.ofType(EventAgentResponse)
	require.Len(t, responses, 1)
	assert.Equal(t, "مرحبا بك في خدمة العملاء. كيف أساعدك اليوم؟", responses[0].Text)

	starts := rec.ofType(EventTTSStart)
	require.Len(t, starts, 1)
	assert.Equal(t, 16000, starts[0].SampleRate)

	assert.Equal(t, StateDone, res.State)
	assert.True(t, res.Streamed)
	assert.Equal(t, WorkerStats{Units: 2, Chunks: 4, Bytes: res.Synthesis.Bytes}, res.Synthesis)
}

func TestRun_ChunkOrderFollowsUnitOrder(t *testing.T) {
	rec := &recorder{}
	synth := &fakeSynth{chunksPer: 3}
	ag := &fakeAgent{fragments: tokens(producer, "First sentence here.", " Second sentence here.", " Third sentence here.")}

	_, err := New(&fakeRecognizer{text: "hi"}, synth, ag, testConfig()).Run(context.Background(), Request{}, rec)
	require.NoError(t, err)

	var want []string
	for _, u := range []string{"First sentence here.", "Second sentence here.", "Third sentence here."} {
		for i := 0; i < 3; i++ {
			want = append(want, u+"#"+string(rune('0'+i)))
		}
	}
	assert.Equal(t, want, rec.chunkLabels())
}

func TestRun_FailingUnitIsSkipped(t *testing.T) {
	rec := &recorder{}
	synth := &fakeSynth{chunksPer: 2, fail: map[string]bool{"Second one is broken.": true}}
	ag := &fakeAgent{fragments: tokens(producer, "First sentence here.", " Second one is broken.", " Third sentence works.")}

	res, err := New(&fakeRecognizer{text: "hi"}, synth, ag, testConfig()).Run(context.Background(), Request{}, rec)
	require.NoError(t, err)

	assertOrdering(t, rec.all())
	assert.Equal(t, []string{
		"First sentence here.#0", "First sentence here.#1",
		"Second one is broken.#0",
		"Third sentence works.#0", "Third sentence works.#1",
	}, rec.chunkLabels())
	assert.Empty(t, rec.ofType(EventError))
	assert.Len(t, rec.ofType(EventDone), 1)
	assert.Equal(t, 3, res.Synthesis.Units)
	assert.Equal(t, 1, res.Synthesis.Failed)
}

func TestRun_UnitFailingBeforeAudioIsSkipped(t *testing.T) {
	rec := &recorder{}
	synth := &fakeSynth{chunksPer: 2, reject: map[string]bool{"Second one is broken.": true}}
	ag := &fakeAgent{fragments: tokens(producer, "First sentence here.", " Second one is broken.", " Third sentence works.")}

	res, err := New(&fakeRecognizer{text: "hi"}, synth, ag, testConfig()).Run(context.Background(), Request{}, rec)
	require.NoError(t, err)

	assertOrdering(t, rec.all())
	assert.Equal(t, []string{"First sentence here.", "Second one is broken.", "Third sentence works."}, synth.texts())
	assert.Equal(t, []string{
		"First sentence here.#0", "First sentence here.#1",
		"Third sentence works.#0", "Third sentence works.#1",
	}, rec.chunkLabels())
	assert.Empty(t, rec.ofType(EventError))
	assert.Equal(t, EventDone, rec.all()[len(rec.all())-1].Type)
	assert.Equal(t, 1, res.Synthesis.Failed)
}

func TestRun_EmptyTranscript(t *testing.T) {
	for _, transcript := range []string{"", "   "} {
		rec := &recorder{}
		ag := &fakeAgent{}

		res, err := New(&fakeRecognizer{text: transcript}, &fakeSynth{}, ag, testConfig()).Run(context.Background(), Request{}, rec)
		require.Error(t, err)
		assert.Equal(t, apperr.KindEmptyResult, apperr.KindOf(err))

		assert.Equal(t, []Event{StatusEvent(MsgRecognizing), ErrorEvent(MsgEmptyTranscript)}, rec.all())
		assert.False(t, ag.called, "agent must not be called without a transcript")
		assert.Equal(t, StateFailed, res.State)
	}
}

func TestRun_RecognizerError(t *testing.T) {
	rec := &recorder{}
	ag := &fakeAgent{}

	_, err := New(&fakeRecognizer{err: apperr.Protocol("stt", "audio too short")}, &fakeSynth{}, ag, testConfig()).
		Run(context.Background(), Request{}, rec)
	require.Error(t, err)

	assert.Equal(t, []Event{StatusEvent(MsgRecognizing), ErrorEvent("audio too short")}, rec.all())
	assert.False(t, ag.called)
}

func TestRun_EmptyResponse(t *testing.T) {
	rec := &recorder{}
	ag := &fakeAgent{fragments: []agent.Fragment{
		{NodeName: producer, Type: "begin"},
		{NodeName: "Some Tool", Type: "item", Content: "ignored"},
		{NodeName: producer, Type: "end"},
	}}
	synth := &fakeSynth{chunksPer: 1}

	_, err := New(&fakeRecognizer{text: "hi"}, synth, ag, testConfig()).Run(context.Background(), Request{}, rec)
	require.Error(t, err)

	events := rec.all()
	assertOrdering(t, events)
	assert.Equal(t, ErrorEvent(MsgEmptyResponse), events[len(events)-1])
	assert.Empty(t, rec.ofType(EventAgentResponse))
	assert.Empty(t, rec.ofType(EventDone))
	assert.Empty(t, synth.texts())
}

func TestRun_BlankResponseIsNotSynthesized(t *testing.T) {
	tests := []struct {
		name      string
		fragments []agent.Fragment
	}{
		{
			name: "blank final output",
			fragments: []agent.Fragment{
				{NodeName: "Respond to Webhook", Type: "item", Content: `{"output":"   "}`},
			},
		},
		{
			name:      "blank streamed tokens",
			fragments: tokens(producer, "  ", " \n"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			synth := &fakeSynth{chunksPer: 1}

			res, err := New(&fakeRecognizer{text: "hi"}, synth, &fakeAgent{fragments: tt.fragments}, testConfig()).
				Run(context.Background(), Request{}, rec)
			require.Error(t, err)
			assert.Equal(t, apperr.KindEmptyResult, apperr.KindOf(err))

			events := rec.all()
			assertOrdering(t, events)
			assert.Equal(t, ErrorEvent(MsgEmptyResponse), events[len(events)-1])
			assert.Empty(t, synth.texts())
			assert.Empty(t, rec.ofType(EventTTSStart))
			assert.Empty(t, rec.ofType(EventTTSChunk))
			assert.Equal(t, 0, res.Synthesis.Units)
		})
	}
}

func TestRun_FallbackSplit(t *testing.T) {
	rec := &recorder{}
	synth := &fakeSynth{chunksPer: 1}
	final := "شكرا لتواصلك معنا اليوم. سيتم تحويل طلبك إلى القسم المختص، وسنعاود الاتصال بك قريبا."
	ag := &fakeAgent{fragments: []agent.Fragment{
		{NodeName: "Respond to Webhook", Type: "item", Content: `{"output":"` + final + `"}`},
	}}

	res, err := New(&fakeRecognizer{text: "hi"}, synth, ag, testConfig()).Run(context.Background(), Request{}, rec)
	require.NoError(t, err)

	assertOrdering(t, rec.all())
	assert.False(t, res.Streamed)
	assert.Equal(t, SplitSentences(final, 20), synth.texts())
	assert.GreaterOrEqual(t, len(synth.texts()), 1)
	assert.Empty(t, rec.ofType(EventToken))

	responses := rec.ofType(EventAgentResponse)
	require.Len(t, responses, 1)
	assert.Equal(t, final, responses[0].Text)
}

func TestRun_FinalOutputOverridesStreamedText(t *testing.T) {
	rec := &recorder{}
	frags := tokens(producer, "Streamed draft answer.")
	frags = append(frags,
		agent.Fragment{NodeName: "Respond to Webhook", Type: "item", Content: "not json"},
		agent.Fragment{NodeName: "Respond to Webhook", Type: "item", Content: `{"other":1}`},
		agent.Fragment{NodeName: "Respond to Webhook", Type: "item", Content: `{"output":"Canonical answer."}`},
	)

	_, err := New(&fakeRecognizer{text: "hi"}, &fakeSynth{chunksPer: 1}, &fakeAgent{fragments: frags}, testConfig()).
		Run(context.Background(), Request{}, rec)
	require.NoError(t, err)

	responses := rec.ofType(EventAgentResponse)
	require.Len(t, responses, 1)
	assert.Equal(t, "Canonical answer.", responses[0].Text)
}

func TestRun_FinalOutputAcceptsNonStringValues(t *testing.T) {
	rec := &recorder{}
	synth := &fakeSynth{chunksPer: 1}
	ag := &fakeAgent{fragments: []agent.Fragment{
		{NodeName: "Respond to Webhook", Type: "item", Content: `{"output":12345}`},
	}}

	_, err := New(&fakeRecognizer{text: "hi"}, synth, ag, testConfig()).Run(context.Background(), Request{}, rec)
	require.NoError(t, err)

	responses := rec.ofType(EventAgentResponse)
	require.Len(t, responses, 1)
	assert.Equal(t, "12345", responses[0].Text)
	assert.Equal(t, []string{"12345"}, synth.texts())
}

func TestRun_AgentFailureMidStream(t *testing.T) {
	rec := &recorder{}
	ag := &fakeAgent{
		fragments: tokens(producer, "First sentence here.", " partial"),
		err:       apperr.Transport("agent read", errors.New("unexpected EOF")),
	}

	res, err := New(&fakeRecognizer{text: "hi"}, &fakeSynth{chunksPer: 1}, ag, testConfig()).Run(context.Background(), Request{}, rec)
	require.Error(t, err)

	events := rec.all()
	assertOrdering(t, events)
	assert.Len(t, rec.ofType(EventError), 1)
	assert.Equal(t, EventError, events[len(events)-1].Type)
	assert.Empty(t, rec.ofType(EventDone))
	assert.Empty(t, rec.ofType(EventAgentResponse))
	assert.Equal(t, StateFailed, res.State)
}

func TestRun_TokenBatching(t *testing.T) {
	rec := &recorder{}
	ag := &fakeAgent{fragments: tokens(producer, strings.Split("abcdefghij", "")...)}

	_, err := New(&fakeRecognizer{text: "hi"}, &fakeSynth{chunksPer: 1}, ag, testConfig()).Run(context.Background(), Request{}, rec)
	require.NoError(t, err)

	var got []string
	for _, ev := range rec.ofType(EventToken) {
		got = append(got, ev.Content)
	}
	assert.Equal(t, []string{"abcdefgh", "ij"}, got)
}

func TestRun_FlushReplacesGrace(t *testing.T) {
	rec := &flushingRecorder{}
	cfg := testConfig()
	cfg.DoneGrace = time.Hour

	done := make(chan error, 1)
	go func() {
		_, err := New(&fakeRecognizer{text: "hi"}, &fakeSynth{chunksPer: 1}, &fakeAgent{fragments: tokens(producer, "Short answer here.")}, cfg).
			Run(context.Background(), Request{}, rec)
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run waited on the grace period despite a flushing emitter")
	}
	assert.Equal(t, 1, rec.flushes)
	assert.Len(t, rec.ofType(EventDone), 1)
}

func TestRun_EmitterFailure(t *testing.T) {
	closed := errors.New("session closed")
	emitted := 0
	emitter := EmitterFunc(func(ctx context.Context, ev Event) error {
		emitted++
		if emitted > 3 {
			return closed
		}
		return nil
	})

	_, err := New(&fakeRecognizer{text: "hi"}, &fakeSynth{chunksPer: 1}, &fakeAgent{fragments: tokens(producer, "First sentence here.")}, testConfig()).
		Run(context.Background(), Request{}, emitter)
	assert.ErrorIs(t, err, closed)
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := &recorder{}
	ag := &fakeAgent{err: context.Canceled}
	_, err := New(&fakeRecognizer{text: "hi"}, &fakeSynth{}, ag, testConfig()).Run(ctx, Request{}, rec)
	require.Error(t, err)

	assert.Len(t, rec.ofType(EventError), 1)
	assert.Empty(t, rec.ofType(EventDone))
}
