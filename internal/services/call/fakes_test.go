package call

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ClareAI/astra-sip-bridge/internal/bridge"
	"github.com/ClareAI/astra-sip-bridge/internal/config"
)

const (
	testHoldURL  = "http://media/hold.mp3"
	testReadyURL = "http://media/ready.wav"
	testGotItURL = "http://media/gotit.wav"
)

type fakeEndpoint struct {
	uuid string

	mu         sync.Mutex
	plays      []string
	latePlays  []string
	breaks     int
	forkStarts []ForkOptions
	forkStops  int
	forkErr    error
	dtmfErr    error
	dtmf       func(string)

	dead    atomic.Bool
	breakCh chan struct{}
}

func newFakeEndpoint(id string) *fakeEndpoint {
	return &fakeEndpoint{uuid: id, breakCh: make(chan struct{}, 1)}
}

func (e *fakeEndpoint) UUID() string { return e.uuid }

func (e *fakeEndpoint) Play(ctx context.Context, url string) error {
	e.mu.Lock()
	if e.dead.Load() {
		e.latePlays = append(e.latePlays, url)
	}
	e.plays = append(e.plays, url)
	e.mu.Unlock()

	if url == testHoldURL {
		select {
		case <-ctx.Done():
		case <-e.breakCh:
		}
	}
	return nil
}

func (e *fakeEndpoint) Break(context.Context) error {
	e.mu.Lock()
	e.breaks++
	e.mu.Unlock()
	select {
	case e.breakCh <- struct{}{}:
	default:
	}
	return nil
}

func (e *fakeEndpoint) EnableDTMF(context.Context) error { return e.dtmfErr }

func (e *fakeEndpoint) OnDTMF(fn func(string)) func() {
	e.mu.Lock()
	e.dtmf = fn
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		e.dtmf = nil
		e.mu.Unlock()
	}
}

func (e *fakeEndpoint) press(digit string) {
	e.mu.Lock()
	fn := e.dtmf
	e.mu.Unlock()
	if fn != nil {
		fn(digit)
	}
}

func (e *fakeEndpoint) ForkAudioStart(_ context.Context, opts ForkOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.forkErr != nil {
		return e.forkErr
	}
	e.forkStarts = append(e.forkStarts, opts)
	return nil
}

func (e *fakeEndpoint) ForkAudioStop(context.Context) error {
	e.mu.Lock()
	e.forkStops++
	e.mu.Unlock()
	return nil
}

func (e *fakeEndpoint) played() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.plays...)
}

func (e *fakeEndpoint) late() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.latePlays...)
}

func (e *fakeEndpoint) counts() (breaks, forkStarts, forkStops int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.breaks, len(e.forkStarts), e.forkStops
}

type fakeDialog struct {
	ep *fakeEndpoint

	mu        sync.Mutex
	onDestroy func()
	destroyed int
}

func (d *fakeDialog) OnDestroy(fn func()) func() {
	d.mu.Lock()
	d.onDestroy = fn
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		d.onDestroy = nil
		d.mu.Unlock()
	}
}

func (d *fakeDialog) Destroy(context.Context) error {
	d.mu.Lock()
	d.destroyed++
	d.mu.Unlock()
	return nil
}

// hangup simulates the far end sending BYE.
func (d *fakeDialog) hangup() {
	d.ep.dead.Store(true)
	d.mu.Lock()
	fn := d.onDestroy
	d.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (d *fakeDialog) destroyCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.destroyed
}

type fakeForkServer struct {
	session  CaptureSession
	err      error
	expects  atomic.Int32
	canceled atomic.Int32
}

func (f *fakeForkServer) ExpectSession(string, time.Duration) (<-chan SessionResult, error) {
	f.expects.Add(1)
	ch := make(chan SessionResult, 1)
	ch <- SessionResult{Session: f.session, Err: f.err}
	return ch, nil
}

func (f *fakeForkServer) CancelExpectation(string) { f.canceled.Add(1) }

type fakeSession struct {
	utterances chan *Utterance
	beforeWait func()
	finalized  atomic.Int32
	capture    atomic.Bool
	// closed makes every wait fail as if the fork had dropped.
	closed atomic.Bool
}

func newFakeSession(count int) *fakeSession {
	s := &fakeSession{utterances: make(chan *Utterance, count)}
	for i := 0; i < count; i++ {
		s.utterances <- &Utterance{Audio: []byte{byte(i)}, Reason: "silence"}
	}
	return s
}

func (s *fakeSession) SetCaptureEnabled(enabled bool) { s.capture.Store(enabled) }

func (s *fakeSession) WaitForUtterance(ctx context.Context, timeout time.Duration) (*Utterance, error) {
	if s.beforeWait != nil {
		s.beforeWait()
	}
	if s.closed.Load() {
		return nil, ErrCaptureClosed
	}
	select {
	case u := <-s.utterances:
		return u, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, errors.New("utterance timeout")
	}
}

func (s *fakeSession) ForceFinalize() { s.finalized.Add(1) }

type fakeTranscriber struct {
	mu          sync.Mutex
	transcripts []string
	err         error
}

func (f *fakeTranscriber) Transcribe(context.Context, []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if len(f.transcripts) == 0 {
		return "", nil
	}
	next := f.transcripts[0]
	f.transcripts = f.transcripts[1:]
	return next, nil
}

type fakeSynthesizer struct {
	mu     sync.Mutex
	texts  []string
	voices []string
}

func (f *fakeSynthesizer) Synthesize(_ context.Context, text, voiceID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	f.voices = append(f.voices, voiceID)
	return "tts:" + text, nil
}

func (f *fakeSynthesizer) said() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type fakeBridge struct {
	mu          sync.Mutex
	prompts     []string
	options     []bridge.QueryOptions
	endSessions []string
	available   bool
	query       func(ctx context.Context, prompt string, opts bridge.QueryOptions) (bridge.Response, error)
}

func (b *fakeBridge) Query(ctx context.Context, prompt string, opts bridge.QueryOptions) (bridge.Response, error) {
	b.mu.Lock()
	b.prompts = append(b.prompts, prompt)
	b.options = append(b.options, opts)
	fn := b.query
	b.mu.Unlock()
	if fn != nil {
		return fn(ctx, prompt, opts)
	}
	return bridge.Response{Text: "Thinking it over.\n🗣️ VOICE_RESPONSE: Sure thing."}, nil
}

func (b *fakeBridge) EndSession(_ context.Context, callID string) {
	b.mu.Lock()
	b.endSessions = append(b.endSessions, callID)
	b.mu.Unlock()
}

func (b *fakeBridge) IsAvailable(context.Context, time.Duration) bool { return b.available }

func (b *fakeBridge) sentPrompts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.prompts...)
}

func (b *fakeBridge) ended() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.endSessions...)
}

type harness struct {
	ep      *fakeEndpoint
	dialog  *fakeDialog
	fork    *fakeForkServer
	session *fakeSession
	stt     *fakeTranscriber
	tts     *fakeSynthesizer
	bridge  *fakeBridge
}

func newHarness(utterances int, transcripts ...string) *harness {
	ep := newFakeEndpoint("call-1")
	session := newFakeSession(utterances)
	return &harness{
		ep:      ep,
		dialog:  &fakeDialog{ep: ep},
		fork:    &fakeForkServer{session: session},
		session: session,
		stt:     &fakeTranscriber{transcripts: transcripts},
		tts:     &fakeSynthesizer{},
		bridge:  &fakeBridge{available: true},
	}
}

func (h *harness) options() Options {
	return Options{
		Bridge:      h.bridge,
		ForkServer:  h.fork,
		Transcriber: h.stt,
		Synthesizer: h.tts,
		Prompts: Prompts{
			ReadyCueURL:        testReadyURL,
			GotItCueURL:        testGotItURL,
			HoldMusicURL:       testHoldURL,
			UnavailableMessage: "The agent is down.",
			Greeting:           "Hello there",
		},
		ForkURLBase:      "ws://fork.local/",
		Device:           &config.Device{Name: "morpheus", Extension: "9000", AccountID: "acct-1", VoiceID: "voice-m", Prompt: "Be brief."},
		PeerID:           "+15551230000",
		MaxTurns:         5,
		UtteranceTimeout: 100 * time.Millisecond,
		ForkTimeout:      200 * time.Millisecond,
	}
}

func (h *harness) conversation(opts Options) *Conversation {
	return NewConversation(h.ep, h.dialog, h.ep.UUID(), opts)
}

func isThinkingPhrase(s string) bool {
	for _, p := range thinkingPhrases {
		if p == s {
			return true
		}
	}
	return false
}

func containsPrefix(items []string, prefix string) bool {
	for _, it := range items {
		if strings.HasPrefix(it, prefix) {
			return true
		}
	}
	return false
}
