package call

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ClareAI/astra-sip-bridge/internal/bridge"
	"github.com/ClareAI/astra-sip-bridge/internal/config"
	"github.com/ClareAI/astra-sip-bridge/pkg/logger"
	"go.uber.org/zap"
)

// Outcome says how a conversation ended.
type Outcome string

const (
	OutcomeGoodbye     Outcome = "goodbye"
	OutcomeMaxTurns    Outcome = "max_turns"
	OutcomeHangup      Outcome = "hangup"
	OutcomeUnavailable Outcome = "unavailable"
	OutcomeNoAudio     Outcome = "audio_fork_failed"
	OutcomeError       Outcome = "error"
	OutcomeRejected    Outcome = "rejected"
	OutcomeAnnounced   Outcome = "announced"
)

const (
	cleanupTimeout    = 5 * time.Second
	backgroundWait    = 3 * time.Second
	defaultSampling   = "16k"
	defaultMixType    = "mono"
	minTranscriptSize = 2
)

// Prompts holds the audio assets and fallback lines a conversation uses.
type Prompts struct {
	ReadyCueURL         string
	GotItCueURL         string
	HoldMusicURL        string
	UnavailableAudioURL string
	UnavailableMessage  string
	Greeting            string
}

// PromptsFromConfig copies the audio settings out of cfg.
func PromptsFromConfig(cfg *config.VoiceConfig) Prompts {
	return Prompts{
		ReadyCueURL:         cfg.ReadyCueURL,
		GotItCueURL:         cfg.GotItCueURL,
		HoldMusicURL:        cfg.HoldMusicURL,
		UnavailableAudioURL: cfg.UnavailableAudioURL,
		UnavailableMessage:  cfg.UnavailableMessage,
		Greeting:            cfg.FallbackGreeting,
	}
}

// Options configures one conversation.
type Options struct {
	Bridge      bridge.Bridge
	ForkServer  AudioForkServer
	Transcriber Transcriber
	Synthesizer Synthesizer
	Prompts     Prompts

	ForkURLBase string
	Device      *config.Device
	PeerID      string

	// InitialContext primes the agent with what an outbound call announced.
	InitialContext  string
	SkipGreeting    bool
	DynamicGreeting bool

	MaxTurns         int
	UtteranceTimeout time.Duration
	ForkTimeout      time.Duration
	QueryTimeout     time.Duration
}

var errHangup = errors.New("caller hung up")

// Conversation drives the listen, transcribe, ask, speak loop for one call.
type Conversation struct {
	endpoint Endpoint
	dialog   Dialog
	callID   string
	opts     Options

	ctx     context.Context
	cancel  context.CancelFunc
	hungUp  atomic.Bool
	session CaptureSession

	forkRunning   bool
	removeDestroy func()
	removeDTMF    func()
	background    sync.WaitGroup
	cleanupOnce   sync.Once
	turns         int
}

// NewConversation binds a conversation to an answered call.
func NewConversation(ep Endpoint, dlg Dialog, callID string, opts Options) *Conversation {
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = config.DefaultMaxTurns
	}
	if opts.UtteranceTimeout <= 0 {
		opts.UtteranceTimeout = config.DefaultUtteranceTimeout
	}
	if opts.ForkTimeout <= 0 {
		opts.ForkTimeout = config.DefaultForkTimeout
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = bridge.DefaultQueryTimeout
	}
	if opts.Prompts.Greeting == "" {
		opts.Prompts.Greeting = config.DefaultGreeting
	}
	if opts.Prompts.UnavailableMessage == "" {
		opts.Prompts.UnavailableMessage = config.DefaultUnavailableMessage
	}
	return &Conversation{endpoint: ep, dialog: dlg, callID: callID, opts: opts}
}

// Turns reports how many turns were started.
func (c *Conversation) Turns() int { return c.turns }

// Run blocks until the conversation ends. Cleanup always runs exactly once.
func (c *Conversation) Run(ctx context.Context) (outcome Outcome) {
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.removeDestroy = c.dialog.OnDestroy(c.onHangup)
	defer c.cleanup()
	defer func() {
		if r := recover(); r != nil {
			logger.Base().Error("conversation panic", zap.String("call_id", c.callID), zap.Any("panic", r))
			c.apologize()
			outcome = OutcomeError
		}
	}()

	logger.Base().Info("📞 conversation started", zap.String("call_id", c.callID), zap.String("device", c.deviceName()))
	outcome, err := c.converse()
	if err != nil {
		if !c.active() || bridge.IsCanceled(err) || errors.Is(err, errHangup) {
			outcome = OutcomeHangup
		} else {
			logger.Base().Error("conversation error", zap.String("call_id", c.callID), zap.Error(err))
			c.apologize()
			outcome = OutcomeError
		}
	}
	if outcome == "" && !c.active() {
		outcome = OutcomeHangup
	}

	logger.Base().Info("conversation ended",
		zap.String("call_id", c.callID),
		zap.String("outcome", string(outcome)),
		zap.Int("turns", c.turns))
	return outcome
}

func (c *Conversation) onHangup() {
	if c.hungUp.Swap(true) {
		return
	}
	logger.Base().Info("call ended (dialog destroyed)", zap.String("call_id", c.callID))
	c.cancel()
}

func (c *Conversation) active() bool {
	return !c.hungUp.Load() && c.ctx.Err() == nil
}

func (c *Conversation) converse() (Outcome, error) {
	if !c.opts.SkipGreeting {
		var err error
		if c.opts.DynamicGreeting {
			err = c.dynamicGreeting()
		} else {
			err = c.say(c.opts.Prompts.Greeting)
		}
		if err != nil {
			return "", err
		}
	}

	if c.opts.InitialContext != "" && c.active() {
		c.background.Add(1)
		go c.prime()
	}

	if !c.active() {
		return OutcomeHangup, nil
	}

	if err := c.startAudioFork(); err != nil {
		if !c.active() {
			return OutcomeHangup, nil
		}
		logger.Base().Warn("audio fork setup failed, ending call",
			zap.String("call_id", c.callID), zap.Error(err))
		return OutcomeNoAudio, nil
	}
	c.enableDTMF()

	return c.loop()
}

func (c *Conversation) loop() (Outcome, error) {
	for c.turns < c.opts.MaxTurns && c.active() {
		c.turns++
		done, outcome, err := c.turn()
		if err != nil {
			return "", err
		}
		if done {
			return outcome, nil
		}
	}

	if !c.active() {
		return OutcomeHangup, nil
	}
	logger.Base().Info("max turns reached", zap.String("call_id", c.callID), zap.Int("max_turns", c.opts.MaxTurns))
	if err := c.say(maxTurnsPrompt); err != nil {
		return "", err
	}
	return OutcomeMaxTurns, nil
}

// turn runs one exchange. done reports whether the conversation is over.
func (c *Conversation) turn() (done bool, outcome Outcome, err error) {
	log := logger.Base().With(zap.String("call_id", c.callID), zap.Int("turn", c.turns))

	if err := c.play(c.opts.Prompts.ReadyCueURL); err != nil {
		log.Warn("ready cue failed", zap.Error(err))
	}

	c.session.SetCaptureEnabled(true)
	utterance, waitErr := c.session.WaitForUtterance(c.ctx, c.opts.UtteranceTimeout)
	c.session.SetCaptureEnabled(false)

	if !c.active() {
		return true, OutcomeHangup, nil
	}
	if errors.Is(waitErr, ErrCaptureClosed) {
		log.Warn("audio fork closed mid-call, ending call")
		return true, OutcomeNoAudio, nil
	}
	if waitErr != nil || utterance == nil {
		log.Info("no utterance before timeout", zap.Error(waitErr))
		return false, "", c.say(stillTherePrompt)
	}

	if err := c.play(c.opts.Prompts.GotItCueURL); err != nil {
		log.Warn("got-it cue failed", zap.Error(err))
	}

	transcript, err := c.opts.Transcriber.Transcribe(c.ctx, utterance.Audio)
	if !c.active() {
		return true, OutcomeHangup, nil
	}
	if err != nil {
		return false, "", fmt.Errorf("transcription failed: %w", err)
	}
	transcript = strings.TrimSpace(transcript)
	if len([]rune(transcript)) < minTranscriptSize {
		log.Info("empty transcript")
		return false, "", c.say(clarifyPrompt)
	}
	log.Debug("caller said", zap.String("transcript", transcript))

	if IsGoodbye(transcript) {
		log.Info("goodbye detected")
		return true, OutcomeGoodbye, c.say(farewellPrompt)
	}

	if err := c.say(ThinkingPhrase()); err != nil {
		return false, "", err
	}
	if !c.active() {
		return true, OutcomeHangup, nil
	}

	resp, err := c.ask(transcript)
	if err != nil {
		if bridge.IsCanceled(err) {
			log.Info("query aborted (caller hangup)")
			return true, OutcomeHangup, nil
		}
		return false, "", err
	}
	if !c.active() {
		return true, OutcomeHangup, nil
	}

	if resp.IsError {
		log.Error("agent unavailable", zap.String("message", resp.Text))
		c.playUnavailable()
		return true, OutcomeUnavailable, nil
	}

	line := ExtractVoiceLine(resp.Text)
	if line == "" {
		log.Warn("agent reply had nothing to speak, skipping playback")
		return false, "", nil
	}
	return false, "", c.say(line)
}

// ask queries the agent with hold music running. Each query gets its own
// cancel scope derived from the call, so a hangup aborts it.
func (c *Conversation) ask(prompt string) (bridge.Response, error) {
	queryCtx, cancel := context.WithCancel(c.ctx)
	defer cancel()

	hold := startHoldMusic(c.ctx, c.endpoint, c.opts.Prompts.HoldMusicURL, c.callID)
	resp, err := c.opts.Bridge.Query(queryCtx, prompt, c.queryOptions())
	hold.Stop()
	return resp, err
}

func (c *Conversation) queryOptions() bridge.QueryOptions {
	opts := bridge.QueryOptions{
		CallID:  c.callID,
		PeerID:  c.opts.PeerID,
		Timeout: c.opts.QueryTimeout,
	}
	if c.opts.Device != nil {
		opts.AccountID = c.opts.Device.AccountID
		opts.DevicePrompt = c.opts.Device.Prompt
	}
	return opts
}

func (c *Conversation) dynamicGreeting() error {
	greeting := c.opts.Prompts.Greeting

	resp, err := c.ask(greetingQuery)
	if !c.active() || bridge.IsCanceled(err) {
		return errHangup
	}
	switch {
	case err != nil:
		logger.Base().Warn("greeting query failed, using fallback", zap.String("call_id", c.callID), zap.Error(err))
	case resp.IsError || strings.TrimSpace(resp.Text) == "":
		logger.Base().Warn("greeting unavailable, using fallback", zap.String("call_id", c.callID))
	default:
		if line := ExtractVoiceLine(resp.Text); line != "" {
			greeting = line
		}
	}
	return c.say(greeting)
}

func (c *Conversation) prime() {
	defer c.background.Done()
	resp, err := c.opts.Bridge.Query(c.ctx, primeQuery(c.opts.InitialContext), c.queryOptions())
	switch {
	case bridge.IsCanceled(err):
		logger.Base().Debug("priming query aborted", zap.String("call_id", c.callID))
	case err != nil:
		logger.Base().Warn("priming query failed", zap.String("call_id", c.callID), zap.Error(err))
	case resp.IsError:
		logger.Base().Warn("priming query returned error", zap.String("call_id", c.callID))
	default:
		logger.Base().Debug("agent primed with outbound context", zap.String("call_id", c.callID))
	}
}

func (c *Conversation) startAudioFork() error {
	results, err := c.opts.ForkServer.ExpectSession(c.callID, c.opts.ForkTimeout)
	if err != nil {
		return fmt.Errorf("expect capture session: %w", err)
	}

	forkURL := strings.TrimRight(c.opts.ForkURLBase, "/") + "/" + url.PathEscape(c.callID)
	if err := c.endpoint.ForkAudioStart(c.ctx, ForkOptions{URL: forkURL, MixType: defaultMixType, Sampling: defaultSampling}); err != nil {
		return fmt.Errorf("start audio fork: %w", err)
	}
	c.forkRunning = true

	timer := time.NewTimer(c.opts.ForkTimeout)
	defer timer.Stop()
	select {
	case res := <-results:
		if res.Err != nil {
			return fmt.Errorf("capture session: %w", res.Err)
		}
		if res.Session == nil {
			return errors.New("capture session: none delivered")
		}
		c.session = res.Session
		logger.Base().Info("audio fork connected", zap.String("call_id", c.callID))
		return nil
	case <-timer.C:
		return fmt.Errorf("capture session: timed out after %s", c.opts.ForkTimeout)
	case <-c.ctx.Done():
		return errHangup
	}
}

func (c *Conversation) enableDTMF() {
	if err := c.endpoint.EnableDTMF(c.ctx); err != nil {
		logger.Base().Warn("DTMF detection unavailable", zap.String("call_id", c.callID), zap.Error(err))
		return
	}
	session := c.session
	c.removeDTMF = c.endpoint.OnDTMF(func(digit string) {
		if digit == "#" && session != nil {
			logger.Base().Debug("DTMF # pressed, finalizing utterance", zap.String("call_id", c.callID))
			session.ForceFinalize()
		}
	})
}

// say synthesizes and plays text. After a hangup it is a no-op.
func (c *Conversation) say(text string) error {
	if !c.active() || text == "" {
		return nil
	}
	voiceID := ""
	if c.opts.Device != nil {
		voiceID = c.opts.Device.VoiceID
	}
	audioURL, err := c.opts.Synthesizer.Synthesize(c.ctx, text, voiceID)
	if err != nil {
		if !c.active() {
			return nil
		}
		return fmt.Errorf("synthesize speech: %w", err)
	}
	return c.play(audioURL)
}

func (c *Conversation) play(audioURL string) error {
	if audioURL == "" || !c.active() {
		return nil
	}
	if err := c.endpoint.Play(c.ctx, audioURL); err != nil {
		if !c.active() {
			return nil
		}
		return err
	}
	return nil
}

func (c *Conversation) playUnavailable() {
	var err error
	if c.opts.Prompts.UnavailableAudioURL != "" {
		err = c.play(c.opts.Prompts.UnavailableAudioURL)
	} else {
		err = c.say(c.opts.Prompts.UnavailableMessage)
	}
	if err != nil {
		logger.Base().Warn("unavailable notice failed", zap.String("call_id", c.callID), zap.Error(err))
	}
}

func (c *Conversation) apologize() {
	if c.session != nil {
		c.session.SetCaptureEnabled(false)
	}
	if err := c.say(apologyPrompt); err != nil {
		logger.Base().Debug("apology failed", zap.String("call_id", c.callID), zap.Error(err))
	}
}

func (c *Conversation) cleanup() {
	c.cleanupOnce.Do(func() {
		log := logger.Base().With(zap.String("call_id", c.callID))
		log.Debug("conversation cleanup")

		c.cancel()
		c.waitBackground(log)

		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()

		c.cleanupStep(log, "disable capture", func() error {
			if c.session != nil {
				c.session.SetCaptureEnabled(false)
			}
			return nil
		})
		c.cleanupStep(log, "remove hangup observer", func() error {
			if c.removeDestroy != nil {
				c.removeDestroy()
			}
			return nil
		})
		c.cleanupStep(log, "remove DTMF observer", func() error {
			if c.removeDTMF != nil {
				c.removeDTMF()
			}
			return nil
		})
		c.cleanupStep(log, "cancel capture expectation", func() error {
			c.opts.ForkServer.CancelExpectation(c.callID)
			return nil
		})
		c.cleanupStep(log, "end agent session", func() error {
			c.opts.Bridge.EndSession(ctx, c.callID)
			return nil
		})
		c.cleanupStep(log, "stop audio fork", func() error {
			if !c.forkRunning {
				return nil
			}
			return c.endpoint.ForkAudioStop(ctx)
		})
	})
}

func (c *Conversation) cleanupStep(log *zap.Logger, name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn("cleanup step panicked", zap.String("step", name), zap.Any("panic", r))
		}
	}()
	if err := fn(); err != nil {
		log.Warn("cleanup step failed", zap.String("step", name), zap.Error(err))
	}
}

func (c *Conversation) waitBackground(log *zap.Logger) {
	done := make(chan struct{})
	go func() {
		c.background.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(backgroundWait):
		log.Warn("background query still running at cleanup")
	}
}

func (c *Conversation) deviceName() string {
	if c.opts.Device == nil {
		return ""
	}
	return c.opts.Device.Name
}
