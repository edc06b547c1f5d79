// Package audiofork receives the per-call audio streams the media server
// forks over websocket and cuts them into caller utterances.
package audiofork

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"

	"github.com/ClareAI/astra-sip-bridge/internal/config"
	"github.com/ClareAI/astra-sip-bridge/internal/services/call"
	"github.com/ClareAI/astra-sip-bridge/pkg/logger"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	ErrAlreadyExpected = errors.New("audio fork already expected")
	ErrExpectTimeout   = errors.New("audio fork did not connect in time")
)

// Config tunes utterance endpointing. Audio is 16-bit mono PCM.
type Config struct {
	SampleRate int
	// SpeechThreshold is the RMS level above which a frame counts as speech.
	SpeechThreshold float64
	// SilenceDuration of quiet audio after speech ends the utterance.
	SilenceDuration time.Duration
	MaxUtterance    time.Duration
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.SpeechThreshold <= 0 {
		c.SpeechThreshold = 500
	}
	if c.SilenceDuration <= 0 {
		c.SilenceDuration = 800 * time.Millisecond
	}
	if c.MaxUtterance <= 0 {
		c.MaxUtterance = 30 * time.Second
	}
	return c
}

// ConfigFromVoice maps the voice app settings onto Config.
func ConfigFromVoice(cfg *config.VoiceConfig) Config {
	return Config{
		SpeechThreshold: cfg.SpeechThreshold,
		SilenceDuration: cfg.SilenceDuration,
		MaxUtterance:    cfg.UtteranceTimeout,
	}
}

type expectation struct {
	results chan call.SessionResult
	timer   *time.Timer
}

// Server accepts fork connections at /<callID>. A connection is only
// accepted for a call that announced it with ExpectSession.
type Server struct {
	cfg      Config
	upgrader websocket.Upgrader

	mu       sync.Mutex
	pending  map[string]*expectation
	sessions map[string]*session
}

var _ call.AudioForkServer = (*Server)(nil)

func NewServer(cfg Config) *Server {
	return &Server{
		cfg: cfg.withDefaults(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		pending:  make(map[string]*expectation),
		sessions: make(map[string]*session),
	}
}

// ExpectSession registers a call whose fork is about to connect. The
// returned channel receives exactly one result.
func (s *Server) ExpectSession(callID string, timeout time.Duration) (<-chan call.SessionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pending[callID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExpected, callID)
	}
	exp := &expectation{results: make(chan call.SessionResult, 1)}
	exp.timer = time.AfterFunc(timeout, func() { s.expire(callID, exp) })
	s.pending[callID] = exp
	return exp.results, nil
}

func (s *Server) expire(callID string, exp *expectation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending[callID] != exp {
		return
	}
	delete(s.pending, callID)
	exp.results <- call.SessionResult{Err: ErrExpectTimeout}
}

// CancelExpectation forgets the call and closes its live session, if any.
func (s *Server) CancelExpectation(callID string) {
	s.mu.Lock()
	if exp, ok := s.pending[callID]; ok {
		exp.timer.Stop()
		delete(s.pending, callID)
	}
	sess := s.sessions[callID]
	delete(s.sessions, callID)
	s.mu.Unlock()

	if sess != nil {
		sess.Close()
	}
}

// SessionCount is the number of connected forks.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func callIDFromPath(u *url.URL) (string, error) {
	return url.PathUnescape(path.Base(u.EscapedPath()))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	callID, err := callIDFromPath(r.URL)
	if err != nil || callID == "" || callID == "/" {
		http.Error(w, "bad call id", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	exp, ok := s.pending[callID]
	if ok {
		exp.timer.Stop()
		delete(s.pending, callID)
	}
	s.mu.Unlock()

	log := logger.Base().With(zap.String("call_id", callID))
	if !ok {
		log.Warn("audio fork for unknown call rejected")
		http.Error(w, "no call expecting audio", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("audio fork upgrade failed", zap.Error(err))
		exp.results <- call.SessionResult{Err: fmt.Errorf("websocket upgrade failed: %w", err)}
		return
	}

	sess := newSession(callID, conn, s.cfg)
	s.mu.Lock()
	s.sessions[callID] = sess
	s.mu.Unlock()

	log.Info("audio fork connected", zap.String("remote_addr", r.RemoteAddr))
	exp.results <- call.SessionResult{Session: sess}

	sess.readLoop()

	s.mu.Lock()
	if s.sessions[callID] == sess {
		delete(s.sessions, callID)
	}
	s.mu.Unlock()
	log.Info("audio fork disconnected")
}
